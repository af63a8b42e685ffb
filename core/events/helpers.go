package events

import (
	"strconv"
	"time"
)

func intToString(v int64) string {
	return strconv.FormatInt(v, 10)
}

func floatToString(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func timeToString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
