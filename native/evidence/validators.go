package evidence

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Result is a validator verdict. IsValid is derived as Confidence > 0.5.
type Result struct {
	Confidence float64
	Issues     []string
}

// IsValid reports whether the confidence clears the validity bar.
func (r Result) IsValid() bool { return r.Confidence > 0.5 }

type validator func(data map[string]any, now time.Time) Result

var carrierPatterns = map[string]*regexp.Regexp{
	"ups":   regexp.MustCompile(`^1Z[0-9A-Z]{16}$`),
	"fedex": regexp.MustCompile(`^\d{12,15}$`),
	"dhl":   regexp.MustCompile(`^\d{10}$`),
	"usps":  regexp.MustCompile(`^(94|93|92|95)\d{20}$`),
}

func validatorFor(kind Kind) validator {
	switch kind {
	case KindDocument:
		return validateDocument
	case KindPhoto:
		return validatePhoto
	case KindGPS:
		return validateGPS
	case KindTimestamp:
		return validateTimestamp
	case KindWitness:
		return validateWitness
	case KindSignature:
		return validateSignature
	case KindTracking:
		return validateTracking
	default:
		return func(map[string]any, time.Time) Result {
			return Result{Issues: []string{"no validator for kind"}}
		}
	}
}

// runValidator executes the kind's validator, converting a panic into a
// zero-confidence invalid result instead of propagating.
func runValidator(kind Kind, data map[string]any, now time.Time) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Result{Issues: []string{fmt.Sprintf("validator failure: %v", r)}}
		}
	}()
	return validatorFor(kind)(data, now)
}

func stringField(data map[string]any, key string) (string, bool) {
	raw, ok := data[key]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return strings.TrimSpace(s), true
}

func floatField(data map[string]any, key string) (float64, bool) {
	raw, ok := data[key]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func timeField(data map[string]any, key string) (time.Time, bool) {
	raw, ok := stringField(data, key)
	if !ok {
		return time.Time{}, false
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

// validateDocument checks a shipping document: required fields present, the
// tracking number matches the carrier's pattern, and the ship date is not in
// the future.
func validateDocument(data map[string]any, now time.Time) Result {
	confidence := 1.0
	var issues []string

	tracking, hasTracking := stringField(data, "trackingNumber")
	if !hasTracking {
		confidence -= 0.4
		issues = append(issues, "missing trackingNumber")
	}
	carrier, hasCarrier := stringField(data, "carrier")
	if !hasCarrier {
		confidence -= 0.2
		issues = append(issues, "missing carrier")
	}
	if hasTracking && hasCarrier {
		pattern, known := carrierPatterns[strings.ToLower(carrier)]
		if !known {
			confidence -= 0.1
			issues = append(issues, "unknown carrier")
		} else if !pattern.MatchString(tracking) {
			confidence -= 0.4
			issues = append(issues, "tracking number does not match carrier format")
		}
	}
	if shipDate, ok := timeField(data, "shipDate"); !ok {
		confidence -= 0.2
		issues = append(issues, "missing or unparseable shipDate")
	} else if shipDate.After(now) {
		confidence -= 0.5
		issues = append(issues, "shipDate in the future")
	}
	if _, ok := stringField(data, "origin"); !ok {
		confidence -= 0.1
		issues = append(issues, "missing origin")
	}
	return Result{Confidence: clamp01(confidence), Issues: issues}
}

func validatePhoto(data map[string]any, now time.Time) Result {
	confidence := 1.0
	var issues []string

	if _, ok := stringField(data, "imageHash"); !ok {
		confidence -= 0.4
		issues = append(issues, "missing imageHash")
	}
	if taken, ok := timeField(data, "takenAt"); !ok {
		confidence -= 0.3
		issues = append(issues, "missing or unparseable takenAt")
	} else if taken.After(now) {
		confidence -= 0.5
		issues = append(issues, "takenAt in the future")
	}
	if width, ok := floatField(data, "width"); !ok || width < 640 {
		confidence -= 0.2
		issues = append(issues, "resolution below minimum")
	}
	return Result{Confidence: clamp01(confidence), Issues: issues}
}

// validateGPS checks coordinate ranges, timestamp freshness, reported accuracy
// and, when a reference point is supplied, route plausibility.
func validateGPS(data map[string]any, now time.Time) Result {
	confidence := 1.0
	var issues []string

	lat, hasLat := floatField(data, "latitude")
	lon, hasLon := floatField(data, "longitude")
	if !hasLat || lat < -90 || lat > 90 {
		confidence -= 0.5
		issues = append(issues, "latitude out of range")
	}
	if !hasLon || lon < -180 || lon > 180 {
		confidence -= 0.5
		issues = append(issues, "longitude out of range")
	}
	if captured, ok := timeField(data, "capturedAt"); !ok {
		confidence -= 0.2
		issues = append(issues, "missing or unparseable capturedAt")
	} else if captured.After(now) {
		confidence -= 0.5
		issues = append(issues, "capturedAt in the future")
	}
	if accuracy, ok := floatField(data, "accuracyMeters"); !ok {
		confidence -= 0.1
		issues = append(issues, "missing accuracyMeters")
	} else if accuracy > 100 {
		confidence -= 0.3
		issues = append(issues, "accuracy above 100m threshold")
	}
	refLat, hasRefLat := floatField(data, "expectedLatitude")
	refLon, hasRefLon := floatField(data, "expectedLongitude")
	if hasLat && hasLon && hasRefLat && hasRefLon {
		// Coarse plausibility: within roughly 100km of the expected point.
		if degreeDistance(lat, lon, refLat, refLon) > 1.0 {
			confidence -= 0.3
			issues = append(issues, "position implausibly far from expected route")
		}
	}
	return Result{Confidence: clamp01(confidence), Issues: issues}
}

func validateTimestamp(data map[string]any, now time.Time) Result {
	confidence := 1.0
	var issues []string

	at, ok := timeField(data, "at")
	if !ok {
		return Result{Issues: []string{"missing or unparseable at"}}
	}
	if at.After(now) {
		confidence -= 0.6
		issues = append(issues, "timestamp in the future")
	}
	if now.Sub(at) > 30*24*time.Hour {
		confidence -= 0.3
		issues = append(issues, "timestamp older than 30 days")
	}
	if _, ok := stringField(data, "source"); !ok {
		confidence -= 0.2
		issues = append(issues, "missing source")
	}
	return Result{Confidence: clamp01(confidence), Issues: issues}
}

func validateWitness(data map[string]any, _ time.Time) Result {
	confidence := 1.0
	var issues []string

	if _, ok := stringField(data, "name"); !ok {
		confidence -= 0.4
		issues = append(issues, "missing witness name")
	}
	statement, ok := stringField(data, "statement")
	if !ok || len(statement) < 20 {
		confidence -= 0.4
		issues = append(issues, "statement missing or too short")
	}
	if _, ok := stringField(data, "contact"); !ok {
		confidence -= 0.2
		issues = append(issues, "missing contact")
	}
	return Result{Confidence: clamp01(confidence), Issues: issues}
}

func validateSignature(data map[string]any, _ time.Time) Result {
	confidence := 1.0
	var issues []string

	if _, ok := stringField(data, "signer"); !ok {
		confidence -= 0.4
		issues = append(issues, "missing signer")
	}
	sig, ok := stringField(data, "signature")
	if !ok {
		confidence -= 0.5
		issues = append(issues, "missing signature")
	} else if len(sig) < 64 || !isHex(sig) {
		confidence -= 0.4
		issues = append(issues, "signature not a plausible hex digest")
	}
	return Result{Confidence: clamp01(confidence), Issues: issues}
}

// validateTracking checks a bare tracking reference, the lightweight variant
// of the shipping document used for not-received disputes.
func validateTracking(data map[string]any, _ time.Time) Result {
	confidence := 1.0
	var issues []string

	tracking, hasTracking := stringField(data, "trackingNumber")
	if !hasTracking {
		return Result{Issues: []string{"missing trackingNumber"}}
	}
	carrier, hasCarrier := stringField(data, "carrier")
	if !hasCarrier {
		confidence -= 0.3
		issues = append(issues, "missing carrier")
	} else {
		pattern, known := carrierPatterns[strings.ToLower(carrier)]
		if !known {
			confidence -= 0.2
			issues = append(issues, "unknown carrier")
		} else if !pattern.MatchString(tracking) {
			confidence -= 0.5
			issues = append(issues, "tracking number does not match carrier format")
		}
	}
	return Result{Confidence: clamp01(confidence), Issues: issues}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return len(s)%2 == 0
}

func degreeDistance(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := lat1 - lat2
	dLon := lon1 - lon2
	if dLat < 0 {
		dLat = -dLat
	}
	if dLon < 0 {
		dLon = -dLon
	}
	if dLat > dLon {
		return dLat
	}
	return dLon
}
