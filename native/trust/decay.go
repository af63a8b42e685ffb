package trust

import (
	"context"
	"log/slog"
	"time"

	"twocheck/core/events"
)

// DecayOnce applies one decay pass: every participant inactive beyond the
// configured threshold loses a fraction of their score, floored at the
// configured minimum regardless of accumulated inactivity.
func (e *Engine) DecayOnce() error {
	if e.state == nil {
		return errNilState
	}
	decay := e.policy.Decay
	if decay.Factor <= 0 || decay.Factor >= 1 || decay.InactiveAfter <= 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	for _, score := range e.state.TrustList() {
		if now.Sub(score.Stats.LastActivity) < decay.InactiveAfter.Std() {
			continue
		}
		if score.Score <= decay.Floor {
			continue
		}
		before := score.Score
		decayed := score.Score * decay.Factor
		if decayed < decay.Floor {
			decayed = decay.Floor
		}
		score.Score = decayed
		score.Level = e.levelFor(score.Score)
		score.UpdatedAt = now
		score.History = append(score.History, HistoryEntry{
			Action: "decay",
			Delta:  decayed - before,
			Score:  decayed,
			At:     now,
		})
		if err := e.state.TrustPut(score); err != nil {
			return err
		}
		e.emit(events.TrustDecayed{Participant: score.Participant, Before: before, After: decayed})
	}
	return nil
}

// RunDecay drives decay passes on the configured interval until the context is
// cancelled. Pass failures are logged and never stop the loop.
func (e *Engine) RunDecay(ctx context.Context, logger *slog.Logger) {
	interval := e.policy.Decay.Interval.Std()
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.DecayOnce(); err != nil && logger != nil {
				logger.Error("trust decay pass failed", "error", err)
			}
		}
	}
}
