package trust

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"twocheck/config"
	"twocheck/core/events"
)

var (
	errNilState         = errors.New("trust engine: state not configured")
	ErrUnknownAction    = errors.New("trust engine: unknown action")
	ErrUnknownBenefit   = errors.New("trust engine: unknown capability")
	errParticipantBlank = errors.New("trust engine: participant required")
)

type engineState interface {
	TrustPut(*Score) error
	TrustGet(participant string) (*Score, bool)
	TrustList() []*Score
}

// UpdateRequest describes one scoring event. Scale optionally attenuates the
// base points (e.g. the receiver's share of a security alert); zero means 1.
type UpdateRequest struct {
	Participant   string
	Action        Action
	Value         int64
	TransactionID string
	Scale         float64
}

// Engine maintains one bounded reputation score per participant.
type Engine struct {
	mu      sync.Mutex
	state   engineState
	emitter events.Emitter
	policy  config.TrustPolicy
	nowFn   func() time.Time
}

// NewEngine creates a trust engine with a no-op emitter.
func NewEngine(policy config.TrustPolicy) *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		policy:  policy,
		nowFn:   time.Now,
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source, primarily used in tests.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		e.nowFn = time.Now
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() time.Time {
	if e == nil || e.nowFn == nil {
		return time.Now()
	}
	return e.nowFn()
}

// Get returns the participant's score, lazily initialising it at the
// configured initial score on first reference.
func (e *Engine) Get(participant string) (*Score, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	score, err := e.loadOrInit(participant)
	if err != nil {
		return nil, err
	}
	return score.Clone(), nil
}

// ScoreOf returns the participant's stored score without creating one,
// reporting false for unknown participants.
func (e *Engine) ScoreOf(participant string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return 0, false
	}
	score, ok := e.state.TrustGet(strings.TrimSpace(participant))
	if !ok {
		return 0, false
	}
	return score.Score, true
}

func (e *Engine) loadOrInit(participant string) (*Score, error) {
	if e.state == nil {
		return nil, errNilState
	}
	trimmed := strings.TrimSpace(participant)
	if trimmed == "" {
		return nil, errParticipantBlank
	}
	if existing, ok := e.state.TrustGet(trimmed); ok {
		return existing, nil
	}
	score := &Score{
		Participant: trimmed,
		Score:       e.policy.InitialScore,
		Level:       e.levelFor(e.policy.InitialScore),
		UpdatedAt:   e.now(),
	}
	score.Stats.LastActivity = score.UpdatedAt
	if err := e.state.TrustPut(score); err != nil {
		return nil, err
	}
	return score, nil
}

func (e *Engine) basePoints(action Action) (float64, error) {
	p := e.policy.Points
	switch action {
	case ActionTransferValidated:
		return p.TransferValidated, nil
	case ActionTransferTimeout:
		return p.TransferTimeout, nil
	case ActionConfirmationOnTime:
		return p.ConfirmationOnTime, nil
	case ActionDisputeWon:
		return p.DisputeWon, nil
	case ActionDisputeLost:
		return p.DisputeLost, nil
	case ActionFalseClaim:
		return p.FalseClaim, nil
	case ActionEvidenceRejected:
		return p.EvidenceRejected, nil
	case ActionEscalationTriggered:
		return p.EscalationTriggered, nil
	case ActionSecurityAlert:
		return p.SecurityAlert, nil
	}
	return 0, ErrUnknownAction
}

func (e *Engine) multiplierFor(value int64) float64 {
	if value <= 0 {
		return 1
	}
	for _, tier := range e.policy.ValueTiers {
		if value >= tier.MinValue && (tier.MaxValue == 0 || value < tier.MaxValue) {
			return tier.Multiplier
		}
	}
	return 1
}

// levelFor resolves a score to the highest level whose floor it has reached.
// Integer bands leave fractional gaps (49.95 sits between 49 and 50), so
// matching on the floor alone keeps such scores in the band below.
func (e *Engine) levelFor(score float64) Level {
	pick := e.policy.Levels[0]
	for _, lvl := range e.policy.Levels {
		if score >= lvl.MinScore && lvl.MinScore >= pick.MinScore {
			pick = lvl
		}
	}
	return Level{
		Name:     pick.Name,
		MinScore: pick.MinScore,
		MaxScore: pick.MaxScore,
		Benefits: append([]string(nil), pick.Benefits...),
	}
}

func (e *Engine) clamp(score float64) float64 {
	if score < e.policy.MinScore {
		return e.policy.MinScore
	}
	if score > e.policy.MaxScore {
		return e.policy.MaxScore
	}
	return score
}

// UpdateScore applies a scoring rule. The score is clamped into the configured
// range, the level recomputed, and a history entry appended. A level-change
// event is emitted when the band moves.
func (e *Engine) UpdateScore(req UpdateRequest) (*Score, error) {
	if !req.Action.Valid() {
		return nil, ErrUnknownAction
	}
	base, err := e.basePoints(req.Action)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	score, err := e.loadOrInit(req.Participant)
	if err != nil {
		return nil, err
	}
	scale := req.Scale
	if scale == 0 {
		scale = 1
	}
	delta := base * scale * e.multiplierFor(req.Value)
	now := e.now()
	prevLevel := score.Level.Name

	score.Score = e.clamp(score.Score + delta)
	score.Level = e.levelFor(score.Score)
	score.UpdatedAt = now
	score.History = append(score.History, HistoryEntry{
		Action:        req.Action.String(),
		Delta:         delta,
		Score:         score.Score,
		TransactionID: req.TransactionID,
		At:            now,
	})
	e.applyStats(score, req.Action, now)
	e.applyRecovery(score, now)

	if err := e.state.TrustPut(score); err != nil {
		return nil, err
	}
	e.emit(events.TrustUpdated{
		Participant:   score.Participant,
		Action:        req.Action.String(),
		Delta:         delta,
		Score:         score.Score,
		Level:         score.Level.Name,
		TransactionID: req.TransactionID,
	})
	if score.Level.Name != prevLevel {
		e.emit(events.TrustLevelChanged{
			Participant: score.Participant,
			From:        prevLevel,
			To:          score.Level.Name,
			Score:       score.Score,
		})
	}
	return score.Clone(), nil
}

func (e *Engine) applyStats(score *Score, action Action, now time.Time) {
	score.Stats.LastActivity = now
	switch action {
	case ActionTransferValidated:
		score.Stats.Transactions++
		score.Stats.Validated++
	case ActionTransferTimeout:
		score.Stats.Transactions++
		score.Stats.LastNegative = now
	case ActionDisputeWon:
		score.Stats.DisputesWon++
	case ActionDisputeLost, ActionFalseClaim:
		score.Stats.DisputesLost++
		score.Stats.LastNegative = now
	case ActionEvidenceRejected, ActionEscalationTriggered, ActionSecurityAlert:
		score.Stats.LastNegative = now
	case ActionConfirmationOnTime:
	}
}

// applyRecovery grants bonus points after a clean-record period or when the
// successful-transaction volume crosses the configured threshold.
func (e *Engine) applyRecovery(score *Score, now time.Time) {
	rec := e.policy.Recovery
	if rec.CleanRecordBonus > 0 && rec.CleanRecordAfter > 0 {
		if !score.Stats.LastNegative.IsZero() && now.Sub(score.Stats.LastNegative) >= rec.CleanRecordAfter.Std() {
			score.Score = e.clamp(score.Score + rec.CleanRecordBonus)
			// Restart the clean-record clock so the bonus is granted once
			// per completed period.
			score.Stats.LastNegative = now
			score.Stats.RecoveryGranted++
			score.History = append(score.History, HistoryEntry{
				Action: "recovery_clean_record",
				Delta:  rec.CleanRecordBonus,
				Score:  score.Score,
				At:     now,
			})
		}
	}
	if rec.VolumeBonus > 0 && rec.VolumeThreshold > 0 {
		if score.Stats.Validated > 0 && score.Stats.Validated%rec.VolumeThreshold == 0 {
			score.Score = e.clamp(score.Score + rec.VolumeBonus)
			score.Stats.RecoveryGranted++
			score.History = append(score.History, HistoryEntry{
				Action: "recovery_volume",
				Delta:  rec.VolumeBonus,
				Score:  score.Score,
				At:     now,
			})
		}
	}
	score.Level = e.levelFor(score.Score)
}

// CanPerformAction reports whether the participant's current level grants the
// capability. Trust gates automation elsewhere in the system through this
// check.
func (e *Engine) CanPerformAction(participant string, cap Capability) (bool, error) {
	switch cap {
	case CapabilityBatchOperations, CapabilityAutoApproval, CapabilityExtendedTimeout, CapabilityAPIAccess:
	default:
		return false, ErrUnknownBenefit
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	score, err := e.loadOrInit(participant)
	if err != nil {
		return false, err
	}
	return score.Level.Grants(cap), nil
}

// Leaderboard returns the top n participants by score.
func (e *Engine) Leaderboard(n int) ([]*Score, error) {
	if e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	scores := e.state.TrustList()
	e.mu.Unlock()
	cloned := make([]*Score, 0, len(scores))
	for _, s := range scores {
		cloned = append(cloned, s.Clone())
	}
	sort.Slice(cloned, func(i, j int) bool {
		if cloned[i].Score == cloned[j].Score {
			return cloned[i].Participant < cloned[j].Participant
		}
		return cloned[i].Score > cloned[j].Score
	})
	if n > 0 && n < len(cloned) {
		cloned = cloned[:n]
	}
	return cloned, nil
}
