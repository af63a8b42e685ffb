package trust

import (
	"testing"
	"time"

	"twocheck/config"
	"twocheck/core/events"
)

type mockState struct {
	scores map[string]*Score
}

func newMockState() *mockState {
	return &mockState{scores: make(map[string]*Score)}
}

func (m *mockState) TrustPut(s *Score) error {
	m.scores[s.Participant] = s.Clone()
	return nil
}

func (m *mockState) TrustGet(participant string) (*Score, bool) {
	s, ok := m.scores[participant]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

func (m *mockState) TrustList() []*Score {
	out := make([]*Score, 0, len(m.scores))
	for _, s := range m.scores {
		out = append(out, s.Clone())
	}
	return out
}

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) { c.events = append(c.events, evt) }

func (c *captureEmitter) byType(eventType string) []events.Event {
	var out []events.Event
	for _, evt := range c.events {
		if evt.EventType() == eventType {
			out = append(out, evt)
		}
	}
	return out
}

func newTestEngine(t *testing.T) (*Engine, *mockState, *captureEmitter) {
	t.Helper()
	engine := NewEngine(config.DefaultPolicy().Trust)
	state := newMockState()
	emitter := &captureEmitter{}
	engine.SetState(state)
	engine.SetEmitter(emitter)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	engine.SetNowFunc(func() time.Time { return base })
	return engine, state, emitter
}

func TestGetLazilyInitialises(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	score, err := engine.Get("acme")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if score.Score != 100 {
		t.Fatalf("expected initial score 100, got %v", score.Score)
	}
	if score.Level.Name != "standard" {
		t.Fatalf("expected standard level, got %s", score.Level.Name)
	}
	if _, ok := state.scores["acme"]; !ok {
		t.Fatal("score not persisted on lazy init")
	}
}

func TestUpdateScoreClampsToRange(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	for i := 0; i < 100; i++ {
		if _, err := engine.UpdateScore(UpdateRequest{Participant: "acme", Action: ActionFalseClaim}); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	score, err := engine.Get("acme")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if score.Score != 0 {
		t.Fatalf("expected floor 0 after repeated penalties, got %v", score.Score)
	}
	for i := 0; i < 500; i++ {
		if _, err := engine.UpdateScore(UpdateRequest{Participant: "acme", Action: ActionTransferValidated}); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	score, err = engine.Get("acme")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if score.Score > 200 {
		t.Fatalf("score exceeded ceiling: %v", score.Score)
	}
}

func TestUpdateScoreAppliesValueMultiplier(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	score, err := engine.UpdateScore(UpdateRequest{Participant: "acme", Action: ActionTransferValidated, Value: 5_000})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	// 5 base points * 1.25 mid tier.
	if got := score.Score; got != 106.25 {
		t.Fatalf("expected 106.25, got %v", got)
	}
}

func TestLevelChangeEmitsEvent(t *testing.T) {
	engine, _, emitter := newTestEngine(t)
	for i := 0; i < 4; i++ {
		if _, err := engine.UpdateScore(UpdateRequest{Participant: "acme", Action: ActionTransferValidated}); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	changed := emitter.byType(events.TypeTrustLevelChanged)
	if len(changed) != 1 {
		t.Fatalf("expected exactly one level change event, got %d", len(changed))
	}
	evt := changed[0].(events.TrustLevelChanged)
	if evt.From != "standard" || evt.To != "trusted" {
		t.Fatalf("unexpected level change %s -> %s", evt.From, evt.To)
	}
}

func TestFractionalScoreStaysInBandBelow(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	for i := 0; i < 5; i++ {
		if _, err := engine.UpdateScore(UpdateRequest{Participant: "acme", Action: ActionTransferTimeout}); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	// 100 - 5*10 = 50, then the fractional escalation penalty lands in the
	// gap between the restricted ceiling (49) and the standard floor (50).
	score, err := engine.UpdateScore(UpdateRequest{Participant: "acme", Action: ActionEscalationTriggered})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if score.Score != 49.95 {
		t.Fatalf("expected 49.95, got %v", score.Score)
	}
	if score.Level.Name != "restricted" {
		t.Fatalf("expected restricted level for %v, got %s", score.Score, score.Level.Name)
	}
	if score.Level.Grants(CapabilityAutoApproval) {
		t.Fatal("restricted level must not grant auto approval")
	}
}

func TestCanPerformActionGatesByLevel(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ok, err := engine.CanPerformAction("acme", CapabilityAutoApproval)
	if err != nil {
		t.Fatalf("can perform: %v", err)
	}
	if ok {
		t.Fatal("standard level must not grant auto approval")
	}
	for i := 0; i < 20; i++ {
		if _, err := engine.UpdateScore(UpdateRequest{Participant: "acme", Action: ActionTransferValidated}); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	ok, err = engine.CanPerformAction("acme", CapabilityAutoApproval)
	if err != nil {
		t.Fatalf("can perform: %v", err)
	}
	if !ok {
		t.Fatal("premium level must grant auto approval")
	}
	if _, err := engine.CanPerformAction("acme", Capability("teleport")); err != ErrUnknownBenefit {
		t.Fatalf("expected ErrUnknownBenefit, got %v", err)
	}
}

func TestDecayFlooredAtMinimum(t *testing.T) {
	engine, _, emitter := newTestEngine(t)
	if _, err := engine.Get("dormant"); err != nil {
		t.Fatalf("get: %v", err)
	}
	later := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	engine.SetNowFunc(func() time.Time { return later })
	for i := 0; i < 200; i++ {
		if err := engine.DecayOnce(); err != nil {
			t.Fatalf("decay: %v", err)
		}
	}
	score, err := engine.Get("dormant")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if score.Score != 25 {
		t.Fatalf("expected decay floor 25, got %v", score.Score)
	}
	if len(emitter.byType(events.TypeTrustDecayed)) == 0 {
		t.Fatal("expected decay events")
	}
}

func TestDecaySkipsActiveParticipants(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	if _, err := engine.Get("active"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := engine.DecayOnce(); err != nil {
		t.Fatalf("decay: %v", err)
	}
	score, err := engine.Get("active")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if score.Score != 100 {
		t.Fatalf("active participant must not decay, got %v", score.Score)
	}
}

func TestVolumeRecoveryBonus(t *testing.T) {
	policy := config.DefaultPolicy().Trust
	policy.Recovery.VolumeThreshold = 3
	policy.Recovery.VolumeBonus = 7
	engine := NewEngine(policy)
	engine.SetState(newMockState())
	engine.SetNowFunc(func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) })

	var last *Score
	var err error
	for i := 0; i < 3; i++ {
		last, err = engine.UpdateScore(UpdateRequest{Participant: "acme", Action: ActionTransferValidated})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	// 3 * 5 points plus the volume bonus on the third validation.
	if last.Score != 122 {
		t.Fatalf("expected 122 after volume bonus, got %v", last.Score)
	}
	if last.Stats.RecoveryGranted != 1 {
		t.Fatalf("expected one recovery grant, got %d", last.Stats.RecoveryGranted)
	}
}

func TestLeaderboardOrdersByScore(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	if _, err := engine.UpdateScore(UpdateRequest{Participant: "alpha", Action: ActionTransferValidated}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := engine.UpdateScore(UpdateRequest{Participant: "beta", Action: ActionFalseClaim}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := engine.Get("gamma"); err != nil {
		t.Fatalf("get: %v", err)
	}
	board, err := engine.Leaderboard(2)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(board) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(board))
	}
	if board[0].Participant != "alpha" || board[1].Participant != "gamma" {
		t.Fatalf("unexpected order: %s, %s", board[0].Participant, board[1].Participant)
	}
}
