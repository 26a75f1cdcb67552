package relationships

import (
	"encoding/json"
	"math"
	"reflect"
	"testing"

	"townlet.ai/internal/sim/tuning"
)

type tickClock uint64

func (c *tickClock) CurrentTick() uint64 { return uint64(*c) }

func newService(t *testing.T, mutate func(*tuning.Tuning)) (*Service, *tickClock) {
	t.Helper()
	cfg := tuning.Defaults()
	if mutate != nil {
		mutate(&cfg)
	}
	clk := new(tickClock)
	s, err := NewService(cfg, clk)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return s, clk
}

func TestServiceUpdatesBothSides(t *testing.T) {
	s, _ := newService(t, nil)
	s.UpdateRelationship("alice", "bob", Delta{Trust: 0.3}, EventChat)
	s.UpdateRelationship("alice", "alice", Delta{Trust: 0.3}, EventChat)

	for _, pair := range [][2]string{{"alice", "bob"}, {"bob", "alice"}} {
		e, ok := s.Tie(pair[0], pair[1])
		if !ok || e.Trust != 0.3 {
			t.Fatalf("%s->%s=%+v ok=%v", pair[0], pair[1], e, ok)
		}
	}
	if _, ok := s.Tie("alice", "alice"); ok {
		t.Fatalf("self edge created")
	}
	if got := s.UpdateCounts()[EventChat]; got != 1 {
		t.Fatalf("chat updates=%d want 1", got)
	}
}

func TestServiceRivalryAndAvoid(t *testing.T) {
	s, _ := newService(t, nil)
	for i := 0; i < 4; i++ {
		s.ApplyRivalryConflict("alice", "bob", 1.5)
	}
	if !s.ShouldAvoid("alice", "bob") || !s.ShouldAvoid("bob", "alice") {
		t.Fatalf("expected mutual avoidance, rivalry=%v", s.RivalryValue("alice", "bob"))
	}
	top := s.RivalryTop("alice", 1)
	if len(top) != 1 || top[0].OtherID != "bob" {
		t.Fatalf("top=%v", top)
	}
	if s.RivalryTop("nobody", 3) != nil {
		t.Fatalf("unknown agent should have no rivals")
	}
}

func TestServiceDecayDropsEmptyLedgers(t *testing.T) {
	s, _ := newService(t, func(c *tuning.Tuning) {
		c.Relationships.TrustDecay = 0.5
		c.Conflict.Rivalry.DecayPerTick = 1
	})
	s.UpdateRelationship("alice", "bob", Delta{Trust: 0.4}, EventGeneric)
	s.ApplyRivalryConflict("alice", "bob", 1)
	s.Decay()
	if len(s.Agents()) != 0 {
		t.Fatalf("agents=%v want none", s.Agents())
	}
	if len(s.RivalrySnapshot()) != 0 {
		t.Fatalf("rivalry=%v want none", s.RivalrySnapshot())
	}
	churn := s.ChurnPayload()
	if churn.Total != 4 || churn.Reasons["decay"] != 4 {
		t.Fatalf("churn=%+v", churn)
	}
}

func TestServiceRemoveAgent(t *testing.T) {
	s, _ := newService(t, nil)
	s.UpdateRelationship("alice", "bob", Delta{Trust: 0.4}, EventGeneric)
	s.UpdateRelationship("carol", "bob", Delta{Trust: 0.4}, EventGeneric)
	s.UpdateRelationship("carol", "alice", Delta{Trust: 0.4}, EventGeneric)
	s.ApplyRivalryConflict("alice", "bob", 1)

	s.RemoveAgent("bob")

	if _, ok := s.Tie("bob", "alice"); ok {
		t.Fatalf("bob ledger should be gone")
	}
	if _, ok := s.Tie("alice", "bob"); ok {
		t.Fatalf("edge to bob should be gone")
	}
	if _, ok := s.Tie("carol", "alice"); !ok {
		t.Fatalf("unrelated edge removed")
	}
	if s.RivalryValue("alice", "bob") != 0 {
		t.Fatalf("rivalry to bob should be gone")
	}
	if got := s.ChurnPayload().Reasons["removed"]; got != 3 {
		t.Fatalf("removed churn=%d want 3", got)
	}
}

func TestServiceSnapshotRoundTrip(t *testing.T) {
	s, _ := newService(t, nil)
	s.UpdateRelationship("alice", "bob", Delta{Trust: 0.4, Familiarity: 0.1}, EventGeneric)
	s.UpdateRelationship("alice", "carol", Delta{Rivalry: 0.3}, EventConflict)
	s.ApplyRivalryConflict("alice", "carol", 2)

	rel := s.RelationshipsSnapshot()
	riv := s.RivalrySnapshot()
	b, err := json.Marshal(rel)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]map[string]Edge
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	restored, _ := newService(t, nil)
	restored.LoadRelationshipSnapshot(decoded)
	restored.LoadRivalrySnapshot(riv)
	if !reflect.DeepEqual(restored.RelationshipsSnapshot(), rel) {
		t.Fatalf("relationships=%v want %v", restored.RelationshipsSnapshot(), rel)
	}
	if !reflect.DeepEqual(restored.RivalrySnapshot(), riv) {
		t.Fatalf("rivalry=%v want %v", restored.RivalrySnapshot(), riv)
	}
}

func TestServiceLoadPruneIsNotChurn(t *testing.T) {
	s, _ := newService(t, func(c *tuning.Tuning) { c.Conflict.Rivalry.MaxEdges = 1 })
	s.LoadRelationshipSnapshot(map[string]map[string]Edge{
		"alice": {"bob": {Trust: 0.5}, "carol": {Trust: 0.2}},
	})
	if got := s.ChurnPayload().Total; got != 0 {
		t.Fatalf("churn=%d want 0", got)
	}
	s.UpdateRelationship("alice", "dave", Delta{Trust: 0.9}, EventGeneric)
	if got := s.ChurnPayload().Reasons["capacity"]; got != 1 {
		t.Fatalf("capacity churn=%d want 1", got)
	}
}

func TestChurnWindowsRoll(t *testing.T) {
	c, err := NewChurnAccumulator(10, 2)
	if err != nil {
		t.Fatalf("NewChurnAccumulator: %v", err)
	}
	c.RecordEviction(1, "alice", "bob", EvictCapacity)
	c.RecordEviction(3, "alice", "carol", EvictDecay)
	c.RecordEviction(12, "bob", "alice", EvictDecay)
	c.RecordEviction(35, "carol", "alice", "")
	c.RecordEviction(47, "carol", "bob", EvictRemoved)

	snap := c.Snapshot()
	if snap.WindowStart != 40 || snap.WindowEnd != 50 || snap.Total != 1 || snap.Reasons["removed"] != 1 {
		t.Fatalf("snapshot=%+v", snap)
	}
	hist := c.History()
	if len(hist) != 2 {
		t.Fatalf("history len=%d want 2 (max samples)", len(hist))
	}
	if hist[0].WindowStart != 10 || hist[1].WindowStart != 30 || hist[1].Reasons["unknown"] != 1 {
		t.Fatalf("history=%+v", hist)
	}
}

func TestChurnIngest(t *testing.T) {
	src, _ := NewChurnAccumulator(600, 8)
	src.RecordEviction(5, "alice", "bob", EvictCapacity)
	src.RecordEviction(700, "alice", "bob", EvictDecay)

	b, err := json.Marshal(src.LatestPayload())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var p ChurnPayload
	if err := json.Unmarshal(b, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	dst, _ := NewChurnAccumulator(50, 8)
	if err := dst.Ingest(p); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if dst.WindowTicks() != 600 {
		t.Fatalf("window=%d want 600", dst.WindowTicks())
	}
	if !reflect.DeepEqual(dst.LatestPayload(), src.LatestPayload()) {
		t.Fatalf("payload=%+v want %+v", dst.LatestPayload(), src.LatestPayload())
	}
	if err := dst.Ingest(ChurnPayload{ChurnWindow: ChurnWindow{WindowStart: 10, WindowEnd: 5}}); err == nil {
		t.Fatalf("expected error for inverted window")
	}
}

func TestChurnRollJumpsLargeGaps(t *testing.T) {
	c, _ := NewChurnAccumulator(600, 8)
	if err := c.Ingest(ChurnPayload{ChurnWindow: ChurnWindow{WindowStart: 5, WindowEnd: 5, Total: 1,
		Owners: map[string]int{"alice": 1}, Reasons: map[string]int{"decay": 1}}}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if c.WindowTicks() != 1 {
		t.Fatalf("window=%d want 1", c.WindowTicks())
	}
	far := uint64(1) << 50
	c.RecordEviction(far+3, "bob", "alice", EvictCapacity)
	snap := c.Snapshot()
	if snap.WindowStart != far+3 || snap.Total != 1 {
		t.Fatalf("snapshot=%+v", snap)
	}
	if hist := c.History(); len(hist) != 1 || hist[0].WindowStart != 5 || hist[0].WindowEnd != 6 {
		t.Fatalf("history=%+v", hist)
	}

	w, _ := NewChurnAccumulator(10, 8)
	w.RecordEviction(1_000_007, "alice", "bob", EvictDecay)
	if got := w.Snapshot().WindowStart; got != 1_000_000 {
		t.Fatalf("window_start=%d want 1000000", got)
	}
}

func TestChurnRejectsBadConfig(t *testing.T) {
	if _, err := NewChurnAccumulator(0, 8); err == nil {
		t.Fatalf("expected error for zero window")
	}
	if _, err := NewChurnAccumulator(10, 0); err == nil {
		t.Fatalf("expected error for zero samples")
	}
}

func TestEdgeScore(t *testing.T) {
	if got := (Edge{Trust: 0.25, Familiarity: 0.5, Rivalry: 1}).Score(); math.Abs(got-0.75) > 1e-9 {
		t.Fatalf("score=%v", got)
	}
}
