package relationships

import (
	"math"
	"testing"

	"townlet.ai/internal/sim/tuning"
)

func rivalryParams() tuning.Rivalry {
	p := tuning.Defaults().Conflict.Rivalry
	p.MaxEdges = 3
	return p
}

func TestRivalryApplyConflictClamps(t *testing.T) {
	l := NewRivalryLedger("alice", rivalryParams(), nil)
	if got := l.ApplyConflict("bob", 2); math.Abs(got-0.3) > 1e-9 {
		t.Fatalf("score=%v want 0.3", got)
	}
	for i := 0; i < 20; i++ {
		l.ApplyConflict("bob", 5)
	}
	if got := l.ScoreFor("bob"); got != 1 {
		t.Fatalf("score=%v want max 1", got)
	}
	if !l.ShouldAvoid("bob") {
		t.Fatalf("expected avoid at max rivalry")
	}
	if l.ShouldAvoid("carol") {
		t.Fatalf("unknown agent should not be avoided")
	}
}

func TestRivalryPruneKeepsHighest(t *testing.T) {
	hook := &hookRecorder{}
	l := NewRivalryLedger("alice", rivalryParams(), hook)
	l.ApplyConflict("a", 1)
	l.ApplyConflict("b", 3)
	l.ApplyConflict("c", 2)
	l.ApplyConflict("d", 4)
	if l.Len() != 3 {
		t.Fatalf("len=%d want 3", l.Len())
	}
	if _, ok := l.Snapshot()["a"]; ok {
		t.Fatalf("weakest rival should be pruned")
	}
	if len(hook.got) != 1 || hook.got[0] != (eviction{"alice", "a", EvictCapacity}) {
		t.Fatalf("evictions=%v", hook.got)
	}
	top := l.TopRivals(2)
	if len(top) != 2 || top[0].OtherID != "d" || top[1].OtherID != "b" {
		t.Fatalf("top=%v", top)
	}
}

func TestRivalryDecayEvictsBelowThreshold(t *testing.T) {
	hook := &hookRecorder{}
	p := rivalryParams()
	p.DecayPerTick = 0.1
	l := NewRivalryLedger("alice", p, hook)
	l.ApplyConflict("bob", 1) // 0.15
	l.ApplyConflict("carol", 4)
	l.Decay(1)
	if _, ok := l.Snapshot()["bob"]; ok {
		t.Fatalf("bob should fall below eviction threshold")
	}
	if got := l.ScoreFor("carol"); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("carol=%v want 0.5", got)
	}
	if len(hook.got) != 1 || hook.got[0].reason != EvictDecay {
		t.Fatalf("evictions=%v", hook.got)
	}
	l.Decay(0)
	if got := l.ScoreFor("carol"); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("Decay(0) changed carol to %v", got)
	}
}

func TestRivalryEncodeFeaturesPads(t *testing.T) {
	l := NewRivalryLedger("alice", rivalryParams(), nil)
	l.ApplyConflict("bob", 2)
	f := l.EncodeFeatures(3)
	if len(f) != 3 || math.Abs(f[0]-0.3) > 1e-9 || f[1] != 0 || f[2] != 0 {
		t.Fatalf("features=%v", f)
	}
}

func TestRivalryInjectMergesAndPrunes(t *testing.T) {
	l := NewRivalryLedger("alice", rivalryParams(), nil)
	l.ApplyConflict("zed", 1)
	l.Inject([]Rival{{OtherID: "bob", Score: 2}, {OtherID: "", Score: 1}, {OtherID: "carol", Score: 0.5}, {OtherID: "dave", Score: 0.6}})
	snap := l.Snapshot()
	if len(snap) != 3 || snap["bob"] != 1 {
		t.Fatalf("snapshot=%v", snap)
	}
	if _, ok := snap["zed"]; ok {
		t.Fatalf("weakest existing edge should be pruned, got %v", snap)
	}
}
