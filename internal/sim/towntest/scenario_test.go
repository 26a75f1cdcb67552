package towntest

import (
	"testing"

	"townlet.ai/internal/protocol"
	"townlet.ai/internal/sim/tuning"
)

func contentionTuning() tuning.Tuning {
	cfg := tuning.Defaults()
	cfg.QueueFairness.CooldownTicks = 3
	cfg.QueueFairness.GhostStepAfter = 2
	return cfg
}

func TestScenario_GhostStepBuildsRivalryUntilAvoidance(t *testing.T) {
	h := NewHarness(t, contentionTuning())
	h.Join("alice", "bob")
	h.Step(Request("alice", "shower"))
	if h.Holder("shower") != "alice" {
		t.Fatalf("holder=%q want alice", h.Holder("shower"))
	}

	h.Step(Request("bob", "shower"))

	// Nobody releases, so ghost steps keep rotating the shower and raising rivalry.
	for i := 0; i < 60 && !h.Town.Relationships().ShouldAvoid("bob", "alice"); i++ {
		h.StepNoop(1)
	}

	conflicts := h.Events(protocol.EventQueueConflict)
	if len(conflicts) == 0 {
		t.Fatalf("expected ghost step conflicts")
	}
	for _, c := range conflicts {
		if c["reason"] != "ghost_step" {
			t.Fatalf("reason=%v want ghost_step", c["reason"])
		}
	}
	if len(h.Rivalry()) != len(conflicts) {
		t.Fatalf("rivalry events=%d conflicts=%d", len(h.Rivalry()), len(conflicts))
	}
	if !h.Town.Relationships().ShouldAvoid("bob", "alice") || !h.Town.Relationships().ShouldAvoid("alice", "bob") {
		t.Fatalf("rivalry bob->alice=%v alice->bob=%v, expected both above avoid threshold",
			h.Town.Relationships().RivalryValue("bob", "alice"), h.Town.Relationships().RivalryValue("alice", "bob"))
	}
	if m := h.Town.Queue().Metrics(); m.GhostStepEvents != len(conflicts) {
		t.Fatalf("ghost steps=%d conflicts=%d", m.GhostStepEvents, len(conflicts))
	}
}

func TestScenario_PoliteHandoverBuildsTrust(t *testing.T) {
	h := NewHarness(t, contentionTuning())
	h.Join("alice", "bob", "carol")
	h.Step(Request("alice", "stove"))
	h.Step(Request("bob", "stove"), Request("carol", "stove"))
	h.Step(Handover("alice", "stove", "carol"))

	if h.Holder("stove") != "carol" {
		t.Fatalf("holder=%q want carol", h.Holder("stove"))
	}
	ints := h.Events(protocol.EventQueueInteraction)
	if len(ints) != 1 || ints[0]["rival"] != "carol" || ints[0]["variant"] != "handover" {
		t.Fatalf("interactions=%v", ints)
	}
	tie, ok := h.Town.Relationships().Tie("alice", "carol")
	if !ok || tie.Trust <= 0 || tie.Familiarity <= 0 {
		t.Fatalf("alice->carol tie=%+v ok=%v", tie, ok)
	}
	if len(h.Rivalry()) != 0 {
		t.Fatalf("handover should not escalate: %v", h.Rivalry())
	}
	if _, ok := h.Town.Queue().CooldownUntil("stove", "alice"); !ok {
		t.Fatalf("departing holder should be cooling down")
	}
}

func TestScenario_FramesMirrorQueues(t *testing.T) {
	h := NewHarness(t, contentionTuning())
	h.Join("alice", "bob")
	h.Step(Request("alice", "bed"), Request("bob", "bed"))

	f := h.Frames[len(h.Frames)-1]
	if len(f.Queues) != 1 {
		t.Fatalf("queues=%v", f.Queues)
	}
	q := f.Queues[0]
	if q.ObjectID != "bed" || q.Holder != "alice" || len(q.Waiting) != 1 || q.Waiting[0] != "bob" {
		t.Fatalf("queue view=%+v", q)
	}
	if f.Digest != h.Entries[len(h.Entries)-1].Digest {
		t.Fatalf("frame digest differs from log digest")
	}
}
