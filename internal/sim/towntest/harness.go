// Package towntest drives a town through its exported API for black-box tests.
package towntest

import (
	"testing"

	"townlet.ai/internal/persistence/snapshot"
	"townlet.ai/internal/protocol"
	"townlet.ai/internal/sim/town"
	"townlet.ai/internal/sim/tuning"
)

// Harness steps a town one tick per call and keeps every tick log entry and observer
// frame it produced.
type Harness struct {
	T    *testing.T
	Town *town.Town

	Entries []town.TickLogEntry
	Frames  []protocol.TickMsg
}

func NewHarness(t *testing.T, cfg tuning.Tuning) *Harness {
	t.Helper()
	tw, err := town.New(cfg, nil)
	if err != nil {
		t.Fatalf("town.New: %v", err)
	}
	return NewHarnessWithTown(t, tw)
}

// NewHarnessWithTown wraps an existing town, e.g. one restored from a snapshot.
func NewHarnessWithTown(t *testing.T, tw *town.Town) *Harness {
	t.Helper()
	h := &Harness{T: t, Town: tw}
	tw.AddTickLogger(h)
	tw.SetTickSink(h)
	return h
}

func (h *Harness) WriteTick(e town.TickLogEntry) error {
	h.Entries = append(h.Entries, e)
	return nil
}

func (h *Harness) PublishTick(m protocol.TickMsg) { h.Frames = append(h.Frames, m) }

// Step applies actions as one tick and returns its log entry.
func (h *Harness) Step(actions ...town.Action) town.TickLogEntry {
	h.T.Helper()
	h.Town.StepOnce(actions)
	return h.Entries[len(h.Entries)-1]
}

func (h *Harness) StepNoop(n int) {
	for i := 0; i < n; i++ {
		h.Town.StepOnce(nil)
	}
}

func (h *Harness) Join(ids ...string) {
	h.T.Helper()
	actions := make([]town.Action, 0, len(ids))
	for _, id := range ids {
		actions = append(actions, town.Action{Kind: town.ActJoin, AgentID: id})
	}
	h.Step(actions...)
}

func Request(agent, object string) town.Action {
	return town.Action{Kind: town.ActRequest, AgentID: agent, ObjectID: object}
}

func Release(agent, object string) town.Action {
	return town.Action{Kind: town.ActRelease, AgentID: agent, ObjectID: object}
}

func Handover(agent, object, preferred string) town.Action {
	return town.Action{Kind: town.ActHandover, AgentID: agent, ObjectID: object, Target: preferred}
}

func Blocked(agent, object string) town.Action {
	return town.Action{Kind: town.ActBlocked, AgentID: agent, ObjectID: object}
}

func Chat(speaker, listener string, quality float64) town.Action {
	return town.Action{Kind: town.ActChat, AgentID: speaker, Target: listener, Quality: quality}
}

func (h *Harness) Holder(object string) string {
	holder, _ := h.Town.Queue().ActiveAgent(object)
	return holder
}

// Events returns every event of typ emitted so far.
func (h *Harness) Events(typ string) []protocol.Event {
	var out []protocol.Event
	for _, e := range h.Entries {
		for _, ev := range e.Events {
			if ev.Type() == typ {
				out = append(out, ev)
			}
		}
	}
	return out
}

func (h *Harness) Rivalry() []protocol.RivalryEvent {
	var out []protocol.RivalryEvent
	for _, e := range h.Entries {
		out = append(out, e.Rivalry...)
	}
	return out
}

// Snapshot exports the last completed tick, so importing it resumes at CurrentTick.
func (h *Harness) Snapshot() snapshot.SnapshotV1 {
	h.T.Helper()
	cur := h.Town.CurrentTick()
	if cur == 0 {
		h.T.Fatalf("Snapshot before first tick")
	}
	return h.Town.ExportSnapshot(cur - 1)
}
