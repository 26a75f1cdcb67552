package towntest

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	persistlog "townlet.ai/internal/persistence/log"
	"townlet.ai/internal/persistence/snapshot"
	"townlet.ai/internal/protocol"
	"townlet.ai/internal/sim/town"
)

func scriptedRun(t *testing.T, h *Harness, script *town.Script, from, to uint64) {
	t.Helper()
	for tick := from; tick < to; tick++ {
		if got := h.Town.CurrentTick(); got != tick {
			t.Fatalf("tick=%d want %d", got, tick)
		}
		h.Town.StepOnce(script.Next(tick))
	}
}

func TestTickLogReplayReproducesDigests(t *testing.T) {
	dir := t.TempDir()
	cfg := contentionTuning()

	h := NewHarness(t, cfg)
	tl := persistlog.NewTickLogger(dir)
	h.Town.AddTickLogger(tl)
	scriptedRun(t, h, town.NewScript(11, 8, 3), 0, 300)
	if err := tl.Close(); err != nil {
		t.Fatalf("close tick log: %v", err)
	}

	files, err := persistlog.EventFiles(dir)
	if err != nil || len(files) == 0 {
		t.Fatalf("event files=%v err=%v", files, err)
	}
	replay, err := town.New(cfg, nil)
	if err != nil {
		t.Fatalf("town.New: %v", err)
	}
	var n int
	for _, f := range files {
		err := persistlog.ReadTicks(f, func(e town.TickLogEntry) bool {
			_, digest := replay.StepOnce(e.Actions)
			if digest != h.Entries[n].Digest || digest != e.Digest {
				t.Fatalf("tick %d digest mismatch: replay=%s logged=%s", e.Tick, digest, e.Digest)
			}
			n++
			return true
		})
		if err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
	}
	if n != 300 {
		t.Fatalf("replayed %d ticks want 300", n)
	}
}

func compileSchema(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	s, err := jsonschema.Compile(filepath.Join("..", "..", "..", "schemas", name))
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	return s
}

func wire(t *testing.T, v any) any {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func TestEmittedFramesMatchSchemas(t *testing.T) {
	tickSchema := compileSchema(t, "tick.schema.json")
	byType := map[string]*jsonschema.Schema{
		protocol.EventQueueConflict:    compileSchema(t, "queue_conflict.schema.json"),
		protocol.EventQueueInteraction: compileSchema(t, "queue_interaction.schema.json"),
	}
	rivalrySchema := compileSchema(t, "rivalry_event.schema.json")

	h := NewHarness(t, contentionTuning())
	scriptedRun(t, h, town.NewScript(5, 10, 3), 0, 400)
	h.Join("x", "y", "z")
	h.Step(Request("x", "oven"), Request("y", "oven"), Request("z", "oven"))
	h.Step(Handover("x", "oven", "z"))

	seen := map[string]int{}
	for _, f := range h.Frames {
		if err := tickSchema.Validate(wire(t, f)); err != nil {
			t.Fatalf("tick %d frame: %v", f.Tick, err)
		}
		for _, ev := range f.Events {
			s, ok := byType[ev.Type()]
			if !ok {
				continue
			}
			seen[ev.Type()]++
			if err := s.Validate(wire(t, ev)); err != nil {
				t.Fatalf("tick %d %s: %v", f.Tick, ev.Type(), err)
			}
		}
		for _, r := range f.Rivalry {
			if err := rivalrySchema.Validate(wire(t, r)); err != nil {
				t.Fatalf("tick %d rivalry: %v", f.Tick, err)
			}
		}
	}
	if seen[protocol.EventQueueConflict] == 0 || seen[protocol.EventQueueInteraction] == 0 {
		t.Fatalf("events checked=%v, expected both conflicts and interactions", seen)
	}
}

func TestSnapshotFileResumesHarness(t *testing.T) {
	cfg := contentionTuning()
	h := NewHarness(t, cfg)
	h.Join("alice", "bob", "carol")
	h.Step(Request("alice", "fridge"), Request("bob", "fridge"))
	h.Step(Chat("alice", "carol", 0.8))
	h.StepNoop(4)

	path := snapshot.Path(t.TempDir(), h.Town.CurrentTick()-1)
	if err := snapshot.WriteSnapshot(path, h.Snapshot()); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	restored, err := town.NewFromSnapshot(snap, nil)
	if err != nil {
		t.Fatalf("NewFromSnapshot: %v", err)
	}
	r := NewHarnessWithTown(t, restored)

	if r.Town.CurrentTick() != h.Town.CurrentTick() {
		t.Fatalf("restored tick=%d want %d", r.Town.CurrentTick(), h.Town.CurrentTick())
	}
	if r.Holder("fridge") != h.Holder("fridge") {
		t.Fatalf("holder=%q want %q", r.Holder("fridge"), h.Holder("fridge"))
	}
	want, _ := h.Town.Relationships().Tie("alice", "carol")
	got, ok := r.Town.Relationships().Tie("alice", "carol")
	if !ok || got != want {
		t.Fatalf("tie=%+v want %+v", got, want)
	}
	for i := 0; i < 20; i++ {
		a := h.Step(Release(h.Holder("fridge"), "fridge"))
		b := r.Step(Release(r.Holder("fridge"), "fridge"))
		if a.Digest != b.Digest {
			t.Fatalf("step %d digest diverged after restore", i)
		}
	}
}
