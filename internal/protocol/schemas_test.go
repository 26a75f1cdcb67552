package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"townlet.ai/internal/protocol"
)

func compile(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	p := filepath.Join("..", "..", "schemas", name)
	s, err := jsonschema.Compile(p)
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	return s
}

// roundTrip renders v the way it goes over the wire.
func roundTrip(t *testing.T, v any) any {
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

func TestSchemas_ValidateSamples(t *testing.T) {
	conflictSchema := compile(t, "queue_conflict.schema.json")
	interactionSchema := compile(t, "queue_interaction.schema.json")
	rivalrySchema := compile(t, "rivalry_event.schema.json")
	tickSchema := compile(t, "tick.schema.json")

	conflict := protocol.QueueConflict{
		ObjectID: "stove_1", Actor: "alice", Rival: "bob",
		Reason: "ghost_step", QueueLength: 3, Intensity: 2.3,
	}.Event(12)
	if err := conflictSchema.Validate(roundTrip(t, conflict)); err != nil {
		t.Fatalf("queue_conflict: %v", err)
	}

	handover := protocol.QueueInteraction{
		ObjectID: "stove_1", Actor: "alice", Rival: "bob",
		Reason: "handover", QueueLength: 1, Variant: "handover",
	}.Event(12)
	if err := interactionSchema.Validate(roundTrip(t, handover)); err != nil {
		t.Fatalf("queue_interaction: %v", err)
	}

	rivalry := protocol.RivalryEvent{Tick: 12, AgentA: "alice", AgentB: "bob", Intensity: 2.3, Reason: "ghost_step"}
	if err := rivalrySchema.Validate(roundTrip(t, rivalry)); err != nil {
		t.Fatalf("rivalry_event: %v", err)
	}

	tick := protocol.TickMsg{
		Type:            protocol.TypeTick,
		ProtocolVersion: protocol.Version,
		Tick:            12,
		Digest:          strings.Repeat("ab", 32),
		Events:          []protocol.Event{conflict, handover},
		Rivalry:         []protocol.RivalryEvent{rivalry},
		Queues:          []protocol.QueueView{{ObjectID: "stove_1", Holder: "bob", Waiting: []string{"alice"}}},
	}
	if err := tickSchema.Validate(roundTrip(t, tick)); err != nil {
		t.Fatalf("tick: %v", err)
	}
}

func TestSchemas_RejectOutOfRangeIntensity(t *testing.T) {
	s := compile(t, "queue_conflict.schema.json")
	ev := protocol.QueueConflict{
		ObjectID: "shower", Actor: "a", Rival: "b",
		Reason: "rotation", QueueLength: 1, Intensity: 9,
	}.Event(1)
	if err := s.Validate(roundTrip(t, ev)); err == nil {
		t.Fatalf("expected intensity 9 rejected")
	}
	ev["reason"] = "handover"
	ev["intensity"] = 1.0
	if err := s.Validate(roundTrip(t, ev)); err == nil {
		t.Fatalf("expected handover reason rejected for queue_conflict")
	}
}

func TestDecodeBase(t *testing.T) {
	m, err := protocol.DecodeBase([]byte(`{"type":"TICK","protocol_version":"1.0","tick":3}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Type != protocol.TypeTick || m.ProtocolVersion != protocol.Version {
		t.Fatalf("base=%+v", m)
	}
}
