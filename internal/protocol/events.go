package protocol

// Event is one emitted occurrence. It always carries "type" and "tick".
type Event map[string]interface{}

func (e Event) Type() string {
	s, _ := e["type"].(string)
	return s
}

type QueueConflict struct {
	ObjectID    string  `json:"object_id"`
	Actor       string  `json:"actor"`
	Rival       string  `json:"rival"`
	Reason      string  `json:"reason"`
	QueueLength int     `json:"queue_length"`
	Intensity   float64 `json:"intensity"`
}

func (c QueueConflict) Event(tick uint64) Event {
	return Event{
		"type":         EventQueueConflict,
		"tick":         tick,
		"object_id":    c.ObjectID,
		"actor":        c.Actor,
		"rival":        c.Rival,
		"reason":       c.Reason,
		"queue_length": c.QueueLength,
		"intensity":    c.Intensity,
	}
}

type QueueInteraction struct {
	ObjectID    string `json:"object_id"`
	Actor       string `json:"actor"`
	Rival       string `json:"rival"`
	Reason      string `json:"reason"`
	QueueLength int    `json:"queue_length"`
	Variant     string `json:"variant"` // "handover"
}

func (i QueueInteraction) Event(tick uint64) Event {
	return Event{
		"type":         EventQueueInteraction,
		"tick":         tick,
		"object_id":    i.ObjectID,
		"actor":        i.Actor,
		"rival":        i.Rival,
		"reason":       i.Reason,
		"queue_length": i.QueueLength,
		"variant":      i.Variant,
	}
}

type ForcedReuse struct {
	AgentID       string `json:"agent_id"`
	Slot          int    `json:"slot"`
	PreviousOwner string `json:"previous_owner,omitempty"`
	ReleasedAt    uint64 `json:"released_at"`
}

func (f ForcedReuse) Event(tick uint64) Event {
	ev := Event{
		"type":        EventForcedReuse,
		"tick":        tick,
		"agent_id":    f.AgentID,
		"slot":        f.Slot,
		"released_at": f.ReleasedAt,
	}
	if f.PreviousOwner != "" {
		ev["previous_owner"] = f.PreviousOwner
	}
	return ev
}

// RivalryEvent is an immutable telemetry record of one escalation.
type RivalryEvent struct {
	Tick      uint64  `json:"tick"`
	AgentA    string  `json:"agent_a"`
	AgentB    string  `json:"agent_b"`
	Intensity float64 `json:"intensity"`
	Reason    string  `json:"reason"`
}

// ChatEvent is a conversation outcome between two agents.
type ChatEvent struct {
	Tick     uint64  `json:"tick"`
	Speaker  string  `json:"speaker"`
	Listener string  `json:"listener"`
	Quality  float64 `json:"quality"`
}

// AvoidanceEvent records an agent steering away from a rival at an object.
type AvoidanceEvent struct {
	Tick     uint64 `json:"tick"`
	Agent    string `json:"agent"`
	Rival    string `json:"rival"`
	ObjectID string `json:"object_id,omitempty"`
}
