package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeAct     = "ACT"
	TypeError   = "ERROR"
	TypeTick    = "TICK"
	TypeState   = "STATE"
)

// Event types emitted by the town core.
const (
	EventQueueConflict    = "queue_conflict"
	EventQueueInteraction = "queue_interaction"
	EventChat             = "chat"
	EventAvoidance        = "avoidance"
	EventForcedReuse      = "embedding_forced_reuse"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
