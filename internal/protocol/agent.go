package protocol

// Client -> Server. First message on the agent socket.
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AgentID         string `json:"agent_id"`
}

type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AgentID         string `json:"agent_id"`
	Tick            uint64 `json:"tick"`
	TickRateHz      int    `json:"tick_rate_hz"`
}

// ActMsg carries one intent. Kind is one of JOIN, LEAVE, REQUEST, RELEASE, HANDOVER,
// BLOCKED or CHAT; the agent id comes from the HELLO.
type ActMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Kind            string  `json:"kind"`
	ObjectID        string  `json:"object_id,omitempty"`
	Target          string  `json:"target,omitempty"`
	Failed          bool    `json:"failed,omitempty"`
	Quality         float64 `json:"quality,omitempty"`
}
