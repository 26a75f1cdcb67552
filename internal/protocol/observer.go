package protocol

// TICK (server -> observer)
type TickMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	Tick            uint64           `json:"tick"`
	Digest          string           `json:"digest"`
	Events          []Event          `json:"events"`
	Rivalry         []RivalryEvent   `json:"rivalry"`
	Chats           []ChatEvent      `json:"chats,omitempty"`
	Avoidance       []AvoidanceEvent `json:"avoidance,omitempty"`
	Queues          []QueueView      `json:"queues"`
}

type QueueView struct {
	ObjectID string   `json:"object_id"`
	Holder   string   `json:"holder,omitempty"`
	Waiting  []string `json:"waiting"`
}

// STATE (http, server -> client)
type StateMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Tick            uint64       `json:"tick"`
	RunID           string       `json:"run_id"`
	Queue           QueueMetrics `json:"queue"`
	Slots           SlotMetrics  `json:"slots"`
	Agents          int          `json:"agents"`
}

type QueueMetrics struct {
	CooldownEvents  int `json:"cooldown_events"`
	GhostStepEvents int `json:"ghost_step_events"`
	RotationEvents  int `json:"rotation_events"`
	FailedReleases  int `json:"failed_releases"`
}

type SlotMetrics struct {
	AllocationsTotal int     `json:"allocations_total"`
	ForcedReuseCount int     `json:"forced_reuse_count"`
	ForcedReuseRate  float64 `json:"forced_reuse_rate"`
	ReuseWarning     bool    `json:"reuse_warning"`
	InUse            int     `json:"in_use"`
	MaxSlots         int     `json:"max_slots"`
}
