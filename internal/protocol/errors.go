package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Observer access.
	ErrForbidden = "E_FORBIDDEN"
	ErrNotReady  = "E_NOT_READY"

	// Town actions.
	ErrBadAction = "E_BAD_ACTION"
	ErrCooldown  = "E_COOLDOWN"
	ErrNoSlots   = "E_NO_SLOTS"
	ErrInboxFull = "E_INBOX_FULL"
	ErrInternal  = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrForbidden:       {},
	ErrNotReady:        {},
	ErrBadAction:       {},
	ErrCooldown:        {},
	ErrNoSlots:         {},
	ErrInboxFull:       {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// ErrorMsg is the JSON body returned by HTTP surfaces on failure. On the agent socket it
// is sent with Type set to ERROR.
type ErrorMsg struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
