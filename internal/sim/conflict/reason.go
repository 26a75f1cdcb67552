package conflict

// ReasonKind is the closed set of conflict reasons the tracker branches on. Reasons it
// does not recognise map to KindOther and keep their original label.
type ReasonKind uint8

const (
	KindOther ReasonKind = iota
	KindHandover
	KindGhostStep
	KindRotation
)

type Reason struct {
	Kind  ReasonKind
	Label string
}

var (
	Handover  = Reason{Kind: KindHandover, Label: "handover"}
	GhostStep = Reason{Kind: KindGhostStep, Label: "ghost_step"}
	Rotation  = Reason{Kind: KindRotation, Label: "rotation"}
)

func Other(label string) Reason { return Reason{Kind: KindOther, Label: label} }

func ParseReason(s string) Reason {
	switch s {
	case Handover.Label:
		return Handover
	case GhostStep.Label:
		return GhostStep
	case Rotation.Label:
		return Rotation
	}
	return Other(s)
}

func (r Reason) String() string {
	if r.Label == "" {
		return "conflict"
	}
	return r.Label
}

// Escalates reports whether the reason raises rivalry. Only a handover does not.
func (r Reason) Escalates() bool { return r.Kind != KindHandover }
