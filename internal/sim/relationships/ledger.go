// Package relationships keeps each agent's bounded, decaying view of the agents it has
// interacted with.
//
// A Ledger holds at most MaxEdges directed edges. When it overflows, the edges with the
// lowest trust+familiarity are evicted first regardless of their rivalry, so a strong
// rival with no positive history can be dropped. This is intended: the ledger tracks who
// an agent knows, rivalry intensity lives in RivalryLedger.
package relationships

import (
	"math"
	"sort"

	"townlet.ai/internal/sim/tuning"
)

type EvictionReason string

const (
	EvictCapacity EvictionReason = "capacity"
	EvictDecay    EvictionReason = "decay"
	EvictRemoved  EvictionReason = "removed"
)

// EvictionHook is notified before an edge leaves a ledger.
type EvictionHook interface {
	OnEdgeEvicted(owner, other string, reason EvictionReason)
}

type Edge struct {
	Trust       float64 `json:"trust"`
	Familiarity float64 `json:"familiarity"`
	Rivalry     float64 `json:"rivalry"`
}

func (e Edge) Score() float64 { return e.Trust + e.Familiarity }

type Delta struct {
	Trust       float64
	Familiarity float64
	Rivalry     float64
}

type Tie struct {
	OtherID string
	Edge
}

type Params struct {
	MaxEdges         int
	TrustDecay       float64
	FamiliarityDecay float64
	RivalryDecay     float64
}

func ParamsFromTuning(t tuning.Tuning) Params {
	return Params{
		MaxEdges:         t.Conflict.Rivalry.MaxEdges,
		TrustDecay:       t.Relationships.TrustDecay,
		FamiliarityDecay: t.Relationships.FamiliarityDecay,
		RivalryDecay:     t.Relationships.RivalryDecay,
	}
}

type Ledger struct {
	owner  string
	params Params
	hook   EvictionHook

	edges map[string]*Edge
	order []string // insertion order; breaks score ties
}

func NewLedger(owner string, params Params, hook EvictionHook) *Ledger {
	return &Ledger{
		owner:  owner,
		params: params,
		hook:   hook,
		edges:  map[string]*Edge{},
	}
}

func (l *Ledger) Owner() string { return l.owner }

func (l *Ledger) Len() int { return len(l.edges) }

func (l *Ledger) SetEvictionHook(owner string, hook EvictionHook) {
	l.owner = owner
	l.hook = hook
}

// ApplyDelta adds d to the edge towards otherID, creating it if needed, and prunes the
// ledger back to capacity. The returned edge reflects the post-clamp values even when
// the edge itself was pruned.
func (l *Ledger) ApplyDelta(otherID string, d Delta) Edge {
	e, ok := l.edges[otherID]
	if !ok {
		e = &Edge{}
		l.edges[otherID] = e
		l.order = append(l.order, otherID)
	}
	e.Trust = clamp(e.Trust+finite(d.Trust), -1, 1)
	e.Familiarity = clamp(e.Familiarity+finite(d.Familiarity), -1, 1)
	e.Rivalry = clamp(e.Rivalry+finite(d.Rivalry), 0, 1)
	out := *e
	l.pruneIfNeeded(EvictCapacity)
	return out
}

func (l *Ledger) TieFor(otherID string) (Edge, bool) {
	e, ok := l.edges[otherID]
	if !ok {
		return Edge{}, false
	}
	return *e, true
}

// Decay moves every dimension one step towards zero and evicts edges that reach (0,0,0).
func (l *Ledger) Decay() {
	if len(l.edges) == 0 {
		return
	}
	var removes []string
	for _, id := range l.order {
		e := l.edges[id]
		e.Trust = decayValue(e.Trust, l.params.TrustDecay)
		e.Familiarity = decayValue(e.Familiarity, l.params.FamiliarityDecay)
		e.Rivalry = decayValue(e.Rivalry, l.params.RivalryDecay)
		if e.Trust == 0 && e.Familiarity == 0 && e.Rivalry == 0 {
			removes = append(removes, id)
		}
	}
	for _, id := range removes {
		l.evict(id, EvictDecay)
	}
}

func (l *Ledger) RemoveTie(otherID string, reason EvictionReason) { l.evict(otherID, reason) }

func (l *Ledger) Snapshot() map[string]Edge {
	out := make(map[string]Edge, len(l.edges))
	for id, e := range l.edges {
		out[id] = *e
	}
	return out
}

// Inject replaces the ledger contents with payload, re-clamping values and pruning to
// capacity. Keys are inserted in sorted order, so pruning ties resolve by id rather than
// by the insertion history that produced the snapshot.
func (l *Ledger) Inject(payload map[string]Edge) {
	l.edges = make(map[string]*Edge, len(payload))
	l.order = l.order[:0]
	ids := make([]string, 0, len(payload))
	for id := range payload {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		v := payload[id]
		l.edges[id] = &Edge{
			Trust:       clamp(finite(v.Trust), -1, 1),
			Familiarity: clamp(finite(v.Familiarity), -1, 1),
			Rivalry:     clamp(finite(v.Rivalry), 0, 1),
		}
		l.order = append(l.order, id)
	}
	l.pruneIfNeeded(EvictCapacity)
}

func (l *Ledger) TopFriends(limit int) []Tie {
	return l.top(limit, func(e Edge) float64 { return e.Score() })
}

func (l *Ledger) TopRivals(limit int) []Tie {
	return l.top(limit, func(e Edge) float64 { return e.Rivalry })
}

func (l *Ledger) top(limit int, key func(Edge) float64) []Tie {
	if limit <= 0 {
		return nil
	}
	ties := l.ties()
	sort.SliceStable(ties, func(i, j int) bool { return key(ties[i].Edge) > key(ties[j].Edge) })
	if len(ties) > limit {
		ties = ties[:limit]
	}
	return ties
}

func (l *Ledger) ties() []Tie {
	out := make([]Tie, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, Tie{OtherID: id, Edge: *l.edges[id]})
	}
	return out
}

func (l *Ledger) pruneIfNeeded(reason EvictionReason) {
	limit := l.params.MaxEdges
	if limit <= 0 || len(l.edges) <= limit {
		return
	}
	ties := l.ties()
	sort.SliceStable(ties, func(i, j int) bool { return ties[i].Score() > ties[j].Score() })
	for _, t := range ties[limit:] {
		l.evict(t.OtherID, reason)
	}
}

func (l *Ledger) evict(otherID string, reason EvictionReason) {
	if _, ok := l.edges[otherID]; !ok {
		return
	}
	if l.hook != nil {
		l.hook.OnEdgeEvicted(l.owner, otherID, reason)
	}
	delete(l.edges, otherID)
	for i, id := range l.order {
		if id == otherID {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

func decayValue(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	switch {
	case v > 0:
		return math.Max(0, v-step)
	case v < 0:
		return math.Min(0, v+step)
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func finite(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}
