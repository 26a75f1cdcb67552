package relationships

import (
	"sort"

	"townlet.ai/internal/sim/tuning"
)

type Rival struct {
	OtherID string  `json:"other_id"`
	Score   float64 `json:"score"`
}

// RivalryLedger tracks conflict intensity against other agents for a single owner.
// Unlike Ledger it prunes by rivalry score and evicts edges that decay below
// eviction_threshold.
type RivalryLedger struct {
	owner  string
	params tuning.Rivalry
	hook   EvictionHook

	scores map[string]float64
	order  []string
}

func NewRivalryLedger(owner string, params tuning.Rivalry, hook EvictionHook) *RivalryLedger {
	return &RivalryLedger{
		owner:  owner,
		params: params,
		hook:   hook,
		scores: map[string]float64{},
	}
}

func (l *RivalryLedger) Len() int { return len(l.scores) }

func (l *RivalryLedger) SetEvictionHook(hook EvictionHook) { l.hook = hook }

// ApplyConflict raises rivalry against otherID by increment_per_conflict*intensity.
func (l *RivalryLedger) ApplyConflict(otherID string, intensity float64) float64 {
	if _, ok := l.scores[otherID]; !ok {
		l.order = append(l.order, otherID)
	}
	delta := l.params.IncrementPerConflict * finite(intensity)
	updated := clamp(l.scores[otherID]+delta, l.params.MinValue, l.params.MaxValue)
	l.scores[otherID] = updated
	l.pruneIfNeeded()
	return updated
}

// Decay applies ticks worth of passive decay.
func (l *RivalryLedger) Decay(ticks int) {
	if ticks <= 0 || len(l.scores) == 0 {
		return
	}
	amount := l.params.DecayPerTick * float64(ticks)
	var removes []string
	for _, id := range l.order {
		updated := clamp(l.scores[id]-amount, l.params.MinValue, l.params.MaxValue)
		if updated <= l.params.EvictionThreshold {
			removes = append(removes, id)
			continue
		}
		l.scores[id] = updated
	}
	for _, id := range removes {
		l.Remove(id, EvictDecay)
	}
}

// Inject seeds scores from persisted state without clearing existing edges.
func (l *RivalryLedger) Inject(pairs []Rival) {
	for _, p := range pairs {
		if p.OtherID == "" {
			continue
		}
		if _, ok := l.scores[p.OtherID]; !ok {
			l.order = append(l.order, p.OtherID)
		}
		l.scores[p.OtherID] = clamp(finite(p.Score), l.params.MinValue, l.params.MaxValue)
	}
	l.pruneIfNeeded()
}

func (l *RivalryLedger) ScoreFor(otherID string) float64 { return l.scores[otherID] }

func (l *RivalryLedger) ShouldAvoid(otherID string) bool {
	v, ok := l.scores[otherID]
	return ok && v >= l.params.AvoidThreshold
}

func (l *RivalryLedger) TopRivals(limit int) []Rival {
	if limit <= 0 {
		return nil
	}
	out := l.sorted()
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (l *RivalryLedger) Remove(otherID string, reason EvictionReason) {
	if _, ok := l.scores[otherID]; !ok {
		return
	}
	delete(l.scores, otherID)
	for i, id := range l.order {
		if id == otherID {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	if l.hook != nil {
		l.hook.OnEdgeEvicted(l.owner, otherID, reason)
	}
}

// EncodeFeatures returns the top rivalry magnitudes padded with zeros to limit entries.
func (l *RivalryLedger) EncodeFeatures(limit int) []float64 {
	if limit <= 0 {
		return nil
	}
	out := make([]float64, limit)
	for i, r := range l.TopRivals(limit) {
		out[i] = r.Score
	}
	return out
}

func (l *RivalryLedger) Snapshot() map[string]float64 {
	out := make(map[string]float64, len(l.scores))
	for id, v := range l.scores {
		out[id] = v
	}
	return out
}

func (l *RivalryLedger) sorted() []Rival {
	out := make([]Rival, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, Rival{OtherID: id, Score: l.scores[id]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func (l *RivalryLedger) pruneIfNeeded() {
	limit := l.params.MaxEdges
	if limit <= 0 || len(l.scores) <= limit {
		return
	}
	for _, r := range l.sorted()[limit:] {
		l.Remove(r.OtherID, EvictCapacity)
	}
}
