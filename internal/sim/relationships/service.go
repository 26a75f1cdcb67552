package relationships

import (
	"sort"

	"townlet.ai/internal/sim/tuning"
)

// Event labels why a relationship changed. It is recorded in Service counters.
type Event string

const (
	EventGeneric     Event = "generic"
	EventConflict    Event = "conflict"
	EventQueuePolite Event = "queue_polite"
	EventChat        Event = "chat"
)

type Clock interface {
	CurrentTick() uint64
}

// Service owns every agent's Ledger and RivalryLedger. Ledgers are created on first
// interaction and routed through a shared churn accumulator on eviction.
type Service struct {
	params  Params
	rivalry tuning.Rivalry
	clock   Clock

	ledgers map[string]*Ledger
	rivals  map[string]*RivalryLedger
	churn   *ChurnAccumulator
	updates map[Event]int
}

func NewService(t tuning.Tuning, clock Clock) (*Service, error) {
	churn, err := NewChurnAccumulator(t.Relationships.ChurnWindowTicks, 8)
	if err != nil {
		return nil, err
	}
	return &Service{
		params:  ParamsFromTuning(t),
		rivalry: t.Conflict.Rivalry,
		clock:   clock,
		ledgers: map[string]*Ledger{},
		rivals:  map[string]*RivalryLedger{},
		churn:   churn,
		updates: map[Event]int{},
	}, nil
}

func (s *Service) OnEdgeEvicted(owner, other string, reason EvictionReason) {
	s.churn.RecordEviction(s.clock.CurrentTick(), owner, other, reason)
}

// UpdateRelationship applies the same delta to a->b and b->a. Self-updates are ignored.
func (s *Service) UpdateRelationship(a, b string, d Delta, ev Event) {
	if a == b {
		return
	}
	s.Ledger(a).ApplyDelta(b, d)
	s.Ledger(b).ApplyDelta(a, d)
	s.updates[ev]++
}

// ApplyRivalryConflict raises rivalry in both agents' rivalry ledgers.
func (s *Service) ApplyRivalryConflict(a, b string, intensity float64) {
	if a == b {
		return
	}
	s.RivalryLedger(a).ApplyConflict(b, intensity)
	s.RivalryLedger(b).ApplyConflict(a, intensity)
}

func (s *Service) Ledger(agentID string) *Ledger {
	l, ok := s.ledgers[agentID]
	if !ok {
		l = NewLedger(agentID, s.params, s)
		s.ledgers[agentID] = l
	}
	return l
}

func (s *Service) RivalryLedger(agentID string) *RivalryLedger {
	l, ok := s.rivals[agentID]
	if !ok {
		l = NewRivalryLedger(agentID, s.rivalry, s)
		s.rivals[agentID] = l
	}
	return l
}

func (s *Service) Tie(agentID, otherID string) (Edge, bool) {
	l, ok := s.ledgers[agentID]
	if !ok {
		return Edge{}, false
	}
	return l.TieFor(otherID)
}

func (s *Service) RivalryValue(agentID, otherID string) float64 {
	l, ok := s.rivals[agentID]
	if !ok {
		return 0
	}
	return l.ScoreFor(otherID)
}

func (s *Service) ShouldAvoid(agentID, otherID string) bool {
	l, ok := s.rivals[agentID]
	return ok && l.ShouldAvoid(otherID)
}

func (s *Service) RivalryTop(agentID string, limit int) []Rival {
	l, ok := s.rivals[agentID]
	if !ok {
		return nil
	}
	return l.TopRivals(limit)
}

// Decay runs one tick of decay on every ledger and drops ledgers left empty.
func (s *Service) Decay() {
	for _, id := range sortedKeys(s.rivals) {
		l := s.rivals[id]
		l.Decay(1)
		if l.Len() == 0 {
			delete(s.rivals, id)
		}
	}
	for _, id := range sortedKeys(s.ledgers) {
		l := s.ledgers[id]
		l.Decay()
		if l.Len() == 0 {
			delete(s.ledgers, id)
		}
	}
}

// RemoveAgent drops the agent's own ledgers and every edge pointing at it.
func (s *Service) RemoveAgent(agentID string) {
	delete(s.ledgers, agentID)
	for _, id := range sortedKeys(s.ledgers) {
		s.ledgers[id].RemoveTie(agentID, EvictRemoved)
	}
	delete(s.rivals, agentID)
	for _, id := range sortedKeys(s.rivals) {
		s.rivals[id].Remove(agentID, EvictRemoved)
	}
}

func (s *Service) RelationshipsSnapshot() map[string]map[string]Edge {
	out := map[string]map[string]Edge{}
	for id, l := range s.ledgers {
		if l.Len() > 0 {
			out[id] = l.Snapshot()
		}
	}
	return out
}

func (s *Service) RivalrySnapshot() map[string]map[string]float64 {
	out := map[string]map[string]float64{}
	for id, l := range s.rivals {
		if l.Len() > 0 {
			out[id] = l.Snapshot()
		}
	}
	return out
}

// LoadRelationshipSnapshot replaces every ledger. Capacity pruning during the load is not
// reported as churn.
func (s *Service) LoadRelationshipSnapshot(snap map[string]map[string]Edge) {
	s.ledgers = map[string]*Ledger{}
	for _, owner := range sortedKeys(snap) {
		l := NewLedger(owner, s.params, nil)
		l.Inject(snap[owner])
		l.SetEvictionHook(owner, s)
		if l.Len() > 0 {
			s.ledgers[owner] = l
		}
	}
}

func (s *Service) LoadRivalrySnapshot(snap map[string]map[string]float64) {
	s.rivals = map[string]*RivalryLedger{}
	for _, owner := range sortedKeys(snap) {
		scores := snap[owner]
		pairs := make([]Rival, 0, len(scores))
		for _, other := range sortedKeys(scores) {
			pairs = append(pairs, Rival{OtherID: other, Score: scores[other]})
		}
		l := NewRivalryLedger(owner, s.rivalry, nil)
		l.Inject(pairs)
		l.SetEvictionHook(s)
		if l.Len() > 0 {
			s.rivals[owner] = l
		}
	}
}

func (s *Service) ChurnPayload() ChurnPayload { return s.churn.LatestPayload() }

func (s *Service) LoadChurn(p ChurnPayload) error { return s.churn.Ingest(p) }

// UpdateCounts returns how many relationship updates were applied per event label.
func (s *Service) UpdateCounts() map[Event]int {
	out := make(map[Event]int, len(s.updates))
	for k, v := range s.updates {
		out[k] = v
	}
	return out
}

// Agents returns the ids of agents that own a relationship ledger, sorted.
func (s *Service) Agents() []string { return sortedKeys(s.ledgers) }

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
