package slots

import (
	"encoding/json"
	"sort"
)

type ReleaseEntry struct {
	Slot       int    `json:"slot"`
	ReleasedAt uint64 `json:"released_at"`
	LastOwner  string `json:"last_owner,omitempty"`
}

type State struct {
	Assignments      map[string]int `json:"assignments"`
	Released         []ReleaseEntry `json:"released"`
	AllocationsTotal int            `json:"allocations_total"`
	ForcedReuseCount int            `json:"forced_reuse_count"`
}

func (a *Allocator) ExportState() State {
	s := State{
		Assignments:      make(map[string]int, len(a.assignments)),
		AllocationsTotal: a.allocations,
		ForcedReuseCount: a.forced,
	}
	for id, slot := range a.assignments {
		s.Assignments[id] = slot
	}
	for slot, st := range a.state {
		if st.released {
			s.Released = append(s.Released, ReleaseEntry{Slot: slot, ReleasedAt: st.releasedAt, LastOwner: st.lastOwner})
		}
	}
	return s
}

// ImportState replaces the allocator's bookkeeping. Out-of-range slots are dropped and a
// slot claimed by several agents goes to the lexically smallest id so no two agents share.
func (a *Allocator) ImportState(s State) {
	a.assignments = map[string]int{}
	for i := range a.owners {
		a.owners[i] = ""
		a.state[i] = slotState{}
	}
	ids := make([]string, 0, len(s.Assignments))
	for id := range s.Assignments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		slot := s.Assignments[id]
		if id == "" || slot < 0 || slot >= len(a.owners) || a.owners[slot] != "" {
			continue
		}
		a.assignments[id] = slot
		a.owners[slot] = id
	}
	for _, r := range s.Released {
		if r.Slot < 0 || r.Slot >= len(a.state) {
			continue
		}
		a.state[r.Slot] = slotState{released: true, releasedAt: r.ReleasedAt, lastOwner: r.LastOwner}
	}
	a.allocations = s.AllocationsTotal
	if a.allocations < 0 {
		a.allocations = 0
	}
	a.forced = s.ForcedReuseCount
	if a.forced < 0 || a.forced > a.allocations {
		a.forced = 0
	}
	a.pending = nil
}

// DecodeState parses a JSON payload, returning the empty state when it is malformed.
func DecodeState(b []byte) State {
	var s State
	if err := json.Unmarshal(b, &s); err != nil {
		return State{}
	}
	return s
}
