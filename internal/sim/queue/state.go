package queue

import (
	"encoding/json"
	"sort"
)

type CooldownEntry struct {
	ObjectID string `json:"object_id"`
	AgentID  string `json:"agent_id"`
	Expiry   uint64 `json:"expiry"`
}

// State is the persisted form of a Manager. Cooldowns are sorted by (object, agent).
type State struct {
	Active      map[string]string  `json:"active"`
	Queues      map[string][]Entry `json:"queues"`
	Cooldowns   []CooldownEntry    `json:"cooldowns"`
	StallCounts map[string]int     `json:"stall_counts"`
	Metrics     Metrics            `json:"metrics"`
}

func (m *Manager) ExportState() State {
	st := State{
		Active:      make(map[string]string, len(m.active)),
		Queues:      make(map[string][]Entry, len(m.queues)),
		Cooldowns:   make([]CooldownEntry, 0, len(m.cooldowns)),
		StallCounts: make(map[string]int, len(m.stalls)),
		Metrics:     m.metrics,
	}
	for k, v := range m.active {
		st.Active[k] = v
	}
	for k, q := range m.queues {
		st.Queues[k] = append([]Entry(nil), q...)
	}
	for k, expiry := range m.cooldowns {
		st.Cooldowns = append(st.Cooldowns, CooldownEntry{ObjectID: k.object, AgentID: k.agent, Expiry: expiry})
	}
	sort.Slice(st.Cooldowns, func(i, j int) bool {
		a, b := st.Cooldowns[i], st.Cooldowns[j]
		if a.ObjectID != b.ObjectID {
			return a.ObjectID < b.ObjectID
		}
		return a.AgentID < b.AgentID
	})
	for k, v := range m.stalls {
		st.StallCounts[k] = v
	}
	return st
}

// ImportState replaces the manager's state. Entries that would break queue invariants
// (empty ids, duplicate waiters, a holder also waiting) are dropped rather than rejected.
// Performance counters are not part of the state and are reset.
func (m *Manager) ImportState(st State) {
	m.Reset()
	for objectID, agentID := range st.Active {
		if objectID == "" || agentID == "" {
			continue
		}
		m.active[objectID] = agentID
	}
	for objectID, entries := range st.Queues {
		if objectID == "" {
			continue
		}
		holder, held := m.active[objectID]
		seen := map[string]bool{}
		var q []Entry
		for _, e := range entries {
			if e.AgentID == "" || seen[e.AgentID] || (held && e.AgentID == holder) {
				continue
			}
			seen[e.AgentID] = true
			q = append(q, e)
		}
		if len(q) > 0 {
			m.queues[objectID] = q
		}
	}
	for _, c := range st.Cooldowns {
		if c.ObjectID == "" || c.AgentID == "" {
			continue
		}
		m.cooldowns[cooldownKey{object: c.ObjectID, agent: c.AgentID}] = c.Expiry
	}
	for objectID, n := range st.StallCounts {
		if objectID == "" || n < 0 {
			continue
		}
		m.stalls[objectID] = n
	}
	m.metrics = st.Metrics
}

// DecodeState parses a JSON-encoded State. Malformed input yields the empty State.
func DecodeState(raw []byte) State {
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}
	}
	return st
}
