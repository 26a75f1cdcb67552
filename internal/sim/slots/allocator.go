// Package slots hands out small, stable integer identity slots from a bounded pool.
// A released slot is reused only after a cooldown unless the pool is under pressure,
// in which case the oldest released slot is force-reused and counted.
package slots

import (
	"errors"
	"fmt"
	"log"
	"sort"

	"townlet.ai/internal/protocol"
	"townlet.ai/internal/sim/tuning"
)

var (
	// ErrNoSlots is a configuration error: the pool has no slots at all.
	ErrNoSlots = errors.New("slots: no embedding slots configured; increase max_slots")
	// ErrPoolExhausted means every slot is currently held by another agent.
	ErrPoolExhausted = errors.New("slots: every slot is in use")
)

type slotState struct {
	released   bool
	releasedAt uint64
	lastOwner  string
}

type Metrics struct {
	AllocationsTotal int     `json:"allocations_total"`
	ForcedReuseCount int     `json:"forced_reuse_count"`
	ForcedReuseRate  float64 `json:"forced_reuse_rate"`
	ReuseWarning     bool    `json:"reuse_warning"`
	InUse            int     `json:"in_use"`
	MaxSlots         int     `json:"max_slots"`
}

type Allocator struct {
	cfg    tuning.EmbeddingAllocator
	logger *log.Logger

	assignments map[string]int
	owners      []string // slot -> current owner, "" when free
	state       []slotState

	allocations int
	forced      int
	pending     []protocol.ForcedReuse
}

// New returns an allocator with cfg.MaxSlots slots. logger may be nil.
func New(cfg tuning.EmbeddingAllocator, logger *log.Logger) (*Allocator, error) {
	if cfg.MaxSlots <= 0 {
		return nil, ErrNoSlots
	}
	return &Allocator{
		cfg:         cfg,
		logger:      logger,
		assignments: map[string]int{},
		owners:      make([]string, cfg.MaxSlots),
		state:       make([]slotState, cfg.MaxSlots),
	}, nil
}

func (a *Allocator) MaxSlots() int { return len(a.owners) }

// Allocate returns agentID's slot, assigning one if it has none.
func (a *Allocator) Allocate(agentID string, tick uint64) (int, error) {
	if slot, ok := a.assignments[agentID]; ok {
		return slot, nil
	}
	slot, forced, err := a.selectSlot(tick)
	if err != nil {
		return -1, err
	}
	a.assignments[agentID] = slot
	a.owners[slot] = agentID
	a.allocations++
	if forced {
		a.forced++
		st := a.state[slot]
		ev := protocol.ForcedReuse{AgentID: agentID, Slot: slot, PreviousOwner: st.lastOwner, ReleasedAt: st.releasedAt}
		a.pending = append(a.pending, ev)
		if a.logger != nil && a.cfg.LogForcedReuse {
			a.logger.Printf("embedding slot %d force-reused for %s at tick %d (released at %d, cooldown %d)",
				slot, agentID, tick, st.releasedAt, a.cfg.CooldownTicks)
		}
	}
	return slot, nil
}

func (a *Allocator) selectSlot(tick uint64) (int, bool, error) {
	cooldown := uint64(0)
	if a.cfg.CooldownTicks > 0 {
		cooldown = uint64(a.cfg.CooldownTicks)
	}
	ready, oldest := -1, -1
	for slot, owner := range a.owners {
		if owner != "" {
			continue
		}
		st := a.state[slot]
		if !st.released {
			return slot, false, nil
		}
		if tick >= st.releasedAt && tick-st.releasedAt >= cooldown {
			if ready < 0 || st.releasedAt < a.state[ready].releasedAt {
				ready = slot
			}
		}
		if oldest < 0 || st.releasedAt < a.state[oldest].releasedAt {
			oldest = slot
		}
	}
	if ready >= 0 {
		return ready, false, nil
	}
	if oldest >= 0 {
		return oldest, true, nil
	}
	return -1, false, ErrPoolExhausted
}

// Release frees agentID's slot and stamps the release tick. Unknown agents are ignored.
func (a *Allocator) Release(agentID string, tick uint64) {
	slot, ok := a.assignments[agentID]
	if !ok {
		return
	}
	delete(a.assignments, agentID)
	a.owners[slot] = ""
	a.state[slot] = slotState{released: true, releasedAt: tick, lastOwner: agentID}
}

func (a *Allocator) HasAssignment(agentID string) bool {
	_, ok := a.assignments[agentID]
	return ok
}

func (a *Allocator) SlotFor(agentID string) (int, bool) {
	slot, ok := a.assignments[agentID]
	return slot, ok
}

func (a *Allocator) Metrics() Metrics {
	total := a.allocations
	if total == 0 {
		total = 1
	}
	rate := float64(a.forced) / float64(total)
	return Metrics{
		AllocationsTotal: a.allocations,
		ForcedReuseCount: a.forced,
		ForcedReuseRate:  rate,
		ReuseWarning:     a.cfg.ReuseWarningThreshold > 0 && rate > a.cfg.ReuseWarningThreshold,
		InUse:            len(a.assignments),
		MaxSlots:         len(a.owners),
	}
}

// ConsumeForcedReuseEvents drains forced reuse records accumulated since the last call.
func (a *Allocator) ConsumeForcedReuseEvents() []protocol.ForcedReuse {
	out := a.pending
	a.pending = nil
	return out
}

// Assignments returns agent ids in slot order.
func (a *Allocator) Assignments() []string {
	ids := make([]string, 0, len(a.assignments))
	for id := range a.assignments {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return a.assignments[ids[i]] < a.assignments[ids[j]] })
	return ids
}

func (a *Allocator) String() string {
	m := a.Metrics()
	return fmt.Sprintf("slots{in_use=%d/%d allocations=%d forced=%d}", m.InUse, m.MaxSlots, m.AllocationsTotal, m.ForcedReuseCount)
}
