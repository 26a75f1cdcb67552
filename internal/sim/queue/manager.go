// Package queue serializes access to single-occupant interactive objects.
//
// Each object id owns an independent queue: at most one holder, an ordered list of
// waiters, per-(object, agent) cooldowns and a blocked-attempt counter that drives the
// ghost step. A Manager is not safe for concurrent use; it is owned by the tick loop.
package queue

import (
	"sort"
	"time"

	"townlet.ai/internal/sim/tuning"
)

type Entry struct {
	AgentID    string `json:"agent_id"`
	JoinedTick uint64 `json:"joined_tick"`
}

type Metrics struct {
	CooldownEvents  int `json:"cooldown_events"`
	GhostStepEvents int `json:"ghost_step_events"`
	RotationEvents  int `json:"rotation_events"`
	FailedReleases  int `json:"failed_releases"`
}

type PerformanceMetrics struct {
	RequestNs    int64 `json:"request_ns"`
	ReleaseNs    int64 `json:"release_ns"`
	AssignNs     int64 `json:"assign_ns"`
	BlockedNs    int64 `json:"blocked_ns"`
	Requests     int64 `json:"requests"`
	Releases     int64 `json:"releases"`
	AssignCalls  int64 `json:"assign_calls"`
	BlockedCalls int64 `json:"blocked_calls"`
}

type cooldownKey struct {
	object string
	agent  string
}

type Manager struct {
	settings tuning.QueueFairness

	queues    map[string][]Entry
	active    map[string]string
	cooldowns map[cooldownKey]uint64
	stalls    map[string]int

	metrics Metrics
	perf    PerformanceMetrics
}

func NewManager(settings tuning.QueueFairness) *Manager {
	m := &Manager{settings: settings}
	m.Reset()
	return m
}

// Reset drops every queue, hold, cooldown and counter.
func (m *Manager) Reset() {
	m.queues = map[string][]Entry{}
	m.active = map[string]string{}
	m.cooldowns = map[cooldownKey]uint64{}
	m.stalls = map[string]int{}
	m.metrics = Metrics{}
	m.perf = PerformanceMetrics{}
}

// OnTick expires elapsed cooldowns and hands free objects to waiters that became eligible.
func (m *Manager) OnTick(tick uint64) {
	for k, expiry := range m.cooldowns {
		if expiry <= tick {
			delete(m.cooldowns, k)
		}
	}
	for _, objectID := range m.sortedQueueIDs() {
		if _, held := m.active[objectID]; held {
			continue
		}
		m.assignNext(objectID, tick)
	}
}

// RequestAccess returns true when agentID holds objectID after the call.
// Agents in cooldown for the object are denied without being queued.
func (m *Manager) RequestAccess(objectID, agentID string, tick uint64) bool {
	start := time.Now()
	m.perf.Requests++
	defer func() { m.perf.RequestNs += time.Since(start).Nanoseconds() }()

	if m.inCooldown(objectID, agentID, tick) {
		m.metrics.CooldownEvents++
		return false
	}
	if holder, ok := m.active[objectID]; ok && holder == agentID {
		return true
	}
	if indexOf(m.queues[objectID], agentID) < 0 {
		m.queues[objectID] = append(m.queues[objectID], Entry{AgentID: agentID, JoinedTick: tick})
	}
	granted, ok := m.assignNext(objectID, tick)
	return ok && granted == agentID
}

// Release ends agentID's interaction with objectID. A successful release starts a cooldown
// for (objectID, agentID) whether or not agentID held the object. A failed release by the
// holder (an aborted interaction or a ghost step) clears that cooldown instead, so the
// agent may wait again right away; a failed release by anyone else changes nothing but
// the counter.
func (m *Manager) Release(objectID, agentID string, tick uint64, success bool) {
	start := time.Now()
	m.perf.Releases++
	defer func() { m.perf.ReleaseNs += time.Since(start).Nanoseconds() }()

	holder, held := m.active[objectID]
	isHolder := held && holder == agentID
	key := cooldownKey{object: objectID, agent: agentID}
	switch {
	case success && m.settings.CooldownTicks > 0:
		m.cooldowns[key] = tick + uint64(m.settings.CooldownTicks)
	case !success:
		m.metrics.FailedReleases++
		if isHolder {
			delete(m.cooldowns, key)
		}
	}
	if isHolder {
		delete(m.active, objectID)
		delete(m.stalls, objectID)
	}
	m.assignNext(objectID, tick)
}

// HasEligibleWaiter reports whether some waiter on objectID is out of cooldown at tick.
func (m *Manager) HasEligibleWaiter(objectID string, tick uint64) bool {
	for _, e := range m.queues[objectID] {
		if !m.inCooldown(objectID, e.AgentID, tick) {
			return true
		}
	}
	return false
}

// RecordBlockedAttempt reports whether the holder of objectID should be ghost-stepped.
func (m *Manager) RecordBlockedAttempt(objectID string) bool {
	start := time.Now()
	m.perf.BlockedCalls++
	defer func() { m.perf.BlockedNs += time.Since(start).Nanoseconds() }()

	limit := m.settings.GhostStepAfter
	if limit <= 0 {
		return false
	}
	count := m.stalls[objectID] + 1
	if count >= limit {
		m.stalls[objectID] = 0
		m.metrics.GhostStepEvents++
		return true
	}
	m.stalls[objectID] = count
	return false
}

// RequeueToTail moves agentID to the back of objectID's waiting list, appending it when
// absent. The current holder and an agent already at the tail are left alone.
func (m *Manager) RequeueToTail(objectID, agentID string, tick uint64) {
	if holder, ok := m.active[objectID]; ok && holder == agentID {
		return
	}
	q := m.queues[objectID]
	idx := indexOf(q, agentID)
	if idx >= 0 && idx == len(q)-1 {
		return
	}
	if idx >= 0 {
		q = append(q[:idx], q[idx+1:]...)
	}
	m.queues[objectID] = append(q, Entry{AgentID: agentID, JoinedTick: tick})
	m.metrics.RotationEvents++
}

// PromoteAgent moves a waiter to the head of the queue and gives it the oldest join tick,
// so it wins the next assignment unless it is cooling down.
func (m *Manager) PromoteAgent(objectID, agentID string) {
	q := m.queues[objectID]
	idx := indexOf(q, agentID)
	if idx <= 0 {
		return
	}
	e := q[idx]
	for _, other := range q {
		if other.JoinedTick < e.JoinedTick {
			e.JoinedTick = other.JoinedTick
		}
	}
	copy(q[1:idx+1], q[:idx])
	q[0] = e
	m.metrics.RotationEvents++
}

// RemoveAgent drops every hold, wait and cooldown belonging to agentID.
func (m *Manager) RemoveAgent(agentID string, tick uint64) {
	var freed []string
	for objectID, holder := range m.active {
		if holder == agentID {
			delete(m.active, objectID)
			delete(m.stalls, objectID)
			freed = append(freed, objectID)
		}
	}
	for objectID, q := range m.queues {
		if idx := indexOf(q, agentID); idx >= 0 {
			q = append(q[:idx], q[idx+1:]...)
		}
		if len(q) == 0 {
			delete(m.queues, objectID)
			continue
		}
		m.queues[objectID] = q
	}
	for k := range m.cooldowns {
		if k.agent == agentID {
			delete(m.cooldowns, k)
		}
	}
	sort.Strings(freed)
	for _, objectID := range freed {
		m.assignNext(objectID, tick)
	}
}

func (m *Manager) ActiveAgent(objectID string) (string, bool) {
	id, ok := m.active[objectID]
	return id, ok
}

// QueueSnapshot returns the waiting agent ids in list order.
func (m *Manager) QueueSnapshot(objectID string) []string {
	q := m.queues[objectID]
	out := make([]string, 0, len(q))
	for _, e := range q {
		out = append(out, e.AgentID)
	}
	return out
}

func (m *Manager) QueueLength(objectID string) int { return len(m.queues[objectID]) }

// CooldownUntil returns the tick at which agentID may use objectID again.
func (m *Manager) CooldownUntil(objectID, agentID string) (uint64, bool) {
	v, ok := m.cooldowns[cooldownKey{object: objectID, agent: agentID}]
	return v, ok
}

// HeldObjects returns the ids of objects that currently have a holder, sorted.
func (m *Manager) HeldObjects() []string {
	out := make([]string, 0, len(m.active))
	for id := range m.active {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Objects returns every object id with a holder or waiters, sorted.
func (m *Manager) Objects() []string {
	seen := map[string]bool{}
	for id := range m.active {
		seen[id] = true
	}
	for id, q := range m.queues {
		if len(q) > 0 {
			seen[id] = true
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) Metrics() Metrics { return m.metrics }

func (m *Manager) PerformanceMetrics() PerformanceMetrics { return m.perf }

func (m *Manager) ResetPerformanceMetrics() { m.perf = PerformanceMetrics{} }

func (m *Manager) inCooldown(objectID, agentID string, tick uint64) bool {
	k := cooldownKey{object: objectID, agent: agentID}
	expiry, ok := m.cooldowns[k]
	if !ok {
		return false
	}
	if tick >= expiry {
		delete(m.cooldowns, k)
		return false
	}
	return true
}

// assignNext hands a free object to the eligible waiter with the highest age priority.
// Ties keep list order, so a zero age_priority_weight is plain FIFO.
func (m *Manager) assignNext(objectID string, tick uint64) (string, bool) {
	start := time.Now()
	m.perf.AssignCalls++
	defer func() { m.perf.AssignNs += time.Since(start).Nanoseconds() }()

	if _, held := m.active[objectID]; held {
		return "", false
	}
	q := m.queues[objectID]
	if len(q) == 0 {
		return "", false
	}

	best := -1
	var bestScore float64
	for i, e := range q {
		if m.inCooldown(objectID, e.AgentID, tick) {
			continue
		}
		var wait uint64
		if tick > e.JoinedTick {
			wait = tick - e.JoinedTick
		}
		score := m.settings.AgePriorityWeight * float64(wait)
		if best < 0 || score > bestScore {
			best = i
			bestScore = score
		}
	}
	if best < 0 {
		return "", false
	}

	e := q[best]
	q = append(q[:best], q[best+1:]...)
	if len(q) == 0 {
		delete(m.queues, objectID)
	} else {
		m.queues[objectID] = q
	}
	m.active[objectID] = e.AgentID
	delete(m.stalls, objectID)
	return e.AgentID, true
}

func (m *Manager) sortedQueueIDs() []string {
	out := make([]string, 0, len(m.queues))
	for id := range m.queues {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func indexOf(q []Entry, agentID string) int {
	for i, e := range q {
		if e.AgentID == agentID {
			return i
		}
	}
	return -1
}
