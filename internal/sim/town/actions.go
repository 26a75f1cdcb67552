package town

import (
	"errors"
	"math"

	"townlet.ai/internal/protocol"
	"townlet.ai/internal/sim/conflict"
	"townlet.ai/internal/sim/relationships"
	"townlet.ai/internal/sim/slots"
)

type ActionKind string

const (
	ActJoin     ActionKind = "JOIN"
	ActLeave    ActionKind = "LEAVE"
	ActRequest  ActionKind = "REQUEST"
	ActRelease  ActionKind = "RELEASE"
	ActHandover ActionKind = "HANDOVER"
	ActBlocked  ActionKind = "BLOCKED"
	ActChat     ActionKind = "CHAT"
)

// Action is one agent intent applied at a tick boundary.
//
// Target is the preferred successor for HANDOVER and the listener for CHAT.
// Failed marks a RELEASE whose interaction did not complete.
type Action struct {
	Kind     ActionKind `json:"kind"`
	AgentID  string     `json:"agent_id"`
	ObjectID string     `json:"object_id,omitempty"`
	Target   string     `json:"target,omitempty"`
	Failed   bool       `json:"failed,omitempty"`
	Quality  float64    `json:"quality,omitempty"`
}

const EventActionRejected = "action_rejected"

func rejected(tick uint64, a Action, code, message string) protocol.Event {
	e := protocol.Event{
		"type":     EventActionRejected,
		"tick":     tick,
		"kind":     string(a.Kind),
		"agent_id": a.AgentID,
		"code":     code,
	}
	if a.ObjectID != "" {
		e["object_id"] = a.ObjectID
	}
	if message != "" {
		e["message"] = message
	}
	return e
}

// apply runs a single action and reports whether it should be recorded for replay.
// Actions from agents that have not joined are dropped.
func (t *Town) apply(a Action, nowTick uint64) bool {
	if a.AgentID == "" {
		return false
	}
	if a.Kind == ActJoin {
		return t.join(a, nowTick)
	}
	if _, ok := t.agents[a.AgentID]; !ok {
		return false
	}
	switch a.Kind {
	case ActLeave:
		t.leave(a.AgentID, nowTick)
	case ActRequest:
		if a.ObjectID == "" {
			t.Emit(rejected(nowTick, a, protocol.ErrBadAction, "missing object_id"))
			return true
		}
		t.request(a, nowTick)
	case ActRelease:
		if a.ObjectID == "" {
			t.Emit(rejected(nowTick, a, protocol.ErrBadAction, "missing object_id"))
			return true
		}
		t.queue.Release(a.ObjectID, a.AgentID, nowTick, !a.Failed)
	case ActHandover:
		if a.ObjectID == "" {
			t.Emit(rejected(nowTick, a, protocol.ErrBadAction, "missing object_id"))
			return true
		}
		if holder, ok := t.queue.ActiveAgent(a.ObjectID); !ok || holder != a.AgentID {
			t.Emit(rejected(nowTick, a, protocol.ErrBadAction, "not the holder"))
			return true
		}
		t.Handover(a.ObjectID, a.AgentID, a.Target, nowTick)
	case ActBlocked:
		if a.ObjectID == "" {
			t.Emit(rejected(nowTick, a, protocol.ErrBadAction, "missing object_id"))
			return true
		}
		t.blocked(a.ObjectID, nowTick)
	case ActChat:
		if _, ok := t.agents[a.Target]; !ok || a.Target == a.AgentID {
			t.Emit(rejected(nowTick, a, protocol.ErrBadAction, "unknown listener"))
			return true
		}
		t.chat(a.AgentID, a.Target, a.Quality, nowTick)
	default:
		t.Emit(rejected(nowTick, a, protocol.ErrBadAction, "unknown kind"))
	}
	return true
}

func (t *Town) join(a Action, nowTick uint64) bool {
	if _, ok := t.agents[a.AgentID]; ok {
		return false
	}
	slot, err := t.slots.Allocate(a.AgentID, nowTick)
	if err != nil {
		code := protocol.ErrInternal
		if errors.Is(err, slots.ErrPoolExhausted) {
			code = protocol.ErrNoSlots
		}
		t.Emit(rejected(nowTick, a, code, err.Error()))
		return true
	}
	t.agents[a.AgentID] = &Agent{ID: a.AgentID, JoinedTick: nowTick, Slot: slot}
	return true
}

func (t *Town) leave(agentID string, nowTick uint64) {
	t.queue.RemoveAgent(agentID, nowTick)
	t.rels.RemoveAgent(agentID)
	t.tracker.RemoveAgent(agentID)
	t.slots.Release(agentID, nowTick)
	delete(t.agents, agentID)
}

// request asks for the object unless the agent should avoid the current holder, in which
// case it steps aside and an avoidance event is recorded.
func (t *Town) request(a Action, nowTick uint64) {
	if holder, ok := t.queue.ActiveAgent(a.ObjectID); ok && holder != a.AgentID && t.rels.ShouldAvoid(a.AgentID, holder) {
		t.tracker.RecordAvoidanceEvent(protocol.AvoidanceEvent{
			Tick:     nowTick,
			Agent:    a.AgentID,
			Rival:    holder,
			ObjectID: a.ObjectID,
		})
		return
	}
	t.queue.RequestAccess(a.ObjectID, a.AgentID, nowTick)
}

// Handover releases objectID from departing and promotes preferred (when it is waiting)
// ahead of the rest of the queue. The exchange is recorded as a polite interaction.
// It is a no-op unless departing currently holds objectID.
func (t *Town) Handover(objectID, departing, preferred string, nowTick uint64) {
	if holder, ok := t.queue.ActiveAgent(objectID); !ok || holder != departing {
		return
	}
	waiting := t.queue.QueueSnapshot(objectID)
	if !contains(waiting, preferred) {
		preferred = ""
	}
	if preferred != "" {
		t.queue.PromoteAgent(objectID, preferred)
	}
	t.queue.Release(objectID, departing, nowTick, true)
	if len(waiting) == 0 {
		return
	}
	rival := preferred
	if rival == "" {
		rival = waiting[0]
	}
	t.tracker.RecordQueueConflict(conflict.Conflict{
		ObjectID:    objectID,
		Actor:       departing,
		Rival:       rival,
		Reason:      conflict.Handover,
		QueueLength: len(waiting),
	})
}

// systemGhostSteps counts one blocked attempt for every held object with waiters and
// forces out holders that have stalled their queue for too long.
func (t *Town) systemGhostSteps(nowTick uint64) {
	for _, objectID := range t.queue.HeldObjects() {
		t.blocked(objectID, nowTick)
	}
}

// blocked counts a blocked attempt only while the object is held and some waiter could take
// it over; waiters that are all cooling down are not blocked by the holder.
func (t *Town) blocked(objectID string, nowTick uint64) {
	holder, held := t.queue.ActiveAgent(objectID)
	if !held || !t.queue.HasEligibleWaiter(objectID, nowTick) {
		return
	}
	if !t.queue.RecordBlockedAttempt(objectID) {
		return
	}
	waiting := t.queue.QueueSnapshot(objectID)
	rival := holder
	if len(waiting) > 0 {
		rival = waiting[0]
	}
	t.queue.Release(objectID, holder, nowTick, false)
	t.queue.RequeueToTail(objectID, holder, nowTick)
	t.tracker.RecordQueueConflict(conflict.Conflict{
		ObjectID:    objectID,
		Actor:       holder,
		Rival:       rival,
		Reason:      conflict.GhostStep,
		QueueLength: len(waiting),
	})
}

func (t *Town) chat(speaker, listener string, quality float64, nowTick uint64) {
	if quality < 0 || math.IsNaN(quality) {
		quality = 0
	}
	if quality > 1 {
		quality = 1
	}
	t.rels.UpdateRelationship(speaker, listener, relationships.Delta{
		Trust:       0.05 * quality,
		Familiarity: 0.10 * quality,
	}, relationships.EventChat)
	t.tracker.RecordChatEvent(protocol.ChatEvent{Tick: nowTick, Speaker: speaker, Listener: listener, Quality: quality})
}

func contains(list []string, s string) bool {
	if s == "" {
		return false
	}
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
