// Package conflict turns queue friction into relationship changes, emitted events and a
// bounded rivalry history for telemetry.
package conflict

import (
	"math"

	"townlet.ai/internal/protocol"
	"townlet.ai/internal/sim/relationships"
	"townlet.ai/internal/sim/tuning"
)

const (
	MinIntensity = 0.1
	MaxIntensity = 5.0

	rivalryPerIntensity = 0.05
	handoverStep        = 0.05
)

type Relationships interface {
	UpdateRelationship(a, b string, d relationships.Delta, ev relationships.Event)
	ApplyRivalryConflict(a, b string, intensity float64)
}

type Emitter interface {
	Emit(ev protocol.Event)
}

type Clock interface {
	CurrentTick() uint64
}

type Deps struct {
	Relationships Relationships
	Emitter       Emitter
	Clock         Clock
}

// Conflict describes one queue incident between actor and rival at an object.
// A nil Intensity is derived from the reason and queue length.
type Conflict struct {
	ObjectID    string
	Actor       string
	Rival       string
	Reason      Reason
	QueueLength int
	Intensity   *float64
}

type Stats struct {
	Escalations int `json:"escalations"`
	Handovers   int `json:"handovers"`
	Ignored     int `json:"ignored"`
}

type Tracker struct {
	deps   Deps
	params tuning.Rivalry

	rivalry   *RivalryRing
	chats     []protocol.ChatEvent
	avoidance []protocol.AvoidanceEvent
	stats     Stats
}

func NewTracker(deps Deps, params tuning.Rivalry, ringCapacity int) *Tracker {
	return &Tracker{
		deps:    deps,
		params:  params,
		rivalry: NewRivalryRing(ringCapacity),
	}
}

// DeriveIntensity returns the clamped escalation intensity for a reason at a given queue
// length. Ghost steps use ghost_step_boost; every other escalating reason uses
// handover_boost.
func DeriveIntensity(p tuning.Rivalry, reason Reason, queueLength int) float64 {
	boost := p.HandoverBoost
	if reason.Kind == KindGhostStep {
		boost = p.GhostStepBoost
	}
	extra := queueLength - 1
	if extra < 0 {
		extra = 0
	}
	return clampIntensity(boost + p.QueueLengthBoost*float64(extra))
}

func clampIntensity(v float64) float64 {
	if math.IsNaN(v) || v < MinIntensity {
		return MinIntensity
	}
	if v > MaxIntensity {
		return MaxIntensity
	}
	return v
}

func (t *Tracker) RecordQueueConflict(c Conflict) {
	if c.Actor == c.Rival {
		t.stats.Ignored++
		return
	}
	tick := t.tick()
	if !c.Reason.Escalates() {
		t.stats.Handovers++
		if t.deps.Relationships != nil {
			t.deps.Relationships.UpdateRelationship(c.Actor, c.Rival, relationships.Delta{
				Trust:       handoverStep,
				Familiarity: handoverStep,
				Rivalry:     -handoverStep,
			}, relationships.EventQueuePolite)
		}
		t.emit(protocol.QueueInteraction{
			ObjectID:    c.ObjectID,
			Actor:       c.Actor,
			Rival:       c.Rival,
			Reason:      c.Reason.String(),
			QueueLength: c.QueueLength,
			Variant:     "handover",
		}.Event(tick))
		return
	}

	var intensity float64
	if c.Intensity != nil {
		intensity = clampIntensity(*c.Intensity)
	} else {
		intensity = DeriveIntensity(t.params, c.Reason, c.QueueLength)
	}
	t.stats.Escalations++
	if t.deps.Relationships != nil {
		t.deps.Relationships.ApplyRivalryConflict(c.Actor, c.Rival, intensity)
		t.deps.Relationships.UpdateRelationship(c.Actor, c.Rival, relationships.Delta{
			Rivalry: rivalryPerIntensity * intensity,
		}, relationships.EventConflict)
	}
	t.emit(protocol.QueueConflict{
		ObjectID:    c.ObjectID,
		Actor:       c.Actor,
		Rival:       c.Rival,
		Reason:      c.Reason.String(),
		QueueLength: c.QueueLength,
		Intensity:   intensity,
	}.Event(tick))
	t.rivalry.Push(protocol.RivalryEvent{
		Tick:      tick,
		AgentA:    c.Actor,
		AgentB:    c.Rival,
		Intensity: intensity,
		Reason:    c.Reason.String(),
	})
}

func (t *Tracker) RecordChatEvent(ev protocol.ChatEvent) { t.chats = append(t.chats, ev) }

func (t *Tracker) ConsumeChatEvents() []protocol.ChatEvent {
	out := t.chats
	t.chats = nil
	return out
}

func (t *Tracker) RecordAvoidanceEvent(ev protocol.AvoidanceEvent) {
	t.avoidance = append(t.avoidance, ev)
}

func (t *Tracker) ConsumeAvoidanceEvents() []protocol.AvoidanceEvent {
	out := t.avoidance
	t.avoidance = nil
	return out
}

// ConsumeRivalryEvents drains the rivalry history. Entries are delivered at most once.
func (t *Tracker) ConsumeRivalryEvents() []protocol.RivalryEvent { return t.rivalry.Drain() }

// PendingRivalryEvents returns undrained rivalry events without consuming them.
func (t *Tracker) PendingRivalryEvents() []protocol.RivalryEvent { return t.rivalry.Items() }

func (t *Tracker) RestoreRivalryEvents(events []protocol.RivalryEvent) {
	t.rivalry.Clear()
	for _, ev := range events {
		t.rivalry.Push(ev)
	}
}

// RemoveAgent purges buffered entries that mention agentID.
func (t *Tracker) RemoveAgent(agentID string) {
	chats := t.chats[:0]
	for _, ev := range t.chats {
		if ev.Speaker != agentID && ev.Listener != agentID {
			chats = append(chats, ev)
		}
	}
	t.chats = chats

	avoid := t.avoidance[:0]
	for _, ev := range t.avoidance {
		if ev.Agent != agentID && ev.Rival != agentID {
			avoid = append(avoid, ev)
		}
	}
	t.avoidance = avoid

	t.rivalry.Retain(func(ev protocol.RivalryEvent) bool {
		return ev.AgentA != agentID && ev.AgentB != agentID
	})
}

func (t *Tracker) Reset() {
	t.rivalry.Clear()
	t.chats = nil
	t.avoidance = nil
	t.stats = Stats{}
}

func (t *Tracker) Stats() Stats { return t.stats }

// RingDropped reports how many rivalry events were overwritten before a drain.
func (t *Tracker) RingDropped() int { return t.rivalry.Dropped() }

func (t *Tracker) tick() uint64 {
	if t.deps.Clock == nil {
		return 0
	}
	return t.deps.Clock.CurrentTick()
}

func (t *Tracker) emit(ev protocol.Event) {
	if t.deps.Emitter != nil {
		t.deps.Emitter.Emit(ev)
	}
}
