// Package town runs the tick loop that binds admission queues, relationships, conflict
// escalation and embedding slots together.
package town

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"townlet.ai/internal/persistence/snapshot"
	"townlet.ai/internal/protocol"
	"townlet.ai/internal/sim/conflict"
	"townlet.ai/internal/sim/queue"
	"townlet.ai/internal/sim/relationships"
	"townlet.ai/internal/sim/slots"
	"townlet.ai/internal/sim/tuning"
)

type Agent struct {
	ID         string
	JoinedTick uint64
	Slot       int
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

// ActionSource supplies scripted actions for a tick. They run before inbox actions.
type ActionSource interface {
	Next(tick uint64) []Action
}

// TickSink receives the per-tick observer frame. It must not block.
type TickSink interface {
	PublishTick(msg protocol.TickMsg)
}

type TickLogEntry struct {
	Tick      uint64                    `json:"tick"`
	Actions   []Action                  `json:"actions,omitempty"`
	Events    []protocol.Event          `json:"events,omitempty"`
	Rivalry   []protocol.RivalryEvent   `json:"rivalry,omitempty"`
	Chats     []protocol.ChatEvent      `json:"chats,omitempty"`
	Avoidance []protocol.AvoidanceEvent `json:"avoidance,omitempty"`
	Digest    string                    `json:"digest"`
}

// Town is a single-threaded authoritative simulation.
// All state must be accessed only from the town loop goroutine.
type Town struct {
	cfg    tuning.Tuning
	runID  string
	logger *log.Logger

	tick atomic.Uint64

	agents map[string]*Agent

	queue   *queue.Manager
	rels    *relationships.Service
	tracker *conflict.Tracker
	slots   *slots.Allocator

	events []protocol.Event

	inbox chan Action
	stop  chan struct{}

	// Optional outputs (may be nil).
	tickLoggers  []TickLogger
	tickSink     TickSink
	source       ActionSource
	snapshotSink chan<- snapshot.SnapshotV1

	status atomic.Pointer[protocol.StateMsg]
}

// New builds a town from validated tuning. logger may be nil.
func New(cfg tuning.Tuning, logger *log.Logger) (*Town, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &Town{
		cfg:    cfg,
		runID:  uuid.NewString(),
		logger: logger,
		agents: map[string]*Agent{},
		queue:  queue.NewManager(cfg.QueueFairness),
		inbox:  make(chan Action, 1024),
		stop:   make(chan struct{}),
	}
	rels, err := relationships.NewService(cfg, t)
	if err != nil {
		return nil, err
	}
	alloc, err := slots.New(cfg.EmbeddingAllocator, logger)
	if err != nil {
		return nil, err
	}
	t.rels = rels
	t.slots = alloc
	t.tracker = conflict.NewTracker(conflict.Deps{Relationships: rels, Emitter: t, Clock: t}, cfg.Conflict.Rivalry, cfg.Telemetry.RivalryBuffer)
	t.publishStatus(0)
	return t, nil
}

func (t *Town) SetRunID(id string)                            { t.runID = id }
func (t *Town) AddTickLogger(l TickLogger)                    { t.tickLoggers = append(t.tickLoggers, l) }
func (t *Town) SetTickSink(s TickSink)                        { t.tickSink = s }
func (t *Town) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { t.snapshotSink = ch }
func (t *Town) SetActionSource(src ActionSource)              { t.source = src }
func (t *Town) RunID() string                                 { return t.runID }
func (t *Town) Tuning() tuning.Tuning                         { return t.cfg }
func (t *Town) CurrentTick() uint64                           { return t.tick.Load() }
func (t *Town) Emit(ev protocol.Event)                        { t.events = append(t.events, ev) }
func (t *Town) Queue() *queue.Manager                         { return t.queue }
func (t *Town) Relationships() *relationships.Service         { return t.rels }
func (t *Town) Tracker() *conflict.Tracker                    { return t.tracker }
func (t *Town) Slots() *slots.Allocator                       { return t.slots }

// Status returns the state published at the end of the last tick. Safe from any goroutine.
func (t *Town) Status() protocol.StateMsg { return *t.status.Load() }

var ErrInboxFull = errors.New("town: inbox full")

// Submit queues an action for the next tick without blocking.
func (t *Town) Submit(a Action) error {
	select {
	case t.inbox <- a:
		return nil
	default:
		return ErrInboxFull
	}
}

func (t *Town) Run(ctx context.Context) error {
	rate := t.cfg.TickRateHz
	if rate <= 0 {
		rate = 5
	}
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	var pending []Action
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.stop:
			return nil
		case a := <-t.inbox:
			pending = append(pending, a)
		case <-ticker.C:
			actions := pending
			if t.source != nil {
				actions = append(t.source.Next(t.tick.Load()), pending...)
			}
			t.step(actions)
			pending = pending[:0]
		}
	}
}

func (t *Town) Stop() { close(t.stop) }

// StepOnce advances the town by a single tick using the same ordering semantics as Run.
// It is primarily intended for deterministic replays/tests.
func (t *Town) StepOnce(actions []Action) (tick uint64, digest string) {
	tick = t.tick.Load()
	digest = t.step(actions)
	return tick, digest
}

func (t *Town) step(actions []Action) string {
	nowTick := t.tick.Load()

	// Cooldowns expire at the tick boundary before any action sees them.
	t.queue.OnTick(nowTick)

	// Apply actions in receive order.
	recorded := make([]Action, 0, len(actions))
	for _, a := range actions {
		if t.apply(a, nowTick) {
			recorded = append(recorded, a)
		}
	}

	t.systemGhostSteps(nowTick)
	t.rels.Decay()
	for _, ev := range t.slots.ConsumeForcedReuseEvents() {
		t.Emit(ev.Event(nowTick))
	}

	digest := t.stateDigest(nowTick)
	entry := TickLogEntry{
		Tick:      nowTick,
		Actions:   recorded,
		Events:    t.events,
		Rivalry:   t.tracker.ConsumeRivalryEvents(),
		Chats:     t.tracker.ConsumeChatEvents(),
		Avoidance: t.tracker.ConsumeAvoidanceEvents(),
		Digest:    digest,
	}
	t.events = nil
	for _, l := range t.tickLoggers {
		if err := l.WriteTick(entry); err != nil && t.logger != nil {
			t.logger.Printf("tick %d: write tick log: %v", nowTick, err)
		}
	}
	if t.tickSink != nil {
		t.tickSink.PublishTick(t.tickMsg(entry))
	}

	// Snapshot every snapshot_every_ticks, starting after tick 0.
	every := uint64(t.cfg.Telemetry.SnapshotEveryTicks)
	if t.snapshotSink != nil && every > 0 && nowTick != 0 && nowTick%every == 0 {
		snap := t.ExportSnapshot(nowTick)
		select {
		case t.snapshotSink <- snap:
		default:
			// Drop snapshot if sink is backed up.
		}
	}

	t.publishStatus(nowTick)
	t.tick.Add(1)
	return digest
}

func (t *Town) tickMsg(e TickLogEntry) protocol.TickMsg {
	msg := protocol.TickMsg{
		Type:            protocol.TypeTick,
		ProtocolVersion: protocol.Version,
		Tick:            e.Tick,
		Digest:          e.Digest,
		Events:          e.Events,
		Rivalry:         e.Rivalry,
		Chats:           e.Chats,
		Avoidance:       e.Avoidance,
		Queues:          t.queueViews(),
	}
	if msg.Events == nil {
		msg.Events = []protocol.Event{}
	}
	if msg.Rivalry == nil {
		msg.Rivalry = []protocol.RivalryEvent{}
	}
	return msg
}

func (t *Town) queueViews() []protocol.QueueView {
	objects := t.queue.Objects()
	out := make([]protocol.QueueView, 0, len(objects))
	for _, id := range objects {
		holder, _ := t.queue.ActiveAgent(id)
		waiting := t.queue.QueueSnapshot(id)
		if waiting == nil {
			waiting = []string{}
		}
		out = append(out, protocol.QueueView{ObjectID: id, Holder: holder, Waiting: waiting})
	}
	return out
}

func (t *Town) publishStatus(tick uint64) {
	qm := t.queue.Metrics()
	sm := t.slots.Metrics()
	t.status.Store(&protocol.StateMsg{
		Type:            protocol.TypeState,
		ProtocolVersion: protocol.Version,
		Tick:            tick,
		RunID:           t.runID,
		Queue: protocol.QueueMetrics{
			CooldownEvents:  qm.CooldownEvents,
			GhostStepEvents: qm.GhostStepEvents,
			RotationEvents:  qm.RotationEvents,
			FailedReleases:  qm.FailedReleases,
		},
		Slots: protocol.SlotMetrics{
			AllocationsTotal: sm.AllocationsTotal,
			ForcedReuseCount: sm.ForcedReuseCount,
			ForcedReuseRate:  sm.ForcedReuseRate,
			ReuseWarning:     sm.ReuseWarning,
			InUse:            sm.InUse,
			MaxSlots:         sm.MaxSlots,
		},
		Agents: len(t.agents),
	})
}
