package town

import (
	"fmt"
	"log"
	"sort"

	"townlet.ai/internal/persistence/snapshot"
)

// ExportSnapshot captures the town at nowTick. Undrained rivalry events are included.
func (t *Town) ExportSnapshot(nowTick uint64) snapshot.SnapshotV1 {
	agents := make([]snapshot.AgentV1, 0, len(t.agents))
	for _, id := range sortedKeys(t.agents) {
		a := t.agents[id]
		agents = append(agents, snapshot.AgentV1{ID: a.ID, JoinedTick: a.JoinedTick})
	}
	return snapshot.SnapshotV1{
		Header:        snapshot.Header{Version: snapshot.Version, RunID: t.runID, Tick: nowTick},
		Tuning:        t.cfg,
		Agents:        agents,
		Queue:         t.queue.ExportState(),
		Relationships: t.rels.RelationshipsSnapshot(),
		Rivalry:       t.rels.RivalrySnapshot(),
		Churn:         t.rels.ChurnPayload(),
		Slots:         t.slots.ExportState(),
		RivalryEvents: t.tracker.PendingRivalryEvents(),
	}
}

// NewFromSnapshot rebuilds a town from snap using the tuning it was taken with.
// The next StepOnce runs tick snap.Header.Tick+1.
func NewFromSnapshot(snap snapshot.SnapshotV1, logger *log.Logger) (*Town, error) {
	t, err := New(snap.Tuning, logger)
	if err != nil {
		return nil, fmt.Errorf("snapshot tuning: %w", err)
	}
	if err := t.ImportSnapshot(snap); err != nil {
		return nil, err
	}
	return t, nil
}

// ImportSnapshot replaces the town state. Agents without a slot in the snapshot are
// allocated one; agents the snapshot lists twice keep their first entry.
func (t *Town) ImportSnapshot(snap snapshot.SnapshotV1) error {
	if snap.Header.Version != snapshot.Version {
		return fmt.Errorf("%w: %d", snapshot.ErrUnsupportedVersion, snap.Header.Version)
	}
	if snap.Header.RunID != "" {
		t.runID = snap.Header.RunID
	}
	t.queue.ImportState(snap.Queue)
	t.rels.LoadRelationshipSnapshot(snap.Relationships)
	t.rels.LoadRivalrySnapshot(snap.Rivalry)
	if err := t.rels.LoadChurn(snap.Churn); err != nil && t.logger != nil {
		t.logger.Printf("snapshot churn ignored: %v", err)
	}
	t.slots.ImportState(snap.Slots)
	t.tracker.Reset()
	t.tracker.RestoreRivalryEvents(snap.RivalryEvents)
	t.events = nil

	t.agents = map[string]*Agent{}
	agents := append([]snapshot.AgentV1(nil), snap.Agents...)
	sort.SliceStable(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	for _, a := range agents {
		if a.ID == "" {
			continue
		}
		if _, dup := t.agents[a.ID]; dup {
			continue
		}
		slot, err := t.slots.Allocate(a.ID, snap.Header.Tick)
		if err != nil {
			return fmt.Errorf("snapshot agent %s: %w", a.ID, err)
		}
		t.agents[a.ID] = &Agent{ID: a.ID, JoinedTick: a.JoinedTick, Slot: slot}
	}
	t.tick.Store(snap.Header.Tick + 1)
	t.publishStatus(snap.Header.Tick)
	return nil
}
