package town

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"math"
	"sort"
)

type digestWriter struct {
	h   hash.Hash
	tmp [8]byte
}

func (d *digestWriter) u64(v uint64) {
	binary.LittleEndian.PutUint64(d.tmp[:], v)
	d.h.Write(d.tmp[:])
}

func (d *digestWriter) int(v int) { d.u64(uint64(int64(v))) }

func (d *digestWriter) f64(v float64) { d.u64(math.Float64bits(v)) }

// str is length-prefixed so adjacent strings cannot alias.
func (d *digestWriter) str(s string) {
	d.u64(uint64(len(s)))
	d.h.Write([]byte(s))
}

// StateDigest hashes every piece of state that influences future ticks.
func (t *Town) StateDigest() string { return t.stateDigest(t.tick.Load()) }

func (t *Town) stateDigest(nowTick uint64) string {
	d := &digestWriter{h: sha256.New()}
	d.u64(nowTick)

	// Agents (sorted).
	agentIDs := make([]string, 0, len(t.agents))
	for id := range t.agents {
		agentIDs = append(agentIDs, id)
	}
	sort.Strings(agentIDs)
	d.int(len(agentIDs))
	for _, id := range agentIDs {
		a := t.agents[id]
		d.str(id)
		d.u64(a.JoinedTick)
		d.int(a.Slot)
	}

	// Queues.
	qs := t.queue.ExportState()
	objects := t.queue.Objects()
	d.int(len(objects))
	for _, obj := range objects {
		d.str(obj)
		d.str(qs.Active[obj])
		d.int(qs.StallCounts[obj])
		q := qs.Queues[obj]
		d.int(len(q))
		for _, e := range q {
			d.str(e.AgentID)
			d.u64(e.JoinedTick)
		}
	}
	d.int(len(qs.Cooldowns))
	for _, c := range qs.Cooldowns {
		d.str(c.ObjectID)
		d.str(c.AgentID)
		d.u64(c.Expiry)
	}
	d.int(qs.Metrics.CooldownEvents)
	d.int(qs.Metrics.GhostStepEvents)
	d.int(qs.Metrics.RotationEvents)
	d.int(qs.Metrics.FailedReleases)

	// Relationship ledgers.
	rel := t.rels.RelationshipsSnapshot()
	owners := sortedKeys(rel)
	d.int(len(owners))
	for _, owner := range owners {
		edges := rel[owner]
		d.str(owner)
		others := sortedKeys(edges)
		d.int(len(others))
		for _, other := range others {
			e := edges[other]
			d.str(other)
			d.f64(e.Trust)
			d.f64(e.Familiarity)
			d.f64(e.Rivalry)
		}
	}

	// Rivalry ledgers.
	riv := t.rels.RivalrySnapshot()
	owners = sortedKeys(riv)
	d.int(len(owners))
	for _, owner := range owners {
		scores := riv[owner]
		d.str(owner)
		others := sortedKeys(scores)
		d.int(len(others))
		for _, other := range others {
			d.str(other)
			d.f64(scores[other])
		}
	}

	// Slots.
	ss := t.slots.ExportState()
	d.int(len(ss.Released))
	for _, r := range ss.Released {
		d.int(r.Slot)
		d.u64(r.ReleasedAt)
		d.str(r.LastOwner)
	}
	d.int(ss.AllocationsTotal)
	d.int(ss.ForcedReuseCount)

	return hex.EncodeToString(d.h.Sum(nil))
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
