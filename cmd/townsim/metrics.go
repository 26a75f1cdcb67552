package main

import (
	"fmt"
	"net/http"

	"townlet.ai/internal/persistence/indexdb"
	"townlet.ai/internal/sim/town"
	"townlet.ai/internal/transport/observer"
)

// metricsHandler writes a minimal Prometheus exposition of the last published status.
func metricsHandler(tw *town.Town, hub *observer.Hub, idx *indexdb.SQLiteIndex) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		st := tw.Status()
		run := st.RunID

		gauge := func(name, help string, v any) {
			fmt.Fprintf(rw, "# HELP %s %s\n", name, help)
			fmt.Fprintf(rw, "# TYPE %s gauge\n", name)
			fmt.Fprintf(rw, "%s{run=%q} %v\n", name, run, v)
		}
		counter := func(name, help string, v any) {
			fmt.Fprintf(rw, "# HELP %s %s\n", name, help)
			fmt.Fprintf(rw, "# TYPE %s counter\n", name)
			fmt.Fprintf(rw, "%s{run=%q} %v\n", name, run, v)
		}

		gauge("townlet_tick", "Last completed tick.", st.Tick)
		gauge("townlet_agents", "Agents currently in the town.", st.Agents)
		counter("townlet_queue_cooldown_events_total", "Requests denied by an object cooldown.", st.Queue.CooldownEvents)
		counter("townlet_queue_ghost_step_events_total", "Holders ghost-stepped off a blocked object.", st.Queue.GhostStepEvents)
		counter("townlet_queue_rotation_events_total", "Queue rotations (tail requeues and promotions).", st.Queue.RotationEvents)
		counter("townlet_queue_failed_releases_total", "Releases marked as failed interactions.", st.Queue.FailedReleases)
		counter("townlet_slots_allocations_total", "Embedding slot allocations.", st.Slots.AllocationsTotal)
		counter("townlet_slots_forced_reuse_total", "Allocations that reused a slot inside its cooldown.", st.Slots.ForcedReuseCount)
		gauge("townlet_slots_forced_reuse_rate", "Forced reuses per allocation.", st.Slots.ForcedReuseRate)
		gauge("townlet_slots_in_use", "Embedding slots currently assigned.", st.Slots.InUse)
		reuse := 0
		if st.Slots.ReuseWarning {
			reuse = 1
		}
		gauge("townlet_slots_reuse_warning", "1 when the forced reuse rate exceeds the warning threshold.", reuse)

		gauge("townlet_observer_subscribers", "Connected observer sockets.", hub.Subscribers())
		counter("townlet_observer_dropped_frames_total", "Tick frames dropped for slow observers.", hub.Dropped())

		if idx != nil {
			s := idx.Stats()
			gauge("townlet_index_queue_depth", "Pending index writes.", s.QueueDepth)
			counter("townlet_index_dropped_ticks_total", "Tick rows dropped under back-pressure.", s.DropTickTotal)
			counter("townlet_index_dropped_snapshots_total", "Snapshot rows dropped under back-pressure.", s.DropSnapshotTotal)
			counter("townlet_index_write_errors_total", "Failed index transactions.", s.WriteErrTotal)
		}
	}
}
