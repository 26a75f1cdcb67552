package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"townlet.ai/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints archived runs.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	entries, err := os.ReadDir(filepath.Join(*dataDir, "archives"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		b, err := os.ReadFile(filepath.Join(*dataDir, "archives", e.Name(), "meta.json"))
		if err != nil {
			fmt.Println(e.Name())
			continue
		}
		fmt.Println(strings.TrimSpace(string(b)))
	}
}

// inspectCmd summarizes a snapshot: queues, strongest rivalries and slot usage.
func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	snapPath := fs.String("snapshot", "", "path to .snap.zst (required)")
	limit := fs.Int("limit", 10, "rivalry pairs to print")
	_ = fs.Parse(args)

	if strings.TrimSpace(*snapPath) == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot")
		os.Exit(2)
	}
	snap, err := snapshot.ReadSnapshot(*snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}

	fmt.Printf("snapshot v%d run=%s tick=%d agents=%d\n", snap.Header.Version, snap.Header.RunID, snap.Header.Tick, len(snap.Agents))

	objects := map[string]bool{}
	for id := range snap.Queue.Active {
		objects[id] = true
	}
	for id := range snap.Queue.Queues {
		objects[id] = true
	}
	ids := make([]string, 0, len(objects))
	for id := range objects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		waiting := make([]string, 0, len(snap.Queue.Queues[id]))
		for _, e := range snap.Queue.Queues[id] {
			waiting = append(waiting, e.AgentID)
		}
		fmt.Printf("queue %s holder=%q waiting=%v stalls=%d\n", id, snap.Queue.Active[id], waiting, snap.Queue.StallCounts[id])
	}

	type pair struct {
		A, B  string
		Score float64
	}
	var pairs []pair
	for a, scores := range snap.Rivalry {
		for b, v := range scores {
			if a < b {
				pairs = append(pairs, pair{A: a, B: b, Score: v})
			}
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Score != pairs[j].Score {
			return pairs[i].Score > pairs[j].Score
		}
		return pairs[i].A+pairs[i].B < pairs[j].A+pairs[j].B
	})
	if len(pairs) > *limit {
		pairs = pairs[:*limit]
	}
	for _, p := range pairs {
		fmt.Printf("rivalry %s <-> %s %.3f\n", p.A, p.B, p.Score)
	}

	slots, _ := json.Marshal(map[string]any{
		"in_use":             len(snap.Slots.Assignments),
		"allocations_total":  snap.Slots.AllocationsTotal,
		"forced_reuse_count": snap.Slots.ForcedReuseCount,
	})
	fmt.Printf("slots %s\n", slots)
	fmt.Printf("churn window=[%d,%d) total=%d history=%d\n", snap.Churn.WindowStart, snap.Churn.WindowEnd, snap.Churn.Total, len(snap.Churn.History))
}
