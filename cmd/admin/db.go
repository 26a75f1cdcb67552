package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

var queries = map[string]string{
	"runs":      `SELECT run_id, start_tick, tuning_digest, started_at FROM runs ORDER BY started_at DESC LIMIT ?`,
	"snapshots": `SELECT run_id, tick, path, agents, relationships, slots_in_use, forced_reuse FROM snapshots ORDER BY tick DESC LIMIT ?`,
	"conflicts": `SELECT object_id, reason, COUNT(*) AS n, AVG(intensity) AS avg_intensity FROM queue_events WHERE type = 'queue_conflict' GROUP BY object_id, reason ORDER BY n DESC LIMIT ?`,
	"handovers": `SELECT object_id, COUNT(*) AS n FROM queue_events WHERE type = 'queue_interaction' GROUP BY object_id ORDER BY n DESC LIMIT ?`,
	"rivals":    `SELECT agent_a, agent_b, COUNT(*) AS n, SUM(intensity) AS total FROM rivalry_events GROUP BY agent_a, agent_b ORDER BY total DESC LIMIT ?`,
}

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	stmt, ok := queries[q]
	if !ok {
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(runs|snapshots|conflicts|handovers|rivals)")
		os.Exit(2)
	}
	if *limit <= 0 {
		*limit = 20
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "town.sqlite")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := printRows(db, stmt, *limit); err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
}

// printRows writes each row as a JSON object keyed by column name.
func printRows(db *sql.DB, stmt string, limit int) error {
	rows, err := db.Query(stmt, limit)
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		rec := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				rec[c] = string(b)
				continue
			}
			rec[c] = vals[i]
		}
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}
