// Package indexdb maintains a queryable SQLite index of a run's ticks, queue conflicts,
// rivalry events and snapshots. The JSONL tick logs remain the source of truth; the
// index may lose rows under back-pressure.
package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"townlet.ai/internal/persistence/snapshot"
	"townlet.ai/internal/protocol"
	"townlet.ai/internal/sim/town"
	"townlet.ai/internal/sim/tuning"
)

const defaultQueueCapacity = 65536

type Stats struct {
	QueueDepth        int
	QueueCapacity     int
	DropTickTotal     uint64
	DropSnapshotTotal uint64
	WriteErrTotal     uint64
}

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
	runID  atomic.Pointer[string]

	dropTick     atomic.Uint64
	dropSnapshot atomic.Uint64
	writeErr     atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqSnapshot
)

type req struct {
	kind  reqKind
	runID string

	tick     town.TickLogEntry
	snapshot snapshotRow
}

type snapshotRow struct {
	Tick          uint64
	Path          string
	Agents        int
	Relationships int
	SlotsInUse    int
	ForcedReuse   int
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, defaultQueueCapacity)
}

func openSQLite(path string, capacity int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{db: db, ch: make(chan req, capacity)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			start_tick INTEGER NOT NULL,
			tuning_digest TEXT NOT NULL,
			tuning_json TEXT NOT NULL,
			started_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			digest TEXT NOT NULL,
			actions INTEGER NOT NULL,
			events INTEGER NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (run_id, tick)
		);`,
		`CREATE TABLE IF NOT EXISTS queue_events (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			type TEXT NOT NULL,
			object_id TEXT NOT NULL,
			actor TEXT NOT NULL,
			rival TEXT NOT NULL,
			reason TEXT NOT NULL,
			queue_length INTEGER NOT NULL,
			intensity REAL NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (run_id, tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_queue_events_object ON queue_events(object_id, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_queue_events_actor ON queue_events(actor, tick);`,
		`CREATE TABLE IF NOT EXISTS rivalry_events (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			agent_a TEXT NOT NULL,
			agent_b TEXT NOT NULL,
			intensity REAL NOT NULL,
			reason TEXT NOT NULL,
			PRIMARY KEY (run_id, tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_rivalry_pair ON rivalry_events(agent_a, agent_b, tick);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			path TEXT NOT NULL,
			agents INTEGER NOT NULL,
			relationships INTEGER NOT NULL,
			slots_in_use INTEGER NOT NULL,
			forced_reuse INTEGER NOT NULL,
			PRIMARY KEY (run_id, tick)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropTickTotal:     s.dropTick.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
		WriteErrTotal:     s.writeErr.Load(),
	}
}

func (s *SQLiteIndex) currentRun() string {
	if p := s.runID.Load(); p != nil {
		return *p
	}
	return ""
}

// RecordRun registers runID and the tuning it runs with. Rows enqueued afterwards are
// attributed to runID. It writes synchronously.
func (s *SQLiteIndex) RecordRun(runID string, startTick uint64, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	digest := hex.EncodeToString(sum[:])
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO runs(run_id,start_tick,tuning_digest,tuning_json,started_at) VALUES(?,?,?,?,?)`,
		runID, int64(startTick), digest, string(b), now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.runID.Store(&runID)
	return nil
}

// WriteTick enqueues entry without blocking. Entries are dropped when the writer falls
// behind.
func (s *SQLiteIndex) WriteTick(entry town.TickLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, runID: s.currentRun(), tick: entry}:
	default:
		s.dropTick.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		Tick:          snap.Header.Tick,
		Path:          path,
		Agents:        len(snap.Agents),
		Relationships: len(snap.Relationships),
		SlotsInUse:    len(snap.Slots.Assignments),
		ForcedReuse:   snap.Slots.ForcedReuseCount,
	}
	run := snap.Header.RunID
	if run == "" {
		run = s.currentRun()
	}
	select {
	case s.ch <- req{kind: reqSnapshot, runID: run, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(run_id,tick,digest,actions,events,raw_json) VALUES(?,?,?,?,?,?)`)
	insertQueue, _ := s.db.Prepare(`INSERT OR REPLACE INTO queue_events(run_id,tick,seq,type,object_id,actor,rival,reason,queue_length,intensity,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	insertRivalry, _ := s.db.Prepare(`INSERT OR REPLACE INTO rivalry_events(run_id,tick,seq,agent_a,agent_b,intensity,reason) VALUES(?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(run_id,tick,path,agents,relationships,slots_in_use,forced_reuse) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertQueue, insertRivalry, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.writeErr.Add(1)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErr.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		s.writeErr.Add(1)
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil || tx == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			e := r.tick
			tick := int64(e.Tick)
			b, _ := json.Marshal(e)
			if !exec(insertTick, r.runID, tick, e.Digest, len(e.Actions), len(e.Events), string(b)) {
				continue
			}
			seq := 0
			for _, ev := range e.Events {
				typ := ev.Type()
				if typ != protocol.EventQueueConflict && typ != protocol.EventQueueInteraction {
					continue
				}
				raw, _ := json.Marshal(ev)
				if !exec(insertQueue, r.runID, tick, seq, typ,
					eventString(ev, "object_id"),
					eventString(ev, "actor"),
					eventString(ev, "rival"),
					eventReason(ev),
					int64(eventNumber(ev, "queue_length")),
					eventNumber(ev, "intensity"),
					string(raw),
				) {
					break
				}
				seq++
			}
			for i, rv := range e.Rivalry {
				if !exec(insertRivalry, r.runID, tick, i, rv.AgentA, rv.AgentB, rv.Intensity, rv.Reason) {
					break
				}
			}

		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, r.runID, int64(sn.Tick), sn.Path, sn.Agents, sn.Relationships, sn.SlotsInUse, sn.ForcedReuse)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}

func eventString(ev protocol.Event, key string) string {
	s, _ := ev[key].(string)
	return s
}

// eventReason reads "reason" for conflicts and "variant" for interactions.
func eventReason(ev protocol.Event) string {
	if r := eventString(ev, "reason"); r != "" {
		return r
	}
	return eventString(ev, "variant")
}

// eventNumber accepts the concrete numeric types built in-process as well as the
// float64 produced by decoding a JSONL log.
func eventNumber(ev protocol.Event, key string) float64 {
	switch v := ev[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case uint64:
		return float64(v)
	}
	return 0
}
