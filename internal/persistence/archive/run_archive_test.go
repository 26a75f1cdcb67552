package archive

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"townlet.ai/internal/persistence/snapshot"
	"townlet.ai/internal/sim/queue"
)

func TestArchiveRunSnapshot_CopiesAndWritesMeta(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "snapshots", "99.snap.zst")
	if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
		t.Fatalf("mkdir snapshots: %v", err)
	}
	want := []byte("dummy")
	if err := os.WriteFile(src, want, 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}

	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{Version: snapshot.Version, RunID: "run-7", Tick: 99},
		Agents: []snapshot.AgentV1{{ID: "a"}, {ID: "b"}},
		Queue:  queue.State{Metrics: queue.Metrics{GhostStepEvents: 4}},
	}
	archived, err := ArchiveRunSnapshot(dir, src, snap)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if archived != filepath.Join(dir, "archives", "run-7", "99.snap.zst") {
		t.Fatalf("archived=%s", archived)
	}
	got, err := os.ReadFile(archived)
	if err != nil {
		t.Fatalf("read archived: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("archived content mismatch: got=%q want=%q", got, want)
	}

	b, err := os.ReadFile(filepath.Join(filepath.Dir(archived), "meta.json"))
	if err != nil {
		t.Fatalf("expected meta.json to exist: %v", err)
	}
	var meta RunArchiveMeta
	if err := json.Unmarshal(b, &meta); err != nil {
		t.Fatalf("meta: %v", err)
	}
	if meta.EndTick != 99 || meta.Agents != 2 || meta.GhostSteps != 4 {
		t.Fatalf("meta=%+v", meta)
	}
}

func TestArchiveRunSnapshot_RequiresRunID(t *testing.T) {
	if _, err := ArchiveRunSnapshot(t.TempDir(), "x", snapshot.SnapshotV1{}); err == nil {
		t.Fatalf("expected error")
	}
}
