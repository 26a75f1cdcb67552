// Package archive keeps the final snapshot of each run under <dir>/archives/<run_id>/.
package archive

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"

	"townlet.ai/internal/persistence/snapshot"
)

type RunArchiveMeta struct {
	RunID     string `json:"run_id"`
	EndTick   uint64 `json:"end_tick"`
	Snapshot  string `json:"snapshot"`
	CreatedAt string `json:"created_at"`
	Agents    int    `json:"agents"`
	// Queue and slot counters at the end of the run.
	GhostSteps       int `json:"ghost_steps"`
	Rotations        int `json:"rotations"`
	ForcedSlotReuses int `json:"forced_slot_reuses"`
}

// ArchiveRunSnapshot copies the snapshot at snapshotPath into the run's archive directory
// and writes meta.json next to it. It returns the archived path.
func ArchiveRunSnapshot(dir, snapshotPath string, snap snapshot.SnapshotV1) (string, error) {
	if snap.Header.RunID == "" {
		return "", errors.New("archive: snapshot has no run id")
	}
	archiveDir := filepath.Join(dir, "archives", snap.Header.RunID)
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", err
	}

	meta := RunArchiveMeta{
		RunID:            snap.Header.RunID,
		EndTick:          snap.Header.Tick,
		Snapshot:         filepath.Base(dst),
		CreatedAt:        time.Now().UTC().Format(time.RFC3339Nano),
		Agents:           len(snap.Agents),
		GhostSteps:       snap.Queue.Metrics.GhostStepEvents,
		Rotations:        snap.Queue.Metrics.RotationEvents,
		ForcedSlotReuses: snap.Slots.ForcedReuseCount,
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
