package tuning

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaults_Validate(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "tuning.yaml")
	raw := `
queue_fairness:
  cooldown_ticks: 30
conflict:
  rivalry:
    max_edges: 4
`
	if err := os.WriteFile(p, []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.QueueFairness.CooldownTicks != 30 {
		t.Fatalf("cooldown_ticks=%d want 30", got.QueueFairness.CooldownTicks)
	}
	if got.QueueFairness.GhostStepAfter != 3 {
		t.Fatalf("ghost_step_after=%d want default 3", got.QueueFairness.GhostStepAfter)
	}
	if got.Conflict.Rivalry.MaxEdges != 4 {
		t.Fatalf("max_edges=%d want 4", got.Conflict.Rivalry.MaxEdges)
	}
	if got.EmbeddingAllocator.MaxSlots != 64 {
		t.Fatalf("max_slots=%d want default 64", got.EmbeddingAllocator.MaxSlots)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "tuning.yaml")
	raw := `
embedding_allocator:
  max_slots: 0
conflict:
  rivalry:
    min_value: 0.8
    max_value: 0.2
`
	if err := os.WriteFile(p, []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Load(p)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"max_slots", "min_value must be <= max_value"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("error %q missing %q", msg, want)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); !os.IsNotExist(err) {
		t.Fatalf("err=%v want not-exist", err)
	}
}

func TestShippedConfigMatchesDefaults(t *testing.T) {
	got, err := Load(filepath.Join("..", "..", "..", "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != Defaults() {
		t.Fatalf("configs/tuning.yaml=%+v want %+v", got, Defaults())
	}
}

func TestValidate_RivalryBufferBounded(t *testing.T) {
	for size, ok := range map[int]bool{0: false, 1: true, 256: true, 257: false, 4096: false} {
		cfg := Defaults()
		cfg.Telemetry.RivalryBuffer = size
		err := cfg.Validate()
		if (err == nil) != ok {
			t.Fatalf("rivalry_buffer=%d err=%v want ok=%v", size, err, ok)
		}
		if err != nil && !strings.Contains(err.Error(), "rivalry_buffer") {
			t.Fatalf("error %q missing rivalry_buffer", err)
		}
	}
}
