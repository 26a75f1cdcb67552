package tuning

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	TickRateHz int `yaml:"tick_rate_hz" json:"tick_rate_hz"`

	QueueFairness      QueueFairness      `yaml:"queue_fairness" json:"queue_fairness"`
	Conflict           Conflict           `yaml:"conflict" json:"conflict"`
	Relationships      Relationships      `yaml:"relationships" json:"relationships"`
	EmbeddingAllocator EmbeddingAllocator `yaml:"embedding_allocator" json:"embedding_allocator"`
	Telemetry          Telemetry          `yaml:"telemetry" json:"telemetry"`
}

type QueueFairness struct {
	CooldownTicks     int     `yaml:"cooldown_ticks" json:"cooldown_ticks"`
	GhostStepAfter    int     `yaml:"ghost_step_after" json:"ghost_step_after"`
	AgePriorityWeight float64 `yaml:"age_priority_weight" json:"age_priority_weight"`
}

type Conflict struct {
	Rivalry Rivalry `yaml:"rivalry" json:"rivalry"`
}

type Rivalry struct {
	IncrementPerConflict float64 `yaml:"increment_per_conflict" json:"increment_per_conflict"`
	DecayPerTick         float64 `yaml:"decay_per_tick" json:"decay_per_tick"`
	MinValue             float64 `yaml:"min_value" json:"min_value"`
	MaxValue             float64 `yaml:"max_value" json:"max_value"`
	AvoidThreshold       float64 `yaml:"avoid_threshold" json:"avoid_threshold"`
	EvictionThreshold    float64 `yaml:"eviction_threshold" json:"eviction_threshold"`
	MaxEdges             int     `yaml:"max_edges" json:"max_edges"`
	GhostStepBoost       float64 `yaml:"ghost_step_boost" json:"ghost_step_boost"`
	HandoverBoost        float64 `yaml:"handover_boost" json:"handover_boost"`
	QueueLengthBoost     float64 `yaml:"queue_length_boost" json:"queue_length_boost"`
}

// Relationships holds the per-tick decay steps applied to relationship ledgers.
// max_edges is shared with the rivalry section.
type Relationships struct {
	TrustDecay       float64 `yaml:"trust_decay" json:"trust_decay"`
	FamiliarityDecay float64 `yaml:"familiarity_decay" json:"familiarity_decay"`
	RivalryDecay     float64 `yaml:"rivalry_decay" json:"rivalry_decay"`
	ChurnWindowTicks int     `yaml:"churn_window_ticks" json:"churn_window_ticks"`
}

type EmbeddingAllocator struct {
	MaxSlots              int     `yaml:"max_slots" json:"max_slots"`
	CooldownTicks         int     `yaml:"cooldown_ticks" json:"cooldown_ticks"`
	ReuseWarningThreshold float64 `yaml:"reuse_warning_threshold" json:"reuse_warning_threshold"`
	LogForcedReuse        bool    `yaml:"log_forced_reuse" json:"log_forced_reuse"`
}

// MaxRivalryBuffer bounds the rivalry event ring; smaller rings are allowed for tests.
const MaxRivalryBuffer = 256

type Telemetry struct {
	RivalryBuffer      int `yaml:"rivalry_buffer" json:"rivalry_buffer"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks" json:"snapshot_every_ticks"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz: 5,
		QueueFairness: QueueFairness{
			CooldownTicks:     60,
			GhostStepAfter:    3,
			AgePriorityWeight: 0.1,
		},
		Conflict: Conflict{Rivalry: Rivalry{
			IncrementPerConflict: 0.15,
			DecayPerTick:         0.005,
			MinValue:             0,
			MaxValue:             1,
			AvoidThreshold:       0.7,
			EvictionThreshold:    0.05,
			MaxEdges:             6,
			GhostStepBoost:       1.5,
			HandoverBoost:        0.4,
			QueueLengthBoost:     0.25,
		}},
		Relationships: Relationships{
			TrustDecay:       0.001,
			FamiliarityDecay: 0.001,
			RivalryDecay:     0.01,
			ChurnWindowTicks: 600,
		},
		EmbeddingAllocator: EmbeddingAllocator{
			MaxSlots:              64,
			CooldownTicks:         2000,
			ReuseWarningThreshold: 0.05,
			LogForcedReuse:        true,
		},
		Telemetry: Telemetry{
			RivalryBuffer:      256,
			SnapshotEveryTicks: 3000,
		},
	}
}

// Load reads a tuning file on top of Defaults, so omitted keys keep their default values.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(t.TickRateHz >= 1, "tick_rate_hz must be >= 1 (got %d)", t.TickRateHz)

	q := t.QueueFairness
	check(q.CooldownTicks >= 0 && q.CooldownTicks <= 600, "queue_fairness.cooldown_ticks must be in [0,600] (got %d)", q.CooldownTicks)
	check(q.GhostStepAfter >= 0 && q.GhostStepAfter <= 100, "queue_fairness.ghost_step_after must be in [0,100] (got %d)", q.GhostStepAfter)
	check(q.AgePriorityWeight >= 0 && q.AgePriorityWeight <= 1, "queue_fairness.age_priority_weight must be in [0,1] (got %v)", q.AgePriorityWeight)

	r := t.Conflict.Rivalry
	check(in01(r.IncrementPerConflict), "rivalry.increment_per_conflict must be in [0,1]")
	check(in01(r.DecayPerTick), "rivalry.decay_per_tick must be in [0,1]")
	check(in01(r.MinValue) && in01(r.MaxValue), "rivalry.min_value/max_value must be in [0,1]")
	check(r.MinValue <= r.MaxValue, "rivalry.min_value must be <= max_value")
	check(r.AvoidThreshold >= r.MinValue && r.AvoidThreshold <= r.MaxValue, "rivalry.avoid_threshold must lie within [min_value, max_value]")
	check(r.EvictionThreshold >= r.MinValue && r.EvictionThreshold <= r.MaxValue, "rivalry.eviction_threshold must lie within [min_value, max_value]")
	check(r.MaxEdges >= 1 && r.MaxEdges <= 32, "rivalry.max_edges must be in [1,32] (got %d)", r.MaxEdges)
	check(r.GhostStepBoost >= 0 && r.GhostStepBoost <= 5, "rivalry.ghost_step_boost must be in [0,5]")
	check(r.HandoverBoost >= 0 && r.HandoverBoost <= 5, "rivalry.handover_boost must be in [0,5]")
	check(r.QueueLengthBoost >= 0 && r.QueueLengthBoost <= 2, "rivalry.queue_length_boost must be in [0,2]")

	rel := t.Relationships
	check(in01(rel.TrustDecay) && in01(rel.FamiliarityDecay) && in01(rel.RivalryDecay), "relationships decay steps must be in [0,1]")
	check(rel.ChurnWindowTicks >= 1, "relationships.churn_window_ticks must be >= 1")

	e := t.EmbeddingAllocator
	check(e.MaxSlots >= 1 && e.MaxSlots <= 256, "embedding_allocator.max_slots must be in [1,256] (got %d)", e.MaxSlots)
	check(e.CooldownTicks >= 0 && e.CooldownTicks <= 10000, "embedding_allocator.cooldown_ticks must be in [0,10000]")
	check(e.ReuseWarningThreshold >= 0 && e.ReuseWarningThreshold <= 0.5, "embedding_allocator.reuse_warning_threshold must be in [0,0.5]")

	check(t.Telemetry.RivalryBuffer >= 1 && t.Telemetry.RivalryBuffer <= MaxRivalryBuffer,
		"telemetry.rivalry_buffer must be in [1, %d]", MaxRivalryBuffer)
	check(t.Telemetry.SnapshotEveryTicks >= 0, "telemetry.snapshot_every_ticks must be >= 0")

	return errors.Join(errs...)
}

func in01(v float64) bool { return v >= 0 && v <= 1 }
