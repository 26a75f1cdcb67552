package relationships

import (
	"errors"
	"fmt"
)

// ChurnWindow aggregates edge evictions over [WindowStart, WindowEnd).
type ChurnWindow struct {
	WindowStart uint64         `json:"window_start"`
	WindowEnd   uint64         `json:"window_end"`
	Total       int            `json:"total"`
	Owners      map[string]int `json:"owners"`
	Reasons     map[string]int `json:"reasons"`
}

type ChurnPayload struct {
	ChurnWindow
	History []ChurnWindow `json:"history"`
}

// ChurnAccumulator counts relationship evictions in fixed tick windows and keeps the last
// few non-empty windows as history.
type ChurnAccumulator struct {
	windowTicks uint64
	maxSamples  int

	windowStart uint64
	perOwner    map[string]int
	perReason   map[string]int
	total       int
	history     []ChurnWindow
}

func NewChurnAccumulator(windowTicks, maxSamples int) (*ChurnAccumulator, error) {
	if windowTicks <= 0 {
		return nil, errors.New("window_ticks must be positive")
	}
	if maxSamples <= 0 {
		return nil, errors.New("max_samples must be positive")
	}
	return &ChurnAccumulator{
		windowTicks: uint64(windowTicks),
		maxSamples:  maxSamples,
		perOwner:    map[string]int{},
		perReason:   map[string]int{},
	}, nil
}

func (c *ChurnAccumulator) WindowTicks() uint64 { return c.windowTicks }

func (c *ChurnAccumulator) RecordEviction(tick uint64, owner, evicted string, reason EvictionReason) {
	c.roll(tick)
	tag := string(reason)
	if tag == "" {
		tag = "unknown"
	}
	c.perOwner[owner]++
	c.perReason[tag]++
	c.total++
}

func (c *ChurnAccumulator) roll(tick uint64) {
	if tick < c.windowStart+c.windowTicks {
		return
	}
	start := c.windowStart + (tick-c.windowStart)/c.windowTicks*c.windowTicks
	if c.total > 0 {
		c.history = append(c.history, ChurnWindow{
			WindowStart: c.windowStart,
			WindowEnd:   c.windowStart + c.windowTicks,
			Total:       c.total,
			Owners:      c.perOwner,
			Reasons:     c.perReason,
		})
		if len(c.history) > c.maxSamples {
			c.history = c.history[len(c.history)-c.maxSamples:]
		}
	}
	c.windowStart = start
	c.perOwner = map[string]int{}
	c.perReason = map[string]int{}
	c.total = 0
}

// Snapshot returns the live window.
func (c *ChurnAccumulator) Snapshot() ChurnWindow {
	return ChurnWindow{
		WindowStart: c.windowStart,
		WindowEnd:   c.windowStart + c.windowTicks,
		Total:       c.total,
		Owners:      copyCounts(c.perOwner),
		Reasons:     copyCounts(c.perReason),
	}
}

func (c *ChurnAccumulator) History() []ChurnWindow {
	out := make([]ChurnWindow, 0, len(c.history))
	for _, h := range c.history {
		h.Owners = copyCounts(h.Owners)
		h.Reasons = copyCounts(h.Reasons)
		out = append(out, h)
	}
	return out
}

func (c *ChurnAccumulator) LatestPayload() ChurnPayload {
	return ChurnPayload{ChurnWindow: c.Snapshot(), History: c.History()}
}

// Ingest restores the accumulator from a persisted payload. The window width is derived
// from the payload so a snapshot taken under another configuration stays consistent.
func (c *ChurnAccumulator) Ingest(p ChurnPayload) error {
	if p.WindowEnd < p.WindowStart {
		return fmt.Errorf("churn: window_end %d < window_start %d", p.WindowEnd, p.WindowStart)
	}
	width := p.WindowEnd - p.WindowStart
	if width == 0 {
		width = 1
	}
	c.windowTicks = width
	c.windowStart = p.WindowStart
	c.perOwner = copyCounts(p.Owners)
	c.perReason = copyCounts(p.Reasons)
	c.total = p.Total
	c.history = nil
	for _, h := range p.History {
		h.Owners = copyCounts(h.Owners)
		h.Reasons = copyCounts(h.Reasons)
		c.history = append(c.history, h)
	}
	if len(c.history) > c.maxSamples {
		c.history = c.history[len(c.history)-c.maxSamples:]
	}
	return nil
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
