package metrics

import (
	"sort"
	"sync"
	"time"
)

// Collector aggregates opt-in counters per pass kind.
type Collector struct {
	mu      sync.RWMutex
	enabled bool
	started time.Time
	kinds   map[string]*PassMetrics
}

// Counts are the per-pass figures fed into the collector.
type Counts struct {
	Rewritten    int
	Reverted     int
	Misses       int
	Replacements int
}

// PassMetrics captures the counters tracked for one pass kind.
type PassMetrics struct {
	Kind          string        `json:"kind"`
	Passes        uint64        `json:"passes"`
	Rewritten     uint64        `json:"rewritten"`
	Reverted      uint64        `json:"reverted"`
	Misses        uint64        `json:"misses"`
	Replacements  uint64        `json:"replacements"`
	TotalDuration time.Duration `json:"totalDuration"`
	LastPass      time.Time     `json:"lastPass,omitempty"`
}

// Totals aggregates counters across all kinds in a snapshot.
type Totals struct {
	Passes       uint64 `json:"passes"`
	Rewritten    uint64 `json:"rewritten"`
	Reverted     uint64 `json:"reverted"`
	Misses       uint64 `json:"misses"`
	Replacements uint64 `json:"replacements"`
}

// Snapshot is the serializable view of the current metrics state.
type Snapshot struct {
	Enabled bool          `json:"enabled"`
	Started time.Time     `json:"started,omitempty"`
	Totals  Totals        `json:"totals"`
	Kinds   []PassMetrics `json:"kinds,omitempty"`
}

// NewCollector returns a collector with the provided opt-in state.
func NewCollector(enabled bool) *Collector {
	c := &Collector{}
	c.SetEnabled(enabled)
	return c
}

// Enabled reports whether collection is currently active.
func (c *Collector) Enabled() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// SetEnabled toggles collection, resetting counters when enabling.
func (c *Collector) SetEnabled(enabled bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled == enabled {
		return
	}
	c.enabled = enabled
	if !enabled {
		c.kinds = nil
		c.started = time.Time{}
		return
	}
	c.started = time.Now()
	c.kinds = make(map[string]*PassMetrics)
}

// RecordPass adds one completed pass of the given kind.
func (c *Collector) RecordPass(kind string, counts Counts, took time.Duration) {
	if c == nil {
		return
	}
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	if c.kinds == nil {
		c.kinds = make(map[string]*PassMetrics)
	}
	m, exists := c.kinds[kind]
	if !exists {
		m = &PassMetrics{Kind: kind}
		c.kinds[kind] = m
	}
	m.Passes++
	m.Rewritten += uint64(max(counts.Rewritten, 0))
	m.Reverted += uint64(max(counts.Reverted, 0))
	m.Misses += uint64(max(counts.Misses, 0))
	m.Replacements += uint64(max(counts.Replacements, 0))
	m.TotalDuration += took
	m.LastPass = now
}

// Snapshot returns the current counters for serialization or display.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := Snapshot{Enabled: c.enabled}
	if !c.enabled {
		return snap
	}
	snap.Started = c.started
	if len(c.kinds) == 0 {
		return snap
	}
	snap.Kinds = make([]PassMetrics, 0, len(c.kinds))
	for _, m := range c.kinds {
		if m == nil {
			continue
		}
		clone := *m
		snap.Kinds = append(snap.Kinds, clone)
		snap.Totals.Passes += clone.Passes
		snap.Totals.Rewritten += clone.Rewritten
		snap.Totals.Reverted += clone.Reverted
		snap.Totals.Misses += clone.Misses
		snap.Totals.Replacements += clone.Replacements
	}
	sort.Slice(snap.Kinds, func(i, j int) bool {
		return snap.Kinds[i].Kind < snap.Kinds[j].Kind
	})
	return snap
}
