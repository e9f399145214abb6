// Package session owns the lifecycle of a substitution session: the initial
// forward pass, incremental passes over inserted content and the revert pass
// that restores the document.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aliaswap/aliaswap/internal/config"
	"github.com/aliaswap/aliaswap/internal/metrics"
	"github.com/aliaswap/aliaswap/internal/pattern"
	"github.com/aliaswap/aliaswap/internal/revert"
	"github.com/aliaswap/aliaswap/internal/scan"
	"github.com/aliaswap/aliaswap/internal/tree"
	"github.com/aliaswap/aliaswap/internal/util"
	"github.com/aliaswap/aliaswap/internal/walker"
	"github.com/aliaswap/aliaswap/internal/watch"
)

// Host is the document a session rewrites.
type Host interface {
	walker.Host
	Subscribe(ctx context.Context) <-chan tree.Batch
}

// State is the session lifecycle state.
type State int

const (
	Stopped State = iota
	Running
	CleaningUp
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case CleaningUp:
		return "cleaning-up"
	default:
		return "unknown"
	}
}

// Settings are the inputs of one session.
type Settings struct {
	Enabled      bool
	Highlight    bool
	Target       pattern.Identity
	Sources      []pattern.Identity
	Marker       scan.Marker
	HistoryLimit int
}

// SettingsFromConfig converts a loaded configuration.
func SettingsFromConfig(cfg *config.Config) Settings {
	if cfg == nil {
		return Settings{}
	}
	sources := make([]pattern.Identity, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		sources = append(sources, pattern.FromConfig(src))
	}
	return Settings{
		Enabled:      cfg.Enabled,
		Highlight:    cfg.Highlight,
		Target:       pattern.FromConfig(cfg.Target),
		Sources:      sources,
		Marker:       scan.Marker{Tag: cfg.Marker.Tag, Attribute: cfg.Marker.Attribute},
		HistoryLimit: cfg.HistoryLimit,
	}
}

// Status is a point-in-time view of the session.
type Status struct {
	State     string          `json:"state"`
	Session   string          `json:"session,omitempty"`
	Started   time.Time       `json:"started,omitempty"`
	Highlight bool            `json:"highlight"`
	Patterns  []pattern.Entry `json:"patterns,omitempty"`
	Cached    int             `json:"cached"`
}

// Session serialises every pass behind mu. lifecycle serialises Start and
// Stop; the watcher is always stopped with mu released because its handler
// acquires mu.
type Session struct {
	host    Host
	logger  *util.Logger
	metrics *metrics.Collector

	lifecycle sync.Mutex

	mu       sync.Mutex
	state    State
	id       string
	started  time.Time
	settings Settings
	table    pattern.Table
	cache    *revert.Cache
	watcher  *watch.Watcher
	history  *passLog
}

// New returns a stopped session over host.
func New(host Host, logger *util.Logger, collector *metrics.Collector) *Session {
	return &Session{
		host:    host,
		logger:  logger,
		metrics: collector,
		cache:   revert.New(),
		history: newPassLog(config.DefaultHistoryLimit),
	}
}

// Start reverts any running session and, when settings are enabled, applies
// them to the whole document and begins watching for insertions.
func (s *Session) Start(settings Settings) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.cleanup()

	s.mu.Lock()
	s.settings = settings
	s.history.setLimit(settings.HistoryLimit)
	if !settings.Enabled {
		s.mu.Unlock()
		s.logger.Infof("session disabled; document left untouched")
		return nil
	}
	s.table = pattern.Build(settings.Target, settings.Sources)
	s.id = uuid.NewString()
	s.started = time.Now()
	s.cache.Clear()
	if s.table.Empty() {
		s.logger.Warnf("session %s: pattern table is empty; nothing will be replaced", s.id)
	}
	s.trace("session.started", map[string]any{
		"session":   s.id,
		"patterns":  s.table.Len(),
		"highlight": settings.Highlight,
	})

	// Subscribe before the initial pass so inserts racing it are queued. The
	// handler waits on mu until the state is Running.
	w := watch.New(s.host.Subscribe, s.handleInsert, s.logger)
	if err := w.Start(context.Background()); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("start watcher: %w", err)
	}
	s.runLocked(PassInitial, func() walker.Stats {
		return walker.FullPass(s.host, s.passLocked(scan.Forward))
	})
	s.watcher = w
	s.state = Running
	s.mu.Unlock()
	s.logger.Infof("session %s running with %d pattern(s)", s.id, s.table.Len())
	return nil
}

// Stop detaches the watcher and restores the document. Stopping a stopped
// session is a no-op.
func (s *Session) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.cleanup()
}

// Enable restarts the session with the last settings, forcing it on.
func (s *Session) Enable() error {
	s.mu.Lock()
	settings := s.settings
	s.mu.Unlock()
	settings.Enabled = true
	return s.Start(settings)
}

// cleanup must be called with lifecycle held.
func (s *Session) cleanup() {
	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		return
	}
	s.state = CleaningUp
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()

	if w != nil {
		w.Stop()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.id
	s.runLocked(PassRevert, func() walker.Stats {
		pass := s.passLocked(scan.Revert)
		pass.Table = s.table.Reversed()
		return walker.FullPass(s.host, pass)
	})
	s.cache.Clear()
	s.table = pattern.Table{}
	s.state = Stopped
	s.id = ""
	s.started = time.Time{}
	s.logger.Infof("session %s stopped; document restored", id)
}

func (s *Session) handleInsert(root tree.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Running {
		return
	}
	s.runLocked(PassIncremental, func() walker.Stats {
		return walker.Walk(s.host, root, s.passLocked(scan.Forward))
	})
}

func (s *Session) passLocked(mode scan.Mode) walker.Pass {
	return walker.Pass{
		Table: s.table,
		Options: scan.Options{
			Mode:      mode,
			Highlight: s.settings.Highlight,
			Marker:    s.settings.Marker,
		},
		Cache: s.cache,
	}
}

func (s *Session) runLocked(kind PassKind, run func() walker.Stats) {
	begin := time.Now()
	stats := run()
	took := time.Since(begin)
	if kind == PassIncremental && stats.Visited == 0 {
		return
	}
	s.history.record(PassRecord{
		Timestamp: begin,
		Session:   s.id,
		Kind:      kind,
		Stats:     stats,
		Duration:  took,
	})
	s.metrics.RecordPass(string(kind), metrics.Counts{
		Rewritten:    stats.Rewritten,
		Reverted:     stats.Reverted,
		Misses:       stats.Misses,
		Replacements: stats.Replacements,
	}, took)
	s.trace("pass.done", map[string]any{
		"session":  s.id,
		"kind":     kind,
		"stats":    stats,
		"duration": took.String(),
	})
	if stats.Misses > 0 {
		s.logger.Debugf("session %s: %d leaf(s) could not be restored from the cache", s.id, stats.Misses)
	}
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:     s.state.String(),
		Session:   s.id,
		Started:   s.started,
		Highlight: s.settings.Highlight,
		Patterns:  s.table.Entries(),
		Cached:    s.cache.Len(),
	}
}

// Settings returns the settings of the last Start.
func (s *Session) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings := s.settings
	settings.Sources = append([]pattern.Identity(nil), s.settings.Sources...)
	return settings
}

// History returns the recorded passes, oldest first.
func (s *Session) History() []PassRecord {
	return s.history.snapshot()
}
