package control

import (
	"errors"
	"os"
	"path/filepath"
	"time"
)

const (
	// SocketFileName is the filename of the control socket within the runtime dir.
	SocketFileName = "control.sock"

	// Action names supported by the control protocol.
	ActionStatus  = "status"
	ActionEnable  = "enable"
	ActionDisable = "disable"
	ActionReload  = "reload"
	ActionInsert  = "insert"
	ActionMove    = "move"
	ActionRender  = "render"
	ActionHistory = "history"
	ActionMetrics = "metrics"

	// Response statuses.
	StatusOK    = "ok"
	StatusError = "error"
)

// Request represents a control API request.
type Request struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// Response represents a control API response.
type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// Pattern is one substitution table entry.
type Pattern struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// SessionStatus describes the daemon's session and document.
type SessionStatus struct {
	State     string    `json:"state"`
	Session   string    `json:"session,omitempty"`
	Started   time.Time `json:"started,omitempty"`
	Highlight bool      `json:"highlight"`
	Patterns  []Pattern `json:"patterns,omitempty"`
	Cached    int       `json:"cached"`
	Title     string    `json:"title"`
	Nodes     int       `json:"nodes"`
}

// PassRecord mirrors one entry of the session pass history.
type PassRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	Session      string    `json:"session"`
	Kind         string    `json:"kind"`
	Visited      int       `json:"visited"`
	Rewritten    int       `json:"rewritten"`
	Reverted     int       `json:"reverted"`
	Skipped      int       `json:"skipped"`
	Misses       int       `json:"misses"`
	Replacements int       `json:"replacements"`
	TitleChanged bool      `json:"titleChanged,omitempty"`
	DurationMs   float64   `json:"durationMs"`
}

// History lists recorded passes, oldest first.
type History struct {
	Passes []PassRecord `json:"passes"`
}

// InsertResult lists the ids of inserted subtree roots.
type InsertResult struct {
	Nodes []uint64 `json:"nodes"`
}

// RenderResult carries the rendered document.
type RenderResult struct {
	HTML string `json:"html"`
}

// MetricsKind mirrors the per-kind counters of the collector.
type MetricsKind struct {
	Kind          string    `json:"kind"`
	Passes        uint64    `json:"passes"`
	Rewritten     uint64    `json:"rewritten"`
	Reverted      uint64    `json:"reverted"`
	Misses        uint64    `json:"misses"`
	Replacements  uint64    `json:"replacements"`
	TotalDuration int64     `json:"totalDurationNs"`
	LastPass      time.Time `json:"lastPass,omitempty"`
}

// MetricsTotals aggregates counters across all kinds.
type MetricsTotals struct {
	Passes       uint64 `json:"passes"`
	Rewritten    uint64 `json:"rewritten"`
	Reverted     uint64 `json:"reverted"`
	Misses       uint64 `json:"misses"`
	Replacements uint64 `json:"replacements"`
}

// MetricsSnapshot is the metrics payload returned by the daemon.
type MetricsSnapshot struct {
	Enabled bool          `json:"enabled"`
	Started time.Time     `json:"started,omitempty"`
	Totals  MetricsTotals `json:"totals"`
	Kinds   []MetricsKind `json:"kinds,omitempty"`
}

// DefaultSocketPath returns the expected location of the aliaswap control socket.
func DefaultSocketPath() (string, error) {
	if env := os.Getenv("ALIASWAP_CONTROL_SOCKET"); env != "" {
		return env, nil
	}
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	base := runtimeDir
	if base == "" {
		base = os.TempDir()
		if base == "" {
			return "", errors.New("no runtime directory available")
		}
	}
	return filepath.Join(base, "aliaswap", SocketFileName), nil
}
