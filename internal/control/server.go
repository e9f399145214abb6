package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/aliaswap/aliaswap/internal/htmldoc"
	"github.com/aliaswap/aliaswap/internal/metrics"
	"github.com/aliaswap/aliaswap/internal/session"
	"github.com/aliaswap/aliaswap/internal/tree"
	"github.com/aliaswap/aliaswap/internal/util"
)

// Server hosts the aliaswap control socket and serves requests.
type Server struct {
	session    *session.Session
	doc        *tree.Document
	metrics    *metrics.Collector
	logger     *util.Logger
	reload     func(reason string) error
	socketPath string

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a new control server.
func NewServer(sess *session.Session, doc *tree.Document, collector *metrics.Collector, logger *util.Logger, reload func(reason string) error) (*Server, error) {
	path, err := DefaultSocketPath()
	if err != nil {
		return nil, err
	}
	return &Server{
		session:    sess,
		doc:        doc,
		metrics:    collector,
		logger:     logger,
		reload:     reload,
		socketPath: path,
	}, nil
}

// SocketPath returns the path the server listens on.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Serve listens on the control socket until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.prepareSocket(); err != nil {
		return err
	}
	s.logger.Infof("control server listening on %s", s.socketPath)
	defer s.cleanup()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		if s.listener != nil {
			s.listener.Close()
		}
		s.mu.Unlock()
	}()

	for {
		conn, err := s.accept(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Errorf("control accept error: %v", err)
			continue
		}
		go s.handle(ctx, conn)
	}
}

func (s *Server) accept(ctx context.Context) (net.Conn, error) {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return nil, context.Canceled
	}
	conn, err := listener.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return conn, nil
}

func (s *Server) prepareSocket() error {
	dir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create control dir: %w", err)
	}
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on control socket: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("chmod control socket: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	return nil
}

func (s *Server) cleanup() {
	s.mu.Lock()
	listener := s.listener
	s.listener = nil
	s.mu.Unlock()
	if listener != nil {
		listener.Close()
	}
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warnf("remove control socket: %v", err)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	dec := json.NewDecoder(conn)
	var req Request
	if err := dec.Decode(&req); err != nil {
		s.writeError(conn, fmt.Errorf("decode request: %w", err))
		return
	}
	s.logger.Debugf("control request %q", req.Action)
	switch req.Action {
	case ActionStatus:
		s.handleStatus(conn)
	case ActionEnable:
		s.handleEnable(conn)
	case ActionDisable:
		s.handleDisable(conn)
	case ActionReload:
		s.handleReload(conn)
	case ActionInsert:
		s.handleInsert(conn, req.Params)
	case ActionMove:
		s.handleMove(conn, req.Params)
	case ActionRender:
		s.handleRender(conn)
	case ActionHistory:
		s.handleHistory(conn)
	case ActionMetrics:
		s.handleMetrics(conn)
	default:
		s.writeError(conn, fmt.Errorf("unknown action %q", req.Action))
	}
}

func (s *Server) handleStatus(conn net.Conn) {
	st := s.session.Status()
	status := SessionStatus{
		State:     st.State,
		Session:   st.Session,
		Started:   st.Started,
		Highlight: st.Highlight,
		Cached:    st.Cached,
		Title:     s.doc.Title(),
		Nodes:     s.doc.Len(),
	}
	for _, p := range st.Patterns {
		status.Patterns = append(status.Patterns, Pattern{Old: p.Old, New: p.New})
	}
	s.writeOK(conn, status)
}

func (s *Server) handleEnable(conn net.Conn) {
	if err := s.session.Enable(); err != nil {
		s.writeError(conn, err)
		return
	}
	s.writeOK(conn, nil)
}

func (s *Server) handleDisable(conn net.Conn) {
	s.session.Stop()
	s.writeOK(conn, nil)
}

func (s *Server) handleReload(conn net.Conn) {
	if s.reload == nil {
		s.writeError(conn, errors.New("reload not supported"))
		return
	}
	if err := s.reload("control request"); err != nil {
		s.writeError(conn, err)
		return
	}
	s.writeOK(conn, nil)
}

func (s *Server) handleInsert(conn net.Conn, params map[string]any) {
	markup, _ := params["html"].(string)
	if strings.TrimSpace(markup) == "" {
		s.writeError(conn, errors.New("missing html"))
		return
	}
	parent := s.doc.Root()
	if _, ok := params["parent"]; ok {
		id, err := nodeParam(params, "parent")
		if err != nil {
			s.writeError(conn, err)
			return
		}
		parent = id
	}
	specs, err := htmldoc.ParseFragment(strings.NewReader(markup))
	if err != nil {
		s.writeError(conn, err)
		return
	}
	ids, err := s.doc.Insert(parent, specs...)
	if err != nil {
		s.writeError(conn, err)
		return
	}
	result := InsertResult{Nodes: make([]uint64, 0, len(ids))}
	for _, id := range ids {
		result.Nodes = append(result.Nodes, uint64(id))
	}
	s.writeOK(conn, result)
}

func (s *Server) handleMove(conn net.Conn, params map[string]any) {
	node, err := nodeParam(params, "node")
	if err != nil {
		s.writeError(conn, err)
		return
	}
	parent, err := nodeParam(params, "parent")
	if err != nil {
		s.writeError(conn, err)
		return
	}
	if err := s.doc.Move(node, parent); err != nil {
		s.writeError(conn, err)
		return
	}
	s.writeOK(conn, nil)
}

func (s *Server) handleRender(conn net.Conn) {
	out, err := htmldoc.RenderString(s.doc, s.session.Settings().Marker)
	if err != nil {
		s.writeError(conn, err)
		return
	}
	s.writeOK(conn, RenderResult{HTML: out})
}

func (s *Server) handleHistory(conn net.Conn) {
	records := s.session.History()
	history := History{Passes: make([]PassRecord, 0, len(records))}
	for _, r := range records {
		history.Passes = append(history.Passes, PassRecord{
			Timestamp:    r.Timestamp,
			Session:      r.Session,
			Kind:         string(r.Kind),
			Visited:      r.Stats.Visited,
			Rewritten:    r.Stats.Rewritten,
			Reverted:     r.Stats.Reverted,
			Skipped:      r.Stats.Skipped,
			Misses:       r.Stats.Misses,
			Replacements: r.Stats.Replacements,
			TitleChanged: r.Stats.TitleChanged,
			DurationMs:   float64(r.Duration.Microseconds()) / 1000,
		})
	}
	s.writeOK(conn, history)
}

func (s *Server) handleMetrics(conn net.Conn) {
	snap := s.metrics.Snapshot()
	out := MetricsSnapshot{
		Enabled: snap.Enabled,
		Started: snap.Started,
		Totals: MetricsTotals{
			Passes:       snap.Totals.Passes,
			Rewritten:    snap.Totals.Rewritten,
			Reverted:     snap.Totals.Reverted,
			Misses:       snap.Totals.Misses,
			Replacements: snap.Totals.Replacements,
		},
	}
	for _, k := range snap.Kinds {
		out.Kinds = append(out.Kinds, MetricsKind{
			Kind:          k.Kind,
			Passes:        k.Passes,
			Rewritten:     k.Rewritten,
			Reverted:      k.Reverted,
			Misses:        k.Misses,
			Replacements:  k.Replacements,
			TotalDuration: int64(k.TotalDuration),
			LastPass:      k.LastPass,
		})
	}
	s.writeOK(conn, out)
}

// nodeParam reads a node id. JSON numbers decode as float64; strings are
// accepted for hand-written requests.
func nodeParam(params map[string]any, key string) (tree.NodeID, error) {
	raw, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	switch v := raw.(type) {
	case float64:
		if v <= 0 || v != float64(uint64(v)) {
			return 0, fmt.Errorf("invalid %s %v", key, v)
		}
		return tree.NodeID(v), nil
	case string:
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil || id == 0 {
			return 0, fmt.Errorf("invalid %s %q", key, v)
		}
		return tree.NodeID(id), nil
	default:
		return 0, fmt.Errorf("invalid %s %v", key, raw)
	}
}

func (s *Server) writeOK(conn net.Conn, data any) {
	resp := Response{Status: StatusOK}
	if data != nil {
		resp.Data = data
	}
	_ = json.NewEncoder(conn).Encode(resp)
}

func (s *Server) writeError(conn net.Conn, err error) {
	resp := Response{Status: StatusError}
	if err != nil {
		resp.Error = err.Error()
	}
	_ = json.NewEncoder(conn).Encode(resp)
}
