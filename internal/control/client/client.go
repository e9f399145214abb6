package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/aliaswap/aliaswap/internal/control"
)

const (
	// defaultTimeout is used when the caller does not provide a context deadline.
	defaultTimeout = 3 * time.Second
)

// Client talks to the running aliaswap daemon over its control socket.
type Client struct {
	socketPath string
}

type (
	// SessionStatus describes the daemon's session and document.
	SessionStatus = control.SessionStatus
	// PassRecord mirrors one entry of the pass history.
	PassRecord = control.PassRecord
	// History lists recorded passes.
	History = control.History
	// MetricsSnapshot is the metrics payload returned by the daemon.
	MetricsSnapshot = control.MetricsSnapshot
)

// New creates a client that connects to the provided socket path. When path is
// empty, the default runtime path is used.
func New(path string) (*Client, error) {
	if path == "" {
		var err error
		path, err = control.DefaultSocketPath()
		if err != nil {
			return nil, err
		}
	}
	return &Client{socketPath: path}, nil
}

// Status retrieves the session state and the active substitution table.
func (c *Client) Status(ctx context.Context) (SessionStatus, error) {
	var status SessionStatus
	if err := c.do(ctx, control.Request{Action: control.ActionStatus}, &status); err != nil {
		return SessionStatus{}, err
	}
	return status, nil
}

// Enable starts the session with the daemon's current settings.
func (c *Client) Enable(ctx context.Context) error {
	return c.do(ctx, control.Request{Action: control.ActionEnable}, nil)
}

// Disable stops the session and restores the document.
func (c *Client) Disable(ctx context.Context) error {
	return c.do(ctx, control.Request{Action: control.ActionDisable}, nil)
}

// Reload asks the daemon to reload its configuration.
func (c *Client) Reload(ctx context.Context) error {
	return c.do(ctx, control.Request{Action: control.ActionReload}, nil)
}

// Insert appends parsed markup under parent. A zero parent means the body.
func (c *Client) Insert(ctx context.Context, parent uint64, markup string) ([]uint64, error) {
	if markup == "" {
		return nil, errors.New("markup cannot be empty")
	}
	params := map[string]any{"html": markup}
	if parent != 0 {
		params["parent"] = parent
	}
	var result control.InsertResult
	if err := c.do(ctx, control.Request{Action: control.ActionInsert, Params: params}, &result); err != nil {
		return nil, err
	}
	return result.Nodes, nil
}

// Move re-attaches node as the last child of parent.
func (c *Client) Move(ctx context.Context, node, parent uint64) error {
	if node == 0 || parent == 0 {
		return errors.New("node and parent are required")
	}
	params := map[string]any{"node": node, "parent": parent}
	return c.do(ctx, control.Request{Action: control.ActionMove, Params: params}, nil)
}

// Render returns the document as HTML.
func (c *Client) Render(ctx context.Context) (string, error) {
	var result control.RenderResult
	if err := c.do(ctx, control.Request{Action: control.ActionRender}, &result); err != nil {
		return "", err
	}
	return result.HTML, nil
}

// History retrieves the recorded passes, oldest first.
func (c *Client) History(ctx context.Context) (History, error) {
	var history History
	if err := c.do(ctx, control.Request{Action: control.ActionHistory}, &history); err != nil {
		return History{}, err
	}
	return history, nil
}

// Metrics retrieves the opt-in pass counters.
func (c *Client) Metrics(ctx context.Context) (MetricsSnapshot, error) {
	var snapshot MetricsSnapshot
	if err := c.do(ctx, control.Request{Action: control.ActionMetrics}, &snapshot); err != nil {
		return MetricsSnapshot{}, err
	}
	return snapshot, nil
}

func (c *Client) do(ctx context.Context, req control.Request, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("dial control socket: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	var resp control.Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != control.StatusOK {
		if resp.Error == "" {
			resp.Error = "unknown control error"
		}
		return errors.New(resp.Error)
	}
	if out == nil || resp.Data == nil {
		return nil
	}
	data, err := json.Marshal(resp.Data)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
