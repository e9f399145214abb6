package client

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/aliaswap/aliaswap/internal/control"
)

func startTestServer(t *testing.T, handler func(net.Conn)) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "socket")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen on unix socket: %v", err)
	}
	go func() {
		defer ln.Close()
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		handler(conn)
	}()
	return path
}

// respond decodes one request, checks its action and replies with resp.
func respond(t *testing.T, action string, resp control.Response, check func(control.Request)) func(net.Conn) {
	return func(conn net.Conn) {
		defer conn.Close()
		var req control.Request
		if err := json.NewDecoder(conn).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if req.Action != action {
			t.Errorf("unexpected action %q", req.Action)
			return
		}
		if check != nil {
			check(req)
		}
		if err := json.NewEncoder(conn).Encode(resp); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}
}

func TestStatusSuccess(t *testing.T) {
	now := time.Now().UTC().Round(time.Second)
	path := startTestServer(t, respond(t, control.ActionStatus, control.Response{Status: control.StatusOK, Data: control.SessionStatus{
		State:    "running",
		Session:  "abc",
		Started:  now,
		Patterns: []control.Pattern{{Old: "Jon", New: "Arya"}},
		Cached:   2,
		Title:    "Arya",
		Nodes:    5,
	}}, nil))
	cli, err := New(path)
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	status, err := cli.Status(context.Background())
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if status.State != "running" || status.Session != "abc" || !status.Started.Equal(now) {
		t.Fatalf("unexpected status: %#v", status)
	}
	if len(status.Patterns) != 1 || status.Patterns[0].New != "Arya" {
		t.Fatalf("unexpected patterns: %#v", status.Patterns)
	}
}

func TestStatusError(t *testing.T) {
	path := startTestServer(t, respond(t, control.ActionStatus, control.Response{Status: control.StatusError, Error: "boom"}, nil))
	cli, err := New(path)
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	if _, err := cli.Status(context.Background()); err == nil || err.Error() != "boom" {
		t.Fatalf("expected boom error, got %v", err)
	}
}

func TestInsertSendsParams(t *testing.T) {
	path := startTestServer(t, respond(t, control.ActionInsert,
		control.Response{Status: control.StatusOK, Data: control.InsertResult{Nodes: []uint64{9, 10}}},
		func(req control.Request) {
			if req.Params["html"] != "<p>Jon</p>" || req.Params["parent"] != float64(3) {
				t.Errorf("unexpected params: %#v", req.Params)
			}
		}))
	cli, err := New(path)
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	if _, err := cli.Insert(context.Background(), 3, ""); err == nil {
		t.Fatalf("expected error for empty markup")
	}
	nodes, err := cli.Insert(context.Background(), 3, "<p>Jon</p>")
	if err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}
	if len(nodes) != 2 || nodes[0] != 9 {
		t.Fatalf("unexpected nodes: %v", nodes)
	}
}

func TestMove(t *testing.T) {
	path := startTestServer(t, respond(t, control.ActionMove, control.Response{Status: control.StatusOK},
		func(req control.Request) {
			if req.Params["node"] != float64(4) || req.Params["parent"] != float64(2) {
				t.Errorf("unexpected params: %#v", req.Params)
			}
		}))
	cli, err := New(path)
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	if err := cli.Move(context.Background(), 0, 2); err == nil {
		t.Fatalf("expected error for missing node")
	}
	if err := cli.Move(context.Background(), 4, 2); err != nil {
		t.Fatalf("Move returned error: %v", err)
	}
}

func TestRender(t *testing.T) {
	path := startTestServer(t, respond(t, control.ActionRender,
		control.Response{Status: control.StatusOK, Data: control.RenderResult{HTML: "<p>Arya</p>"}}, nil))
	cli, err := New(path)
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	out, err := cli.Render(context.Background())
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if out != "<p>Arya</p>" {
		t.Fatalf("unexpected html %q", out)
	}
}

func TestHistory(t *testing.T) {
	path := startTestServer(t, respond(t, control.ActionHistory, control.Response{Status: control.StatusOK, Data: control.History{
		Passes: []control.PassRecord{{Kind: "initial", Rewritten: 3}, {Kind: "revert", Reverted: 3}},
	}}, nil))
	cli, err := New(path)
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	history, err := cli.History(context.Background())
	if err != nil {
		t.Fatalf("History returned error: %v", err)
	}
	if len(history.Passes) != 2 || history.Passes[1].Reverted != 3 {
		t.Fatalf("unexpected history: %#v", history)
	}
}

func TestMetricsSuccess(t *testing.T) {
	path := startTestServer(t, respond(t, control.ActionMetrics, control.Response{Status: control.StatusOK, Data: control.MetricsSnapshot{
		Enabled: true,
		Totals:  control.MetricsTotals{Passes: 2, Rewritten: 1},
		Kinds:   []control.MetricsKind{{Kind: "initial", Passes: 2, Rewritten: 1}},
	}}, nil))
	cli, err := New(path)
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	snapshot, err := cli.Metrics(context.Background())
	if err != nil {
		t.Fatalf("Metrics returned error: %v", err)
	}
	if !snapshot.Enabled || snapshot.Totals.Passes != 2 {
		t.Fatalf("unexpected snapshot: %#v", snapshot)
	}
	if len(snapshot.Kinds) != 1 {
		t.Fatalf("expected one kind entry, got %d", len(snapshot.Kinds))
	}
}

func TestSimpleActions(t *testing.T) {
	calls := []struct {
		action string
		run    func(*Client) error
	}{
		{control.ActionEnable, func(c *Client) error { return c.Enable(context.Background()) }},
		{control.ActionDisable, func(c *Client) error { return c.Disable(context.Background()) }},
		{control.ActionReload, func(c *Client) error { return c.Reload(context.Background()) }},
	}
	for _, call := range calls {
		path := startTestServer(t, respond(t, call.action, control.Response{Status: control.StatusOK}, nil))
		cli, err := New(path)
		if err != nil {
			t.Fatalf("create client: %v", err)
		}
		if err := call.run(cli); err != nil {
			t.Fatalf("%s returned error: %v", call.action, err)
		}
	}
}

func TestDialFailure(t *testing.T) {
	cli, err := New(filepath.Join(t.TempDir(), "missing.sock"))
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	if err := cli.Reload(context.Background()); err == nil {
		t.Fatalf("expected dial error")
	}
}

func TestNewUsesEnvironmentSocket(t *testing.T) {
	t.Setenv("ALIASWAP_CONTROL_SOCKET", "/tmp/aliaswap-test.sock")
	cli, err := New("")
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	if cli.socketPath != "/tmp/aliaswap-test.sock" {
		t.Fatalf("unexpected socket path %q", cli.socketPath)
	}
}
