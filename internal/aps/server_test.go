package aps

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kandev/agentcore/internal/common/logger"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv := NewServer(Config{
		HeartbeatTimeout:  5 * time.Second,
		PendingRequestTTL: time.Second,
		GCInterval:        20 * time.Millisecond,
		RequestTimeout:    time.Second,
		APIKeys:           map[string]string{"worker-1": "secret"},
	}, logger.Default())

	ctx, cancel := context.WithCancel(context.Background())
	srv.Start(ctx)
	t.Cleanup(func() {
		cancel()
		srv.Stop()
	})

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return srv, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func callRPC(t *testing.T, conn *websocket.Conn, id int, method string, params any) map[string]json.RawMessage {
	t.Helper()
	raw, _ := json.Marshal(params)
	req := map[string]any{"jsonrpc": "2.0", "id": id, "method": method, "params": json.RawMessage(raw)}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp map[string]json.RawMessage
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return resp
}

func TestUnregisteredConnectionRejectsOtherMethods(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dial(t, ts)

	resp := callRPC(t, conn, 1, "agent.status", AgentStatusParams{AgentID: "worker-1"})
	if resp["error"] == nil {
		t.Fatal("expected an error for unregistered connection calling agent.status")
	}
	var rpcErr RPCError
	_ = json.Unmarshal(resp["error"], &rpcErr)
	if rpcErr.Code != CodeUnauthenticated {
		t.Errorf("expected CodeUnauthenticated, got %d", rpcErr.Code)
	}
}

func TestAgentRegisterRejectsBadKey(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dial(t, ts)

	resp := callRPC(t, conn, 1, "agent.register", AgentRegisterParams{AgentID: "worker-1", Role: "backend", APIKey: "wrong"})
	if resp["error"] == nil {
		t.Fatal("expected error for bad api key")
	}
}

func TestAgentRegisterAndFindByRole(t *testing.T) {
	srv, ts := newTestServer(t)
	conn := dial(t, ts)

	resp := callRPC(t, conn, 1, "agent.register", AgentRegisterParams{AgentID: "worker-1", Role: "backend", APIKey: "secret"})
	if resp["error"] != nil {
		t.Fatalf("unexpected error: %s", resp["error"])
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if srv.Len() == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, ok := srv.FindAgentByRole("backend"); !ok {
		t.Fatal("expected to find registered backend agent")
	}
	if _, ok := srv.FindAgentByRole("frontend"); ok {
		t.Fatal("expected no frontend agent registered")
	}
}

func TestHeartbeatTimeoutDisconnects(t *testing.T) {
	srv := NewServer(Config{
		HeartbeatTimeout:  60 * time.Millisecond,
		PendingRequestTTL: time.Second,
		GCInterval:        10 * time.Millisecond,
		RequestTimeout:    time.Second,
		APIKeys:           map[string]string{"worker-1": "secret"},
	}, logger.Default())

	ctx, cancel := context.WithCancel(context.Background())
	srv.Start(ctx)
	t.Cleanup(func() { cancel(); srv.Stop() })

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	conn := dial(t, ts)
	callRPC(t, conn, 1, "agent.register", AgentRegisterParams{AgentID: "worker-1", Role: "backend", APIKey: "secret"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if srv.Len() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected connection to be removed after heartbeat timeout")
}

func TestSendTaskResolvesFromTaskResult(t *testing.T) {
	srv, ts := newTestServer(t)
	conn := dial(t, ts)

	callRPC(t, conn, 1, "agent.register", AgentRegisterParams{AgentID: "worker-1", Role: "backend", APIKey: "secret"})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && srv.Len() != 1 {
		time.Sleep(5 * time.Millisecond)
	}

	connID, ok := srv.FindAgentByRole("backend")
	if !ok {
		t.Fatal("expected the registered worker to be found by role")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Read the outbound task.assign frame addressed to this worker, then
		// reply the way a real worker does: an independent "task.result"
		// request with its own id, carrying only the domain task_id.
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var assign map[string]json.RawMessage
		if err := conn.ReadJSON(&assign); err != nil {
			t.Errorf("failed to read task.assign: %v", err)
			return
		}
		var method string
		_ = json.Unmarshal(assign["method"], &method)
		if method != "task.assign" {
			t.Errorf("expected task.assign, got %q", method)
			return
		}
		resp := callRPC(t, conn, 2, "task.result", TaskResult{TaskID: "task-1", Success: true, Output: "done"})
		if resp["error"] != nil {
			t.Errorf("unexpected error replying task.result: %s", resp["error"])
		}
	}()

	tr, err := srv.SendTask(context.Background(), connID, TaskAssignParams{TaskID: "task-1", Description: "do it", Role: "backend"}, 2*time.Second)
	<-done
	if err != nil {
		t.Fatalf("SendTask failed: %v", err)
	}
	if tr.TaskID != "task-1" || !tr.Success || tr.Output != "done" {
		t.Errorf("unexpected task result: %+v", tr)
	}
}

func TestHeartbeatUpdatesTimestamp(t *testing.T) {
	srv, ts := newTestServer(t)
	conn := dial(t, ts)

	callRPC(t, conn, 1, "agent.register", AgentRegisterParams{AgentID: "worker-1", Role: "backend", APIKey: "secret"})
	connID, ok := srv.FindAgentByRole("backend")
	if !ok {
		t.Fatal("expected the registered worker to be found by role")
	}
	srv.mu.RLock()
	ac := srv.connections[connID]
	srv.mu.RUnlock()

	time.Sleep(30 * time.Millisecond)
	before := ac.heartbeatAge()

	resp := callRPC(t, conn, 2, "agent.heartbeat", AgentHeartbeatParams{AgentID: "worker-1", Timestamp: time.Now().Unix()})
	if resp["error"] != nil {
		t.Fatalf("unexpected error: %s", resp["error"])
	}
	if resp["result"] == nil {
		t.Fatal("expected a result payload")
	}
	if after := ac.heartbeatAge(); after >= before {
		t.Errorf("expected heartbeat to refresh the timestamp: age before %v, after %v", before, after)
	}
}
