package aps

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apperrors "github.com/kandev/agentcore/internal/common/errors"
	"github.com/kandev/agentcore/internal/common/logger"
)

// pendingRequest correlates an in-flight task.assign with the channel its
// waiting SendTask call is blocked on, plus the time it was sent (for
// TTL-based GC). Keyed by TaskID rather than the JSON-RPC request id: the
// worker's reply arrives as its own independent "task.result" request (its
// own id, no back-reference to the task.assign id), never as a JSON-RPC
// response to task.assign, so TaskID is the only field that correlates the
// two sides.
type pendingRequest struct {
	ch     chan *TaskResult
	sentAt time.Time
}

// Config configures a Server.
type Config struct {
	HeartbeatTimeout  time.Duration
	PendingRequestTTL time.Duration
	GCInterval        time.Duration
	RequestTimeout    time.Duration
	OutboundQueueCap  int
	APIKeys           map[string]string // agent_id -> api_key allowlist
}

// Server is the agent protocol server: a WebSocket hub of AgentConnections
// plus JSON-RPC request/response correlation and method dispatch.
type Server struct {
	cfg Config
	log *logger.Logger

	mu          sync.RWMutex
	connections map[string]*AgentConnection
	byRole      map[string][]string // role -> ordered connection IDs, LRU at front

	pendingMu sync.Mutex
	pending   map[string]*pendingRequest // keyed by TaskID
	nextID    int64

	upgrader websocket.Upgrader

	onTaskResult taskResultHandler
	onConnect    func(agentID, role string)
	onDisconnect func(agentID string)

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewServer builds an agent protocol server.
func NewServer(cfg Config, log *logger.Logger) *Server {
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 90 * time.Second
	}
	if cfg.PendingRequestTTL <= 0 {
		cfg.PendingRequestTTL = 60 * time.Second
	}
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = 30 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.OutboundQueueCap <= 0 {
		cfg.OutboundQueueCap = 100
	}
	return &Server{
		cfg:         cfg,
		log:         log.WithFields(zap.String("component", "aps_server")),
		connections: make(map[string]*AgentConnection),
		byRole:      make(map[string][]string),
		pending:     make(map[string]*pendingRequest),
		upgrader:    websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		stopCh:      make(chan struct{}),
	}
}

// Start launches the GC sweeper and heartbeat-timeout monitor.
func (s *Server) Start(ctx context.Context) {
	s.wg.Add(2)
	go s.gcLoop(ctx)
	go s.heartbeatLoop(ctx)
}

// Stop terminates every connection and background loop.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()

	s.mu.Lock()
	for _, c := range s.connections {
		c.close()
	}
	s.connections = make(map[string]*AgentConnection)
	s.byRole = make(map[string][]string)
	s.mu.Unlock()
}

// Accept registers an already-upgraded WebSocket connection and starts its
// read/write pumps. Connections begin unregistered; they may only send
// agent.register until that succeeds.
func (s *Server) Accept(id string, conn *websocket.Conn) *AgentConnection {
	ac := newAgentConnection(id, conn, s.cfg.OutboundQueueCap, s.log)

	s.mu.Lock()
	s.connections[id] = ac
	s.mu.Unlock()

	go ac.writePump()
	go func() {
		ac.readPump(func(raw []byte) { s.handleFrame(ac, raw) })
		s.removeConnection(ac)
	}()

	return ac
}

func (s *Server) removeConnection(ac *AgentConnection) {
	s.mu.Lock()
	delete(s.connections, ac.ID)
	role := ac.Role()
	if role != "" {
		s.removeFromRoleLocked(role, ac.ID)
	}
	s.mu.Unlock()
	ac.close()

	if role != "" && s.onDisconnect != nil {
		s.onDisconnect(ac.ID)
	}
}

func (s *Server) removeFromRoleLocked(role, connID string) {
	ids := s.byRole[role]
	for i, id := range ids {
		if id == connID {
			s.byRole[role] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(s.byRole[role]) == 0 {
		delete(s.byRole, role)
	}
}

// handleFrame classifies and dispatches one inbound raw JSON frame.
func (s *Server) handleFrame(ac *AgentConnection, raw []byte) {
	var probe sniffedFrame
	if err := json.Unmarshal(raw, &probe); err != nil {
		s.sendError(ac, nil, newRPCError(CodeParseError, "failed to parse frame"))
		return
	}

	hasID := probe.ID != nil
	hasMethod := probe.Method != ""
	hasResult := probe.Result != nil
	hasErr := probe.Error != nil

	switch {
	case hasID && !hasMethod && (hasResult || hasErr):
		s.handleResponse(&Response{ID: probe.ID, Result: probe.Result, Error: probe.Error})
	case hasID && hasMethod:
		s.handleRequest(ac, probe.ID, probe.Method, probe.Params)
	case hasMethod && !hasID:
		s.handleNotification(ac, probe.Method, probe.Params)
	default:
		s.sendError(ac, probe.ID, newRPCError(CodeInvalidRequest, "unrecognized frame shape"))
	}
}

// handleResponse handles a bare JSON-RPC response frame (id+result/error,
// no method). No outbound request in this protocol is answered this way
// today — task.assign's reply arrives as an independent "task.result"
// request, resolved by handleTaskResult — so this only logs; it exists for
// frame-shape completeness should a future outbound method expect a direct
// response.
func (s *Server) handleResponse(resp *Response) {
	s.log.Warn("response frame received but no outbound request expects one", zap.Any("id", resp.ID))
}

// handleRequest dispatches an inbound worker->server request, enforcing
// that unregistered connections may only call agent.register.
func (s *Server) handleRequest(ac *AgentConnection, id any, method string, params json.RawMessage) {
	if !ac.IsRegistered() && method != "agent.register" {
		s.sendError(ac, id, newRPCError(CodeUnauthenticated, "connection is not registered"))
		return
	}

	var result any
	var rpcErr *RPCError

	switch method {
	case "agent.register":
		result, rpcErr = s.handleAgentRegister(ac, params)
	case "agent.heartbeat":
		result, rpcErr = s.handleHeartbeat(ac, params)
	case "agent.status":
		result, rpcErr = s.handleStatus(ac, params)
	case "task.result":
		result, rpcErr = s.handleTaskResult(ac, params)
	default:
		rpcErr = newRPCError(CodeMethodNotFound, fmt.Sprintf("unknown method %q", method))
	}

	resp, err := newResponse(id, result, rpcErr)
	if err != nil {
		s.log.Error("failed to build response", zap.Error(err))
		return
	}
	s.sendFrame(ac, resp)
}

func (s *Server) handleNotification(ac *AgentConnection, method string, params json.RawMessage) {
	s.log.Debug("received notification", zap.String("method", method), zap.String("conn_id", ac.ID))
}

func (s *Server) handleAgentRegister(ac *AgentConnection, params json.RawMessage) (any, *RPCError) {
	var p AgentRegisterParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, newRPCError(CodeInvalidParams, "malformed agent.register params")
	}
	if expected, ok := s.cfg.APIKeys[p.AgentID]; !ok || expected != p.APIKey {
		return nil, newRPCError(CodeUnauthenticated, "invalid agent_id or api_key")
	}

	ac.markRegistered(p.Role)

	s.mu.Lock()
	s.byRole[p.Role] = append(s.byRole[p.Role], ac.ID)
	s.mu.Unlock()

	if s.onConnect != nil {
		s.onConnect(ac.ID, p.Role)
	}

	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleHeartbeat(ac *AgentConnection, params json.RawMessage) (any, *RPCError) {
	ac.touchHeartbeat()
	return map[string]int64{"server_time": time.Now().UTC().Unix()}, nil
}

func (s *Server) handleStatus(ac *AgentConnection, params json.RawMessage) (any, *RPCError) {
	state, task, uptime := ac.statusSnapshot()
	return AgentStatusResult{State: state, CurrentTask: task, UptimeSeconds: uptime}, nil
}

func (s *Server) handleTaskResult(ac *AgentConnection, params json.RawMessage) (any, *RPCError) {
	var tr TaskResult
	if err := json.Unmarshal(params, &tr); err != nil {
		return nil, newRPCError(CodeInvalidParams, "malformed task.result params")
	}
	ac.setCurrentTask("")

	s.pendingMu.Lock()
	p, ok := s.pending[tr.TaskID]
	if ok {
		delete(s.pending, tr.TaskID)
	}
	s.pendingMu.Unlock()
	if ok {
		p.ch <- &tr
	}

	if s.onTaskResult != nil {
		s.onTaskResult(ac, tr)
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) sendFrame(ac *AgentConnection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error("failed to marshal frame", zap.Error(err))
		return
	}
	if !ac.enqueue(data) {
		s.log.Warn("outbound queue full, dropping frame", zap.String("conn_id", ac.ID))
	}
}

func (s *Server) sendError(ac *AgentConnection, id any, rpcErr *RPCError) {
	resp, _ := newResponse(id, nil, rpcErr)
	s.sendFrame(ac, resp)
}

// FindAgentByRole returns one currently-registered connection ID for role,
// tie-broken least-recently-used (the front of byRole's slice is rotated to
// the back on each selection).
func (s *Server) FindAgentByRole(role string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.byRole[role]
	if len(ids) == 0 {
		return "", false
	}
	chosen := ids[0]
	s.byRole[role] = append(ids[1:], ids[0])
	return chosen, true
}

// SendTask sends task.assign to agentID and blocks until the matching
// task.result arrives, the context is cancelled, or timeout elapses.
func (s *Server) SendTask(ctx context.Context, agentID string, params TaskAssignParams, timeout time.Duration) (*TaskResult, error) {
	s.mu.RLock()
	ac, ok := s.connections[agentID]
	s.mu.RUnlock()
	if !ok {
		return nil, apperrors.AgentUnavailable(agentID, "disconnected")
	}

	if timeout <= 0 {
		timeout = s.cfg.RequestTimeout
	}

	id := s.nextRequestID()
	req, err := newRequest(id, "task.assign", params)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to build task.assign request")
	}

	// Correlated by TaskID, not the JSON-RPC request id above: the worker's
	// reply is its own independent "task.result" request carrying only the
	// domain TaskID, never the id this task.assign was sent with.
	respCh := make(chan *TaskResult, 1)
	s.pendingMu.Lock()
	s.pending[params.TaskID] = &pendingRequest{ch: respCh, sentAt: time.Now().UTC()}
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, params.TaskID)
		s.pendingMu.Unlock()
	}()

	data, err := json.Marshal(req)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to marshal task.assign")
	}
	if !ac.enqueue(data) {
		return nil, apperrors.Backpressure(agentID)
	}
	ac.setCurrentTask(params.TaskID)

	select {
	case tr := <-respCh:
		return tr, nil
	case <-time.After(timeout):
		return nil, apperrors.Timeout("send_task")
	case <-ctx.Done():
		return nil, apperrors.Timeout("send_task")
	}
}

// Broadcast sends a "broadcast" notification to every registered connection.
func (s *Server) Broadcast(kind BroadcastKind, content map[string]any) int {
	notif, err := newNotification("broadcast", BroadcastParams{MessageType: kind, Content: content})
	if err != nil {
		s.log.Error("failed to build broadcast notification", zap.Error(err))
		return 0
	}
	data, err := json.Marshal(notif)
	if err != nil {
		s.log.Error("failed to marshal broadcast", zap.Error(err))
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sent := 0
	for _, ac := range s.connections {
		if ac.IsRegistered() && ac.enqueue(data) {
			sent++
		}
	}
	return sent
}

func (s *Server) nextRequestID() int64 {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	s.nextID++
	return s.nextID
}

// gcLoop periodically drops pending requests that have outlived the TTL,
// so a never-answered request doesn't leak a goroutine's response channel
// forever (the blocked caller has its own timeout anyway; this reclaims the
// map entry for requests whose waiter already gave up via ctx).
func (s *Server) gcLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			now := time.Now().UTC()
			s.pendingMu.Lock()
			for id, p := range s.pending {
				if now.Sub(p.sentAt) > s.cfg.PendingRequestTTL {
					delete(s.pending, id)
				}
			}
			s.pendingMu.Unlock()
		}
	}
}

// heartbeatLoop closes connections whose last heartbeat is older than the
// configured timeout, emitting an AgentDisconnected broadcast for each.
func (s *Server) heartbeatLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.RLock()
			stale := make([]*AgentConnection, 0)
			for _, ac := range s.connections {
				if ac.heartbeatAge() > s.cfg.HeartbeatTimeout {
					stale = append(stale, ac)
				}
			}
			s.mu.RUnlock()

			for _, ac := range stale {
				agentID := ac.ID
				s.removeConnection(ac)
				s.Broadcast(BroadcastAgentDisconnected, map[string]any{"agent_id": agentID})
			}
		}
	}
}

// Len returns the number of currently connected (registered or not) sockets.
func (s *Server) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

// onTaskResult is set by orchestrator wiring via SetTaskResultHandler.
type taskResultHandler func(ac *AgentConnection, tr TaskResult)

// SetTaskResultHandler registers the callback invoked on every inbound
// task.result, independent of any in-flight SendTask wait.
func (s *Server) SetTaskResultHandler(h func(agentID string, tr TaskResult)) {
	s.onTaskResult = func(ac *AgentConnection, tr TaskResult) { h(ac.ID, tr) }
}

// SetAgentConnectHandler registers the callback invoked once a worker
// completes agent.register, with the role it registered under.
func (s *Server) SetAgentConnectHandler(h func(agentID, role string)) {
	s.onConnect = h
}

// SetAgentDisconnectHandler registers the callback invoked when a
// registered connection is removed; a connection that never completed
// agent.register does not trigger it.
func (s *Server) SetAgentDisconnectHandler(h func(agentID string)) {
	s.onDisconnect = h
}
