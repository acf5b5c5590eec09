// Package aps implements the agent protocol server: a bidirectional
// JSON-RPC 2.0 channel over WebSocket connecting externally-run worker
// processes to the orchestrator.
package aps

import (
	"encoding/json"
)

const jsonrpcVersion = "2.0"

// JSON-RPC 2.0 error codes, plus the custom codes this protocol adds.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeUnauthenticated = -32000
	CodeBackpressure    = -32001
	CodeTimeout         = -32002
)

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

func newRPCError(code int, message string) *RPCError {
	return &RPCError{Code: code, Message: message}
}

// Request is a JSON-RPC request or response envelope; inbound frames are
// sniffed by field shape (id+method = request, id+result/error = response,
// method only = notification), following the same discriminate-by-shape
// approach used for stdio JSON-RPC streams elsewhere in this codebase.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Notification is a JSON-RPC notification (no id, no response expected).
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func newRequest(id any, method string, params any) (*Request, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Request{JSONRPC: jsonrpcVersion, ID: id, Method: method, Params: raw}, nil
}

func newNotification(method string, params any) (*Notification, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Notification{JSONRPC: jsonrpcVersion, Method: method, Params: raw}, nil
}

func newResponse(id any, result any, rpcErr *RPCError) (*Response, error) {
	var raw json.RawMessage
	if rpcErr == nil && result != nil {
		var err error
		raw, err = json.Marshal(result)
		if err != nil {
			return nil, err
		}
	}
	return &Response{JSONRPC: jsonrpcVersion, ID: id, Result: raw, Error: rpcErr}, nil
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	return json.Marshal(params)
}

// sniffedFrame is used to classify an inbound raw message by field shape
// before decoding it into the precise Request/Response/Notification type.
type sniffedFrame struct {
	ID     any             `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
	Params json.RawMessage `json:"params"`
}

// Messages exchanged over the wire, named per the method table: inbound
// (worker -> server) request/notification params, and outbound payloads.

// AgentRegisterParams is the payload of an inbound "agent.register" request.
type AgentRegisterParams struct {
	AgentID string `json:"agent_id"`
	Role    string `json:"role"`
	APIKey  string `json:"api_key"`
}

// AgentHeartbeatParams is the payload of an inbound "agent.heartbeat" request.
type AgentHeartbeatParams struct {
	AgentID   string `json:"agent_id"`
	Timestamp int64  `json:"timestamp"`
}

// AgentStatusParams is the payload of an inbound "agent.status" request.
type AgentStatusParams struct {
	AgentID string `json:"agent_id"`
}

// AgentStatusResult answers an "agent.status" request.
type AgentStatusResult struct {
	State         string `json:"state"`
	CurrentTask   string `json:"current_task,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// TaskResult is the payload of an inbound "task.result" request, and the
// return value of Server.SendTask.
type TaskResult struct {
	TaskID      string `json:"task_id"`
	Success     bool   `json:"success"`
	Output      string `json:"output,omitempty"`
	Reason      string `json:"reason,omitempty"`
	TokensUsed  uint64 `json:"tokens_used"`
	DurationMs  int64  `json:"duration_ms"`
}

// TaskAssignParams is the payload of an outbound "task.assign" request.
type TaskAssignParams struct {
	TaskID      string         `json:"task_id"`
	Description string         `json:"description"`
	Role        string         `json:"role"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// BroadcastKind enumerates the broadcast message_type values.
type BroadcastKind string

const (
	BroadcastAnnouncement  BroadcastKind = "Announcement"
	BroadcastHealthCheck   BroadcastKind = "HealthCheck"
	BroadcastContextUpdate BroadcastKind = "ContextUpdate"
	BroadcastPatternLearned BroadcastKind = "PatternLearned"
	BroadcastAgentDisconnected BroadcastKind = "AgentDisconnected"
)

// CustomBroadcastKind builds a Custom(name) broadcast kind.
func CustomBroadcastKind(name string) BroadcastKind {
	return BroadcastKind("Custom:" + name)
}

// BroadcastParams is the payload of an outbound "broadcast" notification.
type BroadcastParams struct {
	MessageType BroadcastKind  `json:"message_type"`
	Content     map[string]any `json:"content,omitempty"`
}
