package mcp

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ProtocolVersion is the MCP revision sent in the initialize handshake.
const ProtocolVersion = "2024-11-05"

const jsonRPCVersion = "2.0"

const (
	methodInitialize  = "initialize"
	methodInitialized = "notifications/initialized"
	methodToolsList   = "tools/list"
	methodToolsCall   = "tools/call"
)

// Request is a JSON-RPC 2.0 request. Ids are per-transport integers.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Notification is a JSON-RPC 2.0 request without an id; no response follows.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response. The id is kept raw because servers
// also emit notifications (no id) on the same stream.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// HasID reports whether the line was a response rather than a notification.
func (r *Response) HasID() bool {
	id := strings.TrimSpace(string(r.ID))
	return id != "" && id != "null"
}

// MatchesID reports whether the response answers request id. String ids
// holding the same number are accepted.
func (r *Response) MatchesID(id uint64) bool {
	raw := strings.Trim(strings.TrimSpace(string(r.ID)), `"`)
	got, err := strconv.ParseUint(raw, 10, 64)
	return err == nil && got == id
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      clientInfo     `json:"clientInfo"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type toolsListResult struct {
	Tools []json.RawMessage `json:"tools"`
}

func newRequest(id uint64, method string, params any) Request {
	return Request{JSONRPC: jsonRPCVersion, ID: id, Method: method, Params: params}
}

func newInitializeParams(clientName, clientVersion string) initializeParams {
	return initializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{"tools": map[string]any{}},
		ClientInfo:      clientInfo{Name: clientName, Version: clientVersion},
	}
}
