package mcp

import (
	"encoding/json"
	"fmt"
	"strings"
)

// protocolVersion is the provider protocol revision this client speaks.
const protocolVersion = "2024-11-05"

// JSON-RPC method names used by the provider protocol.
const (
	methodInitialize  = "initialize"
	methodToolsList   = "tools/list"
	methodToolsCall   = "tools/call"
	notifyInitialized = "notifications/initialized"
)

// request is an outbound JSON-RPC frame. A nil ID marks a notification:
// the provider sends no response for it.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// newRequest builds a correlated request frame.
func newRequest(id int64, method string, params any) *request {
	return &request{JSONRPC: "2.0", ID: &id, Method: method, Params: params}
}

// newNotification builds an uncorrelated frame with no response expected.
func newNotification(method string, params any) *request {
	return &request{JSONRPC: "2.0", Method: method, Params: params}
}

// frame is an inbound JSON-RPC frame: either a response (ID set, Result or
// Error populated) or a provider notification (Method set, ID nil).
// Notifications are ignored by this client.
type frame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// isResponse reports whether the frame correlates to a prior request.
func (f *frame) isResponse() bool {
	return f.ID != nil && f.Method == ""
}

// RPCError is a provider-reported protocol or call error.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// clientInfo identifies this proxy to the provider during the handshake.
type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// initializeParams is the payload of the handshake request.
type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      clientInfo     `json:"clientInfo"`
}

// initializeResult is the provider's handshake response.
type initializeResult struct {
	ProtocolVersion string `json:"protocolVersion"`
	ServerInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"serverInfo"`
	Capabilities json.RawMessage `json:"capabilities"`
}

// ToolDescriptor describes one callable tool from the negotiated catalog.
// InputSchema is the provider's JSON parameter schema, passed through
// verbatim; the proxy never interprets it.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// toolListResult is the payload of a tools/list response.
type toolListResult struct {
	Tools []ToolDescriptor `json:"tools"`
}

// callToolParams is the payload of a tools/call request.
type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ContentPart is one element of a tool result's content list.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ToolResult is the provider's answer to a tools/call request.
// IsError marks a tool-level failure reported inside a successful RPC.
type ToolResult struct {
	Content []ContentPart `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// Text flattens the result's content parts to a single string. Text parts
// contribute their text; anything else contributes its JSON encoding so no
// provider data is silently lost.
func (r *ToolResult) Text() string {
	var b strings.Builder
	for i, c := range r.Content {
		if i > 0 {
			b.WriteString("\n")
		}
		if c.Type == "text" {
			b.WriteString(c.Text)
			continue
		}
		raw, err := json.Marshal(c)
		if err != nil {
			continue
		}
		b.Write(raw)
	}
	return b.String()
}
