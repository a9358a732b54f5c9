package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/dcbridge/dcbridge/internal/log"
	"github.com/dcbridge/dcbridge/internal/mcp"
)

// maxCallBodyBytes bounds a /call request body. Tool arguments are one
// small JSON object; anything bigger is abuse.
const maxCallBodyBytes = 1 << 20

// toolsHandler exposes the provider catalog and direct tool invocation.
type toolsHandler struct {
	session *mcp.Session
	logger  log.Logger
}

// functionView is a catalog entry reshaped into the model API's
// function-declaration form.
type functionView struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type toolListResponse struct {
	Success bool                 `json:"success"`
	Tools   []functionView       `json:"tools"`
	Raw     []mcp.ToolDescriptor `json:"raw"`
}

// handleList returns the catalog both raw and in function-declaration
// shape. Triggers a handshake when the session has not connected yet.
func (h *toolsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	tools, err := h.session.Tools(r.Context())
	if err != nil {
		h.logger.Error("listing tools failed", "error", err)
		writeError(w, http.StatusBadGateway, "provider_unavailable", err.Error())
		return
	}

	views := make([]functionView, len(tools))
	for i, t := range tools {
		schema := t.InputSchema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		views[i] = functionView{Name: t.Name, Description: t.Description, Parameters: schema}
	}

	writeJSON(w, http.StatusOK, toolListResponse{Success: true, Tools: views, Raw: tools})
}

type callRequest struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type callResponse struct {
	Success bool `json:"success"`
	Result  any  `json:"result"`
}

// handleCall invokes one tool. Unknown names and provider-reported tool
// errors come back as 200 {success:false}: the call worked as a call, the
// tool said no. Transport-level failures map to gateway errors instead.
func (h *toolsHandler) handleCall(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxCallBodyBytes)

	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "missing_name", "tool name is required")
		return
	}

	result, err := h.session.CallTool(r.Context(), req.Name, req.Arguments)
	if err != nil {
		h.writeCallError(w, req.Name, err)
		return
	}
	if result.IsError {
		writeError(w, http.StatusOK, "tool_error", result.Text())
		return
	}

	writeJSON(w, http.StatusOK, callResponse{
		Success: true,
		Result: map[string]any{
			"text":    result.Text(),
			"content": result.Content,
		},
	})
}

func (h *toolsHandler) writeCallError(w http.ResponseWriter, name string, err error) {
	var rpcErr *mcp.RPCError

	switch {
	case errors.Is(err, mcp.ErrToolNotFound):
		writeError(w, http.StatusOK, "tool_not_found", err.Error())
	case errors.Is(err, mcp.ErrCallTimeout):
		writeError(w, http.StatusGatewayTimeout, "call_timeout", err.Error())
	case errors.As(err, &rpcErr):
		writeError(w, http.StatusOK, "tool_error", rpcErr.Message)
	default:
		h.logger.Error("tool call failed", "tool", name, "error", err)
		writeError(w, http.StatusBadGateway, "provider_unavailable", err.Error())
	}
}
