package api

import (
	"net/http"
	"time"

	"github.com/dcbridge/dcbridge/internal/config"
	"github.com/dcbridge/dcbridge/internal/mcp"
)

// healthHandler reports process and session liveness.
type healthHandler struct {
	session *mcp.Session
	cfg     *config.Config
}

type healthResponse struct {
	Status        string `json:"status"`
	SessionState  string `json:"sessionState"`
	ServerName    string `json:"serverName,omitempty"`
	ServerVersion string `json:"serverVersion,omitempty"`
}

// handleHealth reports the session state without triggering a handshake.
func (h *healthHandler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state := h.session.State()

	status := "ok"
	if state == mcp.StateDegraded || state == mcp.StateClosed {
		status = "degraded"
	}

	name, version := h.session.ServerInfo()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        status,
		SessionState:  state.String(),
		ServerName:    name,
		ServerVersion: version,
	})
}

type configResponse struct {
	MCPServer         string `json:"mcpServer"`
	Model             string `json:"model"`
	ChatEnabled       bool   `json:"chatEnabled"`
	MaxToolIterations int    `json:"maxToolIterations"`
	MaxDocumentBytes  int64  `json:"maxDocumentBytes"`
	CallTimeout       string `json:"callTimeout"`
}

// handleConfig exposes the effective runtime configuration. Secrets never
// appear here; chatEnabled stands in for the API key's presence.
func (h *healthHandler) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, configResponse{
		MCPServer:         h.cfg.MCPBaseURL(),
		Model:             h.cfg.ModelName,
		ChatEnabled:       h.cfg.ChatEnabled(),
		MaxToolIterations: h.cfg.MaxToolIterations,
		MaxDocumentBytes:  h.cfg.MaxDocumentBytes,
		CallTimeout:       h.cfg.CallTimeout.Round(time.Second).String(),
	})
}
