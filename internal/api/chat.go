package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/dcbridge/dcbridge/internal/chat"
	"github.com/dcbridge/dcbridge/internal/log"
	"github.com/dcbridge/dcbridge/internal/mcp"
)

// maxChatBodyBytes bounds a /chat request body. Documents arrive base64
// encoded, so the wire limit sits above the decoded document cap.
const maxChatBodyBytes = 32 << 20

// chatHandler runs model-with-tools turns over HTTP.
type chatHandler struct {
	runner ChatRunner
	logger log.Logger
}

type chatRequest struct {
	Message           string         `json:"message"`
	History           []chat.Turn    `json:"history"`
	Document          *chat.Document `json:"document"`
	SystemInstruction string         `json:"systemInstruction"`
}

func (req *chatRequest) input() chat.Input {
	return chat.Input{
		Message:           req.Message,
		History:           req.History,
		Document:          req.Document,
		SystemInstruction: req.SystemInstruction,
	}
}

type chatResponse struct {
	Success   bool                    `json:"success"`
	Response  string                  `json:"response"`
	Rounds    int                     `json:"rounds"`
	ToolCalls []chat.FunctionExchange `json:"toolCalls,omitempty"`
}

// handleSend runs one buffered turn.
func (h *chatHandler) handleSend(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	out, err := h.runner.Run(r.Context(), req.input(), nil)
	if err != nil {
		status, code := chatErrorStatus(err)
		h.logger.Error("chat turn failed", "code", code, "error", err)
		writeError(w, status, code, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Success:   true,
		Response:  out.Text,
		Rounds:    out.Rounds,
		ToolCalls: out.Exchanges,
	})
}

// Stream event payloads.
//
// Event types:
//   - chunk: partial answer text {"sequence": n, "text": "..."}
//   - done:  final output {"response": "...", "rounds": n}
//   - error: failure {"code": "...", "message": "..."}
type sseChunkData struct {
	Sequence int    `json:"sequence"`
	Text     string `json:"text"`
}

type sseDoneData struct {
	Response string `json:"response"`
	Rounds   int    `json:"rounds"`
}

type sseErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleStream runs the same turn as handleSend but emits the final
// answer incrementally. A stream that closes without a done or error
// event means the turn did not complete.
func (h *chatHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ctx := r.Context()
	emit := func(c chat.StreamChunk) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.Final {
			return nil
		}
		writeSSE(w, flusher, "chunk", sseChunkData{Sequence: c.Sequence, Text: c.Text})
		return nil
	}

	out, err := h.runner.Run(ctx, req.input(), emit)
	if err != nil {
		if ctx.Err() != nil {
			h.logger.Info("chat stream client disconnected")
			return
		}
		_, code := chatErrorStatus(err)
		h.logger.Error("chat stream failed", "code", code, "error", err)
		writeSSE(w, flusher, "error", sseErrorData{Code: code, Message: err.Error()})
		return
	}

	writeSSE(w, flusher, "done", sseDoneData{Response: out.Text, Rounds: out.Rounds})
}

// decode parses and gates a chat request body. Reports its own errors.
func (h *chatHandler) decode(w http.ResponseWriter, r *http.Request) (*chatRequest, bool) {
	if h.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "chat_disabled",
			"chat is disabled: GEMINI_API_KEY is not configured")
		return nil, false
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body: "+err.Error())
		return nil, false
	}
	return &req, true
}

// writeSSE writes one event and flushes it to the client.
func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	payload, _ := json.Marshal(data)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	flusher.Flush()
}

// chatErrorStatus maps an orchestration error to an HTTP status and a
// machine-readable code so clients can decide whether to retry.
func chatErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, chat.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, chat.ErrDocumentTooLarge):
		return http.StatusRequestEntityTooLarge, "document_too_large"
	case errors.Is(err, chat.ErrMaxIterations):
		return http.StatusInternalServerError, "max_iterations"
	case errors.Is(err, chat.ErrModel):
		return http.StatusBadGateway, "model_error"
	case errors.Is(err, mcp.ErrCallTimeout):
		return http.StatusGatewayTimeout, "call_timeout"
	case errors.Is(err, mcp.ErrHandshakeFailed),
		errors.Is(err, mcp.ErrTransport),
		errors.Is(err, mcp.ErrSessionNotReady),
		errors.Is(err, mcp.ErrSessionClosed):
		return http.StatusBadGateway, "provider_unavailable"
	case errors.Is(err, context.Canceled):
		return http.StatusBadRequest, "cancelled"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
