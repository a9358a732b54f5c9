// Package mcptest provides an in-process tool provider speaking the
// HTTP+SSE protocol, for exercising the client without a real backend.
// It deliberately avoids importing the client package so both sides of
// the wire are independent implementations.
package mcptest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Tool is one callable tool the fake provider advertises.
type Tool struct {
	Name        string
	Description string
	Schema      map[string]any

	// Handler produces the tool's text result. A non-nil error becomes
	// a tool-level error result, not a protocol error.
	Handler func(args map[string]any) (string, error)
}

// Server is a fake provider. Zero configuration advertises no tools;
// every knob is safe to adjust between client operations.
type Server struct {
	srv *httptest.Server

	mu        sync.Mutex
	tools     []Tool
	sessions  map[string]chan sseEvent
	counts    map[string]int
	callDelay time.Duration
	silent    map[string]bool
}

type sseEvent struct {
	name string
	data string
}

// rpcIn is the wire shape of an inbound frame. Kept local so the fake
// never shares types with the client under test.
type rpcIn struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// NewServer starts a provider advertising the given tools. Callers must
// Close it.
func NewServer(tools ...Tool) *Server {
	s := &Server{
		tools:    tools,
		sessions: make(map[string]chan sseEvent),
		counts:   make(map[string]int),
		silent:   make(map[string]bool),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sse", s.handleStream)
	mux.HandleFunc("POST /message", s.handleMessage)
	s.srv = httptest.NewServer(mux)
	return s
}

// URL is the provider base URL to hand to clients.
func (s *Server) URL() string { return s.srv.URL }

// Close shuts the provider down, ending all open streams.
func (s *Server) Close() {
	s.DropStreams()
	s.srv.Close()
}

// Calls reports how many times a method ("initialize", "tools/list",
// "notifications/initialized") or tool name has been received.
func (s *Server) Calls(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[name]
}

// SetCallDelay delays every tools/call response by d.
func (s *Server) SetCallDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callDelay = d
}

// Silence makes the named tool accept calls but never answer them.
func (s *Server) Silence(tool string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent[tool] = true
}

// DropStreams severs every open stream, as a crashed provider would.
func (s *Server) DropStreams() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]chan sseEvent)
	s.mu.Unlock()
	for _, ch := range sessions {
		close(ch)
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	id := uuid.NewString()
	ch := make(chan sseEvent, 64)
	s.mu.Lock()
	s.sessions[id] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if cur, ok := s.sessions[id]; ok && cur == ch {
			delete(s.sessions, id)
		}
		s.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "event: endpoint\ndata: /message?session=%s\n\n", id)
	flusher.Flush()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, ev.data)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	session := r.URL.Query().Get("session")
	s.mu.Lock()
	ch, ok := s.sessions[session]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	var in rpcIn
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "bad frame", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.counts[in.Method]++
	s.mu.Unlock()

	w.WriteHeader(http.StatusAccepted)
	fmt.Fprint(w, "Accepted")

	if in.ID == nil {
		return
	}
	go s.respond(ch, in)
}

// respond builds the response frame for one request and pushes it onto
// the session stream.
func (s *Server) respond(ch chan sseEvent, in rpcIn) {
	var result any
	switch in.Method {
	case "initialize":
		result = map[string]any{
			"protocolVersion": "2024-11-05",
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": "mcptest", "version": "0.1.0"},
		}

	case "tools/list":
		s.mu.Lock()
		defs := make([]map[string]any, 0, len(s.tools))
		for _, t := range s.tools {
			schema := t.Schema
			if schema == nil {
				schema = map[string]any{"type": "object"}
			}
			defs = append(defs, map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"inputSchema": schema,
			})
		}
		s.mu.Unlock()
		result = map[string]any{"tools": defs}

	case "tools/call":
		var params struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		if err := json.Unmarshal(in.Params, &params); err != nil {
			s.push(ch, errorFrame(*in.ID, -32602, "bad params"))
			return
		}

		s.mu.Lock()
		s.counts[params.Name]++
		delay := s.callDelay
		silent := s.silent[params.Name]
		var tool *Tool
		for i := range s.tools {
			if s.tools[i].Name == params.Name {
				tool = &s.tools[i]
				break
			}
		}
		s.mu.Unlock()

		if silent {
			return
		}
		if delay > 0 {
			time.Sleep(delay)
		}
		if tool == nil {
			s.push(ch, errorFrame(*in.ID, -32602, "unknown tool "+params.Name))
			return
		}

		text, err := tool.Handler(params.Arguments)
		isError := false
		if err != nil {
			text, isError = err.Error(), true
		}
		result = map[string]any{
			"content": []map[string]any{{"type": "text", "text": text}},
			"isError": isError,
		}

	default:
		s.push(ch, errorFrame(*in.ID, -32601, "method not found"))
		return
	}

	payload, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      *in.ID,
		"result":  result,
	})
	s.push(ch, string(payload))
}

// push delivers one message frame, tolerating a stream dropped mid-send.
func (s *Server) push(ch chan sseEvent, data string) {
	defer func() { recover() }()
	ch <- sseEvent{name: "message", data: data}
}

func errorFrame(id int64, code int, msg string) string {
	payload, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   map[string]any{"code": code, "message": msg},
	})
	return string(payload)
}
