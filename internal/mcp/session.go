package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dcbridge/dcbridge/internal/log"
)

// State is the session lifecycle position. Transitions:
//
//	Uninitialized -> Handshaking        first demand
//	Handshaking   -> Ready              handshake completed
//	Handshaking   -> Degraded           handshake failed
//	Ready         -> Degraded           transport broke
//	Degraded      -> Handshaking        next demand retries
//	any           -> Closed             Close, terminal
type State int32

const (
	StateUninitialized State = iota
	StateHandshaking
	StateReady
	StateDegraded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionConfig configures a provider session.
type SessionConfig struct {
	// BaseURL is the provider root, e.g. "http://localhost:3000".
	BaseURL string

	// CallTimeout bounds each RPC, the handshake included.
	CallTimeout time.Duration

	// HTTPClient defaults to a client with no overall timeout; the
	// inbound stream must outlive any per-request deadline.
	HTTPClient *http.Client

	ClientName    string
	ClientVersion string

	Logger log.Logger
}

// Session is a lazy, self-healing connection to the tool provider. Every
// operation that needs the provider first drives the session to Ready,
// running the initialize handshake and tool discovery at most once no
// matter how many goroutines demand it concurrently. A broken transport
// degrades the session; the next demand dials fresh.
type Session struct {
	cfg    SessionConfig
	logger log.Logger
	calls  *correlator

	mu            sync.Mutex
	state         State
	tr            *transport
	gen           uint64
	inflight      *handshakeAttempt
	catalog       []ToolDescriptor
	toolNames     map[string]struct{}
	serverName    string
	serverVersion string
	lastErr       error
}

// handshakeAttempt is the shared outcome of one in-flight handshake.
// Concurrent demands block on done and read err afterwards.
type handshakeAttempt struct {
	done chan struct{}
	err  error
}

// NewSession builds a session. No network activity happens until the first
// demand or an explicit Connect.
func NewSession(cfg SessionConfig) *Session {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 120 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.ClientName == "" {
		cfg.ClientName = "dcbridge"
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = "dev"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Session{
		cfg:       cfg,
		logger:    logger,
		calls:     newCorrelator(logger),
		toolNames: make(map[string]struct{}),
	}
}

// Connect drives the session to Ready. Optional; the session also connects
// lazily on first demand. Callers use it at startup so the first request
// does not pay the handshake.
func (s *Session) Connect(ctx context.Context) error {
	return s.ensureReady(ctx)
}

// State reports the current lifecycle position.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ServerInfo reports the provider identity from the last successful
// handshake. Empty before the first one.
func (s *Session) ServerInfo() (name, version string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverName, s.serverVersion
}

// LastError reports why the session last left Ready, nil if it never has.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Tools returns the negotiated tool catalog, connecting first if needed.
// The returned slice is the caller's to keep.
func (s *Session) Tools(ctx context.Context) ([]ToolDescriptor, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tools := make([]ToolDescriptor, len(s.catalog))
	copy(tools, s.catalog)
	return tools, nil
}

// CallTool invokes one tool by name, connecting first if needed. Arguments
// are repaired for known provider quirks before dispatch. A name outside
// the negotiated catalog fails with ErrToolNotFound without touching the
// provider.
func (s *Session) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	_, known := s.toolNames[name]
	tr := s.tr
	s.mu.Unlock()

	if !known {
		return nil, fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}
	if tr == nil {
		return nil, ErrSessionNotReady
	}

	args = normalizeArguments(name, args)

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	started := time.Now()
	raw, err := s.roundTrip(callCtx, tr, methodToolsCall, callToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("calling %q: %w", name, err)
	}

	var result ToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w: decoding result for %q: %v", ErrTransport, name, err)
	}

	s.logger.Debug("tool call completed",
		"tool", name,
		"duration", time.Since(started).Round(time.Millisecond),
		"is_error", result.IsError,
	)
	return &result, nil
}

// Close tears the session down. All pending calls fail with
// ErrSessionClosed and every later demand is refused. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	tr := s.tr
	s.tr = nil
	s.mu.Unlock()

	s.calls.failAll(ErrSessionClosed)
	if tr != nil {
		tr.close()
	}
	s.logger.Info("session closed")
	return nil
}

// ensureReady drives the session to Ready, joining an in-flight handshake
// when one exists and starting one otherwise. ctx bounds only this caller's
// wait; the handshake itself runs under its own deadline so one impatient
// demander cannot abort the work for everyone behind it.
func (s *Session) ensureReady(ctx context.Context) error {
	for {
		s.mu.Lock()
		switch s.state {
		case StateClosed:
			s.mu.Unlock()
			return ErrSessionClosed

		case StateReady:
			s.mu.Unlock()
			return nil

		case StateHandshaking:
			attempt := s.inflight
			s.mu.Unlock()
			select {
			case <-attempt.done:
				if attempt.err != nil {
					return attempt.err
				}
				// Ready, or already degraded again; re-examine.
			case <-ctx.Done():
				return ctx.Err()
			}

		case StateUninitialized, StateDegraded:
			attempt := &handshakeAttempt{done: make(chan struct{})}
			s.inflight = attempt
			s.state = StateHandshaking
			s.gen++
			gen := s.gen
			s.mu.Unlock()

			attempt.err = s.handshake(gen)
			s.finishAttempt(attempt)
			return attempt.err
		}
	}
}

// finishAttempt records the attempt outcome and releases the goroutines
// waiting on it.
func (s *Session) finishAttempt(attempt *handshakeAttempt) {
	s.mu.Lock()
	if s.state == StateHandshaking {
		if attempt.err == nil {
			s.state = StateReady
		} else {
			s.state = StateDegraded
			s.lastErr = attempt.err
		}
	}
	if s.inflight == attempt {
		s.inflight = nil
	}
	s.mu.Unlock()
	close(attempt.done)
}

// handshake dials a fresh transport and runs the protocol opening:
// initialize, the initialized notification, then tool discovery. Any
// failure closes the transport and reports ErrHandshakeFailed.
func (s *Session) handshake(gen uint64) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CallTimeout)
	defer cancel()

	onFrame := func(f *frame) {
		if !f.isResponse() {
			s.logger.Debug("ignoring provider notification", "method", f.Method)
			return
		}
		s.calls.resolve(f)
	}
	onError := func(err error) {
		s.transportFailed(gen, err)
	}

	tr, err := dialTransport(ctx, s.cfg.BaseURL, s.cfg.HTTPClient, onFrame, onError, s.logger)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	s.mu.Lock()
	if s.state == StateClosed || s.gen != gen {
		s.mu.Unlock()
		tr.close()
		return ErrSessionClosed
	}
	s.tr = tr
	s.mu.Unlock()

	fail := func(err error) error {
		s.mu.Lock()
		if s.tr == tr {
			s.tr = nil
		}
		s.mu.Unlock()
		go tr.close()
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	raw, err := s.roundTrip(ctx, tr, methodInitialize, initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      clientInfo{Name: s.cfg.ClientName, Version: s.cfg.ClientVersion},
	})
	if err != nil {
		return fail(fmt.Errorf("initialize: %v", err))
	}
	var init initializeResult
	if err := json.Unmarshal(raw, &init); err != nil {
		return fail(fmt.Errorf("decoding initialize result: %v", err))
	}

	if err := tr.send(ctx, newNotification(notifyInitialized, nil)); err != nil {
		return fail(fmt.Errorf("initialized notification: %v", err))
	}

	raw, err = s.roundTrip(ctx, tr, methodToolsList, nil)
	if err != nil {
		return fail(fmt.Errorf("tools/list: %v", err))
	}
	var list toolListResult
	if err := json.Unmarshal(raw, &list); err != nil {
		return fail(fmt.Errorf("decoding tool list: %v", err))
	}

	names := make(map[string]struct{}, len(list.Tools))
	for _, t := range list.Tools {
		names[t.Name] = struct{}{}
	}

	s.mu.Lock()
	s.catalog = list.Tools
	s.toolNames = names
	s.serverName = init.ServerInfo.Name
	s.serverVersion = init.ServerInfo.Version
	s.lastErr = nil
	s.mu.Unlock()

	s.logger.Info("session ready",
		"server", init.ServerInfo.Name,
		"server_version", init.ServerInfo.Version,
		"protocol", init.ProtocolVersion,
		"tools", len(list.Tools),
	)
	return nil
}

// transportFailed degrades the session after an inbound stream break.
// Stale callbacks from transports of earlier generations are ignored; a
// replacement may already be ready.
func (s *Session) transportFailed(gen uint64, err error) {
	s.mu.Lock()
	if s.gen != gen || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	if s.state == StateReady {
		s.state = StateDegraded
	}
	s.lastErr = err
	tr := s.tr
	s.tr = nil
	s.mu.Unlock()

	s.logger.Warn("provider stream lost", "error", err)
	s.calls.failAll(err)
	if tr != nil {
		// close waits for the read loop, which is the caller here.
		go tr.close()
	}
}

// roundTrip registers a waiter, sends the request, and blocks for its
// response frame. A deadline expiry abandons the call: its id is dropped
// so a late frame cannot resolve a stranger.
func (s *Session) roundTrip(ctx context.Context, tr *transport, method string, params any) (json.RawMessage, error) {
	id, ch, err := s.calls.register()
	if err != nil {
		return nil, err
	}

	if err := tr.send(ctx, newRequest(id, method, params)); err != nil {
		s.calls.drop(id)
		return nil, err
	}

	select {
	case out := <-ch:
		return out.result, out.err
	case <-ctx.Done():
		s.calls.drop(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s after %s", ErrCallTimeout, method, s.cfg.CallTimeout)
		}
		return nil, ctx.Err()
	}
}
