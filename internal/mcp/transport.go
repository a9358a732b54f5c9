package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dcbridge/dcbridge/internal/log"
)

// sseScanBufferSize bounds a single inbound frame. Tool results carrying
// whole observation tables can run to megabytes.
const sseScanBufferSize = 4 << 20

// transport owns one bidirectional channel to the tool provider. The inbound
// path is a persistent SSE stream opened at dial time; the outbound path
// POSTs frames to the session-scoped endpoint the provider announces as the
// stream's first event.
//
// send never waits for a response frame; responses surface through onFrame
// in arrival order. A broken inbound stream invokes onError exactly once and
// the transport is dead afterwards — reconnection is the Session's decision,
// never the transport's.
type transport struct {
	endpoint *url.URL
	client   *http.Client
	logger   log.Logger

	cancel context.CancelFunc
	done   chan struct{}
	closed atomic.Bool
}

// dialTimeout bounds the wait for the provider's endpoint announcement when
// the dial context carries no deadline of its own.
const dialTimeout = 30 * time.Second

// dialTransport opens the inbound stream and waits for the provider to
// announce the session-scoped outbound endpoint. ctx bounds only the dial;
// the stream itself lives until close.
func dialTransport(ctx context.Context, baseURL string, client *http.Client, onFrame func(*frame), onError func(error), logger log.Logger) (*transport, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing provider URL: %w", err)
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, base.JoinPath("sse").String(), nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("building stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: opening stream: %v", ErrTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: stream returned status %d", ErrTransport, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: unexpected stream content type %q", ErrTransport, ct)
	}

	t := &transport{
		client: client,
		logger: logger,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	endpointCh := make(chan string, 1)
	go t.readLoop(resp.Body, endpointCh, onFrame, onError)

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var dialCancel context.CancelFunc
		ctx, dialCancel = context.WithTimeout(ctx, dialTimeout)
		defer dialCancel()
	}

	select {
	case raw := <-endpointCh:
		endpoint, err := base.Parse(raw)
		if err != nil {
			t.close()
			return nil, fmt.Errorf("%w: parsing endpoint %q: %v", ErrTransport, raw, err)
		}
		t.endpoint = endpoint
		logger.Debug("transport established", "endpoint", endpoint.String())
		return t, nil
	case <-t.done:
		return nil, fmt.Errorf("%w: stream closed before endpoint announcement", ErrTransport)
	case <-ctx.Done():
		t.close()
		return nil, fmt.Errorf("%w: awaiting endpoint: %v", ErrTransport, ctx.Err())
	}
}

// readLoop parses SSE events off the inbound stream and delivers every
// message frame, in arrival order, to onFrame. The loop exits when the
// stream breaks or the transport is closed; only breakage reports onError.
func (t *transport) readLoop(body io.ReadCloser, endpointCh chan<- string, onFrame func(*frame), onError func(error)) {
	defer close(t.done)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), sseScanBufferSize)

	var event string
	var data []string

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			t.dispatch(event, strings.Join(data, "\n"), endpointCh, onFrame)
			event, data = "", nil
			continue
		}
		if value, ok := strings.CutPrefix(line, "event:"); ok {
			event = strings.TrimSpace(value)
			continue
		}
		if value, ok := strings.CutPrefix(line, "data:"); ok {
			data = append(data, strings.TrimPrefix(value, " "))
			continue
		}
		// Comment lines (":" keepalives) and unknown fields are ignored
		// per the SSE spec.
	}

	if t.closed.Load() {
		return
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	onError(fmt.Errorf("%w: inbound stream: %v", ErrTransport, err))
}

// dispatch routes one completed SSE event.
func (t *transport) dispatch(event, data string, endpointCh chan<- string, onFrame func(*frame)) {
	switch event {
	case "endpoint":
		select {
		case endpointCh <- data:
		default:
		}
	case "message", "":
		if data == "" {
			return
		}
		var f frame
		if err := json.Unmarshal([]byte(data), &f); err != nil {
			t.logger.Warn("discarding malformed inbound frame", "error", err, "bytes", len(data))
			return
		}
		onFrame(&f)
	default:
		t.logger.Debug("ignoring unknown stream event", "event", event)
	}
}

// send POSTs one frame to the session endpoint. It returns once the provider
// has accepted the frame; the response, if any, arrives later on the inbound
// stream.
func (t *transport) send(ctx context.Context, r *request) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building frame request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: sending frame: %v", ErrTransport, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	// A rejected POST (e.g. the provider expired the session and answers
	// 404) is indistinguishable from a broken channel for our purposes.
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: provider rejected frame with status %d", ErrTransport, resp.StatusCode)
	}
	return nil
}

// close tears down the inbound stream. Idempotent.
func (t *transport) close() {
	if t.closed.Swap(true) {
		return
	}
	t.cancel()
	<-t.done
}
