package mcp

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/dcbridge/dcbridge/internal/log"
)

// outcome is the single resolution of one pending call.
type outcome struct {
	result json.RawMessage
	err    error
}

// correlator matches inbound response frames to the requests that caused
// them. Every outbound RPC registers a waiter keyed by a monotonic call id;
// the first frame carrying that id resolves it. Resolution order across
// different ids follows frame arrival order, not registration order.
//
// Only the pending table itself is guarded; waiters block on their own
// channel and never on each other.
type correlator struct {
	logger log.Logger

	nextID atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan outcome
}

func newCorrelator(logger log.Logger) *correlator {
	return &correlator{
		logger:  logger,
		pending: make(map[int64]chan outcome),
	}
}

// register allocates a fresh call id and a single-resolution waiter for it.
// The channel is buffered so resolve never blocks on a slow caller.
func (c *correlator) register() (int64, <-chan outcome, error) {
	id := c.nextID.Add(1)
	if id <= 0 {
		return 0, nil, errIDExhausted
	}

	ch := make(chan outcome, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	return id, ch, nil
}

// resolve completes the waiter for the frame's id, mapping a provider-reported
// error field to an RPC error. Frames for unknown ids (typically late arrivals
// after a timeout) are logged and dropped; they affect no other pending call.
func (c *correlator) resolve(f *frame) {
	if f.ID == nil {
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[*f.ID]
	if ok {
		delete(c.pending, *f.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("dropping frame for unknown call id", "call_id", *f.ID)
		return
	}

	if f.Error != nil {
		ch <- outcome{err: f.Error}
		return
	}
	ch <- outcome{result: f.Result}
}

// drop removes a waiter without resolving it. Used when the caller gave up
// (deadline, cancellation); a response arriving later is then discarded by
// resolve as unknown.
func (c *correlator) drop(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// failAll resolves every outstanding call with err. Invoked exactly once per
// transport when its inbound stream breaks.
func (c *correlator) failAll(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]chan outcome)
	c.mu.Unlock()

	for id, ch := range pending {
		c.logger.Debug("failing outstanding call", "call_id", id, "error", err)
		ch <- outcome{err: err}
	}
}

// outstanding reports the number of unresolved calls.
func (c *correlator) outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
