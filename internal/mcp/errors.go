package mcp

import "errors"

var (
	// ErrSessionClosed indicates the session was shut down explicitly.
	ErrSessionClosed = errors.New("session closed")

	// ErrSessionNotReady indicates a call arrived while the session had no
	// live transport and could not establish one.
	ErrSessionNotReady = errors.New("session not ready")

	// ErrHandshakeFailed indicates the provider rejected or never answered
	// the initialization exchange.
	ErrHandshakeFailed = errors.New("handshake failed")

	// ErrToolNotFound indicates the requested tool is not in the negotiated
	// catalog. The provider is never contacted for such calls.
	ErrToolNotFound = errors.New("tool not found")

	// ErrCallTimeout indicates no matching response frame arrived before the
	// per-call deadline.
	ErrCallTimeout = errors.New("call timed out")

	// ErrTransport indicates the channel to the provider broke. Outstanding
	// calls resolve with this error and the session degrades.
	ErrTransport = errors.New("transport failure")

	// errIDExhausted guards against call id wraparound. With a 63-bit
	// monotonic counter this cannot practically occur; treating it as a hard
	// error keeps the id-uniqueness invariant absolute.
	errIDExhausted = errors.New("call id space exhausted")
)
