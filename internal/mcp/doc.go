// Package mcp implements the client side of the session-oriented RPC
// protocol spoken by the tool provider (a Data Commons MCP server).
//
// The package is split along the protocol's natural seams:
//
//   - transport: one bidirectional channel per session. Outbound frames are
//     POSTed to the session-scoped endpoint the provider announces; inbound
//     frames arrive on a persistent SSE stream in arrival order.
//   - correlator: matches asynchronous inbound response frames to the
//     requests that caused them via a shared monotonic call id.
//   - Session: the state machine that performs the one-time handshake,
//     captures the tool catalog, and exposes CallTool as a synchronous
//     operation over the asynchronous plumbing.
//
// A Session is safe for concurrent use by multiple goroutines. Exactly one
// handshake runs at a time: concurrent first-demands await a single outcome.
package mcp
