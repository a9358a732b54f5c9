// Package api is the HTTP gateway in front of the provider session and the
// chat orchestrator. It is a translation layer only: request decoding,
// response shaping, and error mapping live here; everything stateful lives
// behind it.
//
// Endpoints:
//
//	GET  /health       session state, no side effects
//	GET  /config       sanitized runtime configuration
//	GET  /tools        tool catalog, raw and in model-API shape
//	POST /call         invoke one tool directly
//	POST /chat         one model-with-tools turn, buffered
//	POST /chat/stream  same turn as Server-Sent Events
//
// Every response carries permissive CORS headers so browser frontends on
// other origins can call the gateway directly.
package api
