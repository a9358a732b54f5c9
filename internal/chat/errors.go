package chat

import "errors"

var (
	// ErrInvalidInput marks a request missing its user message.
	ErrInvalidInput = errors.New("message is required")

	// ErrDocumentTooLarge marks an attached document over the configured cap.
	ErrDocumentTooLarge = errors.New("document exceeds maximum size")

	// ErrMaxIterations marks a run that hit the tool-call ceiling with the
	// model still asking for more. A hard stop, never a degraded answer.
	ErrMaxIterations = errors.New("exceeded maximum tool iterations")

	// ErrModel marks a model API failure.
	ErrModel = errors.New("model request failed")
)
