package chat

import (
	"context"

	"google.golang.org/genai"
)

// Role labels one side of the conversation.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one prior conversation entry. The caller supplies the whole
// history on every request; nothing is retained between requests.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Document is an optional payload attached to the user's message, e.g. a
// PDF to ground the answer in.
type Document struct {
	Data     []byte `json:"data"`
	MIMEType string `json:"mimeType"`
}

// Input is everything one orchestration run needs.
type Input struct {
	Message           string
	History           []Turn
	Document          *Document
	SystemInstruction string
}

// FunctionExchange records one tool call executed during a run: what the
// model asked for and what went back to it.
type FunctionExchange struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
	Response  map[string]any `json:"response"`
	IsError   bool           `json:"isError"`
}

// Output is the result of a completed run.
type Output struct {
	Text      string
	Exchanges []FunctionExchange
	Rounds    int
}

// StreamChunk is one caller-visible piece of the final answer. Sequence
// is monotonic from zero with no gaps; exactly one chunk has Final set
// and it carries no text.
type StreamChunk struct {
	Sequence int    `json:"sequence"`
	Text     string `json:"text,omitempty"`
	Final    bool   `json:"final,omitempty"`
}

// StreamFunc receives chunks in emission order. Returning an error stops
// the run; the caller has gone away.
type StreamFunc func(StreamChunk) error

// ModelRequest is one model invocation's payload.
type ModelRequest struct {
	System   string
	Contents []*genai.Content
	Tools    []*genai.FunctionDeclaration
}

// ModelResponse is one completed model round.
type ModelResponse struct {
	// Content is the model's turn verbatim, fed back on the next round.
	Content *genai.Content
	Text    string
	Calls   []*genai.FunctionCall
}

// Model runs one generation round. When emit is non-nil the round's text
// is delivered through it piece by piece as the model produces it; the
// returned response always carries the complete round.
type Model interface {
	Generate(ctx context.Context, req *ModelRequest, emit func(text string) error) (*ModelResponse, error)
}
