// Package chat runs model-with-tools conversation turns: it feeds the tool
// catalog to the model as callable functions, executes the calls the model
// asks for, and loops until the model answers in plain text or the
// iteration ceiling stops it.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"

	"github.com/dcbridge/dcbridge/internal/log"
	"github.com/dcbridge/dcbridge/internal/mcp"
)

// defaultSystemInstruction steers the model toward grounding every answer
// in tool results. Callers may override it per request.
const defaultSystemInstruction = "You are a helpful data assistant. " +
	"Use the available tools to look up real data before answering; " +
	"prefer tool results over your own recall, and say so when no tool " +
	"returns relevant data."

// ToolProvider is the slice of the provider session the orchestrator
// needs. *mcp.Session satisfies it.
type ToolProvider interface {
	Tools(ctx context.Context) ([]mcp.ToolDescriptor, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.ToolResult, error)
}

// Config assembles an Orchestrator.
type Config struct {
	Model Model
	Tools ToolProvider

	// MaxIterations caps model rounds per run. Defaults to 5.
	MaxIterations int

	// MaxDocumentBytes caps attached documents. Defaults to 10 MiB.
	MaxDocumentBytes int64

	Logger log.Logger
}

// Orchestrator runs conversation turns against one model and one tool
// provider. Safe for concurrent use; each run is independent.
type Orchestrator struct {
	model   Model
	tools   ToolProvider
	maxIter int
	maxDoc  int64
	logger  log.Logger
	timeNow func() time.Time
}

// New builds an Orchestrator. Model and Tools are required.
func New(cfg Config) *Orchestrator {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 5
	}
	if cfg.MaxDocumentBytes <= 0 {
		cfg.MaxDocumentBytes = 10 << 20
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Orchestrator{
		model:   cfg.Model,
		tools:   cfg.Tools,
		maxIter: cfg.MaxIterations,
		maxDoc:  cfg.MaxDocumentBytes,
		logger:  logger,
		timeNow: time.Now,
	}
}

// Run executes one conversation turn. When emit is non-nil the final
// answer streams through it chunk by chunk; intermediate tool-call rounds
// never reach the caller. A nil emit buffers everything into the Output.
// Both paths share this one loop so their tool-calling behavior cannot
// drift apart.
func (o *Orchestrator) Run(ctx context.Context, in Input, emit StreamFunc) (*Output, error) {
	if strings.TrimSpace(in.Message) == "" {
		return nil, ErrInvalidInput
	}
	if in.Document != nil && int64(len(in.Document.Data)) > o.maxDoc {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrDocumentTooLarge, len(in.Document.Data), o.maxDoc)
	}

	catalog, err := o.tools.Tools(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading tool catalog: %w", err)
	}

	req := &ModelRequest{
		System:   o.systemInstruction(in),
		Contents: o.composeContents(in),
		Tools:    FunctionDeclarations(catalog),
	}

	out := &Output{}
	sequence := 0

	for round := 1; round <= o.maxIter; round++ {
		var chunks []string
		collect := func(text string) error {
			chunks = append(chunks, text)
			return nil
		}

		resp, err := o.model.Generate(ctx, req, collect)
		if err != nil {
			return nil, fmt.Errorf("model round %d: %w", round, err)
		}
		out.Rounds = round

		if len(resp.Calls) == 0 {
			out.Text = resp.Text
			if emit != nil {
				for _, text := range chunks {
					if err := emit(StreamChunk{Sequence: sequence, Text: text}); err != nil {
						return nil, err
					}
					sequence++
				}
				if err := emit(StreamChunk{Sequence: sequence, Final: true}); err != nil {
					return nil, err
				}
			}
			o.logger.Debug("chat turn completed", "rounds", round, "tool_calls", len(out.Exchanges))
			return out, nil
		}

		// Tool-call round: the buffered text is model deliberation, not
		// answer, and is discarded.
		req.Contents = append(req.Contents, resp.Content)

		exchanges, err := o.executeCalls(ctx, resp.Calls)
		if err != nil {
			return nil, err
		}
		out.Exchanges = append(out.Exchanges, exchanges...)

		parts := make([]*genai.Part, len(exchanges))
		for i, ex := range exchanges {
			parts[i] = genai.NewPartFromFunctionResponse(ex.Tool, ex.Response)
		}
		req.Contents = append(req.Contents, genai.NewContentFromParts(parts, genai.RoleUser))
	}

	return nil, fmt.Errorf("%w after %d rounds", ErrMaxIterations, o.maxIter)
}

// executeCalls runs one round's tool calls concurrently and waits for all
// of them. Tool failures are not run failures: they go back to the model
// as error responses so it can adjust. Only cancellation aborts the round.
func (o *Orchestrator) executeCalls(ctx context.Context, calls []*genai.FunctionCall) ([]FunctionExchange, error) {
	exchanges := make([]FunctionExchange, len(calls))

	g, ctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			ex := FunctionExchange{Tool: call.Name, Arguments: call.Args}

			result, err := o.tools.CallTool(ctx, call.Name, call.Args)
			switch {
			case ctx.Err() != nil:
				return ctx.Err()
			case err != nil:
				o.logger.Warn("tool call failed", "tool", call.Name, "error", err)
				ex.Response = map[string]any{"error": err.Error()}
				ex.IsError = true
			case result.IsError:
				ex.Response = map[string]any{"error": result.Text()}
				ex.IsError = true
			default:
				ex.Response = map[string]any{"result": result.Text()}
			}

			exchanges[i] = ex
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return exchanges, nil
}

// systemInstruction resolves the effective system prompt and stamps the
// current date into it so the model can ground relative time references.
func (o *Orchestrator) systemInstruction(in Input) string {
	instruction := in.SystemInstruction
	if strings.TrimSpace(instruction) == "" {
		instruction = defaultSystemInstruction
	}
	return fmt.Sprintf("Today's date is %s.\n\n%s", o.timeNow().Format("2006-01-02"), instruction)
}

// composeContents maps the caller-supplied history plus the new user turn
// into model contents. The document, when present, rides on the new turn.
func (o *Orchestrator) composeContents(in Input) []*genai.Content {
	contents := make([]*genai.Content, 0, len(in.History)+1)
	for _, turn := range in.History {
		var role genai.Role = genai.RoleUser
		if turn.Role == RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Text, role))
	}

	parts := []*genai.Part{genai.NewPartFromText(in.Message)}
	if in.Document != nil {
		parts = append(parts, genai.NewPartFromBytes(in.Document.Data, in.Document.MIMEType))
	}
	return append(contents, genai.NewContentFromParts(parts, genai.RoleUser))
}

// FunctionDeclarations reshapes the provider catalog into the model API's
// callable-function form. Parameter schemas pass through verbatim.
func FunctionDeclarations(catalog []mcp.ToolDescriptor) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(catalog))
	for _, tool := range catalog {
		var schema any
		if len(tool.InputSchema) > 0 {
			schema = json.RawMessage(tool.InputSchema)
		} else {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 tool.Name,
			Description:          tool.Description,
			ParametersJsonSchema: schema,
		})
	}
	return decls
}
