package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"google.golang.org/genai"

	"github.com/dcbridge/dcbridge/internal/mcp"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeRound scripts one model invocation.
type fakeRound struct {
	chunks []string
	calls  []*genai.FunctionCall
}

// fakeModel replays scripted rounds; past the script it repeats the last
// one, which lets ceiling tests loop forever.
type fakeModel struct {
	mu          sync.Mutex
	rounds      []fakeRound
	invocations int
	requests    []*ModelRequest
}

func (m *fakeModel) Generate(_ context.Context, req *ModelRequest, emit func(string) error) (*ModelResponse, error) {
	m.mu.Lock()
	idx := m.invocations
	m.invocations++
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if idx >= len(m.rounds) {
		idx = len(m.rounds) - 1
	}
	round := m.rounds[idx]

	var text strings.Builder
	for _, chunk := range round.chunks {
		text.WriteString(chunk)
		if emit != nil {
			if err := emit(chunk); err != nil {
				return nil, err
			}
		}
	}

	var parts []*genai.Part
	if text.Len() > 0 {
		parts = append(parts, genai.NewPartFromText(text.String()))
	}
	for _, call := range round.calls {
		parts = append(parts, &genai.Part{FunctionCall: call})
	}
	return &ModelResponse{
		Content: genai.NewContentFromParts(parts, genai.RoleModel),
		Text:    text.String(),
		Calls:   round.calls,
	}, nil
}

func (m *fakeModel) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invocations
}

// fakeTools is an in-memory ToolProvider.
type fakeTools struct {
	mu      sync.Mutex
	catalog []mcp.ToolDescriptor
	called  []string
	handler func(name string, args map[string]any) (*mcp.ToolResult, error)
}

func (f *fakeTools) Tools(context.Context) ([]mcp.ToolDescriptor, error) {
	return f.catalog, nil
}

func (f *fakeTools) CallTool(_ context.Context, name string, args map[string]any) (*mcp.ToolResult, error) {
	f.mu.Lock()
	f.called = append(f.called, name)
	f.mu.Unlock()
	if f.handler != nil {
		return f.handler(name, args)
	}
	return textResult("ok"), nil
}

func (f *fakeTools) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.called...)
}

func textResult(text string) *mcp.ToolResult {
	return &mcp.ToolResult{Content: []mcp.ContentPart{{Type: "text", Text: text}}}
}

func populationCatalog() []mcp.ToolDescriptor {
	return []mcp.ToolDescriptor{{
		Name:        "get_population",
		Description: "Population of a place.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"place":{"type":"string"}}}`),
	}}
}

func TestRun_PlainAnswerIsOneRound(t *testing.T) {
	model := &fakeModel{rounds: []fakeRound{
		{chunks: []string{"The answer ", "is ", "42."}},
	}}
	tools := &fakeTools{catalog: populationCatalog()}
	o := New(Config{Model: model, Tools: tools})

	out, err := o.Run(context.Background(), Input{Message: "what is the answer?"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "The answer is 42.", out.Text)
	assert.Equal(t, 1, out.Rounds)
	assert.Empty(t, out.Exchanges)
	assert.Equal(t, 1, model.count())
	assert.Empty(t, tools.calls())
}

func TestRun_StreamingMatchesBuffered(t *testing.T) {
	rounds := []fakeRound{{chunks: []string{"one ", "two ", "three"}}}
	tools := &fakeTools{catalog: populationCatalog()}

	buffered, err := New(Config{Model: &fakeModel{rounds: rounds}, Tools: tools}).
		Run(context.Background(), Input{Message: "count"}, nil)
	require.NoError(t, err)

	var chunks []StreamChunk
	streamed, err := New(Config{Model: &fakeModel{rounds: rounds}, Tools: tools}).
		Run(context.Background(), Input{Message: "count"}, func(c StreamChunk) error {
			chunks = append(chunks, c)
			return nil
		})
	require.NoError(t, err)

	require.Len(t, chunks, 4)
	var rebuilt strings.Builder
	for i, c := range chunks {
		assert.Equal(t, i, c.Sequence)
		rebuilt.WriteString(c.Text)
	}
	assert.True(t, chunks[3].Final)
	assert.Empty(t, chunks[3].Text)
	assert.Equal(t, buffered.Text, rebuilt.String())
	assert.Equal(t, buffered.Text, streamed.Text)
}

func TestRun_ToolRoundFeedsResultBack(t *testing.T) {
	model := &fakeModel{rounds: []fakeRound{
		{calls: []*genai.FunctionCall{{Name: "get_population", Args: map[string]any{"place": "country/FRA"}}}},
		{chunks: []string{"France has 68 million people."}},
	}}
	tools := &fakeTools{
		catalog: populationCatalog(),
		handler: func(string, map[string]any) (*mcp.ToolResult, error) {
			return textResult("68000000"), nil
		},
	}
	o := New(Config{Model: model, Tools: tools})

	out, err := o.Run(context.Background(), Input{Message: "population of France?"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "France has 68 million people.", out.Text)
	assert.Equal(t, 2, out.Rounds)
	assert.Equal(t, []string{"get_population"}, tools.calls())

	require.Len(t, out.Exchanges, 1)
	ex := out.Exchanges[0]
	assert.Equal(t, "get_population", ex.Tool)
	assert.False(t, ex.IsError)
	assert.Equal(t, map[string]any{"result": "68000000"}, ex.Response)

	// The second invocation must carry the call and its result.
	second := model.requests[1]
	require.GreaterOrEqual(t, len(second.Contents), 3)
	last := second.Contents[len(second.Contents)-1]
	require.Len(t, last.Parts, 1)
	require.NotNil(t, last.Parts[0].FunctionResponse)
	assert.Equal(t, "get_population", last.Parts[0].FunctionResponse.Name)
}

func TestRun_ConcurrentCallsAllComplete(t *testing.T) {
	model := &fakeModel{rounds: []fakeRound{
		{calls: []*genai.FunctionCall{
			{Name: "get_population", Args: map[string]any{"place": "country/FRA"}},
			{Name: "get_population", Args: map[string]any{"place": "country/DEU"}},
			{Name: "get_population", Args: map[string]any{"place": "country/ITA"}},
		}},
		{chunks: []string{"done"}},
	}}
	tools := &fakeTools{catalog: populationCatalog()}
	o := New(Config{Model: model, Tools: tools})

	out, err := o.Run(context.Background(), Input{Message: "compare populations"}, nil)
	require.NoError(t, err)
	require.Len(t, out.Exchanges, 3)

	// Exchange order follows call order regardless of completion order.
	places := make([]string, len(out.Exchanges))
	for i, ex := range out.Exchanges {
		places[i] = ex.Arguments["place"].(string)
	}
	assert.Equal(t, []string{"country/FRA", "country/DEU", "country/ITA"}, places)

	called := tools.calls()
	sort.Strings(called)
	assert.Len(t, called, 3)
}

func TestRun_ToolErrorGoesBackToModel(t *testing.T) {
	model := &fakeModel{rounds: []fakeRound{
		{calls: []*genai.FunctionCall{{Name: "get_population", Args: map[string]any{}}}},
		{chunks: []string{"I could not find that."}},
	}}
	tools := &fakeTools{
		catalog: populationCatalog(),
		handler: func(string, map[string]any) (*mcp.ToolResult, error) {
			return nil, fmt.Errorf("provider melted down")
		},
	}
	o := New(Config{Model: model, Tools: tools})

	out, err := o.Run(context.Background(), Input{Message: "population?"}, nil)
	require.NoError(t, err)
	require.Len(t, out.Exchanges, 1)
	assert.True(t, out.Exchanges[0].IsError)
	assert.Equal(t, map[string]any{"error": "provider melted down"}, out.Exchanges[0].Response)
	assert.Equal(t, "I could not find that.", out.Text)
}

func TestRun_IterationCeiling(t *testing.T) {
	model := &fakeModel{rounds: []fakeRound{
		{calls: []*genai.FunctionCall{{Name: "get_population", Args: map[string]any{}}}},
	}}
	tools := &fakeTools{catalog: populationCatalog()}
	o := New(Config{Model: model, Tools: tools, MaxIterations: 3})

	_, err := o.Run(context.Background(), Input{Message: "loop forever"}, nil)
	require.ErrorIs(t, err, ErrMaxIterations)
	assert.Equal(t, 3, model.count())
	assert.Len(t, tools.calls(), 3)
}

func TestRun_InputValidation(t *testing.T) {
	o := New(Config{
		Model:            &fakeModel{rounds: []fakeRound{{chunks: []string{"hi"}}}},
		Tools:            &fakeTools{},
		MaxDocumentBytes: 8,
	})

	_, err := o.Run(context.Background(), Input{Message: "   "}, nil)
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = o.Run(context.Background(), Input{
		Message:  "summarize",
		Document: &Document{Data: make([]byte, 9), MIMEType: "application/pdf"},
	}, nil)
	require.ErrorIs(t, err, ErrDocumentTooLarge)
}

func TestRun_EmitErrorStopsRun(t *testing.T) {
	model := &fakeModel{rounds: []fakeRound{{chunks: []string{"a", "b", "c"}}}}
	o := New(Config{Model: model, Tools: &fakeTools{}})

	boom := fmt.Errorf("client went away")
	_, err := o.Run(context.Background(), Input{Message: "hi"}, func(StreamChunk) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
}

func TestFunctionDeclarations(t *testing.T) {
	decls := FunctionDeclarations(populationCatalog())
	require.Len(t, decls, 1)
	assert.Equal(t, "get_population", decls[0].Name)
	raw, ok := decls[0].ParametersJsonSchema.(json.RawMessage)
	require.True(t, ok)
	assert.JSONEq(t, `{"type":"object","properties":{"place":{"type":"string"}}}`, string(raw))

	// Missing schemas get a permissive object so the model API accepts them.
	decls = FunctionDeclarations([]mcp.ToolDescriptor{{Name: "bare"}})
	require.Len(t, decls, 1)
	assert.NotNil(t, decls[0].ParametersJsonSchema)
}

func TestRun_DocumentRidesOnUserTurn(t *testing.T) {
	model := &fakeModel{rounds: []fakeRound{{chunks: []string{"summary"}}}}
	o := New(Config{Model: model, Tools: &fakeTools{}})

	_, err := o.Run(context.Background(), Input{
		Message:  "summarize this",
		History:  []Turn{{Role: RoleUser, Text: "hello"}, {Role: RoleModel, Text: "hi"}},
		Document: &Document{Data: []byte("%PDF-1.4"), MIMEType: "application/pdf"},
	}, nil)
	require.NoError(t, err)

	req := model.requests[0]
	require.Len(t, req.Contents, 3)
	userTurn := req.Contents[2]
	require.Len(t, userTurn.Parts, 2)
	assert.Equal(t, "summarize this", userTurn.Parts[0].Text)
	require.NotNil(t, userTurn.Parts[1].InlineData)
	assert.Equal(t, "application/pdf", userTurn.Parts[1].InlineData.MIMEType)
}
