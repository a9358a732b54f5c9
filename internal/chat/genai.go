package chat

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// generationTemperature keeps tool selection deterministic enough that the
// same question routes to the same tools.
const generationTemperature float32 = 0.3

// GoogleModel adapts the Gemini API to the Model interface.
type GoogleModel struct {
	client *genai.Client
	model  string
}

// NewGoogleModel builds a Gemini-backed model.
func NewGoogleModel(ctx context.Context, apiKey, model string) (*GoogleModel, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating model client: %w", err)
	}
	return &GoogleModel{client: client, model: model}, nil
}

// Generate runs one round. With emit set it uses the streaming API and
// forwards text pieces as they arrive; otherwise one blocking call.
func (m *GoogleModel) Generate(ctx context.Context, req *ModelRequest, emit func(string) error) (*ModelResponse, error) {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(generationTemperature),
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: req.Tools}}
	}

	if emit == nil {
		resp, err := m.client.Models.GenerateContent(ctx, m.model, req.Contents, config)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrModel, err)
		}
		var content *genai.Content
		if len(resp.Candidates) > 0 {
			content = resp.Candidates[0].Content
		}
		return &ModelResponse{
			Content: content,
			Text:    resp.Text(),
			Calls:   resp.FunctionCalls(),
		}, nil
	}

	var text strings.Builder
	var calls []*genai.FunctionCall

	for resp, err := range m.client.Models.GenerateContentStream(ctx, m.model, req.Contents, config) {
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrModel, err)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text != "" {
				text.WriteString(part.Text)
				if err := emit(part.Text); err != nil {
					return nil, err
				}
			}
			if part.FunctionCall != nil {
				calls = append(calls, part.FunctionCall)
			}
		}
	}

	// Reassemble the round so it can be replayed into the next one.
	var parts []*genai.Part
	if text.Len() > 0 {
		parts = append(parts, genai.NewPartFromText(text.String()))
	}
	for _, call := range calls {
		parts = append(parts, &genai.Part{FunctionCall: call})
	}
	return &ModelResponse{
		Content: genai.NewContentFromParts(parts, genai.RoleModel),
		Text:    text.String(),
		Calls:   calls,
	}, nil
}
