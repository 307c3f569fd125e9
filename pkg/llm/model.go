package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

// ModelProvider adapts any ADK model.LLM to Provider.
type ModelProvider struct {
	llm         model.LLM
	temperature *float32
}

// NewModelProvider wraps m. A zero temperature leaves the model default.
func NewModelProvider(m model.LLM, temperature float32) *ModelProvider {
	p := &ModelProvider{llm: m}
	if temperature > 0 {
		p.temperature = genai.Ptr(temperature)
	}
	return p
}

// Name returns the wrapped model's name.
func (p *ModelProvider) Name() string { return p.llm.Name() }

// Generate runs one non-streaming request and concatenates the text parts
// of every response.
func (p *ModelProvider) Generate(ctx context.Context, req Request) (Response, error) {
	llmReq := &model.LLMRequest{
		Model:    p.llm.Name(),
		Contents: genai.Text(req.Prompt),
		Config:   &genai.GenerateContentConfig{Temperature: p.temperature},
	}
	if req.System != "" {
		llmReq.Config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	var (
		sb    strings.Builder
		usage Usage
	)
	for resp, err := range p.llm.GenerateContent(ctx, llmReq, false) {
		if err != nil {
			return Response{}, fmt.Errorf("%s generate failed: %w", p.llm.Name(), err)
		}
		if resp == nil {
			continue
		}
		if resp.ErrorCode != "" {
			return Response{}, &ResponseError{Code: resp.ErrorCode, Message: resp.ErrorMessage}
		}
		usage.Add(usageOf(resp.UsageMetadata))
		if resp.Content == nil {
			continue
		}
		for _, part := range resp.Content.Parts {
			if part != nil && part.Text != "" && !part.Thought {
				sb.WriteString(part.Text)
			}
		}
	}
	if sb.Len() == 0 {
		return Response{}, fmt.Errorf("%s: %w", p.llm.Name(), ErrEmptyResponse)
	}
	return Response{Text: sb.String(), Usage: usage}, nil
}

// ResponseError is an error reported inside a model response.
type ResponseError struct {
	Code    string
	Message string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("model response error %s: %s", e.Code, e.Message)
}

// Retryable reports whether the code names a transient condition.
func (e *ResponseError) Retryable() bool {
	switch strings.ToUpper(e.Code) {
	case "RESOURCE_EXHAUSTED", "UNAVAILABLE", "DEADLINE_EXCEEDED", "INTERNAL", "429", "500", "503", "504":
		return true
	}
	return false
}
