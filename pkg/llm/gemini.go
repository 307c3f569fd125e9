package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"google.golang.org/genai"
)

// DefaultModel is used when neither the config nor GOOGLE_MODEL names one.
const DefaultModel = "gemini-2.5-flash"

// GeminiProvider implements Provider using Google GenAI Gemini.
type GeminiProvider struct {
	client      *genai.Client
	model       string
	temperature *float32
}

// GeminiConfig holds configuration for the Gemini provider.
type GeminiConfig struct {
	APIKey      string  // If empty, uses GOOGLE_API_KEY env var
	Model       string  // If empty, uses GOOGLE_MODEL env var, then DefaultModel
	Temperature float32 // Zero leaves the model default
}

// NewGeminiProvider creates a new Gemini provider.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("GOOGLE_API_KEY not set")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	p := &GeminiProvider{
		client: client,
		model:  ResolveModel(cfg.Model),
	}
	if cfg.Temperature > 0 {
		p.temperature = genai.Ptr(cfg.Temperature)
	}
	return p, nil
}

// ResolveModel applies the GOOGLE_MODEL and DefaultModel fallbacks.
func ResolveModel(name string) string {
	if name == "" {
		name = os.Getenv("GOOGLE_MODEL")
	}
	if name == "" {
		name = DefaultModel
	}
	return name
}

// Generate produces a response from Gemini. API errors are returned wrapped
// so the governor can classify them.
func (p *GeminiProvider) Generate(ctx context.Context, req Request) (Response, error) {
	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(req.Prompt), p.config(req))
	if err != nil {
		return Response{}, fmt.Errorf("gemini generate failed: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Response{}, fmt.Errorf("gemini: %w", ErrEmptyResponse)
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return Response{}, fmt.Errorf("gemini: %w", ErrEmptyResponse)
	}
	return Response{Text: sb.String(), Usage: usageOf(resp.UsageMetadata)}, nil
}

func usageOf(md *genai.GenerateContentResponseUsageMetadata) Usage {
	if md == nil {
		return Usage{}
	}
	return Usage{
		PromptTokens:     int(md.PromptTokenCount),
		CandidatesTokens: int(md.CandidatesTokenCount),
		TotalTokens:      int(md.TotalTokenCount),
	}
}

func (p *GeminiProvider) config(req Request) *genai.GenerateContentConfig {
	if req.System == "" && p.temperature == nil {
		return nil
	}
	cfg := &genai.GenerateContentConfig{Temperature: p.temperature}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	return cfg
}

// Name returns the model name.
func (p *GeminiProvider) Name() string {
	return p.model
}
