// Package llm provides the text-generation backends that agents and the
// signal extractor call through the governor.
package llm

import (
	"context"
	"errors"
)

// Request is one generation call.
type Request struct {
	// System is the standing instruction; it may be empty.
	System string
	Prompt string
}

// Usage is the token accounting reported by a backend, if any.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CandidatesTokens int `json:"candidates_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates u into the receiver.
func (u *Usage) Add(o Usage) {
	u.PromptTokens += o.PromptTokens
	u.CandidatesTokens += o.CandidatesTokens
	u.TotalTokens += o.TotalTokens
}

// Response is a generated text with its usage.
type Response struct {
	Text  string
	Usage Usage
}

// Provider generates text. Implementations must be safe for concurrent use.
type Provider interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Name() string
}

// ErrEmptyResponse is returned when a backend answers without any text.
var ErrEmptyResponse = errors.New("empty response from model")
