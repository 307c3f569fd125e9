package governor

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/genai"
)

type statusErr struct{ retry bool }

func (e statusErr) Error() string   { return "status" }
func (e statusErr) Retryable() bool { return e.retry }

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", genai.APIError{Code: 429}, true},
		{"unavailable", fmt.Errorf("generate: %w", genai.APIError{Code: 503}), true},
		{"gateway timeout", genai.APIError{Code: 504}, true},
		{"exhausted status", genai.APIError{Code: 400, Status: "RESOURCE_EXHAUSTED"}, true},
		{"bad request", genai.APIError{Code: 400, Status: "INVALID_ARGUMENT"}, false},
		{"permission", genai.APIError{Code: 403, Status: "PERMISSION_DENIED"}, false},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"cancelled", context.Canceled, false},
		{"overloaded text", errors.New("The model is overloaded. Please try again later."), true},
		{"plain", errors.New("invalid api key"), false},
		{"explicit retry", statusErr{retry: true}, true},
		{"explicit no retry", statusErr{retry: false}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v; want %v", tt.err, got, tt.want)
			}
		})
	}
}
