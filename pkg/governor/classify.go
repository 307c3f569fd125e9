package governor

import (
	"context"
	"errors"
	"net"
	"strings"

	"google.golang.org/genai"
)

// Retryable is implemented by errors that know whether they are transient.
type Retryable interface {
	Retryable() bool
}

var retryableStatuses = map[string]bool{
	"RESOURCE_EXHAUSTED": true,
	"UNAVAILABLE":        true,
	"DEADLINE_EXCEEDED":  true,
	"INTERNAL":           true,
}

var retryablePhrases = []string{
	"overloaded",
	"unavailable",
	"timeout",
	"timed out",
	"rate limit",
	"ratelimit",
	"too many requests",
	"resource exhausted",
	"resource_exhausted",
	"try again later",
}

// IsRetryable classifies err as a transient upstream failure. Overload,
// unavailability, timeouts and rate limiting are retryable; everything else
// is not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var r Retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 429, 500, 503, 504:
			return true
		}
		return retryableStatuses[strings.ToUpper(apiErr.Status)]
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, phrase := range retryablePhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}
