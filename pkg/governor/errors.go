package governor

import "fmt"

// RetryableCallError is returned once a transient failure has exhausted
// every retry.
type RetryableCallError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *RetryableCallError) Error() string {
	return fmt.Sprintf("%s: retries exhausted after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *RetryableCallError) Unwrap() error { return e.Err }

// NonRetryableCallError is returned when a call fails with an error that
// must not be retried.
type NonRetryableCallError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *NonRetryableCallError) Error() string {
	return fmt.Sprintf("%s: non-retryable failure on attempt %d: %v", e.Op, e.Attempts, e.Err)
}

func (e *NonRetryableCallError) Unwrap() error { return e.Err }

// AttemptCount extracts the attempt count from a governor error, or 0.
func AttemptCount(err error) int {
	switch e := err.(type) {
	case *RetryableCallError:
		return e.Attempts
	case *NonRetryableCallError:
		return e.Attempts
	}
	return 0
}
