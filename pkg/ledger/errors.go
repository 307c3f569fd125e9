package ledger

import (
	"errors"
	"fmt"

	"github.com/cpunion/heirloom/pkg/types"
)

var (
	// ErrInsufficientResource means an individual allocation would overdraw a pool.
	ErrInsufficientResource = errors.New("insufficient resource")
	// ErrInsufficientSharedFunds means a shared allocation exceeds the shared budget.
	ErrInsufficientSharedFunds = errors.New("insufficient shared funds")
	// ErrUnknownAgent means the agent has no pool in this ledger.
	ErrUnknownAgent = errors.New("unknown agent")
	// ErrInvalidAmount means the amount was negative or not a number.
	ErrInvalidAmount = errors.New("invalid amount")
)

// AllocationError describes a rejected allocation. It matches the sentinel
// in Err with errors.Is.
type AllocationError struct {
	Agent     string
	Kind      types.ResourceKind
	Requested float64
	Available float64
	Err       error
}

func (e *AllocationError) Error() string {
	if e.Agent == "" {
		return fmt.Sprintf("%v: requested %.2f, available %.2f", e.Err, e.Requested, e.Available)
	}
	return fmt.Sprintf("%v: %s %s requested %.2f, available %.2f", e.Err, e.Agent, e.Kind, e.Requested, e.Available)
}

func (e *AllocationError) Unwrap() error { return e.Err }
