// Package gateway defines the payment gateway boundary: creating payment
// authorizations, retrieving their status, and issuing partial refunds.
package gateway

import (
	"context"
	"fmt"

	"github.com/meridian-tours/meridian/internal/money"
)

// Authorization statuses reported by the gateway.
const (
	StatusSucceeded = "succeeded"
	StatusPending   = "pending"
	StatusFailed    = "failed"
)

// Authorization is the gateway's view of one payment authorization.
type Authorization struct {
	Ref      string
	Status   string
	Amount   money.Cents
	Currency string
	Metadata map[string]string
}

// Refund is the gateway's acknowledgement of a refund request.
type Refund struct {
	ID     string
	Status string
}

// CreateAuthorizationRequest describes a new charge authorization.
type CreateAuthorizationRequest struct {
	Amount         money.Cents
	Currency       string
	Metadata       map[string]string
	IdempotencyKey string
}

// RefundRequest describes a (partial) refund against an authorization.
type RefundRequest struct {
	AuthorizationRef string
	Amount           money.Cents
	Metadata         map[string]string
}

// Client is the outbound payment gateway interface. Implementations must
// bound every call with a timeout and must never be invoked while a
// database lock is held.
type Client interface {
	CreateAuthorization(ctx context.Context, req CreateAuthorizationRequest) (*Authorization, error)
	GetAuthorization(ctx context.Context, ref string) (*Authorization, error)
	CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error)
}

// Kind classifies gateway failures for retry decisions.
type Kind int

const (
	// KindRetryable covers timeouts, network failures and 5xx responses.
	KindRetryable Kind = iota
	// KindTerminal covers declined or invalid requests (4xx).
	KindTerminal
	// KindAuth covers credential/configuration failures (401/403). These
	// fail identically for every call, so batch loops stop on first sight.
	KindAuth
)

// Error is a classified gateway failure.
type Error struct {
	Op      string
	Status  int
	Message string
	Kind    Kind
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway: %s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("gateway: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("gateway: %s failed", e.Op)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the caller may retry the operation.
func (e *Error) Retryable() bool { return e.Kind == KindRetryable }

// AuthFailure reports a credential/configuration failure.
func (e *Error) AuthFailure() bool { return e.Kind == KindAuth }
