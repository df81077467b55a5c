package proposals

import (
	"time"

	"github.com/meridian-tours/meridian/internal/money"
)

// ProposalStatus enumerates the lifecycle states of a proposal.
type ProposalStatus string

const (
	StatusDraft     ProposalStatus = "draft"
	StatusSent      ProposalStatus = "sent"
	StatusViewed    ProposalStatus = "viewed"
	StatusAccepted  ProposalStatus = "accepted"
	StatusDeclined  ProposalStatus = "declined"
	StatusExpired   ProposalStatus = "expired"
	StatusConverted ProposalStatus = "converted"
)

// Terminal reports whether no further transitions are allowed from s.
func (s ProposalStatus) Terminal() bool {
	switch s {
	case StatusDeclined, StatusExpired, StatusConverted:
		return true
	}
	return false
}

// Proposal is a priced quote offered to a customer. It is created by quote
// authoring and mutated only through status transitions.
type Proposal struct {
	ID       int64          `json:"id"`
	Number   string         `json:"number"`
	Brand    string         `json:"brand"`
	Status   ProposalStatus `json:"status"`
	Currency string         `json:"currency"`

	TotalCents   money.Cents `json:"total_cents"`
	DepositCents money.Cents `json:"deposit_cents"`
	SkipDeposit  bool        `json:"skip_deposit"`
	DepositPaid  bool        `json:"deposit_paid"`

	ValidUntil time.Time `json:"valid_until"`

	// Contact snapshot, copied at authoring time.
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`

	PaymentAuthorizationRef *string `json:"payment_authorization_ref,omitempty"`
	ConvertedBookingID      *int64  `json:"converted_booking_id,omitempty"`

	AcceptedAt      *time.Time `json:"accepted_at,omitempty"`
	AcceptedBy      *string    `json:"accepted_by,omitempty"`
	SignatureName   *string    `json:"signature_name,omitempty"`
	AcceptedFromIP  *string    `json:"accepted_from_ip,omitempty"`
	DeclinedAt      *time.Time `json:"declined_at,omitempty"`
	DeclineCategory *string    `json:"decline_category,omitempty"`
	DeclineReason   *string    `json:"decline_reason,omitempty"`
	DesiredChanges  *string    `json:"desired_changes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AcceptRequest carries the customer's or admin's acceptance of a proposal.
type AcceptRequest struct {
	ActorType     string `json:"actor_type" validate:"required,oneof=customer admin"`
	SignatureName string `json:"signature_name" validate:"required_if=ActorType customer"`
	SourceIP      string `json:"-"`
}

// DeclineRequest carries a structured decline reason.
type DeclineRequest struct {
	Category       string `json:"category" validate:"required,oneof=price dates itinerary other"`
	Reason         string `json:"reason" validate:"required,min=10"`
	DesiredChanges string `json:"desired_changes"`
	SourceIP       string `json:"-"`
}
