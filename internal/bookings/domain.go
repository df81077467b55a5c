package bookings

import (
	"time"

	"github.com/meridian-tours/meridian/internal/money"
)

// Booking is the durable reservation created from an accepted, paid
// proposal. Financial figures are copied from the proposal, not referenced,
// because the proposal may later be edited or archived.
type Booking struct {
	ID         int64  `json:"id"`
	Number     string `json:"number"`
	ProposalID int64  `json:"proposal_id"`
	Brand      string `json:"brand"`
	Currency   string `json:"currency"`

	TotalCents       money.Cents `json:"total_cents"`
	DepositCents     money.Cents `json:"deposit_cents"`
	DepositPaidCents money.Cents `json:"deposit_paid_cents"`
	FinalPaymentDue  bool        `json:"final_payment_due"`

	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`

	CreatedAt time.Time `json:"created_at"`
}

// Payment types.
const (
	PaymentTypeDeposit = "deposit"
	PaymentTypeFinal   = "final"
	PaymentTypeRefund  = "refund"
)

// Payment is an immutable record of one successful monetary movement.
// Only the terminal gateway status may be recorded after creation.
type Payment struct {
	ID         int64       `json:"id"`
	ProposalID *int64      `json:"proposal_id,omitempty"`
	BookingID  *int64      `json:"booking_id,omitempty"`
	GatewayRef string      `json:"gateway_ref"`
	Amount     money.Cents `json:"amount_cents"`
	Currency   string      `json:"currency"`
	Type       string      `json:"type"`
	Status     string      `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
}

// ConfirmPaymentRequest identifies the proposal and the gateway
// authorization confirming its payment.
type ConfirmPaymentRequest struct {
	ProposalRef      string `json:"proposal_ref" validate:"required"`
	AuthorizationRef string `json:"authorization_ref" validate:"required"`
}

// ConfirmPaymentResult reports the booking the proposal converted into.
// AlreadyConverted is true when a previous call performed the conversion;
// repeated confirmations are successes, never duplicates.
type ConfirmPaymentResult struct {
	BookingID        int64  `json:"booking_id"`
	BookingNumber    string `json:"booking_number"`
	AlreadyConverted bool   `json:"already_converted"`
}
