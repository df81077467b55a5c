package discounts

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-tours/meridian/internal/money"
)

// Discount types.
const (
	TypeFlat       = "flat"
	TypePercentage = "percentage"
)

// Ticket payment statuses.
const (
	TicketUnpaid            = "unpaid"
	TicketPaid              = "paid"
	TicketPartiallyRefunded = "partially_refunded"
	TicketCancelled         = "cancelled"
)

// Departure is one scheduled run of a shared group tour: the offering a
// discount applies to. It carries two per-person price tiers, base and
// lunch-inclusive.
type Departure struct {
	ID       int64  `json:"id"`
	Code     string `json:"code"`
	Brand    string `json:"brand"`
	Currency string `json:"currency"`

	BasePriceCents  money.Cents `json:"base_price_cents"`
	LunchPriceCents money.Cents `json:"lunch_price_cents"`

	DiscountApplied bool       `json:"discount_applied"`
	DiscountType    *string    `json:"discount_type,omitempty"`
	DiscountValue   *string    `json:"discount_value,omitempty"`
	DiscountReason  *string    `json:"discount_reason,omitempty"`
	DiscountedAt    *time.Time `json:"discounted_at,omitempty"`

	StartsAt time.Time `json:"starts_at"`
}

// Ticket is one guest's purchased seats on a departure. Once a refund is
// processed the original price fields preserve the pre-discount price; they
// are set at most once and never overwritten.
type Ticket struct {
	ID          int64  `json:"id"`
	DepartureID int64  `json:"departure_id"`
	GuestName   string `json:"guest_name"`
	GuestEmail  string `json:"guest_email"`
	Quantity    int    `json:"quantity"`

	IncludesLunch       bool        `json:"includes_lunch"`
	PricePerPersonCents money.Cents `json:"price_per_person_cents"`
	TotalPaidCents      money.Cents `json:"total_paid_cents"`
	Status              string      `json:"status"`

	PaymentAuthorizationRef *string `json:"payment_authorization_ref,omitempty"`

	OriginalPriceCents *money.Cents `json:"original_price_cents,omitempty"`
	OriginalTotalCents *money.Cents `json:"original_total_cents,omitempty"`
	RefundID           *string      `json:"refund_id,omitempty"`
	RefundStatus       *string      `json:"refund_status,omitempty"`
	RefundAmountCents  *money.Cents `json:"refund_amount_cents,omitempty"`
}

// Request describes a discount to preview or apply.
type Request struct {
	Type      string          `json:"type" validate:"required,oneof=flat percentage"`
	Amount    money.Cents     `json:"amount_cents"`
	Percent   decimal.Decimal `json:"percent"`
	Confirmed bool            `json:"confirmed"`
	Reason    string          `json:"reason"`
}

// Per-ticket outcome statuses.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
	OutcomeReprice   = "reprice"
	OutcomeRefundDue = "refund_due"
)

// TicketOutcome records what happened (or would happen) to one ticket.
// Failed refunds always appear here with a non-empty Error; they are never
// silently dropped.
type TicketOutcome struct {
	TicketID           int64       `json:"ticket_id"`
	GuestName          string      `json:"guest_name"`
	Quantity           int         `json:"quantity"`
	Outcome            string      `json:"outcome"`
	RefundCents        money.Cents `json:"refund_cents"`
	OriginalPriceCents money.Cents `json:"original_price_cents"`
	NewPriceCents      money.Cents `json:"new_price_cents"`
	RefundID           string      `json:"refund_id,omitempty"`
	Error              string      `json:"error,omitempty"`
	Warning            string      `json:"warning,omitempty"`
}

// Report is the full preview or apply result: per-ticket outcomes, bucket
// counts and the updated (or would-be) departure pricing.
type Report struct {
	DepartureID        int64           `json:"departure_id"`
	Applied            bool            `json:"applied"`
	CanApply           bool            `json:"can_apply"`
	NewBasePriceCents  money.Cents     `json:"new_base_price_cents"`
	NewLunchPriceCents money.Cents     `json:"new_lunch_price_cents"`
	TotalRefundCents   money.Cents     `json:"total_refund_cents"`
	Tickets            []TicketOutcome `json:"tickets"`
	Succeeded          int             `json:"succeeded"`
	Failed             int             `json:"failed"`
	Skipped            int             `json:"skipped"`
	Departure          *Departure      `json:"departure,omitempty"`
}
