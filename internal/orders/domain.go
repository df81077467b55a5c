package orders

import (
	"time"

	"github.com/meridian-tours/meridian/internal/money"
)

// Order statuses. Guests may submit while the order is draft or submitted;
// a finalized order is locked for the kitchen.
const (
	OrderDraft     = "draft"
	OrderSubmitted = "submitted"
	OrderFinalized = "finalized"
)

// OrderItem is one line inside a guest's submission. UnitPriceCents is
// always the server-side menu price, never a client-submitted figure.
type OrderItem struct {
	MenuRef        string      `json:"menu_ref"`
	Name           string      `json:"name"`
	Quantity       int         `json:"quantity"`
	UnitPriceCents money.Cents `json:"unit_price_cents"`
}

// GuestOrder is one guest's item list within the shared order. An order
// holds at most one entry per guest; resubmission replaces it wholesale.
type GuestOrder struct {
	GuestName   string      `json:"guest_name"`
	Items       []OrderItem `json:"items"`
	Notes       string      `json:"notes,omitempty"`
	SubmittedAt time.Time   `json:"submitted_at"`
}

// Order is the shared, priced lunch order for one departure. Subtotal, tax
// and total are always recomputed from the guest list, never edited
// independently.
type Order struct {
	ID          int64  `json:"id"`
	DepartureID int64  `json:"departure_id"`
	Status      string `json:"status"`
	Currency    string `json:"currency"`

	Guests []GuestOrder `json:"guests"`

	SubtotalCents money.Cents `json:"subtotal_cents"`
	TaxCents      money.Cents `json:"tax_cents"`
	TotalCents    money.Cents `json:"total_cents"`

	UpdatedAt time.Time `json:"updated_at"`
}

// SubmitItem is one requested line in a guest submission.
type SubmitItem struct {
	MenuRef  string `json:"menu_ref" validate:"required"`
	Quantity int    `json:"quantity" validate:"required,min=1,max=50"`
}

// SubmitRequest is one guest's full submission. It replaces any previous
// submission by the same guest.
type SubmitRequest struct {
	GuestName string       `json:"guest_name" validate:"required"`
	Items     []SubmitItem `json:"items" validate:"required,min=1,dive"`
	Notes     string       `json:"notes"`
}
