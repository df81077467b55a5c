package discounts

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-tours/meridian/internal/money"
	"github.com/meridian-tours/meridian/internal/platform/db"
	"github.com/meridian-tours/meridian/internal/shared"
)

// TicketRefundUpdate persists a per-ticket refund outcome. The original
// price columns are filled with COALESCE so they are set at most once.
type TicketRefundUpdate struct {
	TicketID      int64
	NewPriceCents money.Cents
	RefundCents   money.Cents
	RefundID      string
	RefundStatus  string
	MarkRefunded  bool
}

// Repository provides access to departures and tickets.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Exec() shared.Execer

	GetDeparture(ctx context.Context, id int64) (*Departure, error)

	// ClaimDiscount stamps the discount on the departure with a
	// WHERE discount_applied = false guard and applies the new price
	// tiers. A false return means the departure was discounted
	// concurrently.
	ClaimDiscount(ctx context.Context, id int64, discountType, value, reason string, newBase, newLunch money.Cents) (bool, error)

	// ListTickets returns all non-cancelled tickets on the departure.
	ListTickets(ctx context.Context, departureID int64) ([]Ticket, error)

	ApplyTicketRefundResult(ctx context.Context, u TicketRefundUpdate) error
	RepriceUnpaidTickets(ctx context.Context, departureID int64, base, lunch money.Cents) (int64, error)
}

type dbtx interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRepository constructs the pgx-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

// WithTx runs at ReadCommitted so a ClaimDiscount that lost a race reports
// zero rows affected instead of a serialization failure.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

func (r *repository) Exec() shared.Execer {
	return r.db
}

func (r *repository) GetDeparture(ctx context.Context, id int64) (*Departure, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, code, brand, currency, base_price_cents, lunch_price_cents,
		       discount_applied, discount_type, discount_value, discount_reason,
		       discounted_at, starts_at
		FROM departures WHERE id = $1
	`, id)

	var d Departure
	var discountType, discountValue, discountReason pgtype.Text
	var discountedAt, startsAt pgtype.Timestamptz
	err := row.Scan(
		&d.ID, &d.Code, &d.Brand, &d.Currency, &d.BasePriceCents, &d.LunchPriceCents,
		&d.DiscountApplied, &discountType, &discountValue, &discountReason,
		&discountedAt, &startsAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	d.StartsAt = startsAt.Time
	if discountType.Valid {
		v := discountType.String
		d.DiscountType = &v
	}
	if discountValue.Valid {
		v := discountValue.String
		d.DiscountValue = &v
	}
	if discountReason.Valid {
		v := discountReason.String
		d.DiscountReason = &v
	}
	if discountedAt.Valid {
		v := discountedAt.Time
		d.DiscountedAt = &v
	}
	return &d, nil
}

func (r *repository) ClaimDiscount(ctx context.Context, id int64, discountType, value, reason string, newBase, newLunch money.Cents) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE departures
		SET discount_applied = true, discount_type = $2, discount_value = $3,
		    discount_reason = NULLIF($4, ''), discounted_at = NOW(),
		    base_price_cents = $5, lunch_price_cents = $6, updated_at = NOW()
		WHERE id = $1 AND discount_applied = false
	`, id, discountType, value, reason, int64(newBase), int64(newLunch))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repository) ListTickets(ctx context.Context, departureID int64) ([]Ticket, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, departure_id, guest_name, guest_email, quantity,
		       includes_lunch, price_per_person_cents, total_paid_cents, status,
		       payment_authorization_ref, original_price_cents, original_total_cents,
		       refund_id, refund_status, refund_amount_cents
		FROM tickets
		WHERE departure_id = $1 AND status <> 'cancelled'
		ORDER BY id
	`, departureID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []Ticket
	for rows.Next() {
		var t Ticket
		var authRef, refundID, refundStatus pgtype.Text
		var origPrice, origTotal, refundAmount pgtype.Int8
		err := rows.Scan(
			&t.ID, &t.DepartureID, &t.GuestName, &t.GuestEmail, &t.Quantity,
			&t.IncludesLunch, &t.PricePerPersonCents, &t.TotalPaidCents, &t.Status,
			&authRef, &origPrice, &origTotal,
			&refundID, &refundStatus, &refundAmount,
		)
		if err != nil {
			return nil, err
		}
		if authRef.Valid {
			v := authRef.String
			t.PaymentAuthorizationRef = &v
		}
		if origPrice.Valid {
			v := money.Cents(origPrice.Int64)
			t.OriginalPriceCents = &v
		}
		if origTotal.Valid {
			v := money.Cents(origTotal.Int64)
			t.OriginalTotalCents = &v
		}
		if refundID.Valid {
			v := refundID.String
			t.RefundID = &v
		}
		if refundStatus.Valid {
			v := refundStatus.String
			t.RefundStatus = &v
		}
		if refundAmount.Valid {
			v := money.Cents(refundAmount.Int64)
			t.RefundAmountCents = &v
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (r *repository) ApplyTicketRefundResult(ctx context.Context, u TicketRefundUpdate) error {
	status := "paid"
	if u.MarkRefunded {
		status = "partially_refunded"
	}
	_, err := r.db.Exec(ctx, `
		UPDATE tickets
		SET original_price_cents = COALESCE(original_price_cents, price_per_person_cents),
		    original_total_cents = COALESCE(original_total_cents, total_paid_cents),
		    price_per_person_cents = $2,
		    refund_amount_cents = $3,
		    refund_id = NULLIF($4, ''),
		    refund_status = $5,
		    status = $6,
		    updated_at = NOW()
		WHERE id = $1
	`, u.TicketID, int64(u.NewPriceCents), int64(u.RefundCents), u.RefundID, u.RefundStatus, status)
	return err
}

func (r *repository) RepriceUnpaidTickets(ctx context.Context, departureID int64, base, lunch money.Cents) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE tickets
		SET price_per_person_cents = CASE WHEN includes_lunch THEN $3::bigint ELSE $2::bigint END,
		    updated_at = NOW()
		WHERE departure_id = $1 AND status = 'unpaid'
	`, departureID, int64(base), int64(lunch))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
