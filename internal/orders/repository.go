package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-tours/meridian/internal/platform/db"
	"github.com/meridian-tours/meridian/internal/shared"
)

// Repository loads and persists order aggregates. Callers never see the
// serialized guest list, only the typed in-memory Order value.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Exec() shared.Execer

	GetOrder(ctx context.Context, id int64) (*Order, error)

	// GetOrderForUpdate reads the order under a row lock. Only valid
	// inside WithTx; the lock is held until the transaction commits and
	// blocks concurrent aggregators targeting the same order.
	GetOrderForUpdate(ctx context.Context, id int64) (*Order, error)

	// SaveAggregate writes the guest list and recomputed totals back.
	SaveAggregate(ctx context.Context, o *Order) error

	DepartureStart(ctx context.Context, departureID int64) (time.Time, error)
	GuestOnDeparture(ctx context.Context, departureID int64, guestName string) (bool, error)
}

type dbtx interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type repository struct {
	db   dbtx
	pool *pgxpool.Pool
	inTx bool
}

// NewRepository constructs the pgx-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

// WithTx runs at ReadCommitted: a FOR UPDATE that blocked on a concurrent
// aggregator must re-read the merged row after the winner commits, not
// abort with a serialization failure.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool, inTx: true})
	})
}

func (r *repository) Exec() shared.Execer {
	return r.db
}

const orderQuery = `
	SELECT id, departure_id, status, currency, guest_orders,
	       subtotal_cents, tax_cents, total_cents, updated_at
	FROM orders WHERE id = $1`

func (r *repository) GetOrder(ctx context.Context, id int64) (*Order, error) {
	return r.scanOrder(r.db.QueryRow(ctx, orderQuery, id))
}

func (r *repository) GetOrderForUpdate(ctx context.Context, id int64) (*Order, error) {
	if !r.inTx {
		return nil, errors.New("orders: GetOrderForUpdate requires a transaction")
	}
	return r.scanOrder(r.db.QueryRow(ctx, orderQuery+` FOR UPDATE`, id))
}

func (r *repository) scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var raw []byte
	var updatedAt pgtype.Timestamptz
	err := row.Scan(
		&o.ID, &o.DepartureID, &o.Status, &o.Currency, &raw,
		&o.SubtotalCents, &o.TaxCents, &o.TotalCents, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	o.UpdatedAt = updatedAt.Time

	guests, err := parseGuestOrders(raw)
	if err != nil {
		return nil, fmt.Errorf("orders: parse guest list for order %d: %w", o.ID, err)
	}
	o.Guests = guests
	return &o, nil
}

// parseGuestOrders tolerates both representations found in the column: a
// plain JSON array, and a JSON string containing the serialized array
// (legacy rows written through text-based tooling).
func parseGuestOrders(raw []byte) ([]GuestOrder, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var guests []GuestOrder
	if err := json.Unmarshal(raw, &guests); err == nil {
		return guests, nil
	}
	var nested string
	if err := json.Unmarshal(raw, &nested); err != nil {
		return nil, errors.New("guest_orders is neither an array nor a serialized string")
	}
	if nested == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(nested), &guests); err != nil {
		return nil, fmt.Errorf("decode serialized guest list: %w", err)
	}
	return guests, nil
}

func (r *repository) SaveAggregate(ctx context.Context, o *Order) error {
	guests := o.Guests
	if guests == nil {
		guests = []GuestOrder{}
	}
	raw, err := json.Marshal(guests)
	if err != nil {
		return fmt.Errorf("orders: encode guest list: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		UPDATE orders
		SET guest_orders = $2, subtotal_cents = $3, tax_cents = $4,
		    total_cents = $5, updated_at = NOW()
		WHERE id = $1
	`, o.ID, raw, int64(o.SubtotalCents), int64(o.TaxCents), int64(o.TotalCents))
	return err
}

func (r *repository) DepartureStart(ctx context.Context, departureID int64) (time.Time, error) {
	var startsAt pgtype.Timestamptz
	err := r.db.QueryRow(ctx, `SELECT starts_at FROM departures WHERE id = $1`, departureID).Scan(&startsAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, shared.ErrNotFound
		}
		return time.Time{}, err
	}
	return startsAt.Time, nil
}

func (r *repository) GuestOnDeparture(ctx context.Context, departureID int64, guestName string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM tickets
			WHERE departure_id = $1 AND guest_name = $2 AND status <> 'cancelled'
		)
	`, departureID, guestName).Scan(&exists)
	return exists, err
}
