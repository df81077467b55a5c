package bookings

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-tours/meridian/internal/platform/db"
	"github.com/meridian-tours/meridian/internal/shared"
)

// Repository provides access to bookings, payments and the booking number
// sequence. Only the conversion service and the discount engine write here.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Exec() shared.Execer

	GetBooking(ctx context.Context, id int64) (*Booking, error)
	GetBookingByProposal(ctx context.Context, proposalID int64) (*Booking, error)

	// ClaimConversion flips the proposal's deposit flag with a
	// WHERE deposit_paid = false guard. A false return means another
	// request already completed this exact conversion.
	ClaimConversion(ctx context.Context, proposalID int64, authRef string) (bool, error)
	SetConvertedBookingID(ctx context.Context, proposalID, bookingID int64) error

	NextBookingNumber(ctx context.Context, year int) (string, error)
	InsertBooking(ctx context.Context, b Booking) (int64, error)
	InsertPayment(ctx context.Context, p Payment) (int64, error)
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

// WithTx runs at ReadCommitted: the losing ClaimConversion must block on
// the winner's row lock and then see zero rows affected, not abort with a
// serialization failure.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

func (r *repository) Exec() shared.Execer {
	return r.db
}

const bookingColumns = `
	id, number, proposal_id, brand, currency, total_cents, deposit_cents,
	deposit_paid_cents, final_payment_due, customer_name, customer_email,
	created_at`

func (r *repository) GetBooking(ctx context.Context, id int64) (*Booking, error) {
	row := r.db.QueryRow(ctx, `SELECT`+bookingColumns+` FROM bookings WHERE id = $1`, id)
	return scanBooking(row)
}

func (r *repository) GetBookingByProposal(ctx context.Context, proposalID int64) (*Booking, error) {
	row := r.db.QueryRow(ctx, `SELECT`+bookingColumns+` FROM bookings WHERE proposal_id = $1`, proposalID)
	return scanBooking(row)
}

func (r *repository) ClaimConversion(ctx context.Context, proposalID int64, authRef string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE proposals
		SET deposit_paid = true, status = 'converted',
		    payment_authorization_ref = $2, updated_at = NOW()
		WHERE id = $1 AND deposit_paid = false
	`, proposalID, authRef)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repository) SetConvertedBookingID(ctx context.Context, proposalID, bookingID int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE proposals SET converted_booking_id = $2 WHERE id = $1
	`, proposalID, bookingID)
	return err
}

// NextBookingNumber increments the per-year counter and formats a
// human-readable booking number, e.g. BK-2026-0042.
func (r *repository) NextBookingNumber(ctx context.Context, year int) (string, error) {
	var seq int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO booking_sequences (year, seq)
		VALUES ($1, 1)
		ON CONFLICT (year)
		DO UPDATE SET seq = booking_sequences.seq + 1
		RETURNING seq
	`, year).Scan(&seq)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("BK-%d-%04d", year, seq), nil
}

func (r *repository) InsertBooking(ctx context.Context, b Booking) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO bookings (
			number, proposal_id, brand, currency, total_cents, deposit_cents,
			deposit_paid_cents, final_payment_due, customer_name, customer_email,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		RETURNING id
	`, b.Number, b.ProposalID, b.Brand, b.Currency, int64(b.TotalCents), int64(b.DepositCents),
		int64(b.DepositPaidCents), b.FinalPaymentDue, b.CustomerName, b.CustomerEmail,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *repository) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO payments (
			proposal_id, booking_id, gateway_ref, amount_cents, currency,
			type, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING id
	`, int8OrNil(p.ProposalID), int8OrNil(p.BookingID), p.GatewayRef, int64(p.Amount),
		p.Currency, p.Type, p.Status,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var createdAt pgtype.Timestamptz
	err := row.Scan(
		&b.ID, &b.Number, &b.ProposalID, &b.Brand, &b.Currency,
		&b.TotalCents, &b.DepositCents, &b.DepositPaidCents, &b.FinalPaymentDue,
		&b.CustomerName, &b.CustomerEmail, &createdAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	b.CreatedAt = createdAt.Time
	return &b, nil
}

func int8OrNil(v *int64) pgtype.Int8 {
	if v == nil {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: *v, Valid: true}
}
