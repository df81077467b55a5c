package proposals

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-tours/meridian/internal/platform/db"
	"github.com/meridian-tours/meridian/internal/shared"
)

// Repository provides access to proposal rows. Status mutations are
// conditional updates: they report whether a row actually changed so the
// service can distinguish a win from a concurrent transition.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Exec() shared.Execer

	Get(ctx context.Context, id int64) (*Proposal, error)
	GetByNumber(ctx context.Context, number string) (*Proposal, error)

	MarkSent(ctx context.Context, id int64) (bool, error)
	MarkViewed(ctx context.Context, id int64) (bool, error)
	Accept(ctx context.Context, id int64, req AcceptRequest) (bool, error)
	Decline(ctx context.Context, id int64, req DeclineRequest) (bool, error)
	Expire(ctx context.Context, id int64) (bool, error)
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

// WithTx runs at ReadCommitted so a conditional transition that lost a
// race reports zero rows affected instead of a serialization failure.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

// Exec exposes the current executor (pool or open transaction) so the
// activity logger can write in the same transaction as a status change.
func (r *repository) Exec() shared.Execer {
	return r.db
}

const proposalColumns = `
	id, number, brand, status, currency, total_cents, deposit_cents,
	skip_deposit, deposit_paid, valid_until, customer_name, customer_email,
	payment_authorization_ref, converted_booking_id,
	accepted_at, accepted_by, signature_name, accepted_from_ip,
	declined_at, decline_category, decline_reason, desired_changes,
	created_at, updated_at`

func (r *repository) Get(ctx context.Context, id int64) (*Proposal, error) {
	row := r.db.QueryRow(ctx, `SELECT`+proposalColumns+` FROM proposals WHERE id = $1`, id)
	return scanProposal(row)
}

func (r *repository) GetByNumber(ctx context.Context, number string) (*Proposal, error) {
	row := r.db.QueryRow(ctx, `SELECT`+proposalColumns+` FROM proposals WHERE number = $1`, number)
	return scanProposal(row)
}

func (r *repository) MarkSent(ctx context.Context, id int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE proposals SET status = 'sent', updated_at = NOW()
		WHERE id = $1 AND status = 'draft'
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repository) MarkViewed(ctx context.Context, id int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE proposals SET status = 'viewed', updated_at = NOW()
		WHERE id = $1 AND status = 'sent'
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repository) Accept(ctx context.Context, id int64, req AcceptRequest) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE proposals
		SET status = 'accepted', accepted_at = NOW(), accepted_by = $2,
		    signature_name = NULLIF($3, ''), accepted_from_ip = NULLIF($4, ''),
		    updated_at = NOW()
		WHERE id = $1 AND status IN ('sent', 'viewed') AND valid_until > NOW()
	`, id, req.ActorType, req.SignatureName, req.SourceIP)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repository) Decline(ctx context.Context, id int64, req DeclineRequest) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE proposals
		SET status = 'declined', declined_at = NOW(), decline_category = $2,
		    decline_reason = $3, desired_changes = NULLIF($4, ''),
		    updated_at = NOW()
		WHERE id = $1 AND status IN ('sent', 'viewed')
	`, id, req.Category, req.Reason, req.DesiredChanges)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repository) Expire(ctx context.Context, id int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE proposals SET status = 'expired', updated_at = NOW()
		WHERE id = $1
		  AND status IN ('draft', 'sent', 'viewed', 'accepted')
		  AND valid_until < NOW()
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func scanProposal(row pgx.Row) (*Proposal, error) {
	var p Proposal
	var validUntil, createdAt, updatedAt pgtype.Timestamptz
	var authRef, signatureName, acceptIP, acceptedBy pgtype.Text
	var declineCategory, declineReason, desiredChanges pgtype.Text
	var convertedBookingID pgtype.Int8
	var acceptedAt, declinedAt pgtype.Timestamptz

	err := row.Scan(
		&p.ID, &p.Number, &p.Brand, &p.Status, &p.Currency,
		&p.TotalCents, &p.DepositCents, &p.SkipDeposit, &p.DepositPaid,
		&validUntil, &p.CustomerName, &p.CustomerEmail,
		&authRef, &convertedBookingID,
		&acceptedAt, &acceptedBy, &signatureName, &acceptIP,
		&declinedAt, &declineCategory, &declineReason, &desiredChanges,
		&createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}

	p.ValidUntil = validUntil.Time
	p.CreatedAt = createdAt.Time
	p.UpdatedAt = updatedAt.Time
	p.PaymentAuthorizationRef = textPtr(authRef)
	p.AcceptedBy = textPtr(acceptedBy)
	p.SignatureName = textPtr(signatureName)
	p.AcceptedFromIP = textPtr(acceptIP)
	p.DeclineCategory = textPtr(declineCategory)
	p.DeclineReason = textPtr(declineReason)
	p.DesiredChanges = textPtr(desiredChanges)
	if convertedBookingID.Valid {
		v := convertedBookingID.Int64
		p.ConvertedBookingID = &v
	}
	if acceptedAt.Valid {
		v := acceptedAt.Time
		p.AcceptedAt = &v
	}
	if declinedAt.Valid {
		v := declinedAt.Time
		p.DeclinedAt = &v
	}
	return &p, nil
}

func textPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	v := t.String
	return &v
}
