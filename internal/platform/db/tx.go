package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WithTx executes fn within a transaction using the given options. The
// transaction is rolled back if fn returns an error or panics.
//
// Callers pick the isolation level per call site. Transactions whose
// concurrency control is a conditional UPDATE or a SELECT ... FOR UPDATE
// must run at ReadCommitted: only there does a statement that blocked on a
// concurrent writer re-evaluate against the committed row instead of
// failing with a serialization error.
func WithTx(ctx context.Context, pool *pgxpool.Pool, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}
