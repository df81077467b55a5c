package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Actor types recorded on activity entries.
const (
	ActorCustomer = "customer"
	ActorAdmin    = "admin"
	ActorSystem   = "system"
)

// ActivityEntry represents one append-only row in activity_log.
type ActivityEntry struct {
	ActorType string
	ActorRef  string
	Action    string
	Entity    string
	EntityID  string
	Meta      map[string]any
	At        time.Time
}

// Execer is the subset of pgx.Tx / pgxpool.Pool the logger needs. Passing
// the enclosing transaction keeps the log row and the state change atomic.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ActivityLogger appends entries to activity_log. Rows are never updated or
// deleted.
type ActivityLogger struct{}

// NewActivityLogger returns a new ActivityLogger.
func NewActivityLogger() *ActivityLogger {
	return &ActivityLogger{}
}

// Record persists the entry using the given executor, typically the open
// transaction of the state change being logged.
func (l *ActivityLogger) Record(ctx context.Context, db Execer, entry ActivityEntry) error {
	if entry.Action == "" || entry.Entity == "" || entry.EntityID == "" {
		return errors.New("activity entry requires action/entity/entity_id")
	}
	if entry.ActorType == "" {
		entry.ActorType = ActorSystem
	}
	metaJSON, err := json.Marshal(entry.Meta)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `
		INSERT INTO activity_log (actor_type, actor_ref, action, entity, entity_id, meta, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE(NULLIF($7, '0001-01-01 00:00:00+00'::timestamptz), NOW()))
	`, entry.ActorType, entry.ActorRef, entry.Action, entry.Entity, entry.EntityID, metaJSON, entry.At)
	return err
}
