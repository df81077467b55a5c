package orders

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-tours/meridian/internal/money"
)

// MenuItem is the authoritative name and price for one menu reference.
type MenuItem struct {
	Name       string
	PriceCents money.Cents
}

// Menu looks up authoritative prices for menu references. Client-submitted
// prices are never trusted.
type Menu interface {
	GetItems(ctx context.Context, refs []string) (map[string]MenuItem, error)
}

// PgMenu reads menu_items from the database.
type PgMenu struct {
	pool *pgxpool.Pool
}

// NewPgMenu constructs the database-backed menu.
func NewPgMenu(pool *pgxpool.Pool) *PgMenu {
	return &PgMenu{pool: pool}
}

// GetItems returns the items for the given refs. Unknown refs are simply
// absent from the result; the caller decides whether that is an error.
func (m *PgMenu) GetItems(ctx context.Context, refs []string) (map[string]MenuItem, error) {
	rows, err := m.pool.Query(ctx, `
		SELECT ref, name, price_cents FROM menu_items WHERE ref = ANY($1)
	`, refs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make(map[string]MenuItem, len(refs))
	for rows.Next() {
		var ref, name string
		var price int64
		if err := rows.Scan(&ref, &name, &price); err != nil {
			return nil, err
		}
		items[ref] = MenuItem{Name: name, PriceCents: money.Cents(price)}
	}
	return items, rows.Err()
}
