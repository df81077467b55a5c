package orders

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-tours/meridian/internal/money"
	"github.com/meridian-tours/meridian/internal/shared"
)

type recordingExecer struct {
	actions []string
}

func (e *recordingExecer) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if len(args) > 2 {
		if action, ok := args[2].(string); ok {
			e.actions = append(e.actions, action)
		}
	}
	return pgconn.CommandTag{}, nil
}

type memoryOrderRepo struct {
	// txMu is held for the duration of a WithTx callback, serializing
	// aggregation transactions the way the row lock does in Postgres.
	// mu guards the maps for reads outside any transaction.
	txMu sync.Mutex
	mu   sync.Mutex

	orders         map[int64]*Order
	departureStart time.Time
	guests         map[string]bool
	activity       *recordingExecer

	// onLock runs after the row lock is taken, simulating a concurrent
	// transaction that committed between the pre-check and the lock.
	onLock func(o *Order)
}

func newMemoryOrderRepo() *memoryOrderRepo {
	return &memoryOrderRepo{
		orders:         make(map[int64]*Order),
		departureStart: time.Now().Add(14 * 24 * time.Hour),
		guests:         make(map[string]bool),
		activity:       &recordingExecer{},
	}
}

func (r *memoryOrderRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	return fn(ctx, r)
}

func (r *memoryOrderRepo) Exec() shared.Execer { return r.activity }

func (r *memoryOrderRepo) getOrderLocked(id int64) (*Order, error) {
	o, ok := r.orders[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	clone := *o
	clone.Guests = append([]GuestOrder(nil), o.Guests...)
	return &clone, nil
}

func (r *memoryOrderRepo) GetOrder(ctx context.Context, id int64) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getOrderLocked(id)
}

func (r *memoryOrderRepo) GetOrderForUpdate(ctx context.Context, id int64) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.onLock != nil {
		r.onLock(r.orders[id])
	}
	return r.getOrderLocked(id)
}

func (r *memoryOrderRepo) SaveAggregate(ctx context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.orders[o.ID]
	if !ok {
		return shared.ErrNotFound
	}
	*stored = *o
	stored.Guests = append([]GuestOrder(nil), o.Guests...)
	return nil
}

func (r *memoryOrderRepo) DepartureStart(ctx context.Context, departureID int64) (time.Time, error) {
	return r.departureStart, nil
}

func (r *memoryOrderRepo) GuestOnDeparture(ctx context.Context, departureID int64, guestName string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.guests[guestName], nil
}

type staticMenu struct {
	items map[string]MenuItem
}

func (m *staticMenu) GetItems(ctx context.Context, refs []string) (map[string]MenuItem, error) {
	out := make(map[string]MenuItem)
	for _, ref := range refs {
		if item, ok := m.items[ref]; ok {
			out[ref] = item
		}
	}
	return out, nil
}

func newOrderFixture() (*Service, *memoryOrderRepo) {
	repo := newMemoryOrderRepo()
	repo.orders[1] = &Order{ID: 1, DepartureID: 3, Status: OrderDraft, Currency: "USD"}
	repo.guests["Ada Lindgren"] = true
	repo.guests["Ben Okafor"] = true
	menu := &staticMenu{items: map[string]MenuItem{
		"sandwich":  {Name: "Alpine Sandwich", PriceCents: 1250},
		"soup":      {Name: "Goulash Soup", PriceCents: 850},
		"lemonade":  {Name: "House Lemonade", PriceCents: 450},
		"apple_pie": {Name: "Apple Pie", PriceCents: 650},
	}}
	svc := NewService(repo, menu, shared.NewActivityLogger(), slog.New(slog.NewTextHandler(io.Discard, nil)),
		decimal.RequireFromString("8.25"), 48*time.Hour)
	return svc, repo
}

func TestSubmitPricesFromMenu(t *testing.T) {
	svc, repo := newOrderFixture()

	order, err := svc.SubmitGuestOrder(context.Background(), 1, SubmitRequest{
		GuestName: "Ada Lindgren",
		Items: []SubmitItem{
			{MenuRef: "sandwich", Quantity: 2},
			{MenuRef: "lemonade", Quantity: 1},
		},
		Notes: "no onions",
	})
	require.NoError(t, err)
	require.Len(t, order.Guests, 1)
	require.Equal(t, "Alpine Sandwich", order.Guests[0].Items[0].Name)
	require.Equal(t, money.Cents(1250), order.Guests[0].Items[0].UnitPriceCents)

	// 2x1250 + 450 = 2950; 8.25% tax is 243.375, rounded to 243.
	require.Equal(t, money.Cents(2950), order.SubtotalCents)
	require.Equal(t, money.TaxOn(2950, decimal.RequireFromString("8.25")), order.TaxCents)
	require.Equal(t, order.SubtotalCents+order.TaxCents, order.TotalCents)

	require.Equal(t, []string{"order.guest_submitted"}, repo.activity.actions)
}

func TestResubmissionReplacesGuestEntry(t *testing.T) {
	svc, _ := newOrderFixture()

	_, err := svc.SubmitGuestOrder(context.Background(), 1, SubmitRequest{
		GuestName: "Ada Lindgren",
		Items:     []SubmitItem{{MenuRef: "sandwich", Quantity: 3}},
	})
	require.NoError(t, err)

	order, err := svc.SubmitGuestOrder(context.Background(), 1, SubmitRequest{
		GuestName: "Ada Lindgren",
		Items:     []SubmitItem{{MenuRef: "soup", Quantity: 1}},
	})
	require.NoError(t, err)

	// The whole previous submission is gone, not merged.
	require.Len(t, order.Guests, 1)
	require.Len(t, order.Guests[0].Items, 1)
	require.Equal(t, "soup", order.Guests[0].Items[0].MenuRef)
	require.Equal(t, money.Cents(850), order.SubtotalCents)
}

func TestSubmissionsFromDifferentGuestsAccumulate(t *testing.T) {
	svc, _ := newOrderFixture()

	_, err := svc.SubmitGuestOrder(context.Background(), 1, SubmitRequest{
		GuestName: "Ada Lindgren",
		Items:     []SubmitItem{{MenuRef: "sandwich", Quantity: 1}},
	})
	require.NoError(t, err)

	order, err := svc.SubmitGuestOrder(context.Background(), 1, SubmitRequest{
		GuestName: "Ben Okafor",
		Items:     []SubmitItem{{MenuRef: "apple_pie", Quantity: 2}},
	})
	require.NoError(t, err)

	require.Len(t, order.Guests, 2)
	require.Equal(t, money.Cents(1250+2*650), order.SubtotalCents)
}

func TestConcurrentSubmissionsBothSurvive(t *testing.T) {
	svc, repo := newOrderFixture()

	// Two guests submit at the same moment. The repository mock serializes
	// the two aggregation transactions the way the row lock does, so the
	// second merge starts from the first one's committed state and neither
	// submission is lost.
	submissions := []SubmitRequest{
		{GuestName: "Ada Lindgren", Items: []SubmitItem{{MenuRef: "sandwich", Quantity: 1}}},
		{GuestName: "Ben Okafor", Items: []SubmitItem{{MenuRef: "apple_pie", Quantity: 2}}},
	}
	errs := make([]error, len(submissions))
	var wg sync.WaitGroup
	for i, req := range submissions {
		wg.Add(1)
		go func(i int, req SubmitRequest) {
			defer wg.Done()
			_, errs[i] = svc.SubmitGuestOrder(context.Background(), 1, req)
		}(i, req)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	order, err := svc.Get(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, order.Guests, 2)
	names := []string{order.Guests[0].GuestName, order.Guests[1].GuestName}
	require.ElementsMatch(t, []string{"Ada Lindgren", "Ben Okafor"}, names)
	require.Equal(t, money.Cents(1250+2*650), order.SubtotalCents)
	require.Equal(t, []string{"order.guest_submitted", "order.guest_submitted"}, repo.activity.actions)
}

func TestSubmitRejectsUnknownMenuItem(t *testing.T) {
	svc, repo := newOrderFixture()

	_, err := svc.SubmitGuestOrder(context.Background(), 1, SubmitRequest{
		GuestName: "Ada Lindgren",
		Items:     []SubmitItem{{MenuRef: "caviar", Quantity: 1}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, repo.orders[1].Guests)
}

func TestSubmitRejectsUnknownGuest(t *testing.T) {
	svc, _ := newOrderFixture()

	_, err := svc.SubmitGuestOrder(context.Background(), 1, SubmitRequest{
		GuestName: "Walk-in Guest",
		Items:     []SubmitItem{{MenuRef: "soup", Quantity: 1}},
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSubmitRejectsFinalizedOrder(t *testing.T) {
	svc, repo := newOrderFixture()
	repo.orders[1].Status = OrderFinalized

	_, err := svc.SubmitGuestOrder(context.Background(), 1, SubmitRequest{
		GuestName: "Ada Lindgren",
		Items:     []SubmitItem{{MenuRef: "soup", Quantity: 1}},
	})
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestSubmitRejectsAfterCutoff(t *testing.T) {
	svc, repo := newOrderFixture()
	repo.departureStart = time.Now().Add(12 * time.Hour)

	_, err := svc.SubmitGuestOrder(context.Background(), 1, SubmitRequest{
		GuestName: "Ada Lindgren",
		Items:     []SubmitItem{{MenuRef: "soup", Quantity: 1}},
	})
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestSubmitRechecksStatusUnderLock(t *testing.T) {
	svc, repo := newOrderFixture()
	repo.onLock = func(o *Order) {
		o.Status = OrderFinalized
	}

	_, err := svc.SubmitGuestOrder(context.Background(), 1, SubmitRequest{
		GuestName: "Ada Lindgren",
		Items:     []SubmitItem{{MenuRef: "soup", Quantity: 1}},
	})
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Empty(t, repo.orders[1].Guests)
}
