package orders

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-tours/meridian/internal/money"
	"github.com/meridian-tours/meridian/internal/shared"
)

// Service merges per-guest submissions into the shared order. All
// coordination runs through the order row lock: concurrent guests are
// serialized, and the second writer reads the first one's already-merged
// state.
type Service struct {
	repo     Repository
	menu     Menu
	activity *shared.ActivityLogger
	logger   *slog.Logger

	taxRate decimal.Decimal
	cutoff  time.Duration
}

// NewService constructs the aggregator. taxRate is a percentage (8.25 for
// 8.25%); cutoff is how long before departure start ordering closes.
func NewService(repo Repository, menu Menu, activity *shared.ActivityLogger, logger *slog.Logger, taxRate decimal.Decimal, cutoff time.Duration) *Service {
	return &Service{
		repo:     repo,
		menu:     menu,
		activity: activity,
		logger:   logger,
		taxRate:  taxRate,
		cutoff:   cutoff,
	}
}

// Get returns the order aggregate.
func (s *Service) Get(ctx context.Context, id int64) (*Order, error) {
	return s.repo.GetOrder(ctx, id)
}

// SubmitGuestOrder replaces the guest's entry in the shared order and
// recomputes totals atomically. Input validation and the menu lookup run
// before the transaction opens, so no lock is taken for invalid input and
// no network-ish work happens under the lock.
func (s *Service) SubmitGuestOrder(ctx context.Context, orderID int64, req SubmitRequest) (*Order, error) {
	refs := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		refs = append(refs, item.MenuRef)
	}
	menuItems, err := s.menu.GetItems(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("lookup menu prices: %w", err)
	}
	for _, item := range req.Items {
		if _, ok := menuItems[item.MenuRef]; !ok {
			return nil, shared.Validationf("unknown menu item %q", item.MenuRef)
		}
	}

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.checkOpen(ctx, order); err != nil {
		return nil, err
	}

	onDeparture, err := s.repo.GuestOnDeparture(ctx, order.DepartureID, req.GuestName)
	if err != nil {
		return nil, fmt.Errorf("verify guest: %w", err)
	}
	if !onDeparture {
		return nil, fmt.Errorf("%w: guest %q is not on this departure", shared.ErrNotFound, req.GuestName)
	}

	submission := GuestOrder{
		GuestName:   req.GuestName,
		Notes:       req.Notes,
		SubmittedAt: time.Now().UTC(),
	}
	for _, item := range req.Items {
		menuItem := menuItems[item.MenuRef]
		submission.Items = append(submission.Items, OrderItem{
			MenuRef:        item.MenuRef,
			Name:           menuItem.Name,
			Quantity:       item.Quantity,
			UnitPriceCents: menuItem.PriceCents,
		})
	}

	var updated *Order
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		locked, err := repo.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		// Re-check under the lock: the order may have been finalized
		// between the pre-check and lock acquisition.
		if locked.Status != OrderDraft && locked.Status != OrderSubmitted {
			return shared.Conflictf("order %d is %s, guest submissions are closed", locked.ID, locked.Status)
		}

		merged := make([]GuestOrder, 0, len(locked.Guests)+1)
		for _, g := range locked.Guests {
			if g.GuestName != req.GuestName {
				merged = append(merged, g)
			}
		}
		merged = append(merged, submission)
		locked.Guests = merged
		s.recomputeTotals(locked)

		if err := repo.SaveAggregate(ctx, locked); err != nil {
			return fmt.Errorf("save order: %w", err)
		}

		if err := s.activity.Record(ctx, repo.Exec(), shared.ActivityEntry{
			ActorType: shared.ActorCustomer,
			ActorRef:  req.GuestName,
			Action:    "order.guest_submitted",
			Entity:    "order",
			EntityID:  strconv.FormatInt(orderID, 10),
			Meta: map[string]any{
				"items":          len(submission.Items),
				"subtotal_cents": int64(locked.SubtotalCents),
			},
		}); err != nil {
			return fmt.Errorf("record activity: %w", err)
		}

		updated = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// recomputeTotals derives subtotal, tax and total from the full guest list.
// Totals are a pure function of the list; they are never edited directly.
func (s *Service) recomputeTotals(o *Order) {
	var subtotal money.Cents
	for _, guest := range o.Guests {
		for _, item := range guest.Items {
			subtotal += item.UnitPriceCents.Mul(item.Quantity)
		}
	}
	o.SubtotalCents = subtotal
	o.TaxCents = money.TaxOn(subtotal, s.taxRate)
	o.TotalCents = subtotal + o.TaxCents
}

// checkOpen verifies the order is editable and the cutoff has not passed.
// The cutoff is evaluated against the departure's start time at call time,
// never cached.
func (s *Service) checkOpen(ctx context.Context, order *Order) error {
	if order.Status != OrderDraft && order.Status != OrderSubmitted {
		return shared.Conflictf("order %d is %s, guest submissions are closed", order.ID, order.Status)
	}
	startsAt, err := s.repo.DepartureStart(ctx, order.DepartureID)
	if err != nil {
		return fmt.Errorf("load departure start: %w", err)
	}
	deadline := startsAt.Add(-s.cutoff)
	if !time.Now().Before(deadline) {
		return shared.Conflictf("ordering closed at %s, %s before departure",
			deadline.Format(time.RFC3339), s.cutoff)
	}
	return nil
}
