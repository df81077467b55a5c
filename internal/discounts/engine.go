package discounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/meridian-tours/meridian/internal/gateway"
	"github.com/meridian-tours/meridian/internal/money"
	"github.com/meridian-tours/meridian/internal/notify"
	"github.com/meridian-tours/meridian/internal/shared"
)

// Engine applies a one-time discount to a departure and issues itemized
// partial refunds to every already-paid ticket. Refunds are attempted
// independently per ticket; a failure on one never aborts the others,
// except for gateway credential failures, which would fail identically for
// every remaining ticket.
type Engine struct {
	repo     Repository
	gateways *gateway.Registry
	activity *shared.ActivityLogger
	notifier notify.Notifier
	logger   *slog.Logger
}

// NewEngine constructs the engine.
func NewEngine(repo Repository, gateways *gateway.Registry, activity *shared.ActivityLogger, notifier notify.Notifier, logger *slog.Logger) *Engine {
	return &Engine{repo: repo, gateways: gateways, activity: activity, notifier: notifier, logger: logger}
}

// PreviewOrApply computes the discount. Without req.Confirmed it is a pure
// computation with no side effects, even on error; with it, the departure
// is re-priced and refunds are issued.
func (e *Engine) PreviewOrApply(ctx context.Context, departureID int64, req Request) (*Report, error) {
	departure, err := e.repo.GetDeparture(ctx, departureID)
	if err != nil {
		return nil, err
	}
	if departure.DiscountApplied {
		return nil, shared.Conflictf("departure %s already has a discount applied", departure.Code)
	}

	tickets, err := e.repo.ListTickets(ctx, departureID)
	if err != nil {
		return nil, err
	}

	report, err := e.compute(departure, tickets, req)
	if err != nil {
		return nil, err
	}

	if !req.Confirmed {
		report.Departure = departure
		return report, nil
	}
	return e.apply(ctx, departure, tickets, req, report)
}

// compute builds the preview: new price tiers and one planned outcome per
// non-cancelled ticket. It never mutates state.
func (e *Engine) compute(departure *Departure, tickets []Ticket, req Request) (*Report, error) {
	var newBase, newLunch money.Cents
	switch req.Type {
	case TypeFlat:
		if req.Amount <= 0 {
			return nil, shared.Validationf("flat discount amount must be positive")
		}
		if req.Amount >= departure.BasePriceCents {
			return nil, shared.Validationf("flat discount %s exceeds the base price %s",
				req.Amount, departure.BasePriceCents)
		}
		if req.Amount >= departure.LunchPriceCents {
			return nil, shared.Validationf("flat discount %s exceeds the lunch price %s",
				req.Amount, departure.LunchPriceCents)
		}
		newBase = departure.BasePriceCents - req.Amount
		newLunch = departure.LunchPriceCents - req.Amount
	case TypePercentage:
		pct, err := money.ParsePercent(req.Percent)
		if err != nil {
			return nil, shared.Validationf("%v", err)
		}
		newBase = money.ApplyPercentDiscount(departure.BasePriceCents, pct)
		newLunch = money.ApplyPercentDiscount(departure.LunchPriceCents, pct)
	default:
		return nil, shared.Validationf("unknown discount type %q", req.Type)
	}

	report := &Report{
		DepartureID:        departure.ID,
		CanApply:           true,
		NewBasePriceCents:  newBase,
		NewLunchPriceCents: newLunch,
	}

	for _, t := range tickets {
		outcome := TicketOutcome{
			TicketID:           t.ID,
			GuestName:          t.GuestName,
			Quantity:           t.Quantity,
			OriginalPriceCents: t.PricePerPersonCents,
		}
		if t.IncludesLunch {
			outcome.NewPriceCents = newLunch
		} else {
			outcome.NewPriceCents = newBase
		}
		switch {
		case t.Status == TicketUnpaid:
			// Unpaid guests simply pay the new price; nothing to refund.
			outcome.Outcome = OutcomeReprice
		case t.PaymentAuthorizationRef == nil:
			outcome.Outcome = OutcomeSkipped
			outcome.Warning = "paid without a payment authorization on file, refund requires manual handling"
		default:
			outcome.Outcome = OutcomeRefundDue
			outcome.RefundCents = refundFor(t, req)
			report.TotalRefundCents += outcome.RefundCents
		}
		report.Tickets = append(report.Tickets, outcome)
	}
	return report, nil
}

// refundFor computes the refund for one paid ticket. Flat discounts refund
// the fixed amount per person times quantity; percentage discounts refund
// the rounded percentage of the per-person price the guest actually paid,
// times quantity.
func refundFor(t Ticket, req Request) money.Cents {
	if req.Type == TypeFlat {
		return req.Amount.Mul(t.Quantity)
	}
	return money.PercentOf(t.PricePerPersonCents, req.Percent).Mul(t.Quantity)
}

// apply re-prices the departure first, before any refund attempt, so the
// new pricing is in force for all future purchases even if refunds
// partially fail. Partial refund failure is a reported follow-up
// condition, never a rollback trigger.
func (e *Engine) apply(ctx context.Context, departure *Departure, tickets []Ticket, req Request, report *Report) (*Report, error) {
	byID := make(map[int64]Ticket, len(tickets))
	for _, t := range tickets {
		byID[t.ID] = t
	}

	value := req.Amount.String()
	if req.Type == TypePercentage {
		value = req.Percent.String() + "%"
	}

	err := e.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		claimed, err := repo.ClaimDiscount(ctx, departure.ID, req.Type, value, req.Reason,
			report.NewBasePriceCents, report.NewLunchPriceCents)
		if err != nil {
			return fmt.Errorf("claim discount: %w", err)
		}
		if !claimed {
			return shared.Conflictf("departure %s already has a discount applied", departure.Code)
		}
		return e.activity.Record(ctx, repo.Exec(), shared.ActivityEntry{
			ActorType: shared.ActorAdmin,
			Action:    "discount.applied",
			Entity:    "departure",
			EntityID:  strconv.FormatInt(departure.ID, 10),
			Meta: map[string]any{
				"type":   req.Type,
				"value":  value,
				"reason": req.Reason,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	report.Applied = true

	client, err := e.gateways.For(departure.Brand)
	if err != nil {
		return nil, err
	}

	aborted := false
	var abortReason string
	for i := range report.Tickets {
		outcome := &report.Tickets[i]
		ticket := byID[outcome.TicketID]

		switch outcome.Outcome {
		case OutcomeSkipped:
			e.persistOutcome(ctx, outcome, "manual_required", false)
			report.Skipped++
			continue
		case OutcomeRefundDue:
		default:
			continue
		}

		if aborted {
			outcome.Outcome = OutcomeFailed
			outcome.Error = "refund not attempted: " + abortReason
			e.persistOutcome(ctx, outcome, "aborted", false)
			report.Failed++
			continue
		}

		refund, err := client.CreateRefund(ctx, gateway.RefundRequest{
			AuthorizationRef: *ticket.PaymentAuthorizationRef,
			Amount:           outcome.RefundCents,
			Metadata: map[string]string{
				"departure": departure.Code,
				"ticket_id": strconv.FormatInt(outcome.TicketID, 10),
				"reason":    req.Reason,
			},
		})
		if err != nil {
			outcome.Outcome = OutcomeFailed
			outcome.Error = err.Error()
			e.persistOutcome(ctx, outcome, "failed", false)
			report.Failed++

			var gwErr *gateway.Error
			if errors.As(err, &gwErr) && gwErr.AuthFailure() {
				// Credentials are broken for every remaining ticket too.
				aborted = true
				abortReason = gwErr.Error()
				e.logger.Error("refund loop aborted on gateway auth failure",
					slog.Int64("departure_id", departure.ID), slog.Any("error", err))
			}
			continue
		}

		outcome.Outcome = OutcomeSucceeded
		outcome.RefundID = refund.ID
		e.persistOutcome(ctx, outcome, refund.Status, true)
		report.Succeeded++

		e.notifier.Notify(ctx, notify.EventDiscountApplied, ticket.GuestEmail, map[string]any{
			"departure":    departure.Code,
			"refund_cents": int64(outcome.RefundCents),
		})
	}

	if _, err := e.repo.RepriceUnpaidTickets(ctx, departure.ID, report.NewBasePriceCents, report.NewLunchPriceCents); err != nil {
		// The departure is already re-priced; report but do not fail.
		e.logger.Error("reprice unpaid tickets",
			slog.Int64("departure_id", departure.ID), slog.Any("error", err))
	}

	updated, err := e.repo.GetDeparture(ctx, departure.ID)
	if err != nil {
		return nil, err
	}
	report.Departure = updated
	return report, nil
}

// persistOutcome records a per-ticket result on the ticket row. It runs
// regardless of the gateway outcome for that ticket, so "what happened" is
// always reconstructable from the tickets table.
func (e *Engine) persistOutcome(ctx context.Context, outcome *TicketOutcome, refundStatus string, refunded bool) {
	err := e.repo.ApplyTicketRefundResult(ctx, TicketRefundUpdate{
		TicketID:      outcome.TicketID,
		NewPriceCents: outcome.NewPriceCents,
		RefundCents:   outcome.RefundCents,
		RefundID:      outcome.RefundID,
		RefundStatus:  refundStatus,
		MarkRefunded:  refunded,
	})
	if err != nil {
		// The gateway outcome stands; surface the bookkeeping gap loudly.
		e.logger.Error("persist ticket refund result",
			slog.Int64("ticket_id", outcome.TicketID), slog.Any("error", err))
		if outcome.Error == "" {
			outcome.Error = fmt.Sprintf("refund recorded at gateway but not persisted: %v", err)
		}
	}
}
