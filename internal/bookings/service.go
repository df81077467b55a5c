package bookings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/meridian-tours/meridian/internal/gateway"
	"github.com/meridian-tours/meridian/internal/notify"
	"github.com/meridian-tours/meridian/internal/proposals"
	"github.com/meridian-tours/meridian/internal/shared"
)

// Service turns a confirmed payment into a booking exactly once. Both the
// customer redirect handler and the gateway webhook call ConfirmPayment,
// possibly concurrently and with retries; the conditional deposit-flag
// update is the sole concurrency control for the conversion.
type Service struct {
	repo      Repository
	proposals proposals.Repository
	gateways  *gateway.Registry
	activity  *shared.ActivityLogger
	notifier  notify.Notifier
	logger    *slog.Logger
}

// NewService constructs the conversion service.
func NewService(
	repo Repository,
	proposalRepo proposals.Repository,
	gateways *gateway.Registry,
	activity *shared.ActivityLogger,
	notifier notify.Notifier,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:      repo,
		proposals: proposalRepo,
		gateways:  gateways,
		activity:  activity,
		notifier:  notifier,
		logger:    logger,
	}
}

// ConfirmPayment verifies the gateway authorization and atomically converts
// the proposal into a booking. Calling it twice with the same arguments is
// safe: the second call returns the existing booking.
//
// The gateway lookup happens before the transaction opens; no database lock
// is ever held across a network call.
func (s *Service) ConfirmPayment(ctx context.Context, req ConfirmPaymentRequest) (*ConfirmPaymentResult, error) {
	proposal, err := s.findProposal(ctx, req.ProposalRef)
	if err != nil {
		return nil, err
	}

	if proposal.ConvertedBookingID != nil {
		booking, err := s.repo.GetBooking(ctx, *proposal.ConvertedBookingID)
		if err != nil {
			return nil, fmt.Errorf("load converted booking: %w", err)
		}
		return &ConfirmPaymentResult{
			BookingID:        booking.ID,
			BookingNumber:    booking.Number,
			AlreadyConverted: true,
		}, nil
	}

	client, err := s.gateways.For(proposal.Brand)
	if err != nil {
		return nil, err
	}

	auth, err := client.GetAuthorization(ctx, req.AuthorizationRef)
	if err != nil {
		// Retryable gateway failures surface to the caller; retrying is
		// the transport layer's decision, never re-attempted in here.
		return nil, fmt.Errorf("verify authorization: %w", err)
	}
	if auth.Status != gateway.StatusSucceeded {
		return nil, shared.Conflictf("authorization %s is %s, not succeeded", auth.Ref, auth.Status)
	}
	if auth.Metadata["proposal_id"] != strconv.FormatInt(proposal.ID, 10) {
		return nil, shared.Validationf("authorization %s does not reference proposal %s", auth.Ref, proposal.Number)
	}

	var (
		result  ConfirmPaymentResult
		claimed bool
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		claimed, err = repo.ClaimConversion(ctx, proposal.ID, auth.Ref)
		if err != nil {
			return fmt.Errorf("claim conversion: %w", err)
		}
		if !claimed {
			// Another request won the race. Create nothing; the booking
			// is read after this transaction from a fresh snapshot.
			return nil
		}

		number, err := repo.NextBookingNumber(ctx, time.Now().Year())
		if err != nil {
			return fmt.Errorf("next booking number: %w", err)
		}

		booking := Booking{
			Number:           number,
			ProposalID:       proposal.ID,
			Brand:            proposal.Brand,
			Currency:         proposal.Currency,
			TotalCents:       proposal.TotalCents,
			DepositCents:     proposal.DepositCents,
			DepositPaidCents: auth.Amount,
			FinalPaymentDue:  !proposal.SkipDeposit,
			CustomerName:     proposal.CustomerName,
			CustomerEmail:    proposal.CustomerEmail,
		}
		bookingID, err := repo.InsertBooking(ctx, booking)
		if err != nil {
			return fmt.Errorf("insert booking: %w", err)
		}
		if err := repo.SetConvertedBookingID(ctx, proposal.ID, bookingID); err != nil {
			return fmt.Errorf("link booking: %w", err)
		}

		paymentType := PaymentTypeDeposit
		if proposal.SkipDeposit {
			paymentType = PaymentTypeFinal
		}
		if _, err := repo.InsertPayment(ctx, Payment{
			ProposalID: &proposal.ID,
			BookingID:  &bookingID,
			GatewayRef: auth.Ref,
			Amount:     auth.Amount,
			Currency:   proposal.Currency,
			Type:       paymentType,
			Status:     gateway.StatusSucceeded,
		}); err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}

		if err := s.activity.Record(ctx, repo.Exec(), shared.ActivityEntry{
			ActorType: shared.ActorSystem,
			Action:    "payment.confirmed",
			Entity:    "proposal",
			EntityID:  strconv.FormatInt(proposal.ID, 10),
			Meta: map[string]any{
				"booking_id":     bookingID,
				"booking_number": number,
				"gateway_ref":    auth.Ref,
				"amount_cents":   int64(auth.Amount),
			},
		}); err != nil {
			return fmt.Errorf("record activity: %w", err)
		}

		result = ConfirmPaymentResult{BookingID: bookingID, BookingNumber: number}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !claimed {
		booking, err := s.repo.GetBookingByProposal(ctx, proposal.ID)
		if err != nil {
			return nil, fmt.Errorf("load booking after concurrent conversion: %w", err)
		}
		return &ConfirmPaymentResult{
			BookingID:        booking.ID,
			BookingNumber:    booking.Number,
			AlreadyConverted: true,
		}, nil
	}

	// Dispatched strictly after commit so a rolled-back conversion never
	// notifies, and no lock is held during the enqueue.
	s.notifier.Notify(ctx, notify.EventBookingConfirmed, proposal.CustomerEmail, map[string]any{
		"booking_number":  result.BookingNumber,
		"proposal_number": proposal.Number,
	})

	return &result, nil
}

// GetBooking returns a booking by id.
func (s *Service) GetBooking(ctx context.Context, id int64) (*Booking, error) {
	return s.repo.GetBooking(ctx, id)
}

func (s *Service) findProposal(ctx context.Context, ref string) (*proposals.Proposal, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		p, err := s.proposals.Get(ctx, id)
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return nil, err
		}
		if p != nil {
			return p, nil
		}
	}
	return s.proposals.GetByNumber(ctx, ref)
}
