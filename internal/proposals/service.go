package proposals

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/meridian-tours/meridian/internal/notify"
	"github.com/meridian-tours/meridian/internal/shared"
)

// Service owns the proposal status state machine. The conversion to a
// booking is the one transition it does not perform; that belongs to the
// bookings conversion service.
type Service struct {
	repo       Repository
	activity   *shared.ActivityLogger
	notifier   notify.Notifier
	adminEmail string
	logger     *slog.Logger
}

// NewService constructs the lifecycle service. Declines are reported to
// adminEmail so sales can follow up on the structured reason.
func NewService(repo Repository, activity *shared.ActivityLogger, notifier notify.Notifier, adminEmail string, logger *slog.Logger) *Service {
	return &Service{repo: repo, activity: activity, notifier: notifier, adminEmail: adminEmail, logger: logger}
}

// Get returns the proposal, applying lazy expiry first: a non-terminal
// proposal whose valid_until has passed transitions to expired on read.
func (s *Service) Get(ctx context.Context, id int64) (*Proposal, error) {
	return s.resolve(ctx, id)
}

// GetByNumber resolves a proposal by its human-readable number.
func (s *Service) GetByNumber(ctx context.Context, number string) (*Proposal, error) {
	p, err := s.repo.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	return s.resolve(ctx, p.ID)
}

// Send transitions draft -> sent.
func (s *Service) Send(ctx context.Context, id int64) (*Proposal, error) {
	p, err := s.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusDraft {
		return nil, shared.Conflictf("proposal %s is %s, only draft proposals can be sent", p.Number, p.Status)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		ok, err := repo.MarkSent(ctx, id)
		if err != nil {
			return fmt.Errorf("mark sent: %w", err)
		}
		if !ok {
			return shared.Conflictf("proposal %s changed concurrently", p.Number)
		}
		return s.record(ctx, repo, shared.ActorAdmin, "", "proposal.sent", id, nil)
	})
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// MarkViewed transitions sent -> viewed when the customer opens the quote.
// Repeat views are a no-op, not an error.
func (s *Service) MarkViewed(ctx context.Context, id int64) (*Proposal, error) {
	p, err := s.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusSent {
		return p, nil
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		ok, err := repo.MarkViewed(ctx, id)
		if err != nil {
			return fmt.Errorf("mark viewed: %w", err)
		}
		if !ok {
			// Lost a race with another view or transition; nothing to log.
			return nil
		}
		return s.record(ctx, repo, shared.ActorCustomer, "", "proposal.viewed", id, nil)
	})
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// Accept transitions sent|viewed -> accepted. It requires valid_until in
// the future and records actor type, signature payload for customer
// acceptances, and source IP.
func (s *Service) Accept(ctx context.Context, id int64, req AcceptRequest) (*Proposal, error) {
	p, err := s.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.guardTransition(p, "accepted"); err != nil {
		return nil, err
	}
	if req.ActorType == shared.ActorCustomer && req.SignatureName == "" {
		return nil, shared.Validationf("customer acceptance requires a signature")
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		ok, err := repo.Accept(ctx, id, req)
		if err != nil {
			return fmt.Errorf("accept proposal: %w", err)
		}
		if !ok {
			return shared.Conflictf("proposal %s can no longer be accepted", p.Number)
		}
		return s.record(ctx, repo, req.ActorType, req.SourceIP, "proposal.accepted", id, map[string]any{
			"signature": req.SignatureName,
		})
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, notify.EventProposalAccepted, p.CustomerEmail, map[string]any{
		"proposal_number": p.Number,
	})
	return s.repo.Get(ctx, id)
}

// Decline transitions sent|viewed -> declined with a structured reason.
func (s *Service) Decline(ctx context.Context, id int64, req DeclineRequest) (*Proposal, error) {
	p, err := s.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.guardTransition(p, "declined"); err != nil {
		return nil, err
	}
	if len(req.Reason) < 10 {
		return nil, shared.Validationf("decline reason must be at least 10 characters")
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		ok, err := repo.Decline(ctx, id, req)
		if err != nil {
			return fmt.Errorf("decline proposal: %w", err)
		}
		if !ok {
			return shared.Conflictf("proposal %s can no longer be declined", p.Number)
		}
		return s.record(ctx, repo, shared.ActorCustomer, req.SourceIP, "proposal.declined", id, map[string]any{
			"category":        req.Category,
			"reason":          req.Reason,
			"desired_changes": req.DesiredChanges,
		})
	})
	if err != nil {
		return nil, err
	}

	// Declines are an internal signal, not a customer receipt.
	s.notifier.Notify(ctx, notify.EventProposalDeclined, s.adminEmail, map[string]any{
		"proposal_number": p.Number,
		"customer_email":  p.CustomerEmail,
		"category":        req.Category,
	})
	return s.repo.Get(ctx, id)
}

func (s *Service) guardTransition(p *Proposal, target string) error {
	if p.Status.Terminal() {
		return shared.Conflictf("proposal %s is already %s", p.Number, p.Status)
	}
	if p.Status != StatusSent && p.Status != StatusViewed {
		return shared.Conflictf("proposal %s is %s and cannot be %s", p.Number, p.Status, target)
	}
	if !p.ValidUntil.After(time.Now()) {
		return shared.Conflictf("proposal %s expired on %s", p.Number, p.ValidUntil.Format("2006-01-02"))
	}
	return nil
}

// resolve loads the proposal and applies lazy expiry. The expiry update is
// conditional on valid_until, so two concurrent readers produce exactly one
// expiry transition and one activity row.
func (s *Service) resolve(ctx context.Context, id int64) (*Proposal, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status.Terminal() || p.ValidUntil.After(time.Now()) {
		return p, nil
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		ok, err := repo.Expire(ctx, id)
		if err != nil {
			return fmt.Errorf("expire proposal: %w", err)
		}
		if !ok {
			return nil
		}
		return s.record(ctx, repo, shared.ActorSystem, "", "proposal.expired", id, nil)
	})
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) record(ctx context.Context, repo Repository, actorType, actorRef, action string, id int64, meta map[string]any) error {
	return s.activity.Record(ctx, repo.Exec(), shared.ActivityEntry{
		ActorType: actorType,
		ActorRef:  actorRef,
		Action:    action,
		Entity:    "proposal",
		EntityID:  strconv.FormatInt(id, 10),
		Meta:      meta,
	})
}
