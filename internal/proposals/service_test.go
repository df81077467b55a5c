package proposals

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/meridian-tours/meridian/internal/notify"
	"github.com/meridian-tours/meridian/internal/shared"
)

type memoryProposalRepo struct {
	proposals map[int64]*Proposal
	activity  *recordingExecer
}

func newMemoryProposalRepo() *memoryProposalRepo {
	return &memoryProposalRepo{
		proposals: make(map[int64]*Proposal),
		activity:  &recordingExecer{},
	}
}

type recordingExecer struct {
	actions []string
}

func (e *recordingExecer) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	// args[2] is the action column of the activity insert.
	if len(args) > 2 {
		if action, ok := args[2].(string); ok {
			e.actions = append(e.actions, action)
		}
	}
	return pgconn.CommandTag{}, nil
}

func (r *memoryProposalRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, r)
}

func (r *memoryProposalRepo) Exec() shared.Execer { return r.activity }

func (r *memoryProposalRepo) Get(ctx context.Context, id int64) (*Proposal, error) {
	p, ok := r.proposals[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (r *memoryProposalRepo) GetByNumber(ctx context.Context, number string) (*Proposal, error) {
	for _, p := range r.proposals {
		if p.Number == number {
			clone := *p
			return &clone, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *memoryProposalRepo) MarkSent(ctx context.Context, id int64) (bool, error) {
	p, ok := r.proposals[id]
	if !ok || p.Status != StatusDraft {
		return false, nil
	}
	p.Status = StatusSent
	return true, nil
}

func (r *memoryProposalRepo) MarkViewed(ctx context.Context, id int64) (bool, error) {
	p, ok := r.proposals[id]
	if !ok || p.Status != StatusSent {
		return false, nil
	}
	p.Status = StatusViewed
	return true, nil
}

func (r *memoryProposalRepo) Accept(ctx context.Context, id int64, req AcceptRequest) (bool, error) {
	p, ok := r.proposals[id]
	if !ok || (p.Status != StatusSent && p.Status != StatusViewed) || !p.ValidUntil.After(time.Now()) {
		return false, nil
	}
	now := time.Now()
	p.Status = StatusAccepted
	p.AcceptedAt = &now
	p.AcceptedBy = &req.ActorType
	if req.SignatureName != "" {
		p.SignatureName = &req.SignatureName
	}
	return true, nil
}

func (r *memoryProposalRepo) Decline(ctx context.Context, id int64, req DeclineRequest) (bool, error) {
	p, ok := r.proposals[id]
	if !ok || (p.Status != StatusSent && p.Status != StatusViewed) {
		return false, nil
	}
	now := time.Now()
	p.Status = StatusDeclined
	p.DeclinedAt = &now
	p.DeclineCategory = &req.Category
	p.DeclineReason = &req.Reason
	return true, nil
}

func (r *memoryProposalRepo) Expire(ctx context.Context, id int64) (bool, error) {
	p, ok := r.proposals[id]
	if !ok || p.Status.Terminal() || p.ValidUntil.After(time.Now()) {
		return false, nil
	}
	p.Status = StatusExpired
	return true, nil
}

type recordingNotifier struct {
	events     []string
	recipients []string
}

func (n *recordingNotifier) Notify(ctx context.Context, event, recipient string, data map[string]any) {
	n.events = append(n.events, event)
	n.recipients = append(n.recipients, recipient)
}

const testAdminEmail = "sales@meridian-tours.example"

func newProposalService(repo *memoryProposalRepo) (*Service, *recordingNotifier) {
	notifier := &recordingNotifier{}
	svc := NewService(repo, shared.NewActivityLogger(), notifier, testAdminEmail, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return svc, notifier
}

func seedProposal(repo *memoryProposalRepo, status ProposalStatus, validUntil time.Time) *Proposal {
	p := &Proposal{
		ID:            1,
		Number:        "PR-2026-0001",
		Brand:         "alpine",
		Status:        status,
		Currency:      "USD",
		TotalCents:    375000,
		DepositCents:  75000,
		ValidUntil:    validUntil,
		CustomerName:  "Ada Lindgren",
		CustomerEmail: "ada@example.com",
	}
	repo.proposals[p.ID] = p
	return p
}

func TestSendTransitionsDraft(t *testing.T) {
	repo := newMemoryProposalRepo()
	seedProposal(repo, StatusDraft, time.Now().Add(72*time.Hour))
	svc, _ := newProposalService(repo)

	p, err := svc.Send(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, StatusSent, p.Status)
	require.Equal(t, []string{"proposal.sent"}, repo.activity.actions)
}

func TestSendRejectsNonDraft(t *testing.T) {
	repo := newMemoryProposalRepo()
	seedProposal(repo, StatusViewed, time.Now().Add(72*time.Hour))
	svc, _ := newProposalService(repo)

	_, err := svc.Send(context.Background(), 1)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestMarkViewedIsIdempotent(t *testing.T) {
	repo := newMemoryProposalRepo()
	seedProposal(repo, StatusSent, time.Now().Add(72*time.Hour))
	svc, _ := newProposalService(repo)

	p, err := svc.MarkViewed(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, StatusViewed, p.Status)

	// A second view is a no-op, not an error, and logs nothing new.
	p, err = svc.MarkViewed(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, StatusViewed, p.Status)
	require.Equal(t, []string{"proposal.viewed"}, repo.activity.actions)
}

func TestAcceptRequiresCustomerSignature(t *testing.T) {
	repo := newMemoryProposalRepo()
	seedProposal(repo, StatusViewed, time.Now().Add(72*time.Hour))
	svc, _ := newProposalService(repo)

	_, err := svc.Accept(context.Background(), 1, AcceptRequest{ActorType: shared.ActorCustomer})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestAcceptRecordsSignatureAndNotifies(t *testing.T) {
	repo := newMemoryProposalRepo()
	seedProposal(repo, StatusViewed, time.Now().Add(72*time.Hour))
	svc, notifier := newProposalService(repo)

	p, err := svc.Accept(context.Background(), 1, AcceptRequest{
		ActorType:     shared.ActorCustomer,
		SignatureName: "Ada Lindgren",
		SourceIP:      "203.0.113.7",
	})
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, p.Status)
	require.NotNil(t, p.SignatureName)
	require.Equal(t, "Ada Lindgren", *p.SignatureName)
	require.Equal(t, []string{notify.EventProposalAccepted}, notifier.events)
	require.Equal(t, []string{"ada@example.com"}, notifier.recipients)
	require.Equal(t, []string{"proposal.accepted"}, repo.activity.actions)
}

func TestAcceptAdminSkipsSignature(t *testing.T) {
	repo := newMemoryProposalRepo()
	seedProposal(repo, StatusSent, time.Now().Add(72*time.Hour))
	svc, _ := newProposalService(repo)

	p, err := svc.Accept(context.Background(), 1, AcceptRequest{ActorType: shared.ActorAdmin})
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, p.Status)
}

func TestAcceptRejectsTerminal(t *testing.T) {
	repo := newMemoryProposalRepo()
	seedProposal(repo, StatusDeclined, time.Now().Add(72*time.Hour))
	svc, _ := newProposalService(repo)

	_, err := svc.Accept(context.Background(), 1, AcceptRequest{ActorType: shared.ActorAdmin})
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestLazyExpiryFiresOnce(t *testing.T) {
	repo := newMemoryProposalRepo()
	seedProposal(repo, StatusSent, time.Now().Add(-time.Hour))
	svc, _ := newProposalService(repo)

	p, err := svc.Get(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, StatusExpired, p.Status)

	p, err = svc.Get(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, StatusExpired, p.Status)
	require.Equal(t, []string{"proposal.expired"}, repo.activity.actions)
}

func TestAcceptExpiredProposalConflicts(t *testing.T) {
	repo := newMemoryProposalRepo()
	seedProposal(repo, StatusViewed, time.Now().Add(-time.Hour))
	svc, _ := newProposalService(repo)

	_, err := svc.Accept(context.Background(), 1, AcceptRequest{ActorType: shared.ActorAdmin})
	require.ErrorIs(t, err, shared.ErrConflict)

	p, err := svc.Get(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, StatusExpired, p.Status)
}

func TestDeclineRequiresReason(t *testing.T) {
	repo := newMemoryProposalRepo()
	seedProposal(repo, StatusViewed, time.Now().Add(72*time.Hour))
	svc, _ := newProposalService(repo)

	_, err := svc.Decline(context.Background(), 1, DeclineRequest{Category: "price", Reason: "too much"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestDeclineRecordsStructuredReason(t *testing.T) {
	repo := newMemoryProposalRepo()
	seedProposal(repo, StatusSent, time.Now().Add(72*time.Hour))
	svc, notifier := newProposalService(repo)

	p, err := svc.Decline(context.Background(), 1, DeclineRequest{
		Category: "dates",
		Reason:   "departure clashes with a family wedding",
	})
	require.NoError(t, err)
	require.Equal(t, StatusDeclined, p.Status)
	require.NotNil(t, p.DeclineCategory)
	require.Equal(t, "dates", *p.DeclineCategory)
	require.Equal(t, []string{notify.EventProposalDeclined}, notifier.events)
	// The decline report goes to the sales inbox, not the customer.
	require.Equal(t, []string{testAdminEmail}, notifier.recipients)
}

func TestGetUnknownProposal(t *testing.T) {
	repo := newMemoryProposalRepo()
	svc, _ := newProposalService(repo)

	_, err := svc.Get(context.Background(), 42)
	require.True(t, errors.Is(err, shared.ErrNotFound))
}
