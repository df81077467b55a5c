// Package notify hands completed-transaction events off to the background
// worker. Enqueueing happens strictly after the enclosing database
// transaction commits and never blocks or fails the core operation.
package notify

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/meridian-tours/meridian/jobs"
)

// Events dispatched by the payment core.
const (
	EventProposalAccepted = "proposal_accepted"
	EventProposalDeclined = "proposal_declined"
	EventBookingConfirmed = "booking_confirmed"
	EventDiscountApplied  = "discount_applied"
)

// Notifier dispatches fire-and-forget notifications. Implementations log
// failures and never propagate them.
type Notifier interface {
	Notify(ctx context.Context, event, recipient string, data map[string]any)
}

// AsynqNotifier enqueues notification tasks on the shared redis queue.
type AsynqNotifier struct {
	client *asynq.Client
	logger *slog.Logger
}

// NewAsynqNotifier constructs an AsynqNotifier.
func NewAsynqNotifier(client *asynq.Client, logger *slog.Logger) *AsynqNotifier {
	return &AsynqNotifier{client: client, logger: logger}
}

// Notify enqueues one notification task. Errors are logged, not returned:
// notification delivery must never fail the operation that triggered it.
func (n *AsynqNotifier) Notify(ctx context.Context, event, recipient string, data map[string]any) {
	task, err := jobs.NewNotificationTask(jobs.NotificationPayload{
		Event:     event,
		Recipient: recipient,
		Data:      data,
	})
	if err != nil {
		n.logger.Error("build notification task", slog.String("event", event), slog.Any("error", err))
		return
	}
	if _, err := n.client.EnqueueContext(ctx, task); err != nil {
		n.logger.Error("enqueue notification", slog.String("event", event), slog.Any("error", err))
	}
}
