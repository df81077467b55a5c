package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeNotification is the task type for outbound customer and
	// admin notifications.
	TaskTypeNotification = "notify:send"
)

// NotificationPayload describes one outbound notification. Delivery
// mechanics (mail/SMS templates, providers) live behind the worker.
type NotificationPayload struct {
	Event     string         `json:"event"`
	Recipient string         `json:"recipient"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewNotificationTask constructs an Asynq task for a notification.
func NewNotificationTask(payload NotificationPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeNotification, data, asynq.Queue(QueueDefault)), nil
}

// HandleNotificationTask processes TaskTypeNotification tasks.
func HandleNotificationTask(ctx context.Context, t *asynq.Task) error {
	var payload NotificationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	// Placeholder delivery: the mail provider integration is wired here.
	slog.Default().Info("deliver notification",
		slog.String("event", payload.Event),
		slog.String("recipient", payload.Recipient),
	)
	return nil
}
