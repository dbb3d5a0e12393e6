// Package notify turns domain triggers into outbound email. Every message is
// written to the notification outbox first and then delivered either by the
// background dispatcher or inline, depending on configuration. Delivery is
// best effort: failures come back as warnings and never undo the change that
// triggered them.
package notify

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"eventhub/internal/domain"
	"eventhub/internal/repository"
)

// Publisher accepts batches of notification intents.
type Publisher interface {
	Publish(ctx context.Context, batch Batch) []string
}

type Notifier struct {
	outbox     repository.NotificationRepository
	dispatcher Dispatcher
	async      bool
	logger     *logrus.Logger
}

func NewNotifier(outbox repository.NotificationRepository, dispatcher Dispatcher, async bool, logger *logrus.Logger) *Notifier {
	if logger == nil {
		logger = logrus.New()
	}
	return &Notifier{
		outbox:     outbox,
		dispatcher: dispatcher,
		async:      async,
		logger:     logger,
	}
}

// Publish records each message in the outbox and dispatches it. One
// recipient failing does not stop the others. The returned warnings describe
// every message that could not be queued or, in synchronous mode, delivered.
func (n *Notifier) Publish(ctx context.Context, batch Batch) []string {
	var warnings []string
	for _, msg := range batch {
		record := &domain.Notification{
			Kind:      msg.Kind,
			Recipient: msg.Recipient,
			Subject:   msg.Subject,
			Body:      msg.Body,
			Status:    domain.NotificationStatusPending,
		}
		if _, err := n.outbox.Create(ctx, record); err != nil {
			n.logger.WithField("kind", msg.Kind).Errorf("queue notification: %v", err)
			warnings = append(warnings, fmt.Sprintf("queue notification to %s: %v", msg.Recipient, err))
			continue
		}

		if n.async {
			if err := n.dispatcher.Enqueue(ctx, record.ID); err != nil {
				// the row stays pending and is picked up by the next Resume
				n.logger.WithField("notification_id", record.ID).Warnf("enqueue: %v", err)
				warnings = append(warnings, fmt.Sprintf("schedule notification to %s: %v", msg.Recipient, err))
			}
			continue
		}

		if err := n.dispatcher.Deliver(ctx, record); err != nil {
			warnings = append(warnings, fmt.Sprintf("deliver notification to %s: %v", msg.Recipient, err))
		}
	}
	return warnings
}

var _ Publisher = (*Notifier)(nil)
