package notify

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
)

// Envelope is one outbound email as handed to a mail transport.
type Envelope struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// Transport delivers envelopes to an external mail system.
type Transport interface {
	Send(ctx context.Context, env Envelope) error
}

// LogTransport writes envelopes to the application log instead of sending
// them. It is meant for local development.
type LogTransport struct {
	Logger *logrus.Logger
}

func NewLogTransport(logger *logrus.Logger) *LogTransport {
	if logger == nil {
		logger = logrus.New()
	}
	return &LogTransport{Logger: logger}
}

func (t *LogTransport) Send(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.Logger.WithFields(logrus.Fields{
		"from":    env.From,
		"to":      strings.Join(env.To, ","),
		"subject": env.Subject,
	}).Info(env.Body)
	return nil
}

var _ Transport = (*LogTransport)(nil)
