package notify

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"

	"eventhub/internal/storage"
)

// PickupTransport drops RFC 5322 messages into an object storage bucket that
// an external mail relay picks up and delivers.
type PickupTransport struct {
	store  storage.Service
	bucket string
	prefix string
	now    func() time.Time
}

func NewPickupTransport(store storage.Service, bucket, prefix string) *PickupTransport {
	return &PickupTransport{
		store:  store,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		now:    time.Now,
	}
}

func (t *PickupTransport) Send(ctx context.Context, env Envelope) error {
	if len(env.To) == 0 {
		return fmt.Errorf("at least one recipient is required")
	}
	now := t.now().UTC()
	id := uuid.NewString()

	key := fmt.Sprintf("%s/%s.eml", now.Format("2006/01/02"), id)
	if t.prefix != "" {
		key = t.prefix + "/" + key
	}

	body := formatMessage(env, id, now)
	if _, err := t.store.Put(ctx, key, bytes.NewReader(body), storage.PutOptions{
		Bucket:      t.bucket,
		ContentType: "message/rfc822",
	}); err != nil {
		return fmt.Errorf("drop message: %w", err)
	}
	return nil
}

func formatMessage(env Envelope, id string, date time.Time) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", env.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(env.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", env.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", date.Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: <%s@eventhub>\r\n", id)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(env.Body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return b.Bytes()
}

var _ Transport = (*PickupTransport)(nil)
