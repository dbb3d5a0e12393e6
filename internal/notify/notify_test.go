package notify

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventhub/internal/domain"
	"eventhub/internal/repository"
	"eventhub/internal/storage"
)

// --- fakes ---

type memOutbox struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]domain.Notification
	failOn  string
}

func newMemOutbox() *memOutbox {
	return &memOutbox{records: make(map[int64]domain.Notification)}
}

func (m *memOutbox) Init(context.Context) error { return nil }

func (m *memOutbox) Create(_ context.Context, n *domain.Notification) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn != "" && n.Recipient == m.failOn {
		return 0, errors.New("disk full")
	}
	m.nextID++
	n.ID = m.nextID
	if n.Status == "" {
		n.Status = domain.NotificationStatusPending
	}
	m.records[n.ID] = *n
	return n.ID, nil
}

func (m *memOutbox) Get(_ context.Context, id int64) (*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &n, nil
}

func (m *memOutbox) ListByStatuses(_ context.Context, statuses ...domain.NotificationStatus) ([]domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Notification
	for id := int64(1); id <= m.nextID; id++ {
		n, ok := m.records[id]
		if !ok {
			continue
		}
		for _, s := range statuses {
			if n.Status == s {
				out = append(out, n)
			}
		}
	}
	return out, nil
}

func (m *memOutbox) MarkSent(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.records[id]
	n.Status = domain.NotificationStatusSent
	n.Attempts++
	n.SentAt = &at
	m.records[id] = n
	return nil
}

func (m *memOutbox) MarkFailed(_ context.Context, id int64, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.records[id]
	n.Status = domain.NotificationStatusFailed
	n.Attempts++
	n.LastError = msg
	m.records[id] = n
	return nil
}

func (m *memOutbox) statuses() map[string]domain.NotificationStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]domain.NotificationStatus)
	for _, n := range m.records {
		out[n.Recipient] = n.Status
	}
	return out
}

type recordingTransport struct {
	mu     sync.Mutex
	sent   []Envelope
	failTo map[string]bool
}

func (r *recordingTransport) Send(_ context.Context, env Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, to := range env.To {
		if r.failTo[to] {
			return errors.New("mailbox unavailable")
		}
	}
	r.sent = append(r.sent, env)
	return nil
}

func (r *recordingTransport) recipients() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, env := range r.sent {
		out = append(out, env.To...)
	}
	return out
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func batchFor(recipients ...string) Batch {
	var b Batch
	for _, r := range recipients {
		b = append(b, Message{Kind: domain.NotificationKindInvitation, Recipient: r, Subject: "s", Body: "b"})
	}
	return b
}

// --- dispatcher / notifier ---

func TestNotifier_SyncPartialFailure(t *testing.T) {
	outbox := newMemOutbox()
	transport := &recordingTransport{failTo: map[string]bool{"b@x.com": true}}
	d := NewDispatcher(Config{From: "noreply@x.com", Logger: quietLogger()}, outbox, transport)
	n := NewNotifier(outbox, d, false, quietLogger())

	warnings := n.Publish(context.Background(), batchFor("a@x.com", "b@x.com", "c@x.com"))

	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "b@x.com")
	assert.ElementsMatch(t, []string{"a@x.com", "c@x.com"}, transport.recipients())

	st := outbox.statuses()
	assert.Equal(t, domain.NotificationStatusSent, st["a@x.com"])
	assert.Equal(t, domain.NotificationStatusFailed, st["b@x.com"])
	assert.Equal(t, domain.NotificationStatusSent, st["c@x.com"])

	transport.mu.Lock()
	assert.Equal(t, "noreply@x.com", transport.sent[0].From)
	transport.mu.Unlock()
}

func TestNotifier_OutboxFailureSkipsOnlyThatRecipient(t *testing.T) {
	outbox := newMemOutbox()
	outbox.failOn = "a@x.com"
	transport := &recordingTransport{}
	d := NewDispatcher(Config{Logger: quietLogger()}, outbox, transport)
	n := NewNotifier(outbox, d, false, quietLogger())

	warnings := n.Publish(context.Background(), batchFor("a@x.com", "b@x.com"))
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "queue notification to a@x.com")
	assert.Equal(t, []string{"b@x.com"}, transport.recipients())
}

func TestNotifier_AsyncDelivery(t *testing.T) {
	outbox := newMemOutbox()
	transport := &recordingTransport{failTo: map[string]bool{"bad@x.com": true}}
	d := NewDispatcher(Config{MaxConcurrent: 2, Logger: quietLogger()}, outbox, transport)
	require.NoError(t, d.Start(context.Background()))
	defer d.Shutdown()

	n := NewNotifier(outbox, d, true, quietLogger())
	warnings := n.Publish(context.Background(), batchFor("a@x.com", "bad@x.com", "c@x.com", "d@x.com"))
	assert.Empty(t, warnings)

	require.Eventually(t, func() bool {
		st := outbox.statuses()
		for _, s := range st {
			if s == domain.NotificationStatusPending {
				return false
			}
		}
		return len(st) == 4
	}, 2*time.Second, 10*time.Millisecond)

	st := outbox.statuses()
	assert.Equal(t, domain.NotificationStatusFailed, st["bad@x.com"])
	assert.ElementsMatch(t, []string{"a@x.com", "c@x.com", "d@x.com"}, transport.recipients())
}

func TestNotifier_AsyncWithoutRunningDispatcher(t *testing.T) {
	outbox := newMemOutbox()
	d := NewDispatcher(Config{Logger: quietLogger()}, outbox, &recordingTransport{})
	n := NewNotifier(outbox, d, true, quietLogger())

	warnings := n.Publish(context.Background(), batchFor("a@x.com"))
	require.Len(t, warnings, 1)
	assert.Equal(t, domain.NotificationStatusPending, outbox.statuses()["a@x.com"])
}

func TestDispatcher_Resume(t *testing.T) {
	outbox := newMemOutbox()
	for _, r := range []string{"a@x.com", "b@x.com"} {
		_, err := outbox.Create(context.Background(), &domain.Notification{Recipient: r, Subject: "s", Body: "b"})
		require.NoError(t, err)
	}
	transport := &recordingTransport{}
	d := NewDispatcher(Config{Logger: quietLogger()}, outbox, transport)
	require.NoError(t, d.Start(context.Background()))

	require.NoError(t, d.Resume(context.Background()))
	require.Eventually(t, func() bool { return len(transport.recipients()) == 2 }, 2*time.Second, 10*time.Millisecond)
	d.Shutdown()

	pending, err := outbox.ListByStatuses(context.Background(), domain.NotificationStatusPending)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDispatcher_StartRequiresTransport(t *testing.T) {
	d := NewDispatcher(Config{Logger: quietLogger()}, newMemOutbox(), nil)
	assert.Error(t, d.Start(context.Background()))
}

func TestDispatcher_EnqueueAfterShutdown(t *testing.T) {
	outbox := newMemOutbox()
	id, err := outbox.Create(context.Background(), &domain.Notification{Recipient: "a@x.com"})
	require.NoError(t, err)

	d := NewDispatcher(Config{Logger: quietLogger()}, outbox, &recordingTransport{})
	require.NoError(t, d.Start(context.Background()))
	d.Shutdown()

	assert.ErrorIs(t, d.Enqueue(context.Background(), id), ErrDispatcherStopped)
}

// --- messages ---

func TestOTPMessage(t *testing.T) {
	msg := OTPMessage("alice@x.com", "012345", 10*time.Minute)
	assert.Equal(t, domain.NotificationKindOTP, msg.Kind)
	assert.Equal(t, "alice@x.com", msg.Recipient)
	assert.Equal(t, "Your OTP for Event Manager", msg.Subject)
	assert.Equal(t, "Your OTP is: 012345. It is valid for 10 minutes.", msg.Body)
}

func TestCancellationMessages(t *testing.T) {
	ev := &domain.Event{Title: "Meetup", CancelReason: "venue closed", StartsAt: time.Now(), EndsAt: time.Now()}
	batch := CancellationMessages(ev, []domain.Registrant{{Email: "a@x.com"}, {Email: "b@x.com"}})

	require.Len(t, batch, 2)
	for _, m := range batch {
		assert.Equal(t, domain.NotificationKindCancellation, m.Kind)
		assert.Equal(t, "Cancelled: Meetup", m.Subject)
		assert.Contains(t, m.Body, "venue closed")
	}
}

func TestOwnerSummaryMessages(t *testing.T) {
	capacity := 10
	ev := &domain.Event{Title: "Meetup", Capacity: &capacity}
	batch := OwnerSummaryMessages(ev, &domain.User{Username: "alice"}, []domain.User{{Email: "o1@x.com"}, {Email: "o2@x.com"}}, 3)

	require.Len(t, batch, 2)
	assert.Equal(t, "o1@x.com", batch[0].Recipient)
	assert.Contains(t, batch[0].Body, "alice registered")
	assert.Contains(t, batch[0].Body, "Registrants: 3 (capacity 10)")
}

func TestInvitationMessages(t *testing.T) {
	ev := &domain.Event{Title: "Meetup", MeetingLink: "https://meet.example/abc", StartsAt: time.Now(), EndsAt: time.Now()}
	batch := InvitationMessages(ev, []string{"a@x.com"})

	require.Len(t, batch, 1)
	assert.Equal(t, "You're invited: Meetup", batch[0].Subject)
	assert.Contains(t, batch[0].Body, "https://meet.example/abc")
}

// --- transports ---

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{}, nil
}

func TestSESTransport_Send(t *testing.T) {
	client := &fakeSES{}
	tr := NewSESTransport(client)

	err := tr.Send(context.Background(), Envelope{From: "noreply@x.com", To: []string{"a@x.com"}, Subject: "hi", Body: "body"})
	require.NoError(t, err)
	assert.Equal(t, "noreply@x.com", aws.ToString(client.input.FromEmailAddress))
	assert.Equal(t, []string{"a@x.com"}, client.input.Destination.ToAddresses)
	assert.Equal(t, "hi", aws.ToString(client.input.Content.Simple.Subject.Data))
	assert.Equal(t, "body", aws.ToString(client.input.Content.Simple.Body.Text.Data))
}

func TestSESTransport_Errors(t *testing.T) {
	tr := NewSESTransport(&fakeSES{err: errors.New("throttled")})

	assert.Error(t, tr.Send(context.Background(), Envelope{To: []string{"a@x.com"}}))
	assert.Error(t, tr.Send(context.Background(), Envelope{From: "f@x.com"}))
	assert.ErrorContains(t, tr.Send(context.Background(), Envelope{From: "f@x.com", To: []string{"a@x.com"}}), "throttled")
}

type fakeStore struct {
	key  string
	body string
	opts storage.PutOptions
}

func (f *fakeStore) Put(_ context.Context, key string, body io.Reader, opts storage.PutOptions) (string, error) {
	b, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	f.key, f.body, f.opts = key, string(b), opts
	return "s3://" + opts.Bucket + "/" + key, nil
}

func TestPickupTransport_Send(t *testing.T) {
	store := &fakeStore{}
	tr := NewPickupTransport(store, "mail-drop", "/outgoing/")
	tr.now = func() time.Time { return time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC) }

	err := tr.Send(context.Background(), Envelope{From: "noreply@x.com", To: []string{"a@x.com"}, Subject: "Hello", Body: "line1\nline2"})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(store.key, "outgoing/2026/03/04/"))
	assert.True(t, strings.HasSuffix(store.key, ".eml"))
	assert.Equal(t, "mail-drop", store.opts.Bucket)
	assert.Equal(t, "message/rfc822", store.opts.ContentType)
	assert.Contains(t, store.body, "To: a@x.com\r\n")
	assert.Contains(t, store.body, "Subject: Hello\r\n")
	assert.Contains(t, store.body, "line1\r\nline2")
}

func TestLogTransport_Send(t *testing.T) {
	var buf strings.Builder
	logger := logrus.New()
	logger.SetOutput(&buf)

	err := NewLogTransport(logger).Send(context.Background(), Envelope{From: "f@x.com", To: []string{"a@x.com"}, Subject: "s", Body: "otp 123456"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "otp 123456")
	assert.Contains(t, buf.String(), "to=a@x.com")
}
