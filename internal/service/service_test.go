package service

import (
	"context"
	"database/sql"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"eventhub/internal/auth"
	"eventhub/internal/domain"
	"eventhub/internal/notify"
	"eventhub/internal/otp"
	"eventhub/internal/repository"
	"eventhub/internal/repository/memory"
	"eventhub/internal/repository/sqlite"
)

type recordingPublisher struct {
	mu       sync.Mutex
	messages []notify.Message
	warn     []string
}

func (p *recordingPublisher) Publish(_ context.Context, batch notify.Batch) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, batch...)
	return p.warn
}

func (p *recordingPublisher) byKind(kind domain.NotificationKind) []notify.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []notify.Message
	for _, m := range p.messages {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	db        *sql.DB
	users     repository.UserRepository
	events    repository.EventRepository
	pending   *memory.PendingSignupStore
	publisher *recordingPublisher
	clock     *clock
	issuer    *auth.Issuer
	userSvc   UserService
	eventSvc  EventService
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newFixture(t *testing.T, gen otp.Generator) *fixture {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "service.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	users := sqlite.NewUserRepository(db)
	events := sqlite.NewEventRepository(db)
	notifications := sqlite.NewNotificationRepository(db)
	require.NoError(t, sqlite.Init(context.Background(), users, events, notifications))

	f := &fixture{
		db:        db,
		users:     users,
		events:    events,
		pending:   memory.NewPendingSignupStore(0),
		publisher: &recordingPublisher{},
		clock:     &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		issuer:    auth.NewIssuer("test-secret", time.Hour),
	}
	logger := quietLogger()
	f.userSvc = NewUserService(f.users, f.pending, f.publisher, f.issuer, UserServiceConfig{
		OTPTTL:       10 * time.Minute,
		Generator:    gen,
		PasswordCost: bcrypt.MinCost,
		Logger:       logger,
		Now:          f.clock.Now,
	})
	f.eventSvc = NewEventService(f.events, f.users, f.publisher, EventServiceConfig{
		Logger: logger,
		Now:    f.clock.Now,
	})
	return f
}

func (f *fixture) user(t *testing.T, name string) *domain.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)
	u := &domain.User{Username: name, Email: name + "@x.com", PasswordHash: string(hash)}
	_, err = f.users.Create(context.Background(), u)
	require.NoError(t, err)
	return u
}

func (f *fixture) event(t *testing.T, ownerID int64, capacity *int, deadline *time.Time) *domain.Event {
	t.Helper()
	starts := f.clock.Now().Add(48 * time.Hour)
	res, err := f.eventSvc.CreateEvent(context.Background(), ownerID, CreateEventInput{
		Title:                "Go meetup",
		StartsAt:             starts,
		EndsAt:               starts.Add(2 * time.Hour),
		Capacity:             capacity,
		RegistrationDeadline: deadline,
	})
	require.NoError(t, err)
	return res.Event
}

func intPtr(v int) *int { return &v }
