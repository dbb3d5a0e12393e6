package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventhub/internal/domain"
	"eventhub/internal/otp"
	"eventhub/internal/repository"
)

func TestRegister_ConcurrentCapacityBound(t *testing.T) {
	f := newFixture(t, otp.Fixed("123456"))
	ctx := context.Background()
	owner := f.user(t, "owner")

	const capacity, extra = 3, 5
	ev := f.event(t, owner.ID, intPtr(capacity), nil)

	users := make([]*domain.User, capacity+extra)
	for i := range users {
		users[i] = f.user(t, fmt.Sprintf("user%d", i))
	}

	errs := make(chan error, len(users))
	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := f.eventSvc.Register(ctx, id, ev.ID)
			errs <- err
		}(u.ID)
	}
	wg.Wait()
	close(errs)

	var admitted, full int
	for err := range errs {
		switch {
		case err == nil:
			admitted++
		case errors.Is(err, ErrCapacityReached):
			full++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, capacity, admitted)
	assert.Equal(t, extra, full)

	regs, err := f.events.ListRegistrants(ctx, ev.ID)
	require.NoError(t, err)
	assert.Len(t, regs, capacity)
}

func TestRegister_Idempotent(t *testing.T) {
	f := newFixture(t, otp.Fixed("123456"))
	ctx := context.Background()
	owner := f.user(t, "owner")
	alice := f.user(t, "alice")
	ev := f.event(t, owner.ID, nil, nil)

	res, err := f.eventSvc.Register(ctx, alice.ID, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRegistered, res.Outcome)
	assert.Equal(t, 1, res.Event.RegistrantCount)

	res, err = f.eventSvc.Register(ctx, alice.ID, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyRegistered, res.Outcome)
	assert.Equal(t, 1, res.Event.RegistrantCount)

	assert.Len(t, f.publisher.byKind(domain.NotificationKindConfirmation), 1)
}

func TestRegister_Notifications(t *testing.T) {
	f := newFixture(t, otp.Fixed("123456"))
	ctx := context.Background()
	owner := f.user(t, "owner")
	coowner := f.user(t, "coowner")
	alice := f.user(t, "alice")
	ev := f.event(t, owner.ID, intPtr(10), nil)
	_, err := f.eventSvc.AddOwner(ctx, owner.ID, ev.ID, coowner.ID)
	require.NoError(t, err)

	f.publisher.warn = []string{"deliver notification to owner@x.com: smtp down"}
	res, err := f.eventSvc.Register(ctx, alice.ID, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRegistered, res.Outcome)
	assert.Equal(t, f.publisher.warn, res.Warnings)

	confirmations := f.publisher.byKind(domain.NotificationKindConfirmation)
	require.Len(t, confirmations, 1)
	assert.Equal(t, "alice@x.com", confirmations[0].Recipient)

	summaries := f.publisher.byKind(domain.NotificationKindOwnerSummary)
	require.Len(t, summaries, 2)
	assert.ElementsMatch(t, []string{"owner@x.com", "coowner@x.com"},
		[]string{summaries[0].Recipient, summaries[1].Recipient})
	assert.Contains(t, summaries[0].Body, "Registrants: 1 (capacity 10).")
}

func TestRegister_AdmissionOrder(t *testing.T) {
	f := newFixture(t, otp.Fixed("123456"))
	ctx := context.Background()
	owner := f.user(t, "owner")
	alice := f.user(t, "alice")
	bob := f.user(t, "bob")

	deadline := f.clock.Now().Add(time.Hour)
	ev := f.event(t, owner.ID, intPtr(1), &deadline)

	_, err := f.eventSvc.Register(ctx, alice.ID, ev.ID)
	require.NoError(t, err)

	_, err = f.eventSvc.Register(ctx, bob.ID, ev.ID)
	assert.ErrorIs(t, err, ErrCapacityReached)

	f.clock.Advance(2 * time.Hour)
	_, err = f.eventSvc.Register(ctx, bob.ID, ev.ID)
	assert.ErrorIs(t, err, ErrDeadlinePassed)

	_, err = f.eventSvc.CancelEvent(ctx, owner.ID, ev.ID, "")
	require.NoError(t, err)
	_, err = f.eventSvc.Register(ctx, bob.ID, ev.ID)
	assert.ErrorIs(t, err, ErrEventCancelled)
}

func TestRegister_UnknownEventOrUser(t *testing.T) {
	f := newFixture(t, otp.Fixed("123456"))
	ctx := context.Background()
	alice := f.user(t, "alice")

	_, err := f.eventSvc.Register(ctx, alice.ID, 999)
	assert.ErrorIs(t, err, ErrEventNotFound)

	_, err = f.eventSvc.Register(ctx, alice.ID+100, 1)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUnregister_Idempotent(t *testing.T) {
	f := newFixture(t, otp.Fixed("123456"))
	ctx := context.Background()
	owner := f.user(t, "owner")
	alice := f.user(t, "alice")
	ev := f.event(t, owner.ID, intPtr(1), nil)

	require.NoError(t, f.eventSvc.Unregister(ctx, alice.ID, ev.ID))

	_, err := f.eventSvc.Register(ctx, alice.ID, ev.ID)
	require.NoError(t, err)
	require.NoError(t, f.eventSvc.Unregister(ctx, alice.ID, ev.ID))
	require.NoError(t, f.eventSvc.Unregister(ctx, alice.ID, ev.ID))

	got, err := f.eventSvc.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Zero(t, got.RegistrantCount)

	assert.ErrorIs(t, f.eventSvc.Unregister(ctx, alice.ID, 999), ErrEventNotFound)
}

func TestCancelEvent_CapacityScenario(t *testing.T) {
	f := newFixture(t, otp.Fixed("123456"))
	ctx := context.Background()
	owner := f.user(t, "owner")
	a := f.user(t, "a")
	b := f.user(t, "b")
	c := f.user(t, "c")
	ev := f.event(t, owner.ID, intPtr(2), nil)

	_, err := f.eventSvc.Register(ctx, a.ID, ev.ID)
	require.NoError(t, err)
	_, err = f.eventSvc.Register(ctx, b.ID, ev.ID)
	require.NoError(t, err)
	_, err = f.eventSvc.Register(ctx, c.ID, ev.ID)
	assert.ErrorIs(t, err, ErrCapacityReached)

	_, err = f.eventSvc.CancelEvent(ctx, a.ID, ev.ID, "venue closed")
	assert.ErrorIs(t, err, ErrNotAnOwner)

	res, err := f.eventSvc.CancelEvent(ctx, owner.ID, ev.ID, "venue closed")
	require.NoError(t, err)
	assert.Equal(t, domain.EventStatusCancelled, res.Event.Status)
	assert.Equal(t, "venue closed", res.Event.CancelReason)

	// a second cancel is a no-op and sends nothing
	_, err = f.eventSvc.CancelEvent(ctx, owner.ID, ev.ID, "again")
	require.NoError(t, err)

	cancellations := f.publisher.byKind(domain.NotificationKindCancellation)
	perRecipient := map[string]int{}
	for _, m := range cancellations {
		perRecipient[m.Recipient]++
		assert.Contains(t, m.Body, "Reason: venue closed")
	}
	assert.Equal(t, map[string]int{"a@x.com": 1, "b@x.com": 1}, perRecipient)

	regs, err := f.events.ListRegistrants(ctx, ev.ID)
	require.NoError(t, err)
	ids := make([]int64, 0, len(regs))
	for _, r := range regs {
		ids = append(ids, r.UserID)
	}
	assert.Contains(t, ids, a.ID)
	assert.Len(t, ids, 2)
}

func TestCreateEvent_InvitesAndValidation(t *testing.T) {
	f := newFixture(t, otp.Fixed("123456"))
	ctx := context.Background()
	owner := f.user(t, "owner")
	starts := f.clock.Now().Add(24 * time.Hour)

	res, err := f.eventSvc.CreateEvent(ctx, owner.ID, CreateEventInput{
		Title:       "  Launch party ",
		MeetingLink: "https://meet.example.com/launch",
		StartsAt:    starts,
		EndsAt:      starts.Add(time.Hour),
		Invitees:    ParseInvitees("x@y.com, X@Y.com;z@y.com\n"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Launch party", res.Event.Title)
	assert.Equal(t, []int64{owner.ID}, res.Event.Owners)

	invites := f.publisher.byKind(domain.NotificationKindInvitation)
	require.Len(t, invites, 2)
	assert.Equal(t, "x@y.com", invites[0].Recipient)
	assert.Equal(t, "z@y.com", invites[1].Recipient)
	assert.Equal(t, "You're invited: Launch party", invites[0].Subject)

	late := starts.Add(time.Minute)
	tests := []struct {
		name  string
		input CreateEventInput
		field string
	}{
		{"no title", CreateEventInput{StartsAt: starts, EndsAt: starts.Add(time.Hour)}, "title"},
		{"ends before start", CreateEventInput{Title: "t", StartsAt: starts, EndsAt: starts}, "ends_at"},
		{"zero capacity", CreateEventInput{Title: "t", StartsAt: starts, EndsAt: starts.Add(time.Hour), Capacity: intPtr(0)}, "capacity"},
		{"deadline after start", CreateEventInput{Title: "t", StartsAt: starts, EndsAt: starts.Add(time.Hour), RegistrationDeadline: &late}, "registration_deadline"},
		{"bad link", CreateEventInput{Title: "t", StartsAt: starts, EndsAt: starts.Add(time.Hour), MeetingLink: "ftp://x"}, "meeting_link"},
		{"bad invitee", CreateEventInput{Title: "t", StartsAt: starts, EndsAt: starts.Add(time.Hour), Invitees: []string{"nope"}}, "invitees"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.eventSvc.CreateEvent(ctx, owner.ID, tt.input)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestAddOwner(t *testing.T) {
	f := newFixture(t, otp.Fixed("123456"))
	ctx := context.Background()
	owner := f.user(t, "owner")
	bob := f.user(t, "bob")
	eve := f.user(t, "eve")
	ev := f.event(t, owner.ID, nil, nil)

	_, err := f.eventSvc.AddOwner(ctx, eve.ID, ev.ID, eve.ID)
	assert.ErrorIs(t, err, ErrNotAnOwner)

	_, err = f.eventSvc.AddOwner(ctx, owner.ID, ev.ID, 999)
	assert.ErrorIs(t, err, ErrUserNotFound)

	got, err := f.eventSvc.AddOwner(ctx, owner.ID, ev.ID, bob.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{owner.ID, bob.ID}, got.Owners)

	// co-owners may cancel too
	_, err = f.eventSvc.CancelEvent(ctx, bob.ID, ev.ID, "")
	require.NoError(t, err)
}

func TestListRegisteredEvents(t *testing.T) {
	f := newFixture(t, otp.Fixed("123456"))
	ctx := context.Background()
	owner := f.user(t, "owner")
	alice := f.user(t, "alice")
	first := f.event(t, owner.ID, nil, nil)
	f.event(t, owner.ID, nil, nil)

	_, err := f.eventSvc.Register(ctx, alice.ID, first.ID)
	require.NoError(t, err)

	events, err := f.eventSvc.ListRegisteredEvents(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, first.ID, events[0].ID)
}

// cancelHookRepo runs afterCancel once the cancellation has been stored.
type cancelHookRepo struct {
	repository.EventRepository
	afterCancel func()
}

func (r *cancelHookRepo) Cancel(ctx context.Context, eventID int64, reason string, at time.Time) ([]domain.Registrant, bool, error) {
	regs, changed, err := r.EventRepository.Cancel(ctx, eventID, reason, at)
	if err == nil && r.afterCancel != nil {
		r.afterCancel()
	}
	return regs, changed, err
}

func TestCancelEvent_NotifiesRegistrantsSeenAtCancellation(t *testing.T) {
	f := newFixture(t, otp.Fixed("123456"))
	ctx := context.Background()
	owner := f.user(t, "owner")
	alice := f.user(t, "alice")
	bob := f.user(t, "bob")
	ev := f.event(t, owner.ID, nil, nil)

	_, err := f.eventSvc.Register(ctx, alice.ID, ev.ID)
	require.NoError(t, err)
	_, err = f.eventSvc.Register(ctx, bob.ID, ev.ID)
	require.NoError(t, err)

	// alice drops out right after the cancellation commits
	repo := &cancelHookRepo{EventRepository: f.events}
	repo.afterCancel = func() {
		require.NoError(t, f.events.RemoveRegistrant(ctx, ev.ID, alice.ID))
	}
	svc := NewEventService(repo, f.users, f.publisher, EventServiceConfig{
		Logger: quietLogger(),
		Now:    f.clock.Now,
	})

	res, err := svc.CancelEvent(ctx, owner.ID, ev.ID, "storm")
	require.NoError(t, err)
	assert.Equal(t, domain.EventStatusCancelled, res.Event.Status)
	assert.Equal(t, 1, res.Event.RegistrantCount)

	perRecipient := map[string]int{}
	for _, m := range f.publisher.byKind(domain.NotificationKindCancellation) {
		perRecipient[m.Recipient]++
	}
	assert.Equal(t, map[string]int{"alice@x.com": 1, "bob@x.com": 1}, perRecipient)
}

func TestCancelEvent_ConcurrentUnregister(t *testing.T) {
	f := newFixture(t, otp.Fixed("123456"))
	ctx := context.Background()
	owner := f.user(t, "owner")
	ev := f.event(t, owner.ID, nil, nil)

	const attendees = 8
	users := make([]*domain.User, attendees)
	for i := range users {
		users[i] = f.user(t, fmt.Sprintf("u%d", i))
		_, err := f.eventSvc.Register(ctx, users[i].ID, ev.ID)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_ = f.eventSvc.Unregister(ctx, id, ev.ID)
		}(u.ID)
	}
	_, err := f.eventSvc.CancelEvent(ctx, owner.ID, ev.ID, "")
	require.NoError(t, err)
	wg.Wait()

	// every notified attendee was still registered when the event was cancelled,
	// and nobody is notified twice
	seen := map[string]int{}
	for _, m := range f.publisher.byKind(domain.NotificationKindCancellation) {
		seen[m.Recipient]++
	}
	for recipient, n := range seen {
		assert.Equal(t, 1, n, recipient)
	}
	assert.LessOrEqual(t, len(seen), attendees)
}

func TestListEventsAndOwnedEvents(t *testing.T) {
	f := newFixture(t, otp.Fixed("123456"))
	ctx := context.Background()
	owner := f.user(t, "owner")
	bob := f.user(t, "bob")
	mine := f.event(t, owner.ID, nil, nil)
	theirs := f.event(t, bob.ID, nil, nil)

	all, err := f.eventSvc.ListEvents(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, mine.ID, all[0].ID)
	assert.Equal(t, theirs.ID, all[1].ID)

	owned, err := f.eventSvc.ListOwnedEvents(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, mine.ID, owned[0].ID)

	_, err = f.eventSvc.AddOwner(ctx, bob.ID, theirs.ID, owner.ID)
	require.NoError(t, err)
	owned, err = f.eventSvc.ListOwnedEvents(ctx, owner.ID)
	require.NoError(t, err)
	assert.Len(t, owned, 2)
}
