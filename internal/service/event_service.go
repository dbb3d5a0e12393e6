package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"eventhub/internal/domain"
	"eventhub/internal/notify"
	"eventhub/internal/repository"
)

// Outcome tells a fresh registration apart from a repeated one.
type Outcome string

const (
	OutcomeRegistered        Outcome = "registered"
	OutcomeAlreadyRegistered Outcome = "already_registered"
)

type CreateEventInput struct {
	Title                string
	Description          string
	MeetingLink          string
	StartsAt             time.Time
	EndsAt               time.Time
	RegistrationDeadline *time.Time
	Capacity             *int
	Invitees             []string
}

// EventResult carries an event together with any delivery warnings raised
// by the notifications it triggered.
type EventResult struct {
	Event    *domain.Event
	Warnings []string
}

type RegistrationResult struct {
	Outcome  Outcome
	Event    *domain.Event
	Warnings []string
}

// EventService is the registration engine: it owns event lifecycle,
// admission and ownership rules.
type EventService interface {
	CreateEvent(ctx context.Context, ownerID int64, input CreateEventInput) (*EventResult, error)
	GetEvent(ctx context.Context, eventID int64) (*domain.Event, error)
	Register(ctx context.Context, userID, eventID int64) (*RegistrationResult, error)
	Unregister(ctx context.Context, userID, eventID int64) error
	CancelEvent(ctx context.Context, ownerID, eventID int64, reason string) (*EventResult, error)
	AddOwner(ctx context.Context, ownerID, eventID, newOwnerID int64) (*domain.Event, error)
	ListEvents(ctx context.Context) ([]domain.Event, error)
	ListOwnedEvents(ctx context.Context, userID int64) ([]domain.Event, error)
	ListRegisteredEvents(ctx context.Context, userID int64) ([]domain.Event, error)
}

type EventServiceConfig struct {
	Logger *logrus.Logger
	Now    func() time.Time
}

type eventService struct {
	events    repository.EventRepository
	users     repository.UserRepository
	publisher notify.Publisher
	locks     *keyedMutex
	logger    *logrus.Logger
	now       func() time.Time
}

func NewEventService(events repository.EventRepository, users repository.UserRepository, publisher notify.Publisher, cfg EventServiceConfig) EventService {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &eventService{
		events:    events,
		users:     users,
		publisher: publisher,
		locks:     newKeyedMutex(),
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
}

func (s *eventService) CreateEvent(ctx context.Context, ownerID int64, input CreateEventInput) (*EventResult, error) {
	event, invitees, err := buildEvent(input)
	if err != nil {
		return nil, err
	}
	if _, err := s.users.GetByID(ctx, ownerID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	event.Owners = []int64{ownerID}

	if _, err := s.events.Create(ctx, event); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"event_id": event.ID,
		"owner_id": ownerID,
		"invitees": len(invitees),
	}).Info("event created")

	var warnings []string
	if len(invitees) > 0 {
		warnings = s.publisher.Publish(ctx, notify.InvitationMessages(event, invitees))
	}
	return &EventResult{Event: event, Warnings: warnings}, nil
}

func (s *eventService) GetEvent(ctx context.Context, eventID int64) (*domain.Event, error) {
	event, err := s.events.Get(ctx, eventID)
	if err != nil {
		return nil, eventLookupErr(err)
	}
	return event, nil
}

func (s *eventService) Register(ctx context.Context, userID, eventID int64) (*RegistrationResult, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	unlock := s.locks.Lock(eventID)
	inserted, err := s.events.AddRegistrant(ctx, eventID, userID, s.now(), s.admit)
	unlock()
	if err != nil {
		return nil, eventLookupErr(err)
	}

	logger := s.logger.WithFields(logrus.Fields{"event_id": eventID, "user_id": userID})
	if !inserted {
		logger.Debug("already registered")
		event, err := s.GetEvent(ctx, eventID)
		if err != nil {
			return nil, err
		}
		return &RegistrationResult{Outcome: OutcomeAlreadyRegistered, Event: event}, nil
	}
	logger.Info("registration admitted")

	// the registration is committed; anything below only produces warnings
	var warnings []string
	event, err := s.events.Get(ctx, eventID)
	if err != nil {
		logger.Errorf("reload event after registration: %v", err)
		return &RegistrationResult{
			Outcome:  OutcomeRegistered,
			Warnings: []string{fmt.Sprintf("registration saved but notifications were skipped: %v", err)},
		}, nil
	}

	batch := notify.Batch{notify.ConfirmationMessage(event, user)}
	owners, err := s.users.ListByIDs(ctx, event.Owners)
	if err != nil {
		logger.Errorf("load owners: %v", err)
		warnings = append(warnings, fmt.Sprintf("owner summary skipped: %v", err))
	} else {
		batch = append(batch, notify.OwnerSummaryMessages(event, user, owners, event.RegistrantCount)...)
	}
	warnings = append(warnings, s.publisher.Publish(ctx, batch)...)

	return &RegistrationResult{Outcome: OutcomeRegistered, Event: event, Warnings: warnings}, nil
}

// admit runs the ordered admission checks against the locked event state.
func (s *eventService) admit(event *domain.Event, registrants int, alreadyRegistered bool) error {
	if event.Status != domain.EventStatusScheduled {
		return ErrEventCancelled
	}
	if event.RegistrationDeadline != nil && s.now().After(*event.RegistrationDeadline) {
		return ErrDeadlinePassed
	}
	if event.Capacity != nil && registrants >= *event.Capacity {
		return ErrCapacityReached
	}
	return nil
}

func (s *eventService) Unregister(ctx context.Context, userID, eventID int64) error {
	if _, err := s.GetEvent(ctx, eventID); err != nil {
		return err
	}
	unlock := s.locks.Lock(eventID)
	defer unlock()
	if err := s.events.RemoveRegistrant(ctx, eventID, userID); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{"event_id": eventID, "user_id": userID}).Info("registration removed")
	return nil
}

func (s *eventService) CancelEvent(ctx context.Context, ownerID, eventID int64, reason string) (*EventResult, error) {
	event, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !event.IsOwner(ownerID) {
		return nil, ErrNotAnOwner
	}

	reason = strings.TrimSpace(reason)
	unlock := s.locks.Lock(eventID)
	registrants, changed, err := s.events.Cancel(ctx, eventID, reason, s.now())
	unlock()
	if err != nil {
		return nil, err
	}

	event, err = s.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !changed {
		return &EventResult{Event: event}, nil
	}

	s.logger.WithFields(logrus.Fields{
		"event_id":    eventID,
		"owner_id":    ownerID,
		"registrants": len(registrants),
	}).Info("event cancelled")

	warnings := s.publisher.Publish(ctx, notify.CancellationMessages(event, registrants))
	return &EventResult{Event: event, Warnings: warnings}, nil
}

func (s *eventService) AddOwner(ctx context.Context, ownerID, eventID, newOwnerID int64) (*domain.Event, error) {
	event, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !event.IsOwner(ownerID) {
		return nil, ErrNotAnOwner
	}
	if _, err := s.users.GetByID(ctx, newOwnerID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if err := s.events.AddOwner(ctx, eventID, newOwnerID); err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{"event_id": eventID, "owner_id": newOwnerID}).Info("owner added")
	return s.GetEvent(ctx, eventID)
}

func (s *eventService) ListEvents(ctx context.Context) ([]domain.Event, error) {
	return s.events.List(ctx)
}

func (s *eventService) ListOwnedEvents(ctx context.Context, userID int64) ([]domain.Event, error) {
	return s.events.ListByOwner(ctx, userID)
}

func (s *eventService) ListRegisteredEvents(ctx context.Context, userID int64) ([]domain.Event, error) {
	return s.events.ListByRegistrant(ctx, userID)
}

// ParseInvitees splits a comma or whitespace separated list of addresses.
func ParseInvitees(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\n' || r == '\t' || r == '\r'
	})
}

func buildEvent(input CreateEventInput) (*domain.Event, []string, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, nil, invalid("title", "is required")
	}
	if len(title) > 200 {
		return nil, nil, invalid("title", "must be at most 200 characters")
	}
	if input.StartsAt.IsZero() {
		return nil, nil, invalid("starts_at", "is required")
	}
	if input.EndsAt.IsZero() {
		return nil, nil, invalid("ends_at", "is required")
	}
	if !input.EndsAt.After(input.StartsAt) {
		return nil, nil, invalid("ends_at", "must be after starts_at")
	}
	if input.Capacity != nil && *input.Capacity < 1 {
		return nil, nil, invalid("capacity", "must be at least 1")
	}
	if input.RegistrationDeadline != nil && input.RegistrationDeadline.After(input.StartsAt) {
		return nil, nil, invalid("registration_deadline", "must not be after starts_at")
	}
	link := strings.TrimSpace(input.MeetingLink)
	if link != "" {
		u, err := url.Parse(link)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, nil, invalid("meeting_link", "must be an http or https URL")
		}
	}

	seen := make(map[string]struct{}, len(input.Invitees))
	invitees := make([]string, 0, len(input.Invitees))
	for _, raw := range input.Invitees {
		email := strings.ToLower(strings.TrimSpace(raw))
		if email == "" {
			continue
		}
		if err := validateEmail(email); err != nil {
			return nil, nil, invalid("invitees", "%q is not a valid address", raw)
		}
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}
		invitees = append(invitees, email)
	}

	return &domain.Event{
		Title:                title,
		Description:          strings.TrimSpace(input.Description),
		MeetingLink:          link,
		StartsAt:             input.StartsAt,
		EndsAt:               input.EndsAt,
		RegistrationDeadline: input.RegistrationDeadline,
		Capacity:             input.Capacity,
		Status:               domain.EventStatusScheduled,
	}, invitees, nil
}

func eventLookupErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrEventNotFound
	}
	return err
}
