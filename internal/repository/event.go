package repository

import (
	"context"
	"time"

	"eventhub/internal/domain"
)

// AdmissionCheck decides whether a registrant may be added. It runs inside
// the same transaction that inserts the registrant.
type AdmissionCheck func(event *domain.Event, registrants int, alreadyRegistered bool) error

// EventRepository exposes persistence operations for events, their owners
// and their registrant sets.
type EventRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, event *domain.Event) (int64, error)
	Get(ctx context.Context, id int64) (*domain.Event, error)
	AddOwner(ctx context.Context, eventID, userID int64) error
	// AddRegistrant loads the event, counts registrants and checks membership
	// in one transaction, runs check and inserts the registrant when check
	// returns nil and the user is not yet registered. It reports whether a
	// row was inserted.
	AddRegistrant(ctx context.Context, eventID, userID int64, registeredAt time.Time, check AdmissionCheck) (bool, error)
	RemoveRegistrant(ctx context.Context, eventID, userID int64) error
	ListRegistrants(ctx context.Context, eventID int64) ([]domain.Registrant, error)
	// List returns every event ordered by start time.
	List(ctx context.Context) ([]domain.Event, error)
	ListByOwner(ctx context.Context, userID int64) ([]domain.Event, error)
	ListByRegistrant(ctx context.Context, userID int64) ([]domain.Event, error)
	// Cancel moves a scheduled event to cancelled and returns the registrants
	// read in the same transaction. It reports false, with no registrants,
	// when the event was already cancelled.
	Cancel(ctx context.Context, eventID int64, reason string, at time.Time) ([]domain.Registrant, bool, error)
}
