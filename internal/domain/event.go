package domain

import "time"

type EventStatus string

const (
	EventStatusScheduled EventStatus = "scheduled"
	EventStatusCancelled EventStatus = "cancelled"
)

// Event is a scheduled gathering users can register for.
type Event struct {
	ID                   int64
	Title                string
	Description          string
	MeetingLink          string
	StartsAt             time.Time
	EndsAt               time.Time
	RegistrationDeadline *time.Time
	Capacity             *int
	Status               EventStatus
	CancelReason         string
	CancelledAt          *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
	Owners               []int64
	RegistrantCount      int
}

// IsOwner reports whether userID is among the event owners.
func (e *Event) IsOwner(userID int64) bool {
	for _, id := range e.Owners {
		if id == userID {
			return true
		}
	}
	return false
}

// Registrant is a user's membership in an event's registrant set.
type Registrant struct {
	EventID      int64
	UserID       int64
	Username     string
	Email        string
	RegisteredAt time.Time
}
