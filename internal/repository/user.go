package repository

import (
	"context"
	"errors"

	"eventhub/internal/domain"
)

var (
	// ErrNotFound is returned when a looked up record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique constraint would be violated.
	ErrConflict = errors.New("already exists")
)

// UserRepository defines persistence operations for User entities.
type UserRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, user *domain.User) (int64, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	ListByIDs(ctx context.Context, ids []int64) ([]domain.User, error)
}

// PendingSignupStore keeps unconfirmed signups keyed by session handle.
type PendingSignupStore interface {
	// Put binds p to its session handle, replacing any previous record.
	Put(p domain.PendingSignup)
	Get(sessionHandle string) (domain.PendingSignup, bool)
	// Consume atomically runs check against the bound record and, when it
	// returns nil, marks the record consumed and returns a copy of it.
	// Changes check makes to the record are kept even when it rejects.
	Consume(sessionHandle string, check func(p *domain.PendingSignup) error) (domain.PendingSignup, error)
	// Release reverts a consumption so the signup can be verified again.
	Release(sessionHandle string)
	// Seal wipes credentials from a consumed record, keeping a tombstone.
	Seal(sessionHandle string)
}
