package domain

import "time"

// User represents a verified account of the system.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PendingSignup holds the credentials of a signup that has not been confirmed
// by OTP yet. It is bound to exactly one session handle.
type PendingSignup struct {
	SessionHandle string
	Username      string
	Email         string
	PasswordHash  string
	Code          string
	IssuedAt      time.Time
	Attempts      int // codes rejected since IssuedAt
	Consumed      bool
}

// ExpiredAt reports whether the code issued for the signup is past its window.
func (p *PendingSignup) ExpiredAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(p.IssuedAt) > ttl
}
