package domain

import "time"

type NotificationKind string

const (
	NotificationKindOTP          NotificationKind = "otp"
	NotificationKindInvitation   NotificationKind = "invitation"
	NotificationKindConfirmation NotificationKind = "confirmation"
	NotificationKindOwnerSummary NotificationKind = "owner_summary"
	NotificationKindCancellation NotificationKind = "cancellation"
)

type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "pending"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusFailed  NotificationStatus = "failed"
)

// Notification is an outbox record for a single outbound email.
type Notification struct {
	ID        int64
	Kind      NotificationKind
	Recipient string
	Subject   string
	Body      string
	Status    NotificationStatus
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
	SentAt    *time.Time
}
