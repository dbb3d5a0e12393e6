package notify

import (
	"fmt"
	"strings"
	"time"

	"eventhub/internal/domain"
)

// Message is one notification intent addressed to a single recipient.
type Message struct {
	Kind      domain.NotificationKind
	Recipient string
	Subject   string
	Body      string
}

// Batch groups the independent messages produced by one trigger.
type Batch []Message

const timeLayout = "Mon, 02 Jan 2006 15:04 MST"

func OTPMessage(email, code string, ttl time.Duration) Message {
	return Message{
		Kind:      domain.NotificationKindOTP,
		Recipient: email,
		Subject:   "Your OTP for Event Manager",
		Body:      fmt.Sprintf("Your OTP is: %s. It is valid for %d minutes.", code, int(ttl.Minutes())),
	}
}

func InvitationMessages(event *domain.Event, invitees []string) Batch {
	batch := make(Batch, 0, len(invitees))
	for _, email := range invitees {
		batch = append(batch, Message{
			Kind:      domain.NotificationKindInvitation,
			Recipient: email,
			Subject:   fmt.Sprintf("You're invited: %s", event.Title),
			Body:      eventDetails("You have been invited to an event.", event),
		})
	}
	return batch
}

func ConfirmationMessage(event *domain.Event, user *domain.User) Message {
	return Message{
		Kind:      domain.NotificationKindConfirmation,
		Recipient: user.Email,
		Subject:   fmt.Sprintf("Registration confirmed: %s", event.Title),
		Body:      eventDetails(fmt.Sprintf("Hi %s, you are registered.", user.Username), event),
	}
}

func OwnerSummaryMessages(event *domain.Event, registrant *domain.User, owners []domain.User, registrants int) Batch {
	capacity := "unlimited"
	if event.Capacity != nil {
		capacity = fmt.Sprintf("%d", *event.Capacity)
	}
	batch := make(Batch, 0, len(owners))
	for _, owner := range owners {
		batch = append(batch, Message{
			Kind:      domain.NotificationKindOwnerSummary,
			Recipient: owner.Email,
			Subject:   fmt.Sprintf("New registration for %s", event.Title),
			Body: fmt.Sprintf("%s registered for %s.\nRegistrants: %d (capacity %s).",
				registrant.Username, event.Title, registrants, capacity),
		})
	}
	return batch
}

func CancellationMessages(event *domain.Event, registrants []domain.Registrant) Batch {
	intro := "This event has been cancelled."
	if reason := strings.TrimSpace(event.CancelReason); reason != "" {
		intro += " Reason: " + reason
	}
	batch := make(Batch, 0, len(registrants))
	for _, reg := range registrants {
		batch = append(batch, Message{
			Kind:      domain.NotificationKindCancellation,
			Recipient: reg.Email,
			Subject:   fmt.Sprintf("Cancelled: %s", event.Title),
			Body:      eventDetails(intro, event),
		})
	}
	return batch
}

func eventDetails(intro string, event *domain.Event) string {
	var b strings.Builder
	b.WriteString(intro)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "%s\n", event.Title)
	if event.Description != "" {
		fmt.Fprintf(&b, "%s\n", event.Description)
	}
	fmt.Fprintf(&b, "Starts: %s\n", event.StartsAt.Format(timeLayout))
	fmt.Fprintf(&b, "Ends: %s\n", event.EndsAt.Format(timeLayout))
	if event.MeetingLink != "" {
		fmt.Fprintf(&b, "Link: %s\n", event.MeetingLink)
	}
	if event.RegistrationDeadline != nil {
		fmt.Fprintf(&b, "Register by: %s\n", event.RegistrationDeadline.Format(timeLayout))
	}
	return b.String()
}
