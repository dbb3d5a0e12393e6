package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"eventhub/internal/domain"
	"eventhub/internal/service"
)

// inviteeList accepts either a JSON array of addresses or one comma
// separated string.
type inviteeList []string

func (l *inviteeList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*l = service.ParseInvitees(raw)
	return nil
}

type createEventRequest struct {
	Title                string      `json:"title" binding:"required"`
	Description          string      `json:"description"`
	MeetingLink          string      `json:"meeting_link"`
	StartsAt             time.Time   `json:"starts_at" binding:"required"`
	EndsAt               time.Time   `json:"ends_at" binding:"required"`
	RegistrationDeadline *time.Time  `json:"registration_deadline"`
	Capacity             *int        `json:"capacity"`
	Invitees             inviteeList `json:"invitees"`
}

type cancelEventRequest struct {
	Reason string `json:"reason"`
}

type addOwnerRequest struct {
	UserID int64 `json:"user_id" binding:"required"`
}

type EventResponse struct {
	ID                   int64              `json:"id"`
	Title                string             `json:"title"`
	Description          string             `json:"description"`
	MeetingLink          string             `json:"meeting_link,omitempty"`
	StartsAt             string             `json:"starts_at"`
	EndsAt               string             `json:"ends_at"`
	RegistrationDeadline *string            `json:"registration_deadline,omitempty"`
	Capacity             *int               `json:"capacity,omitempty"`
	Status               domain.EventStatus `json:"status"`
	CancelReason         string             `json:"cancel_reason,omitempty"`
	CancelledAt          *string            `json:"cancelled_at,omitempty"`
	Owners               []int64            `json:"owners"`
	RegistrantCount      int                `json:"registrant_count"`
	CreatedAt            string             `json:"created_at"`
	UpdatedAt            string             `json:"updated_at"`
}

func (h *Handler) createEvent(c *gin.Context) {
	var req createEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.events.CreateEvent(c.Request.Context(), c.GetInt64(ctxUserID), service.CreateEventInput{
		Title:                req.Title,
		Description:          req.Description,
		MeetingLink:          req.MeetingLink,
		StartsAt:             req.StartsAt,
		EndsAt:               req.EndsAt,
		RegistrationDeadline: req.RegistrationDeadline,
		Capacity:             req.Capacity,
		Invitees:             req.Invitees,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, withWarnings(gin.H{"event": eventToResponse(res.Event)}, res.Warnings))
}

func (h *Handler) getEvent(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	event, err := h.events.GetEvent(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, eventToResponse(event))
}

func (h *Handler) register(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	res, err := h.events.Register(c.Request.Context(), c.GetInt64(ctxUserID), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	status := http.StatusCreated
	if res.Outcome == service.OutcomeAlreadyRegistered {
		status = http.StatusOK
	}
	resp := gin.H{"outcome": res.Outcome}
	if res.Event != nil {
		resp["event"] = eventToResponse(res.Event)
	}
	c.JSON(status, withWarnings(resp, res.Warnings))
}

func (h *Handler) unregister(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.events.Unregister(c.Request.Context(), c.GetInt64(ctxUserID), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"event_id": id, "registered": false})
}

func (h *Handler) cancelEvent(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req cancelEventRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	res, err := h.events.CancelEvent(c.Request.Context(), c.GetInt64(ctxUserID), id, req.Reason)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, withWarnings(gin.H{"event": eventToResponse(res.Event)}, res.Warnings))
}

func (h *Handler) addOwner(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req addOwnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event, err := h.events.AddOwner(c.Request.Context(), c.GetInt64(ctxUserID), id, req.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, eventToResponse(event))
}

func (h *Handler) listEvents(c *gin.Context) {
	events, err := h.events.ListEvents(c.Request.Context())
	h.writeEvents(c, events, err)
}

func (h *Handler) ownedEvents(c *gin.Context) {
	events, err := h.events.ListOwnedEvents(c.Request.Context(), c.GetInt64(ctxUserID))
	h.writeEvents(c, events, err)
}

func (h *Handler) registeredEvents(c *gin.Context) {
	events, err := h.events.ListRegisteredEvents(c.Request.Context(), c.GetInt64(ctxUserID))
	h.writeEvents(c, events, err)
}

func (h *Handler) writeEvents(c *gin.Context, events []domain.Event, err error) {
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := make([]EventResponse, len(events))
	for i := range events {
		resp[i] = eventToResponse(&events[i])
	}
	c.JSON(http.StatusOK, resp)
}

func eventToResponse(event *domain.Event) EventResponse {
	resp := EventResponse{
		ID:              event.ID,
		Title:           event.Title,
		Description:     event.Description,
		MeetingLink:     event.MeetingLink,
		StartsAt:        event.StartsAt.Format(time.RFC3339),
		EndsAt:          event.EndsAt.Format(time.RFC3339),
		Capacity:        event.Capacity,
		Status:          event.Status,
		CancelReason:    event.CancelReason,
		Owners:          event.Owners,
		RegistrantCount: event.RegistrantCount,
		CreatedAt:       event.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       event.UpdatedAt.Format(time.RFC3339),
	}
	if resp.Owners == nil {
		resp.Owners = []int64{}
	}
	if event.RegistrationDeadline != nil {
		v := event.RegistrationDeadline.Format(time.RFC3339)
		resp.RegistrationDeadline = &v
	}
	if event.CancelledAt != nil {
		v := event.CancelledAt.Format(time.RFC3339)
		resp.CancelledAt = &v
	}
	return resp
}
