package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"eventhub/internal/auth"
	"eventhub/internal/service"
)

const (
	authCookieName   = "auth_token"
	signupCookieName = "signup_session"
)

// TokenParser validates bearer or cookie tokens.
type TokenParser interface {
	Parse(token string) (*auth.Claims, error)
}

type Options struct {
	SecureCookie bool
	SignupTTL    time.Duration
	Logger       *logrus.Logger
}

// Handler wires HTTP routes to domain services.
type Handler struct {
	users  service.UserService
	events service.EventService
	tokens TokenParser
	opts   Options
	logger *logrus.Logger
}

func NewHandler(users service.UserService, events service.EventService, tokens TokenParser, opts Options) *Handler {
	if opts.SignupTTL <= 0 {
		opts.SignupTTL = service.DefaultOTPTTL
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Handler{
		users:  users,
		events: events,
		tokens: tokens,
		opts:   opts,
		logger: opts.Logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(requestLogger(h.logger), corsMiddleware())

	api := router.Group("/api")
	{
		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
		})

		authGroup := api.Group("/auth")
		authGroup.POST("/signup", h.signup)
		authGroup.POST("/signup/resend", h.resendCode)
		authGroup.POST("/verify", h.verify)
		authGroup.POST("/login", h.login)
		authGroup.POST("/logout", h.logout)
		authGroup.GET("/me", h.requireAuth(), h.me)

		events := api.Group("/events", h.requireAuth())
		events.GET("", h.listEvents)
		events.POST("", h.createEvent)
		events.GET("/:id", h.getEvent)
		events.POST("/:id/register", h.register)
		events.DELETE("/:id/register", h.unregister)
		events.POST("/:id/cancel", h.cancelEvent)
		events.POST("/:id/owners", h.addOwner)

		api.GET("/me/events", h.requireAuth(), h.registeredEvents)
		api.GET("/me/owned-events", h.requireAuth(), h.ownedEvents)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" {
			// credentialed requests need the exact origin echoed back
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Add("Vary", "Origin")
		}
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// writeError translates service errors into HTTP statuses.
func (h *Handler) writeError(c *gin.Context, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "field": verr.Field})
	case errors.Is(err, service.ErrDuplicateIdentity),
		errors.Is(err, service.ErrAlreadyConsumed),
		errors.Is(err, service.ErrEventCancelled),
		errors.Is(err, service.ErrDeadlinePassed),
		errors.Is(err, service.ErrCapacityReached):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNoPendingSignup),
		errors.Is(err, service.ErrCodeMismatch),
		errors.Is(err, service.ErrCodeExpired):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrTooManyAttempts):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotAnOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrEventNotFound), errors.Is(err, service.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		h.logger.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		}).Errorf("request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return 0, false
	}
	return id, true
}

func withWarnings(resp gin.H, warnings []string) gin.H {
	if len(warnings) > 0 {
		resp["warnings"] = warnings
	}
	return resp
}
