package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"eventhub/internal/auth"
	"eventhub/internal/domain"
	"eventhub/internal/service"
)

const (
	ctxUserID   = "user_id"
	ctxUsername = "username"
)

type signupRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type sessionRequest struct {
	Session string `json:"session"`
}

type verifyRequest struct {
	Session string `json:"session"`
	Code    string `json:"code" binding:"required"`
}

type loginRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Password   string `json:"password" binding:"required"`
}

type UserResponse struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at"`
}

func (h *Handler) signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	handle, _ := c.Cookie(signupCookieName)
	res, err := h.users.BeginSignup(c.Request.Context(), handle, req.Username, req.Email, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.setCookie(c, signupCookieName, res.SessionHandle, h.opts.SignupTTL)
	c.JSON(http.StatusAccepted, signupResponse(res))
}

func (h *Handler) resendCode(c *gin.Context) {
	var req sessionRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	res, err := h.users.ResendCode(c.Request.Context(), h.sessionHandle(c, req.Session))
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.setCookie(c, signupCookieName, res.SessionHandle, h.opts.SignupTTL)
	c.JSON(http.StatusAccepted, signupResponse(res))
}

func (h *Handler) verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.users.VerifyOTP(c.Request.Context(), h.sessionHandle(c, req.Session), req.Code)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.clearCookie(c, signupCookieName)
	h.setCookie(c, authCookieName, session.Token, time.Until(session.ExpiresAt))
	c.JSON(http.StatusCreated, sessionResponse(session))
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.users.Login(c.Request.Context(), req.Identifier, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.setCookie(c, authCookieName, session.Token, time.Until(session.ExpiresAt))
	c.JSON(http.StatusOK, sessionResponse(session))
}

func (h *Handler) logout(c *gin.Context) {
	h.clearCookie(c, authCookieName)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) me(c *gin.Context) {
	user, err := h.users.GetByID(c.Request.Context(), c.GetInt64(ctxUserID))
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "account no longer exists"})
			return
		}
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, userToResponse(user))
}

// requireAuth accepts the auth cookie or an Authorization bearer header.
func (h *Handler) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.GetHeader("Authorization"))
		if raw == "" {
			raw, _ = c.Cookie(authCookieName)
		}
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		claims, err := h.tokens.Parse(raw)
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, auth.ErrTokenExpired) {
				msg = "token expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}
		userID, err := claims.UserID()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(ctxUserID, userID)
		c.Set(ctxUsername, claims.Username)
		c.Next()
	}
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func (h *Handler) sessionHandle(c *gin.Context, fromBody string) string {
	if fromBody = strings.TrimSpace(fromBody); fromBody != "" {
		return fromBody
	}
	handle, _ := c.Cookie(signupCookieName)
	return handle
}

func (h *Handler) setCookie(c *gin.Context, name, value string, ttl time.Duration) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(name, value, int(ttl.Seconds()), "/", "", h.opts.SecureCookie, true)
}

func (h *Handler) clearCookie(c *gin.Context, name string) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(name, "", -1, "/", "", h.opts.SecureCookie, true)
}

// bindOptionalJSON binds the body when one is present.
func bindOptionalJSON(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func signupResponse(res *service.SignupResult) gin.H {
	return withWarnings(gin.H{
		"session":         res.SessionHandle,
		"email":           res.Email,
		"code_expires_at": res.CodeExpiresAt.Format(time.RFC3339),
	}, res.Warnings)
}

func sessionResponse(s *service.Session) gin.H {
	return gin.H{
		"user":       userToResponse(s.User),
		"token":      s.Token,
		"expires_at": s.ExpiresAt.Format(time.RFC3339),
	}
}

func userToResponse(user *domain.User) UserResponse {
	return UserResponse{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		CreatedAt: user.CreatedAt.Format(time.RFC3339),
	}
}
