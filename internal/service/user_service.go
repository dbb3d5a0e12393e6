package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"eventhub/internal/domain"
	"eventhub/internal/notify"
	"eventhub/internal/otp"
	"eventhub/internal/repository"
)

const (
	// DefaultOTPTTL is how long an issued verification code stays valid.
	DefaultOTPTTL = 10 * time.Minute
	// DefaultMaxAttempts is how many wrong codes one issued code tolerates.
	DefaultMaxAttempts = 5
)

// TokenIssuer mints authentication tokens for verified users.
type TokenIssuer interface {
	IssueToken(user *domain.User) (string, time.Time, error)
}

// SignupResult describes a pending signup awaiting its code.
type SignupResult struct {
	SessionHandle string
	Email         string
	CodeExpiresAt time.Time
	Warnings      []string
}

// Session is an authenticated user together with its issued token.
type Session struct {
	User      *domain.User
	Token     string
	ExpiresAt time.Time
}

// UserService describes the signup verification and login lifecycle.
type UserService interface {
	BeginSignup(ctx context.Context, sessionHandle, username, email, password string) (*SignupResult, error)
	ResendCode(ctx context.Context, sessionHandle string) (*SignupResult, error)
	VerifyOTP(ctx context.Context, sessionHandle, code string) (*Session, error)
	Login(ctx context.Context, identifier, password string) (*Session, error)
	GetByID(ctx context.Context, id int64) (*domain.User, error)
}

type UserServiceConfig struct {
	OTPTTL       time.Duration
	MaxAttempts  int
	Generator    otp.Generator
	PasswordCost int
	Logger       *logrus.Logger
	Now          func() time.Time
}

type userService struct {
	users     repository.UserRepository
	pending   repository.PendingSignupStore
	publisher notify.Publisher
	tokens    TokenIssuer

	ttl         time.Duration
	maxAttempts int
	generator   otp.Generator
	cost        int
	logger      *logrus.Logger
	now         func() time.Time

	dummyOnce sync.Once
	dummyHash []byte
}

func NewUserService(users repository.UserRepository, pending repository.PendingSignupStore, publisher notify.Publisher, tokens TokenIssuer, cfg UserServiceConfig) UserService {
	if cfg.OTPTTL <= 0 {
		cfg.OTPTTL = DefaultOTPTTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Generator == nil {
		cfg.Generator = otp.Default
	}
	if cfg.PasswordCost == 0 {
		cfg.PasswordCost = bcrypt.DefaultCost
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &userService{
		users:       users,
		pending:     pending,
		publisher:   publisher,
		tokens:      tokens,
		ttl:         cfg.OTPTTL,
		maxAttempts: cfg.MaxAttempts,
		generator:   cfg.Generator,
		cost:        cfg.PasswordCost,
		logger:      cfg.Logger,
		now:         cfg.Now,
	}
}

func (s *userService) BeginSignup(ctx context.Context, sessionHandle, username, email, password string) (*SignupResult, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))

	if username == "" {
		return nil, invalid("username", "is required")
	}
	if len(username) > 150 {
		return nil, invalid("username", "must be at most 150 characters")
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	// passwords are kept verbatim, surrounding spaces included
	if strings.TrimSpace(password) == "" {
		return nil, invalid("password", "is required")
	}
	if len(password) < 8 {
		return nil, invalid("password", "must be at least 8 characters")
	}

	if err := s.ensureIdentityFree(ctx, username, email); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	if strings.TrimSpace(sessionHandle) == "" {
		sessionHandle = uuid.NewString()
	}

	return s.issue(ctx, domain.PendingSignup{
		SessionHandle: sessionHandle,
		Username:      username,
		Email:         email,
		PasswordHash:  string(hash),
	})
}

func (s *userService) ResendCode(ctx context.Context, sessionHandle string) (*SignupResult, error) {
	p, ok := s.pending.Get(sessionHandle)
	if !ok || sessionHandle == "" {
		return nil, ErrNoPendingSignup
	}
	if p.Consumed {
		return nil, ErrAlreadyConsumed
	}
	return s.issue(ctx, p)
}

// issue generates a fresh code for p, binds it to the session and sends it.
func (s *userService) issue(ctx context.Context, p domain.PendingSignup) (*SignupResult, error) {
	code, err := s.generator.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate otp: %w", err)
	}
	p.Code = code
	p.IssuedAt = s.now()
	p.Attempts = 0
	p.Consumed = false
	s.pending.Put(p)

	s.logger.WithFields(logrus.Fields{
		"session":  p.SessionHandle,
		"username": p.Username,
	}).Info("verification code issued")

	warnings := s.publisher.Publish(ctx, notify.Batch{notify.OTPMessage(p.Email, code, s.ttl)})

	return &SignupResult{
		SessionHandle: p.SessionHandle,
		Email:         p.Email,
		CodeExpiresAt: p.IssuedAt.Add(s.ttl),
		Warnings:      warnings,
	}, nil
}

func (s *userService) VerifyOTP(ctx context.Context, sessionHandle, code string) (*Session, error) {
	if strings.TrimSpace(sessionHandle) == "" {
		return nil, ErrNoPendingSignup
	}
	code = strings.TrimSpace(code)
	now := s.now()

	p, err := s.pending.Consume(sessionHandle, func(p *domain.PendingSignup) error {
		if p.Consumed {
			return ErrAlreadyConsumed
		}
		if p.ExpiredAt(now, s.ttl) {
			return ErrCodeExpired
		}
		if p.Attempts >= s.maxAttempts {
			return ErrTooManyAttempts
		}
		if subtle.ConstantTimeCompare([]byte(code), []byte(p.Code)) != 1 {
			p.Attempts++
			return ErrCodeMismatch
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoPendingSignup
		}
		s.logger.WithField("session", sessionHandle).Infof("verification rejected: %v", err)
		return nil, err
	}

	user := &domain.User{
		Username:     p.Username,
		Email:        p.Email,
		PasswordHash: p.PasswordHash,
	}
	if _, err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// the identity was claimed by another signup while this one waited
			s.pending.Seal(sessionHandle)
			return nil, ErrDuplicateIdentity
		}
		s.pending.Release(sessionHandle)
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.pending.Seal(sessionHandle)

	s.logger.WithFields(logrus.Fields{
		"session": sessionHandle,
		"user_id": user.ID,
	}).Info("signup verified")

	return s.newSession(user)
}

func (s *userService) Login(ctx context.Context, identifier, password string) (*Session, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || strings.TrimSpace(password) == "" {
		return nil, ErrInvalidCredentials
	}

	var (
		user *domain.User
		err  error
	)
	if strings.Contains(identifier, "@") {
		user, err = s.users.GetByEmail(ctx, strings.ToLower(identifier))
	} else {
		user, err = s.users.GetByUsername(ctx, identifier)
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// spend the same bcrypt work as a real comparison
			_ = bcrypt.CompareHashAndPassword(s.dummy(), []byte(password))
			s.logger.WithField("identifier", identifier).Info("login failed: unknown identifier")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.WithField("user_id", user.ID).Info("login failed: wrong password")
		return nil, ErrInvalidCredentials
	}

	return s.newSession(user)
}

func (s *userService) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return sanitizeUser(user), nil
}

func (s *userService) newSession(user *domain.User) (*Session, error) {
	token, expiresAt, err := s.tokens.IssueToken(user)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &Session{
		User:      sanitizeUser(user),
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *userService) ensureIdentityFree(ctx context.Context, username, email string) error {
	if _, err := s.users.GetByUsername(ctx, username); err == nil {
		return ErrDuplicateIdentity
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return ErrDuplicateIdentity
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	return nil
}

func (s *userService) dummy() []byte {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), s.cost)
	})
	return s.dummyHash
}

func validateEmail(email string) error {
	if email == "" {
		return invalid("email", "is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return invalid("email", "is not a valid address")
	}
	return nil
}

func sanitizeUser(user *domain.User) *domain.User {
	if user == nil {
		return nil
	}
	return &domain.User{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
}
