package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"widesquare/apperr"
	"widesquare/notify"
)

var (
	// ErrInvalidCredentials signals wrong email or password.
	ErrInvalidCredentials = fmt.Errorf("identity: invalid credentials: %w", apperr.ErrUnauthenticated)
	// ErrInvalidToken signals a bearer token that cannot be verified.
	ErrInvalidToken = fmt.Errorf("identity: invalid token: %w", apperr.ErrUnauthenticated)
	// ErrWeakPassword signals password doesn't meet requirements.
	ErrWeakPassword = apperr.Invalid("identity", "password must be at least 8 characters")
)

// Notifier is the slice of the notification dispatcher identity needs.
type Notifier interface {
	Notify(ctx context.Context, msg notify.Message) bool
	NotifyAdmins(ctx context.Context, subject, body string, extra ...string) bool
}

// Service handles identity business logic.
type Service struct {
	repo        Repository
	jwtSecret   []byte
	tokenTTL    time.Duration
	resetTTL    time.Duration
	notifier    Notifier
	log         zerolog.Logger
	now         func() time.Time
	idGenerator func() string
	background  sync.WaitGroup
}

// LoginResult bundles the token and domain user returned after a successful login.
type LoginResult struct {
	Token string
	User  User
}

// NewService creates a new identity service.
func NewService(repo Repository, jwtSecret string) *Service {
	return &Service{
		repo:        repo,
		jwtSecret:   []byte(jwtSecret),
		tokenTTL:    24 * time.Hour,
		resetTTL:    time.Hour,
		log:         zerolog.Nop(),
		now:         time.Now,
		idGenerator: func() string { return uuid.NewString() },
	}
}

func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

func (s *Service) WithLogger(log zerolog.Logger) *Service {
	s.log = log
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithTokenTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.tokenTTL = ttl
	}
	return s
}

func (s *Service) WithResetTokenTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.resetTTL = ttl
	}
	return s
}

// Register creates a new account. Every self-registered account starts as a
// plain user; higher roles are reached through elevation.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.Invalid("identity", "name is required")
	}
	if len(req.Password) < 8 {
		return nil, ErrWeakPassword
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("identity: hash password: %w", err)
	}

	user, err := s.repo.CreateUser(ctx, CreateUserParams{
		ID:           s.idGenerator(),
		Email:        email,
		Name:         name,
		PasswordHash: string(passwordHash),
		Role:         RoleUser,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("user_id", user.ID).Msg("user registered")
	return &user, nil
}

// Login authenticates a user and returns a JWT token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	user, err := s.repo.GetUserByEmail(ctx, strings.TrimSpace(req.Email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.generateToken(user.ID, user.Role)
	if err != nil {
		return LoginResult{}, fmt.Errorf("identity: generate token: %w", err)
	}

	return LoginResult{
		Token: token,
		User:  user,
	}, nil
}

// GetUserByID retrieves user information by ID.
func (s *Service) GetUserByID(ctx context.Context, userID string) (User, error) {
	return s.repo.GetUserByID(ctx, userID)
}

// VerifyToken validates a JWT token and returns the user ID and role claim.
func (s *Service) VerifyToken(tokenString string) (string, Role, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", "", ErrInvalidToken
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", "", fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	roleStr, ok := claims["role"].(string)
	if !ok {
		return "", "", fmt.Errorf("%w: missing role", ErrInvalidToken)
	}
	role := Role(roleStr)
	if !isValidRole(role) {
		return "", "", fmt.Errorf("%w: invalid role %q", ErrInvalidToken, roleStr)
	}
	return userID, role, nil
}

func (s *Service) generateToken(userID string, role Role) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"role":    role,
		"exp":     now.Add(s.tokenTTL).Unix(),
		"iat":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *Service) notify(ctx context.Context, msg notify.Message) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, msg)
	}
}

// notifyInBackground hands msg to the notifier without waiting for delivery.
// The request's cancellation does not abort the send.
func (s *Service) notifyInBackground(ctx context.Context, msg notify.Message) {
	if s.notifier == nil {
		return
	}
	sendCtx := context.WithoutCancel(ctx)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		s.notifier.Notify(sendCtx, msg)
	}()
}

// Wait blocks until notifications sent in the background have finished.
func (s *Service) Wait() {
	s.background.Wait()
}

func (s *Service) notifyAdmins(ctx context.Context, subject, body string) {
	if s.notifier != nil {
		s.notifier.NotifyAdmins(ctx, subject, body)
	}
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", apperr.Invalid("identity", "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperr.Invalid("identity", "email is invalid")
	}
	return email, nil
}
