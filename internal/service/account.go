package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/sakif/cliplru/internal/apperror"
	"github.com/sakif/cliplru/internal/auth"
	"github.com/sakif/cliplru/internal/model"
	"github.com/sakif/cliplru/internal/repository"
)

// AccountService owns the two identity flows: registered users
// (username/password + JWT) and anonymous sessions (opaque session ID with
// tight quotas and a TTL).
type AccountService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService

	allowAnonymous      bool
	defaultMaxClips     int
	defaultStorageQuota int64
	anonMaxClips        int
	anonStorageQuota    int64

	logger *slog.Logger
	now    func() time.Time
}

// AccountConfig carries the identity tunables.
type AccountConfig struct {
	AllowAnonymous        bool
	DefaultMaxClips       int
	DefaultStorageQuota   int64
	AnonymousMaxClips     int
	AnonymousStorageQuota int64
}

// NewAccountService creates an AccountService.
func NewAccountService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	cfg AccountConfig,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		users:               users,
		tokens:              tokens,
		passwords:           passwords,
		allowAnonymous:      cfg.AllowAnonymous,
		defaultMaxClips:     cfg.DefaultMaxClips,
		defaultStorageQuota: cfg.DefaultStorageQuota,
		anonMaxClips:        cfg.AnonymousMaxClips,
		anonStorageQuota:    cfg.AnonymousStorageQuota,
		logger:              logger,
		now:                 time.Now,
	}
}

// RegisterInput carries the fields of a registration request.
type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName,omitempty"`
}

func (in *RegisterInput) validate() error {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if len(in.Username) < 3 || len(in.Username) > 50 {
		return apperror.ValidationFailed("username", "username must be 3-50 characters")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return apperror.ValidationFailed("email", "invalid email address")
	}
	if len(in.Password) < 8 {
		return apperror.ValidationFailed("password", "password must be at least 8 characters")
	}
	return nil
}

// Register creates a registered user. Username and email uniqueness is
// enforced by the database, so a duplicate surfaces as a conflict even
// when two registrations race.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		FullName:     in.FullName,
		IsActive:     true,
		MaxClips:     s.defaultMaxClips,
		StorageQuota: s.defaultStorageQuota,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("user registered",
		slog.String("userID", user.ID),
		slog.String("username", user.Username),
	)
	return user, nil
}

// LoginResult bundles the authenticated user with their bearer token.
type LoginResult struct {
	User        *model.User `json:"user"`
	AccessToken string      `json:"accessToken"`
	TokenType   string      `json:"tokenType"`
}

// IssueToken mints a bearer token for an already-authenticated user.
// Registration uses it to log the new account in without a second
// round trip.
func (s *AccountService) IssueToken(user *model.User) (*LoginResult, error) {
	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		User:        user,
		AccessToken: token,
		TokenType:   "bearer",
	}, nil
}

// Login authenticates by username or email. Wrong identifier and wrong
// password produce the same error so the endpoint doesn't confirm which
// half was valid.
func (s *AccountService) Login(ctx context.Context, identifier, password string) (*LoginResult, error) {
	user, err := s.users.GetUserByUsername(ctx, identifier)
	if errors.Is(err, apperror.ErrNotFound) {
		user, err = s.users.GetUserByEmail(ctx, identifier)
	}
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("invalid credentials")
		}
		return nil, err
	}
	if !user.IsActive || user.IsAnonymous {
		return nil, apperror.Unauthorized("invalid credentials")
	}
	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		return nil, apperror.Unauthorized("invalid credentials")
	}

	now := s.now().UTC()
	if err := s.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("recording login for user %s: %w", user.ID, err)
	}
	user.LastLogin = &now

	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user logged in", slog.String("userID", user.ID))
	return &LoginResult{
		User:        user,
		AccessToken: token,
		TokenType:   "bearer",
	}, nil
}

// AnonymousSession bundles a fresh anonymous user with the session ID the
// client must present on subsequent requests.
type AnonymousSession struct {
	User      *model.User `json:"user"`
	SessionID string      `json:"sessionId"`
}

// CreateAnonymousSession mints an anonymous user with reduced quotas. The
// session ID is the only credential — whoever holds it owns the session.
func (s *AccountService) CreateAnonymousSession(ctx context.Context) (*AnonymousSession, error) {
	if !s.allowAnonymous {
		return nil, apperror.Forbidden("anonymous access is disabled")
	}

	sessionID, err := auth.NewSessionID()
	if err != nil {
		return nil, fmt.Errorf("generating session ID: %w", err)
	}

	user := &model.User{
		IsActive:     true,
		IsAnonymous:  true,
		SessionID:    sessionID,
		MaxClips:     s.anonMaxClips,
		StorageQuota: s.anonStorageQuota,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("anonymous session created", slog.String("userID", user.ID))
	return &AnonymousSession{User: user, SessionID: sessionID}, nil
}

// ResolvePrincipal maps the identity the middleware extracted — a JWT
// user ID and/or a session header — to a user. The JWT wins when both are
// present. Inactive users resolve to unauthorized, not to a dead account.
func (s *AccountService) ResolvePrincipal(ctx context.Context, userID, sessionID string) (*model.User, error) {
	switch {
	case userID != "":
		user, err := s.users.GetUserByID(ctx, userID)
		if err != nil {
			if errors.Is(err, apperror.ErrNotFound) {
				return nil, apperror.Unauthorized("unknown user")
			}
			return nil, err
		}
		if !user.IsActive {
			return nil, apperror.Unauthorized("account disabled")
		}
		return user, nil
	case sessionID != "":
		user, err := s.users.GetUserBySessionID(ctx, sessionID)
		if err != nil {
			if errors.Is(err, apperror.ErrNotFound) {
				return nil, apperror.Unauthorized("unknown session")
			}
			return nil, err
		}
		return user, nil
	default:
		return nil, apperror.Unauthorized("authentication required")
	}
}

// GetUserByID fetches a user by primary key.
func (s *AccountService) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return s.users.GetUserByID(ctx, id)
}
