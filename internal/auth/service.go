package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/ayush/finalapi/internal/config"
	"github.com/ayush/finalapi/internal/models"
)

// TokenCreator issues signed tokens for an authenticated identity.
type TokenCreator interface {
	CreateToken(userID, username string, roles []string) (string, error)
}

// Service implements registration and login.
type Service struct {
	store    CredentialStore
	tokens   TokenCreator
	identity config.Identity
	timeout  time.Duration
	logger   *slog.Logger
}

// NewService creates a Service. Every store call made by an operation shares
// one deadline of timeout.
func NewService(store CredentialStore, tokens TokenCreator, identity config.Identity, timeout time.Duration, logger *slog.Logger) (*Service, error) {
	if store == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("credential store is required")
	}
	if tokens == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("token creator is required")
	}
	if logger == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("logger is required")
	}
	if timeout <= 0 {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("store timeout must be positive")
	}
	return &Service{
		store:    store,
		tokens:   tokens,
		identity: identity,
		timeout:  timeout,
		logger:   logger,
	}, nil
}

// Register creates an account. Validation problems, duplicates included, come
// back together as ValidationErrors.
func (s *Service) Register(ctx context.Context, req models.RegisterRequest) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	errs := validateRegistration(req, s.identity.PasswordMinLength)
	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(req.Email)

	if !hasField(errs, "username") {
		taken, err := s.exists(ctx, func(ctx context.Context) (*models.User, error) {
			return s.store.FindByUsername(ctx, username)
		})
		if err != nil {
			return infrastructure("find user by username", err)
		}
		if taken {
			errs = append(errs, duplicateUsername())
		}
	}
	if !hasField(errs, "email") {
		taken, err := s.exists(ctx, func(ctx context.Context) (*models.User, error) {
			return s.store.FindByEmail(ctx, email)
		})
		if err != nil {
			return infrastructure("find user by email", err)
		}
		if taken {
			errs = append(errs, duplicateEmail())
		}
	}
	if len(errs) > 0 {
		s.logger.InfoContext(ctx, "registration rejected", "problems", len(errs))
		return errs
	}

	roles := append([]string{}, s.identity.DefaultRoles...)
	user, err := s.store.Create(ctx, &models.User{Username: username, Email: email, Roles: roles}, req.Password)
	if err != nil {
		// A concurrent registration can still win the unique index.
		var verrs ValidationErrors
		if errors.As(err, &verrs) {
			s.logger.InfoContext(ctx, "registration lost uniqueness race", "problems", len(verrs))
			return verrs
		}
		return infrastructure("create user", err)
	}

	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID)
	return nil
}

// Login checks credentials and returns a signed token. Unknown emails and wrong
// passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, req models.LoginRequest) (string, error) {
	if errs := validateLogin(req); len(errs) > 0 {
		return "", errs
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	user, err := s.store.FindByEmail(ctx, strings.TrimSpace(req.Email))
	if errors.Is(err, ErrNotFound) {
		if _, err := s.store.VerifyPassword(ctx, nil, req.Password); err != nil {
			return "", infrastructure("verify password", err)
		}
		s.logger.InfoContext(ctx, "login failed")
		return "", unauthorized()
	}
	if err != nil {
		return "", infrastructure("find user by email", err)
	}

	ok, err := s.store.VerifyPassword(ctx, user, req.Password)
	if err != nil {
		return "", infrastructure("verify password", err)
	}
	if !ok {
		s.logger.InfoContext(ctx, "login failed", "user_id", user.ID)
		return "", unauthorized()
	}

	token, err := s.tokens.CreateToken(user.ID, user.Username, user.Roles)
	if err != nil {
		return "", oops.Code("AUTH_TOKEN_ISSUE_FAILED").With("user_id", user.ID).Wrap(err)
	}

	s.logger.InfoContext(ctx, "login succeeded", "user_id", user.ID)
	return token, nil
}

// exists runs a lookup, mapping ErrNotFound to false.
func (s *Service) exists(ctx context.Context, find func(context.Context) (*models.User, error)) (bool, error) {
	_, err := find(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func hasField(errs ValidationErrors, field string) bool {
	for _, fe := range errs {
		if fe.Field == field {
			return true
		}
	}
	return false
}
