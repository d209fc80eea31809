package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/ayush/finalapi/internal/logging"
	"github.com/ayush/finalapi/internal/models"
)

// UserRepository persists users. Lookups are case-insensitive and uniqueness
// of email and username is enforced by the backend itself.
type UserRepository interface {
	// Create inserts a user. It returns ErrDuplicateEmail or
	// ErrDuplicateUsername when a uniqueness constraint rejects the row.
	Create(ctx context.Context, user *models.User) error

	// GetByEmail returns ErrNotFound if no user has the email.
	GetByEmail(ctx context.Context, email string) (*models.User, error)

	// GetByUsername returns ErrNotFound if no user has the username.
	GetByUsername(ctx context.Context, username string) (*models.User, error)

	// UpdatePasswordHash replaces the stored hash for the user id.
	UpdatePasswordHash(ctx context.Context, id, hash string) error
}

// CredentialStore is everything the Service needs from the identity backend.
type CredentialStore interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)

	// Create hashes password and stores the user. Uniqueness violations are
	// returned as ValidationErrors.
	Create(ctx context.Context, user *models.User, password string) (*models.User, error)

	// VerifyPassword reports whether the password is accepted for user. It may
	// answer false for policy reasons such as lockout. A nil user is checked
	// against a decoy hash and always yields false.
	VerifyPassword(ctx context.Context, user *models.User, password string) (bool, error)
}

// dummyPasswordHash keeps the cost of a login for an unknown email equal to
// one for a known email. It matches no password.
//
//nolint:gosec // G101: not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Credentials implements CredentialStore on top of a UserRepository.
type Credentials struct {
	users    UserRepository
	hasher   PasswordHasher
	attempts AttemptTracker
	logger   *slog.Logger
	now      func() time.Time
}

// NewCredentials wires a credential store. attempts may be nil, which disables
// lockout.
func NewCredentials(users UserRepository, hasher PasswordHasher, attempts AttemptTracker, logger *slog.Logger) (*Credentials, error) {
	if users == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("users repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("password hasher is required")
	}
	if logger == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("logger is required")
	}
	return &Credentials{
		users:    users,
		hasher:   hasher,
		attempts: attempts,
		logger:   logger,
		now:      time.Now,
	}, nil
}

func (c *Credentials) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return c.users.GetByEmail(ctx, email)
}

func (c *Credentials) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	return c.users.GetByUsername(ctx, username)
}

func (c *Credentials) Create(ctx context.Context, user *models.User, password string) (*models.User, error) {
	hash, err := c.hasher.Hash(password)
	if err != nil {
		return nil, oops.Code("AUTH_HASH_FAILED").With("operation", "hash password").Wrap(err)
	}

	u := *user
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.PasswordHash = hash
	if u.Roles == nil {
		u.Roles = []string{}
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = c.now().UTC()
	}

	err = c.users.Create(ctx, &u)
	switch {
	case errors.Is(err, ErrDuplicateEmail):
		return nil, ValidationErrors{duplicateEmail()}
	case errors.Is(err, ErrDuplicateUsername):
		return nil, ValidationErrors{duplicateUsername()}
	case err != nil:
		return nil, err
	}
	return &u, nil
}

func (c *Credentials) VerifyPassword(ctx context.Context, user *models.User, password string) (bool, error) {
	if user == nil {
		_, _ = c.hasher.Verify(password, dummyPasswordHash)
		return false, nil
	}

	ok, err := c.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		logging.LogError(c.logger, "stored password hash unreadable", err, "user_id", user.ID)
		ok = false
	}

	key := NormalizeEmail(user.Email)
	locked := false
	if c.attempts != nil {
		locked, err = c.attempts.Locked(ctx, key)
		if err != nil {
			return false, oops.Code("AUTH_LOCKOUT_CHECK_FAILED").With("user_id", user.ID).Wrap(err)
		}
	}

	if !ok {
		if c.attempts != nil {
			if n, err := c.attempts.RecordFailure(ctx, key); err != nil {
				c.logger.WarnContext(ctx, "record sign-in failure", "user_id", user.ID, "error", err)
			} else {
				c.logger.InfoContext(ctx, "sign-in failure recorded", "user_id", user.ID, "failures", n)
			}
		}
		return false, nil
	}

	if locked {
		c.logger.InfoContext(ctx, "sign-in rejected for locked account", "user_id", user.ID)
		return false, nil
	}

	if c.attempts != nil {
		if err := c.attempts.Reset(ctx, key); err != nil {
			c.logger.WarnContext(ctx, "reset sign-in failures", "user_id", user.ID, "error", err)
		}
	}

	if c.hasher.NeedsUpgrade(user.PasswordHash) {
		c.upgradeHash(ctx, user, password)
	}
	return true, nil
}

// upgradeHash rehashes a legacy password. Failure leaves the old hash in place.
func (c *Credentials) upgradeHash(ctx context.Context, user *models.User, password string) {
	hash, err := c.hasher.Hash(password)
	if err != nil {
		c.logger.WarnContext(ctx, "rehash legacy password", "user_id", user.ID, "error", err)
		return
	}
	if err := c.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		c.logger.WarnContext(ctx, "store upgraded password hash", "user_id", user.ID, "error", err)
		return
	}
	user.PasswordHash = hash
	c.logger.InfoContext(ctx, "password hash upgraded", "user_id", user.ID)
}

var _ CredentialStore = (*Credentials)(nil)
