package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/ayush/finalapi/internal/auth"
	"github.com/ayush/finalapi/internal/models"
)

// Unique index names from the users migration.
const (
	pgEmailConstraint    = "users_email_lower_key"
	pgUsernameConstraint = "users_username_lower_key"
)

// DBTX is the subset of pgx used by PostgresStore. *pgxpool.Pool, pgx.Tx and
// pgxmock pools satisfy it.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore handles user persistence against PostgreSQL.
type PostgresStore struct {
	db DBTX
}

func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

// ConnectPostgres opens a pool and pings it, retrying with exponential backoff
// while the database comes up.
func ConnectPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("POSTGRES_CONFIG_INVALID").Wrap(err)
	}

	backoff := retry.WithMaxRetries(5, retry.NewExponential(500*time.Millisecond))
	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := pool.Ping(ctx); err != nil {
			logger.Warn("postgres not ready", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("POSTGRES_UNAVAILABLE").With("attempts", attempt).Wrap(err)
	}
	return pool, nil
}

const userColumns = `id::text, username, email, password_hash, roles, created_at`

func (s *PostgresStore) Create(ctx context.Context, u *models.User) error {
	roles := u.Roles
	if roles == nil {
		roles = []string{}
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO users (id, username, email, password_hash, roles, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Username, u.Email, u.PasswordHash, roles, u.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			switch pgErr.ConstraintName {
			case pgEmailConstraint:
				return oops.Code("USER_DUPLICATE_EMAIL").With("user_id", u.ID).Wrap(auth.ErrDuplicateEmail)
			case pgUsernameConstraint:
				return oops.Code("USER_DUPLICATE_USERNAME").With("user_id", u.ID).Wrap(auth.ErrDuplicateUsername)
			}
		}
		return oops.Code("USER_CREATE_FAILED").With("user_id", u.ID).Wrap(err)
	}
	return nil
}

func (s *PostgresStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email)
	return scanUser(row, "email")
}

func (s *PostgresStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE LOWER(username) = LOWER($1)`, username)
	return scanUser(row, "username")
}

func (s *PostgresStore) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, id, hash)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").With("user_id", id).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("user_id", id).Wrap(auth.ErrNotFound)
	}
	return nil
}

func scanUser(row pgx.Row, by string) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Roles, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").With("by", by).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_QUERY_FAILED").With("by", by).Wrap(err)
	}
	if u.Roles == nil {
		u.Roles = []string{}
	}
	return &u, nil
}

var _ auth.UserRepository = (*PostgresStore)(nil)
