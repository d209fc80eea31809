package auth_test

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/ayush/finalapi/internal/logging"
	"github.com/ayush/finalapi/internal/models"
	"github.com/ayush/finalapi/internal/store"
)

func discardLogger() *slog.Logger {
	return logging.Setup("finalapi-test", "json", io.Discard)
}

// failingRepo fails every call with err.
type failingRepo struct{ err error }

func (f failingRepo) Create(context.Context, *models.User) error { return f.err }
func (f failingRepo) GetByEmail(context.Context, string) (*models.User, error) {
	return nil, f.err
}
func (f failingRepo) GetByUsername(context.Context, string) (*models.User, error) {
	return nil, f.err
}
func (f failingRepo) UpdatePasswordHash(context.Context, string, string) error { return f.err }

// blockingRepo waits for the context to end.
type blockingRepo struct{}

func (blockingRepo) Create(ctx context.Context, _ *models.User) error {
	<-ctx.Done()
	return ctx.Err()
}
func (blockingRepo) GetByEmail(ctx context.Context, _ string) (*models.User, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (blockingRepo) GetByUsername(ctx context.Context, _ string) (*models.User, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (blockingRepo) UpdatePasswordHash(ctx context.Context, _, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

// countingRepo counts inserts reaching the memory store.
type countingRepo struct {
	*store.MemoryStore
	creates atomic.Int32
}

func (c *countingRepo) Create(ctx context.Context, u *models.User) error {
	c.creates.Add(1)
	return c.MemoryStore.Create(ctx, u)
}

// failingAttempts fails the lockout check.
type failingAttempts struct{ err error }

func (f failingAttempts) Locked(context.Context, string) (bool, error)          { return false, f.err }
func (f failingAttempts) RecordFailure(context.Context, string) (int64, error) { return 0, f.err }
func (f failingAttempts) Reset(context.Context, string) error                  { return f.err }
