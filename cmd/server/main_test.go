package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayush/finalapi/internal/config"
	"github.com/ayush/finalapi/internal/logging"
	"github.com/ayush/finalapi/internal/store"
)

func TestRootCommand_HasExpectedSubcommands(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())

	output := buf.String()
	for _, sub := range []string{"serve", "migrate"} {
		assert.Contains(t, output, sub, "Help missing %q command", sub)
	}
}

func TestServe_FailsFastOnMissingSecret(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("JWT_SECRET_KEY", "")
	t.Setenv("JWT_ISSUER", "finalapi")
	t.Setenv("JWT_AUDIENCE", "finalapi-clients")

	cmd := NewRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"serve"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrInvalid))
	assert.Contains(t, err.Error(), "JWT_SECRET_KEY")
}

func TestMigrate_RequiresDSN(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")

	cmd := NewRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"migrate"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrInvalid))
}

func TestOpenUserStore_Memory(t *testing.T) {
	cfg := config.Config{StoreDriver: config.DriverMemory}

	users, closeFn, err := openUserStore(context.Background(), cfg, logging.Setup("test", "json", io.Discard))
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &store.MemoryStore{}, users)
}

func TestOpenAttempts(t *testing.T) {
	logger := logging.Setup("test", "json", io.Discard)

	tracker, closeFn, err := openAttempts(context.Background(), config.Config{}, logger)
	require.NoError(t, err)
	closeFn()
	assert.Nil(t, tracker)

	cfg := config.Config{Lockout: config.Lockout{Enabled: true, MaxFailedAttempts: 3, Duration: time.Minute}}
	tracker, closeFn, err = openAttempts(context.Background(), cfg, logger)
	require.NoError(t, err)
	closeFn()
	assert.NotNil(t, tracker)
}
