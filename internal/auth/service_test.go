package auth_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayush/finalapi/internal/auth"
	"github.com/ayush/finalapi/internal/config"
	"github.com/ayush/finalapi/internal/models"
	"github.com/ayush/finalapi/internal/store"
)

func defaultIdentity() config.Identity {
	return config.Identity{PasswordMinLength: 8}
}

func newService(t *testing.T, repo auth.UserRepository, identity config.Identity, timeout time.Duration) (*auth.Service, *auth.TokenIssuer) {
	t.Helper()
	issuer := newTestIssuer(t)
	svc, err := auth.NewService(newCredentials(t, repo, nil), issuer, identity, timeout, discardLogger())
	require.NoError(t, err)
	return svc, issuer
}

func ptr(s string) *string { return &s }

func aliceRegistration() models.RegisterRequest {
	return models.RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "longpass1"}
}

func codesOf(t *testing.T, err error) []string {
	t.Helper()
	var verrs auth.ValidationErrors
	require.True(t, errors.As(err, &verrs), "expected ValidationErrors, got %v", err)
	out := make([]string, len(verrs))
	for i, fe := range verrs {
		out[i] = fe.Field + ":" + fe.Code
	}
	return out
}

func TestNewService_RequiresDependencies(t *testing.T) {
	creds := newCredentials(t, store.NewMemoryStore(), nil)
	issuer := newTestIssuer(t)

	_, err := auth.NewService(nil, issuer, defaultIdentity(), time.Second, discardLogger())
	assert.Error(t, err)
	_, err = auth.NewService(creds, nil, defaultIdentity(), time.Second, discardLogger())
	assert.Error(t, err)
	_, err = auth.NewService(creds, issuer, defaultIdentity(), time.Second, nil)
	assert.Error(t, err)
	_, err = auth.NewService(creds, issuer, defaultIdentity(), 0, discardLogger())
	assert.Error(t, err)
}

func TestService_RegisterThenLogin(t *testing.T) {
	identity := defaultIdentity()
	identity.DefaultRoles = []string{"reader"}
	svc, issuer := newService(t, store.NewMemoryStore(), identity, time.Second)
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, aliceRegistration()))

	tok, err := svc.Login(ctx, models.LoginRequest{Email: "alice@example.com", Password: "longpass1"})
	require.NoError(t, err)

	claims, err := issuer.ParseToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Name)
	assert.Equal(t, []string{"reader"}, claims.Roles)
	assert.NotEmpty(t, claims.Subject)
}

func TestService_LoginEmailIsCaseInsensitive(t *testing.T) {
	svc, _ := newService(t, store.NewMemoryStore(), defaultIdentity(), time.Second)
	ctx := context.Background()
	require.NoError(t, svc.Register(ctx, aliceRegistration()))

	_, err := svc.Login(ctx, models.LoginRequest{Email: "  Alice@Example.COM ", Password: "longpass1"})
	assert.NoError(t, err)
}

func TestService_RegisterValidation(t *testing.T) {
	tests := []struct {
		name string
		req  models.RegisterRequest
		want []string
	}{
		{
			name: "everything missing",
			req:  models.RegisterRequest{},
			want: []string{"username:Required", "email:Required", "password:Required"},
		},
		{
			name: "bad username characters",
			req:  models.RegisterRequest{Username: "al ice", Email: "alice@example.com", Password: "longpass1"},
			want: []string{"username:InvalidUserName"},
		},
		{
			name: "bad email",
			req:  models.RegisterRequest{Username: "alice", Email: "not-an-email", Password: "longpass1"},
			want: []string{"email:InvalidEmail"},
		},
		{
			name: "display name email",
			req:  models.RegisterRequest{Username: "alice", Email: "Alice <alice@example.com>", Password: "longpass1"},
			want: []string{"email:InvalidEmail"},
		},
		{
			name: "short password",
			req:  models.RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "short"},
			want: []string{"password:PasswordTooShort"},
		},
		{
			name: "confirmation mismatch",
			req: models.RegisterRequest{
				Username: "alice", Email: "alice@example.com", Password: "longpass1", ConfirmPassword: ptr("longpass2"),
			},
			want: []string{"confirmPassword:PasswordMismatch"},
		},
		{
			name: "several problems at once",
			req:  models.RegisterRequest{Username: "bad name!", Email: "nope", Password: "x"},
			want: []string{"username:InvalidUserName", "email:InvalidEmail", "password:PasswordTooShort"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &countingRepo{MemoryStore: store.NewMemoryStore()}
			svc, _ := newService(t, repo, defaultIdentity(), time.Second)

			err := svc.Register(context.Background(), tt.req)
			assert.ElementsMatch(t, tt.want, codesOf(t, err))
			assert.Equal(t, int32(0), repo.creates.Load(), "rejected registration must not write")
		})
	}
}

func TestService_RegisterMatchingConfirmation(t *testing.T) {
	svc, _ := newService(t, store.NewMemoryStore(), defaultIdentity(), time.Second)
	req := aliceRegistration()
	req.ConfirmPassword = ptr(req.Password)

	assert.NoError(t, svc.Register(context.Background(), req))
}

func TestService_RegisterAllowedUsernameCharacters(t *testing.T) {
	svc, _ := newService(t, store.NewMemoryStore(), defaultIdentity(), time.Second)
	req := aliceRegistration()
	req.Username = "a.l-i_c+e@Z9"

	assert.NoError(t, svc.Register(context.Background(), req))
}

func TestService_RegisterDuplicates(t *testing.T) {
	tests := []struct {
		name string
		req  models.RegisterRequest
		want []string
	}{
		{
			name: "same email different case",
			req:  models.RegisterRequest{Username: "bob", Email: "ALICE@example.com", Password: "longpass1"},
			want: []string{"email:DuplicateEmail"},
		},
		{
			name: "same username different case",
			req:  models.RegisterRequest{Username: "Alice", Email: "bob@example.com", Password: "longpass1"},
			want: []string{"username:DuplicateUserName"},
		},
		{
			name: "both taken",
			req:  aliceRegistration(),
			want: []string{"username:DuplicateUserName", "email:DuplicateEmail"},
		},
		{
			name: "duplicate reported alongside other problems",
			req:  models.RegisterRequest{Username: "bob", Email: "alice@example.com", Password: "short"},
			want: []string{"email:DuplicateEmail", "password:PasswordTooShort"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &countingRepo{MemoryStore: store.NewMemoryStore()}
			svc, _ := newService(t, repo, defaultIdentity(), time.Second)
			require.NoError(t, svc.Register(context.Background(), aliceRegistration()))

			err := svc.Register(context.Background(), tt.req)
			assert.ElementsMatch(t, tt.want, codesOf(t, err))
			assert.Equal(t, int32(1), repo.creates.Load())
		})
	}
}

func TestService_RegisterWritesOnce(t *testing.T) {
	repo := &countingRepo{MemoryStore: store.NewMemoryStore()}
	svc, _ := newService(t, repo, defaultIdentity(), time.Second)

	require.NoError(t, svc.Register(context.Background(), aliceRegistration()))
	assert.Equal(t, int32(1), repo.creates.Load())
}

func TestService_ConcurrentDuplicateRegistration(t *testing.T) {
	svc, _ := newService(t, store.NewMemoryStore(), defaultIdentity(), 5*time.Second)
	const n = 4

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = svc.Register(context.Background(), models.RegisterRequest{
				Username: fmt.Sprintf("racer%d", i),
				Email:    "race@example.com",
				Password: "longpass1",
			})
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.Equal(t, []string{"email:DuplicateEmail"}, codesOf(t, err))
	}
	assert.Equal(t, 1, succeeded)
}

func TestService_LoginFailuresAreIndistinguishable(t *testing.T) {
	svc, _ := newService(t, store.NewMemoryStore(), defaultIdentity(), time.Second)
	ctx := context.Background()
	require.NoError(t, svc.Register(ctx, aliceRegistration()))

	_, unknown := svc.Login(ctx, models.LoginRequest{Email: "nobody@example.com", Password: "longpass1"})
	_, wrong := svc.Login(ctx, models.LoginRequest{Email: "alice@example.com", Password: "wrongpass"})

	require.Error(t, unknown)
	require.Error(t, wrong)
	assert.True(t, errors.Is(unknown, auth.ErrUnauthorized))
	assert.True(t, errors.Is(wrong, auth.ErrUnauthorized))
	assert.Equal(t, unknown.Error(), wrong.Error())
}

func TestService_LoginValidation(t *testing.T) {
	svc, _ := newService(t, store.NewMemoryStore(), defaultIdentity(), time.Second)

	_, err := svc.Login(context.Background(), models.LoginRequest{})
	assert.ElementsMatch(t, []string{"email:Required", "password:Required"}, codesOf(t, err))
}

func TestService_LoginIssuesDistinctTokens(t *testing.T) {
	svc, _ := newService(t, store.NewMemoryStore(), defaultIdentity(), time.Second)
	ctx := context.Background()
	require.NoError(t, svc.Register(ctx, aliceRegistration()))

	login := models.LoginRequest{Email: "alice@example.com", Password: "longpass1"}
	a, err := svc.Login(ctx, login)
	require.NoError(t, err)
	b, err := svc.Login(ctx, login)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestService_LoginLockedOut(t *testing.T) {
	creds := newCredentials(t, store.NewMemoryStore(), auth.NewMemoryAttempts(2, time.Minute))
	svc, err := auth.NewService(creds, newTestIssuer(t), defaultIdentity(), time.Second, discardLogger())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, svc.Register(ctx, aliceRegistration()))

	for range 2 {
		_, err := svc.Login(ctx, models.LoginRequest{Email: "alice@example.com", Password: "wrongpass"})
		require.True(t, errors.Is(err, auth.ErrUnauthorized))
	}

	_, err = svc.Login(ctx, models.LoginRequest{Email: "alice@example.com", Password: "longpass1"})
	assert.True(t, errors.Is(err, auth.ErrUnauthorized))
}

func TestService_InfrastructureFailures(t *testing.T) {
	svc, _ := newService(t, failingRepo{err: errors.New("connection refused")}, defaultIdentity(), time.Second)
	ctx := context.Background()

	err := svc.Register(ctx, aliceRegistration())
	require.Error(t, err)
	assert.True(t, errors.Is(err, auth.ErrInfrastructure))
	assert.NotContains(t, err.Error(), "longpass1")

	_, err = svc.Login(ctx, models.LoginRequest{Email: "alice@example.com", Password: "longpass1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, auth.ErrInfrastructure))
	assert.False(t, errors.Is(err, auth.ErrUnauthorized))
	assert.NotContains(t, err.Error(), "longpass1")
}

func TestService_StoreTimeout(t *testing.T) {
	svc, _ := newService(t, blockingRepo{}, defaultIdentity(), 20*time.Millisecond)

	start := time.Now()
	err := svc.Register(context.Background(), aliceRegistration())
	require.Error(t, err)
	assert.True(t, errors.Is(err, auth.ErrInfrastructure))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 2*time.Second)

	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "alice@example.com", Password: "longpass1"})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
