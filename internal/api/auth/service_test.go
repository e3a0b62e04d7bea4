package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/zflow/zflow/internal/api/model"
	"github.com/zflow/zflow/internal/api/storage"
	"github.com/zflow/zflow/shared/apperror"
	"github.com/zflow/zflow/shared/database"
	"github.com/zflow/zflow/shared/logger"
)

func newTestService(t *testing.T) (*Service, *storage.Storage) {
	t.Helper()

	log := logger.NewDiscard().Logger
	client, err := database.NewSQLiteMemory(log)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	store := storage.NewStorage(client)
	svc := NewService(store, Config{
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
		BcryptCost: bcrypt.MinCost,
	}, log)

	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, store.CreateTenant(ctx, &model.Tenant{ID: "t1", Name: "Acme", CreatedAt: now}))

	hash, err := svc.HashPassword("secret")
	require.NoError(t, err)
	require.NoError(t, store.CreateUser(ctx, &model.User{
		ID: "u1", TenantID: "t1", Name: "Ana", Email: "ana@acme.test",
		PasswordHash: hash, Role: "admin", CreatedAt: now,
	}))

	return svc, store
}

func TestLogin(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		password string
		kind     apperror.Kind
		field    string
		wantErr  bool
	}{
		{name: "valid credentials", email: "ana@acme.test", password: "secret"},
		{name: "email is normalized", email: "  ANA@acme.test ", password: "secret"},
		{name: "wrong password", email: "ana@acme.test", password: "nope", wantErr: true, kind: apperror.KindAuthentication},
		{name: "unknown email", email: "bob@acme.test", password: "secret", wantErr: true, kind: apperror.KindAuthentication},
		{name: "missing email", password: "secret", wantErr: true, kind: apperror.KindValidation, field: "email"},
		{name: "missing password", email: "ana@acme.test", wantErr: true, kind: apperror.KindValidation, field: "password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t)

			user, tokens, err := svc.Login(context.Background(), tt.email, tt.password)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.kind, apperror.KindOf(err))
				if tt.field != "" {
					var appErr *apperror.Error
					require.ErrorAs(t, err, &appErr)
					assert.Equal(t, tt.field, appErr.Field)
				}
				return
			}

			require.NoError(t, err)
			assert.Equal(t, "u1", user.ID)
			assert.Len(t, tokens.AccessToken, 2*tokenBytes)
			assert.NotEqual(t, tokens.AccessToken, tokens.RefreshToken)
		})
	}
}

func TestAuthenticate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, tokens, err := svc.Login(ctx, "ana@acme.test", "secret")
	require.NoError(t, err)

	principal, err := svc.Authenticate(ctx, tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", principal.UserID)
	assert.Equal(t, "t1", principal.TenantID)
	assert.Equal(t, "admin", principal.Role)

	_, err = svc.Authenticate(ctx, "unknown")
	assert.True(t, apperror.IsAuthentication(err))

	_, err = svc.Authenticate(ctx, "")
	assert.True(t, apperror.IsAuthentication(err))

	svc.now = func() time.Time { return time.Now().UTC().Add(2 * time.Minute) }
	_, err = svc.Authenticate(ctx, tokens.AccessToken)
	require.Error(t, err)
	assert.Equal(t, "access token expired", err.Error())
}

func TestRefreshRotatesTokens(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, first, err := svc.Login(ctx, "ana@acme.test", "secret")
	require.NoError(t, err)

	second, err := svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	// the old pair is dead
	_, err = svc.Authenticate(ctx, first.AccessToken)
	assert.True(t, apperror.IsAuthentication(err))
	_, err = svc.Refresh(ctx, first.RefreshToken)
	assert.True(t, apperror.IsAuthentication(err))

	_, err = svc.Authenticate(ctx, second.AccessToken)
	assert.NoError(t, err)
}

func TestRefreshErrors(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.Refresh(ctx, "")
	assert.True(t, apperror.IsValidation(err))

	_, tokens, err := svc.Login(ctx, "ana@acme.test", "secret")
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	_, err = svc.Refresh(ctx, tokens.RefreshToken)
	require.Error(t, err)
	assert.Equal(t, "refresh token expired", err.Error())

	_, err = store.GetSessionByRefreshToken(ctx, tokens.RefreshToken)
	assert.True(t, apperror.IsNotFound(err))
}

func TestLogout(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, tokens, err := svc.Login(ctx, "ana@acme.test", "secret")
	require.NoError(t, err)

	principal, err := svc.Authenticate(ctx, tokens.AccessToken)
	require.NoError(t, err)
	require.NoError(t, svc.Logout(ctx, principal))

	_, err = svc.Authenticate(ctx, tokens.AccessToken)
	assert.True(t, apperror.IsAuthentication(err))
}
