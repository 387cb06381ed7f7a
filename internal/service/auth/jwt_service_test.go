package auth

import (
	"context"
	"testing"
	"time"

	"github.com/phrazzld/matrix-outbox/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret  = "test-secret-that-is-long-enough-for-testing"
	wrongSecret = "wrong-secret-that-is-long-enough-for-testing"
	testSession = "@alice:example.org"
)

func newTestService(t *testing.T, secret, session string, lifetime time.Duration, now time.Time) *hmacJWTService {
	t.Helper()
	svc, err := newJWTService(secret, session, lifetime, func() time.Time { return now })
	require.NoError(t, err)
	return svc
}

func TestNewJWTService(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     config.AuthConfig
		session string
		wantErr bool
	}{
		{"valid", config.AuthConfig{JWTSecret: testSecret, TokenLifetime: time.Hour}, testSession, false},
		{"short secret", config.AuthConfig{JWTSecret: "short", TokenLifetime: time.Hour}, testSession, true},
		{"no session", config.AuthConfig{JWTSecret: testSecret, TokenLifetime: time.Hour}, "", true},
		{"no lifetime", config.AuthConfig{JWTSecret: testSecret}, testSession, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc, err := NewJWTService(tt.cfg, tt.session)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, svc)
				return
			}
			assert.NoError(t, err)
			assert.NotNil(t, svc)
		})
	}
}

func TestGenerateToken(t *testing.T) {
	t.Parallel()

	fixedTime := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	lifetime := 60 * time.Minute
	svc := newTestService(t, testSecret, testSession, lifetime, fixedTime)

	token, err := svc.GenerateToken(context.Background(), "operator")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "operator", claims.Subject)
	assert.Equal(t, testSession, claims.Session)
	assert.Equal(t, fixedTime.Unix(), claims.IssuedAt.Unix())
	assert.Equal(t, fixedTime.Add(lifetime).Unix(), claims.ExpiresAt.Unix())
	assert.NotEmpty(t, claims.ID)
}

func TestValidateToken(t *testing.T) {
	t.Parallel()

	fixedTime := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	lifetime := 60 * time.Minute

	issue := func(t *testing.T, secret, session string, at time.Time) string {
		token, err := newTestService(t, secret, session, lifetime, at).GenerateToken(context.Background(), "operator")
		require.NoError(t, err)
		return token
	}

	tests := []struct {
		name      string
		token     func(t *testing.T) string
		validator func(t *testing.T) *hmacJWTService
		wantErr   error
	}{
		{
			name:  "valid token",
			token: func(t *testing.T) string { return issue(t, testSecret, testSession, fixedTime) },
			validator: func(t *testing.T) *hmacJWTService {
				return newTestService(t, testSecret, testSession, lifetime, fixedTime)
			},
		},
		{
			name:  "within clock skew after expiry",
			token: func(t *testing.T) string { return issue(t, testSecret, testSession, fixedTime) },
			validator: func(t *testing.T) *hmacJWTService {
				return newTestService(t, testSecret, testSession, lifetime, fixedTime.Add(lifetime+time.Minute))
			},
		},
		{
			name:  "expired token",
			token: func(t *testing.T) string { return issue(t, testSecret, testSession, fixedTime) },
			validator: func(t *testing.T) *hmacJWTService {
				return newTestService(t, testSecret, testSession, lifetime, fixedTime.Add(lifetime+time.Hour))
			},
			wantErr: ErrExpiredToken,
		},
		{
			name:  "not yet valid",
			token: func(t *testing.T) string { return issue(t, testSecret, testSession, fixedTime.Add(time.Hour)) },
			validator: func(t *testing.T) *hmacJWTService {
				return newTestService(t, testSecret, testSession, lifetime, fixedTime)
			},
			wantErr: ErrTokenNotYetValid,
		},
		{
			name:  "invalid signature",
			token: func(t *testing.T) string { return issue(t, testSecret, testSession, fixedTime) },
			validator: func(t *testing.T) *hmacJWTService {
				return newTestService(t, wrongSecret, testSession, lifetime, fixedTime)
			},
			wantErr: ErrInvalidToken,
		},
		{
			name:  "other session",
			token: func(t *testing.T) string { return issue(t, testSecret, "@bob:example.org", fixedTime) },
			validator: func(t *testing.T) *hmacJWTService {
				return newTestService(t, testSecret, testSession, lifetime, fixedTime)
			},
			wantErr: ErrWrongSession,
		},
		{
			name:  "malformed token",
			token: func(t *testing.T) string { return "this.is.not.a.valid.jwt.token" },
			validator: func(t *testing.T) *hmacJWTService {
				return newTestService(t, testSecret, testSession, lifetime, fixedTime)
			},
			wantErr: ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			claims, err := tt.validator(t).ValidateToken(context.Background(), tt.token(t))

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, claims)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "operator", claims.Subject)
		})
	}
}
