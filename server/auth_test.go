package server

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/meancat/panicstream/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAuthenticator(t *testing.T) {
	tests := []struct {
		name       string
		appKey     string
		signingKey string
		wantErr    string
	}{
		{name: "valid", appKey: "app", signingKey: testSigningKey},
		{name: "mint only", appKey: "", signingKey: testSigningKey},
		{name: "short signing key", appKey: "app", signingKey: "short", wantErr: "signing key must be at least 32 bytes long"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth, err := NewAuthenticator(tt.appKey, tt.signingKey, 0)
			if tt.wantErr != "" {
				assert.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, DefaultTokenTTL, auth.ttl)
		})
	}
}

func TestAuthenticator_IssueToken(t *testing.T) {
	// Given
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	auth, err := NewAuthenticator(testAppKey, testSigningKey, time.Hour)
	require.NoError(t, err)
	auth.now = func() time.Time { return now }

	// When
	token, err := auth.IssueToken("Bearer "+testAppKey, "alice")
	require.NoError(t, err)

	// Then
	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(testSigningKey), nil
	}, jwt.WithTimeFunc(func() time.Time { return now }))
	require.NoError(t, err)

	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, now.Add(time.Hour).Unix(), claims.ExpiresAt.Unix())
	assert.Equal(t, now.Unix(), claims.IssuedAt.Unix())
	assert.NotEmpty(t, claims.ID)

	subject, err := auth.Validate("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "alice", subject)

	auth.now = func() time.Time { return now.Add(61 * time.Minute) }
	_, err = auth.Validate("Bearer " + token)
	assert.True(t, errors.Is(err, api.ErrUnauthorized))
}

func TestAuthenticator_RejectsOtherAlgorithms(t *testing.T) {
	auth, err := NewAuthenticator(testAppKey, testSigningKey, time.Hour)
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testSigningKey))
	require.NoError(t, err)

	_, err = auth.Validate("Bearer " + signed)
	assert.Equal(t, api.KindUnauthorized, api.KindOf(err))
}

func TestAuthenticator_RequiresExpiry(t *testing.T) {
	auth, err := NewAuthenticator(testAppKey, testSigningKey, time.Hour)
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "alice"})
	signed, err := token.SignedString([]byte(testSigningKey))
	require.NoError(t, err)

	_, err = auth.Validate("Bearer " + signed)
	assert.True(t, errors.Is(err, api.ErrUnauthorized))
}

func TestAuthenticator_MintOnly(t *testing.T) {
	auth, err := NewAuthenticator("", testSigningKey, time.Hour)
	require.NoError(t, err)

	_, err = auth.IssueToken("Bearer anything", "alice")
	assert.True(t, errors.Is(err, api.ErrUnauthorized))

	token, err := auth.Mint("")
	require.NoError(t, err)
	subject, err := auth.Validate("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "anonymous", subject)
}

func TestAuthenticator_IssueToken_WrongAppKey(t *testing.T) {
	auth, err := NewAuthenticator(testAppKey, testSigningKey, time.Hour)
	require.NoError(t, err)

	token, err := auth.IssueToken("Bearer not-the-key", "alice")

	assert.Empty(t, token)
	assert.True(t, errors.Is(err, api.ErrUnauthorized))
}
