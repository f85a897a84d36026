package server

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/meancat/panicstream/api"
)

// DefaultTokenTTL is the lifetime of an issued bearer token.
const DefaultTokenTTL = time.Hour

const anonymousSubject = "anonymous"

// Authenticator issues and validates bearer tokens. Tokens are HS256 signed JWTs.
type Authenticator struct {
	appKey     []byte
	signingKey []byte
	ttl        time.Duration
	now        func() time.Time
}

// NewAuthenticator creates an Authenticator. With an empty appKey no token is ever issued
// through IssueToken, only through Mint.
func NewAuthenticator(appKey, signingKey string, ttl time.Duration) (*Authenticator, error) {
	if len(signingKey) < 32 {
		return nil, errors.New("signing key must be at least 32 bytes long")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	return &Authenticator{
		appKey:     []byte(appKey),
		signingKey: []byte(signingKey),
		ttl:        ttl,
		now:        time.Now,
	}, nil
}

// IssueToken checks the Authorization header against the app key and returns a signed token
// for username.
func (a *Authenticator) IssueToken(authorization, username string) (string, error) {
	if err := a.CheckAppKey(authorization); err != nil {
		return "", err
	}

	return a.Mint(username)
}

// CheckAppKey reports an unauthorized error unless the Authorization header carries the app key.
func (a *Authenticator) CheckAppKey(authorization string) error {
	secret, ok := bearer(authorization)
	if !ok || subtle.ConstantTimeCompare([]byte(secret), a.appKey) != 1 {
		return api.NewError("issue token", api.KindUnauthorized, errors.New("invalid app key"))
	}
	return nil
}

// Mint signs a token for subject without checking the app key. An empty subject is anonymous.
func (a *Authenticator) Mint(subject string) (string, error) {
	if subject == "" {
		subject = anonymousSubject
	}

	now := a.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		ID:        uuid.NewString(),
	})

	signed, err := token.SignedString(a.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

// Validate parses the Authorization header and returns the token subject.
func (a *Authenticator) Validate(authorization string) (string, error) {
	raw, ok := bearer(authorization)
	if !ok {
		return "", api.NewError("validate token", api.KindUnauthorized, errors.New("missing bearer token"))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		return a.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return "", api.NewError("validate token", api.KindUnauthorized, err)
	}

	return claims.Subject, nil
}

func bearer(authorization string) (string, bool) {
	const prefix = "Bearer "
	if len(authorization) <= len(prefix) || !strings.EqualFold(authorization[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(authorization[len(prefix):]), true
}
