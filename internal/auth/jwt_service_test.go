package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestNewJWTServiceRequiresSecret(t *testing.T) {
	_, err := NewJWTService(JWTConfig{})
	require.EqualError(t, err, "jwt: secret must be provided")
}

func TestGenerateAndValidateAccessToken(t *testing.T) {
	current := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	svc, err := NewJWTService(JWTConfig{
		Secret:         "super-secret",
		Issuer:         "school-identity",
		Audience:       "authenticated",
		AccessTokenTTL: time.Hour,
		Clock:          fixedClock(current),
	})
	require.NoError(t, err)

	token, err := svc.GenerateAccessToken(AccessTokenInput{UserID: "user-123", Email: "t@school.example"})
	require.NoError(t, err)

	claims, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)
	require.Equal(t, "user-123", claims.UserID())
	require.Equal(t, "t@school.example", claims.Email)
	require.Equal(t, jwt.ClaimStrings{"authenticated"}, claims.Audience)
	require.True(t, claims.ExpiresAt.Time.Equal(current.Add(time.Hour)))
}

func TestValidateAccessTokenRejectsForeignSignature(t *testing.T) {
	now := fixedClock(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC))
	issuer, err := NewJWTService(JWTConfig{Secret: "issuer-secret", Clock: now})
	require.NoError(t, err)
	verifier, err := NewJWTService(JWTConfig{Secret: "other-secret", Clock: now})
	require.NoError(t, err)

	token, err := issuer.GenerateAccessToken(AccessTokenInput{UserID: "user"})
	require.NoError(t, err)

	_, err = verifier.ValidateAccessToken(token)
	require.Error(t, err)
}

func TestValidateAccessTokenRejectsExpired(t *testing.T) {
	current := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	svc, err := NewJWTService(JWTConfig{Secret: "s", AccessTokenTTL: time.Minute, Clock: func() time.Time { return current }})
	require.NoError(t, err)

	token, err := svc.GenerateAccessToken(AccessTokenInput{UserID: "user"})
	require.NoError(t, err)

	current = current.Add(2 * time.Minute)
	_, err = svc.ValidateAccessToken(token)
	require.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestValidateAccessTokenChecksIssuerAndAudience(t *testing.T) {
	now := fixedClock(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC))
	minter, err := NewJWTService(JWTConfig{Secret: "s", Issuer: "other", Clock: now})
	require.NoError(t, err)
	strict, err := NewJWTService(JWTConfig{Secret: "s", Issuer: "school-identity", Audience: "authenticated", Clock: now})
	require.NoError(t, err)

	token, err := minter.GenerateAccessToken(AccessTokenInput{UserID: "user"})
	require.NoError(t, err)

	_, err = strict.ValidateAccessToken(token)
	require.Error(t, err)
}

func TestGenerateRequiresUserID(t *testing.T) {
	svc, err := NewJWTService(JWTConfig{Secret: "s"})
	require.NoError(t, err)
	_, err = svc.GenerateAccessToken(AccessTokenInput{})
	require.Error(t, err)

	_, err = svc.ValidateAccessToken("")
	require.Error(t, err)
}
