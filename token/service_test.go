package token_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	apperrors "github.com/jrsteele09/go-sso-broker/internal/errors"
	"github.com/jrsteele09/go-sso-broker/token"
	"github.com/stretchr/testify/require"
)

const (
	hostname = "sso.example.com"
	secret   = "1234"
)

type testFixture struct {
	now     time.Time
	service *token.Service
	signer  token.Signer
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	f := &testFixture{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	f.service = token.NewService(hostname, token.WithNowFunc(func() time.Time { return f.now }))
	f.signer = token.NewHMACSigner(secret)
	return f
}

func TestSignVerifyRoundTrip(t *testing.T) {
	f := setupTestFixture(t)

	for _, ttl := range []time.Duration{time.Second, token.Short, token.Medium, token.Long} {
		raw, err := f.service.Sign(jwt.MapClaims{"sub": "user-1", "username": "a@b.com"}, f.signer, ttl)
		require.NoError(t, err)

		claims, err := f.service.Verify(raw, f.signer, token.VerifyOptions{})
		require.NoError(t, err)
		require.Equal(t, "user-1", claims["sub"])
		require.Equal(t, "a@b.com", claims["username"])
		require.Equal(t, hostname, claims["iss"])
		require.Equal(t, hostname, claims["aud"])
	}
}

func TestSignRejectsNonPositiveTTL(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.service.Sign(jwt.MapClaims{}, f.signer, 0)
	require.Error(t, err)
}

func TestVerifyWrongKey(t *testing.T) {
	f := setupTestFixture(t)
	raw, err := f.service.Sign(jwt.MapClaims{"sub": "user-1"}, f.signer, token.Short)
	require.NoError(t, err)

	_, err = f.service.Verify(raw, token.NewHMACSigner("other"), token.VerifyOptions{})
	require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
}

func TestVerifyGarbage(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.service.Verify("not-a-token", f.signer, token.VerifyOptions{})
	require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
}

func TestVerifyExpired(t *testing.T) {
	f := setupTestFixture(t)
	raw, err := f.service.Sign(jwt.MapClaims{"sub": "user-1"}, f.signer, token.Short)
	require.NoError(t, err)

	f.now = f.now.Add(token.Short + time.Second)
	_, err = f.service.Verify(raw, f.signer, token.VerifyOptions{})
	require.ErrorIs(t, err, apperrors.ErrTokenExpired)
}

func TestVerifyMaxAge(t *testing.T) {
	f := setupTestFixture(t)
	raw, err := f.service.Sign(jwt.MapClaims{"sub": "user-1"}, f.signer, token.Long)
	require.NoError(t, err)

	f.now = f.now.Add(token.Medium + time.Minute)
	_, err = f.service.Verify(raw, f.signer, token.VerifyOptions{MaxAge: token.Medium})
	require.ErrorIs(t, err, apperrors.ErrTokenExpired)

	_, err = f.service.Verify(raw, f.signer, token.VerifyOptions{MaxAge: token.Long})
	require.NoError(t, err)
}

func TestVerifyAudienceMismatch(t *testing.T) {
	f := setupTestFixture(t)
	raw, err := f.service.Sign(jwt.MapClaims{"aud": "Page1"}, f.signer, token.Short)
	require.NoError(t, err)

	_, err = f.service.Verify(raw, f.signer, token.VerifyOptions{})
	require.ErrorIs(t, err, apperrors.ErrAudienceMismatch)

	_, err = f.service.Verify(raw, f.signer, token.VerifyOptions{Audience: "Page1"})
	require.NoError(t, err)
}

func TestVerifyIssuerMismatch(t *testing.T) {
	f := setupTestFixture(t)
	raw, err := f.service.Sign(jwt.MapClaims{"iss": "Page1"}, f.signer, token.Short)
	require.NoError(t, err)

	_, err = f.service.Verify(raw, f.signer, token.VerifyOptions{})
	require.ErrorIs(t, err, apperrors.ErrTokenInvalid)

	_, err = f.service.Verify(raw, f.signer, token.VerifyOptions{Issuer: "Page1"})
	require.NoError(t, err)
}

func TestVerifySubjectMismatch(t *testing.T) {
	f := setupTestFixture(t)
	raw, err := f.service.Sign(jwt.MapClaims{"sub": "user-1"}, f.signer, token.Short)
	require.NoError(t, err)

	_, err = f.service.Verify(raw, f.signer, token.VerifyOptions{Subject: "user-2"})
	require.ErrorIs(t, err, apperrors.ErrSubjectMismatch)

	_, err = f.service.Verify(raw, f.signer, token.VerifyOptions{Subject: "user-1"})
	require.NoError(t, err)
}

func TestGenerateSecret(t *testing.T) {
	a, err := token.GenerateSecret()
	require.NoError(t, err)
	b, err := token.GenerateSecret()
	require.NoError(t, err)
	require.Len(t, a, 60)
	require.NotEqual(t, a, b)
}

func TestVerifyRejectsOtherHMACAlgorithms(t *testing.T) {
	f := setupTestFixture(t)
	claims := jwt.MapClaims{"sub": "user-1", "iss": hostname, "aud": hostname, "exp": f.now.Add(time.Minute).Unix()}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(secret))
	require.NoError(t, err)

	_, err = f.service.Verify(raw, f.signer, token.VerifyOptions{})
	require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
}

func TestEmptySecretCannotSign(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.service.Sign(jwt.MapClaims{"sub": "user-1"}, token.NewHMACSigner(""), token.Short)
	require.Error(t, err)
}
