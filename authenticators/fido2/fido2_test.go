package fido2_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-sso-broker/audit"
	fakeauditrepo "github.com/jrsteele09/go-sso-broker/audit/repofake"
	"github.com/jrsteele09/go-sso-broker/authenticators"
	"github.com/jrsteele09/go-sso-broker/authenticators/fido2"
	fakeauthrepo "github.com/jrsteele09/go-sso-broker/authenticators/repofake"
	apperrors "github.com/jrsteele09/go-sso-broker/internal/errors"
	"github.com/jrsteele09/go-sso-broker/token"
	"github.com/jrsteele09/go-sso-broker/users"
	fakeuserrepo "github.com/jrsteele09/go-sso-broker/users/repofake"
)

type testFixture struct {
	now       time.Time
	verifier  *fido2.FakeVerifier
	records   *fakeauthrepo.FakeAuthenticatorRepo
	auditRepo *fakeauditrepo.FakeAuditRepo
	tokens    *token.Service
	signer    token.Signer
	auth      *fido2.Authenticator
	identity  authenticators.IdentityRef
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	f := &testFixture{
		now:       time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC),
		verifier:  fido2.NewFakeVerifier(),
		records:   fakeauthrepo.NewFakeAuthenticatorRepo(),
		auditRepo: fakeauditrepo.NewFakeAuditRepo(),
		signer:    token.NewHMACSigner("secret"),
	}
	f.tokens = token.NewService("sso.example.com", token.WithNowFunc(func() time.Time { return f.now }))

	userRepo := fakeuserrepo.NewFakeUserRepo()
	u := &users.User{Username: "user@example.com"}
	require.NoError(t, userRepo.Create(context.Background(), u))
	f.identity = authenticators.RefFor(u)

	f.auth = fido2.New(f.verifier, f.records, userRepo, f.tokens, f.signer, audit.NewLogger(f.auditRepo))
	return f
}

func body(t *testing.T, handle, challenge string, counter uint32) []byte {
	t.Helper()
	raw, err := json.Marshal(fido2.FakeResponse{Handle: handle, Challenge: challenge, Counter: counter})
	require.NoError(t, err)
	return raw
}

func (f *testFixture) register(t *testing.T, handle string, counter uint32) *authenticators.Record {
	t.Helper()
	ctx := context.Background()
	ch, err := f.auth.BeginRegistration(ctx, f.identity)
	require.NoError(t, err)
	rec, err := f.auth.CompleteRegistration(ctx, f.identity, "My key",
		authenticators.Response{Credential: body(t, handle, f.verifier.LastChallenge(), counter)}, ch.State)
	require.NoError(t, err)
	return rec
}

func (f *testFixture) login(t *testing.T, handle string, counter uint32) (*authenticators.AuthResult, error) {
	t.Helper()
	ctx := context.Background()
	ch, err := f.auth.BeginChallenge(ctx, f.identity)
	require.NoError(t, err)
	return f.auth.CompleteChallenge(ctx, f.identity,
		authenticators.Response{Credential: body(t, handle, f.verifier.LastChallenge(), counter)}, ch.State)
}

func TestRegistrationAddsRecordAndAudits(t *testing.T) {
	f := setupTestFixture(t)
	rec := f.register(t, "cred-1", 5)

	require.Equal(t, authenticators.TypeFIDO2, rec.Type)
	require.Equal(t, uint32(5), *rec.Counter)

	entries := f.auditRepo.All()
	require.Len(t, entries, 1)
	require.Equal(t, audit.ActionAdd, entries[0].Action)
	require.Equal(t, "My key (cred-1)", entries[0].Attribute)
}

func TestRegistrationRejectsBadLabel(t *testing.T) {
	f := setupTestFixture(t)
	ch, err := f.auth.BeginRegistration(context.Background(), f.identity)
	require.NoError(t, err)

	_, err = f.auth.CompleteRegistration(context.Background(), f.identity, "bad/label",
		authenticators.Response{Credential: body(t, "c", f.verifier.LastChallenge(), 0)}, ch.State)
	require.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestRegistrationStateBoundToSubject(t *testing.T) {
	f := setupTestFixture(t)
	ch, err := f.auth.BeginRegistration(context.Background(), f.identity)
	require.NoError(t, err)

	other := authenticators.IdentityRef{UserID: "someone-else", Username: "x@example.com"}
	_, err = f.auth.CompleteRegistration(context.Background(), other, "key",
		authenticators.Response{Credential: body(t, "c", f.verifier.LastChallenge(), 0)}, ch.State)
	require.ErrorIs(t, err, apperrors.ErrSubjectMismatch)
}

func TestLoginStateCannotBeReusedForRegistration(t *testing.T) {
	f := setupTestFixture(t)
	f.register(t, "cred-1", 0)

	ch, err := f.auth.BeginChallenge(context.Background(), f.identity)
	require.NoError(t, err)
	_, err = f.auth.CompleteRegistration(context.Background(), f.identity, "key",
		authenticators.Response{Credential: body(t, "cred-2", f.verifier.LastChallenge(), 0)}, ch.State)
	require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
}

func TestLoginIncreasingCounterUpdatesStore(t *testing.T) {
	f := setupTestFixture(t)
	f.register(t, "cred-1", 5)

	res, err := f.login(t, "cred-1", 6)
	require.NoError(t, err)
	require.Equal(t, f.identity.UserID, res.User.ID)

	stored, err := f.records.FindByHandle(context.Background(), f.identity.UserID, authenticators.TypeFIDO2, "cred-1")
	require.NoError(t, err)
	require.Equal(t, uint32(6), *stored.Counter)

	entries := f.auditRepo.All()
	last := entries[len(entries)-1]
	require.Equal(t, audit.ObjectAuthenticator, last.Object)
	require.Equal(t, audit.ActionLogin, last.Action)
	require.Equal(t, "My key (cred-1)", last.Attribute)
}

func TestLoginNonIncreasingCounterFails(t *testing.T) {
	f := setupTestFixture(t)
	f.register(t, "cred-1", 5)

	for _, counter := range []uint32{5, 4, 0} {
		_, err := f.login(t, "cred-1", counter)
		require.ErrorIs(t, err, apperrors.ErrAuthenticationFailed)
	}

	stored, err := f.records.FindByHandle(context.Background(), f.identity.UserID, authenticators.TypeFIDO2, "cred-1")
	require.NoError(t, err)
	require.Equal(t, uint32(5), *stored.Counter)
	require.Len(t, f.auditRepo.All(), 1)
}

func TestLoginZeroCounterAuthenticatorAllowed(t *testing.T) {
	f := setupTestFixture(t)
	f.register(t, "cred-1", 0)

	_, err := f.login(t, "cred-1", 0)
	require.NoError(t, err)
	_, err = f.login(t, "cred-1", 0)
	require.NoError(t, err)
}

func TestLoginExpiredState(t *testing.T) {
	f := setupTestFixture(t)
	f.register(t, "cred-1", 1)

	ch, err := f.auth.BeginChallenge(context.Background(), f.identity)
	require.NoError(t, err)
	f.now = f.now.Add(token.Short + time.Second)

	_, err = f.auth.CompleteChallenge(context.Background(), f.identity,
		authenticators.Response{Credential: body(t, "cred-1", f.verifier.LastChallenge(), 2)}, ch.State)
	require.ErrorIs(t, err, apperrors.ErrTokenExpired)
}

func TestBeginChallengeWithoutCredentials(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.auth.BeginChallenge(context.Background(), f.identity)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestHandleEncoding(t *testing.T) {
	raw := []byte{0xde, 0xad, 0xbe, 0xef}
	decoded, err := fido2.DecodeHandle(fido2.EncodeHandle(raw))
	require.NoError(t, err)
	require.Equal(t, raw, decoded)
}
