package password_test

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-sso-broker/audit"
	fakeauditrepo "github.com/jrsteele09/go-sso-broker/audit/repofake"
	"github.com/jrsteele09/go-sso-broker/authenticators"
	"github.com/jrsteele09/go-sso-broker/authenticators/password"
	apperrors "github.com/jrsteele09/go-sso-broker/internal/errors"
	"github.com/jrsteele09/go-sso-broker/users"
	fakeuserrepo "github.com/jrsteele09/go-sso-broker/users/repofake"
)

type testFixture struct {
	users     *fakeuserrepo.FakeUserRepo
	auditRepo *fakeauditrepo.FakeAuditRepo
	auth      *password.Authenticator
	user      *users.User
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	f := &testFixture{
		users:     fakeuserrepo.NewFakeUserRepo(),
		auditRepo: fakeauditrepo.NewFakeAuditRepo(),
	}
	hasher := users.NewHasher(1, 1024)
	policy := users.NewPasswordPolicy(f.users, hasher)
	f.auth = password.New(f.users, hasher, policy, audit.NewLogger(f.auditRepo))

	f.user = &users.User{Username: "user@example.com"}
	require.NoError(t, f.users.Create(context.Background(), f.user))
	return f
}

func TestNoChallengeStep(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.auth.BeginChallenge(context.Background(), authenticators.RefFor(f.user))
	require.ErrorIs(t, err, authenticators.ErrNoChallenge)
}

func TestLoginSuccessAuditsAndUpdatesLastLogin(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	require.NoError(t, f.auth.SetPassword(ctx, f.user.ID, "correct horse"))

	res, err := f.auth.CompleteChallenge(ctx, authenticators.IdentityRef{Username: "USER@example.com"},
		authenticators.Response{Password: "correct horse", IP: "10.0.0.1"}, "")
	require.NoError(t, err)
	require.Equal(t, f.user.ID, res.User.ID)

	entries := f.auditRepo.All()
	require.Len(t, entries, 1)
	require.Equal(t, audit.ObjectLogin, entries[0].Object)
	require.Equal(t, audit.ActionPassword, entries[0].Action)

	u, err := f.users.GetByID(ctx, f.user.ID)
	require.NoError(t, err)
	require.NotNil(t, u.LastLogin)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	// no password set yet
	_, errNoHash := f.auth.CompleteChallenge(ctx, authenticators.RefFor(f.user), authenticators.Response{Password: "whatever1"}, "")

	require.NoError(t, f.auth.SetPassword(ctx, f.user.ID, "correct horse"))
	_, errWrong := f.auth.CompleteChallenge(ctx, authenticators.RefFor(f.user), authenticators.Response{Password: "wrong horse"}, "")
	_, errUnknown := f.auth.CompleteChallenge(ctx, authenticators.IdentityRef{Username: "nobody@example.com"}, authenticators.Response{Password: "correct horse"}, "")

	for _, err := range []error{errNoHash, errWrong, errUnknown} {
		require.ErrorIs(t, err, apperrors.ErrAuthenticationFailed)
		require.Equal(t, apperrors.MessageOf(errWrong), apperrors.MessageOf(err))
	}
	require.Empty(t, f.auditRepo.All())
}

func TestLoginFailureLatenciesOverlap(t *testing.T) {
	if testing.Short() {
		t.Skip("timing samples are slow")
	}
	f := setupTestFixture(t)
	ctx := context.Background()
	hasher := users.NewHasher(1, 16*1024)
	auth := password.New(f.users, hasher, users.NewPasswordPolicy(f.users, hasher), audit.NewLogger(f.auditRepo))
	require.NoError(t, auth.SetPassword(ctx, f.user.ID, "correct horse"))

	known := authenticators.RefFor(f.user)
	unknown := authenticators.IdentityRef{Username: "nobody@example.com"}
	attempt := func(identity authenticators.IdentityRef) time.Duration {
		start := time.Now()
		_, err := auth.CompleteChallenge(ctx, identity, authenticators.Response{Password: "wrong horse"}, "")
		elapsed := time.Since(start)
		require.ErrorIs(t, err, apperrors.ErrAuthenticationFailed)
		return elapsed
	}

	// warm up the dummy hash
	attempt(unknown)
	attempt(known)

	const samples = 25
	var wrongPassword, unknownUser []time.Duration
	for i := 0; i < samples; i++ {
		wrongPassword = append(wrongPassword, attempt(known))
		unknownUser = append(unknownUser, attempt(unknown))
	}
	slices.Sort(wrongPassword)
	slices.Sort(unknownUser)

	require.LessOrEqual(t, wrongPassword[0], unknownUser[samples-1])
	require.LessOrEqual(t, unknownUser[0], wrongPassword[samples-1])

	ratio := float64(unknownUser[samples/2]) / float64(wrongPassword[samples/2])
	require.InDelta(t, 1.0, ratio, 0.5, "median unknown-user %s vs wrong-password %s",
		unknownUser[samples/2], wrongPassword[samples/2])
}

func TestSetPasswordHonoursPolicy(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	require.ErrorIs(t, f.auth.SetPassword(ctx, f.user.ID, "short"), apperrors.ErrValidation)
	require.NoError(t, f.auth.SetPassword(ctx, f.user.ID, "first password"))
	err := f.auth.SetPassword(ctx, f.user.ID, "first password")
	require.Equal(t, "Password has been previously used", apperrors.MessageOf(err))
}
