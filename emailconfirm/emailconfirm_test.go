package emailconfirm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/jrsteele09/go-sso-broker/emailconfirm"
	fakeconfirmrepo "github.com/jrsteele09/go-sso-broker/emailconfirm/repofake"
	apperrors "github.com/jrsteele09/go-sso-broker/internal/errors"
	"github.com/jrsteele09/go-sso-broker/internal/mocks"
	"github.com/jrsteele09/go-sso-broker/notify"
	"github.com/jrsteele09/go-sso-broker/users"
	fakeuserrepo "github.com/jrsteele09/go-sso-broker/users/repofake"
)

const ip = "10.0.0.1"

type testFixture struct {
	now      time.Time
	repo     *fakeconfirmrepo.FakeConfirmationRepo
	notifier *mocks.MockNotifier
	service  *emailconfirm.Service
	sent     []notify.Message
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	f := &testFixture{
		now:      time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
		repo:     fakeconfirmrepo.NewFakeConfirmationRepo(),
		notifier: mocks.NewMockNotifier(gomock.NewController(t)),
	}
	userRepo := fakeuserrepo.NewFakeUserRepo()
	require.NoError(t, userRepo.Create(context.Background(), &users.User{Username: "known@example.com"}))

	f.service = emailconfirm.NewService(f.repo, userRepo, f.notifier, "https://sso.example.com",
		emailconfirm.WithNowFunc(func() time.Time { return f.now }),
		emailconfirm.WithAppName("OWASP Single Sign-On"))
	return f
}

func (f *testFixture) expectMail() {
	f.notifier.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, m notify.Message) error {
		f.sent = append(f.sent, m)
		return nil
	})
}

func TestRegistrationRequest(t *testing.T) {
	f := setupTestFixture(t)
	f.expectMail()

	tok, err := f.service.Request(context.Background(), "New@Example.com", emailconfirm.PurposeRegistration, ip)
	require.NoError(t, err)
	require.Len(t, tok, 60)
	require.Len(t, f.sent, 1)
	require.Equal(t, "new@example.com", f.sent[0].To)
	require.Equal(t, "Confirm your email address", f.sent[0].Subject)
	require.Contains(t, f.sent[0].Text, "https://sso.example.com/#/register/"+tok)
}

func TestRegistrationOfKnownUserConflicts(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.service.Request(context.Background(), "known@example.com", emailconfirm.PurposeRegistration, ip)
	require.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestLoginRequestForUnknownUser(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.service.Request(context.Background(), "nobody@example.com", emailconfirm.PurposeLogin, ip)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestLoginMailLink(t *testing.T) {
	f := setupTestFixture(t)
	f.expectMail()
	tok, err := f.service.Request(context.Background(), "known@example.com", emailconfirm.PurposeLogin, ip)
	require.NoError(t, err)
	require.Equal(t, "Log into OWASP Single Sign-On", f.sent[0].Subject)
	require.Contains(t, f.sent[0].Text, "/#/two-factor/"+tok)
}

func TestFailedMailRemovesToken(t *testing.T) {
	f := setupTestFixture(t)
	f.notifier.EXPECT().Send(gomock.Any(), gomock.Any()).Return(apperrors.Upstream("Could not send email", errors.New("down")))

	_, err := f.service.Request(context.Background(), "known@example.com", emailconfirm.PurposeChange, ip)
	require.ErrorIs(t, err, apperrors.ErrUpstreamUnavailable)
	require.Equal(t, 0, f.repo.Len())
}

func TestResolveConsumesToken(t *testing.T) {
	f := setupTestFixture(t)
	f.expectMail()
	ctx := context.Background()
	tok, err := f.service.Request(ctx, "known@example.com", emailconfirm.PurposeLogin, ip)
	require.NoError(t, err)

	c, err := f.service.Resolve(ctx, tok, emailconfirm.PurposeLogin, ip, false)
	require.NoError(t, err)
	require.Equal(t, "known@example.com", c.Username)

	_, err = f.service.Resolve(ctx, tok, emailconfirm.PurposeLogin, ip, false)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestResolvePeekThenInvalidate(t *testing.T) {
	f := setupTestFixture(t)
	f.expectMail()
	ctx := context.Background()
	tok, err := f.service.Request(ctx, "known@example.com", emailconfirm.PurposeChange, ip)
	require.NoError(t, err)

	_, err = f.service.Resolve(ctx, tok, emailconfirm.PurposeChange, ip, true)
	require.NoError(t, err)
	_, err = f.service.Resolve(ctx, tok, emailconfirm.PurposeChange, ip, true)
	require.NoError(t, err)

	require.NoError(t, f.service.Invalidate(ctx, tok))
	_, err = f.service.Resolve(ctx, tok, emailconfirm.PurposeChange, ip, true)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestResolveChecks(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	f.expectMail()
	tok, err := f.service.Request(ctx, "known@example.com", emailconfirm.PurposeLogin, ip)
	require.NoError(t, err)

	_, err = f.service.Resolve(ctx, tok, emailconfirm.PurposeChange, ip, true)
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = f.service.Resolve(ctx, tok, emailconfirm.PurposeLogin, "10.9.9.9", true)
	require.ErrorIs(t, err, apperrors.ErrValidation)
	require.Equal(t, "Your IP must stay the same from request to confirmation", apperrors.MessageOf(err))

	_, err = f.service.Resolve(ctx, "", emailconfirm.PurposeLogin, ip, true)
	require.ErrorIs(t, err, apperrors.ErrValidation)

	f.now = f.now.Add(emailconfirm.Validity + time.Minute)
	_, err = f.service.Resolve(ctx, tok, emailconfirm.PurposeLogin, ip, true)
	require.ErrorIs(t, err, apperrors.ErrTokenExpired)
	require.Equal(t, 0, f.repo.Len())
}

func TestRequestRejectsUnknownPurpose(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.service.Request(context.Background(), "known@example.com", emailconfirm.Purpose("bogus"), ip)
	require.ErrorIs(t, err, apperrors.ErrValidation)
}
