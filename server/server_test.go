package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"software.sslmate.com/src/go-pkcs12"

	"github.com/jrsteele09/go-sso-broker/audit"
	fakeauditrepo "github.com/jrsteele09/go-sso-broker/audit/repofake"
	"github.com/jrsteele09/go-sso-broker/auth"
	"github.com/jrsteele09/go-sso-broker/authenticators"
	"github.com/jrsteele09/go-sso-broker/authenticators/cert"
	"github.com/jrsteele09/go-sso-broker/authenticators/fido2"
	"github.com/jrsteele09/go-sso-broker/authenticators/password"
	fakeauthrepo "github.com/jrsteele09/go-sso-broker/authenticators/repofake"
	"github.com/jrsteele09/go-sso-broker/emailconfirm"
	fakeconfirmrepo "github.com/jrsteele09/go-sso-broker/emailconfirm/repofake"
	"github.com/jrsteele09/go-sso-broker/internal/config"
	"github.com/jrsteele09/go-sso-broker/internal/mocks"
	"github.com/jrsteele09/go-sso-broker/notify"
	"github.com/jrsteele09/go-sso-broker/pages"
	"github.com/jrsteele09/go-sso-broker/server"
	fakesessionrepo "github.com/jrsteele09/go-sso-broker/sessions/repofake"
	"github.com/jrsteele09/go-sso-broker/sso"
	"github.com/jrsteele09/go-sso-broker/token"
	"github.com/jrsteele09/go-sso-broker/trust"
	"github.com/jrsteele09/go-sso-broker/users"
	fakeuserrepo "github.com/jrsteele09/go-sso-broker/users/repofake"
)

const (
	hostname      = "sso.example.com"
	frontend      = "https://app.example.com"
	pageSecret    = "page1-secret"
	testUsername  = "user@example.com"
	testPassword  = "correct horse battery"
	testRemoteIP  = "192.0.2.10"
	jsonMediaType = "application/json"
)

var tokenPattern = regexp.MustCompile(`[0-9a-f]{60}`)

type testFixture struct {
	server    *server.Server
	tokens    *token.Service
	verifier  *fido2.FakeVerifier
	auditRepo *fakeauditrepo.FakeAuditRepo

	sleepLock sync.Mutex
	slept     []time.Duration

	mailLock sync.Mutex
	mails    []notify.Message
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	t.Setenv("ENV", "TEST")
	t.Setenv("DOMAIN", hostname)
	t.Setenv("FRONTEND_ORIGIN", frontend)
	t.Setenv("ALLOWED_ORIGINS", "https://rp.example.com")
	t.Setenv("TRUST_PROXY_CERT_HEADER", "true")
	cfg, err := config.Parse()
	require.NoError(t, err)

	f := &testFixture{
		tokens:    token.NewService(hostname),
		verifier:  fido2.NewFakeVerifier(),
		auditRepo: fakeauditrepo.NewFakeAuditRepo(),
	}
	userRepo := fakeuserrepo.NewFakeUserRepo()
	records := fakeauthrepo.NewFakeAuthenticatorRepo()
	signer := token.NewHMACSigner("broker-secret")

	notifier := mocks.NewMockNotifier(gomock.NewController(t))
	notifier.EXPECT().Send(gomock.Any(), gomock.Any()).AnyTimes().DoAndReturn(func(_ context.Context, m notify.Message) error {
		f.mailLock.Lock()
		defer f.mailLock.Unlock()
		f.mails = append(f.mails, m)
		return nil
	})

	auditor := audit.NewLogger(f.auditRepo)
	hasher := users.NewHasher(1, 1024)
	passwords := password.New(userRepo, hasher, users.NewPasswordPolicy(userRepo, hasher), auditor)
	confirmations := emailconfirm.NewService(fakeconfirmrepo.NewFakeConfirmationRepo(), userRepo, notifier, "https://"+hostname)

	keysDir := t.TempDir()
	identity, err := trust.LoadOrCreateServerIdentity(keysDir, hostname, "SSO Test")
	require.NoError(t, err)
	store, err := trust.LoadStore(keysDir, identity)
	require.NoError(t, err)

	fido2Auth := fido2.New(f.verifier, records, userRepo, f.tokens, signer, auditor)
	certAuth := cert.New(store, trust.NewIssuer(identity), cert.NewHTTPWebhookVerifier(http.DefaultClient), records, userRepo, auditor)

	authService, err := auth.NewService(
		auth.Repos{Users: userRepo, Sessions: fakesessionrepo.NewFakeSessionRepo(), Authenticators: records},
		f.tokens, signer, authenticators.NewRegistry(passwords, fido2Auth, certAuth), passwords, confirmations, auditor,
	)
	require.NoError(t, err)

	registry, err := pages.New(
		&pages.Page{ID: "1", Name: "Page1", Secret: pageSecret, Redirect: "https://page1.example.com/callback", Default: true},
	)
	require.NoError(t, err)
	ssoService, err := sso.NewService(registry, f.tokens, signer, userRepo, authService, auditor, identity, "https://"+hostname)
	require.NoError(t, err)

	f.server, err = server.New(cfg, server.Services{
		Auth:  authService,
		SSO:   ssoService,
		FIDO2: fido2Auth,
		Certs: certAuth,
	}, server.WithAntiTimingSleep(func(_ context.Context, d time.Duration) {
		f.sleepLock.Lock()
		defer f.sleepLock.Unlock()
		f.slept = append(f.slept, d)
	}))
	require.NoError(t, err)
	return f
}

type request struct {
	method  string
	path    string
	body    any
	bearer  string
	headers map[string]string
	peer    string
}

func (f *testFixture) do(t *testing.T, req request) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if req.body != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(req.body))
	}
	r := httptest.NewRequest(req.method, req.path, &body)
	r.RemoteAddr = testRemoteIP + ":41000"
	if req.peer != "" {
		r.RemoteAddr = req.peer + ":41000"
	}
	if req.body != nil {
		r.Header.Set("Content-Type", jsonMediaType)
	}
	if req.bearer != "" {
		r.Header.Set("Authorization", "Bearer "+req.bearer)
	}
	for k, v := range req.headers {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, r)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (f *testFixture) lastMailToken(t *testing.T) string {
	t.Helper()
	f.mailLock.Lock()
	defer f.mailLock.Unlock()
	require.NotEmpty(t, f.mails)
	tok := tokenPattern.FindString(f.mails[len(f.mails)-1].Text)
	require.NotEmpty(t, tok)
	return tok
}

// activate registers and activates testUsername over HTTP and returns its login token.
func (f *testFixture) activate(t *testing.T) auth.TokenResponse {
	t.Helper()
	w := f.do(t, request{method: http.MethodPost, path: server.RouteRegister, body: auth.RegisterRequest{Username: testUsername}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, request{method: http.MethodPost, path: server.RouteActivate,
		body: auth.ActivateRequest{Token: f.lastMailToken(t), Password: testPassword}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	login := decode[auth.TokenResponse](t, w)
	require.Equal(t, auth.FactorLogin, login.Factor)
	return login
}

// emailFactor upgrades a login token to a session token through the emailed link.
func (f *testFixture) emailFactor(t *testing.T, loginToken string) auth.TokenResponse {
	t.Helper()
	w := f.do(t, request{method: http.MethodGet, path: server.RouteEmailAuth, bearer: loginToken})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, request{method: http.MethodGet, bearer: loginToken,
		path: server.RouteEmailConfirm + "?action=login&token=" + f.lastMailToken(t)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	session := decode[auth.TokenResponse](t, w)
	require.Equal(t, auth.FactorSession, session.Factor)
	return session
}

func (f *testFixture) passwordLogin(t *testing.T) auth.TokenResponse {
	t.Helper()
	w := f.do(t, request{method: http.MethodPost, path: server.RouteLogin,
		body: auth.LoginRequest{Username: testUsername, Password: testPassword}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[auth.TokenResponse](t, w)
}

func TestNewRequiresServices(t *testing.T) {
	cfg, err := config.Parse()
	require.NoError(t, err)
	_, err = server.New(cfg, server.Services{})
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	f := setupTestFixture(t)
	w := f.do(t, request{method: http.MethodGet, path: server.RouteHealth})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok", decode[map[string]any](t, w)["status"])
}

func TestPasswordLoginEmailFactorAndAudit(t *testing.T) {
	f := setupTestFixture(t)
	f.activate(t)
	login := f.passwordLogin(t)
	session := f.emailFactor(t, login.Token)

	w := f.do(t, request{method: http.MethodGet, path: server.RouteAudit, bearer: session.Token})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	entries := decode[[]audit.Entry](t, w)
	require.NotEmpty(t, entries)

	var objects []audit.Object
	for _, e := range entries {
		objects = append(objects, e.Object)
	}
	require.Contains(t, objects, audit.ObjectLogin)
	require.Contains(t, objects, audit.ObjectRegistration)

	// The login token alone cannot read the audit log.
	w = f.do(t, request{method: http.MethodGet, path: server.RouteAudit, bearer: login.Token})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// The confirmation token is single use.
	w = f.do(t, request{method: http.MethodGet, bearer: login.Token,
		path: server.RouteEmailConfirm + "?action=login&token=" + f.lastMailToken(t)})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestWrongPasswordIsForbidden(t *testing.T) {
	f := setupTestFixture(t)
	f.activate(t)
	w := f.do(t, request{method: http.MethodPost, path: server.RouteLogin,
		body: auth.LoginRequest{Username: testUsername, Password: "not the password"}})
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Contains(t, decode[map[string]string](t, w), "error")
}

func TestLoginAcceptsFormBody(t *testing.T) {
	f := setupTestFixture(t)
	f.activate(t)

	form := url.Values{"username": {testUsername}, "password": {testPassword}}
	r := httptest.NewRequest(http.MethodPost, server.RouteLogin, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, testUsername, decode[auth.TokenResponse](t, w).Username)
}

func TestEmailConfirmRedirects(t *testing.T) {
	f := setupTestFixture(t)

	w := f.do(t, request{method: http.MethodGet, path: server.RouteEmailConfirm + "?action=registration&token=abc"})
	require.Equal(t, http.StatusSeeOther, w.Code)
	require.Equal(t, frontend+"/#/register/abc", w.Header().Get("Location"))

	w = f.do(t, request{method: http.MethodGet, path: server.RouteEmailConfirm + "?action=change&token=abc"})
	require.Equal(t, http.StatusSeeOther, w.Code)
	require.Equal(t, frontend+"/#/change-password/abc", w.Header().Get("Location"))

	w = f.do(t, request{method: http.MethodGet, path: server.RouteEmailConfirm + "?action=other&token=abc"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "Invalid action", decode[map[string]string](t, w)["error"])
}

func TestFIDO2EnrollAndRelogin(t *testing.T) {
	f := setupTestFixture(t)
	login := f.activate(t)
	session := f.emailFactor(t, login.Token)

	// Enrolling needs a session.
	w := f.do(t, request{method: http.MethodGet, path: server.RouteFIDO2Register, bearer: login.Token})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, request{method: http.MethodGet, path: server.RouteFIDO2Register, bearer: session.Token})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	challenge := decode[authenticators.Challenge](t, w)
	require.NotEmpty(t, challenge.State)

	w = f.do(t, request{method: http.MethodPost, path: server.RouteFIDO2Register, bearer: session.Token, body: map[string]any{
		"label":      "Security key",
		"state":      challenge.State,
		"credential": fido2.FakeResponse{Handle: "cred-1", Challenge: f.verifier.LastChallenge(), Counter: 1},
	}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "cred-1", decode[authenticators.Record](t, w).Handle)

	w = f.do(t, request{method: http.MethodPost, path: server.RouteLogout, bearer: session.Token})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = f.do(t, request{method: http.MethodGet, path: server.RouteMe, bearer: session.Token})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	relogin := f.passwordLogin(t)
	w = f.do(t, request{method: http.MethodGet, path: server.RouteFIDO2Login, bearer: relogin.Token})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	challenge = decode[authenticators.Challenge](t, w)

	w = f.do(t, request{method: http.MethodPost, path: server.RouteFIDO2Login, bearer: relogin.Token, body: map[string]any{
		"state":      challenge.State,
		"credential": fido2.FakeResponse{Handle: "cred-1", Challenge: f.verifier.LastChallenge(), Counter: 2},
	}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	second := decode[auth.TokenResponse](t, w)
	require.Equal(t, auth.FactorSession, second.Factor)

	w = f.do(t, request{method: http.MethodGet, path: server.RouteMe, bearer: second.Token})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	profile := decode[auth.Profile](t, w)
	require.True(t, profile.IsAuthenticated)
	require.Len(t, profile.Authenticators, 1)

	w = f.do(t, request{method: http.MethodPost, path: server.RouteAuthenticatorDelete, bearer: second.Token,
		body: map[string]string{"type": "fido2", "handle": "cred-1"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestFlowInFlowOut(t *testing.T) {
	f := setupTestFixture(t)
	f.activate(t)

	signed, err := f.tokens.Sign(jwt.MapClaims{"iss": "Page1", "sub": testUsername}, token.NewHMACSigner(pageSecret), token.Short)
	require.NoError(t, err)

	w := f.do(t, request{method: http.MethodGet, path: server.RouteFlowIn + "?id=1&d=" + url.QueryEscape(signed)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var flowIn struct {
		auth.TokenResponse
		Page sso.PageView `json:"page"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &flowIn))
	require.Equal(t, testUsername, flowIn.Username)
	require.Equal(t, auth.FactorLogin, flowIn.Factor)
	require.NotEmpty(t, flowIn.Page.Token)

	// A login token cannot complete the flow.
	w = f.do(t, request{method: http.MethodPost, path: server.RouteFlowOut, bearer: flowIn.Token,
		headers: map[string]string{server.HeaderFlowToken: flowIn.Page.Token}})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	session := f.emailFactor(t, flowIn.Token)
	w = f.do(t, request{method: http.MethodPost, path: server.RouteFlowOut, bearer: session.Token,
		headers: map[string]string{server.HeaderFlowToken: flowIn.Page.Token}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode[sso.FlowOutResult](t, w)
	require.Equal(t, "https://page1.example.com/callback", out.Redirect)

	claims, err := f.tokens.Verify(out.Token, token.NewHMACSigner(pageSecret), token.VerifyOptions{Audience: "Page1", Subject: testUsername})
	require.NoError(t, err)
	require.Equal(t, hostname, claims["iss"])
}

func TestFlowInRejectsMissingParameters(t *testing.T) {
	f := setupTestFixture(t)
	w := f.do(t, request{method: http.MethodGet, path: server.RouteFlowIn})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "Invalid flow request - missing parameters", decode[map[string]string](t, w)["error"])
}

func TestDefaultPageAndMetadata(t *testing.T) {
	f := setupTestFixture(t)

	w := f.do(t, request{method: http.MethodGet, path: server.RouteDefaultPage})
	require.Equal(t, http.StatusOK, w.Code)
	require.NotContains(t, w.Body.String(), pageSecret)

	w = f.do(t, request{method: http.MethodGet, path: server.RouteSAMLMetadata})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/samlmetadata+xml", w.Header().Get("Content-Type"))
	require.Contains(t, w.Body.String(), "EntityDescriptor")
}

func TestCertRegisterAndProxyLogin(t *testing.T) {
	f := setupTestFixture(t)
	login := f.activate(t)
	session := f.emailFactor(t, login.Token)

	w := f.do(t, request{method: http.MethodPost, path: server.RouteCertRegister, bearer: session.Token,
		body: map[string]string{"label": "Laptop"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "application/x-pkcs12", w.Header().Get("Content-Type"))
	_, issued, _, err := pkcs12.DecodeChain(w.Body.Bytes(), "")
	require.NoError(t, err)
	certHeader := url.QueryEscape(string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: issued.Raw})))

	relogin := f.passwordLogin(t)

	// Without the verified marker the header is ignored.
	w = f.do(t, request{method: http.MethodPost, path: server.RouteCertLogin, bearer: relogin.Token,
		headers: map[string]string{"X-TLS-Cert": certHeader}})
	require.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, request{method: http.MethodPost, path: server.RouteCertLogin, bearer: relogin.Token,
		headers: map[string]string{"X-TLS-Verified": "SUCCESS", "X-TLS-Cert": certHeader}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, auth.FactorSession, decode[auth.TokenResponse](t, w).Factor)

	// A browser bridge posts the login token in the form and gets a page back.
	bridgeLogin := f.passwordLogin(t)
	form := url.Values{"authorizationToken": {bridgeLogin.Token}}
	r := httptest.NewRequest(http.MethodPost, server.RouteCertLogin, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.Header.Set("X-TLS-Verified", "SUCCESS")
	r.Header.Set("X-TLS-Cert", certHeader)
	bw := httptest.NewRecorder()
	f.server.ServeHTTP(bw, r)
	require.Equal(t, http.StatusOK, bw.Code, bw.Body.String())
	require.Contains(t, bw.Header().Get("Content-Type"), "text/html")
	require.Contains(t, bw.Header().Get("Content-Security-Policy"), "nonce-")
	require.Contains(t, bw.Body.String(), "postMessage")
	require.Contains(t, bw.Body.String(), "app.example.com")
}

func TestCorsPreflight(t *testing.T) {
	f := setupTestFixture(t)

	w := f.do(t, request{method: http.MethodOptions, path: server.RouteLogin, headers: map[string]string{"Origin": "https://rp.example.com"}})
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "https://rp.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), server.HeaderFlowToken)

	w = f.do(t, request{method: http.MethodOptions, path: server.RouteLogin, headers: map[string]string{"Origin": frontend}})
	require.Equal(t, frontend, w.Header().Get("Access-Control-Allow-Origin"))

	w = f.do(t, request{method: http.MethodOptions, path: server.RouteLogin, headers: map[string]string{"Origin": "https://evil.example.com"}})
	require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSecurityHeaders(t *testing.T) {
	f := setupTestFixture(t)
	w := f.do(t, request{method: http.MethodGet, path: server.RouteDefaultPage})
	require.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	require.NotEmpty(t, w.Header().Get("Strict-Transport-Security"))
	require.NotEmpty(t, w.Header().Get("Content-Security-Policy"))
}

func TestRegisterIsRateLimited(t *testing.T) {
	f := setupTestFixture(t)
	limit := config.Security{}.GetRateLimits().Register.Max

	for i := 0; i < limit; i++ {
		w := f.do(t, request{method: http.MethodPost, path: server.RouteRegister, body: auth.RegisterRequest{Username: testUsername}})
		require.NotEqual(t, http.StatusTooManyRequests, w.Code)
	}
	w := f.do(t, request{method: http.MethodPost, path: server.RouteRegister, body: auth.RegisterRequest{Username: testUsername}})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "Too many requests, please try again later", decode[map[string]string](t, w)["error"])

	// A forwarded address from an untrusted peer does not buy a new budget.
	w = f.do(t, request{method: http.MethodPost, path: server.RouteRegister, body: auth.RegisterRequest{Username: testUsername},
		headers: map[string]string{"X-Forwarded-For": "198.51.100.7"}})
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	// Other clients keep their own budget.
	w = f.do(t, request{method: http.MethodPost, path: server.RouteRegister, body: auth.RegisterRequest{Username: testUsername},
		peer: "198.51.100.8"})
	require.NotEqual(t, http.StatusTooManyRequests, w.Code)
}

func TestForwardedForIsHonouredOnlyFromTrustedProxies(t *testing.T) {
	f := setupTestFixture(t)
	limit := config.Security{}.GetRateLimits().Login.Max
	login := auth.LoginRequest{Username: "nobody@example.com", Password: "x"}

	limited := 0
	for i := 0; i < limit+10; i++ {
		w := f.do(t, request{method: http.MethodPost, path: server.RouteLogin, body: login,
			headers: map[string]string{"X-Forwarded-For": fmt.Sprintf("203.0.113.%d", i)}})
		if w.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	require.Equal(t, 10, limited)

	// Behind the proxy each forwarded client has its own budget.
	for i := 0; i < limit+10; i++ {
		w := f.do(t, request{method: http.MethodPost, path: server.RouteLogin, body: login,
			peer: "172.18.0.2", headers: map[string]string{"X-Forwarded-For": fmt.Sprintf("203.0.113.%d", i)}})
		require.NotEqual(t, http.StatusTooManyRequests, w.Code)
	}
}

func TestAntiTimingDelaysSensitiveRoutes(t *testing.T) {
	f := setupTestFixture(t)
	f.activate(t)
	f.do(t, request{method: http.MethodPost, path: server.RouteLogin, body: auth.LoginRequest{Username: "nobody@example.com", Password: "x"}})

	f.sleepLock.Lock()
	defer f.sleepLock.Unlock()
	// register and login both waited; activate did not.
	require.Len(t, f.slept, 2)
	for _, d := range f.slept {
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.Less(t, d, 1500*time.Millisecond)
	}
}
