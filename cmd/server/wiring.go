package main

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-sso-broker/audit"
	auditpg "github.com/jrsteele09/go-sso-broker/audit/pgrepo"
	fakeauditrepo "github.com/jrsteele09/go-sso-broker/audit/repofake"
	"github.com/jrsteele09/go-sso-broker/auth"
	"github.com/jrsteele09/go-sso-broker/authenticators"
	"github.com/jrsteele09/go-sso-broker/authenticators/cert"
	"github.com/jrsteele09/go-sso-broker/authenticators/fido2"
	"github.com/jrsteele09/go-sso-broker/authenticators/password"
	authpg "github.com/jrsteele09/go-sso-broker/authenticators/pgrepo"
	fakeauthrepo "github.com/jrsteele09/go-sso-broker/authenticators/repofake"
	"github.com/jrsteele09/go-sso-broker/emailconfirm"
	confirmpg "github.com/jrsteele09/go-sso-broker/emailconfirm/pgrepo"
	fakeconfirmrepo "github.com/jrsteele09/go-sso-broker/emailconfirm/repofake"
	"github.com/jrsteele09/go-sso-broker/internal/config"
	"github.com/jrsteele09/go-sso-broker/internal/database"
	"github.com/jrsteele09/go-sso-broker/notify"
	"github.com/jrsteele09/go-sso-broker/pages"
	"github.com/jrsteele09/go-sso-broker/ratelimit"
	"github.com/jrsteele09/go-sso-broker/server"
	"github.com/jrsteele09/go-sso-broker/sessions"
	sessionpg "github.com/jrsteele09/go-sso-broker/sessions/pgrepo"
	fakesessionrepo "github.com/jrsteele09/go-sso-broker/sessions/repofake"
	"github.com/jrsteele09/go-sso-broker/sso"
	"github.com/jrsteele09/go-sso-broker/token"
	"github.com/jrsteele09/go-sso-broker/trust"
	"github.com/jrsteele09/go-sso-broker/users"
	userpg "github.com/jrsteele09/go-sso-broker/users/pgrepo"
	fakeuserrepo "github.com/jrsteele09/go-sso-broker/users/repofake"
)

type repos struct {
	users          users.UserRepo
	sessions       sessions.Repo
	authenticators authenticators.Repo
	confirmations  emailconfirm.Repo
	audit          audit.Repo
}

// application is everything run needs after wiring.
type application struct {
	handler  http.Handler
	identity *trust.ServerIdentity
	store    *trust.Store
	sinks    []audit.Sink
	closers  []func() error
}

func (a *application) close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			log.Warn().Err(err).Msg("close failed")
		}
	}
}

func build(ctx context.Context, c config.Config) (*application, error) {
	app := &application{}

	r, err := openRepos(ctx, c, app)
	if err != nil {
		return nil, err
	}

	registry, err := pages.LoadFile(c.GetPagesFile())
	if err != nil {
		return nil, err
	}

	if app.identity, err = trust.LoadOrCreateServerIdentity(c.GetKeysDir(), c.GetHostname(), c.GetAppName()); err != nil {
		return nil, err
	}
	if app.store, err = trust.LoadStore(c.GetKeysDir(), app.identity); err != nil {
		return nil, err
	}
	if err := trust.WriteBundle(ctx, c.GetKeysDir(), app.store, bundlePublisher(ctx, c)); err != nil {
		log.Warn().Err(err).Msg("CA bundle not fully published")
	}

	auditor, err := newAuditor(c, registry, r.audit, app)
	if err != nil {
		return nil, err
	}

	secret := c.GetTokenSecret()
	if secret == "" {
		if c.GetEnv() != "DEV" {
			return nil, errors.New("TOKEN_SECRET is required")
		}
		if secret, err = token.GenerateSecret(); err != nil {
			return nil, err
		}
		log.Warn().Msg("TOKEN_SECRET not set, tokens will not survive a restart")
	}
	tokens := token.NewService(c.GetHostname())
	signer := token.NewHMACSigner(secret)

	hasher := users.NewHasher(c.GetArgon2TimeCost(), c.GetArgon2MemoryCost())
	policyOptions := []users.PolicyOption{users.WithHistory(c.GetPasswordHistory())}
	if c.GetPwnedCheckEnabled() {
		policyOptions = append(policyOptions, users.WithPwnedChecker(users.NewPwnedRangeClient("", 5*time.Second), c.GetPwnedFailSafe()))
	}
	passwords := password.New(r.users, hasher, users.NewPasswordPolicy(r.users, hasher, policyOptions...), auditor)

	verifier, err := fido2.NewWebAuthnVerifier(fido2.WebAuthnConfig{
		RPID:          c.GetHostname(),
		RPDisplayName: c.GetAppName(),
		RPOrigins:     []string{c.GetBaseURL(), c.GetFrontendOrigin()},
	})
	if err != nil {
		return nil, err
	}
	fido2Auth := fido2.New(verifier, r.authenticators, r.users, tokens, signer, auditor)
	certAuth := cert.New(app.store, trust.NewIssuer(app.identity), cert.NewHTTPWebhookVerifier(&http.Client{Timeout: 10 * time.Second}),
		r.authenticators, r.users, auditor)

	notifier, err := newNotifier(c)
	if err != nil {
		return nil, err
	}
	confirmations := emailconfirm.NewService(r.confirmations, r.users, notifier, c.GetBaseURL(),
		emailconfirm.WithAppName(c.GetAppName()))

	authService, err := auth.NewService(
		auth.Repos{Users: r.users, Sessions: r.sessions, Authenticators: r.authenticators},
		tokens, signer, authenticators.NewRegistry(passwords, fido2Auth, certAuth), passwords, confirmations, auditor,
		auth.WithHiddenUnknownUsers(c.GetEnv() != "DEV"),
	)
	if err != nil {
		return nil, err
	}

	ssoService, err := sso.NewService(registry, tokens, signer, r.users, authService, auditor, app.identity, c.GetBaseURL())
	if err != nil {
		return nil, err
	}

	app.handler, err = server.New(c, server.Services{
		Auth:    authService,
		SSO:     ssoService,
		FIDO2:   fido2Auth,
		Certs:   certAuth,
		Limiter: newLimiter(ctx, c, app),
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

// openRepos uses Postgres when DATABASE_URL is set and in-memory repos otherwise.
func openRepos(ctx context.Context, c config.Config, app *application) (*repos, error) {
	if c.GetDatabaseURL() == "" {
		if c.GetEnv() != "DEV" {
			return nil, errors.New("DATABASE_URL is required")
		}
		log.Warn().Msg("DATABASE_URL not set, using in-memory storage")
		return &repos{
			users:          fakeuserrepo.NewFakeUserRepo(),
			sessions:       fakesessionrepo.NewFakeSessionRepo(),
			authenticators: fakeauthrepo.NewFakeAuthenticatorRepo(),
			confirmations:  fakeconfirmrepo.NewFakeConfirmationRepo(),
			audit:          fakeauditrepo.NewFakeAuditRepo(),
		}, nil
	}

	db, err := database.Open(ctx, c.GetDatabaseURL())
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, db.Close)
	if err := database.RunMigrations(ctx, db); err != nil {
		return nil, err
	}
	return postgresRepos(db), nil
}

func postgresRepos(db *sql.DB) *repos {
	return &repos{
		users:          userpg.NewPostgresUserRepo(db),
		sessions:       sessionpg.NewPostgresSessionRepo(db),
		authenticators: authpg.NewPostgresAuthenticatorRepo(db),
		confirmations:  confirmpg.NewPostgresConfirmationRepo(db),
		audit:          auditpg.NewPostgresAuditRepo(db),
	}
}

// newAuditor wires country lookup and one webhook sink per page with telemetry. Sinks
// are keyed on the page name, which is what page events carry.
func newAuditor(c config.Config, registry *pages.Registry, repo audit.Repo, app *application) (*audit.Logger, error) {
	options := []audit.LoggerOption{
		audit.WithPageLength(c.GetAuditPageLength()),
		audit.WithSinkTimeout(c.GetSinkTimeout()),
	}
	if path := c.GetGeoIPDatabase(); path != "" {
		geo, err := audit.OpenGeoIP(path)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, geo.Close)
		options = append(options, audit.WithCountryResolver(geo))
	}

	client := &http.Client{Timeout: c.GetSinkTimeout()}
	for _, page := range registry.All() {
		if page.Telemetry == nil {
			continue
		}
		objects := make([]audit.Object, 0, len(page.Telemetry.Objects))
		for _, o := range page.Telemetry.Objects {
			objects = append(objects, audit.Object(o))
		}
		sink, err := audit.NewWebhookSink(audit.WebhookSinkConfig{
			Name:       page.Name,
			URL:        page.Telemetry.URL,
			Projection: page.Telemetry.Projection,
			Page:       page.Name,
			Objects:    objects,
		}, client)
		if err != nil {
			return nil, err
		}
		app.sinks = append(app.sinks, sink)
	}
	if len(app.sinks) > 0 {
		options = append(options, audit.WithSinks(app.sinks...))
	}
	return audit.NewLogger(repo, options...), nil
}

func bundlePublisher(ctx context.Context, c config.Config) trust.Publisher {
	if c.GetCABundleBucket() == "" {
		return nil
	}
	publisher, err := trust.NewS3Publisher(ctx, trust.S3Config{
		Bucket:    c.GetCABundleBucket(),
		Key:       c.GetCABundleKey(),
		Region:    c.GetS3Region(),
		Endpoint:  c.GetS3Endpoint(),
		AccessKey: c.GetS3AccessKey(),
		SecretKey: c.GetS3SecretKey(),
	})
	if err != nil {
		log.Warn().Err(err).Msg("CA bundle upload disabled")
		return nil
	}
	return publisher
}

// newNotifier logs mail instead of sending it only in DEV.
func newNotifier(c config.Config) (notify.Notifier, error) {
	if c.GetSmtpAccount() == "" {
		if c.GetEnv() != "DEV" {
			return nil, errors.New("SMTP_ACCOUNT is required")
		}
		log.Warn().Msg("SMTP_ACCOUNT not set, mail is logged instead of sent")
		return notify.LogNotifier{}, nil
	}
	n, err := notify.NewSMTPNotifier(notify.SMTPConfig{
		Host:     c.GetSmtpHost(),
		Port:     c.GetSmtpPort(),
		Username: c.GetSmtpAccount(),
		Password: c.GetSmtpPassword(),
		From:     c.GetMailFrom(),
		Timeout:  c.GetMailTimeout(),
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

func newLimiter(ctx context.Context, c config.Config, app *application) ratelimit.Limiter {
	if c.GetRedisAddr() == "" {
		return ratelimit.NewMemoryLimiter()
	}
	client := ratelimit.NewRedisClient(c.GetRedisAddr(), c.GetRedisPassword())
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("Redis unreachable, rate limits are per process")
		_ = client.Close()
		return ratelimit.NewMemoryLimiter()
	}
	app.closers = append(app.closers, client.Close)
	return ratelimit.NewRedisLimiter(client)
}

func (a *application) watchCAs(ctx context.Context, c config.Config, onChange func()) {
	watcher := trust.NewWatcher(c.GetKeysDir(), trust.CountCAFiles(c.GetKeysDir()), c.GetCAWatchInterval(),
		func(before, after int) {
			log.Warn().Int("before", before).Int("after", after).Msg("custom CA files changed")
			onChange()
		})
	watcher.Run(ctx)
}

func (a *application) heartbeat(ctx context.Context, c config.Config) {
	audit.RunHeartbeat(ctx, a.sinks, c.GetHeartbeatInterval(), c.GetSinkTimeout())
}
