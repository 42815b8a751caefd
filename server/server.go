package server

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-sso-broker/auth"
	"github.com/jrsteele09/go-sso-broker/authenticators"
	"github.com/jrsteele09/go-sso-broker/authenticators/cert"
	"github.com/jrsteele09/go-sso-broker/internal/config"
	"github.com/jrsteele09/go-sso-broker/internal/utils"
	"github.com/jrsteele09/go-sso-broker/ratelimit"
	"github.com/jrsteele09/go-sso-broker/sso"
)

// Registrar enrolls new fido2 credentials.
type Registrar interface {
	BeginRegistration(ctx context.Context, identity authenticators.IdentityRef) (*authenticators.Challenge, error)
	CompleteRegistration(ctx context.Context, identity authenticators.IdentityRef, label string, response authenticators.Response, state string) (*authenticators.Record, error)
}

// CertEnroller issues client certificates.
type CertEnroller interface {
	Register(ctx context.Context, identity authenticators.IdentityRef, label, ip string) (*cert.Enrolled, error)
}

// Services is everything the HTTP layer dispatches to.
type Services struct {
	Auth    *auth.Service
	SSO     *sso.Service
	FIDO2   Registrar
	Certs   CertEnroller
	Limiter ratelimit.Limiter
}

type Server struct {
	env     string
	mux     *http.ServeMux
	routes  []string
	config  config.Config
	auth    *auth.Service
	sso     *sso.Service
	fido2   Registrar
	certs   CertEnroller
	limiter ratelimit.Limiter
	limits  config.RateLimits
	proxies config.TrustedProxies
	delay   func(limit time.Duration) time.Duration
	sleep   func(ctx context.Context, d time.Duration)
	nonce   func() (string, error)
	started time.Time
}

type Option func(*Server)

// WithAntiTimingSleep replaces the anti-timing sleep, for tests.
func WithAntiTimingSleep(sleep func(ctx context.Context, d time.Duration)) Option {
	return func(s *Server) {
		s.sleep = sleep
	}
}

func New(cfg config.Config, services Services, options ...Option) (*Server, error) {
	if services.Auth == nil || services.SSO == nil || services.FIDO2 == nil || services.Certs == nil {
		return nil, errors.New("[server.New] missing service")
	}
	if services.Limiter == nil {
		services.Limiter = ratelimit.NewMemoryLimiter()
	}
	s := &Server{
		env:     cfg.GetEnv(),
		mux:     http.NewServeMux(),
		config:  cfg,
		auth:    services.Auth,
		sso:     services.SSO,
		fido2:   services.FIDO2,
		certs:   services.Certs,
		limiter: services.Limiter,
		limits:  cfg.GetRateLimits(),
		proxies: cfg.GetTrustedProxies(),
		delay:   randomDelay,
		sleep:   sleepContext,
		nonce:   scriptNonce,
		started: time.Now(),
	}
	for _, opt := range options {
		opt(s)
	}

	s.initRoutes()
	s.logRoutes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)
		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	color, ok := methodColors[method]
	if !ok {
		color = Gray
	}
	log.Debug().Msgf("[%s] %s", color+paddedMethod+ResetColor, path)
}

func logRequest(method, path string, status int) {
	log.Debug().Msgf("%s%d%s %s %s", statusColor(status), status, ResetColor, method, path)
}

func randomDelay(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return rand.N(limit)
}

func scriptNonce() (string, error) {
	return utils.RandomHex(16)
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
