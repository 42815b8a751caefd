package config

import (
	"fmt"
	"strings"
	"time"
)

type EnvVars struct {
	Port           string `env:"PORT" envDefault:"8080"`
	AppName        string `env:"APP_NAME" envDefault:"SSO Broker"`
	Env            string `env:"ENV" envDefault:"DEV"`
	Domain         string `env:"DOMAIN" envDefault:"localhost"`
	FrontendOrigin string `env:"FRONTEND_ORIGIN"`
	PagesFile      string `env:"PAGES_FILE" envDefault:"./pages.toml"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	AllowedOrigins string `env:"ALLOWED_ORIGINS"`

	TokenSecret string `env:"TOKEN_SECRET"`

	SmtpHost     string        `env:"SMTP_HOST" envDefault:"smtp.gmail.com"`
	SmtpPort     int           `env:"SMTP_PORT" envDefault:"587"`
	SmtpAccount  string        `env:"SMTP_ACCOUNT"`
	SmtpPassword string        `env:"SMTP_PASSWORD"`
	MailFrom     string        `env:"MAIL_FROM"`
	MailTimeout  time.Duration `env:"MAIL_TIMEOUT" envDefault:"10s"`

	DatabaseURL   string `env:"DATABASE_URL"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	GeoIPDatabase     string        `env:"GEOIP_DATABASE"`
	HeartbeatInterval time.Duration `env:"TELEMETRY_HEARTBEAT" envDefault:"1m"`
	SinkTimeout       time.Duration `env:"TELEMETRY_TIMEOUT" envDefault:"5s"`
	AuditPageLength   int           `env:"AUDIT_PAGE_LENGTH" envDefault:"5"`

	KeysDir              string        `env:"KEYS_DIR" envDefault:"./keys"`
	CAWatchInterval      time.Duration `env:"CA_WATCH_INTERVAL" envDefault:"15m"`
	TrustProxyCertHeader bool          `env:"TRUST_PROXY_CERT_HEADER"`
	CABundleBucket       string        `env:"CA_BUNDLE_BUCKET"`
	CABundleKey          string        `env:"CA_BUNDLE_KEY" envDefault:"bundled-ca.pem"`
	S3Region             string        `env:"S3_REGION" envDefault:"us-east-1"`
	S3Endpoint           string        `env:"S3_ENDPOINT"`
	S3AccessKey          string        `env:"S3_ACCESS_KEY"`
	S3SecretKey          string        `env:"S3_SECRET_KEY"`

	Security Security
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetPort() string {
	port := e.Port
	if port != "" && port[0] != ':' {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (e EnvVars) GetAppName() string { return e.AppName }

func (e EnvVars) GetEnv() string {
	if e.Env == "" {
		return "DEV"
	}
	return e.Env
}

// GetHostname is the broker's canonical hostname, used as default token issuer and audience.
func (e EnvVars) GetHostname() string {
	host := e.Domain
	if i := strings.Index(host, ":"); i >= 0 {
		host = host[:i]
	}
	return host
}

func (e EnvVars) GetBaseURL() string {
	return "https://" + e.Domain
}

func (e EnvVars) GetFrontendOrigin() string {
	if e.FrontendOrigin == "" {
		return e.GetBaseURL()
	}
	return e.FrontendOrigin
}

func (e EnvVars) GetPagesFile() string { return e.PagesFile }
func (e EnvVars) GetLogLevel() string { return e.LogLevel }

func (e EnvVars) IsLocalhost() bool {
	return e.GetHostname() == "localhost"
}

func (e EnvVars) GetTokenSecret() string { return e.TokenSecret }

func (e EnvVars) GetSmtpHost() string { return e.SmtpHost }
func (e EnvVars) GetSmtpPort() int { return e.SmtpPort }
func (e EnvVars) GetSmtpAccount() string { return e.SmtpAccount }
func (e EnvVars) GetSmtpPassword() string { return e.SmtpPassword }
func (e EnvVars) GetMailTimeout() time.Duration { return e.MailTimeout }

func (e EnvVars) GetMailFrom() string {
	if e.MailFrom == "" {
		return e.SmtpAccount
	}
	return e.MailFrom
}

func (e EnvVars) GetDatabaseURL() string { return e.DatabaseURL }
func (e EnvVars) GetRedisAddr() string { return e.RedisAddr }
func (e EnvVars) GetRedisPassword() string { return e.RedisPassword }

func (e EnvVars) GetGeoIPDatabase() string { return e.GeoIPDatabase }
func (e EnvVars) GetHeartbeatInterval() time.Duration { return e.HeartbeatInterval }
func (e EnvVars) GetSinkTimeout() time.Duration { return e.SinkTimeout }

func (e EnvVars) GetAuditPageLength() int {
	if e.AuditPageLength <= 0 {
		return 5
	}
	return e.AuditPageLength
}

func (e EnvVars) GetKeysDir() string { return e.KeysDir }
func (e EnvVars) GetCAWatchInterval() time.Duration { return e.CAWatchInterval }
func (e EnvVars) GetTrustProxyCertHeader() bool { return e.TrustProxyCertHeader }
func (e EnvVars) GetCABundleBucket() string { return e.CABundleBucket }
func (e EnvVars) GetCABundleKey() string { return e.CABundleKey }
func (e EnvVars) GetS3Region() string { return e.S3Region }
func (e EnvVars) GetS3Endpoint() string { return e.S3Endpoint }
func (e EnvVars) GetS3AccessKey() string { return e.S3AccessKey }
func (e EnvVars) GetS3SecretKey() string { return e.S3SecretKey }
