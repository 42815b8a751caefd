package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Config interface {
	EnvConfig
	CorsConfig
	SecurityConfig
	TokenConfig
	MailConfig
	StoreConfig
	TelemetryConfig
	TrustConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetHostname() string
	GetBaseURL() string
	GetFrontendOrigin() string
	GetPagesFile() string
	GetLogLevel() string
	IsLocalhost() bool
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type TokenConfig interface {
	GetTokenSecret() string
}

type MailConfig interface {
	GetSmtpHost() string
	GetSmtpPort() int
	GetSmtpAccount() string
	GetSmtpPassword() string
	GetMailFrom() string
	GetMailTimeout() time.Duration
}

type StoreConfig interface {
	GetDatabaseURL() string
	GetRedisAddr() string
	GetRedisPassword() string
}

type TelemetryConfig interface {
	GetGeoIPDatabase() string
	GetHeartbeatInterval() time.Duration
	GetSinkTimeout() time.Duration
	GetAuditPageLength() int
}

type TrustConfig interface {
	GetKeysDir() string
	GetCAWatchInterval() time.Duration
	GetTrustProxyCertHeader() bool
	GetCABundleBucket() string
	GetCABundleKey() string
	GetS3Region() string
	GetS3Endpoint() string
	GetS3AccessKey() string
	GetS3SecretKey() string
}

type mainConfig struct {
	EnvVars
	Cors
	Security
}

// Load reads an optional .env file and parses the environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return Parse()
}

// Parse builds a Config from the current environment only.
func Parse() (Config, error) {
	vars, err := env.ParseAs[EnvVars]()
	if err != nil {
		return nil, errors.Wrap(err, "[config.Parse] failed to parse environment")
	}
	security := vars.Security
	if security.proxies, err = parseTrustedProxies(security.TrustedProxies); err != nil {
		return nil, errors.Wrap(err, "[config.Parse] TRUSTED_PROXIES")
	}
	return mainConfig{
		EnvVars:  vars,
		Cors:     Cors{origins: parseOrigins(vars.AllowedOrigins)},
		Security: security,
	}, nil
}
