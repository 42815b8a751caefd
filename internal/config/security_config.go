package config

import (
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type SecurityConfig interface {
	GetAntiTimingMax() time.Duration
	GetPasswordHistory() int
	GetPwnedFailSafe() bool
	GetPwnedCheckEnabled() bool
	GetArgon2TimeCost() uint32
	GetArgon2MemoryCost() uint32
	GetRateLimits() RateLimits
	GetTrustedProxies() TrustedProxies
}

// RateLimit allows Max requests per Window for one client IP.
type RateLimit struct {
	Max    int
	Window time.Duration
}

type RateLimits struct {
	Register      RateLimit
	ChangeRequest RateLimit
	Login         RateLimit
	EmailAuth     RateLimit
	CertLogin     RateLimit
	Generic       RateLimit
}

type Security struct {
	AntiTimingMax    time.Duration `env:"ANTI_TIMING_MAX" envDefault:"1500ms"`
	PasswordHistory  int           `env:"PASSWORD_HISTORY" envDefault:"3"`
	PwnedFailSafe    bool          `env:"PWNED_FAILSAFE"`
	PwnedCheck       bool          `env:"PWNED_CHECK" envDefault:"true"`
	Argon2TimeCost   uint32        `env:"ARGON2_TIME_COST" envDefault:"5"`
	Argon2MemoryCost uint32        `env:"ARGON2_MEMORY_COST" envDefault:"200000"`
	TrustedProxies   []string      `env:"TRUSTED_PROXIES" envSeparator:"," envDefault:"127.0.0.0/8,::1/128,172.16.0.0/12"`

	proxies TrustedProxies
}

// TrustedProxies are the peers whose X-Forwarded-For header is believed.
type TrustedProxies []*net.IPNet

// Contains reports whether ip, without a port, is a trusted proxy.
func (t TrustedProxies) Contains(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, n := range t {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}

// parseTrustedProxies accepts CIDRs and bare addresses.
func parseTrustedProxies(list []string) (TrustedProxies, error) {
	proxies := make(TrustedProxies, 0, len(list))
	for _, entry := range list {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, errors.Errorf("invalid trusted proxy %q", entry)
			}
			bits := 128
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			proxies = append(proxies, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid trusted proxy %q", entry)
		}
		proxies = append(proxies, n)
	}
	return proxies, nil
}

var _ SecurityConfig = Security{}

func (s Security) GetAntiTimingMax() time.Duration { return s.AntiTimingMax }

func (s Security) GetPasswordHistory() int {
	if s.PasswordHistory <= 0 {
		return 3
	}
	return s.PasswordHistory
}

func (s Security) GetPwnedFailSafe() bool { return s.PwnedFailSafe }
func (s Security) GetPwnedCheckEnabled() bool { return s.PwnedCheck }
func (s Security) GetArgon2TimeCost() uint32  { return s.Argon2TimeCost }
func (s Security) GetArgon2MemoryCost() uint32 {
	return s.Argon2MemoryCost
}

func (s Security) GetTrustedProxies() TrustedProxies { return s.proxies }

func (Security) GetRateLimits() RateLimits {
	return RateLimits{
		Register:      RateLimit{Max: 5, Window: time.Minute},
		ChangeRequest: RateLimit{Max: 5, Window: time.Minute},
		Login:         RateLimit{Max: 20, Window: 5 * time.Minute},
		EmailAuth:     RateLimit{Max: 5, Window: 5 * time.Minute},
		CertLogin:     RateLimit{Max: 50, Window: 5 * time.Minute},
		Generic:       RateLimit{Max: 500, Window: 5 * time.Minute},
	}
}
