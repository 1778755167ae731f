// Package config loads runtime configuration from the environment, with an
// optional YAML quota profile for per-identity rate-limit overrides.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration of the claim service.
type Config struct {
	// ListenAddr is the HTTP bind address.
	ListenAddr string `env:"CLAIMD_LISTEN_ADDR" envDefault:":8080"`

	// DatabaseDSN selects the store backend: a postgres:// URL or a sqlite
	// file path.
	DatabaseDSN string `env:"CLAIMD_DATABASE_DSN" envDefault:"claimd.db"`

	// ServiceID is the identifier registration claims must name as their
	// object to count as registrations with this service.
	ServiceID string `env:"CLAIMD_SERVICE_ID" envDefault:"claimd"`

	// ResolverURL is the base URL of the DID resolver used for signature
	// verification. Required unless InsecureVerify is set.
	ResolverURL string `env:"CLAIMD_RESOLVER_URL"`

	// InsecureVerify disables signature and expiry checks. Development only.
	InsecureVerify bool `env:"CLAIMD_INSECURE_VERIFY" envDefault:"false"`

	// SeedDID, when set, is registered at startup so the network has a root
	// identity that can register others.
	SeedDID string `env:"CLAIMD_SEED_DID"`

	// RedisAddr, when set, selects the Redis-backed visibility cache instead
	// of the in-process one.
	RedisAddr string `env:"CLAIMD_REDIS_ADDR"`

	// VisibilityDepth bounds the transitive visibility traversal.
	VisibilityDepth int `env:"CLAIMD_VISIBILITY_DEPTH" envDefault:"3"`

	// MaxClaimsPerWeek and MaxRegistrationsPerMonth are the default quotas
	// for identities without a per-identity override.
	MaxClaimsPerWeek         int64 `env:"CLAIMD_MAX_CLAIMS_PER_WEEK" envDefault:"100"`
	MaxRegistrationsPerMonth int64 `env:"CLAIMD_MAX_REGISTRATIONS_PER_MONTH" envDefault:"10"`

	// QuotaProfilePath points at an optional YAML file of per-identity
	// quota overrides applied on top of registration rows at startup.
	QuotaProfilePath string `env:"CLAIMD_QUOTA_PROFILE"`

	// OTLPEndpoint, when set, enables trace export over OTLP/gRPC.
	OTLPEndpoint string `env:"CLAIMD_OTLP_ENDPOINT"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel slog.Level `env:"CLAIMD_LOG_LEVEL" envDefault:"info"`
}

// QuotaProfile is the YAML shape of per-identity quota overrides.
type QuotaProfile struct {
	Overrides []QuotaOverride `yaml:"overrides"`
}

// QuotaOverride raises or lowers the quotas for a single identity.
type QuotaOverride struct {
	DID                      string `yaml:"did"`
	MaxClaimsPerWeek         *int64 `yaml:"maxClaimsPerWeek"`
	MaxRegistrationsPerMonth *int64 `yaml:"maxRegistrationsPerMonth"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if !cfg.InsecureVerify && cfg.ResolverURL == "" {
		return nil, fmt.Errorf("config: CLAIMD_RESOLVER_URL is required unless CLAIMD_INSECURE_VERIFY is set")
	}
	return &cfg, nil
}

// LoadQuotaProfile parses the quota override file named by the config, or
// returns an empty profile when none is configured.
func (c *Config) LoadQuotaProfile() (*QuotaProfile, error) {
	if c.QuotaProfilePath == "" {
		return &QuotaProfile{}, nil
	}
	raw, err := os.ReadFile(c.QuotaProfilePath)
	if err != nil {
		return nil, fmt.Errorf("config: quota profile: %w", err)
	}
	var profile QuotaProfile
	if err := yaml.Unmarshal(raw, &profile); err != nil {
		return nil, fmt.Errorf("config: quota profile %s: %w", c.QuotaProfilePath, err)
	}
	for _, o := range profile.Overrides {
		if o.DID == "" {
			return nil, fmt.Errorf("config: quota profile %s: override without did", c.QuotaProfilePath)
		}
	}
	return &profile, nil
}
