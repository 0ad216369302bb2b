package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-apiaccess/pkg/apierror"
)

// Environment variable names read by FromEnv.
const (
	EnvAPIURL          = "API_URL"
	EnvEncryptionKey   = "CONFIG_ENCRYPTION_KEY"
	EnvTenantID        = "TENANT_ID"
	EnvClientID        = "CLIENT_ID"
	EnvClientSecret    = "CLIENT_SECRET"
	EnvSettingsPath    = "SETTINGS_PATH"
	EnvSecretsSource   = "SECRETS_SOURCE"
	EnvSecretsDSN      = "SECRETS_DATABASE_DSN"
	EnvSecretsCacheTTL = "SECRETS_CACHE_TTL"
	EnvTokenSkew       = "TOKEN_SKEW_MARGIN"
	EnvRetryAttempts   = "RETRY_MAX_ATTEMPTS"
	EnvLogLevel        = "LOG_LEVEL"
	EnvLogFormat       = "LOG_FORMAT"
)

// LookupFunc resolves an environment value. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// MapLookup adapts a map for tests and embedded callers.
func MapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

// FromEnv overlays environment values onto base and validates the result.
// API_URL and CONFIG_ENCRYPTION_KEY are required; their absence fails with a
// config error at startup instead of at first use.
func FromEnv(base Config, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, apierror.New(apierror.KindConfig, "environment lookup is required")
	}
	cfg := base

	apiURL := get(lookup, EnvAPIURL)
	if apiURL == "" && cfg.API.BaseURL == "" {
		return Config{}, apierror.New(apierror.KindConfig, "%s is not set in the environment", EnvAPIURL)
	}
	if apiURL != "" {
		cfg.API.BaseURL = apiURL
	}

	key := get(lookup, EnvEncryptionKey)
	if key == "" {
		return Config{}, apierror.New(apierror.KindConfig, "%s is not set in the environment", EnvEncryptionKey)
	}
	cfg.Secrets.EncryptionKey = key

	setIfPresent(lookup, EnvTenantID, &cfg.API.TenantID)
	setIfPresent(lookup, EnvClientID, &cfg.API.ClientID)
	setIfPresent(lookup, EnvClientSecret, &cfg.API.ClientSecret)
	setIfPresent(lookup, EnvSettingsPath, &cfg.Secrets.Path)
	setIfPresent(lookup, EnvSecretsSource, &cfg.Secrets.Source)
	setIfPresent(lookup, EnvSecretsDSN, &cfg.Secrets.DatabaseDSN)
	setIfPresent(lookup, EnvLogLevel, &cfg.Logging.Level)
	setIfPresent(lookup, EnvLogFormat, &cfg.Logging.Format)
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)

	if raw := get(lookup, EnvSecretsCacheTTL); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, apierror.Wrap(apierror.KindConfig, err, "%s is not a duration", EnvSecretsCacheTTL)
		}
		cfg.Secrets.CacheTTL = ttl
	}
	if raw := get(lookup, EnvTokenSkew); raw != "" {
		skew, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, apierror.Wrap(apierror.KindConfig, err, "%s is not a duration", EnvTokenSkew)
		}
		cfg.Tokens.SkewMargin = skew
	}
	if raw := get(lookup, EnvRetryAttempts); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, apierror.Wrap(apierror.KindConfig, err, "%s is not an integer", EnvRetryAttempts)
		}
		cfg.Retry.MaxAttempts = n
	}

	if len(cfg.Services) == 0 {
		cfg.Services = DefaultServices(cfg.API)
	}
	cfg = cfg.withDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, apierror.Wrap(apierror.KindConfig, err, "invalid configuration")
	}
	return cfg, nil
}

func get(lookup LookupFunc, key string) string {
	v, ok := lookup(key)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

func setIfPresent(lookup LookupFunc, key string, dst *string) {
	if v := get(lookup, key); v != "" {
		*dst = v
	}
}
