package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
)

// Auth modes understood by the access gateway.
const (
	AuthOAuth2    = "oauth2"
	AuthBearerKey = "bearer_key"
	AuthHeaderKey = "header_key"
	AuthNone      = "none"
)

// Secret sources understood by the secret store.
const (
	SourceINI      = "ini"
	SourceDatabase = "database"
	SourceMemory   = "memory"
)

// Config captures module-level configuration knobs. Component packages
// (secrets, token, retry, sanitize, access) pull from these nested structs.
type Config struct {
	API       APIConfig       `mapstructure:"api" json:"api"`
	Logging   LoggingConfig   `mapstructure:"logging" json:"logging"`
	Secrets   SecretsConfig   `mapstructure:"secrets" json:"secrets"`
	Tokens    TokenConfig     `mapstructure:"tokens" json:"tokens"`
	Retry     RetryConfig     `mapstructure:"retry" json:"retry"`
	Sanitizer SanitizerConfig `mapstructure:"sanitizer" json:"sanitizer"`
	Services  []ServiceConfig `mapstructure:"services" json:"services"`
}

// APIConfig holds the shared API base URL and tenant/client identity.
// ClientSecret is only ever populated from the environment.
type APIConfig struct {
	BaseURL      string `mapstructure:"base_url" json:"base_url"`
	TenantID     string `mapstructure:"tenant_id" json:"tenant_id"`
	ClientID     string `mapstructure:"client_id" json:"client_id"`
	ClientSecret string `mapstructure:"-" json:"-"`
}

// LoggingConfig selects verbosity and output format.
type LoggingConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

// SecretsConfig locates the encrypted configuration source. EncryptionKey is
// only ever populated from the environment.
type SecretsConfig struct {
	Source        string        `mapstructure:"source" json:"source"`
	Path          string        `mapstructure:"path" json:"path"`
	DatabaseDSN   string        `mapstructure:"database_dsn" json:"database_dsn"`
	DefaultKey    string        `mapstructure:"default_key" json:"default_key"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl" json:"cache_ttl"`
	EncryptionKey string        `mapstructure:"-" json:"-"`
}

// TokenConfig tunes the OAuth2 client-credentials token cache.
type TokenConfig struct {
	SkewMargin      time.Duration `mapstructure:"skew_margin" json:"skew_margin"`
	TokenPath       string        `mapstructure:"token_path" json:"token_path"`
	DefaultLifetime time.Duration `mapstructure:"default_lifetime" json:"default_lifetime"`
	Timeout         time.Duration `mapstructure:"timeout" json:"timeout"`
}

// RetryConfig mirrors retry.Policy in a decodable shape.
type RetryConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts" json:"max_attempts"`
	RetryableStatus   []int         `mapstructure:"retryable_status" json:"retryable_status"`
	BackoffBase       time.Duration `mapstructure:"backoff_base" json:"backoff_base"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier" json:"backoff_multiplier"`
	BackoffMax        time.Duration `mapstructure:"backoff_max" json:"backoff_max"`
	AttemptTimeout    time.Duration `mapstructure:"attempt_timeout" json:"attempt_timeout"`
}

// SanitizerConfig sets the default allow-list policy.
type SanitizerConfig struct {
	MaxLength          int    `mapstructure:"max_length" json:"max_length"`
	AllowedPunctuation string `mapstructure:"allowed_punctuation" json:"allowed_punctuation"`
}

// ServiceConfig declares one reachable external API.
type ServiceConfig struct {
	Name               string      `mapstructure:"name" json:"name"`
	BaseURL            string      `mapstructure:"base_url" json:"base_url"`
	Auth               AuthConfig  `mapstructure:"auth" json:"auth"`
	QueryParam         string      `mapstructure:"query_param" json:"query_param"`
	AllowedPunctuation string      `mapstructure:"allowed_punctuation" json:"allowed_punctuation"`
	SecretKey          string      `mapstructure:"secret_key" json:"secret_key"`
	Retry              RetryConfig `mapstructure:"retry" json:"retry"`
}

// AuthConfig describes how a service authenticates outbound calls.
type AuthConfig struct {
	Mode      string `mapstructure:"mode" json:"mode"`
	Authority string `mapstructure:"authority" json:"authority"`
	ClientID  string `mapstructure:"client_id" json:"client_id"`
	Scope     string `mapstructure:"scope" json:"scope"`
	Resource  string `mapstructure:"resource" json:"resource"`
	Header    string `mapstructure:"header" json:"header"`
}

// Defaults returns the baseline configuration.
func Defaults() Config {
	return Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Secrets: SecretsConfig{
			Source:     SourceINI,
			Path:       "settings.ini",
			DefaultKey: "api_key",
		},
		Tokens: TokenConfig{
			SkewMargin:      60 * time.Second,
			TokenPath:       "/oauth2/v2.0/token",
			DefaultLifetime: 5 * time.Minute,
			Timeout:         10 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts:       3,
			RetryableStatus:   []int{429, 500, 502, 503, 504},
			BackoffBase:       100 * time.Millisecond,
			BackoffMultiplier: 2,
			BackoffMax:        5 * time.Second,
			AttemptTimeout:    10 * time.Second,
		},
		Sanitizer: SanitizerConfig{
			MaxLength: 512,
		},
	}
}

// DefaultServices returns the services the bundled skills reach: a generic
// data API keyed by bearer API key, the Bing search function keyed by header,
// and, when tenant and client ids are known, Power BI behind Azure AD client
// credentials.
func DefaultServices(api APIConfig) []ServiceConfig {
	services := []ServiceConfig{
		{
			Name:       "api",
			BaseURL:    api.BaseURL,
			Auth:       AuthConfig{Mode: AuthBearerKey},
			QueryParam: "q",
		},
		{
			Name:               "bing",
			BaseURL:            api.BaseURL,
			Auth:               AuthConfig{Mode: AuthHeaderKey, Header: "x-functions-key"},
			QueryParam:         "q",
			AllowedPunctuation: " ",
		},
	}
	if api.TenantID == "" || api.ClientID == "" {
		return services
	}
	return append(services, ServiceConfig{
		Name:    "powerbi",
		BaseURL: "https://api.powerbi.com/v1.0/myorg",
		Auth: AuthConfig{
			Mode:      AuthOAuth2,
			Authority: "https://login.microsoftonline.com/" + api.TenantID,
			ClientID:  api.ClientID,
			Scope:     "https://analysis.windows.net/powerbi/api/.default",
		},
		QueryParam:         "filter",
		AllowedPunctuation: " _-",
	})
}

// Service looks up a service declaration by name.
func (c Config) Service(name string) (ServiceConfig, bool) {
	for _, svc := range c.Services {
		if strings.EqualFold(svc.Name, name) {
			return svc, true
		}
	}
	return ServiceConfig{}, false
}

// Validate ensures required fields are present and sane.
func (c *Config) Validate() error {
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1")
	}
	if c.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("retry.backoff_multiplier must be >= 1")
	}
	if c.Retry.AttemptTimeout <= 0 {
		return fmt.Errorf("retry.attempt_timeout must be > 0")
	}
	if c.Tokens.SkewMargin < 0 {
		return fmt.Errorf("tokens.skew_margin must be >= 0")
	}
	if c.Secrets.CacheTTL < 0 {
		return fmt.Errorf("secrets.cache_ttl must be >= 0")
	}
	switch c.Secrets.Source {
	case SourceINI:
		if strings.TrimSpace(c.Secrets.Path) == "" {
			return errors.New("secrets.path is required for the ini source")
		}
	case SourceDatabase:
		if strings.TrimSpace(c.Secrets.DatabaseDSN) == "" {
			return errors.New("secrets.database_dsn is required for the database source")
		}
	case SourceMemory:
	default:
		return fmt.Errorf("secrets.source %q is not supported", c.Secrets.Source)
	}
	if c.Sanitizer.MaxLength <= 0 {
		return fmt.Errorf("sanitizer.max_length must be > 0")
	}
	seen := make(map[string]bool, len(c.Services))
	for i, svc := range c.Services {
		name := strings.ToLower(strings.TrimSpace(svc.Name))
		if name == "" {
			return fmt.Errorf("services[%d].name is required", i)
		}
		if seen[name] {
			return fmt.Errorf("services[%d]: duplicate service %q", i, svc.Name)
		}
		seen[name] = true
		if err := svc.validate(); err != nil {
			return fmt.Errorf("services[%d] (%s): %w", i, svc.Name, err)
		}
	}
	return nil
}

func (s ServiceConfig) validate() error {
	if strings.TrimSpace(s.BaseURL) == "" {
		return errors.New("base_url is required")
	}
	switch s.Auth.Mode {
	case AuthOAuth2:
		if s.Auth.Authority == "" || s.Auth.ClientID == "" || s.Auth.Scope == "" {
			return errors.New("oauth2 auth requires authority, client_id and scope")
		}
	case AuthHeaderKey:
		if strings.TrimSpace(s.Auth.Header) == "" {
			return errors.New("header_key auth requires header")
		}
	case AuthBearerKey, AuthNone:
	default:
		return fmt.Errorf("auth.mode %q is not supported", s.Auth.Mode)
	}
	return nil
}

// RetryFor merges a service retry override over the module defaults.
func (c Config) RetryFor(svc ServiceConfig) RetryConfig {
	out := c.Retry
	o := svc.Retry
	if o.MaxAttempts > 0 {
		out.MaxAttempts = o.MaxAttempts
	}
	if len(o.RetryableStatus) > 0 {
		out.RetryableStatus = o.RetryableStatus
	}
	if o.BackoffBase > 0 {
		out.BackoffBase = o.BackoffBase
	}
	if o.BackoffMultiplier > 0 {
		out.BackoffMultiplier = o.BackoffMultiplier
	}
	if o.BackoffMax > 0 {
		out.BackoffMax = o.BackoffMax
	}
	if o.AttemptTimeout > 0 {
		out.AttemptTimeout = o.AttemptTimeout
	}
	return out
}

// Load decodes arbitrary input (struct, map, cfg struct) using cfgx helpers.
// While cfgx.Build still returns zero values, we fallback to a lightweight
// decoder.
func Load(input any, opts ...LoadOption) (Config, error) {
	settings := loadOptions{}
	for _, opt := range opts {
		opt(&settings)
	}

	cfg, err := cfgx.Build(input, settings.buildOpts...)
	if err != nil {
		return Config{}, err
	}

	if isZero(cfg) {
		if err := decodeFallback(input, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg = cfg.withDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadOption lets callers amend cfgx build options.
type LoadOption func(*loadOptions)

type loadOptions struct {
	buildOpts []cfgx.Option[Config]
}

// WithBuildOptions forwards cfgx options (duration hooks, preprocessors, etc.).
func WithBuildOptions(opts ...cfgx.Option[Config]) LoadOption {
	return func(lo *loadOptions) {
		lo.buildOpts = append(lo.buildOpts, opts...)
	}
}

func (c Config) withDefaults() Config {
	defaults := Defaults()

	if c.Logging.Level == "" {
		c.Logging.Level = defaults.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaults.Logging.Format
	}
	if c.Secrets.Source == "" {
		c.Secrets.Source = defaults.Secrets.Source
	}
	if c.Secrets.Path == "" {
		c.Secrets.Path = defaults.Secrets.Path
	}
	if c.Secrets.DefaultKey == "" {
		c.Secrets.DefaultKey = defaults.Secrets.DefaultKey
	}
	if c.Tokens.SkewMargin == 0 {
		c.Tokens.SkewMargin = defaults.Tokens.SkewMargin
	}
	if c.Tokens.TokenPath == "" {
		c.Tokens.TokenPath = defaults.Tokens.TokenPath
	}
	if c.Tokens.DefaultLifetime == 0 {
		c.Tokens.DefaultLifetime = defaults.Tokens.DefaultLifetime
	}
	if c.Tokens.Timeout == 0 {
		c.Tokens.Timeout = defaults.Tokens.Timeout
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = defaults.Retry.MaxAttempts
	}
	if len(c.Retry.RetryableStatus) == 0 {
		c.Retry.RetryableStatus = defaults.Retry.RetryableStatus
	}
	if c.Retry.BackoffBase == 0 {
		c.Retry.BackoffBase = defaults.Retry.BackoffBase
	}
	if c.Retry.BackoffMultiplier == 0 {
		c.Retry.BackoffMultiplier = defaults.Retry.BackoffMultiplier
	}
	if c.Retry.BackoffMax == 0 {
		c.Retry.BackoffMax = defaults.Retry.BackoffMax
	}
	if c.Retry.AttemptTimeout == 0 {
		c.Retry.AttemptTimeout = defaults.Retry.AttemptTimeout
	}
	if c.Sanitizer.MaxLength == 0 {
		c.Sanitizer.MaxLength = defaults.Sanitizer.MaxLength
	}
	for i := range c.Services {
		if c.Services[i].BaseURL == "" {
			c.Services[i].BaseURL = c.API.BaseURL
		}
		if c.Services[i].Auth.Mode == "" {
			c.Services[i].Auth.Mode = AuthBearerKey
		}
		if c.Services[i].QueryParam == "" {
			c.Services[i].QueryParam = "q"
		}
		if c.Services[i].Auth.ClientID == "" {
			c.Services[i].Auth.ClientID = c.API.ClientID
		}
	}
	return c
}

func isZero(cfg Config) bool {
	return reflect.DeepEqual(cfg, Config{})
}

func decodeFallback(input any, cfg *Config) error {
	switch v := input.(type) {
	case nil:
		return nil
	case Config:
		*cfg = v
		return nil
	case *Config:
		if v != nil {
			*cfg = *v
		}
		return nil
	case map[string]any:
		return decodeMap(v, cfg)
	default:
		return fmt.Errorf("unsupported config input type: %T", input)
	}
}

func decodeMap(input map[string]any, cfg *Config) error {
	if input == nil {
		return nil
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, cfg)
}
