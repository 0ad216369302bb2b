package options

import (
	opts "github.com/goliatone/go-options"

	"github.com/goliatone/go-apiaccess/pkg/config"
)

// Layers used to explain the effective settings of a service.
var (
	DefaultsScope = opts.NewScope("defaults", opts.ScopePrioritySystem, opts.WithScopeLabel("Module defaults"))
	ServiceScope  = opts.NewScope("service", opts.ScopePriorityTenant, opts.WithScopeLabel("Service declaration"))
	CallScope     = opts.NewScope("call", opts.ScopePriorityUser, opts.WithScopeLabel("Call override"))
)

// Setting keys exposed by ServiceResolver.
const (
	KeyAuthMode           = "auth_mode"
	KeyQueryParam         = "query_param"
	KeyAllowedPunctuation = "allowed_punctuation"
	KeySecretKey          = "secret_key"
	KeyMaxAttempts        = "max_attempts"
	KeyAttemptTimeout     = "attempt_timeout"
	KeyBackoffBase        = "backoff_base"
	KeyBackoffMax         = "backoff_max"
	KeyMaxLength          = "max_length"
)

// ServiceResolver layers module defaults, the service declaration, and
// optional per-call overrides. Durations are rendered as strings.
func ServiceResolver(cfg config.Config, svc config.ServiceConfig, overrides map[string]any) (*Resolver, error) {
	defaults := map[string]any{
		KeyAuthMode:           config.AuthBearerKey,
		KeyQueryParam:         "q",
		KeyAllowedPunctuation: cfg.Sanitizer.AllowedPunctuation,
		KeySecretKey:          cfg.Secrets.DefaultKey,
		KeyMaxAttempts:        cfg.Retry.MaxAttempts,
		KeyAttemptTimeout:     cfg.Retry.AttemptTimeout.String(),
		KeyBackoffBase:        cfg.Retry.BackoffBase.String(),
		KeyBackoffMax:         cfg.Retry.BackoffMax.String(),
		KeyMaxLength:          cfg.Sanitizer.MaxLength,
	}

	declared := map[string]any{}
	setString(declared, KeyAuthMode, svc.Auth.Mode)
	setString(declared, KeyQueryParam, svc.QueryParam)
	setString(declared, KeyAllowedPunctuation, svc.AllowedPunctuation)
	setString(declared, KeySecretKey, svc.SecretKey)
	if svc.Retry.MaxAttempts > 0 {
		declared[KeyMaxAttempts] = svc.Retry.MaxAttempts
	}
	if svc.Retry.AttemptTimeout > 0 {
		declared[KeyAttemptTimeout] = svc.Retry.AttemptTimeout.String()
	}
	if svc.Retry.BackoffBase > 0 {
		declared[KeyBackoffBase] = svc.Retry.BackoffBase.String()
	}
	if svc.Retry.BackoffMax > 0 {
		declared[KeyBackoffMax] = svc.Retry.BackoffMax.String()
	}

	snapshots := []Snapshot{
		{Scope: DefaultsScope, Data: defaults},
		{Scope: ServiceScope, Data: declared, SnapshotID: svc.Name},
	}
	if len(overrides) > 0 {
		snapshots = append(snapshots, Snapshot{Scope: CallScope, Data: overrides})
	}
	return NewResolver(snapshots...)
}

func setString(dst map[string]any, key, value string) {
	if value != "" {
		dst[key] = value
	}
}
