// Package access is the single entry point skills use to reach external
// APIs. A call is sanitized, authenticated, sent with bounded retry, and
// classified into a Result.
package access

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-apiaccess/pkg/apierror"
	"github.com/goliatone/go-apiaccess/pkg/config"
	"github.com/goliatone/go-apiaccess/pkg/interfaces/logger"
	"github.com/goliatone/go-apiaccess/pkg/interfaces/metrics"
	"github.com/goliatone/go-apiaccess/pkg/retry"
	"github.com/goliatone/go-apiaccess/pkg/sanitize"
	"github.com/goliatone/go-apiaccess/pkg/token"
)

// RequestIDHeader carries the per-call request id.
const RequestIDHeader = "X-Request-Id"

// ClientSecretKey is the secret store key holding an OAuth2 client secret.
const ClientSecretKey = "client_secret"

// SecretReader resolves decrypted secrets. *secrets.Store satisfies it.
type SecretReader interface {
	Get(ctx context.Context, service, key string) (string, error)
}

// TokenSource hands out access tokens. *token.Provider satisfies it.
type TokenSource interface {
	GetToken(ctx context.Context, req token.Request) (token.AccessToken, error)
	Invalidate(authority, scope string)
}

// Requester sends requests with retry. *retry.Executor satisfies it.
type Requester interface {
	Execute(ctx context.Context, req *retry.Request, policy retry.Policy) (*retry.Response, error)
}

// Dependencies groups the collaborators of a Gateway. Only Secrets is
// required; the rest default from Config.
type Dependencies struct {
	Config   config.Config
	Secrets  SecretReader
	Tokens   TokenSource
	Executor Requester
	Logger   logger.Logger
	Metrics  metrics.Collector
}

var ErrMissingSecrets = errors.New("access: secret reader is required")

// Gateway is safe for concurrent use.
type Gateway struct {
	cfg        config.Config
	secrets    SecretReader
	tokens     TokenSource
	executor   Requester
	logger     logger.Logger
	metrics    metrics.Collector
	services   map[string]config.ServiceConfig
	sanitizers map[string]*sanitize.Sanitizer
	newID      func() string
	now        func() time.Time
}

// New builds a Gateway from deps.
func New(deps Dependencies) (*Gateway, error) {
	if deps.Secrets == nil {
		return nil, ErrMissingSecrets
	}
	cfg := deps.Config
	lgr := logger.OrNop(deps.Logger)
	mc := metrics.OrNop(deps.Metrics)

	tokens := deps.Tokens
	if tokens == nil {
		tokens = token.New(
			token.WithConfig(cfg.Tokens),
			token.WithLogger(lgr.With(logger.Field{Key: "component", Value: "token"})),
			token.WithMetrics(mc),
		)
	}
	executor := deps.Executor
	if executor == nil {
		executor = retry.New(
			retry.WithLogger(lgr.With(logger.Field{Key: "component", Value: "retry"})),
			retry.WithMetrics(mc),
		)
	}

	base, err := sanitize.New(sanitize.WithConfig(cfg.Sanitizer))
	if err != nil {
		return nil, apierror.Wrap(apierror.KindConfig, err, "sanitizer")
	}

	g := &Gateway{
		cfg:        cfg,
		secrets:    deps.Secrets,
		tokens:     tokens,
		executor:   executor,
		logger:     lgr,
		metrics:    mc,
		services:   make(map[string]config.ServiceConfig, len(cfg.Services)),
		sanitizers: make(map[string]*sanitize.Sanitizer, len(cfg.Services)),
		newID:      func() string { return uuid.NewString() },
		now:        time.Now,
	}
	for _, svc := range cfg.Services {
		name := serviceKey(svc.Name)
		if name == "" {
			return nil, apierror.New(apierror.KindConfig, "service name is required")
		}
		s := base
		if svc.AllowedPunctuation != "" {
			if s, err = base.With(svc.AllowedPunctuation); err != nil {
				return nil, apierror.Wrap(apierror.KindConfig, err, "service %s sanitizer", svc.Name)
			}
		}
		g.services[name] = svc
		g.sanitizers[name] = s
	}
	return g, nil
}

// Services lists the configured service names.
func (g *Gateway) Services() []string {
	out := make([]string, 0, len(g.cfg.Services))
	for _, svc := range g.cfg.Services {
		out = append(out, svc.Name)
	}
	return out
}

// Sanitize validates raw against the allow-list of service.
func (g *Gateway) Sanitize(service, raw string) (sanitize.Input, error) {
	_, s, err := g.lookup(service)
	if err != nil {
		return sanitize.Input{}, err
	}
	return s.Sanitize(raw)
}

// Secret returns a decrypted secret of service.
func (g *Gateway) Secret(ctx context.Context, service, key string) (string, error) {
	svc, _, err := g.lookup(service)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(key) == "" {
		key = g.secretKey(svc)
	}
	return g.secrets.Get(ctx, svc.Name, key)
}

// Token returns an access token for an oauth2 service.
func (g *Gateway) Token(ctx context.Context, service string) (token.AccessToken, error) {
	svc, _, err := g.lookup(service)
	if err != nil {
		return token.AccessToken{}, err
	}
	if svc.Auth.Mode != config.AuthOAuth2 {
		return token.AccessToken{}, apierror.New(apierror.KindConfig, "service %s does not use oauth2", svc.Name)
	}
	return g.token(ctx, svc)
}

func (g *Gateway) lookup(service string) (config.ServiceConfig, *sanitize.Sanitizer, error) {
	key := serviceKey(service)
	svc, ok := g.services[key]
	if !ok {
		return config.ServiceConfig{}, nil, apierror.New(apierror.KindConfig, "unknown service %q", service)
	}
	return svc, g.sanitizers[key], nil
}

func (g *Gateway) secretKey(svc config.ServiceConfig) string {
	if svc.SecretKey != "" {
		return svc.SecretKey
	}
	if g.cfg.Secrets.DefaultKey != "" {
		return g.cfg.Secrets.DefaultKey
	}
	return "api_key"
}

func (g *Gateway) token(ctx context.Context, svc config.ServiceConfig) (token.AccessToken, error) {
	secret, err := g.clientSecret(ctx, svc)
	if err != nil {
		return token.AccessToken{}, err
	}
	clientID := svc.Auth.ClientID
	if clientID == "" {
		clientID = g.cfg.API.ClientID
	}
	return g.tokens.GetToken(ctx, token.Request{
		Authority:    svc.Auth.Authority,
		ClientID:     clientID,
		ClientSecret: secret,
		Scope:        svc.Auth.Scope,
		Resource:     svc.Auth.Resource,
	})
}

// clientSecret prefers the sealed client secret of the service and falls
// back to the environment supplied one when the store has none.
func (g *Gateway) clientSecret(ctx context.Context, svc config.ServiceConfig) (string, error) {
	secret, err := g.secrets.Get(ctx, svc.Name, ClientSecretKey)
	if err == nil {
		return secret, nil
	}
	if g.cfg.API.ClientSecret != "" && isNotFound(err) {
		return g.cfg.API.ClientSecret, nil
	}
	return "", err
}

func (g *Gateway) authorize(ctx context.Context, svc config.ServiceConfig, header http.Header) error {
	switch svc.Auth.Mode {
	case config.AuthNone:
		return nil
	case config.AuthOAuth2:
		tok, err := g.token(ctx, svc)
		if err != nil {
			return err
		}
		header.Set("Authorization", tok.AuthorizationHeader())
		return nil
	case config.AuthHeaderKey:
		key, err := g.secrets.Get(ctx, svc.Name, g.secretKey(svc))
		if err != nil {
			return err
		}
		header.Set(svc.Auth.Header, key)
		return nil
	case config.AuthBearerKey, "":
		key, err := g.secrets.Get(ctx, svc.Name, g.secretKey(svc))
		if err != nil {
			return err
		}
		header.Set("Authorization", "Bearer "+key)
		return nil
	default:
		return apierror.New(apierror.KindConfig, "service %s: unsupported auth mode %q", svc.Name, svc.Auth.Mode)
	}
}

func serviceKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// InvalidateToken drops the cached token of an oauth2 service.
func (g *Gateway) InvalidateToken(service string) error {
	svc, _, err := g.lookup(service)
	if err != nil {
		return err
	}
	if svc.Auth.Mode != config.AuthOAuth2 {
		return apierror.New(apierror.KindConfig, "service %s does not use oauth2", svc.Name)
	}
	g.tokens.Invalidate(svc.Auth.Authority, svc.Auth.Scope)
	return nil
}
