package token

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-apiaccess/pkg/apierror"
	"github.com/goliatone/go-apiaccess/pkg/config"
	"github.com/goliatone/go-apiaccess/pkg/interfaces/logger"
	"github.com/goliatone/go-apiaccess/pkg/interfaces/metrics"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTokenPath       = "/oauth2/v2.0/token"
	DefaultSkew            = 60 * time.Second
	DefaultLifetime        = 5 * time.Minute
	DefaultExchangeTimeout = 10 * time.Second
)

// Provider hands out cached tokens, refreshing them on the calling path when
// they are missing or inside the skew window.
type Provider struct {
	client    *http.Client
	logger    logger.Logger
	metrics   metrics.Collector
	now       func() time.Time
	skew      time.Duration
	tokenPath string
	lifetime  time.Duration
	timeout   time.Duration

	mu     sync.RWMutex
	tokens map[cacheKey]tokenEntry
	group  singleflight.Group
}

// tokenEntry keeps the skew a cached token is checked against. Tokens issued
// with a lifetime shorter than twice the skew margin use half their lifetime.
type tokenEntry struct {
	token AccessToken
	skew  time.Duration
}

// Option configures a Provider.
type Option func(*Provider)

// WithConfig applies a token config block. Zero fields keep defaults.
func WithConfig(cfg config.TokenConfig) Option {
	return func(p *Provider) {
		if cfg.SkewMargin > 0 {
			p.skew = cfg.SkewMargin
		}
		if cfg.TokenPath != "" {
			p.tokenPath = cfg.TokenPath
		}
		if cfg.DefaultLifetime > 0 {
			p.lifetime = cfg.DefaultLifetime
		}
		if cfg.Timeout > 0 {
			p.timeout = cfg.Timeout
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		if client != nil {
			p.client = client
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithMetrics(c metrics.Collector) Option {
	return func(p *Provider) {
		if c != nil {
			p.metrics = c
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

// New builds a Provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		client:    &http.Client{},
		logger:    &logger.Nop{},
		metrics:   &metrics.Nop{},
		now:       time.Now,
		skew:      DefaultSkew,
		tokenPath: DefaultTokenPath,
		lifetime:  DefaultLifetime,
		timeout:   DefaultExchangeTimeout,
		tokens:    make(map[cacheKey]tokenEntry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// GetToken returns a token for req that stays valid for at least the skew
// margin. Concurrent callers for the same authority and scope share one
// exchange; a caller whose context ends stops waiting without cancelling the
// exchange for the others.
func (p *Provider) GetToken(ctx context.Context, req Request) (AccessToken, error) {
	if err := validate(req); err != nil {
		return AccessToken{}, err
	}
	key := keyFor(req.Authority, req.Scope)
	if tok, ok := p.cached(key); ok {
		return tok, nil
	}
	if err := ctx.Err(); err != nil {
		return AccessToken{}, apierror.Wrap(apierror.KindTimeout, err, "token request abandoned")
	}

	exchangeCtx := context.WithoutCancel(ctx)
	ch := p.group.DoChan(key.String(), func() (any, error) {
		if tok, ok := p.cached(key); ok {
			return tok, nil
		}
		return p.exchange(exchangeCtx, key, req)
	})

	select {
	case <-ctx.Done():
		return AccessToken{}, apierror.Wrap(apierror.KindTimeout, ctx.Err(), "token request abandoned")
	case res := <-ch:
		if res.Err != nil {
			return AccessToken{}, res.Err
		}
		return res.Val.(AccessToken), nil
	}
}

// Invalidate drops the cached token for authority and scope so the next
// GetToken performs a fresh exchange.
func (p *Provider) Invalidate(authority, scope string) {
	key := keyFor(authority, scope)
	p.mu.Lock()
	delete(p.tokens, key)
	p.mu.Unlock()
	p.group.Forget(key.String())
	p.logger.Debug("token invalidated",
		logger.Field{Key: "authority", Value: key.authority},
		logger.Field{Key: "scope", Value: key.scope},
	)
}

func (p *Provider) cached(key cacheKey) (AccessToken, bool) {
	p.mu.RLock()
	entry, ok := p.tokens[key]
	p.mu.RUnlock()
	if !ok || !entry.token.ValidAt(p.now(), entry.skew) {
		return AccessToken{}, false
	}
	return entry.token, true
}

func (p *Provider) exchange(ctx context.Context, key cacheKey, req Request) (AccessToken, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	cc := clientcredentials.Config{
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
		TokenURL:     Endpoint(req.Authority, p.tokenPath),
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if req.Scope != "" {
		cc.Scopes = []string{req.Scope}
	}
	if req.Resource != "" {
		cc.EndpointParams = url.Values{"resource": {req.Resource}}
	}

	raw, err := cc.Token(ctx)
	if err != nil {
		p.metrics.Record("token.exchange", map[string]string{"outcome": "failure"})
		p.logger.Warn("token exchange failed",
			logger.Field{Key: "authority", Value: key.authority},
			logger.Field{Key: "scope", Value: key.scope},
		)
		return AccessToken{}, exchangeError(err)
	}

	lifetime := p.lifetimeOf(raw)
	tok := AccessToken{
		Value:     raw.AccessToken,
		Type:      raw.TokenType,
		ExpiresAt: p.now().Add(lifetime),
		Scope:     key.scope,
		Authority: key.authority,
	}
	skew := p.skew
	if lifetime < 2*skew {
		skew = lifetime / 2
		p.logger.Warn("token lifetime shorter than skew margin",
			logger.Field{Key: "authority", Value: key.authority},
			logger.Field{Key: "lifetime", Value: lifetime.String()},
		)
	}

	p.mu.Lock()
	p.tokens[key] = tokenEntry{token: tok, skew: skew}
	p.mu.Unlock()

	p.metrics.Record("token.exchange", map[string]string{"outcome": "success"})
	p.logger.Info("token acquired",
		logger.Field{Key: "authority", Value: key.authority},
		logger.Field{Key: "scope", Value: key.scope},
		logger.Field{Key: "expires_at", Value: tok.ExpiresAt},
	)
	return tok, nil
}

// lifetimeOf reads expires_in relative to the injected clock. Some
// authorities send it as a string.
func (p *Provider) lifetimeOf(raw *oauth2.Token) time.Duration {
	var seconds float64
	switch v := raw.Extra("expires_in").(type) {
	case float64:
		seconds = v
	case json.Number:
		seconds, _ = v.Float64()
	case string:
		seconds, _ = strconv.ParseFloat(v, 64)
	}
	if seconds <= 0 {
		return p.lifetime
	}
	return time.Duration(seconds * float64(time.Second))
}

func exchangeError(err error) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		status := 0
		if rErr.Response != nil {
			status = rErr.Response.StatusCode
		}
		msg := "token endpoint rejected the request"
		if rErr.ErrorCode != "" {
			msg += ": " + rErr.ErrorCode
		}
		return apierror.New(apierror.KindAuth, "%s", msg).WithStatus(status)
	}
	return apierror.Wrap(apierror.KindAuth, err, "token exchange failed")
}

func validate(req Request) error {
	if strings.TrimSpace(req.ClientID) == "" {
		return apierror.New(apierror.KindConfig, "token request: client id is required")
	}
	if strings.TrimSpace(req.ClientSecret) == "" {
		return apierror.New(apierror.KindConfig, "token request: client secret is required")
	}
	u, err := url.Parse(strings.TrimSpace(req.Authority))
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return apierror.New(apierror.KindConfig, "token request: authority must be an absolute url")
	}
	return nil
}
