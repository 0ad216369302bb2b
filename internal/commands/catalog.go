package commands

import (
	"context"
	"errors"
	"strings"

	command "github.com/goliatone/go-command"
	"github.com/goliatone/go-apiaccess/pkg/access"
	"github.com/goliatone/go-apiaccess/pkg/apierror"
	"github.com/goliatone/go-apiaccess/pkg/classify"
	"github.com/goliatone/go-apiaccess/pkg/interfaces/logger"
	"github.com/goliatone/go-apiaccess/pkg/secrets"
	"github.com/goliatone/go-apiaccess/pkg/token"
)

// Catalog exposes go-command compatible handlers for host transports.
type Catalog struct {
	SealSecret       command.Commander[SealSecret]
	WarmToken        command.Commander[WarmToken]
	InvalidateToken  command.Commander[InvalidateToken]
	CallService      command.Commander[CallService]
	PurgeSecretCache command.Commander[PurgeSecretCache]
}

type secretService interface {
	Put(ctx context.Context, service, key, plaintext string) error
	Invalidate(service, key string)
	Purge()
}

type gatewayService interface {
	Token(ctx context.Context, service string) (token.AccessToken, error)
	InvalidateToken(service string) error
	Call(ctx context.Context, c access.Call) classify.Result
}

// Dependencies wires the secret store and gateway into the command catalog.
type Dependencies struct {
	Secrets secretService
	Gateway gatewayService
	Logger  logger.Logger
}

// NewCatalog builds the command catalog using the supplied dependencies.
func NewCatalog(deps Dependencies) (*Catalog, error) {
	if deps.Secrets == nil {
		return nil, errors.New("commands: secret store is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("commands: gateway is required")
	}
	lgr := logger.OrNop(deps.Logger)

	return &Catalog{
		SealSecret:       sealSecretCommand{secrets: deps.Secrets, logger: lgr},
		WarmToken:        warmTokenCommand{gateway: deps.Gateway, logger: lgr},
		InvalidateToken:  invalidateTokenCommand{gateway: deps.Gateway},
		CallService:      callServiceCommand{gateway: deps.Gateway},
		PurgeSecretCache: purgeSecretCacheCommand{secrets: deps.Secrets},
	}, nil
}

// SealSecret encrypts Value and stores it under Service/Key. Key defaults to
// secrets.DefaultKey.
type SealSecret struct {
	Service string `json:"service"`
	Key     string `json:"key"`
	Value   string `json:"value"`
}

type sealSecretCommand struct {
	secrets secretService
	logger  logger.Logger
}

func (c sealSecretCommand) Execute(ctx context.Context, msg SealSecret) error {
	msg.Service = strings.TrimSpace(msg.Service)
	if msg.Service == "" {
		return apierror.New(apierror.KindConfig, "service is required")
	}
	if strings.TrimSpace(msg.Key) == "" {
		msg.Key = secrets.DefaultKey
	}
	if err := c.secrets.Put(ctx, msg.Service, msg.Key, msg.Value); err != nil {
		return err
	}
	c.logger.Info("secret sealed",
		logger.Field{Key: "service", Value: msg.Service},
		logger.Field{Key: "key", Value: msg.Key},
	)
	return nil
}

// WarmToken fetches and caches the access token of an oauth2 service.
// OnToken, when set, receives the token.
type WarmToken struct {
	Service string                  `json:"service"`
	OnToken func(token.AccessToken) `json:"-"`
}

type warmTokenCommand struct {
	gateway gatewayService
	logger  logger.Logger
}

func (c warmTokenCommand) Execute(ctx context.Context, msg WarmToken) error {
	tok, err := c.gateway.Token(ctx, msg.Service)
	if err != nil {
		return err
	}
	c.logger.Debug("token warmed",
		logger.Field{Key: "service", Value: msg.Service},
		logger.Field{Key: "expires_at", Value: tok.ExpiresAt},
	)
	if msg.OnToken != nil {
		msg.OnToken(tok)
	}
	return nil
}

// InvalidateToken drops a cached token so the next call exchanges again.
type InvalidateToken struct {
	Service string `json:"service"`
}

type invalidateTokenCommand struct {
	gateway gatewayService
}

func (c invalidateTokenCommand) Execute(_ context.Context, msg InvalidateToken) error {
	return c.gateway.InvalidateToken(msg.Service)
}

// CallService runs one gateway call. OnResult receives the classified result
// whether or not the call succeeded; the returned error is the result's error.
type CallService struct {
	Service        string                `json:"service"`
	Method         string                `json:"method"`
	Target         string                `json:"target"`
	Query          string                `json:"query"`
	Params         map[string]string     `json:"params"`
	Body           []byte                `json:"body"`
	IdempotencyKey string                `json:"idempotency_key"`
	OnResult       func(classify.Result) `json:"-"`
}

type callServiceCommand struct {
	gateway gatewayService
}

func (c callServiceCommand) Execute(ctx context.Context, msg CallService) error {
	result := c.gateway.Call(ctx, access.Call{
		Service:        msg.Service,
		Method:         msg.Method,
		Target:         msg.Target,
		Query:          msg.Query,
		Params:         msg.Params,
		Body:           msg.Body,
		IdempotencyKey: msg.IdempotencyKey,
	})
	if msg.OnResult != nil {
		msg.OnResult(result)
	}
	return result.Error()
}

// PurgeSecretCache drops cached plaintext. With Service set only that
// reference is dropped.
type PurgeSecretCache struct {
	Service string `json:"service"`
	Key     string `json:"key"`
}

type purgeSecretCacheCommand struct {
	secrets secretService
}

func (c purgeSecretCacheCommand) Execute(_ context.Context, msg PurgeSecretCache) error {
	if strings.TrimSpace(msg.Service) == "" {
		c.secrets.Purge()
		return nil
	}
	c.secrets.Invalidate(msg.Service, msg.Key)
	return nil
}
