package di

import (
	"context"
	"net/http"
	"reflect"
	"time"

	"github.com/goliatone/go-apiaccess/pkg/access"
	"github.com/goliatone/go-apiaccess/pkg/apierror"
	"github.com/goliatone/go-apiaccess/pkg/commands"
	"github.com/goliatone/go-apiaccess/pkg/config"
	"github.com/goliatone/go-apiaccess/pkg/interfaces/logger"
	"github.com/goliatone/go-apiaccess/pkg/interfaces/metrics"
	"github.com/goliatone/go-apiaccess/pkg/retry"
	"github.com/goliatone/go-apiaccess/pkg/secrets"
	"github.com/goliatone/go-apiaccess/pkg/storage"
	"github.com/goliatone/go-apiaccess/pkg/token"
)

// Options configure the DI container.
type Options struct {
	Config     config.Config
	Storage    *storage.Providers
	Logger     logger.Logger
	Metrics    metrics.Collector
	HTTPClient *http.Client
	Sleeper    func(ctx context.Context, d time.Duration) error
}

// Container wires storage, secrets, tokens, executor, gateway, and commands.
type Container struct {
	Config   config.Config
	Storage  storage.Providers
	Secrets  *secrets.Store
	Tokens   *token.Provider
	Executor *retry.Executor
	Gateway  *access.Gateway
	Commands *commands.Registry
}

func isZeroConfig(cfg config.Config) bool {
	return reflect.ValueOf(cfg).IsZero()
}

// New constructs the container using the supplied options. Storage defaults
// to the source selected by cfg.Secrets.
func New(ctx context.Context, opts Options) (*Container, error) {
	cfg := opts.Config
	if isZeroConfig(cfg) {
		cfg = config.Defaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, apierror.Wrap(apierror.KindConfig, err, "invalid configuration")
	}

	lgr := logger.OrNop(opts.Logger)
	mc := metrics.OrNop(opts.Metrics)

	var providers storage.Providers
	if opts.Storage != nil && opts.Storage.Secrets != nil {
		providers = *opts.Storage
	} else {
		p, err := storage.FromConfig(ctx, cfg.Secrets, storage.WithMetricsCollector(mc))
		if err != nil {
			return nil, err
		}
		providers = p
	}

	store, err := secrets.New(providers.Secrets, cfg.Secrets.EncryptionKey,
		secrets.WithLogger(lgr.With(logger.Field{Key: "component", Value: "secrets"})),
		secrets.WithMetrics(mc),
		secrets.WithCacheTTL(cfg.Secrets.CacheTTL),
		secrets.WithDefaultKey(cfg.Secrets.DefaultKey),
	)
	if err != nil {
		_ = providers.Close()
		return nil, err
	}

	tokens := token.New(
		token.WithConfig(cfg.Tokens),
		token.WithHTTPClient(opts.HTTPClient),
		token.WithLogger(lgr.With(logger.Field{Key: "component", Value: "tokens"})),
		token.WithMetrics(mc),
	)

	executorOpts := []retry.Option{
		retry.WithLogger(lgr.With(logger.Field{Key: "component", Value: "retry"})),
		retry.WithMetrics(mc),
	}
	if opts.HTTPClient != nil {
		executorOpts = append(executorOpts, retry.WithClient(opts.HTTPClient))
	}
	if opts.Sleeper != nil {
		executorOpts = append(executorOpts, retry.WithSleeper(opts.Sleeper))
	}
	executor := retry.New(executorOpts...)

	gateway, err := access.New(access.Dependencies{
		Config:   cfg,
		Secrets:  store,
		Tokens:   tokens,
		Executor: executor,
		Logger:   lgr,
		Metrics:  mc,
	})
	if err != nil {
		_ = providers.Close()
		return nil, err
	}

	cmdRegistry, err := commands.New(commands.Dependencies{
		Secrets: store,
		Gateway: gateway,
		Logger:  lgr,
	})
	if err != nil {
		_ = providers.Close()
		return nil, err
	}

	return &Container{
		Config:   cfg,
		Storage:  providers,
		Secrets:  store,
		Tokens:   tokens,
		Executor: executor,
		Gateway:  gateway,
		Commands: cmdRegistry,
	}, nil
}

// Close releases storage held by the container.
func (c *Container) Close() error {
	if c == nil {
		return nil
	}
	return c.Storage.Close()
}
