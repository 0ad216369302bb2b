package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	bunrepo "github.com/goliatone/go-apiaccess/internal/storage/bun"
	"github.com/goliatone/go-apiaccess/pkg/apierror"
	"github.com/goliatone/go-apiaccess/pkg/config"
	"github.com/goliatone/go-apiaccess/pkg/interfaces/metrics"
	"github.com/goliatone/go-apiaccess/pkg/secrets"
)

// Providers exposes the sealed secret source selected by configuration.
type Providers struct {
	Secrets secrets.Source
	DB      *bun.DB
	Metrics metrics.Collector
}

type Option func(*Providers)

// WithMetricsCollector registers a metrics collector returned alongside the
// source.
func WithMetricsCollector(collector metrics.Collector) Option {
	return func(p *Providers) {
		p.Metrics = collector
	}
}

// Close releases the database handle, if any.
func (p Providers) Close() error {
	if p.DB == nil {
		return nil
	}
	return p.DB.Close()
}

// NewMemoryProviders returns an in-memory source seeded with sealed values.
func NewMemoryProviders(seed []secrets.Secret, opts ...Option) Providers {
	return apply(Providers{Secrets: secrets.NewMemorySource(seed...)}, opts)
}

// NewINIProviders returns a source reading the settings file at path.
func NewINIProviders(path string, opts ...Option) Providers {
	return apply(Providers{Secrets: secrets.NewINISource(path)}, opts)
}

// NewBunProviders wires the Bun-backed secret table. The caller owns the
// *bun.DB lifecycle unless it came from FromConfig.
func NewBunProviders(db *bun.DB, opts ...Option) Providers {
	if db == nil {
		panic("storage: bun DB is required")
	}

	// Register models so go-persistence-bun migrations can pick them up.
	persistence.RegisterModel((*bunrepo.SecretRecord)(nil))

	return apply(Providers{Secrets: bunrepo.NewSecretStore(db), DB: db}, opts)
}

// OpenSQLite opens dsn through the sqlite shim.
func OpenSQLite(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

// FromConfig builds providers for cfg.Source. Database sources get their
// table created when missing.
func FromConfig(ctx context.Context, cfg config.SecretsConfig, opts ...Option) (Providers, error) {
	switch strings.ToLower(cfg.Source) {
	case config.SourceMemory:
		return NewMemoryProviders(nil, opts...), nil
	case config.SourceINI, "":
		return NewINIProviders(cfg.Path, opts...), nil
	case config.SourceDatabase:
		db, err := OpenSQLite(cfg.DatabaseDSN)
		if err != nil {
			return Providers{}, apierror.Wrap(apierror.KindConfig, err, "secret database")
		}
		providers := NewBunProviders(db, opts...)
		if err := providers.Secrets.(*bunrepo.SecretStore).CreateTable(ctx); err != nil {
			_ = db.Close()
			return Providers{}, apierror.Wrap(apierror.KindConfig, err, "secret table")
		}
		return providers, nil
	default:
		return Providers{}, apierror.New(apierror.KindConfig, "secrets source %q is not supported", cfg.Source)
	}
}

func apply(p Providers, opts []Option) Providers {
	for _, opt := range opts {
		if opt != nil {
			opt(&p)
		}
	}
	return p
}
