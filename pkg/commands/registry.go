package commands

import (
	command "github.com/goliatone/go-command"
	internalcommands "github.com/goliatone/go-apiaccess/internal/commands"
	"github.com/goliatone/go-apiaccess/pkg/access"
	"github.com/goliatone/go-apiaccess/pkg/interfaces/logger"
	"github.com/goliatone/go-apiaccess/pkg/secrets"
)

// Re-export request types so consumers need not import internal packages.
type (
	SealSecret       = internalcommands.SealSecret
	WarmToken        = internalcommands.WarmToken
	InvalidateToken  = internalcommands.InvalidateToken
	CallService      = internalcommands.CallService
	PurgeSecretCache = internalcommands.PurgeSecretCache
)

// Registry exposes go-command compatible handlers backed by the module services.
type Registry struct {
	Catalog          *internalcommands.Catalog
	SealSecret       command.Commander[SealSecret]
	WarmToken        command.Commander[WarmToken]
	InvalidateToken  command.Commander[InvalidateToken]
	CallService      command.Commander[CallService]
	PurgeSecretCache command.Commander[PurgeSecretCache]
}

// Dependencies mirror the internal command dependencies but keep them public.
type Dependencies struct {
	Secrets *secrets.Store
	Gateway *access.Gateway
	Logger  logger.Logger
}

// New builds the registry using the provided dependencies.
func New(deps Dependencies) (*Registry, error) {
	internal := internalcommands.Dependencies{Logger: deps.Logger}
	// typed nils would slip past the catalog checks
	if deps.Secrets != nil {
		internal.Secrets = deps.Secrets
	}
	if deps.Gateway != nil {
		internal.Gateway = deps.Gateway
	}
	catalog, err := internalcommands.NewCatalog(internal)
	if err != nil {
		return nil, err
	}
	return &Registry{
		Catalog:          catalog,
		SealSecret:       catalog.SealSecret,
		WarmToken:        catalog.WarmToken,
		InvalidateToken:  catalog.InvalidateToken,
		CallService:      catalog.CallService,
		PurgeSecretCache: catalog.PurgeSecretCache,
	}, nil
}

// Commanders returns every handler so callers can register them with go-command registries.
func (r *Registry) Commanders() []any {
	if r == nil {
		return nil
	}
	return []any{
		r.SealSecret,
		r.WarmToken,
		r.InvalidateToken,
		r.CallService,
		r.PurgeSecretCache,
	}
}
