package bunrepo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-apiaccess/pkg/secrets"
)

// SecretRecord is one sealed value in the api_secrets table.
type SecretRecord struct {
	bun.BaseModel `bun:"table:api_secrets"`
	RecordMeta

	Service string `bun:",notnull,unique:secret_ref"`
	Key     string `bun:",notnull,unique:secret_ref"`
	Cipher  []byte `bun:",notnull"`
}

// SecretStore persists sealed secrets. It never sees plaintext.
type SecretStore struct {
	base baseRepository[SecretRecord]
}

var (
	_ secrets.Source = (*SecretStore)(nil)
	_ secrets.Writer = (*SecretStore)(nil)
	_ secrets.Lister = (*SecretStore)(nil)
)

func NewSecretStore(db *bun.DB) *SecretStore {
	handlers := repository.ModelHandlers[*SecretRecord]{
		NewRecord: func() *SecretRecord { return &SecretRecord{} },
		GetID:     func(r *SecretRecord) uuid.UUID { return r.ID },
		SetID: func(r *SecretRecord, id uuid.UUID) {
			r.ID = id
		},
		GetIdentifier:      func() string { return "key" },
		GetIdentifierValue: func(r *SecretRecord) string { return r.Key },
	}
	return &SecretStore{
		base: newBaseRepository[SecretRecord](db, handlers, func(r *SecretRecord) *RecordMeta { return &r.RecordMeta }),
	}
}

// CreateTable creates the api_secrets table when missing.
func (s *SecretStore) CreateTable(ctx context.Context) error {
	_, err := s.base.db.NewCreateTable().Model((*SecretRecord)(nil)).IfNotExists().Exec(ctx)
	return err
}

func (s *SecretStore) Lookup(ctx context.Context, ref secrets.Reference) (secrets.Sealed, error) {
	rec, err := s.base.get(ctx, withReference(ref.Service, ref.Key))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", ref.String(), secrets.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return secrets.Sealed(rec.Cipher), nil
}

// Store inserts or replaces the sealed value for ref.
func (s *SecretStore) Store(ctx context.Context, ref secrets.Reference, sealed secrets.Sealed) error {
	existing, err := s.base.get(ctx, withReference(ref.Service, ref.Key))
	switch {
	case errors.Is(err, ErrNotFound):
		return s.base.create(ctx, &SecretRecord{
			Service: strings.ToLower(ref.Service),
			Key:     ref.Key,
			Cipher:  append([]byte(nil), sealed...),
		})
	case err != nil:
		return err
	}
	existing.Cipher = append([]byte(nil), sealed...)
	return s.base.update(ctx, existing)
}

func (s *SecretStore) List(ctx context.Context) ([]secrets.Reference, error) {
	return s.ListService(ctx, "")
}

// ListService returns the references stored for service, or every reference
// when service is empty.
func (s *SecretStore) ListService(ctx context.Context, service string) ([]secrets.Reference, error) {
	records, err := s.base.list(ctx, withService(service), orderedByReference())
	if err != nil {
		return nil, err
	}
	refs := make([]secrets.Reference, 0, len(records))
	for _, rec := range records {
		refs = append(refs, secrets.Reference{Service: rec.Service, Key: rec.Key})
	}
	return refs, nil
}

func (s *SecretStore) Delete(ctx context.Context, ref secrets.Reference) error {
	_, err := s.base.db.NewDelete().
		Model((*SecretRecord)(nil)).
		Where("service = ?", strings.ToLower(ref.Service)).
		Where("key = ?", ref.Key).
		Exec(ctx)
	return err
}
