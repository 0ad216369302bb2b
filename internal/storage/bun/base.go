package bunrepo

import (
	"context"
	"errors"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ErrNotFound is returned when no row matches.
var ErrNotFound = errors.New("bunrepo: record not found")

// RecordMeta carries identifiers and audit fields shared by persisted rows.
type RecordMeta struct {
	ID        uuid.UUID `bun:",pk,type:uuid"`
	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

func (m *RecordMeta) ensureID() {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
}

type baseRepository[T any] struct {
	repo    repository.Repository[*T]
	db      *bun.DB
	extract func(*T) *RecordMeta
	now     func() time.Time
}

func newBaseRepository[T any](db *bun.DB, handlers repository.ModelHandlers[*T], extract func(*T) *RecordMeta) baseRepository[T] {
	return baseRepository[T]{
		repo:    repository.MustNewRepository[*T](db, handlers),
		db:      db,
		extract: extract,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r baseRepository[T]) create(ctx context.Context, record *T) error {
	meta := r.extract(record)
	meta.ensureID()
	now := r.now()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}
	meta.UpdatedAt = now
	_, err := r.repo.Create(ctx, record)
	return mapError(err)
}

func (r baseRepository[T]) update(ctx context.Context, record *T) error {
	r.extract(record).UpdatedAt = r.now()
	_, err := r.repo.Update(ctx, record)
	return mapError(err)
}

func (r baseRepository[T]) get(ctx context.Context, criteria ...repository.SelectCriteria) (*T, error) {
	record, err := r.repo.Get(ctx, criteria...)
	if err != nil {
		return nil, mapError(err)
	}
	return record, nil
}

func (r baseRepository[T]) list(ctx context.Context, criteria ...repository.SelectCriteria) ([]*T, error) {
	records, _, err := r.repo.List(ctx, criteria...)
	if err != nil {
		return nil, mapError(err)
	}
	return records, nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if repository.IsRecordNotFound(err) {
		return ErrNotFound
	}
	return err
}
