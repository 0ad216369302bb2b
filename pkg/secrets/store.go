package secrets

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-apiaccess/pkg/apierror"
	"github.com/goliatone/go-apiaccess/pkg/interfaces/logger"
	"github.com/goliatone/go-apiaccess/pkg/interfaces/metrics"
	"golang.org/x/sync/singleflight"
)

// DefaultKey is the key read by GetSecret when none is configured.
const DefaultKey = "api_key"

// Store resolves plaintext secrets from a Source, decrypting on first use and
// memoizing the result in memory.
type Store struct {
	source     Source
	cipher     *Cipher
	defaultKey string
	ttl        time.Duration
	now        func() time.Time
	logger     logger.Logger
	metrics    metrics.Collector

	mu    sync.RWMutex
	cache map[Reference]cacheEntry
	// gens is bumped by writes and invalidation; a load only caches when the
	// generation it started under is still current.
	gens  map[Reference]uint64
	epoch uint64
	group singleflight.Group
}

type generation struct {
	epoch uint64
	ref   uint64
}

type cacheEntry struct {
	value   string
	expires time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for cache and source diagnostics.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the collector notified on source reads.
func WithMetrics(c metrics.Collector) Option {
	return func(s *Store) {
		if c != nil {
			s.metrics = c
		}
	}
}

// WithCacheTTL bounds how long plaintext is memoized. Zero keeps it for the
// life of the Store.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl >= 0 {
			s.ttl = ttl
		}
	}
}

// WithDefaultKey overrides the key read by GetSecret.
func WithDefaultKey(key string) Option {
	return func(s *Store) {
		if strings.TrimSpace(key) != "" {
			s.defaultKey = key
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithCipher installs an already built cipher, bypassing key parsing.
func WithCipher(c *Cipher) Option {
	return func(s *Store) {
		if c != nil {
			s.cipher = c
		}
	}
}

// New builds a Store over source. encodedKey is the base64 encryption key; an
// empty key is accepted here and reported as a config error on every read.
func New(source Source, encodedKey string, opts ...Option) (*Store, error) {
	if source == nil {
		return nil, ErrMissingStore
	}
	s := &Store{
		source:     source,
		defaultKey: DefaultKey,
		now:        time.Now,
		logger:     &logger.Nop{},
		metrics:    &metrics.Nop{},
		cache:      make(map[Reference]cacheEntry),
		gens:       make(map[Reference]uint64),
	}
	if strings.TrimSpace(encodedKey) != "" {
		key, err := ParseKey(encodedKey)
		if err != nil {
			return nil, apierror.Wrap(apierror.KindConfig, err, "invalid encryption key")
		}
		c, err := NewCipher(key)
		if err != nil {
			return nil, apierror.Wrap(apierror.KindConfig, err, "invalid encryption key")
		}
		s.cipher = c
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// GetSecret returns the default key of service.
func (s *Store) GetSecret(ctx context.Context, service string) (string, error) {
	return s.Get(ctx, service, s.defaultKey)
}

// Get returns the plaintext for service/key.
func (s *Store) Get(ctx context.Context, service, key string) (string, error) {
	if s.cipher == nil {
		return "", apierror.Wrap(apierror.KindConfig, ErrMissingKey, "cannot read secrets for %s", service)
	}
	ref := normalize(service, key)
	if err := ValidateReference(ref); err != nil {
		return "", apierror.Wrap(apierror.KindConfig, err, "invalid secret reference %q", ref.String())
	}

	if value, ok := s.cached(ref); ok {
		return value, nil
	}

	if err := ctx.Err(); err != nil {
		return "", apierror.Wrap(apierror.KindTimeout, err, "secret read abandoned")
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(ref.String(), func() (any, error) {
		if value, ok := s.cached(ref); ok {
			return value, nil
		}
		return s.load(loadCtx, ref)
	})

	select {
	case <-ctx.Done():
		return "", apierror.Wrap(apierror.KindTimeout, ctx.Err(), "secret read abandoned")
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			s.logger.Debug("secret read shared", logger.Field{Key: "ref", Value: ref.String()})
		}
		return res.Val.(string), nil
	}
}

func (s *Store) load(ctx context.Context, ref Reference) (string, error) {
	gen := s.generation(ref)
	s.metrics.Record("secrets.lookup", map[string]string{"service": ref.Service})
	sealed, err := s.source.Lookup(ctx, ref)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return "", apierror.Wrap(apierror.KindTimeout, err, "read secret %s", ref.String())
		case errors.Is(err, ErrNotFound):
			return "", apierror.Wrap(apierror.KindConfig, err, "secret %s is not configured", ref.String())
		}
		return "", apierror.Wrap(apierror.KindConfig, err, "read secret %s", ref.String())
	}
	plain, err := s.cipher.Open(sealed)
	if err != nil {
		s.logger.Warn("secret decryption failed", logger.Field{Key: "ref", Value: ref.String()})
		return "", apierror.Wrap(apierror.KindConfig, err, "decrypt secret %s", ref.String())
	}

	value := string(plain)
	entry := cacheEntry{value: value}
	if s.ttl > 0 {
		entry.expires = s.now().Add(s.ttl)
	}
	s.mu.Lock()
	if gen == (generation{epoch: s.epoch, ref: s.gens[ref]}) {
		s.cache[ref] = entry
	}
	s.mu.Unlock()
	s.logger.Debug("secret loaded", logger.Field{Key: "ref", Value: ref.String()})
	return value, nil
}

func (s *Store) generation(ref Reference) generation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return generation{epoch: s.epoch, ref: s.gens[ref]}
}

func (s *Store) cached(ref Reference) (string, bool) {
	s.mu.RLock()
	entry, ok := s.cache[ref]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	if !entry.expires.IsZero() && !s.now().Before(entry.expires) {
		s.mu.Lock()
		delete(s.cache, ref)
		s.mu.Unlock()
		return "", false
	}
	return entry.value, true
}

// Put seals plaintext and writes it through the source. The source must
// implement Writer.
func (s *Store) Put(ctx context.Context, service, key, plaintext string) error {
	if s.cipher == nil {
		return apierror.Wrap(apierror.KindConfig, ErrMissingKey, "cannot write secrets for %s", service)
	}
	ref := normalize(service, key)
	if err := ValidateReference(ref); err != nil {
		return apierror.Wrap(apierror.KindConfig, err, "invalid secret reference %q", ref.String())
	}
	w, ok := s.source.(Writer)
	if !ok {
		return apierror.Wrap(apierror.KindConfig, ErrUnsupported, "secret source is read only")
	}
	sealed, err := s.cipher.Seal([]byte(plaintext))
	if err != nil {
		return apierror.Wrap(apierror.KindConfig, err, "seal secret %s", ref.String())
	}
	if err := w.Store(ctx, ref, sealed); err != nil {
		return apierror.Wrap(apierror.KindConfig, err, "store secret %s", ref.String())
	}
	s.Invalidate(service, key)
	s.logger.Info("secret stored", logger.Field{Key: "ref", Value: ref.String()})
	return nil
}

// List returns the references known to the source, when it can enumerate them.
func (s *Store) List(ctx context.Context) ([]Reference, error) {
	l, ok := s.source.(Lister)
	if !ok {
		return nil, apierror.Wrap(apierror.KindConfig, ErrUnsupported, "secret source cannot list")
	}
	refs, err := l.List(ctx)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindConfig, err, "list secrets")
	}
	return refs, nil
}

// Invalidate drops the memoized plaintext for service/key. A read already in
// flight still answers its waiters but no longer populates the cache.
func (s *Store) Invalidate(service, key string) {
	ref := normalize(service, key)
	s.mu.Lock()
	delete(s.cache, ref)
	s.gens[ref]++
	s.mu.Unlock()
	s.group.Forget(ref.String())
}

// Purge drops every memoized plaintext.
func (s *Store) Purge() {
	s.mu.Lock()
	s.cache = make(map[Reference]cacheEntry)
	s.gens = make(map[Reference]uint64)
	s.epoch++
	s.mu.Unlock()
}

// Cipher exposes the store's cipher for sealing tools. It is nil when no key
// is configured.
func (s *Store) Cipher() *Cipher {
	return s.cipher
}

func normalize(service, key string) Reference {
	return Reference{
		Service: strings.ToLower(strings.TrimSpace(service)),
		Key:     strings.TrimSpace(key),
	}
}
