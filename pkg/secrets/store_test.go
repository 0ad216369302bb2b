package secrets

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-apiaccess/pkg/apierror"
	"github.com/goliatone/go-apiaccess/pkg/interfaces/logger"
)

type countingSource struct {
	inner Source
	calls atomic.Int32
	delay time.Duration
}

func (c *countingSource) Lookup(ctx context.Context, ref Reference) (Sealed, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	return c.inner.Lookup(ctx, ref)
}

func seededStore(t *testing.T, opts ...Option) (*Store, *countingSource, string) {
	t.Helper()
	key := testKey(t)
	c := testCipher(t, key)
	sealed, err := c.Seal([]byte("bing-key"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	src := &countingSource{inner: NewMemorySource(Secret{Service: "bing", Key: "api_key", CipherText: sealed})}
	store, err := New(src, key, opts...)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store, src, key
}

func TestStoreGetSecretDecryptsAndMemoizes(t *testing.T) {
	store, src, _ := seededStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := store.GetSecret(ctx, "Bing")
		if err != nil {
			t.Fatalf("get secret: %v", err)
		}
		if got != "bing-key" {
			t.Fatalf("unexpected secret %q", got)
		}
	}
	if n := src.calls.Load(); n != 1 {
		t.Fatalf("expected a single source read, got %d", n)
	}
}

func TestStoreMissingKeyFailsBeforeSourceAccess(t *testing.T) {
	src := &countingSource{inner: NewMemorySource()}
	store, err := New(src, "")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	_, err = store.GetSecret(context.Background(), "bing")
	if !errors.Is(err, apierror.ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
	if !errors.Is(err, ErrMissingKey) {
		t.Fatalf("expected ErrMissingKey cause, got %v", err)
	}
	if n := src.calls.Load(); n != 0 {
		t.Fatalf("expected no source access, got %d", n)
	}
}

func TestStoreTamperedCiphertextIsConfigError(t *testing.T) {
	key := testKey(t)
	c := testCipher(t, key)
	sealed, _ := c.Seal([]byte("bing-key"))
	sealed[len(sealed)-2] ^= 0x01

	store, err := New(NewMemorySource(Secret{Service: "bing", Key: "api_key", CipherText: sealed}), key)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	_, err = store.GetSecret(context.Background(), "bing")
	if apierror.KindOf(err) != apierror.KindConfig {
		t.Fatalf("expected config error, got %v", err)
	}
	if !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt cause, got %v", err)
	}
	if strings.Contains(err.Error(), "bing-key") {
		t.Fatalf("error must not carry plaintext: %v", err)
	}
}

func TestStoreUnknownServiceIsConfigError(t *testing.T) {
	store, _, _ := seededStore(t)
	_, err := store.Get(context.Background(), "weather", "api_key")
	if !errors.Is(err, apierror.ErrConfig) || !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected config error wrapping ErrNotFound, got %v", err)
	}
}

func TestStoreInvalidKeyRejectedAtConstruction(t *testing.T) {
	if _, err := New(NewMemorySource(), "not-a-key"); !errors.Is(err, apierror.ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
	if _, err := New(nil, testKey(t)); !errors.Is(err, ErrMissingStore) {
		t.Fatalf("expected ErrMissingStore, got %v", err)
	}
}

func TestStoreConcurrentFirstReadsCollapse(t *testing.T) {
	store, src, _ := seededStore(t)
	src.delay = 20 * time.Millisecond

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := store.GetSecret(context.Background(), "bing")
			if err == nil && v != "bing-key" {
				err = errors.New("unexpected value")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent read: %v", err)
		}
	}
	if n := src.calls.Load(); n != 1 {
		t.Fatalf("expected one source read, got %d", n)
	}
}

func TestStoreCacheTTLExpires(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store, src, _ := seededStore(t, WithCacheTTL(time.Minute), WithClock(clock))
	ctx := context.Background()

	if _, err := store.GetSecret(ctx, "bing"); err != nil {
		t.Fatalf("get: %v", err)
	}
	now = now.Add(30 * time.Second)
	if _, err := store.GetSecret(ctx, "bing"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if n := src.calls.Load(); n != 1 {
		t.Fatalf("expected cached read inside ttl, got %d source reads", n)
	}
	now = now.Add(time.Minute)
	if _, err := store.GetSecret(ctx, "bing"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if n := src.calls.Load(); n != 2 {
		t.Fatalf("expected reload after ttl, got %d source reads", n)
	}
}

func TestStorePutSealsAndInvalidates(t *testing.T) {
	rec := logger.NewRecorder()
	key := testKey(t)
	src := NewMemorySource()
	store, err := New(src, key, WithLogger(rec))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	if err := store.Put(ctx, "bing", "api_key", "first"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if got, _ := store.GetSecret(ctx, "bing"); got != "first" {
		t.Fatalf("expected first, got %q", got)
	}
	if err := store.Put(ctx, "bing", "api_key", "second"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if got, _ := store.GetSecret(ctx, "bing"); got != "second" {
		t.Fatalf("expected cache invalidated on put, got %q", got)
	}

	sealed, err := src.Lookup(ctx, Reference{Service: "bing", Key: "api_key"})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if strings.Contains(string(sealed), "second") {
		t.Fatalf("expected sealed value at rest")
	}
	if rec.Contains("second") || rec.Contains("first") {
		t.Fatalf("plaintext leaked into logs")
	}

	refs, err := store.List(ctx)
	if err != nil || len(refs) != 1 {
		t.Fatalf("expected one listed reference, got %v (%v)", refs, err)
	}
}

type readOnlySource struct{}

func (readOnlySource) Lookup(context.Context, Reference) (Sealed, error) { return nil, ErrNotFound }

func TestStorePutRequiresWriter(t *testing.T) {
	store, err := New(readOnlySource{}, testKey(t))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	err = store.Put(context.Background(), "bing", "api_key", "x")
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

// gatedSource reads the sealed value, then blocks until release is closed or
// the lookup context ends.
type gatedSource struct {
	inner   *MemorySource
	started chan struct{}
	release chan struct{}
	once    sync.Once
	calls   atomic.Int32
}

func newGatedSource() *gatedSource {
	return &gatedSource{
		inner:   NewMemorySource(),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedSource) Lookup(ctx context.Context, ref Reference) (Sealed, error) {
	g.calls.Add(1)
	sealed, err := g.inner.Lookup(ctx, ref)
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return sealed, err
}

func (g *gatedSource) Store(ctx context.Context, ref Reference, sealed Sealed) error {
	return g.inner.Store(ctx, ref, sealed)
}

func TestStoreCancelledReaderDoesNotFailSharedRead(t *testing.T) {
	src := newGatedSource()
	store, err := New(src, testKey(t))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	sealed, err := store.Cipher().Seal([]byte("bing-key"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	_ = src.inner.Store(context.Background(), Reference{Service: "bing", Key: "api_key"}, sealed)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := store.GetSecret(ctx, "bing")
		firstErr <- err
	}()
	<-src.started

	type outcome struct {
		value string
		err   error
	}
	second := make(chan outcome, 1)
	go func() {
		v, err := store.GetSecret(context.Background(), "bing")
		second <- outcome{v, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	if err := <-firstErr; apierror.KindOf(err) != apierror.KindTimeout {
		t.Fatalf("expected timeout for the cancelled reader, got %v", err)
	}

	close(src.release)
	got := <-second
	if got.err != nil || got.value != "bing-key" {
		t.Fatalf("expected live reader to get the shared value, got %q (%v)", got.value, got.err)
	}
	if n := src.calls.Load(); n != 1 {
		t.Fatalf("expected one shared source read, got %d", n)
	}
}

func TestStoreCancelledBeforeReadIsTimeout(t *testing.T) {
	store, src, _ := seededStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.GetSecret(ctx, "bing"); apierror.KindOf(err) != apierror.KindTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
	if n := src.calls.Load(); n != 0 {
		t.Fatalf("expected no source read, got %d", n)
	}
}

func TestStorePutDuringReadDoesNotCacheStaleValue(t *testing.T) {
	src := newGatedSource()
	store, err := New(src, testKey(t))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	old, err := store.Cipher().Seal([]byte("first"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	_ = src.inner.Store(ctx, Reference{Service: "bing", Key: "api_key"}, old)

	stale := make(chan string, 1)
	go func() {
		v, _ := store.GetSecret(ctx, "bing")
		stale <- v
	}()
	<-src.started

	if err := store.Put(ctx, "bing", "api_key", "second"); err != nil {
		t.Fatalf("put: %v", err)
	}
	close(src.release)
	if v := <-stale; v != "first" {
		t.Fatalf("expected in-flight read to answer with the old value, got %q", v)
	}

	got, err := store.GetSecret(ctx, "bing")
	if err != nil || got != "second" {
		t.Fatalf("expected fresh value after put, got %q (%v)", got, err)
	}
}
