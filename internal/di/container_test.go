package di

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/goliatone/go-apiaccess/pkg/apierror"
	"github.com/goliatone/go-apiaccess/pkg/commands"
	"github.com/goliatone/go-apiaccess/pkg/config"
	"github.com/goliatone/go-apiaccess/pkg/interfaces/metrics"
	"github.com/goliatone/go-apiaccess/pkg/secrets"
	"github.com/goliatone/go-apiaccess/pkg/storage"
)

func testConfig(t *testing.T, baseURL string) config.Config {
	t.Helper()
	key, err := secrets.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cfg := config.Defaults()
	cfg.API.BaseURL = baseURL
	cfg.Services = config.DefaultServices(cfg.API)
	cfg.Secrets.Source = config.SourceMemory
	cfg.Secrets.EncryptionKey = key
	return cfg
}

func TestContainerWiresGatewayEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer data-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"rows":3}`))
	}))
	defer srv.Close()

	counter := metrics.NewCounter()
	ctx := context.Background()
	c, err := New(ctx, Options{Config: testConfig(t, srv.URL), Metrics: counter})
	if err != nil {
		t.Fatalf("container: %v", err)
	}
	defer c.Close()

	if err := c.Commands.SealSecret.Execute(ctx, commands.SealSecret{Service: "api", Value: "data-key"}); err != nil {
		t.Fatalf("seal secret: %v", err)
	}
	res := c.Gateway.CallAPI(ctx, "api", http.MethodGet, "/rows", "")
	if !res.OK() {
		t.Fatalf("expected success, got %v", res.Error())
	}
	if string(res.Payload) != `{"rows":3}` {
		t.Fatalf("unexpected payload %s", res.Payload)
	}
	if counter.Count("access.call", nil) != 1 {
		t.Fatalf("expected the shared collector to record the call")
	}
	if len(c.Commands.Commanders()) != 5 {
		t.Fatalf("expected every command to be registered")
	}
}

func TestContainerUsesSuppliedStorage(t *testing.T) {
	cfg := testConfig(t, "https://api.example.com")
	providers := storage.NewINIProviders(filepath.Join(t.TempDir(), "settings.ini"))

	c, err := New(context.Background(), Options{Config: cfg, Storage: &providers})
	if err != nil {
		t.Fatalf("container: %v", err)
	}
	if c.Storage.Secrets != providers.Secrets {
		t.Fatalf("expected supplied source to be used")
	}
	if err := c.Secrets.Put(context.Background(), "bing", "api_key", "k"); err != nil {
		t.Fatalf("put: %v", err)
	}
	refs, err := c.Secrets.List(context.Background())
	if err != nil || len(refs) != 1 {
		t.Fatalf("expected one stored reference, got %v (%v)", refs, err)
	}
}

func TestContainerRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t, "https://api.example.com")
	cfg.Retry.MaxAttempts = 0
	_, err := New(context.Background(), Options{Config: cfg})
	if apierror.KindOf(err) != apierror.KindConfig {
		t.Fatalf("expected config error, got %v", err)
	}

	cfg = testConfig(t, "https://api.example.com")
	cfg.Secrets.EncryptionKey = "not-a-key"
	if _, err := New(context.Background(), Options{Config: cfg}); apierror.KindOf(err) != apierror.KindConfig {
		t.Fatalf("expected config error for a bad key, got %v", err)
	}
}
