package access

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-apiaccess/pkg/apierror"
	"github.com/goliatone/go-apiaccess/pkg/classify"
	"github.com/goliatone/go-apiaccess/pkg/config"
	"github.com/goliatone/go-apiaccess/pkg/interfaces/logger"
	"github.com/goliatone/go-apiaccess/pkg/interfaces/metrics"
	"github.com/goliatone/go-apiaccess/pkg/retry"
	"github.com/goliatone/go-apiaccess/pkg/secrets"
)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newStore(t *testing.T, values map[[2]string]string) *secrets.Store {
	t.Helper()
	key, err := secrets.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	store, err := secrets.New(secrets.NewMemorySource(), key)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	for ref, v := range values {
		if err := store.Put(context.Background(), ref[0], ref[1], v); err != nil {
			t.Fatalf("put %v: %v", ref, err)
		}
	}
	return store
}

func testConfig(baseURL string) config.Config {
	cfg := config.Defaults()
	cfg.API.BaseURL = baseURL
	cfg.Services = config.DefaultServices(cfg.API)
	return cfg
}

func newGateway(t *testing.T, cfg config.Config, store SecretReader, rec logger.Logger) *Gateway {
	t.Helper()
	g, err := New(Dependencies{
		Config:   cfg,
		Secrets:  store,
		Executor: retry.New(retry.WithSleeper(noSleep)),
		Logger:   rec,
	})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	return g
}

type searchResult struct {
	Name string `json:"name"`
}

func TestCallAPIBingSuccess(t *testing.T) {
	var seen atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.Clone(context.Background()))
		if r.Header.Get("x-functions-key") != "bing-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"name":"Test Result"}]`))
	}))
	defer srv.Close()

	rec := logger.NewRecorder()
	store := newStore(t, map[[2]string]string{{"bing", "api_key"}: "bing-key"})
	g := newGateway(t, testConfig(srv.URL), store, rec)

	res := g.CallAPI(context.Background(), "bing", http.MethodGet, "search", "test query")
	if !res.OK() {
		t.Fatalf("expected success, got %v", res.Error())
	}
	items, err := classify.Decode[[]searchResult](res)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 1 || items[0].Name != "Test Result" {
		t.Fatalf("unexpected payload %v", items)
	}

	req := seen.Load().(*http.Request)
	if req.URL.Path != "/search" || req.URL.Query().Get("q") != "test query" {
		t.Fatalf("unexpected request %s", req.URL)
	}
	if req.Header.Get(RequestIDHeader) == "" || req.Header.Get(RequestIDHeader) != res.RequestID {
		t.Fatalf("expected request id header to match result, got %q vs %q", req.Header.Get(RequestIDHeader), res.RequestID)
	}
	if rec.Contains("bing-key") {
		t.Fatalf("api key leaked into logs")
	}
}

func TestCallAPIBingUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid key"}`))
	}))
	defer srv.Close()

	store := newStore(t, map[[2]string]string{{"bing", "api_key"}: "bing-key"})
	g := newGateway(t, testConfig(srv.URL), store, nil)

	res := g.CallAPI(context.Background(), "bing", http.MethodGet, "search", "test query")
	if res.OK() || !errors.Is(res.Error(), apierror.ErrAuthentication) {
		t.Fatalf("expected authentication failure, got %v", res.Error())
	}
	if res.Status != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", res.Status)
	}
	if strings.Contains(res.Error().Error(), "bing-key") {
		t.Fatalf("error leaked the api key: %v", res.Error())
	}
}

func TestCallAPIRejectsUnsafeInputBeforeNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	store := newStore(t, map[[2]string]string{{"bing", "api_key"}: "bing-key"})
	g := newGateway(t, testConfig(srv.URL), store, nil)

	res := g.CallAPI(context.Background(), "bing", http.MethodGet, "search", "x'; DROP TABLE users")
	if !errors.Is(res.Error(), apierror.ErrValidation) {
		t.Fatalf("expected validation failure, got %v", res.Error())
	}
	if hits.Load() != 0 {
		t.Fatalf("expected no request to be sent")
	}
}

func TestCallAPIUnknownServiceIsConfigError(t *testing.T) {
	g := newGateway(t, testConfig("https://api.example.com"), newStore(t, nil), nil)
	res := g.CallAPI(context.Background(), "weather", http.MethodGet, "", "")
	if res.Kind() != apierror.KindConfig {
		t.Fatalf("expected config error, got %v", res.Error())
	}
}

func TestCallAPIMissingSecretIsConfigError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	g := newGateway(t, testConfig(srv.URL), newStore(t, nil), nil)
	res := g.CallAPI(context.Background(), "api", http.MethodGet, "items", "")
	if res.Kind() != apierror.KindConfig {
		t.Fatalf("expected config error, got %v", res.Error())
	}
	if hits.Load() != 0 {
		t.Fatalf("expected no request to be sent")
	}
}

func TestCallAPIBearerKeyAndRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer data-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"data":"valid"}`))
	}))
	defer srv.Close()

	counter := metrics.NewCounter()
	store := newStore(t, map[[2]string]string{{"api", "api_key"}: "data-key"})
	g, err := New(Dependencies{
		Config:   testConfig(srv.URL),
		Secrets:  store,
		Executor: retry.New(retry.WithSleeper(noSleep), retry.WithMetrics(counter)),
		Metrics:  counter,
	})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}

	res := g.CallAPI(context.Background(), "api", http.MethodGet, "/reports", "")
	if !res.OK() || res.Attempts != 3 {
		t.Fatalf("expected success after 3 attempts, got %v after %d", res.Error(), res.Attempts)
	}
	if counter.Count("access.call", map[string]string{"service": "api", "outcome": "success"}) != 1 {
		t.Fatalf("expected call outcome to be recorded")
	}
	if counter.Count("retry.attempt", nil) != 3 {
		t.Fatalf("expected 3 attempts recorded")
	}
}

func TestCallAPIRateLimitExhaustion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	store := newStore(t, map[[2]string]string{{"api", "api_key"}: "data-key"})
	g := newGateway(t, testConfig(srv.URL), store, nil)
	res := g.CallAPI(context.Background(), "api", http.MethodGet, "", "")
	if res.Kind() != apierror.KindResponse || res.Status != http.StatusTooManyRequests {
		t.Fatalf("expected response error with 429, got %v", res.Error())
	}
	if res.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", res.Attempts)
	}
}

func TestCallOAuth2ServiceRefreshesAfterUnauthorized(t *testing.T) {
	var exchanges atomic.Int32
	authSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("client_secret") != "pbi-secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		n := exchanges.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-" + string(rune('0'+n)),
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer authSrv.Close()

	var apiCalls atomic.Int32
	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if apiCalls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("Authorization") != "Bearer tok-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("filter") != "sales_2024" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"value":[]}`))
	}))
	defer apiSrv.Close()

	cfg := config.Defaults()
	cfg.API = config.APIConfig{BaseURL: apiSrv.URL, ClientID: "client-1", ClientSecret: "pbi-secret"}
	cfg.Services = []config.ServiceConfig{{
		Name:    "powerbi",
		BaseURL: apiSrv.URL + "/v1.0/myorg",
		Auth: config.AuthConfig{
			Mode:      config.AuthOAuth2,
			Authority: authSrv.URL + "/tenant",
			Scope:     "https://analysis.windows.net/powerbi/api/.default",
		},
		QueryParam:         "filter",
		AllowedPunctuation: " _-",
	}}

	g := newGateway(t, cfg, newStore(t, nil), nil)

	first := g.CallAPI(context.Background(), "powerbi", http.MethodGet, "datasets", "sales_2024")
	if !errors.Is(first.Error(), apierror.ErrAuthentication) {
		t.Fatalf("expected first call to fail authentication, got %v", first.Error())
	}
	second := g.CallAPI(context.Background(), "powerbi", http.MethodGet, "datasets", "sales_2024")
	if !second.OK() {
		t.Fatalf("expected success after token refresh, got %v", second.Error())
	}
	if exchanges.Load() != 2 {
		t.Fatalf("expected token to be re-acquired after 401, got %d exchanges", exchanges.Load())
	}

	tok, err := g.Token(context.Background(), "powerbi")
	if err != nil || tok.Value != "tok-2" {
		t.Fatalf("expected cached token tok-2, got %q (%v)", tok.Value, err)
	}
}

func TestCallOAuth2PrefersStoredClientSecret(t *testing.T) {
	authSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("client_secret") != "sealed-secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":3600}`))
	}))
	defer authSrv.Close()

	cfg := config.Defaults()
	cfg.API = config.APIConfig{ClientID: "client-1", ClientSecret: "env-secret"}
	cfg.Services = []config.ServiceConfig{{
		Name:    "powerbi",
		BaseURL: "https://api.powerbi.example",
		Auth:    config.AuthConfig{Mode: config.AuthOAuth2, Authority: authSrv.URL, Scope: "s"},
	}}
	store := newStore(t, map[[2]string]string{{"powerbi", ClientSecretKey}: "sealed-secret"})
	g := newGateway(t, cfg, store, nil)

	if _, err := g.Token(context.Background(), "powerbi"); err != nil {
		t.Fatalf("token: %v", err)
	}
	if _, err := g.Token(context.Background(), "bing"); apierror.KindOf(err) != apierror.KindConfig {
		t.Fatalf("expected config error for unknown service, got %v", err)
	}
}

func TestGatewayDirectAccessors(t *testing.T) {
	store := newStore(t, map[[2]string]string{{"bing", "api_key"}: "bing-key"})
	g := newGateway(t, testConfig("https://api.example.com"), store, nil)

	in, err := g.Sanitize("bing", " weather today ")
	if err != nil || in.String() != "weather today" {
		t.Fatalf("unexpected sanitize result %q (%v)", in, err)
	}
	if _, err := g.Sanitize("api", "weather today"); !errors.Is(err, apierror.ErrValidation) {
		t.Fatalf("expected api service to reject spaces, got %v", err)
	}
	secret, err := g.Secret(context.Background(), "BING", "")
	if err != nil || secret != "bing-key" {
		t.Fatalf("unexpected secret (%v)", err)
	}
	if _, err := g.Token(context.Background(), "bing"); apierror.KindOf(err) != apierror.KindConfig {
		t.Fatalf("expected config error for non oauth2 service, got %v", err)
	}
	if got := g.Services(); len(got) != 2 {
		t.Fatalf("expected 2 services, got %v", got)
	}
}

func TestNewRequiresSecrets(t *testing.T) {
	if _, err := New(Dependencies{Config: config.Defaults()}); !errors.Is(err, ErrMissingSecrets) {
		t.Fatalf("expected ErrMissingSecrets, got %v", err)
	}
}

func TestResolveTarget(t *testing.T) {
	cases := []struct {
		base, target, want string
		kind               apierror.Kind
	}{
		{"https://api.example.com", "search", "https://api.example.com/search", ""},
		{"https://api.example.com/v1", "/items", "https://api.example.com/v1/items", ""},
		{"https://api.example.com/v1/", "items?x=1", "https://api.example.com/v1/items?x=1", ""},
		{"https://api.example.com/v1", "", "https://api.example.com/v1", ""},
		{"https://api.example.com/v1", "https://api.example.com/v1/a", "https://api.example.com/v1/a", ""},
		{"https://api.example.com/v1", "https://evil.example.com/a", "", apierror.KindRequest},
		{"https://api.example.com/v1", "https://api.example.com/admin", "", apierror.KindRequest},
		{"https://api.example.com/v1", "https://api.example.com/v1/../admin", "", apierror.KindRequest},
		{"https://api.example.com/v1", "https://api.example.com/v10/a", "", apierror.KindRequest},
		{"https://api.example.com/v1", "../admin", "", apierror.KindRequest},
		{"not a url", "x", "", apierror.KindConfig},
	}
	for _, tc := range cases {
		got, err := resolveTarget(tc.base, tc.target, nil)
		if apierror.KindOf(err) != tc.kind {
			t.Fatalf("%s + %s: expected kind %q, got %v", tc.base, tc.target, tc.kind, err)
		}
		if err == nil && got != tc.want {
			t.Fatalf("%s + %s: expected %s, got %s", tc.base, tc.target, tc.want, got)
		}
	}
}
