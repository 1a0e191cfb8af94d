package main

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"admission-gateway/middleware/admission"
	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"
	"admission-gateway/middleware/admission/infra"
)

func TestReadConfig_Defaults(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "http://localhost:8081")

	cfg, err := readConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.enabled || cfg.counterStore != "memory" || cfg.failOpen {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.trustProxyHeaders {
		t.Fatalf("proxy headers must not be trusted by default")
	}
	if cfg.breaker.FailureThreshold != 5 || cfg.breaker.SuccessThreshold != 3 {
		t.Fatalf("unexpected breaker defaults: %+v", cfg.breaker)
	}
}

func TestReadConfig_RedisNeedsAddr(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "http://localhost:8081")
	t.Setenv("COUNTER_STORE", "redis")
	t.Setenv("REDIS_ADDR", "")

	if _, err := readConfig(); err == nil {
		t.Fatalf("expected error without REDIS_ADDR")
	}
}

func TestReadConfig_RejectsUnknownStatsBackend(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "http://localhost:8081")
	t.Setenv("STATS_BACKEND", "statsd")

	if _, err := readConfig(); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestLoadPolicies_FileAndAllowList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.json")
	raw := `{
		"rules": [{"pattern": "/api/search", "policy": {"perMinute": 10, "algorithm": "sliding-window"}}],
		"default": {"perMinute": 60, "algorithm": "sliding-window"},
		"allowList": ["10.0.0.0/8"]
	}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	store, err := loadPolicies(config{policyFile: path, allowList: []string{"192.168.1.1"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.Rules()) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(store.Rules()))
	}
	if !store.Allowed("10.1.2.3") || !store.Allowed("192.168.1.1") {
		t.Fatalf("expected both allow-list sources to apply")
	}
	if store.Allowed("192.168.1.2") {
		t.Fatalf("unexpected allow-list match")
	}
}

func TestLoadPolicies_InvalidPolicyAborts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.json")
	raw := `{"rules": [{"pattern": "/x", "policy": {"perMinute": 0, "algorithm": "sliding-window"}}], "default": {"perMinute": 60, "algorithm": "sliding-window"}}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := loadPolicies(config{policyFile: path})
	if !errors.Is(err, domain.ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}
}

func TestLoadPolicies_DefaultTable(t *testing.T) {
	store, err := loadPolicies(config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.Rules()) == 0 {
		t.Fatalf("expected the built-in rules")
	}
}

func TestReadConfig_TrustProxyHeadersOptIn(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "http://localhost:8081")
	t.Setenv("TRUST_PROXY_HEADERS", "true")

	cfg, err := readConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.trustProxyHeaders {
		t.Fatalf("expected TRUST_PROXY_HEADERS=true to be honored")
	}
}

func TestDefaultConfig_RotatingForwardedForDoesNotEvadeLimit(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "http://localhost:8081")
	cfg, err := readConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	policies, err := loadPolicies(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h := admission.Middleware(admission.Options{
		Identity: identityResolver(cfg),
		Policies: application.PolicyResolver{Store: policies},
		Limiter: &application.Limiter{
			Store: infra.NewMemoryCounterStore(),
			Now:   func() time.Time { return time.Unix(1_700_000_040, 0) },
		},
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	admitted := 0
	for i := 0; i < 50; i++ {
		r := httptest.NewRequest(http.MethodPost, "http://gateway/api/auth/login", nil)
		r.RemoteAddr = "203.0.113.7:4000"
		r.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i+1))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code == http.StatusOK {
			admitted++
		}
	}
	// /api/auth/login permite 5 por minuto
	if admitted != 5 {
		t.Fatalf("expected 5 admitted for a single peer, got %d", admitted)
	}
}
