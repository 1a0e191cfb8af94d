package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"admission-gateway/middleware/admission/application"

	"github.com/joho/godotenv"
)

type config struct {
	enabled     bool
	listenAddr  string
	upstreamURL string
	policyFile  string

	counterStore  string // memory | redis
	redisAddr     string
	redisPassword string
	redisDB       int
	redisPrefix   string
	storeTimeout  time.Duration
	failOpen      bool

	apiKeyHeader      string
	trustProxyHeaders bool
	allowList         []string

	breakerEnabled    bool
	breakerDependency string
	breaker           application.BreakerConfig

	concurrencyMax     int
	concurrencyTimeout time.Duration

	statsBackend   string // none | memory | redis | otel
	statsPrefix    string
	statsTTL       time.Duration
	statsBucket    string
	statsTrackKeys bool

	logLevel  string
	logFormat string
}

func readConfig() (config, error) {
	// .env é opcional; variáveis já exportadas têm precedência
	_ = godotenv.Load()

	cfg := config{}
	cfg.enabled = getenvBoolDefault("ADMISSION_ENABLED", true)
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.upstreamURL = os.Getenv("UPSTREAM_URL")
	cfg.policyFile = os.Getenv("POLICY_FILE")

	cfg.counterStore = strings.ToLower(getenvDefault("COUNTER_STORE", "memory"))
	cfg.redisAddr = os.Getenv("REDIS_ADDR")
	cfg.redisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.redisDB = getenvIntDefault("REDIS_DB", 0)
	cfg.redisPrefix = getenvDefault("REDIS_PREFIX", "admission")
	cfg.storeTimeout = getenvDurationDefault("STORE_TIMEOUT", application.DefaultStoreTimeout)
	cfg.failOpen = getenvBoolDefault("RATE_FAIL_OPEN", false)

	cfg.apiKeyHeader = getenvDefault("API_KEY_HEADER", application.DefaultAPIKeyHeader)
	// só ligar atrás de um proxy confiável: o cliente controla X-Forwarded-For e afins
	cfg.trustProxyHeaders = getenvBoolDefault("TRUST_PROXY_HEADERS", false)
	cfg.allowList = splitList(os.Getenv("ALLOW_LIST"))

	def := application.DefaultBreakerConfig()
	cfg.breakerEnabled = getenvBoolDefault("BREAKER_ENABLED", true)
	cfg.breakerDependency = getenvDefault("BREAKER_DEPENDENCY", "upstream")
	cfg.breaker = application.BreakerConfig{
		FailureThreshold: getenvIntDefault("BREAKER_FAILURE_THRESHOLD", def.FailureThreshold),
		FailureWindow:    getenvDurationDefault("BREAKER_FAILURE_WINDOW", def.FailureWindow),
		RecoveryTimeout:  getenvDurationDefault("BREAKER_RECOVERY_TIMEOUT", def.RecoveryTimeout),
		SuccessThreshold: getenvIntDefault("BREAKER_SUCCESS_THRESHOLD", def.SuccessThreshold),
	}

	cfg.concurrencyMax = getenvIntDefault("CONCURRENCY_MAX", 100)
	cfg.concurrencyTimeout = getenvDurationDefault("CONCURRENCY_TIMEOUT", 0)

	cfg.statsBackend = strings.ToLower(getenvDefault("STATS_BACKEND", "none"))
	cfg.statsPrefix = getenvDefault("RATE_STATS_PREFIX", "admission:stats")
	cfg.statsTTL = getenvDurationDefault("RATE_STATS_TTL", 24*time.Hour)
	cfg.statsBucket = getenvDefault("RATE_STATS_BUCKET", "minute")
	cfg.statsTrackKeys = getenvBoolDefault("RATE_STATS_TRACK_KEYS", false)

	cfg.logLevel = getenvDefault("LOG_LEVEL", "info")
	cfg.logFormat = strings.ToLower(getenvDefault("LOG_FORMAT", "text"))

	if cfg.upstreamURL == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}
	switch cfg.counterStore {
	case "memory", "redis":
	default:
		return config{}, fmt.Errorf("COUNTER_STORE must be memory or redis, got %q", cfg.counterStore)
	}
	switch cfg.statsBackend {
	case "none", "memory", "redis", "otel":
	default:
		return config{}, fmt.Errorf("STATS_BACKEND must be none, memory, redis or otel, got %q", cfg.statsBackend)
	}
	if cfg.needsRedis() && strings.TrimSpace(cfg.redisAddr) == "" {
		return config{}, errors.New("REDIS_ADDR is required when COUNTER_STORE or STATS_BACKEND is redis")
	}
	if cfg.concurrencyMax < 0 {
		return config{}, errors.New("CONCURRENCY_MAX must be >= 0")
	}
	if cfg.breaker.FailureThreshold <= 0 || cfg.breaker.SuccessThreshold <= 0 {
		return config{}, errors.New("BREAKER_FAILURE_THRESHOLD and BREAKER_SUCCESS_THRESHOLD must be > 0")
	}
	return cfg, nil
}

func identityResolver(cfg config) application.IdentityResolver {
	return application.IdentityResolver{
		APIKeyHeader:       cfg.apiKeyHeader,
		IgnoreProxyHeaders: !cfg.trustProxyHeaders,
	}
}

func (c config) needsRedis() bool {
	return c.counterStore == "redis" || c.statsBackend == "redis"
}

// loadPolicies lê a tabela do POLICY_FILE (JSON) ou usa a padrão.
// ALLOW_LIST é somado à allow-list do arquivo.
func loadPolicies(cfg config) (*application.PolicyStore, error) {
	pc := application.DefaultPolicyConfig()
	if cfg.policyFile != "" {
		raw, err := os.ReadFile(cfg.policyFile)
		if err != nil {
			return nil, fmt.Errorf("read POLICY_FILE: %w", err)
		}
		pc = application.PolicyConfig{}
		if err := json.Unmarshal(raw, &pc); err != nil {
			return nil, fmt.Errorf("parse POLICY_FILE: %w", err)
		}
	}
	pc.AllowList = append(pc.AllowList, cfg.allowList...)

	store, err := application.NewPolicyStore(pc)
	if err != nil {
		return nil, fmt.Errorf("policy config: %w", err)
	}
	return store, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
