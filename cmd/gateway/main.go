package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"admission-gateway/middleware/admission"
	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"
	"admission-gateway/middleware/admission/infra"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := readConfig()
	if err != nil {
		logrus.Fatalf("config error: %v", err)
	}
	log := newLogger(cfg)

	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		log.Fatalf("invalid UPSTREAM_URL: %v", err)
	}

	policies, err := loadPolicies(cfg)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var rdb *redis.Client
	if cfg.needsRedis() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.redisAddr,
			Password: cfg.redisPassword,
			DB:       cfg.redisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancelPing := context.WithTimeout(ctx, 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancelPing()
		if err != nil {
			log.Fatalf("redis ping error: %v", err)
		}
	}

	var counters domain.CounterStore
	switch cfg.counterStore {
	case "redis":
		counters = infra.NewRedisCounterStore(rdb, infra.WithKeyPrefix(cfg.redisPrefix))
	default:
		mem := infra.NewMemoryCounterStore()
		mem.StartJanitor(ctx)
		counters = mem
	}

	st, err := newStats(cfg, rdb)
	if err != nil {
		log.Fatalf("stats backend: %v", err)
	}

	if !cfg.enabled {
		log.Warn("admission disabled: every request is forwarded without rate limiting or circuit breaking")
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.WithField("request_id", admission.RequestID(r)).Warnf("proxy error: %v", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	breakers := application.NewBreakers(application.BreakerOptions{
		Config:   cfg.breaker,
		Disabled: !cfg.enabled || !cfg.breakerEnabled,
		Stats:    st.store,
		Log:      log,
	})
	pool := infra.NewSlotPool(cfg.concurrencyMax)

	h := http.Handler(proxy)
	h = admission.BreakerMiddleware(admission.BreakerOptions{
		Breakers:   breakers,
		Dependency: admission.DependencyName(cfg.breakerDependency),
		Stats:      st.store,
		Log:        log,
	})(h)
	if cfg.concurrencyMax > 0 {
		h = admission.ConcurrencyMiddleware(admission.ConcurrencyOptions{
			Pool:           pool,
			RejectStatus:   http.StatusServiceUnavailable,
			AcquireTimeout: cfg.concurrencyTimeout,
			Stats:          st.store,
		})(h)
	}
	h = admission.Middleware(admission.Options{
		Identity: identityResolver(cfg),
		Policies: application.PolicyResolver{Store: policies},
		Limiter: &application.Limiter{
			Store:        counters,
			Disabled:     !cfg.enabled,
			FailOpen:     cfg.failOpen,
			StoreTimeout: cfg.storeTimeout,
			Log:          log,
		},
		Stats: st.store,
		Log:   log,
	})(h)
	h = admission.CorrelationMiddleware(h)

	mux := http.NewServeMux()
	mux.Handle("/_admission/status", statusHandler(breakers, pool, st))
	mux.Handle("/", h)

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	log.WithFields(logrus.Fields{
		"listen":   cfg.listenAddr,
		"upstream": target.String(),
	}).Info("gateway starting")
	log.WithFields(logrus.Fields{
		"enabled":       cfg.enabled,
		"counter_store": cfg.counterStore,
		"fail_open":     cfg.failOpen,
		"store_timeout": cfg.storeTimeout,
		"api_key":       cfg.apiKeyHeader,
		"trust_proxy":   cfg.trustProxyHeaders,
		"rules":         len(policies.Rules()),
	}).Info("rate limit")
	log.WithFields(logrus.Fields{
		"enabled":           cfg.enabled && cfg.breakerEnabled,
		"dependency":        cfg.breakerDependency,
		"failure_threshold": cfg.breaker.FailureThreshold,
		"failure_window":    cfg.breaker.FailureWindow,
		"recovery_timeout":  cfg.breaker.RecoveryTimeout,
		"success_threshold": cfg.breaker.SuccessThreshold,
	}).Info("circuit breaker")
	log.WithFields(logrus.Fields{
		"max":             cfg.concurrencyMax,
		"acquire_timeout": cfg.concurrencyTimeout,
		"stats":           cfg.statsBackend,
	}).Info("concurrency")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return st.shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Errorf("server error: %v", err)
		os.Exit(1)
	}
	log.Info("gateway stopped")
}

func newLogger(cfg config) *logrus.Logger {
	log := logrus.New()
	if cfg.logFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	lvl, err := logrus.ParseLevel(cfg.logLevel)
	if err != nil {
		log.Warnf("invalid LOG_LEVEL %q, using info", cfg.logLevel)
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}

// stats agrupa o StatsStore escolhido com o que o endpoint de status precisa ler.
type stats struct {
	store    domain.StatsStore
	memory   *infra.MemoryStatsStore
	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider
}

func newStats(cfg config, rdb *redis.Client) (stats, error) {
	switch cfg.statsBackend {
	case "memory":
		mem := infra.NewMemoryStatsStore(infra.WithTrackKeys(cfg.statsTrackKeys))
		return stats{store: mem, memory: mem}, nil
	case "redis":
		return stats{store: infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.statsPrefix),
			infra.WithStatsTTL(cfg.statsTTL),
			infra.WithStatsBucket(cfg.statsBucket),
			infra.WithStatsTrackKeys(cfg.statsTrackKeys),
		)}, nil
	case "otel":
		reader := sdkmetric.NewManualReader()
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		otel.SetMeterProvider(provider)

		store, err := infra.NewOTelStatsStore(otel.Meter("admission-gateway"))
		if err != nil {
			return stats{}, err
		}
		return stats{store: store, reader: reader, provider: provider}, nil
	default:
		return stats{}, nil
	}
}

func (s stats) shutdown(ctx context.Context) error {
	if s.provider == nil {
		return nil
	}
	return s.provider.Shutdown(ctx)
}
