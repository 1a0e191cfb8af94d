package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"admission-gateway/middleware/admission"
	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"
	"admission-gateway/middleware/admission/infra"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

func main() {
	// Exemplo: injetando os middlewares diretamente no seu webserver (sem proxy)
	log := logrus.StandardLogger()

	policies, err := application.NewPolicyStore(application.DefaultPolicyConfig())
	if err != nil {
		log.Fatal(err)
	}

	store := infra.NewMemoryCounterStore()
	stats := infra.NewMemoryStatsStore()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	store.StartJanitor(ctx)

	breakers := application.NewBreakers(application.BreakerOptions{
		Config: application.DefaultBreakerConfig(),
		Stats:  stats,
		Log:    log,
	})

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(admission.CorrelationMiddleware)
	// usuário autenticado pela aplicação; aqui só um header de exemplo
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if u := r.Header.Get("X-User-ID"); u != "" {
				p := &domain.Principal{UserID: u, Tier: domain.Tier(r.Header.Get("X-User-Tier"))}
				r = r.WithContext(admission.WithPrincipal(r.Context(), p))
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Use(admission.Middleware(admission.Options{
		Identity: application.IdentityResolver{},
		Policies: application.PolicyResolver{Store: policies},
		Limiter:  &application.Limiter{Store: store, Log: log},
		Stats:    stats,
		Log:      log,
	}))
	r.Use(admission.ConcurrencyMiddleware(admission.ConcurrencyOptions{Max: 50, Stats: stats}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("logged in\n"))
		})
		r.Group(func(r chi.Router) {
			r.Use(admission.BreakerMiddleware(admission.BreakerOptions{
				Breakers:   breakers,
				Dependency: admission.DependencyName("ai-provider"),
				Stats:      stats,
				Log:        log,
			}))
			r.Post("/ai/complete", func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Query().Get("fail") != "" {
					http.Error(w, "provider error", http.StatusBadGateway)
					return
				}
				_, _ = w.Write([]byte("completion\n"))
			})
		})
	})

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infof("example server listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}
