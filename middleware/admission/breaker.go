package admission

import (
	"net/http"
	"time"

	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"

	"github.com/sirupsen/logrus"
)

const (
	HeaderCircuitBreaker      = "X-Circuit-Breaker"
	HeaderCircuitBreakerState = "X-Circuit-Breaker-State"
)

type BreakerOptions struct {
	Breakers *application.Breakers
	// Dependency identifica a dependência protegida da requisição. Vazio = não protegida.
	Dependency func(r *http.Request) string
	// IsFailure classifica o status da resposta. Padrão: >= 500.
	IsFailure func(status int) bool
	// Fallback, se presente, responde no lugar do 503 com o circuito aberto
	// (ex.: resposta em cache). Os headers do breaker são mantidos.
	Fallback http.Handler
	Stats    domain.StatsStore
	Log      logrus.FieldLogger
}

// DependencyName protege todas as requisições como uma única dependência.
func DependencyName(name string) func(*http.Request) string {
	return func(*http.Request) string { return name }
}

// BreakerMiddleware consulta o gate antes do próximo handler e reporta o resultado.
func BreakerMiddleware(opts BreakerOptions) func(next http.Handler) http.Handler {
	if opts.Breakers == nil || opts.Dependency == nil || opts.Breakers.Disabled() {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.IsFailure == nil {
		opts.IsFailure = func(status int) bool { return status >= http.StatusInternalServerError }
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			dep := opts.Dependency(r)
			if dep == "" {
				next.ServeHTTP(w, r)
				return
			}

			b := opts.Breakers.Get(dep)
			gate := b.Allow()
			w.Header().Set(HeaderCircuitBreakerState, string(gate.State))

			if !gate.Allow {
				r, reqID := withRequestID(w, r)
				w.Header().Set(HeaderCircuitBreaker, string(domain.StateOpen))
				record(r, opts.Stats, opts.Log, domain.StatsEvent{
					Key:     dep,
					Outcome: domain.OutcomeShortCircuited,
					Method:  r.Method,
					Path:    r.URL.Path,
					At:      time.Now(),
				})
				opts.Log.WithFields(logrus.Fields{
					"dependency": dep,
					"state":      gate.State,
					"request_id": reqID,
				}).Info("circuit open, short-circuiting request")

				if opts.Fallback != nil {
					opts.Fallback.ServeHTTP(w, r)
					return
				}
				writeError(w, http.StatusServiceUnavailable, errorBody{
					Error:      "circuit_open",
					Message:    "Upstream dependency is unavailable, try again later.",
					RequestID:  reqID,
					Dependency: dep,
				})
				return
			}

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			completed := false
			defer func() {
				// panic do handler conta como falha; o panic segue adiante
				if !completed || opts.IsFailure(sw.status) {
					b.RecordFailure(gate)
				} else {
					b.RecordSuccess(gate)
				}
			}()
			next.ServeHTTP(sw, r)
			completed = true
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
