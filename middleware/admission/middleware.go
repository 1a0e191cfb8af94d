package admission

import (
	"net/http"
	"time"

	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"

	"github.com/sirupsen/logrus"
)

type Options struct {
	Identity  application.IdentityResolver
	Policies  application.PolicyResolver
	Limiter   *application.Limiter
	Stats     domain.StatsStore
	Principal PrincipalFunc
	Log       logrus.FieldLogger
	// RejectStatus padrão é 429.
	RejectStatus int
}

// Middleware aplica o rate limit: identidade → política → Limiter.
// Negado responde RejectStatus com Retry-After e corpo JSON com o id de correlação.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.Principal == nil {
		opts.Principal = PrincipalFromContext
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.Limiter == nil || opts.Limiter.Disabled {
				next.ServeHTTP(w, r)
				return
			}

			desc := Descriptor(r, opts.Principal)
			id := opts.Identity.Resolve(desc)
			res := opts.Policies.ResolveRule(desc.Path, id)

			scope := res.Rule
			if scope == "" {
				scope = desc.Path
			}
			dec := opts.Limiter.Check(r.Context(), scope, id, res.Policy)

			if !dec.Unlimited {
				w.Header().Set("X-RateLimit-Limit", formatInt(dec.Limit))
				w.Header().Set("X-RateLimit-Remaining", formatInt(dec.Remaining))
				w.Header().Set("X-RateLimit-Reset", formatUnix(dec.ResetAt))
			}

			outcome := domain.OutcomeAdmitted
			if !dec.Allowed {
				outcome = domain.OutcomeDenied
			}
			record(r, opts.Stats, opts.Log, domain.StatsEvent{
				Key:     application.SanitizeIdentity(id),
				Outcome: outcome,
				Rule:    res.Rule,
				Method:  r.Method,
				Path:    desc.Path,
				At:      time.Now(),
			})

			if dec.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			r, reqID := withRequestID(w, r)
			retry := retryAfterSeconds(dec.RetryAfter)
			opts.Log.WithFields(logrus.Fields{
				"identity":    application.SanitizeIdentity(id),
				"endpoint":    desc.Path,
				"policy_rule": res.Rule,
				"window":      dec.Window,
				"request_id":  reqID,
			}).Info("rate limit exceeded")

			w.Header().Set("Retry-After", formatInt(retry))
			writeError(w, opts.RejectStatus, errorBody{
				Error:      "rate_limited",
				Message:    "Too many requests, retry after the indicated number of seconds.",
				RequestID:  reqID,
				RetryAfter: retry,
			})
		})
	}
}

func record(r *http.Request, stats domain.StatsStore, log logrus.FieldLogger, ev domain.StatsEvent) {
	if stats == nil {
		return
	}
	if err := stats.Record(r.Context(), ev); err != nil {
		log.WithError(err).Debug("stats record failed")
	}
}
