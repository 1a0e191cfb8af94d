package admission

import (
	"net/http"
	"time"

	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"
	"admission-gateway/middleware/admission/infra"
)

type ConcurrencyOptions struct {
	Max            int
	RejectStatus   int
	AcquireTimeout time.Duration
	// Pool substitui o semáforo padrão (infra.SlotPool com Max vagas).
	Pool  domain.SlotPool
	Stats domain.StatsStore
}

func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Max <= 0 && opts.Pool == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}
	if opts.Pool == nil {
		opts.Pool = infra.NewSlotPool(opts.Max)
	}

	svc := application.ConcurrencyService{
		Pool:           opts.Pool,
		AcquireTimeout: opts.AcquireTimeout,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := svc.Acquire(r.Context())
			if !res.OK {
				if res.Canceled {
					// o cliente já foi embora; nada a responder
					return
				}
				r, reqID := withRequestID(w, r)
				if opts.Stats != nil {
					_ = opts.Stats.Record(r.Context(), domain.StatsEvent{
						Outcome: domain.OutcomeThrottled,
						Method:  r.Method,
						Path:    r.URL.Path,
						At:      time.Now(),
					})
				}
				writeError(w, opts.RejectStatus, errorBody{
					Error:     "overloaded",
					Message:   http.StatusText(opts.RejectStatus),
					RequestID: reqID,
				})
				return
			}
			defer res.Release()

			next.ServeHTTP(w, r)
		})
	}
}
