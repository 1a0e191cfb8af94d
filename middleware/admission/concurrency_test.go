package admission

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"admission-gateway/middleware/admission/infra"
)

// pool já cheio: a aquisição só termina quando o ctx acaba
type fullPool struct{}

func (fullPool) Acquire(ctx context.Context) (func(), bool) {
	<-ctx.Done()
	return nil, false
}

func TestConcurrencyMiddleware_RejectsWhenNoSlot(t *testing.T) {
	stats := infra.NewMemoryStatsStore()
	called := false
	h := ConcurrencyMiddleware(ConcurrencyOptions{
		Pool:           fullPool{},
		AcquireTimeout: 10 * time.Millisecond,
		Stats:          stats,
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example/", nil))

	if called {
		t.Fatalf("next handler must not run without a slot")
	}
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if w.Header().Get(HeaderRequestID) == "" {
		t.Fatalf("expected X-Request-ID on rejection")
	}
	if got := stats.Total().Throttled; got != 1 {
		t.Fatalf("expected 1 throttled event, got %d", got)
	}
}

func TestConcurrencyMiddleware_CanceledClientGetsNoResponse(t *testing.T) {
	stats := infra.NewMemoryStatsStore()
	h := ConcurrencyMiddleware(ConcurrencyOptions{Pool: fullPool{}, Stats: stats})(okHandler(new(int)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Body.Len() != 0 {
		t.Fatalf("expected empty body for a canceled client, got %q", w.Body.String())
	}
	if got := stats.Total().Throttled; got != 0 {
		t.Fatalf("canceled client must not count as throttled, got %d", got)
	}
}

func TestConcurrencyMiddleware_ReleasesSlotAfterHandler(t *testing.T) {
	pool := infra.NewSlotPool(1)
	var inUse int
	h := ConcurrencyMiddleware(ConcurrencyOptions{Pool: pool, AcquireTimeout: 10 * time.Millisecond})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			inUse = pool.InUse()
		}))

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example/", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, w.Code)
		}
	}
	if inUse != 1 {
		t.Fatalf("expected the slot held during the handler, got %d", inUse)
	}
	if pool.InUse() != 0 {
		t.Fatalf("expected slot released, got %d in use", pool.InUse())
	}
}

func TestConcurrencyMiddleware_DisabledWithoutMax(t *testing.T) {
	h := ConcurrencyMiddleware(ConcurrencyOptions{})(okHandler(new(int)))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example/", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
