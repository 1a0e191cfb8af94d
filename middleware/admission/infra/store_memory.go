package infra

import (
	"context"
	"sync"
	"time"

	"admission-gateway/middleware/admission/domain"

	"golang.org/x/time/rate"
)

// MemoryCounterStore guarda contadores em memória, com uma seção crítica por chave:
// o mutex do mapa só protege lookup/inserção, e o read-modify-write acontece no
// mutex da própria entrada. Chaves diferentes nunca disputam o mesmo lock.
type MemoryCounterStore struct {
	mu           sync.Mutex
	entries      map[string]*counterEntry
	idleTTL      time.Duration
	cleanupEvery time.Duration
	now          func() time.Time
}

type counterEntry struct {
	mu sync.Mutex
	// dead marca uma entrada removida pelo janitor; quem a pegou deve buscar de novo.
	dead bool

	windowStart time.Time
	window      time.Duration
	count       int64

	bucket   *rate.Limiter
	lastSeen time.Time
}

type StoreOption func(*MemoryCounterStore)

func WithIdleTTL(d time.Duration) StoreOption {
	return func(s *MemoryCounterStore) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) StoreOption {
	return func(s *MemoryCounterStore) { s.cleanupEvery = d }
}

// WithClock troca o relógio usado pelo janitor (útil em testes).
func WithClock(now func() time.Time) StoreOption {
	return func(s *MemoryCounterStore) { s.now = now }
}

func NewMemoryCounterStore(opts ...StoreOption) *MemoryCounterStore {
	s := &MemoryCounterStore{
		entries:      make(map[string]*counterEntry),
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ domain.CounterStore = (*MemoryCounterStore)(nil)

func (s *MemoryCounterStore) CleanupEvery() time.Duration { return s.cleanupEvery }

// Len retorna o número de chaves vivas.
func (s *MemoryCounterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// IncrementWindow implementa domain.CounterStore.
func (s *MemoryCounterStore) IncrementWindow(_ context.Context, key string, windowStart time.Time, window time.Duration) (domain.WindowCount, error) {
	var count int64
	s.withEntry(key, func(e *counterEntry) {
		if !e.windowStart.Equal(windowStart) {
			// janela nova: o contador anterior não vale mais
			e.windowStart = windowStart
			e.window = window
			e.count = 0
		}
		e.count++
		e.lastSeen = windowStart
		count = e.count
	})
	return domain.WindowCount{Count: count}, nil
}

// TakeToken implementa domain.CounterStore. O refill é o do rate.Limiter:
// tokens = min(capacity, tokens + elapsed*rate), calculado no acesso.
func (s *MemoryCounterStore) TakeToken(_ context.Context, key string, capacity int, ratePerSec float64, now time.Time) (domain.BucketResult, error) {
	var res domain.BucketResult
	s.withEntry(key, func(e *counterEntry) {
		if e.bucket == nil {
			e.bucket = rate.NewLimiter(rate.Limit(ratePerSec), capacity)
		}
		res.Allowed = e.bucket.AllowN(now, 1)
		res.Tokens = e.bucket.TokensAt(now)
		if now.After(e.lastSeen) {
			e.lastSeen = now
		}
	})
	return res, nil
}

func (s *MemoryCounterStore) withEntry(key string, fn func(*counterEntry)) {
	for {
		e := s.entry(key)
		e.mu.Lock()
		if e.dead {
			e.mu.Unlock()
			continue
		}
		fn(e)
		e.mu.Unlock()
		return
	}
}

func (s *MemoryCounterStore) entry(key string) *counterEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		return e
	}
	e := &counterEntry{}
	s.entries[key] = e
	return e
}

// Cleanup remove entradas cujo estado não afeta mais nenhuma decisão: janelas que
// já terminaram e buckets ociosos por idleTTL que já estariam cheios de novo.
func (s *MemoryCounterStore) Cleanup() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, e := range s.entries {
		e.mu.Lock()
		if e.expired(now, s.idleTTL) {
			e.dead = true
			delete(s.entries, k)
		}
		e.mu.Unlock()
	}
}

func (e *counterEntry) expired(now time.Time, idleTTL time.Duration) bool {
	if e.bucket != nil {
		if now.Sub(e.lastSeen) < idleTTL {
			return false
		}
		return e.bucket.TokensAt(now) >= float64(e.bucket.Burst())
	}
	if e.window == 0 {
		return now.Sub(e.lastSeen) > idleTTL
	}
	return !now.Before(e.windowStart.Add(e.window))
}

// StartJanitor inicia uma goroutine que limpa chaves inativas periodicamente.
// Pare cancelando o contexto.
func (s *MemoryCounterStore) StartJanitor(ctx DoneContext) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

// DoneContext é o mínimo necessário para aceitar context.Context sem importar context aqui.
// (Permite reuso em libs sem acoplar.)
type DoneContext interface {
	Done() <-chan struct{}
}
