package application

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/sirupsen/logrus"
)

const DefaultStoreTimeout = 100 * time.Millisecond

// Limiter executa o algoritmo da política contra o CounterStore.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
type Limiter struct {
	Store domain.CounterStore
	// Disabled faz toda checagem retornar allowed sem tocar no store.
	Disabled bool
	// FailOpen decide o que fazer quando o store falha. O padrão (false) é negar.
	FailOpen bool
	// StoreTimeout limita cada chamada ao store. Se <= 0, usa DefaultStoreTimeout.
	StoreTimeout time.Duration
	Now          func() time.Time
	Log          logrus.FieldLogger
}

// Check decide se a requisição da identidade no escopo (endpoint) é admitida.
//
// As janelas minuto, hora e dia são portões independentes: a requisição só passa se
// passar em todos. O minuto usa o algoritmo da política; hora e dia são sempre
// contadores de janela fixa alinhados ao epoch. A avaliação para no primeiro portão
// que negar, então janelas mais grossas só contam requisições que passaram nas finas.
func (l *Limiter) Check(ctx context.Context, scope string, id domain.Identity, p *domain.Policy) domain.Decision {
	if l == nil || l.Disabled || p == nil || l.Store == nil {
		return domain.Decision{Allowed: true, Unlimited: true}
	}

	now := l.now()
	base := id.Key() + "|" + scope

	var gates []domain.Decision
	for _, w := range domain.Windows {
		var (
			dec domain.Decision
			err error
		)
		if w == domain.WindowMinute && p.Algorithm == domain.TokenBucket {
			dec, err = l.takeToken(ctx, base, *p, now)
		} else {
			dec, err = l.countWindow(ctx, base, *p, w, now)
		}
		if err != nil {
			return l.storeFailure(err, id, scope, *p, now)
		}
		gates = append(gates, dec)
		if !dec.Allowed {
			break
		}
	}
	return mostRestrictive(gates)
}

func (l *Limiter) countWindow(ctx context.Context, base string, p domain.Policy, w domain.Window, now time.Time) (domain.Decision, error) {
	size := w.Duration()
	start := windowStart(now, size)
	key := base + "|" + string(w) + "|" + strconv.FormatInt(start.Unix(), 10)

	sctx, cancel := l.storeContext(ctx)
	defer cancel()
	wc, err := l.Store.IncrementWindow(sctx, key, start, size)
	if err != nil {
		return domain.Decision{}, err
	}

	limit := p.Limit(w)
	resetAt := start.Add(size)
	// allowed = contagem antes do incremento < limite
	dec := domain.Decision{
		Allowed:   wc.Count-1 < int64(limit),
		Limit:     limit,
		Remaining: clampRemaining(int64(limit) - wc.Count),
		ResetAt:   resetAt,
		Window:    w,
	}
	if !dec.Allowed {
		dec.RetryAfter = resetAt.Sub(now)
	}
	return dec, nil
}

func (l *Limiter) takeToken(ctx context.Context, base string, p domain.Policy, now time.Time) (domain.Decision, error) {
	capacity := p.Capacity()
	ratePerSec := float64(p.PerMinute) / 60
	key := base + "|bucket|" + strconv.Itoa(capacity) + "|" + strconv.Itoa(p.PerMinute)

	sctx, cancel := l.storeContext(ctx)
	defer cancel()
	res, err := l.Store.TakeToken(sctx, key, capacity, ratePerSec, now)
	if err != nil {
		return domain.Decision{}, err
	}

	tokens := math.Max(0, res.Tokens)
	dec := domain.Decision{
		Allowed:   res.Allowed,
		Limit:     capacity,
		Remaining: int(math.Floor(tokens)),
		ResetAt:   now.Add(secondsDuration((float64(capacity) - tokens) / ratePerSec)),
		Window:    domain.WindowMinute,
	}
	if !dec.Allowed {
		dec.RetryAfter = secondsDuration((1 - tokens) / ratePerSec)
	}
	return dec, nil
}

func (l *Limiter) storeFailure(err error, id domain.Identity, scope string, p domain.Policy, now time.Time) domain.Decision {
	log := l.logger().WithFields(logrus.Fields{
		"identity":  SanitizeIdentity(id),
		"endpoint":  scope,
		"fail_open": l.FailOpen,
	})
	if errors.Is(err, context.DeadlineExceeded) {
		log = log.WithField("timeout", l.storeTimeout())
	}
	log.WithError(err).Warn("counter store unavailable")

	if l.FailOpen {
		return domain.Decision{Allowed: true, Limit: p.PerMinute, Remaining: p.PerMinute, ResetAt: now.Add(time.Minute), Window: domain.WindowMinute}
	}
	return domain.Decision{
		Allowed:    false,
		Limit:      p.PerMinute,
		Remaining:  0,
		ResetAt:    now.Add(time.Second),
		RetryAfter: time.Second,
		Window:     domain.WindowMinute,
	}
}

// mostRestrictive combina os portões: negado se qualquer um negar, e reporta o portão
// com menos remaining (o que negou, quando houver).
func mostRestrictive(gates []domain.Decision) domain.Decision {
	out := gates[0]
	for _, g := range gates[1:] {
		if !g.Allowed || (out.Allowed && g.Remaining < out.Remaining) {
			out = g
		}
	}
	return out
}

func (l *Limiter) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, l.storeTimeout())
}

func (l *Limiter) storeTimeout() time.Duration {
	if l.StoreTimeout <= 0 {
		return DefaultStoreTimeout
	}
	return l.StoreTimeout
}

func (l *Limiter) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l *Limiter) logger() logrus.FieldLogger {
	if l.Log != nil {
		return l.Log
	}
	return logrus.StandardLogger()
}

// windowStart alinha a janela ao epoch, não à primeira requisição.
func windowStart(now time.Time, size time.Duration) time.Time {
	secs := int64(size / time.Second)
	return time.Unix(now.Unix()/secs*secs, 0)
}

func clampRemaining(v int64) int {
	if v < 0 {
		return 0
	}
	return int(v)
}

func secondsDuration(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
