package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore grava contadores de decisão e transições de breaker em hashes Redis.
type RedisStatsStore struct {
	rdb redis.UniversalClient

	prefix string
	// ttl aplica apenas em chaves de série temporal / por key.
	// total é cumulativo e não expira.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"

	trackKeys bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func NewRedisStatsStore(rdb redis.UniversalClient, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "admission:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// incr é um HINCRBY planejado; ttl > 0 renova a expiração da chave.
type incr struct {
	key   string
	field string
	ttl   time.Duration
}

// Record soma o evento em total (sem expiração), no bucket do minuto, por rota,
// por regra e, se habilitado, por chave sanitizada. Tudo num único pipeline.
func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil || ev.Outcome == "" {
		return nil
	}

	pipe := s.rdb.Pipeline()
	for _, op := range s.plan(ev) {
		pipe.HIncrBy(ctx, op.key, op.field, 1)
		if op.ttl > 0 {
			pipe.Expire(ctx, op.key, op.ttl)
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStatsStore) plan(ev domain.StatsEvent) []incr {
	outcome := string(ev.Outcome)
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	ops := []incr{{key: s.prefix + ":total", field: outcome}}
	if s.bucket == "minute" {
		ops = append(ops, incr{
			key:   fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504")),
			field: outcome,
			ttl:   s.ttl,
		})
	}
	if route := strings.TrimSpace(strings.TrimSpace(ev.Method) + " " + strings.TrimSpace(ev.Path)); route != "" {
		ops = append(ops, incr{key: s.prefix + ":route", field: route + ":" + outcome})
	}
	if ev.Rule != "" {
		ops = append(ops, incr{key: s.prefix + ":rule", field: ev.Rule + ":" + outcome})
	}
	if k := strings.TrimSpace(ev.Key); s.trackKeys && k != "" {
		ops = append(ops, incr{key: s.prefix + ":key:" + k, field: outcome, ttl: s.ttl})
	}
	return ops
}

// RecordBreaker conta transições por dependência e guarda o último estado observado.
func (s *RedisStatsStore) RecordBreaker(ctx context.Context, ev domain.BreakerEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	key := s.prefix + ":breaker:" + ev.DependencyID
	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, key, string(ev.From)+"->"+string(ev.To), 1)
	pipe.HSet(ctx, key, "state", string(ev.To))
	_, err := pipe.Exec(ctx)
	return err
}
