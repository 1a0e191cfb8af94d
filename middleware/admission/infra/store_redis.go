package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/redis/go-redis/v9"
)

// RedisCounterStore compartilha contadores entre processos.
//
// Janelas fixas usam INCR + EXPIRE numa transação; o token bucket roda num script
// Lua para que o read-modify-write seja atômico no servidor.
type RedisCounterStore struct {
	rdb    redis.UniversalClient
	prefix string
}

type RedisStoreOption func(*RedisCounterStore)

func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisCounterStore) { s.prefix = strings.Trim(prefix, ":") }
}

func NewRedisCounterStore(rdb redis.UniversalClient, opts ...RedisStoreOption) *RedisCounterStore {
	s := &RedisCounterStore{rdb: rdb, prefix: "admission"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ domain.CounterStore = (*RedisCounterStore)(nil)

func (s *RedisCounterStore) IncrementWindow(ctx context.Context, key string, _ time.Time, window time.Duration) (domain.WindowCount, error) {
	k := s.prefix + ":win:" + key

	pipe := s.rdb.TxPipeline()
	counter := pipe.Incr(ctx, k)
	// a chave já carrega o início da janela, então o TTL só serve para liberar memória
	pipe.Expire(ctx, k, window+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.WindowCount{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return domain.WindowCount{Count: counter.Val()}, nil
}

var takeTokenScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end

local elapsed = now - ts
if elapsed < 0 then
  elapsed = 0
end
tokens = math.min(capacity, tokens + elapsed * rate)

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', tostring(math.max(now, ts)))
redis.call('PEXPIRE', KEYS[1], ttl)
return {allowed, tostring(tokens)}
`)

func (s *RedisCounterStore) TakeToken(ctx context.Context, key string, capacity int, ratePerSec float64, now time.Time) (domain.BucketResult, error) {
	k := s.prefix + ":bucket:" + key

	ratePerMs := ratePerSec / 1000
	// tempo até encher de novo, com folga; depois disso o estado equivale a um bucket novo
	ttl := time.Duration(float64(capacity)/ratePerSec*float64(time.Second)) + time.Minute

	raw, err := takeTokenScript.Run(ctx, s.rdb, []string{k},
		capacity,
		strconv.FormatFloat(ratePerMs, 'f', -1, 64),
		now.UnixMilli(),
		ttl.Milliseconds(),
	).Slice()
	if err != nil {
		return domain.BucketResult{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if len(raw) != 2 {
		return domain.BucketResult{}, fmt.Errorf("%w: unexpected script reply %v", domain.ErrStoreUnavailable, raw)
	}

	allowed, _ := raw[0].(int64)
	tokensStr, _ := raw[1].(string)
	tokens, err := strconv.ParseFloat(tokensStr, 64)
	if err != nil {
		return domain.BucketResult{}, fmt.Errorf("%w: bad token count %q", domain.ErrStoreUnavailable, tokensStr)
	}
	return domain.BucketResult{Allowed: allowed == 1, Tokens: tokens}, nil
}
