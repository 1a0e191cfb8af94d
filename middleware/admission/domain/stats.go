package domain

import (
	"context"
	"time"
)

type Outcome string

const (
	OutcomeAdmitted Outcome = "admitted"
	// OutcomeDenied: negado pelo rate limit (429).
	OutcomeDenied Outcome = "denied"
	// OutcomeThrottled: sem vaga de concorrência dentro do timeout (503).
	OutcomeThrottled Outcome = "throttled"
	// OutcomeShortCircuited: circuit breaker aberto (503).
	OutcomeShortCircuited Outcome = "short_circuited"
)

// StatsEvent representa um evento de decisão da camada de admissão.
//
// Ele é propositalmente "agnóstico de HTTP": Method/Path são strings genéricas
// e podem ser usadas para web, gRPC, etc.
//
// Key deve vir sanitizada (nunca a API key crua).
// Observação: cuidado com cardinalidade (ex.: salvar Key/Path sem controle pode
// explodir o número de séries/chaves em uma base como Redis/Prometheus).
type StatsEvent struct {
	Key     string
	Outcome Outcome
	Rule    string

	Method string
	Path   string

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas (o "metrics sink").
//
// Implementações podem armazenar em Redis, OpenTelemetry, memória, etc.
// Quem chama deve tratar erro como best-effort (não derrubar request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
	RecordBreaker(ctx context.Context, ev BreakerEvent) error
}
