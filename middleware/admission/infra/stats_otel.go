package infra

import (
	"context"
	"errors"
	"fmt"

	"admission-gateway/middleware/admission/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var ErrNilMeter = errors.New("nil meter")

// OTelStatsStore publica decisões e transições como contadores OpenTelemetry.
//
// Só usa atributos de baixa cardinalidade (outcome, rule, dependency, estados);
// a chave do chamador nunca vira atributo.
type OTelStatsStore struct {
	decisions   metric.Int64Counter
	transitions metric.Int64Counter
}

func NewOTelStatsStore(meter metric.Meter) (*OTelStatsStore, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}

	decisions, err := meter.Int64Counter(
		"admission_decisions_total",
		metric.WithDescription("Admission decisions by outcome and rule."),
	)
	if err != nil {
		return nil, fmt.Errorf("create decisions counter: %w", err)
	}

	transitions, err := meter.Int64Counter(
		"admission_breaker_transitions_total",
		metric.WithDescription("Circuit breaker state transitions by dependency."),
	)
	if err != nil {
		return nil, fmt.Errorf("create breaker transitions counter: %w", err)
	}

	return &OTelStatsStore{decisions: decisions, transitions: transitions}, nil
}

func (s *OTelStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	s.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", string(ev.Outcome)),
		attribute.String("rule", ev.Rule),
	))
	return nil
}

func (s *OTelStatsStore) RecordBreaker(ctx context.Context, ev domain.BreakerEvent) error {
	s.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("dependency", ev.DependencyID),
		attribute.String("from", string(ev.From)),
		attribute.String("to", string(ev.To)),
	))
	return nil
}
