package application

import (
	"context"
	"time"

	"admission-gateway/middleware/admission/domain"
)

// SlotResult é o resultado de uma tentativa de aquisição de vaga.
//
// Canceled indica que o próprio chamador desistiu (ctx pai encerrado) e não
// deve ser contado como throttling.
type SlotResult struct {
	Release  func()
	OK       bool
	Canceled bool
}

// ConcurrencyService concentra a regra de aquisição/liberação de vagas com timeout,
// sem saber nada sobre HTTP.
type ConcurrencyService struct {
	Pool           domain.SlotPool
	AcquireTimeout time.Duration
}

// Acquire tenta adquirir uma vaga.
// - Se `AcquireTimeout <= 0`, espera indefinidamente (até ctx cancelar).
// - Se `AcquireTimeout > 0`, espera até o timeout.
func (s ConcurrencyService) Acquire(ctx context.Context) SlotResult {
	if s.Pool == nil {
		return SlotResult{Release: func() {}, OK: true}
	}

	acqCtx := ctx
	if s.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		acqCtx, cancel = context.WithTimeout(ctx, s.AcquireTimeout)
		defer cancel()
	}

	release, ok := s.Pool.Acquire(acqCtx)
	if ok {
		return SlotResult{Release: release, OK: true}
	}
	return SlotResult{Release: func() {}, Canceled: ctx.Err() != nil}
}
