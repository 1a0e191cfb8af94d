package infra

import (
	"context"
	"sync/atomic"

	"admission-gateway/middleware/admission/domain"

	"golang.org/x/sync/semaphore"
)

// SlotPool é um semáforo ponderado com capacidade `max` e contagem de vagas em uso.
type SlotPool struct {
	sem   *semaphore.Weighted
	max   int
	inUse atomic.Int64
}

var _ domain.SlotPool = (*SlotPool)(nil)

func NewSlotPool(max int) *SlotPool {
	return &SlotPool{sem: semaphore.NewWeighted(int64(max)), max: max}
}

func (p *SlotPool) Acquire(ctx context.Context) (func(), bool) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, false
	}
	p.inUse.Add(1)

	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			p.inUse.Add(-1)
			p.sem.Release(1)
		}
	}, true
}

func (p *SlotPool) Cap() int   { return p.max }
func (p *SlotPool) InUse() int { return int(p.inUse.Load()) }
