package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type blockingPool struct{}

func (p *blockingPool) Acquire(ctx context.Context) (func(), bool) {
	select {
	case <-ctx.Done():
		return nil, false
	case <-time.After(5 * time.Second):
		// não deve chegar aqui nos testes
		return nil, false
	}
}

type immediatePool struct {
	acquired int
}

func (p *immediatePool) Acquire(ctx context.Context) (func(), bool) {
	p.acquired++
	return func() {}, true
}

func TestConcurrencyService_Acquire_AllowsWhenNoPool(t *testing.T) {
	svc := ConcurrencyService{}
	res := svc.Acquire(context.Background())
	require.True(t, res.OK)
	res.Release()
}

func TestConcurrencyService_Acquire_UsesTimeout(t *testing.T) {
	svc := ConcurrencyService{Pool: &blockingPool{}, AcquireTimeout: 10 * time.Millisecond}

	res := svc.Acquire(context.Background())
	require.False(t, res.OK, "expected timeout")
	require.False(t, res.Canceled, "timeout is not a caller cancellation")
	require.NotNil(t, res.Release)
}

func TestConcurrencyService_Acquire_ReportsCallerCancellation(t *testing.T) {
	svc := ConcurrencyService{Pool: &blockingPool{}, AcquireTimeout: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := svc.Acquire(ctx)
	require.False(t, res.OK)
	require.True(t, res.Canceled)
}

func TestConcurrencyService_Acquire_NoTimeoutDelegatesToPool(t *testing.T) {
	pool := &immediatePool{}
	svc := ConcurrencyService{Pool: pool, AcquireTimeout: 0}

	res := svc.Acquire(context.Background())
	require.True(t, res.OK)
	require.Equal(t, 1, pool.acquired)
}
