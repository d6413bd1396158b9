// Package gate bounds the number of in-flight database-touching operations.
//
// The permit count is deliberately smaller than the connection pool: the pool
// saturates silently (callers queue inside the driver), while the gate fails
// fast after a short acquisition timeout and gives the caller an overload
// signal it can act on. Network I/O to the trade service is never performed
// while holding a permit.
package gate

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrAcquireTimeout is returned when a permit could not be obtained within
// the configured timeout. Callers classify it as overload.
var ErrAcquireTimeout = errors.New("gate: acquire timed out")

// Gate is a counting semaphore with a bounded acquisition wait.
type Gate struct {
	sem     *semaphore.Weighted
	permits int64
	timeout time.Duration
	inUse   atomic.Int64
}

// New creates a gate with the given permit count and acquisition timeout.
func New(permits int, timeout time.Duration) *Gate {
	if permits < 1 {
		permits = 1
	}
	return &Gate{
		sem:     semaphore.NewWeighted(int64(permits)),
		permits: int64(permits),
		timeout: timeout,
	}
}

// Acquire obtains one permit, waiting at most the configured timeout. The
// returned release function must be called exactly once; callers defer it
// immediately after a successful acquire.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	acquireCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.sem.Acquire(acquireCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err() // caller cancelled, not saturation
		}
		return nil, ErrAcquireTimeout
	}
	g.inUse.Add(1)

	var released atomic.Bool
	return func() {
		if released.CompareAndSwap(false, true) {
			g.inUse.Add(-1)
			g.sem.Release(1)
		}
	}, nil
}

// Permits returns the configured permit count.
func (g *Gate) Permits() int { return int(g.permits) }

// Utilization returns the fraction of permits currently held, in [0,1].
func (g *Gate) Utilization() float64 {
	return float64(g.inUse.Load()) / float64(g.permits)
}
