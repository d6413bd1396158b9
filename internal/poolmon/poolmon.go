// Package poolmon samples the database connection pool on a fixed cadence
// and publishes utilization snapshots to interested parties (the circuit
// breaker, logs). The monitor never mutates any state of its own subjects.
package poolmon

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Utilization thresholds for log severity.
const (
	WarnUtilization     = 0.75
	CriticalUtilization = 0.90
)

// StatsProvider yields pool counters. *sql.DB satisfies it.
type StatsProvider interface {
	Stats() sql.DBStats
}

// Snapshot is one observation of the pool.
//
// Waiting is the number of acquisitions that blocked since the previous
// sample (sql.DBStats exposes a cumulative WaitCount, not current waiters);
// any nonzero value means callers queued inside the driver.
type Snapshot struct {
	Active      int
	Idle        int
	Waiting     int
	Total       int
	Utilization float64
	At          time.Time
}

// Saturated reports whether the snapshot indicates the pool is in trouble.
func (s Snapshot) Saturated() bool {
	return s.Utilization >= CriticalUtilization || s.Waiting >= 1
}

// Listener receives each snapshot as it is taken.
type Listener func(Snapshot)

// Monitor periodically samples a StatsProvider.
type Monitor struct {
	provider StatsProvider
	interval time.Duration
	log      *zap.Logger

	// leakAfter, when > 0, is how long the pool may stay fully utilized
	// before the monitor logs a suspected connection leak.
	leakAfter time.Duration

	mu            sync.Mutex
	last          Snapshot
	lastWaitCount int64
	fullSince     time.Time
	listeners     []Listener

	stop chan struct{}
	done chan struct{}
}

// New creates a monitor; Start begins sampling.
func New(provider StatsProvider, interval time.Duration, leakAfter time.Duration, log *zap.Logger) *Monitor {
	return &Monitor{
		provider:  provider,
		interval:  interval,
		leakAfter: leakAfter,
		log:       log,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Subscribe registers a listener for future snapshots. Must be called before
// Start.
func (m *Monitor) Subscribe(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Start launches the sampling loop. It returns immediately; Stop (or context
// cancellation) ends the loop.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.Sample()
			}
		}
	}()
}

// Stop terminates the sampling loop and waits for it to exit.
func (m *Monitor) Stop() {
	close(m.stop)
	<-m.done
}

// Sample takes one observation immediately and notifies listeners. Exposed
// for tests and for on-demand reads at startup.
func (m *Monitor) Sample() Snapshot {
	stats := m.provider.Stats()

	m.mu.Lock()
	waitingDelta := stats.WaitCount - m.lastWaitCount
	m.lastWaitCount = stats.WaitCount

	snap := Snapshot{
		Active:  stats.InUse,
		Idle:    stats.Idle,
		Waiting: int(waitingDelta),
		Total:   stats.MaxOpenConnections,
		At:      time.Now(),
	}
	if snap.Total > 0 {
		snap.Utilization = float64(snap.Active) / float64(snap.Total)
	}

	// Track how long the pool has been pinned at full utilization.
	var leakSuspect time.Duration
	if snap.Total > 0 && snap.Active >= snap.Total {
		if m.fullSince.IsZero() {
			m.fullSince = snap.At
		} else if m.leakAfter > 0 && snap.At.Sub(m.fullSince) >= m.leakAfter {
			leakSuspect = snap.At.Sub(m.fullSince)
		}
	} else {
		m.fullSince = time.Time{}
	}

	m.last = snap
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	switch {
	case snap.Utilization >= CriticalUtilization || snap.Waiting >= 1:
		m.log.Error("database pool critical",
			zap.Int("active", snap.Active),
			zap.Int("idle", snap.Idle),
			zap.Int("waiting", snap.Waiting),
			zap.Int("total", snap.Total),
			zap.Float64("utilization", snap.Utilization))
	case snap.Utilization >= WarnUtilization:
		m.log.Warn("database pool utilization high",
			zap.Int("active", snap.Active),
			zap.Int("total", snap.Total),
			zap.Float64("utilization", snap.Utilization))
	}
	if leakSuspect > 0 {
		m.log.Error("pool fully utilized beyond leak-detect threshold; possible connection leak",
			zap.Duration("full_for", leakSuspect))
	}

	for _, l := range listeners {
		l(snap)
	}
	return snap
}

// Snapshot returns the most recent observation without sampling.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}
