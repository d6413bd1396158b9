// Package breaker gates batch acceptance on service health.
//
// Two independent signals can open the breaker:
//
//   - pool saturation: utilization at or above the threshold for N
//     consecutive monitor samples;
//   - downstream failures: too many failed bulk submissions within a rolling
//     window, tracked by a sony/gobreaker circuit breaker.
//
// Admission requires both gates to pass. A rejected batch never touches the
// database or the trade service; the caller gets a retry-after hint scaled by
// the worst observed resource utilization.
package breaker

import (
	"runtime"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/tradeforge/orderd/internal/apperr"
	"github.com/tradeforge/orderd/internal/poolmon"
)

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

func (s state) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Config parameterizes the breaker.
type Config struct {
	Enabled            bool
	UtilThreshold      float64       // pool utilization trip point, (0,1]
	ConsecutiveSamples int           // samples at/above threshold before opening
	FailureThreshold   int           // downstream failures within Window before opening
	OpenDuration       time.Duration // base recovery interval
	RetryAfterBase     int           // seconds
	RetryAfterMax      int           // seconds
}

// maxOpenScale caps the growth of the recovery interval after repeated
// half-open probe failures.
const maxOpenScale = 8

// Breaker is the admission gate for bulk submissions.
type Breaker struct {
	cfg Config
	gb  *gobreaker.TwoStepCircuitBreaker

	// gateUtil, when set, contributes the concurrency gate's utilization to
	// the retry-after computation.
	gateUtil func() float64

	mu          sync.Mutex
	st          state
	openedAt    time.Time
	openDur     time.Duration
	consecutive int
	belowCount  int
	probing     bool
	lastUtil    float64
}

// New builds a breaker. gateUtil may be nil.
func New(cfg Config, gateUtil func() float64) *Breaker {
	b := &Breaker{
		cfg:      cfg,
		gateUtil: gateUtil,
		openDur:  cfg.OpenDuration,
	}
	b.gb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        "trade-submit",
		MaxRequests: 1,
		Interval:    cfg.OpenDuration, // rolling window for failure counts
		Timeout:     cfg.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return int(counts.TotalFailures) >= cfg.FailureThreshold
		},
	})
	return b
}

// Observe consumes a pool snapshot from the monitor.
func (b *Breaker) Observe(snap poolmon.Snapshot) {
	if !b.cfg.Enabled {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastUtil = snap.Utilization

	if snap.Utilization >= b.cfg.UtilThreshold {
		b.consecutive++
		b.belowCount = 0
		if b.st == stateClosed && b.consecutive >= b.cfg.ConsecutiveSamples {
			b.openLocked(time.Now())
		}
		return
	}

	b.consecutive = 0
	b.belowCount++
	// Utilization-driven recovery: once the pool has been healthy for the
	// configured number of samples and the recovery interval has elapsed,
	// close without demanding a probe.
	if b.st == stateOpen &&
		b.belowCount >= b.cfg.ConsecutiveSamples &&
		time.Since(b.openedAt) >= b.openDur {
		b.closeLocked()
	}
}

func (b *Breaker) openLocked(now time.Time) {
	b.st = stateOpen
	b.openedAt = now
	b.probing = false
}

func (b *Breaker) closeLocked() {
	b.st = stateClosed
	b.openDur = b.cfg.OpenDuration
	b.consecutive = 0
	b.belowCount = 0
	b.probing = false
}

// Allow decides whether a batch may enter the pipeline.
//
// On admission it returns a done callback that the caller must invoke with
// the downstream outcome (true on success, false on transient failure); the
// callback feeds both the failure counter and half-open probe resolution.
// On rejection it returns a SERVICE_OVERLOADED error carrying retry-after.
func (b *Breaker) Allow() (func(success bool), error) {
	if !b.cfg.Enabled {
		return func(bool) {}, nil
	}

	b.mu.Lock()
	utilProbe := false
	switch b.st {
	case stateOpen:
		if time.Since(b.openedAt) < b.openDur {
			b.mu.Unlock()
			return nil, b.reject("breaker_open")
		}
		b.st = stateHalfOpen
		fallthrough
	case stateHalfOpen:
		if b.probing {
			b.mu.Unlock()
			return nil, b.reject("breaker_probe_in_flight")
		}
		b.probing = true
		utilProbe = true
	}
	b.mu.Unlock()

	gbDone, err := b.gb.Allow()
	if err != nil {
		if utilProbe {
			b.mu.Lock()
			b.probing = false
			b.mu.Unlock()
		}
		return nil, b.reject("failure_rate")
	}

	return func(success bool) {
		gbDone(success)
		if !utilProbe {
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		b.probing = false
		if success {
			b.closeLocked()
			return
		}
		// Failed probe: re-open with a longer recovery interval.
		b.openDur *= 2
		if max := b.cfg.OpenDuration * maxOpenScale; b.openDur > max {
			b.openDur = max
		}
		b.openLocked(time.Now())
	}, nil
}

func (b *Breaker) reject(reason string) error {
	return apperr.Overloaded("service overloaded, retry later", reason, b.RetryAfter()).
		WithDetail("pool_utilization", b.poolUtil()).
		WithDetail("breaker_state", b.State())
}

func (b *Breaker) poolUtil() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastUtil
}

// State reports the utilization-side state for health reporting.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st.String()
}

// RetryAfter computes the retry hint in seconds: the base delay scaled by the
// worst current resource utilization (database pool, concurrency gate, heap),
// clamped to [base, max].
func (b *Breaker) RetryAfter() int {
	util := b.poolUtil()
	if b.gateUtil != nil {
		if g := b.gateUtil(); g > util {
			util = g
		}
	}
	if h := heapUtilization(); h > util {
		util = h
	}
	if util < 0 {
		util = 0
	}
	if util > 1 {
		util = 1
	}
	seconds := b.cfg.RetryAfterBase +
		int(util*float64(b.cfg.RetryAfterMax-b.cfg.RetryAfterBase))
	if seconds < b.cfg.RetryAfterBase {
		seconds = b.cfg.RetryAfterBase
	}
	if seconds > b.cfg.RetryAfterMax {
		seconds = b.cfg.RetryAfterMax
	}
	return seconds
}

func heapUtilization() float64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	if m.HeapSys == 0 {
		return 0
	}
	return float64(m.HeapAlloc) / float64(m.HeapSys)
}
