// Package orchestrator coordinates the batch pipelines: bulk submission to
// the trade service and batch order creation.
//
// The bulk submission pipeline is the core of the service. Its protocol
// invariant: no code path holds a gate permit (and therefore a database
// connection) while a downstream network call is outstanding.
package orchestrator

import (
	"context"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/tradeforge/orderd/internal/breaker"
	"github.com/tradeforge/orderd/internal/gate"
	"github.com/tradeforge/orderd/internal/storage"
	"github.com/tradeforge/orderd/internal/telemetry"
	"github.com/tradeforge/orderd/internal/tradeclient"
)

// Orchestrator owns no entity state; it re-reads orders by identifier on
// every operation.
type Orchestrator struct {
	store   storage.Storage
	gate    *gate.Gate
	breaker *breaker.Breaker
	client  tradeclient.Client
	metrics *telemetry.Metrics
	log     *zap.Logger

	submitBatchMax int
	createBatchMax int

	validate *validator.Validate
}

// Options carries the orchestrator's collaborators and limits.
type Options struct {
	Store          storage.Storage
	Gate           *gate.Gate
	Breaker        *breaker.Breaker
	Client         tradeclient.Client
	Metrics        *telemetry.Metrics
	Log            *zap.Logger
	SubmitBatchMax int
	CreateBatchMax int
}

// New builds an orchestrator.
func New(opts Options) *Orchestrator {
	if opts.SubmitBatchMax < 1 {
		opts.SubmitBatchMax = 100
	}
	if opts.CreateBatchMax < 1 {
		opts.CreateBatchMax = 1000
	}
	return &Orchestrator{
		store:          opts.Store,
		gate:           opts.Gate,
		breaker:        opts.Breaker,
		client:         opts.Client,
		metrics:        opts.Metrics,
		log:            opts.Log,
		submitBatchMax: opts.SubmitBatchMax,
		createBatchMax: opts.CreateBatchMax,
		validate:       validator.New(),
	}
}

// withPermit runs fn while holding a gate permit. The permit is released
// before withPermit returns, so callers can never carry one across a
// network call by accident.
func (o *Orchestrator) withPermit(ctx context.Context, fn func(context.Context) error) error {
	release, err := o.gate.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}
