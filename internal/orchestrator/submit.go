package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tradeforge/orderd/internal/apperr"
	"github.com/tradeforge/orderd/internal/gate"
	"github.com/tradeforge/orderd/internal/storage"
	"github.com/tradeforge/orderd/internal/tradeclient"
	"github.com/tradeforge/orderd/internal/types"
)

const (
	msgOrderNotFound   = "Order not found"
	msgOrderIneligible = "Order not eligible for submission (status %s)"
	msgInProgress      = "Order already in progress or terminal"
	msgRejected        = "Rejected by trade service"
	msgCommitMissed    = "Trade service accepted order but local commit failed; trade order id %d requires repair"
)

// Submit offers the given orders to the trade service.
//
// Per-item results are returned in input order; duplicates within the input
// are processed independently, so only the first occurrence can win the
// reservation. Errors are returned only for whole-batch failures (admission
// rejection, size violations, infrastructure failures, downstream transient
// errors); mixed per-item outcomes come back as a BatchResult.
func (o *Orchestrator) Submit(ctx context.Context, orderIDs []int64) (*types.BatchResult, error) {
	started := time.Now()

	if len(orderIDs) == 0 {
		return nil, apperr.Validation("orderIds must not be empty")
	}
	if len(orderIDs) > o.submitBatchMax {
		return nil, apperr.TooLarge(
			fmt.Sprintf("batch size %d exceeds limit %d", len(orderIDs), o.submitBatchMax))
	}

	// Admission. An open breaker rejects the batch before any database or
	// downstream work.
	done, err := o.breaker.Allow()
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			if reason, ok := ae.Details["reason"].(string); ok {
				o.metrics.RecordRejection(ctx, reason)
			}
		}
		return nil, err
	}
	// outcome feeds the breaker's failure window; only a transient
	// downstream failure flips it to false.
	downstreamOK := true
	defer func() { done(downstreamOK) }()

	results := make([]types.ItemResult, len(orderIDs))
	for i, id := range orderIDs {
		results[i] = types.ItemResult{OrderID: id, RequestIndex: i, Status: types.ItemFailure}
	}

	// Load and validate under a short-lived permit.
	orders, err := o.loadOrders(ctx, orderIDs)
	if err != nil {
		return nil, o.classifyInfra(err)
	}

	var candidates []int // request indices still in play
	for i, id := range orderIDs {
		order, ok := orders[id]
		if !ok {
			results[i].Message = msgOrderNotFound
			continue
		}
		if !order.Eligible() {
			results[i].Message = fmt.Sprintf(msgOrderIneligible, order.Status.Abbreviation)
			continue
		}
		candidates = append(candidates, i)
	}

	if len(candidates) == 0 {
		return o.finish(ctx, started, results), nil
	}

	// Reserve. One transaction, one permit; duplicates race here and the
	// loser surfaces as a per-item failure.
	reserved, err := o.reserveCandidates(ctx, orderIDs, candidates, results)
	if err != nil {
		return nil, o.classifyInfra(err)
	}
	if len(reserved) == 0 {
		return o.finish(ctx, started, results), nil
	}

	// Bulk call with no permit held.
	submissions := make([]tradeclient.Submission, len(reserved))
	for i, reqIdx := range reserved {
		order := orders[orderIDs[reqIdx]]
		submissions[i] = tradeclient.Submission{
			OrderID:     order.ID,
			PortfolioID: order.PortfolioID,
			SecurityID:  order.SecurityID,
			OrderType:   order.OrderType.Abbreviation,
			Quantity:    order.Quantity,
			LimitPrice:  order.LimitPrice,
		}
	}

	resp, err := o.client.BulkSubmit(ctx, submissions)
	if err != nil {
		if errors.Is(err, tradeclient.ErrTransient) {
			downstreamOK = false
			o.rollbackReservations(ctx, orderIDs, reserved)
			e := apperr.Dependency("trade service unavailable", err)
			e.RetryAfter = o.breaker.RetryAfter()
			return nil, e
		}
		// Downstream rejected the request outright (4xx). Not transient:
		// release the reservations and report per-item failures.
		o.rollbackReservations(ctx, orderIDs, reserved)
		for _, reqIdx := range reserved {
			results[reqIdx].Message = msgRejected
		}
		return o.finish(ctx, started, results), nil
	}

	// Reconcile. Results arrive in request order; a response shorter than
	// the request treats the missing tail as failed.
	outcomes := make([]storage.SubmissionOutcome, len(reserved))
	messages := make([]string, len(reserved))
	for i, reqIdx := range reserved {
		outcomes[i] = storage.SubmissionOutcome{OrderID: orderIDs[reqIdx]}
		messages[i] = msgRejected
		if i < len(resp.Results) {
			outcomes[i].TradeOrderID = resp.Results[i].TradeOrderID
			if resp.Results[i].Message != "" {
				messages[i] = resp.Results[i].Message
			}
		}
	}

	// Post-downstream-success cancellation must not abandon the commit; the
	// downstream side-effect is already real.
	recResults, err := o.reconcile(context.WithoutCancel(ctx), outcomes)
	if err != nil {
		o.log.Error("reconciliation failed after downstream call",
			zap.Error(err), zap.Int("reserved", len(reserved)))
		return nil, o.classifyInfra(err)
	}

	for i, rec := range recResults {
		reqIdx := reserved[i]
		switch {
		case rec.Committed:
			results[reqIdx].Status = types.ItemSuccess
			results[reqIdx].TradeOrderID = rec.TradeOrderID
		case rec.CommitMissed:
			// The one scenario that cannot be hidden: a real trade order id
			// exists downstream with no local attachment. Audit both ids.
			o.log.Error("commit after downstream success affected no rows",
				zap.Int64("order_id", rec.OrderID),
				zap.Int64p("trade_order_id", rec.TradeOrderID))
			results[reqIdx].Message = fmt.Sprintf(msgCommitMissed, *rec.TradeOrderID)
		default:
			results[reqIdx].Message = messages[i]
		}
	}

	return o.finish(ctx, started, results), nil
}

func (o *Orchestrator) loadOrders(ctx context.Context, orderIDs []int64) (map[int64]*types.Order, error) {
	unique := make([]int64, 0, len(orderIDs))
	seen := make(map[int64]struct{}, len(orderIDs))
	for _, id := range orderIDs {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			unique = append(unique, id)
		}
	}

	var orders map[int64]*types.Order
	err := o.withPermit(ctx, func(ctx context.Context) error {
		var err error
		orders, err = o.store.GetOrdersByIDs(ctx, unique)
		return err
	})
	return orders, err
}

func (o *Orchestrator) reserveCandidates(ctx context.Context, orderIDs []int64, candidates []int, results []types.ItemResult) ([]int, error) {
	ids := make([]int64, len(candidates))
	for i, reqIdx := range candidates {
		ids[i] = orderIDs[reqIdx]
	}

	var outcomes []bool
	err := o.withPermit(ctx, func(ctx context.Context) error {
		var err error
		outcomes, err = o.store.ReserveOrders(ctx, ids)
		return err
	})
	if err != nil {
		return nil, err
	}

	var reserved []int
	for i, reqIdx := range candidates {
		if outcomes[i] {
			reserved = append(reserved, reqIdx)
		} else {
			results[reqIdx].Message = msgInProgress
		}
	}
	return reserved, nil
}

// rollbackReservations releases every reserved order after a failed
// downstream call. It runs on a context detached from the caller's
// cancellation: the rollback must complete even when the request is dead.
func (o *Orchestrator) rollbackReservations(ctx context.Context, orderIDs []int64, reserved []int) {
	ids := make([]int64, len(reserved))
	for i, reqIdx := range reserved {
		ids[i] = orderIDs[reqIdx]
	}
	detached := context.WithoutCancel(ctx)
	err := o.withPermit(detached, func(ctx context.Context) error {
		released, err := o.store.ReleaseReservations(ctx, ids)
		if released < len(ids) && err == nil {
			o.log.Warn("some reservations were already repaired",
				zap.Int("requested", len(ids)), zap.Int("released", released))
		}
		return err
	})
	if err != nil {
		o.log.Error("failed to release reservations after downstream failure",
			zap.Error(err), zap.Int64s("order_ids", ids))
	}
}

func (o *Orchestrator) reconcile(ctx context.Context, outcomes []storage.SubmissionOutcome) ([]storage.ReconcileResult, error) {
	var results []storage.ReconcileResult
	err := o.withPermit(ctx, func(ctx context.Context) error {
		var err error
		results, err = o.store.ReconcileSubmissions(ctx, outcomes)
		return err
	})
	return results, err
}

func (o *Orchestrator) finish(ctx context.Context, started time.Time, results []types.ItemResult) *types.BatchResult {
	res := &types.BatchResult{Results: results}
	res.Finalize()
	res.Message = fmt.Sprintf("Processed %d orders: %d succeeded, %d failed",
		res.TotalRequested, res.Successful, res.Failed)
	o.metrics.RecordBatch(ctx, "submit", string(res.Status), time.Since(started))
	return res
}

// classifyInfra maps gate and storage failures to the taxonomy, attaching
// the current retry-after hint to overload cases.
func (o *Orchestrator) classifyInfra(err error) *apperr.Error {
	if errors.Is(err, gate.ErrAcquireTimeout) {
		return apperr.Overloaded("too many concurrent requests", "gate_timeout", o.breaker.RetryAfter())
	}
	return apperr.Classify(err, o.breaker.RetryAfter())
}
