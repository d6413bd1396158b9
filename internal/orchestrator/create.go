package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tradeforge/orderd/internal/apperr"
	"github.com/tradeforge/orderd/internal/storage"
	"github.com/tradeforge/orderd/internal/types"
)

// Create persists a batch of order drafts.
//
// Processing is non-atomic by design: each draft goes through its own short
// transaction, and one draft's failure never rolls back another. Per-item
// results carry the original request index.
func (o *Orchestrator) Create(ctx context.Context, drafts []types.OrderDraft) (*types.BatchResult, error) {
	started := time.Now()

	if len(drafts) == 0 {
		return nil, apperr.Validation("request must contain at least one order draft")
	}
	if len(drafts) > o.createBatchMax {
		return nil, apperr.TooLarge(
			fmt.Sprintf("batch size %d exceeds limit %d", len(drafts), o.createBatchMax))
	}

	results := make([]types.ItemResult, len(drafts))
	err := o.withPermit(ctx, func(ctx context.Context) error {
		for i := range drafts {
			results[i] = o.createOne(ctx, i, &drafts[i])
		}
		return nil
	})
	if err != nil {
		return nil, o.classifyInfra(err)
	}

	res := &types.BatchResult{Results: results}
	res.Finalize()
	res.Message = fmt.Sprintf("Created %d of %d orders", res.Successful, res.TotalRequested)
	o.metrics.RecordBatch(ctx, "create", string(res.Status), time.Since(started))
	return res, nil
}

func (o *Orchestrator) createOne(ctx context.Context, index int, draft *types.OrderDraft) types.ItemResult {
	result := types.ItemResult{RequestIndex: index, Status: types.ItemFailure}

	if err := o.validateDraft(draft); err != nil {
		result.Message = err.Error()
		return result
	}

	order, err := o.store.CreateOrder(ctx, draft)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			result.Message = "Referenced row not found"
		default:
			o.log.Error("order creation failed", zap.Error(err), zap.Int("request_index", index))
			result.Message = "Failed to create order"
		}
		return result
	}

	result.OrderID = order.ID
	result.Status = types.ItemSuccess
	return result
}

// validateDraft applies struct tag validation plus the decimal constraints
// the validator cannot express.
func (o *Orchestrator) validateDraft(draft *types.OrderDraft) error {
	if err := o.validate.Struct(draft); err != nil {
		return fmt.Errorf("invalid draft: %w", err)
	}
	if !draft.Quantity.IsPositive() {
		return fmt.Errorf("quantity must be positive, got %s", draft.Quantity)
	}
	if draft.LimitPrice != nil && !draft.LimitPrice.IsPositive() {
		return fmt.Errorf("limit price must be positive, got %s", draft.LimitPrice)
	}
	return nil
}
