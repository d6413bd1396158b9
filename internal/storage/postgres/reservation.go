package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/tradeforge/orderd/internal/storage"
	"github.com/tradeforge/orderd/internal/types"
)

// Reservation protocol.
//
// Each operation is a single conditional UPDATE, atomic at the row level.
// The reservation value is the negative of the order's own id: the
// trade_order_id column carries a uniqueness constraint, so a fixed sentinel
// would collide across concurrent reservations, while -id is unique by
// construction and can never equal a real downstream id (which is positive).

const reserveSQL = `
	UPDATE orders SET trade_order_id = -id
	WHERE id = $1 AND trade_order_id IS NULL AND status_id = $2`

const commitSQL = `
	UPDATE orders SET trade_order_id = $2, status_id = $3, version = version + 1
	WHERE id = $1 AND trade_order_id = -id`

const releaseSQL = `
	UPDATE orders SET trade_order_id = NULL
	WHERE id = $1 AND trade_order_id = -id`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func reserve(ctx context.Context, ex execer, orderID int64, newStatusID int32) (bool, error) {
	res, err := ex.ExecContext(ctx, reserveSQL, orderID, newStatusID)
	if err != nil {
		return false, fmt.Errorf("reserving order %d: %w", orderID, err)
	}
	return affectedOne(res)
}

func commit(ctx context.Context, ex execer, orderID, tradeOrderID int64, sentStatusID int32) (bool, error) {
	res, err := ex.ExecContext(ctx, commitSQL, orderID, tradeOrderID, sentStatusID)
	if err != nil {
		return false, fmt.Errorf("committing order %d: %w", orderID, err)
	}
	return affectedOne(res)
}

func release(ctx context.Context, ex execer, orderID int64) (bool, error) {
	res, err := ex.ExecContext(ctx, releaseSQL, orderID)
	if err != nil {
		return false, fmt.Errorf("releasing order %d: %w", orderID, err)
	}
	return affectedOne(res)
}

// ReserveForSubmission claims the exclusive right to submit the order.
// Returns true iff this caller won the reservation.
func (s *Store) ReserveForSubmission(ctx context.Context, orderID int64) (bool, error) {
	ctx, cancel := s.writeCtx(ctx)
	defer cancel()
	newID, err := s.statusID(ctx, types.StatusNew)
	if err != nil {
		return false, err
	}
	return reserve(ctx, s.db, orderID, newID)
}

// CommitSubmission converts a reservation into the real downstream id and
// flips the order to SENT. Returns false when the sentinel was gone, which
// callers must treat as a reconciliation error.
func (s *Store) CommitSubmission(ctx context.Context, orderID, tradeOrderID int64) (bool, error) {
	ctx, cancel := s.writeCtx(ctx)
	defer cancel()
	sentID, err := s.statusID(ctx, types.StatusSent)
	if err != nil {
		return false, err
	}
	return commit(ctx, s.db, orderID, tradeOrderID, sentID)
}

// ReleaseReservation clears the sentinel after a failed submission. Returns
// false when the sentinel was already gone (concurrent repair).
func (s *Store) ReleaseReservation(ctx context.Context, orderID int64) (bool, error) {
	ctx, cancel := s.writeCtx(ctx)
	defer cancel()
	return release(ctx, s.db, orderID)
}

// ReserveOrders reserves each id within one transaction and returns one
// outcome per input position. Duplicate ids are attempted independently;
// only the first can win.
func (s *Store) ReserveOrders(ctx context.Context, orderIDs []int64) ([]bool, error) {
	ctx, cancel := s.writeCtx(ctx)
	defer cancel()

	newID, err := s.statusID(ctx, types.StatusNew)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning reservation transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	outcomes := make([]bool, len(orderIDs))
	for i, id := range orderIDs {
		ok, err := reserve(ctx, tx, id, newID)
		if err != nil {
			return nil, err
		}
		outcomes[i] = ok
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing reservations: %w", err)
	}
	return outcomes, nil
}

// ReleaseReservations clears the sentinels for the given orders in bounded
// chunks. A release that affects zero rows means concurrent repair already
// ran; it is logged and not escalated.
func (s *Store) ReleaseReservations(ctx context.Context, orderIDs []int64) (int, error) {
	released := 0
	for _, chunk := range storage.Chunk(orderIDs, s.chunkSize) {
		n, err := s.releaseChunk(ctx, chunk)
		released += n
		if err != nil {
			return released, err
		}
	}
	return released, nil
}

func (s *Store) releaseChunk(ctx context.Context, orderIDs []int64) (int, error) {
	ctx, cancel := s.writeCtx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning release transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	released := 0
	for _, id := range orderIDs {
		ok, err := release(ctx, tx, id)
		if err != nil {
			return released, err
		}
		if ok {
			released++
		} else {
			s.log.Warn("release affected no rows; reservation already repaired",
				zap.Int64("order_id", id))
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing releases: %w", err)
	}
	return released, nil
}

// ReconcileSubmissions applies downstream outcomes: successes are committed
// (trade id attached, status SENT), failures are released. Work is chunked
// to cap transaction length; ordering within a chunk is unspecified.
func (s *Store) ReconcileSubmissions(ctx context.Context, outcomes []storage.SubmissionOutcome) ([]storage.ReconcileResult, error) {
	sentID, err := s.statusID(ctx, types.StatusSent)
	if err != nil {
		return nil, err
	}

	results := make([]storage.ReconcileResult, 0, len(outcomes))
	for start := 0; start < len(outcomes); start += s.chunkSize {
		end := start + s.chunkSize
		if end > len(outcomes) {
			end = len(outcomes)
		}
		chunkResults, err := s.reconcileChunk(ctx, outcomes[start:end], sentID)
		results = append(results, chunkResults...)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

func (s *Store) reconcileChunk(ctx context.Context, outcomes []storage.SubmissionOutcome, sentStatusID int32) ([]storage.ReconcileResult, error) {
	ctx, cancel := s.writeCtx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning reconcile transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	results := make([]storage.ReconcileResult, 0, len(outcomes))
	for _, oc := range outcomes {
		r := storage.ReconcileResult{OrderID: oc.OrderID, TradeOrderID: oc.TradeOrderID}
		if oc.TradeOrderID != nil {
			ok, err := commit(ctx, tx, oc.OrderID, *oc.TradeOrderID, sentStatusID)
			if err != nil {
				return results, err
			}
			r.Committed = ok
			r.CommitMissed = !ok
		} else {
			ok, err := release(ctx, tx, oc.OrderID)
			if err != nil {
				return results, err
			}
			r.Released = ok
			if !ok {
				s.log.Warn("release affected no rows; reservation already repaired",
					zap.Int64("order_id", oc.OrderID))
			}
		}
		results = append(results, r)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing reconciliation: %w", err)
	}
	return results, nil
}
