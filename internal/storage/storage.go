// Package storage provides shared types for order persistence.
//
// The concrete implementation lives in the postgres sub-package; the memory
// sub-package provides an in-process implementation for tests. This package
// holds the interface and value types referenced by both implementations and
// their consumers (orchestrator, server).
package storage

import (
	"context"
	"errors"

	"github.com/tradeforge/orderd/internal/types"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned when a mutation carries a stale version.
var ErrVersionConflict = errors.New("version conflict")

// ErrReferenced is returned when deleting a reference row that orders still
// point at (status and order-type carry RESTRICT foreign keys).
var ErrReferenced = errors.New("row is referenced by existing orders")

// ErrDuplicate is returned when an insert or update violates a uniqueness
// constraint (status/order-type abbreviations, trade_order_id).
var ErrDuplicate = errors.New("duplicate value")

// SubmissionOutcome is one downstream result fed into reconciliation.
// TradeOrderID nil means the downstream rejected the order and its
// reservation must be released.
type SubmissionOutcome struct {
	OrderID      int64
	TradeOrderID *int64
}

// ReconcileResult reports what reconciliation did for one order.
//
// CommitMissed is the audit case: the downstream accepted the order but the
// local reservation sentinel was gone, so the real trade-order id could not
// be attached. Callers must log both ids and surface a per-item failure.
type ReconcileResult struct {
	OrderID      int64
	TradeOrderID *int64
	Committed    bool
	Released     bool
	CommitMissed bool
}

// Storage is the interface satisfied by *postgres.Store and *memory.Store.
// Consumers depend on this interface so tests can substitute the in-memory
// implementation.
type Storage interface {
	// Order CRUD
	CreateOrder(ctx context.Context, draft *types.OrderDraft) (*types.Order, error)
	GetOrder(ctx context.Context, id int64) (*types.Order, error)
	// GetOrdersByIDs loads the given orders with status, type, and blotter
	// joined, in one pass. Absent ids are simply missing from the map.
	GetOrdersByIDs(ctx context.Context, ids []int64) (map[int64]*types.Order, error)
	ListOrders(ctx context.Context) ([]*types.Order, error)
	UpdateOrder(ctx context.Context, order *types.Order) error
	DeleteOrder(ctx context.Context, id int64, version int32) error

	// Reservation protocol. Each operation is a single conditional statement;
	// the boolean reports rows-affected == 1.
	ReserveForSubmission(ctx context.Context, orderID int64) (bool, error)
	CommitSubmission(ctx context.Context, orderID, tradeOrderID int64) (bool, error)
	ReleaseReservation(ctx context.Context, orderID int64) (bool, error)

	// Batch forms used by the bulk submission orchestrator. ReserveOrders
	// returns one outcome per input id, positionally. ReleaseReservations is
	// best-effort and returns the number of rows actually released.
	// ReconcileSubmissions commits or releases each outcome in bounded chunks.
	ReserveOrders(ctx context.Context, orderIDs []int64) ([]bool, error)
	ReleaseReservations(ctx context.Context, orderIDs []int64) (int, error)
	ReconcileSubmissions(ctx context.Context, outcomes []SubmissionOutcome) ([]ReconcileResult, error)

	// Reference data
	CreateStatus(ctx context.Context, s *types.Status) error
	GetStatus(ctx context.Context, id int32) (*types.Status, error)
	ListStatuses(ctx context.Context) ([]*types.Status, error)
	UpdateStatus(ctx context.Context, s *types.Status) error
	DeleteStatus(ctx context.Context, id int32, version int32) error

	CreateOrderType(ctx context.Context, t *types.OrderType) error
	GetOrderType(ctx context.Context, id int32) (*types.OrderType, error)
	ListOrderTypes(ctx context.Context) ([]*types.OrderType, error)
	UpdateOrderType(ctx context.Context, t *types.OrderType) error
	DeleteOrderType(ctx context.Context, id int32, version int32) error

	CreateBlotter(ctx context.Context, b *types.Blotter) error
	GetBlotter(ctx context.Context, id int32) (*types.Blotter, error)
	ListBlotters(ctx context.Context) ([]*types.Blotter, error)
	UpdateBlotter(ctx context.Context, b *types.Blotter) error
	DeleteBlotter(ctx context.Context, id int32, version int32) error

	// Lifecycle
	Close() error
}
