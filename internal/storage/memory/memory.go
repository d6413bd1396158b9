// Package memory provides an in-process storage.Storage implementation.
//
// It mirrors the postgres implementation's semantics closely enough for
// orchestrator and server tests: reservation operations are atomic under the
// store mutex, versions advance on every mutation, and the uniqueness of
// trade_order_id is enforced.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tradeforge/orderd/internal/storage"
	"github.com/tradeforge/orderd/internal/types"
)

// Store is an in-memory implementation of storage.Storage.
type Store struct {
	mu sync.Mutex

	orders     map[int64]*types.Order
	statuses   map[int32]*types.Status
	orderTypes map[int32]*types.OrderType
	blotters   map[int32]*types.Blotter

	nextOrderID int64
	nextRefID   int32
}

// New returns a store pre-seeded with the standard reference rows
// (statuses NEW/SENT/FILLED/PARTIAL/CANCELLED, types MARKET/LIMIT/STOP,
// one Default blotter), matching the initial migration.
func New() *Store {
	s := &Store{
		orders:      make(map[int64]*types.Order),
		statuses:    make(map[int32]*types.Status),
		orderTypes:  make(map[int32]*types.OrderType),
		blotters:    make(map[int32]*types.Blotter),
		nextOrderID: 1,
		nextRefID:   1,
	}
	for _, abbr := range []string{types.StatusNew, types.StatusSent, "FILLED", "PARTIAL", "CANCELLED"} {
		id := s.nextRefID
		s.nextRefID++
		s.statuses[id] = &types.Status{ID: id, Abbreviation: abbr, Version: 1}
	}
	for _, abbr := range []string{"MARKET", "LIMIT", "STOP"} {
		id := s.nextRefID
		s.nextRefID++
		s.orderTypes[id] = &types.OrderType{ID: id, Abbreviation: abbr, Version: 1}
	}
	blotterID := s.nextRefID
	s.nextRefID++
	s.blotters[blotterID] = &types.Blotter{ID: blotterID, Name: "Default", Version: 1}
	return s
}

func (s *Store) statusByAbbr(abbr string) *types.Status {
	for _, st := range s.statuses {
		if st.Abbreviation == abbr {
			return st
		}
	}
	return nil
}

// StatusIDByAbbr is a test helper resolving a status abbreviation.
func (s *Store) StatusIDByAbbr(abbr string) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.statusByAbbr(abbr); st != nil {
		return st.ID
	}
	return 0
}

// FirstOrderTypeID is a test helper returning an existing order type id.
func (s *Store) FirstOrderTypeID() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int32, 0, len(s.orderTypes))
	for id := range s.orderTypes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids[0]
}

func cloneOrder(o *types.Order) *types.Order {
	c := *o
	if o.Blotter != nil {
		b := *o.Blotter
		c.Blotter = &b
	}
	if o.LimitPrice != nil {
		lp := *o.LimitPrice
		c.LimitPrice = &lp
	}
	if o.TradeOrderID != nil {
		t := *o.TradeOrderID
		c.TradeOrderID = &t
	}
	return &c
}

// CreateOrder persists a draft as a NEW order.
func (s *Store) CreateOrder(_ context.Context, draft *types.OrderDraft) (*types.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ot, ok := s.orderTypes[draft.OrderTypeID]
	if !ok {
		return nil, fmt.Errorf("order type %d: %w", draft.OrderTypeID, storage.ErrNotFound)
	}
	var blotter *types.Blotter
	if draft.BlotterID != nil {
		b, ok := s.blotters[*draft.BlotterID]
		if !ok {
			return nil, fmt.Errorf("blotter %d: %w", *draft.BlotterID, storage.ErrNotFound)
		}
		blotter = b
	}

	ts := time.Now().UTC()
	if draft.OrderTimestamp != nil {
		ts = draft.OrderTimestamp.UTC()
	}
	o := &types.Order{
		ID:             s.nextOrderID,
		Status:         *s.statusByAbbr(types.StatusNew),
		OrderType:      *ot,
		PortfolioID:    draft.PortfolioID,
		SecurityID:     draft.SecurityID,
		Quantity:       draft.Quantity,
		OrderTimestamp: ts,
		Version:        1,
	}
	if blotter != nil {
		b := *blotter
		o.Blotter = &b
	}
	if draft.LimitPrice != nil {
		lp := *draft.LimitPrice
		o.LimitPrice = &lp
	}
	s.nextOrderID++
	s.orders[o.ID] = o
	return cloneOrder(o), nil
}

func (s *Store) GetOrder(_ context.Context, id int64) (*types.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, storage.ErrNotFound)
	}
	return cloneOrder(o), nil
}

func (s *Store) GetOrdersByIDs(_ context.Context, ids []int64) (map[int64]*types.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]*types.Order, len(ids))
	for _, id := range ids {
		if o, ok := s.orders[id]; ok {
			out[id] = cloneOrder(o)
		}
	}
	return out, nil
}

func (s *Store) ListOrders(_ context.Context) ([]*types.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.orders))
	for id := range s.orders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]*types.Order, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneOrder(s.orders[id]))
	}
	return out, nil
}

func (s *Store) UpdateOrder(_ context.Context, order *types.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.orders[order.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if cur.Version != order.Version {
		return storage.ErrVersionConflict
	}
	next := cloneOrder(order)
	next.Version = cur.Version + 1
	next.TradeOrderID = cur.TradeOrderID
	s.orders[order.ID] = next
	return nil
}

func (s *Store) DeleteOrder(_ context.Context, id int64, version int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.orders[id]
	if !ok {
		return storage.ErrNotFound
	}
	if cur.Version != version {
		return storage.ErrVersionConflict
	}
	delete(s.orders, id)
	return nil
}

// reserveLocked claims the order's submission slot. Caller holds the mutex.
func (s *Store) reserveLocked(id int64) bool {
	o, ok := s.orders[id]
	if !ok {
		return false
	}
	if o.Status.Abbreviation != types.StatusNew || o.TradeOrderID != nil {
		return false
	}
	sentinel := -id
	o.TradeOrderID = &sentinel
	return true
}

func (s *Store) commitLocked(id, tradeOrderID int64) bool {
	o, ok := s.orders[id]
	if !ok || o.TradeOrderID == nil || *o.TradeOrderID != -id {
		return false
	}
	t := tradeOrderID
	o.TradeOrderID = &t
	o.Status = *s.statusByAbbr(types.StatusSent)
	o.Version++
	return true
}

func (s *Store) releaseLocked(id int64) bool {
	o, ok := s.orders[id]
	if !ok || o.TradeOrderID == nil || *o.TradeOrderID != -id {
		return false
	}
	o.TradeOrderID = nil
	return true
}

func (s *Store) ReserveForSubmission(_ context.Context, orderID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reserveLocked(orderID), nil
}

func (s *Store) CommitSubmission(_ context.Context, orderID, tradeOrderID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(orderID, tradeOrderID), nil
}

func (s *Store) ReleaseReservation(_ context.Context, orderID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releaseLocked(orderID), nil
}

func (s *Store) ReserveOrders(_ context.Context, orderIDs []int64) ([]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]bool, len(orderIDs))
	for i, id := range orderIDs {
		out[i] = s.reserveLocked(id)
	}
	return out, nil
}

func (s *Store) ReleaseReservations(_ context.Context, orderIDs []int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	released := 0
	for _, id := range orderIDs {
		if s.releaseLocked(id) {
			released++
		}
	}
	return released, nil
}

func (s *Store) ReconcileSubmissions(_ context.Context, outcomes []storage.SubmissionOutcome) ([]storage.ReconcileResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	results := make([]storage.ReconcileResult, 0, len(outcomes))
	for _, oc := range outcomes {
		r := storage.ReconcileResult{OrderID: oc.OrderID, TradeOrderID: oc.TradeOrderID}
		if oc.TradeOrderID != nil {
			ok := s.commitLocked(oc.OrderID, *oc.TradeOrderID)
			r.Committed = ok
			r.CommitMissed = !ok
		} else {
			r.Released = s.releaseLocked(oc.OrderID)
		}
		results = append(results, r)
	}
	return results, nil
}

func (s *Store) CreateStatus(_ context.Context, st *types.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statusByAbbr(st.Abbreviation) != nil {
		return fmt.Errorf("status %q: %w", st.Abbreviation, storage.ErrDuplicate)
	}
	st.ID = s.nextRefID
	st.Version = 1
	s.nextRefID++
	c := *st
	s.statuses[st.ID] = &c
	return nil
}

func (s *Store) GetStatus(_ context.Context, id int32) (*types.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[id]
	if !ok {
		return nil, fmt.Errorf("status %d: %w", id, storage.ErrNotFound)
	}
	c := *st
	return &c, nil
}

func (s *Store) ListStatuses(_ context.Context) ([]*types.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Status, 0, len(s.statuses))
	for _, st := range s.statuses {
		c := *st
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdateStatus(_ context.Context, st *types.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.statuses[st.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if cur.Version != st.Version {
		return storage.ErrVersionConflict
	}
	cur.Abbreviation = st.Abbreviation
	cur.Description = st.Description
	cur.Version++
	return nil
}

func (s *Store) DeleteStatus(_ context.Context, id int32, version int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.statuses[id]
	if !ok {
		return storage.ErrNotFound
	}
	if cur.Version != version {
		return storage.ErrVersionConflict
	}
	for _, o := range s.orders {
		if o.Status.ID == id {
			return storage.ErrReferenced
		}
	}
	delete(s.statuses, id)
	return nil
}

func (s *Store) CreateOrderType(_ context.Context, t *types.OrderType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cur := range s.orderTypes {
		if cur.Abbreviation == t.Abbreviation {
			return fmt.Errorf("order type %q: %w", t.Abbreviation, storage.ErrDuplicate)
		}
	}
	t.ID = s.nextRefID
	t.Version = 1
	s.nextRefID++
	c := *t
	s.orderTypes[t.ID] = &c
	return nil
}

func (s *Store) GetOrderType(_ context.Context, id int32) (*types.OrderType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.orderTypes[id]
	if !ok {
		return nil, fmt.Errorf("order type %d: %w", id, storage.ErrNotFound)
	}
	c := *t
	return &c, nil
}

func (s *Store) ListOrderTypes(_ context.Context) ([]*types.OrderType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.OrderType, 0, len(s.orderTypes))
	for _, t := range s.orderTypes {
		c := *t
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdateOrderType(_ context.Context, t *types.OrderType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.orderTypes[t.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if cur.Version != t.Version {
		return storage.ErrVersionConflict
	}
	cur.Abbreviation = t.Abbreviation
	cur.Description = t.Description
	cur.Version++
	return nil
}

func (s *Store) DeleteOrderType(_ context.Context, id int32, version int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.orderTypes[id]
	if !ok {
		return storage.ErrNotFound
	}
	if cur.Version != version {
		return storage.ErrVersionConflict
	}
	for _, o := range s.orders {
		if o.OrderType.ID == id {
			return storage.ErrReferenced
		}
	}
	delete(s.orderTypes, id)
	return nil
}

func (s *Store) CreateBlotter(_ context.Context, b *types.Blotter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b.ID = s.nextRefID
	b.Version = 1
	s.nextRefID++
	c := *b
	s.blotters[b.ID] = &c
	return nil
}

func (s *Store) GetBlotter(_ context.Context, id int32) (*types.Blotter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blotters[id]
	if !ok {
		return nil, fmt.Errorf("blotter %d: %w", id, storage.ErrNotFound)
	}
	c := *b
	return &c, nil
}

func (s *Store) ListBlotters(_ context.Context) ([]*types.Blotter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Blotter, 0, len(s.blotters))
	for _, b := range s.blotters {
		c := *b
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdateBlotter(_ context.Context, b *types.Blotter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.blotters[b.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if cur.Version != b.Version {
		return storage.ErrVersionConflict
	}
	cur.Name = b.Name
	cur.Version++
	return nil
}

// DeleteBlotter mirrors the SET NULL foreign key: referencing orders lose
// their blotter instead of blocking the delete.
func (s *Store) DeleteBlotter(_ context.Context, id int32, version int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.blotters[id]
	if !ok {
		return storage.ErrNotFound
	}
	if cur.Version != version {
		return storage.ErrVersionConflict
	}
	for _, o := range s.orders {
		if o.Blotter != nil && o.Blotter.ID == id {
			o.Blotter = nil
		}
	}
	delete(s.blotters, id)
	return nil
}

func (s *Store) Close() error { return nil }
