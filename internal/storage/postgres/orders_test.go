package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"

	"github.com/tradeforge/orderd/internal/storage"
	"github.com/tradeforge/orderd/internal/types"
)

var orderRowColumns = []string{
	"id", "portfolio_id", "security_id", "quantity", "limit_price",
	"trade_order_id", "order_timestamp", "version",
	"s_id", "s_abbreviation", "s_description", "s_version",
	"t_id", "t_abbreviation", "t_description", "t_version",
	"b_id", "b_name", "b_version",
}

func TestGetOrderScansJoinedRow(t *testing.T) {
	s, mock := newMockStore(t)

	ts := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(orderRowColumns).AddRow(
		int64(7), "PORT-1", "SEC-1", "100.5", "101.25",
		nil, ts, int32(1),
		int32(1), "NEW", "", int32(1),
		int32(6), "LIMIT", "", int32(1),
		int32(9), "Default", int32(1),
	)
	mock.ExpectQuery(`SELECT .+ FROM orders o .+ WHERE o\.id = \$1`).
		WithArgs(int64(7)).
		WillReturnRows(rows)

	o, err := s.GetOrder(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if !o.Quantity.Equal(decimal.RequireFromString("100.5")) {
		t.Errorf("Quantity = %s, want 100.5", o.Quantity)
	}
	if o.LimitPrice == nil || !o.LimitPrice.Equal(decimal.RequireFromString("101.25")) {
		t.Errorf("LimitPrice = %v, want 101.25", o.LimitPrice)
	}
	if o.TradeOrderID != nil {
		t.Errorf("TradeOrderID = %v, want nil", o.TradeOrderID)
	}
	if o.Status.Abbreviation != "NEW" || o.OrderType.Abbreviation != "LIMIT" {
		t.Errorf("refs = %q/%q", o.Status.Abbreviation, o.OrderType.Abbreviation)
	}
	if o.Blotter == nil || o.Blotter.Name != "Default" {
		t.Errorf("Blotter = %+v, want Default", o.Blotter)
	}
	verify(t, mock)
}

func TestGetOrderWithoutBlotter(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows(orderRowColumns).AddRow(
		int64(8), "PORT-1", "SEC-2", "10", nil,
		int64(9001), time.Now(), int32(2),
		int32(2), "SENT", "", int32(1),
		int32(5), "MARKET", "", int32(1),
		nil, nil, nil,
	)
	mock.ExpectQuery(`SELECT .+ WHERE o\.id = \$1`).
		WithArgs(int64(8)).
		WillReturnRows(rows)

	o, err := s.GetOrder(context.Background(), 8)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if o.Blotter != nil {
		t.Errorf("Blotter = %+v, want nil for LEFT JOIN miss", o.Blotter)
	}
	if o.TradeOrderID == nil || *o.TradeOrderID != 9001 {
		t.Errorf("TradeOrderID = %v, want 9001", o.TradeOrderID)
	}
	verify(t, mock)
}

func TestGetOrderNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT .+ WHERE o\.id = \$1`).
		WithArgs(int64(404)).
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetOrder(context.Background(), 404)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	verify(t, mock)
}

func TestGetOrdersByIDsSkipsAbsent(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows(orderRowColumns).AddRow(
		int64(1), "PORT-1", "SEC-1", "1", nil,
		nil, time.Now(), int32(1),
		int32(1), "NEW", "", int32(1),
		int32(5), "MARKET", "", int32(1),
		nil, nil, nil,
	)
	mock.ExpectQuery(`WHERE o\.id IN \(\$1,\$2\)`).
		WithArgs(int64(1), int64(404)).
		WillReturnRows(rows)

	got, err := s.GetOrdersByIDs(context.Background(), []int64{1, 404})
	if err != nil {
		t.Fatalf("GetOrdersByIDs: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if _, ok := got[404]; ok {
		t.Error("absent id must be missing from the map, not zero-valued")
	}
	verify(t, mock)
}

func TestGetOrdersByIDsEmpty(t *testing.T) {
	s, mock := newMockStore(t)
	got, err := s.GetOrdersByIDs(context.Background(), nil)
	if err != nil {
		t.Fatalf("GetOrdersByIDs: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("len = %d, want 0 with no query issued", len(got))
	}
	verify(t, mock)
}

func TestUpdateOrderVersionConflict(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE orders`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT 1 FROM orders WHERE id = \$1`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))

	err := s.UpdateOrder(context.Background(), &types.Order{
		ID:       7,
		Status:   types.Status{ID: 1},
		Version:  3,
		Quantity: decimal.NewFromInt(1),
	})
	if !errors.Is(err, storage.ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}
	verify(t, mock)
}

func TestUpdateOrderRowGone(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE orders`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT 1 FROM orders WHERE id = \$1`).
		WithArgs(int64(7)).
		WillReturnError(sql.ErrNoRows)

	err := s.UpdateOrder(context.Background(), &types.Order{
		ID:       7,
		Status:   types.Status{ID: 1},
		Version:  3,
		Quantity: decimal.NewFromInt(1),
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	verify(t, mock)
}

func TestDeleteOrder(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`DELETE FROM orders WHERE id = \$1 AND version = \$2`).
		WithArgs(int64(7), int32(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.DeleteOrder(context.Background(), 7, 2); err != nil {
		t.Fatalf("DeleteOrder: %v", err)
	}
	verify(t, mock)
}
