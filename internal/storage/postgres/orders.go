package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradeforge/orderd/internal/storage"
	"github.com/tradeforge/orderd/internal/types"
)

// orderColumns is the select list shared by all order reads. Status and type
// are inner-joined (NOT NULL foreign keys); blotter is optional.
const orderColumns = `
	o.id, o.portfolio_id, o.security_id, o.quantity, o.limit_price,
	o.trade_order_id, o.order_timestamp, o.version,
	s.id, s.abbreviation, s.description, s.version,
	t.id, t.abbreviation, t.description, t.version,
	b.id, b.name, b.version`

const orderJoins = `
	FROM orders o
	JOIN statuses s ON s.id = o.status_id
	JOIN order_types t ON t.id = o.order_type_id
	LEFT JOIN blotters b ON b.id = o.blotter_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*types.Order, error) {
	var (
		o            types.Order
		limitPrice   decimal.NullDecimal
		tradeOrderID sql.NullInt64
		blotterID    sql.NullInt32
		blotterName  sql.NullString
		blotterVer   sql.NullInt32
	)
	err := row.Scan(
		&o.ID, &o.PortfolioID, &o.SecurityID, &o.Quantity, &limitPrice,
		&tradeOrderID, &o.OrderTimestamp, &o.Version,
		&o.Status.ID, &o.Status.Abbreviation, &o.Status.Description, &o.Status.Version,
		&o.OrderType.ID, &o.OrderType.Abbreviation, &o.OrderType.Description, &o.OrderType.Version,
		&blotterID, &blotterName, &blotterVer,
	)
	if err != nil {
		return nil, err
	}
	if limitPrice.Valid {
		o.LimitPrice = &limitPrice.Decimal
	}
	if tradeOrderID.Valid {
		o.TradeOrderID = &tradeOrderID.Int64
	}
	if blotterID.Valid {
		o.Blotter = &types.Blotter{
			ID:      blotterID.Int32,
			Name:    blotterName.String,
			Version: blotterVer.Int32,
		}
	}
	return &o, nil
}

// CreateOrder persists a draft as a NEW order in its own short transaction
// and returns the stored row.
func (s *Store) CreateOrder(ctx context.Context, draft *types.OrderDraft) (*types.Order, error) {
	ctx, cancel := s.writeCtx(ctx)
	defer cancel()

	newStatusID, err := s.statusID(ctx, types.StatusNew)
	if err != nil {
		return nil, err
	}

	ts := time.Now().UTC()
	if draft.OrderTimestamp != nil {
		ts = draft.OrderTimestamp.UTC()
	}
	limitPrice := decimal.NullDecimal{}
	if draft.LimitPrice != nil {
		limitPrice = decimal.NewNullDecimal(*draft.LimitPrice)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO orders (blotter_id, status_id, portfolio_id, order_type_id,
			security_id, quantity, limit_price, order_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		draft.BlotterID, newStatusID, draft.PortfolioID, draft.OrderTypeID,
		draft.SecurityID, draft.Quantity, limitPrice, ts,
	).Scan(&id)
	if err != nil {
		switch pgErrCode(err) {
		case pgForeignKeyViolation:
			return nil, fmt.Errorf("referenced row absent: %w", storage.ErrNotFound)
		case pgCheckViolation:
			return nil, fmt.Errorf("constraint violated: %w", err)
		}
		return nil, fmt.Errorf("inserting order: %w", err)
	}
	return s.getOrder(ctx, id)
}

// GetOrder loads a single order with its reference rows.
func (s *Store) GetOrder(ctx context.Context, id int64) (*types.Order, error) {
	ctx, cancel := s.readCtx(ctx)
	defer cancel()
	return s.getOrder(ctx, id)
}

func (s *Store) getOrder(ctx context.Context, id int64) (*types.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT`+orderColumns+orderJoins+` WHERE o.id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading order %d: %w", id, err)
	}
	return o, nil
}

// GetOrdersByIDs loads the given orders in one pass per chunk, with their
// status, type, and blotter eagerly joined. Absent ids are simply missing
// from the returned map; duplicates in ids are harmless.
func (s *Store) GetOrdersByIDs(ctx context.Context, ids []int64) (map[int64]*types.Order, error) {
	result := make(map[int64]*types.Order, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	ctx, cancel := s.readCtx(ctx)
	defer cancel()

	for _, chunk := range storage.Chunk(ids, s.chunkSize) {
		placeholders := make([]string, len(chunk))
		args := make([]any, len(chunk))
		for i, id := range chunk {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			args[i] = id
		}
		query := `SELECT` + orderColumns + orderJoins +
			` WHERE o.id IN (` + strings.Join(placeholders, ",") + `)`

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("loading orders: %w", err)
		}
		for rows.Next() {
			o, err := scanOrder(rows)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning order: %w", err)
			}
			result[o.ID] = o
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return result, nil
}

// ListOrders returns all orders. Filtering and pagination are intentionally
// not offered here.
func (s *Store) ListOrders(ctx context.Context) ([]*types.Order, error) {
	ctx, cancel := s.readCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT`+orderColumns+orderJoins+` ORDER BY o.id`)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	defer rows.Close()

	var orders []*types.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// UpdateOrder persists an administrative edit under optimistic concurrency.
// The stored version must match order.Version; on success the row's version
// is order.Version+1.
func (s *Store) UpdateOrder(ctx context.Context, order *types.Order) error {
	ctx, cancel := s.writeCtx(ctx)
	defer cancel()

	var blotterID sql.NullInt32
	if order.Blotter != nil {
		blotterID = sql.NullInt32{Int32: order.Blotter.ID, Valid: true}
	}
	limitPrice := decimal.NullDecimal{}
	if order.LimitPrice != nil {
		limitPrice = decimal.NewNullDecimal(*order.LimitPrice)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET blotter_id = $1, status_id = $2, portfolio_id = $3,
			order_type_id = $4, security_id = $5, quantity = $6,
			limit_price = $7, version = version + 1
		WHERE id = $8 AND version = $9`,
		blotterID, order.Status.ID, order.PortfolioID,
		order.OrderType.ID, order.SecurityID, order.Quantity,
		limitPrice, order.ID, order.Version,
	)
	if err != nil {
		if pgErrCode(err) == pgForeignKeyViolation {
			return fmt.Errorf("referenced row absent: %w", storage.ErrNotFound)
		}
		return fmt.Errorf("updating order %d: %w", order.ID, err)
	}
	return s.checkVersioned(ctx, res, `SELECT 1 FROM orders WHERE id = $1`, order.ID)
}

// DeleteOrder removes an order, honoring its version.
func (s *Store) DeleteOrder(ctx context.Context, id int64, version int32) error {
	ctx, cancel := s.writeCtx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM orders WHERE id = $1 AND version = $2`, id, version)
	if err != nil {
		return fmt.Errorf("deleting order %d: %w", id, err)
	}
	return s.checkVersioned(ctx, res, `SELECT 1 FROM orders WHERE id = $1`, id)
}

// checkVersioned distinguishes "row gone" from "stale version" after a
// conditional write affected zero rows.
func (s *Store) checkVersioned(ctx context.Context, res sql.Result, existsQuery string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var one int
	err = s.db.QueryRowContext(ctx, existsQuery, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return err
	}
	return storage.ErrVersionConflict
}
