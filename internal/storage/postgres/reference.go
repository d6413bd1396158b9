package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tradeforge/orderd/internal/storage"
	"github.com/tradeforge/orderd/internal/types"
)

// Reference CRUD. Statuses, order types, and blotters are small rows with
// optimistic versioning; orders reference them via foreign keys (RESTRICT for
// status/order-type, SET NULL for blotter), so the delete paths map
// constraint violations to ErrReferenced.

func (s *Store) CreateStatus(ctx context.Context, st *types.Status) error {
	ctx, cancel := s.writeCtx(ctx)
	defer cancel()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO statuses (abbreviation, description)
		VALUES ($1, $2) RETURNING id, version`,
		st.Abbreviation, st.Description,
	).Scan(&st.ID, &st.Version)
	return mapRefErr(err, "inserting status")
}

func (s *Store) GetStatus(ctx context.Context, id int32) (*types.Status, error) {
	ctx, cancel := s.readCtx(ctx)
	defer cancel()
	var st types.Status
	err := s.db.QueryRowContext(ctx, `
		SELECT id, abbreviation, description, version
		FROM statuses WHERE id = $1`, id,
	).Scan(&st.ID, &st.Abbreviation, &st.Description, &st.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("status %d: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading status %d: %w", id, err)
	}
	return &st, nil
}

func (s *Store) ListStatuses(ctx context.Context) ([]*types.Status, error) {
	ctx, cancel := s.readCtx(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, abbreviation, description, version
		FROM statuses ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing statuses: %w", err)
	}
	defer rows.Close()
	var out []*types.Status
	for rows.Next() {
		var st types.Status
		if err := rows.Scan(&st.ID, &st.Abbreviation, &st.Description, &st.Version); err != nil {
			return nil, err
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}

func (s *Store) UpdateStatus(ctx context.Context, st *types.Status) error {
	ctx, cancel := s.writeCtx(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx, `
		UPDATE statuses SET abbreviation = $1, description = $2, version = version + 1
		WHERE id = $3 AND version = $4`,
		st.Abbreviation, st.Description, st.ID, st.Version)
	if err != nil {
		return mapRefErr(err, "updating status")
	}
	return s.checkVersioned(ctx, res, `SELECT 1 FROM statuses WHERE id = $1`, st.ID)
}

func (s *Store) DeleteStatus(ctx context.Context, id int32, version int32) error {
	ctx, cancel := s.writeCtx(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM statuses WHERE id = $1 AND version = $2`, id, version)
	if err != nil {
		return mapRefErr(err, "deleting status")
	}
	return s.checkVersioned(ctx, res, `SELECT 1 FROM statuses WHERE id = $1`, id)
}

func (s *Store) CreateOrderType(ctx context.Context, t *types.OrderType) error {
	ctx, cancel := s.writeCtx(ctx)
	defer cancel()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO order_types (abbreviation, description)
		VALUES ($1, $2) RETURNING id, version`,
		t.Abbreviation, t.Description,
	).Scan(&t.ID, &t.Version)
	return mapRefErr(err, "inserting order type")
}

func (s *Store) GetOrderType(ctx context.Context, id int32) (*types.OrderType, error) {
	ctx, cancel := s.readCtx(ctx)
	defer cancel()
	var t types.OrderType
	err := s.db.QueryRowContext(ctx, `
		SELECT id, abbreviation, description, version
		FROM order_types WHERE id = $1`, id,
	).Scan(&t.ID, &t.Abbreviation, &t.Description, &t.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order type %d: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading order type %d: %w", id, err)
	}
	return &t, nil
}

func (s *Store) ListOrderTypes(ctx context.Context) ([]*types.OrderType, error) {
	ctx, cancel := s.readCtx(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, abbreviation, description, version
		FROM order_types ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing order types: %w", err)
	}
	defer rows.Close()
	var out []*types.OrderType
	for rows.Next() {
		var t types.OrderType
		if err := rows.Scan(&t.ID, &t.Abbreviation, &t.Description, &t.Version); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *Store) UpdateOrderType(ctx context.Context, t *types.OrderType) error {
	ctx, cancel := s.writeCtx(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx, `
		UPDATE order_types SET abbreviation = $1, description = $2, version = version + 1
		WHERE id = $3 AND version = $4`,
		t.Abbreviation, t.Description, t.ID, t.Version)
	if err != nil {
		return mapRefErr(err, "updating order type")
	}
	return s.checkVersioned(ctx, res, `SELECT 1 FROM order_types WHERE id = $1`, t.ID)
}

func (s *Store) DeleteOrderType(ctx context.Context, id int32, version int32) error {
	ctx, cancel := s.writeCtx(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM order_types WHERE id = $1 AND version = $2`, id, version)
	if err != nil {
		return mapRefErr(err, "deleting order type")
	}
	return s.checkVersioned(ctx, res, `SELECT 1 FROM order_types WHERE id = $1`, id)
}

func (s *Store) CreateBlotter(ctx context.Context, b *types.Blotter) error {
	ctx, cancel := s.writeCtx(ctx)
	defer cancel()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO blotters (name) VALUES ($1) RETURNING id, version`,
		b.Name,
	).Scan(&b.ID, &b.Version)
	return mapRefErr(err, "inserting blotter")
}

func (s *Store) GetBlotter(ctx context.Context, id int32) (*types.Blotter, error) {
	ctx, cancel := s.readCtx(ctx)
	defer cancel()
	var b types.Blotter
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, version FROM blotters WHERE id = $1`, id,
	).Scan(&b.ID, &b.Name, &b.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("blotter %d: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading blotter %d: %w", id, err)
	}
	return &b, nil
}

func (s *Store) ListBlotters(ctx context.Context) ([]*types.Blotter, error) {
	ctx, cancel := s.readCtx(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, version FROM blotters ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing blotters: %w", err)
	}
	defer rows.Close()
	var out []*types.Blotter
	for rows.Next() {
		var b types.Blotter
		if err := rows.Scan(&b.ID, &b.Name, &b.Version); err != nil {
			return nil, err
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

func (s *Store) UpdateBlotter(ctx context.Context, b *types.Blotter) error {
	ctx, cancel := s.writeCtx(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx, `
		UPDATE blotters SET name = $1, version = version + 1
		WHERE id = $2 AND version = $3`,
		b.Name, b.ID, b.Version)
	if err != nil {
		return mapRefErr(err, "updating blotter")
	}
	return s.checkVersioned(ctx, res, `SELECT 1 FROM blotters WHERE id = $1`, b.ID)
}

// DeleteBlotter removes a blotter; referencing orders fall back to NULL via
// the SET NULL foreign key, so there is no ErrReferenced path here.
func (s *Store) DeleteBlotter(ctx context.Context, id int32, version int32) error {
	ctx, cancel := s.writeCtx(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM blotters WHERE id = $1 AND version = $2`, id, version)
	if err != nil {
		return fmt.Errorf("deleting blotter: %w", err)
	}
	return s.checkVersioned(ctx, res, `SELECT 1 FROM blotters WHERE id = $1`, id)
}

func mapRefErr(err error, op string) error {
	if err == nil {
		return nil
	}
	switch pgErrCode(err) {
	case pgUniqueViolation:
		return fmt.Errorf("%s: %w", op, storage.ErrDuplicate)
	case pgForeignKeyViolation:
		return fmt.Errorf("%s: %w", op, storage.ErrReferenced)
	}
	return fmt.Errorf("%s: %w", op, err)
}
