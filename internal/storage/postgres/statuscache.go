package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tradeforge/orderd/internal/storage"
)

// statusID resolves a status abbreviation to its row id through a
// double-checked read-through cache. Status codes are effectively immutable
// during a process lifetime (NEW and SENT in particular), so there is no
// invalidation path.
func (s *Store) statusID(ctx context.Context, abbreviation string) (int32, error) {
	s.mu.RLock()
	id, ok := s.statusIDs[abbreviation]
	s.mu.RUnlock()
	if ok {
		return id, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.statusIDs[abbreviation]; ok {
		return id, nil
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id FROM statuses WHERE abbreviation = $1`, abbreviation)
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("status %q: %w", abbreviation, storage.ErrNotFound)
		}
		return 0, fmt.Errorf("resolving status %q: %w", abbreviation, err)
	}
	s.statusIDs[abbreviation] = id
	return id, nil
}
