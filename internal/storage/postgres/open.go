// Package postgres implements storage.Storage over PostgreSQL.
//
// The implementation uses database/sql with the pgx stdlib driver. That
// combination keeps plain raw-SQL methods and exposes sql.DBStats, which the
// pool health monitor samples. All monetary values travel as
// NUMERIC(18,8); no float64 ever touches the wire or the schema.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver "pgx"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/tradeforge/orderd/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the PostgreSQL-backed storage implementation.
type Store struct {
	db  *sql.DB
	log *zap.Logger

	readTimeout  time.Duration
	writeTimeout time.Duration
	chunkSize    int

	mu        sync.RWMutex
	statusIDs map[string]int32 // abbreviation -> id, read-through
}

// Open connects to the database, applies pool settings, and verifies the
// connection with bounded retries. It does not run migrations; call Migrate.
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Store, error) {
	dsn, err := buildDSN(cfg.Datasource)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(cfg.Pool.SizeMax)
	db.SetMaxIdleConns(cfg.Pool.SizeMinIdle)
	db.SetConnMaxIdleTime(time.Duration(cfg.Pool.IdleTimeoutMS) * time.Millisecond)
	db.SetConnMaxLifetime(time.Duration(cfg.Pool.MaxLifetimeMS) * time.Millisecond)

	connTimeout := time.Duration(cfg.Pool.ConnTimeoutMS) * time.Millisecond
	ping := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, connTimeout)
		defer cancel()
		return db.PingContext(pingCtx)
	}
	bo := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithMaxElapsedTime(30*time.Second)), ctx)
	if err := backoff.Retry(ping, bo); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	return &Store{
		db:           db,
		log:          log,
		readTimeout:  cfg.ReadTxTimeout(),
		writeTimeout: cfg.WriteTxTimeout(),
		chunkSize:    cfg.ReconcileChunkSize,
		statusIDs:    make(map[string]int32),
	}, nil
}

// NewWithDB wraps an existing database handle. Used by tests (sqlmock) and by
// the migrate command.
func NewWithDB(db *sql.DB, log *zap.Logger) *Store {
	return &Store{
		db:           db,
		log:          log,
		readTimeout:  3 * time.Second,
		writeTimeout: 5 * time.Second,
		chunkSize:    50,
		statusIDs:    make(map[string]int32),
	}
}

func buildDSN(ds config.Datasource) (string, error) {
	u, err := url.Parse(ds.URL)
	if err != nil {
		return "", fmt.Errorf("parsing datasource url: %w", err)
	}
	if ds.User != "" {
		if ds.Password != "" {
			u.User = url.UserPassword(ds.User, ds.Password)
		} else {
			u.User = url.User(ds.User)
		}
	}
	return u.String(), nil
}

// Migrate applies embedded goose migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for the pool health monitor.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// readCtx applies the read-transaction deadline.
func (s *Store) readCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.readTimeout)
}

// writeCtx applies the write-transaction deadline.
func (s *Store) writeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.writeTimeout)
}

// Postgres error codes we branch on.
const (
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
	pgCheckViolation      = "23514"
)

func pgErrCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
