// Package storage provides the PostgreSQL storage layer for Aegis.
//
// It manages connection pooling (via pgxpool), an optional read-replica
// pool for search traffic, pgvector type registration, and query methods
// for all tables.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
)

// Options configures pool construction.
type Options struct {
	// DSN is the primary connection string.
	DSN string
	// ReadReplicaDSN optionally routes read-only queries to a replica.
	// Empty falls back to the primary pool.
	ReadReplicaDSN string
	// PoolSize is the steady-state connection count; MaxOverflow is the
	// additional burst headroom. MaxConns = PoolSize + MaxOverflow.
	PoolSize    int
	MaxOverflow int
}

// DB wraps a pgxpool.Pool for writes and an optional second pool for reads.
type DB struct {
	pool     *pgxpool.Pool
	readPool *pgxpool.Pool
	logger   *slog.Logger
}

// New creates a new DB with a connection pool (and a read pool when a
// replica DSN is configured).
func New(ctx context.Context, opts Options, logger *slog.Logger) (*DB, error) {
	pool, err := newPool(ctx, opts.DSN, opts, logger)
	if err != nil {
		return nil, err
	}

	var readPool *pgxpool.Pool
	if opts.ReadReplicaDSN != "" {
		readPool, err = newPool(ctx, opts.ReadReplicaDSN, opts, logger)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("storage: read replica: %w", err)
		}
	}

	return &DB{
		pool:     pool,
		readPool: readPool,
		logger:   logger,
	}, nil
}

func newPool(ctx context.Context, dsn string, opts Options, logger *slog.Logger) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse DSN: %w", err)
	}
	if opts.PoolSize > 0 {
		cfg.MinConns = int32(opts.PoolSize)
		cfg.MaxConns = int32(opts.PoolSize + opts.MaxOverflow)
	}

	// Register pgvector types on each new connection so vectors encode
	// natively. The registration is best-effort: if the vector extension
	// hasn't been created yet (e.g. during initial pool startup before
	// migrations), we log and proceed. Subsequent connections will succeed
	// once the extension exists.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if err := pgxvector.RegisterTypes(ctx, conn); err != nil {
			logger.Debug("storage: pgvector types not registered (extension may not exist yet)", "error", err)
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}
	return pool, nil
}

// Pool returns the primary connection pool for use by other packages.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Read returns the pool used for read-only queries: the replica pool when
// configured, otherwise the primary.
func (db *DB) Read() *pgxpool.Pool {
	if db.readPool != nil {
		return db.readPool
	}
	return db.pool
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close shuts down the connection pools.
func (db *DB) Close() {
	db.pool.Close()
	if db.readPool != nil {
		db.readPool.Close()
	}
}

// WithTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise.
func (db *DB) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit tx: %w", err)
	}
	return nil
}
