package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/dispatchd/dispatch-backend/pkg/config"
	"github.com/dispatchd/dispatch-backend/pkg/errors"
	"github.com/dispatchd/dispatch-backend/pkg/logger"
	"github.com/dispatchd/dispatch-backend/pkg/reqctx"
)

// DB wraps sqlx.DB with the request-transaction plumbing used by every
// repository.
type DB struct {
	*sqlx.DB
	logger      *logger.Logger
	connTimeout time.Duration
}

// New creates a new database connection pool
func New(cfg *config.DatabaseConfig, log *logger.Logger) (*DB, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.PoolMax)
	db.SetMaxIdleConns(cfg.PoolMax)
	db.SetConnMaxIdleTime(cfg.IdleTimeout)

	return &DB{
		DB:          db,
		logger:      log,
		connTimeout: cfg.ConnectionTimeout,
	}, nil
}

// NewWithDSN creates a new database connection with a DSN string
func NewWithDSN(dsn string, log *logger.Logger) (*DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &DB{
		DB:          db,
		logger:      log,
		connTimeout: 2 * time.Second,
	}, nil
}

// NewFromDB wraps an already-open sqlx.DB. Tests use this to substitute a
// mock driver.
func NewFromDB(db *sqlx.DB, log *logger.Logger) *DB {
	return &DB{
		DB:          db,
		logger:      log,
		connTimeout: 2 * time.Second,
	}
}

// Ping checks the database connection
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// Health returns the health status of the database
func (db *DB) Health(ctx context.Context) map[string]string {
	status := map[string]string{
		"status": "up",
	}

	ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		status["status"] = "down"
		status["error"] = err.Error()
	}

	return status
}

// Ext returns the query target for the request: the ambient transaction when
// the auth pipeline installed one, otherwise the pool. Repositories must
// always query through this so every statement of a request runs on the one
// connection that carries the restricted role and the RLS session variables.
func (db *DB) Ext(ctx context.Context) sqlx.ExtContext {
	if tx := reqctx.Tx(ctx); tx != nil {
		return tx
	}
	return db.DB
}

// Transaction executes a function within a transaction on the pool. This is
// the plain form used outside the request pipeline (startup, login lookups);
// it does not switch to the restricted role.
func (db *DB) Transaction(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error().Err(rbErr).Msg("failed to rollback transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// SystemTransaction runs fn in a transaction with the superadmin bypass
// bound. The policies are forced even for the table owner, so trusted
// internal work that happens before any tenant scope exists (logins, invite
// registration, seeding, maintenance) goes through here.
func (db *DB) SystemTransaction(ctx context.Context, fn func(*sqlx.Tx) error) error {
	return db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if err := SetTenantScope(ctx, tx, true, ""); err != nil {
			return err
		}
		return fn(tx)
	})
}

// RequestTx couples one pooled connection with one open transaction for the
// lifetime of a request. The connection is released exactly once, always
// after either COMMIT or ROLLBACK.
type RequestTx struct {
	Tx   *sqlx.Tx
	conn *sqlx.Conn
	done bool
}

// BeginRequestTx checks a dedicated connection out of the pool and opens the
// request transaction on it. Checkout respects the configured connection
// timeout; pool saturation surfaces as RESOURCE_EXHAUSTED.
func (db *DB) BeginRequestTx(ctx context.Context) (*RequestTx, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, db.connTimeout)
	defer cancel()

	conn, err := db.Connx(acquireCtx)
	if err != nil {
		if acquireCtx.Err() != nil {
			return nil, errors.ResourceExhausted("database connection pool saturated")
		}
		return nil, errors.Wrap(err, "INTERNAL_ERROR", "failed to acquire connection", 500)
	}

	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "INTERNAL_ERROR", "failed to begin transaction", 500)
	}

	return &RequestTx{Tx: tx, conn: conn}, nil
}

// Commit commits the transaction and releases the connection.
func (t *RequestTx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	err := t.Tx.Commit()
	t.conn.Close()
	return err
}

// Rollback rolls the transaction back and releases the connection. Safe to
// call after Commit; the unwind paths rely on that.
func (t *RequestTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	err := t.Tx.Rollback()
	t.conn.Close()
	return err
}
