package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQL error codes the stores react to.
const (
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
	CodeUniqueViolation      = "23505"
	CodeExclusionViolation   = "23P01"
)

// DefaultTxAttempts bounds how often a serializable transaction is re-run
// after a serialization failure.
const DefaultTxAttempts = 3

// WithSerializableTx runs fn in a SERIALIZABLE transaction and commits it.
// Transactions aborted by serialization failures or deadlocks are re-run up to
// attempts times; any other error rolls back and is returned as-is.
func WithSerializableTx(ctx context.Context, pool *pgxpool.Pool, attempts int, fn func(pgx.Tx) error) error {
	if attempts <= 0 {
		attempts = DefaultTxAttempts
	}
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i*10) * time.Millisecond):
			}
		}
		err = runTx(ctx, pool, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
	}
	return fmt.Errorf("transaction aborted after %d attempts: %w", attempts, err)
}

func runTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SQLState returns the PostgreSQL error code carried by err, if any.
func SQLState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsRetryable reports whether err aborted a transaction that may simply be re-run.
func IsRetryable(err error) bool {
	switch SQLState(err) {
	case CodeSerializationFailure, CodeDeadlockDetected:
		return true
	}
	return false
}

// IsOverlapViolation reports whether err was raised by a unique or exclusion
// constraint, i.e. the row collides with an existing one.
func IsOverlapViolation(err error) bool {
	switch SQLState(err) {
	case CodeUniqueViolation, CodeExclusionViolation:
		return true
	}
	return false
}
