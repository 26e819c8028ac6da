package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"alert-service/internal/logging"
	"alert-service/internal/metrics"
	"alert-service/internal/utils"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Options tunes the per-transaction session settings.
type Options struct {
	LockTimeout              time.Duration
	StatementTimeout         time.Duration
	IdleInTransactionTimeout time.Duration
}

type DB struct {
	Pool   *pgxpool.Pool
	opts   Options
	logger *logging.Logger
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func New(dsn string, opts Options, logger *logging.Logger) (*DB, error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	return &DB{Pool: pool, opts: opts, logger: logger}, nil
}

func (d *DB) Close() {
	d.Pool.Close()
}

// Store returns a Repository that runs outside any transaction. Only the
// read API uses it; state changes go through InTx.
func (d *DB) Store() Repository {
	return &Store{q: d.Pool}
}

// InTx runs fn inside a SERIALIZABLE transaction that holds an exclusive lock
// on the clients, devices and sessions tables. A serialization failure is
// retried once with a fresh transaction.
func (d *DB) InTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	return d.inTx(ctx, true, fn)
}

// InDeviceTx is InTx without the table lock. Used for per-device vitals
// work, where isolation is only needed on the device's own rows.
func (d *DB) InDeviceTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	return d.inTx(ctx, false, fn)
}

func (d *DB) inTx(ctx context.Context, lock bool, fn func(ctx context.Context, repo Repository) error) error {
	return retrySerializable(d.logger, func() error {
		return d.runTx(ctx, lock, fn)
	})
}

// retrySerializable runs run and re-runs it once if it fails with a
// serialization failure. A second failure is returned to the caller.
func retrySerializable(logger *logging.Logger, run func() error) error {
	attempt := 0
	return utils.RetryIf(logger, 2, 0, IsSerializationFailure, func() error {
		attempt++
		if attempt > 1 {
			metrics.TxRetries.Inc()
		}
		return run()
	})
}

func (d *DB) runTx(ctx context.Context, lock bool, fn func(ctx context.Context, repo Repository) error) (err error) {
	tx, err := d.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				d.logger.Errorf("Rollback failed: %v", rbErr)
			}
		}
	}()

	settings := fmt.Sprintf(
		"SET LOCAL lock_timeout = %d; SET LOCAL statement_timeout = %d; SET LOCAL idle_in_transaction_session_timeout = %d",
		d.opts.LockTimeout.Milliseconds(), d.opts.StatementTimeout.Milliseconds(), d.opts.IdleInTransactionTimeout.Milliseconds(),
	)
	if _, err = tx.Exec(ctx, settings); err != nil {
		return fmt.Errorf("failed to apply transaction settings: %w", err)
	}
	if lock {
		if _, err = tx.Exec(ctx, "LOCK TABLE clients, devices, sessions IN EXCLUSIVE MODE"); err != nil {
			return fmt.Errorf("failed to lock tables: %w", err)
		}
	}

	if err = fn(ctx, &Store{q: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// IsSerializationFailure reports whether err is a serialization failure or a
// deadlock, both of which succeed when the transaction is re-run.
func IsSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// Store implements Repository over a pool or a transaction.
type Store struct {
	q querier
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// prefixed qualifies every column of a comma-separated list with alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
