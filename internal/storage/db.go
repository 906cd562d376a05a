// Package storage is the single-writer, WAL-enabled relational store
// described in spec.md §4.2: foreign keys enforced, a schema-version
// table, and a writer context providing atomic multi-table writes.
// It is grounded on the teacher's internal/db package — the same
// modernc.org/sqlite DSN pragma wiring, the same "if version < N"
// migration idiom, and the same tx.Begin/defer Rollback/Commit shape
// used throughout every repository.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pinggolf/stockledger/internal/apperr"
	"github.com/pinggolf/stockledger/internal/logger"

	_ "modernc.org/sqlite"
)

// DB wraps a SQLite connection with the single-writer discipline
// spec.md §4.2/§5 require: many concurrent readers, exactly one writer
// at a time, enforced by an in-process mutex rather than opportunistic
// SQLITE_BUSY retries.
type DB struct {
	sql         *sql.DB
	writerLock  chan struct{} // buffered(1) semaphore: acquire = send, release = receive
	lockTimeout time.Duration
}

// Option configures Open.
type Option func(*openOptions)

type openOptions struct {
	preMigrationBackup PreMigrationBackup
}

// WithPreMigrationBackup registers hook to run once, before any pending
// migration is applied to an existing database (spec.md §4.2: "take a
// pre-migration backup before applying pending migrations"). Callers
// wire a real internal/backup.Manager here; storage itself never
// imports backup.
func WithPreMigrationBackup(hook PreMigrationBackup) Option {
	return func(o *openOptions) { o.preMigrationBackup = hook }
}

// Open opens (or creates) the SQLite database at path and runs migrations.
func Open(path string, lockTimeout time.Duration, opts ...Option) (*DB, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apperr.Wrap(apperr.IntegrityError, err, "open database %s", path)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, apperr.Wrap(apperr.IntegrityError, err, "ping database %s", path)
	}

	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}

	d := &DB{sql: sqlDB, writerLock: make(chan struct{}, 1), lockTimeout: lockTimeout}
	if err := d.migrate(context.Background(), o.preMigrationBackup); err != nil {
		sqlDB.Close()
		return nil, err
	}
	logger.Success("DB", fmt.Sprintf("opened %s", path))
	return d, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error { return d.sql.Close() }

// SqlDB exposes the underlying *sql.DB for read-only repository queries,
// which are unbounded in concurrency per spec.md §5.
func (d *DB) SqlDB() *sql.DB { return d.sql }

// acquireWriter blocks until the writer semaphore is free or ctx/the
// configured lock timeout elapses, whichever is sooner. It never leaves
// the semaphore held on a timeout.
func (d *DB) acquireWriter(ctx context.Context) (release func(), err error) {
	timeout := d.lockTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case d.writerLock <- struct{}{}:
		return func() { <-d.writerLock }, nil
	case <-waitCtx.Done():
		return nil, apperr.Wrap(apperr.WriterBusy, waitCtx.Err(), "acquire writer lock within %s", timeout)
	}
}

// WithWriter runs fn inside the single process-wide writer slot and a
// SQL transaction, guaranteeing release of the slot on every exit path
// including a panic inside fn. fn's returned error rolls the
// transaction back; a nil error commits it.
func (d *DB) WithWriter(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	release, err := d.acquireWriter(ctx)
	if err != nil {
		return err
	}
	defer release()

	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.DatabaseBusy, err, "begin writer transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.DatabaseBusy, err, "commit writer transaction")
	}
	return nil
}

// RetryIdempotent wraps an idempotent read/upsert in exponential backoff
// on DatabaseBusy, per spec.md §4.2: base 0.5s, doubling, cap 5s, at
// most 3 attempts. Non-idempotent writes must never be passed here.
func RetryIdempotent(ctx context.Context, fn func() error) error {
	const maxAttempts = 3
	wait := 500 * time.Millisecond
	const capWait = 5 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		kind, ok := apperr.KindOf(lastErr)
		if !ok || kind != apperr.DatabaseBusy {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return lastErr
		}
		wait *= 2
		if wait > capWait {
			wait = capWait
		}
	}
	return lastErr
}
