// Package store is the embedded relational persistence layer: the schema,
// transactional writes, the weighted_avg/weighted_std_dev user-defined
// aggregates, and the KV sidecar.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// memdbSeq names the shared-cache in-memory databases handed out for
// ":memory:" opens, one per Open call.
var memdbSeq atomic.Int64

// Store wraps two *sql.DB handles against the same file: one that issues
// plain BEGIN (deferred, sqlite's default, used for the capture hot path
// and most writes) and one opened with the driver's txlock=immediate DSN
// option, for callers that must serialize against concurrent writers,
// e.g. the janitor.
type Store struct {
	deferredDB  *sql.DB
	immediateDB *sql.DB
	logger      *slog.Logger
}

// Open migrates the schema (idempotent DDL) and returns a Store backed by
// path. path may be ":memory:" for tests. busyTimeout is applied both as a
// DSN parameter and as an explicit PRAGMA after open.
// Foreign-key enforcement, which sqlite leaves off per connection by
// default, is switched on in the DSN so cascade deletes (measurement ->
// map/jitter children) survive connection recycling.
func Open(ctx context.Context, path string, busyTimeout time.Duration, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ms := busyTimeout.Milliseconds()
	if ms <= 0 {
		ms = 60_000
	}

	extra := ""
	if path == ":memory:" {
		// A bare ":memory:" database is private per connection; a named
		// in-memory database with cache=shared lets the deferred and
		// immediate handles see the same data. The name is unique per Open
		// so concurrently opened test stores stay isolated from each other.
		path = fmt.Sprintf("memdb%d", memdbSeq.Add(1))
		extra = "&mode=memory&cache=shared"
	}

	deferredDSN := fmt.Sprintf("file:%s?_busy_timeout=%d&_txlock=deferred&_foreign_keys=1%s", path, ms, extra)
	immediateDSN := fmt.Sprintf("file:%s?_busy_timeout=%d&_txlock=immediate&_foreign_keys=1%s", path, ms, extra)

	deferredDB, err := sql.Open(sqliteDriverName, deferredDSN)
	if err != nil {
		return nil, fmt.Errorf("store: open deferred handle: %w", err)
	}
	immediateDB, err := sql.Open(sqliteDriverName, immediateDSN)
	if err != nil {
		deferredDB.Close()
		return nil, fmt.Errorf("store: open immediate handle: %w", err)
	}

	// SQLite does not tolerate many concurrent writer connections pointed
	// at the same file well; keep each handle to a single physical
	// connection so the engine's own file lock is the real serialization
	// point.
	deferredDB.SetMaxOpenConns(1)
	deferredDB.SetMaxIdleConns(1)
	immediateDB.SetMaxOpenConns(1)
	immediateDB.SetMaxIdleConns(1)

	if _, err := deferredDB.ExecContext(ctx, schemaDDL); err != nil {
		deferredDB.Close()
		immediateDB.Close()
		return nil, fmt.Errorf("store: migrate schema: %w", err)
	}
	if _, err := immediateDB.ExecContext(ctx, schemaDDL); err != nil {
		deferredDB.Close()
		immediateDB.Close()
		return nil, fmt.Errorf("store: migrate schema (immediate handle): %w", err)
	}
	pragma := fmt.Sprintf("PRAGMA busy_timeout=%d;", ms)
	if _, err := deferredDB.ExecContext(ctx, pragma); err != nil {
		deferredDB.Close()
		immediateDB.Close()
		return nil, fmt.Errorf("store: set busy_timeout: %w", err)
	}
	if _, err := immediateDB.ExecContext(ctx, pragma); err != nil {
		deferredDB.Close()
		immediateDB.Close()
		return nil, fmt.Errorf("store: set busy_timeout: %w", err)
	}
	return &Store{deferredDB: deferredDB, immediateDB: immediateDB, logger: logger}, nil
}

// Close releases both underlying connections.
func (s *Store) Close() error {
	err1 := s.deferredDB.Close()
	err2 := s.immediateDB.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// DeferredTx runs fn inside a deferred-lock transaction: rolled back on
// error or panic, committed and PRAGMA-optimized on success.
func (s *Store) DeferredTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.runTx(ctx, s.deferredDB, true, fn)
}

// ImmediateTx runs fn inside an immediate-lock transaction, used when the
// caller must serialize against concurrent writers (e.g. janitor deletion
// racing the capture loop's next commit).
func (s *Store) ImmediateTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.runTx(ctx, s.immediateDB, false, fn)
}

func (s *Store) runTx(ctx context.Context, db *sql.DB, optimizeAfter bool, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("store: rollback failed", slog.String("error", rbErr.Error()))
		}
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	if optimizeAfter {
		if _, oerr := db.ExecContext(ctx, "PRAGMA optimize;"); oerr != nil {
			s.logger.Warn("store: PRAGMA optimize failed", slog.String("error", oerr.Error()))
		}
	}
	return nil
}

// DB exposes the read-path handle for callers that only issue SELECTs
// (select_measurements_that_need_upload and friends) outside a write
// transaction.
func (s *Store) DB() *sql.DB {
	return s.deferredDB
}
