// Package pgxutil holds the transaction and lock helpers shared by the Postgres
// repositories. Handles are database/sql pools opened with the pgx stdlib driver, so the
// native *pgx.Conn is reachable when a feature (LISTEN, batch queries) needs it.
package pgxutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// LockKey addresses a two-part Postgres advisory lock.
type LockKey struct {
	Space int32
	ID    int32
}

func (k LockKey) String() string { return fmt.Sprintf("%d/%d", k.Space, k.ID) }

// InTx runs fn inside a database/sql transaction. The transaction commits when fn returns
// nil and rolls back otherwise; a failed rollback is joined onto the returned error.
func InTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(*sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// RawConn checks one connection out of db and hands fn the native pgx connection behind it.
func RawConn(ctx context.Context, db *sql.DB, fn func(*pgx.Conn) error) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	return conn.Raw(func(driverConn any) error {
		c, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("driver connection is %T, not a pgx stdlib connection", driverConn)
		}
		return fn(c.Conn())
	})
}

// InPgxTx is InTx for code that wants the pgx API (Query returning pgx.Rows, pg_notify
// with typed arguments) inside the transaction.
func InPgxTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(pgx.Tx) error) error {
	return RawConn(ctx, db, func(conn *pgx.Conn) error {
		return pgx.BeginTxFunc(ctx, conn, TxOptions(opts), fn)
	})
}

// TryXactLock takes a transaction scoped advisory lock without blocking. False means a
// different session holds it; the lock is released when tx ends.
func TryXactLock(ctx context.Context, tx *sql.Tx, key LockKey) (bool, error) {
	var ok bool
	row := tx.QueryRowContext(ctx, `SELECT pg_try_advisory_xact_lock($1::int4, $2::int4)`, key.Space, key.ID)
	if err := row.Scan(&ok); err != nil {
		return false, fmt.Errorf("advisory lock %s: %w", key, err)
	}
	return ok, nil
}

// WithXactLock runs fn in a transaction that holds key. When another session holds the
// lock fn is skipped and ran is false.
func WithXactLock(ctx context.Context, db *sql.DB, key LockKey, fn func(*sql.Tx) error) (ran bool, err error) {
	err = InTx(ctx, db, nil, func(tx *sql.Tx) error {
		ok, lerr := TryXactLock(ctx, tx, key)
		if lerr != nil || !ok {
			return lerr
		}
		ran = true
		return fn(tx)
	})
	return ran, err
}

// TxOptions maps database/sql options onto pgx options. Unknown isolation levels fall back
// to the server default.
func TxOptions(opts *sql.TxOptions) pgx.TxOptions {
	var out pgx.TxOptions
	if opts == nil {
		return out
	}
	out.AccessMode = pgx.ReadWrite
	if opts.ReadOnly {
		out.AccessMode = pgx.ReadOnly
	}
	switch opts.Isolation {
	case sql.LevelReadUncommitted:
		out.IsoLevel = pgx.ReadUncommitted
	case sql.LevelReadCommitted, sql.LevelWriteCommitted:
		out.IsoLevel = pgx.ReadCommitted
	case sql.LevelRepeatableRead, sql.LevelSnapshot:
		out.IsoLevel = pgx.RepeatableRead
	case sql.LevelSerializable, sql.LevelLinearizable:
		out.IsoLevel = pgx.Serializable
	}
	return out
}
