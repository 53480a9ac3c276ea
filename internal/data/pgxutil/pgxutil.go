// Package pgxutil bridges database/sql pools to native pgx connections.
//
// The job store keeps a *sql.DB (so migrations and tests share one handle) but
// needs pgx-only features: typed row scanning, LISTEN/NOTIFY and text[] binding.
package pgxutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// ErrNotPgx is returned when the pool was not opened with the pgx stdlib driver.
var ErrNotPgx = errors.New("pgxutil: driver connection is not *stdlib.Conn")

// Conn pins one pooled connection for the duration of fn.
func Conn(ctx context.Context, db *sql.DB, fn func(*pgx.Conn) error) error {
	sc, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn: %w", err)
	}
	defer sc.Close() //nolint:errcheck // returning the conn to the pool cannot fail meaningfully

	return sc.Raw(func(dc any) error {
		std, ok := dc.(*stdlib.Conn)
		if !ok {
			return ErrNotPgx
		}
		return fn(std.Conn())
	})
}

// Tx runs fn inside a transaction at the given isolation level ("" keeps the server default).
// The transaction commits when fn returns nil and rolls back otherwise.
func Tx(ctx context.Context, db *sql.DB, iso pgx.TxIsoLevel, fn func(pgx.Tx) error) error {
	return Conn(ctx, db, func(conn *pgx.Conn) error {
		tx, err := conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: iso, AccessMode: pgx.ReadWrite})
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		if err = fn(tx); err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
			return err
		}
		if err = tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// WaitNotify listens on channel and blocks until one notification arrives or ctx ends.
// It returns the notification payload.
func WaitNotify(ctx context.Context, db *sql.DB, channel string) (string, error) {
	var payload string
	err := Conn(ctx, db, func(conn *pgx.Conn) error {
		ident := pgx.Identifier{channel}.Sanitize()
		if _, err := conn.Exec(ctx, "LISTEN "+ident); err != nil {
			return fmt.Errorf("listen %s: %w", channel, err)
		}
		// The connection goes back to the pool, so drop the subscription even when ctx is done.
		defer conn.Exec(context.WithoutCancel(ctx), "UNLISTEN "+ident) //nolint:errcheck // best effort

		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		payload = n.Payload
		return nil
	})
	return payload, err
}
