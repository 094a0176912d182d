// Package sql implements storage.Store against a single database/sql
// connection. The same parameterized SQL runs against both SQLite
// (modernc.org/sqlite) and MySQL (go-sql-driver/mysql), except the
// upserts, which pick a per-dialect statement; schema DDL is produced
// per-dialect by the schema package's table builders.
package sql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"probewatch/internal/apperr"
	"probewatch/internal/model"
)

// SQLStore is the unified repository implementation backing
// storage.Store, for either a SQLite or a MySQL connection.
type SQLStore struct {
	db      *sql.DB
	dialect string // "sqlite" or "mysql"
}

// NewSQLStore wraps an already-open, already-migrated connection.
func NewSQLStore(db *sql.DB, dialect string) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func unixToTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

// nullableTime converts a nullable BIGINT column value into *time.Time.
func nullableTime(ns sql.NullInt64) *time.Time {
	if !ns.Valid || ns.Int64 == 0 {
		return nil
	}
	t := time.Unix(ns.Int64, 0)
	return &t
}

func timePtrToNullInt64(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func triStateToNullBool(ts model.TriState) sql.NullBool {
	if !ts.Valid {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: ts.Bool, Valid: true}
}

func nullBoolToTriState(nb sql.NullBool) model.TriState {
	if !nb.Valid {
		return model.TriState{}
	}
	return model.TriState{Valid: true, Bool: nb.Bool}
}

func int64PtrToNullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullInt64ToPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func intPtrToNullInt64(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullInt64ToIntPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.DBTxError("begin", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.DBTxError("commit", err)
	}
	return nil
}

// lastInsertID normalizes LastInsertId() semantics: SQLite and MySQL
// both support it for this schema (no UUID-typed primary keys).
func lastInsertID(res sql.Result) (int64, error) {
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}
