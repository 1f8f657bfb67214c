// Package sqlstore implements composite.Storage over database/sql. It
// generates the minimal row CRUD the engine needs: keyed selects,
// inserts with generated-key return, whole-row updates, and keyed
// deletes, mapping columns through the records' db tags.
//
// Two dialects are supported: SQLite (? placeholders, LastInsertId) and
// Postgres ($n placeholders, INSERT ... RETURNING). Generated keys are
// integers; records with string keys must have them assigned before
// insert.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jacentio/espalier/composite"
	"github.com/jacentio/espalier/internal/fieldmap"
)

// Dialect selects placeholder style and generated-key retrieval.
type Dialect int

const (
	// DialectSQLite uses ? placeholders and LastInsertId.
	DialectSQLite Dialect = iota

	// DialectPostgres uses $n placeholders and INSERT ... RETURNING.
	DialectPostgres
)

// Store adapts a *sql.DB to composite.Storage.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New creates a Store over db. The caller owns the database handle and
// its pooling; Close it after the engine is done.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Load reads the row with the given key into rec. A missing row is
// (false, nil).
func (s *Store) Load(ctx context.Context, rec composite.Record, key any) (bool, error) {
	fm, err := fieldmap.For(rec)
	if err != nil {
		return false, err
	}
	kf, ok := fm.Key()
	if !ok {
		return false, fmt.Errorf("espalier: %s declares no key field", rec.TableName())
	}
	names := fm.Names()
	addrs, err := fm.Addrs(rec, names)
	if err != nil {
		return false, err
	}
	query := selectSQL(s.dialect, rec.TableName(), names, kf.Name)
	err = s.db.QueryRowContext(ctx, query, key).Scan(addrs...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("espalier: select %s: %w", rec.TableName(), err)
	}
	return true, nil
}

// Begin opens a database transaction.
func (s *Store) Begin(ctx context.Context) (composite.Txn, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Txn{tx: tx, dialect: s.dialect}, nil
}

// Txn wraps one *sql.Tx.
type Txn struct {
	tx      *sql.Tx
	dialect Dialect
}

// Insert writes a new row. When the record's integer key field is zero
// the key column is omitted so storage assigns it, and the generated
// value is written back onto the record.
func (t *Txn) Insert(ctx context.Context, rec composite.Record) error {
	fm, err := fieldmap.For(rec)
	if err != nil {
		return err
	}
	kf, ok := fm.Key()
	if !ok {
		return fmt.Errorf("espalier: %s declares no key field", rec.TableName())
	}
	zeroKey, _ := fm.IsZero(rec, kf.Name)
	names := fm.Names()
	if zeroKey {
		names = withoutName(names, kf.Name)
	}
	values, err := fm.Values(rec, names)
	if err != nil {
		return err
	}
	if !zeroKey {
		query := insertSQL(t.dialect, rec.TableName(), names)
		if _, err := t.tx.ExecContext(ctx, query, values...); err != nil {
			return fmt.Errorf("espalier: insert %s: %w", rec.TableName(), err)
		}
		return nil
	}
	if t.dialect == DialectPostgres {
		query := insertReturningSQL(rec.TableName(), names, kf.Name)
		addrs, err := fm.Addrs(rec, []string{kf.Name})
		if err != nil {
			return err
		}
		if err := t.tx.QueryRowContext(ctx, query, values...).Scan(addrs[0]); err != nil {
			return fmt.Errorf("espalier: insert %s: %w", rec.TableName(), err)
		}
		return nil
	}
	query := insertSQL(t.dialect, rec.TableName(), names)
	res, err := t.tx.ExecContext(ctx, query, values...)
	if err != nil {
		return fmt.Errorf("espalier: insert %s: %w", rec.TableName(), err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("espalier: insert %s: last insert id: %w", rec.TableName(), err)
	}
	if err := fm.Set(rec, kf.Name, id); err != nil {
		return fmt.Errorf("espalier: insert %s: assign key: %w", rec.TableName(), err)
	}
	return nil
}

// Update rewrites the row identified by the record's key. A missing row
// is an error; the engine only updates rows it believes exist.
func (t *Txn) Update(ctx context.Context, rec composite.Record) error {
	fm, err := fieldmap.For(rec)
	if err != nil {
		return err
	}
	kf, ok := fm.Key()
	if !ok {
		return fmt.Errorf("espalier: %s declares no key field", rec.TableName())
	}
	names := withoutName(fm.Names(), kf.Name)
	if len(names) == 0 {
		// Key-only records carry no mutable columns.
		return nil
	}
	values, err := fm.Values(rec, append(append([]string{}, names...), kf.Name))
	if err != nil {
		return err
	}
	query := updateSQL(t.dialect, rec.TableName(), names, kf.Name)
	res, err := t.tx.ExecContext(ctx, query, values...)
	if err != nil {
		return fmt.Errorf("espalier: update %s: %w", rec.TableName(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("espalier: update %s: rows affected: %w", rec.TableName(), err)
	}
	if n == 0 {
		key, _ := fm.Value(rec, kf.Name)
		return fmt.Errorf("espalier: update %s: no row with key %v", rec.TableName(), key)
	}
	return nil
}

// Delete removes the row identified by the record's key and reports the
// removed-row count.
func (t *Txn) Delete(ctx context.Context, rec composite.Record) (int64, error) {
	fm, err := fieldmap.For(rec)
	if err != nil {
		return 0, err
	}
	kf, ok := fm.Key()
	if !ok {
		return 0, fmt.Errorf("espalier: %s declares no key field", rec.TableName())
	}
	key, _ := fm.Value(rec, kf.Name)
	query := deleteSQL(t.dialect, rec.TableName(), kf.Name)
	res, err := t.tx.ExecContext(ctx, query, key)
	if err != nil {
		return 0, fmt.Errorf("espalier: delete %s: %w", rec.TableName(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("espalier: delete %s: rows affected: %w", rec.TableName(), err)
	}
	return n, nil
}

// Commit commits the transaction.
func (t *Txn) Commit() error {
	return t.tx.Commit()
}

// Rollback aborts the transaction. After Commit it is a no-op.
func (t *Txn) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func withoutName(names []string, drop string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n != drop {
			out = append(out, n)
		}
	}
	return out
}
