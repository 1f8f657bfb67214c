package composite

import (
	"context"
	"errors"
	"fmt"
)

// SaveOptions controls one Save call. The zero value (or a nil pointer)
// validates everything.
type SaveOptions struct {
	// SkipValidation saves without running Validate first.
	SkipValidation bool

	// Fields narrows the child's validation to the named fields; parents
	// always validate their full own field sets. It does not narrow the
	// write; rows are always written whole.
	Fields []string
}

// Save persists the whole chain in one transaction, parent rows first.
//
// Unless skipped, validation runs before anything else; a validation
// failure returns (false, nil) with the error map populated and no
// transaction ever opened. The chain is then resolved so every read
// precedes the transaction. Inside it, each parent is written before its
// child, and the parent's linking value (which for inserts exists only
// after the parent row is written) is copied into the child's linking
// field before the child row is written. Hooks run inside the
// transaction next to their record's write; any error rolls everything
// back. After commit every entity in the chain counts as stored.
func (e *Entity) Save(ctx context.Context, opts *SaveOptions) (bool, error) {
	var o SaveOptions
	if opts != nil {
		o = *opts
	}
	if !o.SkipValidation {
		ok, err := e.Validate(ctx, o.Fields...)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	chain, err := e.resolveChain(ctx)
	if err != nil {
		return false, err
	}
	tx, err := e.engine.storage.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("espalier: begin save: %w", err)
	}
	defer tx.Rollback()
	for i := len(chain) - 1; i >= 0; i-- {
		ent := chain[i]
		if i+1 < len(chain) {
			if err := ent.adoptParentKey(chain[i+1]); err != nil {
				return false, err
			}
		}
		if err := ent.saveRow(ctx, tx); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("espalier: commit save: %w", err)
	}
	for _, ent := range chain {
		ent.stored = true
	}
	return true, nil
}

// adoptParentKey copies the parent's linking value into the entity's own
// linking field. It runs after the parent row is written, because inserts
// assign generated keys.
func (e *Entity) adoptParentKey(parent *Entity) error {
	value, ok := parent.fm.Value(parent.rec, e.link.ParentField)
	if !ok {
		return fmt.Errorf("espalier: %s has no field %q", parent.rec.TableName(), e.link.ParentField)
	}
	if err := e.fm.Set(e.rec, e.link.ChildField, value); err != nil {
		return fmt.Errorf("espalier: propagate key to %s: %w", e.rec.TableName(), err)
	}
	return nil
}

func (e *Entity) saveRow(ctx context.Context, tx Txn) error {
	table := e.rec.TableName()
	if h, ok := e.rec.(BeforeSaver); ok {
		if err := h.BeforeSave(ctx); err != nil {
			return fmt.Errorf("espalier: before save %s: %w", table, err)
		}
	}
	var err error
	if e.stored {
		err = tx.Update(ctx, e.rec)
	} else {
		err = tx.Insert(ctx, e.rec)
	}
	if err != nil {
		return fmt.Errorf("espalier: save %s: %w", table, err)
	}
	if h, ok := e.rec.(AfterSaver); ok {
		if err := h.AfterSave(ctx); err != nil {
			return fmt.Errorf("espalier: after save %s: %w", table, err)
		}
	}
	return nil
}

// Delete removes the whole chain in one transaction, child rows first so
// no linking field dangles mid-transaction. It returns the number of rows
// removed on the child side, per the storage's report. Deleting a
// never-saved entity is ErrNotPersisted. After commit every entity in the
// chain counts as new again.
func (e *Entity) Delete(ctx context.Context) (int64, error) {
	if !e.stored {
		return 0, fmt.Errorf("%w: %s", ErrNotPersisted, e.rec.TableName())
	}
	chain, err := e.resolveChain(ctx)
	if err != nil {
		return 0, err
	}
	tx, err := e.engine.storage.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("espalier: begin delete: %w", err)
	}
	defer tx.Rollback()
	var removed int64
	for i, ent := range chain {
		n, err := ent.deleteRow(ctx, tx)
		if err != nil {
			return 0, err
		}
		if i == 0 {
			removed = n
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("espalier: commit delete: %w", err)
	}
	for _, ent := range chain {
		ent.stored = false
	}
	return removed, nil
}

func (e *Entity) deleteRow(ctx context.Context, tx Txn) (int64, error) {
	table := e.rec.TableName()
	if h, ok := e.rec.(BeforeDeleter); ok {
		if err := h.BeforeDelete(ctx); err != nil {
			return 0, fmt.Errorf("espalier: before delete %s: %w", table, err)
		}
	}
	n, err := tx.Delete(ctx, e.rec)
	if err != nil {
		return 0, fmt.Errorf("espalier: delete %s: %w", table, err)
	}
	if h, ok := e.rec.(AfterDeleter); ok {
		if err := h.AfterDelete(ctx); err != nil {
			return 0, fmt.Errorf("espalier: after delete %s: %w", table, err)
		}
	}
	return n, nil
}

// Refresh re-reads every row of the chain from storage, resolving any
// parent not yet resolved. The result is the AND across the chain: false
// when any row, parent rows included, is gone. A never-saved entity is
// (false, nil).
func (e *Entity) Refresh(ctx context.Context) (bool, error) {
	if !e.stored {
		return false, nil
	}
	found, err := e.engine.storage.Load(ctx, e.rec, e.Key())
	if err != nil {
		return false, fmt.Errorf("espalier: refresh %s: %w", e.rec.TableName(), err)
	}
	if !found {
		return false, nil
	}
	p, err := e.Parent(ctx)
	if err != nil {
		if errors.Is(err, ErrParentNotFound) {
			return false, nil
		}
		return false, err
	}
	if p == nil {
		return true, nil
	}
	return p.Refresh(ctx)
}
