package composite

import "context"

// Storage is the row-level persistence boundary the engine drives. The
// sqlstore and dynastore packages provide implementations; tests supply
// fakes.
type Storage interface {
	// Load reads the row with the given key into rec. It returns false
	// with a nil error when no such row exists.
	Load(ctx context.Context, rec Record, key any) (bool, error)

	// Begin opens a transaction. Every cascade runs inside exactly one.
	Begin(ctx context.Context) (Txn, error)
}

// Txn is a storage transaction. Implementations with no native generated
// keys assign client-side keys on Insert instead.
type Txn interface {
	// Insert writes a new row. When the record's key field holds its zero
	// value, Insert assigns the storage-generated (or client-assigned) key
	// onto the record before returning.
	Insert(ctx context.Context, rec Record) error

	// Update rewrites the row identified by the record's key field.
	Update(ctx context.Context, rec Record) error

	// Delete removes the row identified by the record's key field and
	// reports the number of rows removed.
	Delete(ctx context.Context, rec Record) (int64, error)

	// Commit makes the transaction's writes durable.
	Commit() error

	// Rollback discards the transaction. After Commit it is a no-op, so
	// callers may defer it unconditionally.
	Rollback() error
}
