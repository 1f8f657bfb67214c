package composite

import "context"

// Record is the base interface for all persisted types. Declared fields
// come from `db` struct tags on exported fields; the key field carries the
// ",key" tag option. See the package documentation for the tag format.
type Record interface {
	// TableName returns the storage table name for this record type.
	TableName() string
}

// FieldValidator is implemented by records that run their own field rules.
// When present it replaces `validate` struct-tag evaluation for the record.
type FieldValidator interface {
	// ValidateFields checks the named fields and returns messages keyed by
	// field name. An empty map means the fields are valid.
	ValidateFields(ctx context.Context, fields []string) map[string][]string
}

// BeforeSaver is implemented by records that need work done inside the
// save transaction before their own row is written.
type BeforeSaver interface {
	BeforeSave(ctx context.Context) error
}

// AfterSaver is implemented by records that need work done inside the
// save transaction after their own row is written.
type AfterSaver interface {
	AfterSave(ctx context.Context) error
}

// BeforeDeleter is implemented by records that need work done inside the
// delete transaction before their own row is removed.
type BeforeDeleter interface {
	BeforeDelete(ctx context.Context) error
}

// AfterDeleter is implemented by records that need work done inside the
// delete transaction after their own row is removed.
type AfterDeleter interface {
	AfterDelete(ctx context.Context) error
}
