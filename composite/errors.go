package composite

import "errors"

var (
	// ErrUnknownAttribute is returned when neither the child nor any parent
	// in the chain declares the named field.
	ErrUnknownAttribute = errors.New("espalier: unknown attribute")

	// ErrUnknownMethod is returned when neither the child nor any parent in
	// the chain defines the named method.
	ErrUnknownMethod = errors.New("espalier: unknown method")

	// ErrReadOnlyAttribute is returned when a write targets a name backed
	// only by a computed getter on the child record.
	ErrReadOnlyAttribute = errors.New("espalier: attribute is read-only")

	// ErrParentNotFound is returned when a stored child's linking field
	// points at a parent row that no longer exists.
	ErrParentNotFound = errors.New("espalier: parent row not found")

	// ErrNotFound is returned when Load finds no row for the given key.
	ErrNotFound = errors.New("espalier: record not found")

	// ErrNotPersisted is returned when deleting an entity that was never
	// saved.
	ErrNotPersisted = errors.New("espalier: record is not persisted")

	// ErrChainTooDeep is returned when parent resolution exceeds
	// Config.MaxChainDepth, usually because links form a cycle.
	ErrChainTooDeep = errors.New("espalier: link chain too deep")

	// ErrDuplicateLink is returned when a second link is registered for the
	// same child table.
	ErrDuplicateLink = errors.New("espalier: link already registered for child table")
)
