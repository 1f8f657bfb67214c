// Package composite provides class-table inheritance over linked records:
// a child record and its parent live in separate tables joined one-to-one
// by a linking key, and an Entity facade makes the pair behave as a single
// merged record.
//
// Espalier is designed for schemas where an is-a hierarchy is split across
// tables (the classic layout being child primary key equals parent
// primary key) and the application wants to read, write, validate, and
// persist the pair as one object without flattening the tables.
//
// # Key Features
//
//   - Attribute fallback: reads and writes hit the child's declared
//     fields first and delegate undeclared names up the parent chain
//   - Method fallback: parent behavior is callable through the child
//   - Two-sided validation with a merged, child-precedence error map
//   - Cascading saves in one transaction, parent first, with generated
//     parent keys propagated into the child's linking field
//   - Cascading deletes in one transaction, child first
//   - Chained links: a parent may itself be the child of a further link
//
// # Declaring Records
//
// A record is any struct implementing [Record] with db-tagged fields:
//
//	type User struct {
//	    ID       int64  `db:"id,key"`
//	    Username string `db:"username" validate:"required,min=3"`
//	}
//
//	func (*User) TableName() string { return "users" }
//
// The ",key" option marks the key field; exactly one per record. The
// optional validate tag supplies field rules; records can instead
// implement [FieldValidator] to run their own.
//
// # Linking
//
// A [Link] names the child and parent constructors; the linking fields
// default to both key fields:
//
//	eng, err := composite.New(storage, composite.DefaultConfig())
//	...
//	err = eng.Register(composite.Link{
//	    Child:  func() composite.Record { return &Admin{} },
//	    Parent: func() composite.Record { return &User{} },
//	})
//
// From then on every Admin entity behaves as an Admin merged with its
// User row:
//
//	adm, err := eng.Entity(&Admin{})
//	...
//	err = adm.Set(ctx, "username", "al-acran") // lands on the User side
//	ok, err := adm.Save(ctx, nil)              // writes users, then admins
//
// # Configuration
//
// Use [DefaultConfig] for typical two-level links. MaxChainDepth only
// matters for deep chains and guards against cyclic registrations.
//
// # Errors
//
// The package defines domain-specific errors:
//
//   - [ErrUnknownAttribute] - no side of the chain declares the field
//   - [ErrUnknownMethod] - no side of the chain defines the method
//   - [ErrReadOnlyAttribute] - write against a getter-only computed name
//   - [ErrParentNotFound] - stored child whose parent row is gone
//   - [ErrNotFound] - Load miss
//   - [ErrNotPersisted] - delete of a never-saved entity
//   - [ErrChainTooDeep] - resolution exceeded Config.MaxChainDepth
//   - [ErrDuplicateLink] - second link for the same child table
//
// Validation failure is not an error: it is the false return of
// [Entity.Validate] or [Entity.Save] plus the populated error map.
package composite
