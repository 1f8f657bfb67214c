package composite

import (
	"github.com/jacentio/espalier/internal/fieldmap"
)

// Entity is the composite facade over one record instance. Reads, writes,
// method calls, validation, and persistence fall through to the record's
// parent chain wherever the record itself does not cover them, so the
// child behaves as if it inherited the parent's fields and behavior.
//
// An Entity is not safe for concurrent use; its parent cache and error
// map are instance-local and unsynchronized.
type Entity struct {
	engine *Engine
	rec    Record
	fm     *fieldmap.Map
	link   *Link
	parent *Entity
	stored bool
	errs   map[string][]string
	depth  int
}

// Record returns the wrapped record instance.
func (e *Entity) Record() Record {
	return e.rec
}

// IsNew reports whether the entity has never been saved (or was deleted).
func (e *Entity) IsNew() bool {
	return !e.stored
}

// Key returns the current value of the record's key field.
func (e *Entity) Key() any {
	f, _ := e.fm.Key()
	v, _ := e.fm.Value(e.rec, f.Name)
	return v
}

// KeyField returns the name of the record's key field.
func (e *Entity) KeyField() string {
	f, _ := e.fm.Key()
	return f.Name
}

// linkedField reports whether name is the entity's own linking field.
func (e *Entity) linkedField(name string) bool {
	return e.link != nil && e.link.ChildField == name
}

// guarded reports whether name is cascade-owned on this entity: the key
// field or the linking field. SetMany skips guarded fields in safe mode.
func (e *Entity) guarded(name string) bool {
	return name == e.KeyField() || e.linkedField(name)
}
