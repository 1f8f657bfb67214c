package composite

import (
	"fmt"

	"github.com/jacentio/espalier/internal/fieldmap"
)

// Link declares a one-to-one inheritance link: the child record's
// ChildField references the parent record's ParentField. Both field names
// default to the respective record's key field, which is the classic
// child-key-equals-parent-key table layout.
type Link struct {
	// Child constructs an empty child record.
	Child func() Record

	// Parent constructs an empty parent record.
	Parent func() Record

	// ChildField is the child's linking field. Default: the child's key field.
	ChildField string

	// ParentField is the parent field the link points at. Default: the
	// parent's key field.
	ParentField string

	childTable  string
	parentTable string
}

// ChildTable returns the child record's table name.
func (l Link) ChildTable() string { return l.childTable }

// ParentTable returns the parent record's table name.
func (l Link) ParentTable() string { return l.parentTable }

// Registry holds all known links. A child table carries at most one link;
// a parent table may be referenced by many.
type Registry struct {
	links    []Link
	byChild  map[string]Link
	byParent map[string][]Link
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byChild:  make(map[string]Link),
		byParent: make(map[string][]Link),
	}
}

// Register validates and adds a link, filling in defaulted field names.
// This should be called during setup, before entities are constructed;
// the registry is not synchronized for concurrent registration.
func (r *Registry) Register(link Link) error {
	if link.Child == nil || link.Parent == nil {
		return fmt.Errorf("espalier: link needs both Child and Parent constructors")
	}
	child := link.Child()
	parent := link.Parent()
	if child == nil || parent == nil {
		return fmt.Errorf("espalier: link constructors must not return nil")
	}
	cfm, err := fieldmap.For(child)
	if err != nil {
		return err
	}
	pfm, err := fieldmap.For(parent)
	if err != nil {
		return err
	}
	ckey, ok := cfm.Key()
	if !ok {
		return fmt.Errorf("espalier: %s declares no key field", child.TableName())
	}
	pkey, ok := pfm.Key()
	if !ok {
		return fmt.Errorf("espalier: %s declares no key field", parent.TableName())
	}
	if link.ChildField == "" {
		link.ChildField = ckey.Name
	} else if !cfm.Has(link.ChildField) {
		return fmt.Errorf("espalier: %s has no field %q", child.TableName(), link.ChildField)
	}
	if link.ParentField == "" {
		link.ParentField = pkey.Name
	} else if !pfm.Has(link.ParentField) {
		return fmt.Errorf("espalier: %s has no field %q", parent.TableName(), link.ParentField)
	}
	link.childTable = child.TableName()
	link.parentTable = parent.TableName()
	if link.childTable == link.parentTable {
		return fmt.Errorf("espalier: %s cannot link to itself", link.childTable)
	}
	if _, dup := r.byChild[link.childTable]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateLink, link.childTable)
	}
	r.links = append(r.links, link)
	r.byChild[link.childTable] = link
	r.byParent[link.parentTable] = append(r.byParent[link.parentTable], link)
	return nil
}

// LinkFor returns the link whose child side is the given table.
func (r *Registry) LinkFor(childTable string) (Link, bool) {
	l, ok := r.byChild[childTable]
	return l, ok
}

// LinksForParent returns all links whose parent side is the given table.
func (r *Registry) LinksForParent(parentTable string) []Link {
	return r.byParent[parentTable]
}

// AllLinks returns all registered links in registration order.
func (r *Registry) AllLinks() []Link {
	return r.links
}

// HasLink returns true if the child table has a registered link.
func (r *Registry) HasLink(childTable string) bool {
	_, ok := r.byChild[childTable]
	return ok
}
