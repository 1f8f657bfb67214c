package composite

import (
	"context"
	"fmt"
	"reflect"

	"github.com/jacentio/espalier/internal/fieldmap"
)

// Attribute access falls through the parent chain: the child's own
// declared field always wins, even when it holds the zero value, and only
// undeclared names delegate upward. Accessors take a context because the
// first delegating access lazily loads the parent row.

// Get returns the named attribute, child field first, then the parent
// chain. Neither side declaring it is ErrUnknownAttribute.
func (e *Entity) Get(ctx context.Context, name string) (any, error) {
	if v, ok := e.fm.Value(e.rec, name); ok {
		return v, nil
	}
	p, err := e.Parent(ctx)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAttribute, name)
	}
	return p.Get(ctx, name)
}

// Set writes the named attribute. A child-declared field is written
// directly. An undeclared name backed by a computed getter on the child
// (a zero-argument method named after the field, with no matching
// Set<Name> method) is ErrReadOnlyAttribute; this guards computed
// properties against silent shadowing. Anything else delegates to the
// parent chain.
func (e *Entity) Set(ctx context.Context, name string, value any) error {
	if e.fm.Has(name) {
		return e.fm.Set(e.rec, name, value)
	}
	if e.readOnlyName(name) {
		return fmt.Errorf("%w: %q on %s", ErrReadOnlyAttribute, name, e.rec.TableName())
	}
	p, err := e.Parent(ctx)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%w: %q", ErrUnknownAttribute, name)
	}
	return p.Set(ctx, name, value)
}

// readOnlyName reports whether name resolves to a getter-only computed
// accessor on the child record. Field names map to method names by
// capitalizing each underscore-separated segment.
func (e *Entity) readOnlyName(name string) bool {
	goName := fieldmap.GoName(name)
	if goName == "" {
		return false
	}
	rv := reflect.ValueOf(e.rec)
	getter := rv.MethodByName(goName)
	if !getter.IsValid() {
		return false
	}
	gt := getter.Type()
	if gt.NumIn() != 0 || gt.NumOut() == 0 {
		return false
	}
	return !rv.MethodByName("Set" + goName).IsValid()
}

// Has reports whether either side holds a non-zero value for the named
// attribute. A child field holding its zero value still consults the
// parent chain; a name declared nowhere is false with a nil error.
func (e *Entity) Has(ctx context.Context, name string) (bool, error) {
	if zero, ok := e.fm.IsZero(e.rec, name); ok && !zero {
		return true, nil
	}
	p, err := e.Parent(ctx)
	if err != nil {
		return false, err
	}
	if p == nil {
		return false, nil
	}
	return p.Has(ctx, name)
}

// Clear resets the named attribute to its zero value, child field first,
// then the parent chain. Neither side declaring it is ErrUnknownAttribute.
func (e *Entity) Clear(ctx context.Context, name string) error {
	if e.fm.Has(name) {
		return e.fm.Zero(e.rec, name)
	}
	p, err := e.Parent(ctx)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%w: %q", ErrUnknownAttribute, name)
	}
	return p.Clear(ctx, name)
}

// SetMany distributes values across the chain: child-declared names stay
// on the child, the rest go to the parent, and the parent's portion is
// applied before the child's. Names declared nowhere are skipped
// silently, as are computed accessors; SetMany only ever touches
// declared fields. With safeOnly set, key and linking fields are skipped
// on every level; those are cascade-owned, never bulk-assignable input.
func (e *Entity) SetMany(ctx context.Context, values map[string]any, safeOnly bool) error {
	if len(values) == 0 {
		return nil
	}
	var up map[string]any
	own := make(map[string]any, len(values))
	for name, value := range values {
		if e.fm.Has(name) {
			own[name] = value
			continue
		}
		if up == nil {
			up = make(map[string]any)
		}
		up[name] = value
	}
	if len(up) > 0 {
		p, err := e.Parent(ctx)
		if err != nil {
			return err
		}
		if p != nil {
			if err := p.SetMany(ctx, up, safeOnly); err != nil {
				return err
			}
		}
	}
	for name, value := range own {
		if safeOnly && e.guarded(name) {
			continue
		}
		if err := e.fm.Set(e.rec, name, value); err != nil {
			return err
		}
	}
	return nil
}

// FieldNames returns the union of declared field names across the chain,
// child first, keeping the child's position for names both sides declare.
// It works on type metadata alone and performs no I/O.
func (e *Entity) FieldNames() []string {
	names := e.fm.Names()
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		seen[n] = struct{}{}
	}
	link := e.link
	for depth := e.depth; link != nil && depth < e.engine.config.MaxChainDepth; depth++ {
		parentRec := link.Parent()
		pfm, err := fieldmap.For(parentRec)
		if err != nil {
			break
		}
		for _, n := range pfm.Names() {
			if _, dup := seen[n]; dup {
				continue
			}
			seen[n] = struct{}{}
			names = append(names, n)
		}
		next, ok := e.engine.registry.LinkFor(parentRec.TableName())
		if !ok {
			break
		}
		link = &next
	}
	return names
}

// Attributes returns a name-to-value map for the given names, the child's
// value winning for names both sides declare. With no names it covers
// FieldNames(). A name declared nowhere is ErrUnknownAttribute.
func (e *Entity) Attributes(ctx context.Context, names ...string) (map[string]any, error) {
	if len(names) == 0 {
		names = e.FieldNames()
	}
	out := make(map[string]any, len(names))
	for _, name := range names {
		v, err := e.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

// AttributesExcept returns all chain attributes minus the excluded names.
func (e *Entity) AttributesExcept(ctx context.Context, exclude ...string) (map[string]any, error) {
	skip := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		skip[name] = struct{}{}
	}
	all := e.FieldNames()
	names := make([]string, 0, len(all))
	for _, name := range all {
		if _, drop := skip[name]; drop {
			continue
		}
		names = append(names, name)
	}
	return e.Attributes(ctx, names...)
}
