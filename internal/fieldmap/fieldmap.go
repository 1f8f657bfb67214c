// Package fieldmap derives persisted-field metadata for record structs
// from their `db` struct tags.
//
// A field is declared by tagging it:
//
//	type User struct {
//		ID       int64   `db:"id,key"`
//		Username string  `db:"username" validate:"required,min=3"`
//		Email    *string `db:"email"`
//	}
//
// The tag value names the storage column. The ",key" option marks the
// record key; at most one field may carry it. Untagged fields and fields
// tagged `db:"-"` are invisible to the map. Maps are built once per type
// and cached for the life of the process.
package fieldmap

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// Field describes one declared field of a record type.
type Field struct {
	// Name is the storage column name taken from the db tag.
	Name string

	// GoName is the Go struct field name, used when addressing the field
	// through the validator or through method lookup.
	GoName string

	// Index is the reflect index of the field within the struct.
	Index int

	// IsKey reports whether the field carries the ",key" tag option.
	IsKey bool

	// Rule holds the field's validate tag, or "" when it has none.
	Rule string
}

// Map holds the declared fields of a single record type in declaration
// order. A Map is immutable once built and safe for concurrent use.
type Map struct {
	rtype  reflect.Type
	fields []Field
	byName map[string]int
	keyIdx int
}

var cache sync.Map // reflect.Type -> *Map

// For returns the field map for rec, which must be a non-nil pointer to
// a struct. The map is built on first use and cached by type.
func For(rec any) (*Map, error) {
	rv := reflect.ValueOf(rec)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return nil, fmt.Errorf("fieldmap: record must be a non-nil struct pointer, got %T", rec)
	}
	rt := rv.Elem().Type()
	if rt.Kind() != reflect.Struct {
		return nil, fmt.Errorf("fieldmap: record must point to a struct, got %T", rec)
	}
	if cached, ok := cache.Load(rt); ok {
		return cached.(*Map), nil
	}
	m, err := build(rt)
	if err != nil {
		return nil, err
	}
	actual, _ := cache.LoadOrStore(rt, m)
	return actual.(*Map), nil
}

func build(rt reflect.Type) (*Map, error) {
	m := &Map{
		rtype:  rt,
		byName: make(map[string]int),
		keyIdx: -1,
	}
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag, ok := sf.Tag.Lookup("db")
		if !ok || tag == "-" {
			continue
		}
		name, opts := splitTag(tag)
		if name == "" {
			return nil, fmt.Errorf("fieldmap: %s.%s has an empty db tag name", rt.Name(), sf.Name)
		}
		if _, dup := m.byName[name]; dup {
			return nil, fmt.Errorf("fieldmap: %s declares field %q twice", rt.Name(), name)
		}
		f := Field{
			Name:   name,
			GoName: sf.Name,
			Index:  i,
			IsKey:  hasOption(opts, "key"),
			Rule:   sf.Tag.Get("validate"),
		}
		if f.IsKey {
			if m.keyIdx >= 0 {
				return nil, fmt.Errorf("fieldmap: %s declares more than one key field", rt.Name())
			}
			m.keyIdx = len(m.fields)
		}
		m.byName[name] = len(m.fields)
		m.fields = append(m.fields, f)
	}
	if len(m.fields) == 0 {
		return nil, fmt.Errorf("fieldmap: %s declares no db-tagged fields", rt.Name())
	}
	return m, nil
}

func splitTag(tag string) (name string, opts string) {
	if i := strings.IndexByte(tag, ','); i >= 0 {
		return tag[:i], tag[i+1:]
	}
	return tag, ""
}

func hasOption(opts, want string) bool {
	for opts != "" {
		var opt string
		if i := strings.IndexByte(opts, ','); i >= 0 {
			opt, opts = opts[:i], opts[i+1:]
		} else {
			opt, opts = opts, ""
		}
		if opt == want {
			return true
		}
	}
	return false
}

// Names returns the declared field names in declaration order. The
// returned slice is a copy and may be modified by the caller.
func (m *Map) Names() []string {
	names := make([]string, len(m.fields))
	for i, f := range m.fields {
		names[i] = f.Name
	}
	return names
}

// Len returns the number of declared fields.
func (m *Map) Len() int { return len(m.fields) }

// Has reports whether name is a declared field.
func (m *Map) Has(name string) bool {
	_, ok := m.byName[name]
	return ok
}

// Lookup returns the metadata for the named field.
func (m *Map) Lookup(name string) (Field, bool) {
	i, ok := m.byName[name]
	if !ok {
		return Field{}, false
	}
	return m.fields[i], true
}

// Fields returns the declared fields in declaration order. The returned
// slice is a copy and may be modified by the caller.
func (m *Map) Fields() []Field {
	out := make([]Field, len(m.fields))
	copy(out, m.fields)
	return out
}

// Key returns the metadata of the key field, if one is declared.
func (m *Map) Key() (Field, bool) {
	if m.keyIdx < 0 {
		return Field{}, false
	}
	return m.fields[m.keyIdx], true
}

// HasRules reports whether any declared field carries a validate tag.
func (m *Map) HasRules() bool {
	for _, f := range m.fields {
		if f.Rule != "" {
			return true
		}
	}
	return false
}

// Value returns the current value of the named field on rec. The second
// return is false when the field is not declared.
func (m *Map) Value(rec any, name string) (any, bool) {
	i, ok := m.byName[name]
	if !ok {
		return nil, false
	}
	fv, err := m.fieldValue(rec, m.fields[i])
	if err != nil {
		return nil, false
	}
	return fv.Interface(), true
}

// IsZero reports whether the named field holds its type's zero value.
// The second return is false when the field is not declared.
func (m *Map) IsZero(rec any, name string) (bool, bool) {
	i, ok := m.byName[name]
	if !ok {
		return false, false
	}
	fv, err := m.fieldValue(rec, m.fields[i])
	if err != nil {
		return false, false
	}
	return fv.IsZero(), true
}

// Set assigns value to the named field on rec, converting between
// compatible types and boxing values into pointer fields as needed. A
// nil value zeroes nilable fields and is rejected for all others.
func (m *Map) Set(rec any, name string, value any) error {
	i, ok := m.byName[name]
	if !ok {
		return fmt.Errorf("fieldmap: %s has no field %q", m.rtype.Name(), name)
	}
	fv, err := m.fieldValue(rec, m.fields[i])
	if err != nil {
		return err
	}
	return assign(fv, name, value)
}

// Zero resets the named field on rec to its type's zero value.
func (m *Map) Zero(rec any, name string) error {
	i, ok := m.byName[name]
	if !ok {
		return fmt.Errorf("fieldmap: %s has no field %q", m.rtype.Name(), name)
	}
	fv, err := m.fieldValue(rec, m.fields[i])
	if err != nil {
		return err
	}
	fv.Set(reflect.Zero(fv.Type()))
	return nil
}

// Values returns the current values of the named fields on rec, in the
// given order, for use as statement arguments.
func (m *Map) Values(rec any, names []string) ([]any, error) {
	out := make([]any, len(names))
	for i, name := range names {
		v, ok := m.Value(rec, name)
		if !ok {
			return nil, fmt.Errorf("fieldmap: %s has no field %q", m.rtype.Name(), name)
		}
		out[i] = v
	}
	return out, nil
}

// Addrs returns pointers to the named fields on rec, in the given order,
// for use as row scan destinations.
func (m *Map) Addrs(rec any, names []string) ([]any, error) {
	out := make([]any, len(names))
	for i, name := range names {
		idx, ok := m.byName[name]
		if !ok {
			return nil, fmt.Errorf("fieldmap: %s has no field %q", m.rtype.Name(), name)
		}
		fv, err := m.fieldValue(rec, m.fields[idx])
		if err != nil {
			return nil, err
		}
		out[i] = fv.Addr().Interface()
	}
	return out, nil
}

func (m *Map) fieldValue(rec any, f Field) (reflect.Value, error) {
	rv := reflect.ValueOf(rec)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return reflect.Value{}, fmt.Errorf("fieldmap: record must be a non-nil struct pointer, got %T", rec)
	}
	ev := rv.Elem()
	if ev.Type() != m.rtype {
		return reflect.Value{}, fmt.Errorf("fieldmap: record is %T, map is for %s", rec, m.rtype.Name())
	}
	return ev.Field(f.Index), nil
}

func assign(fv reflect.Value, name string, value any) error {
	av, err := Coerce(value, fv.Type())
	if err != nil {
		return fmt.Errorf("fieldmap: field %q: %w", name, err)
	}
	fv.Set(av)
	return nil
}

// Coerce adapts value to type t: exact assignment first, then boxing into
// pointer types so nullable columns accept their element type directly,
// then numeric conversion. A nil value yields the zero value for nilable
// types and an error for all others. The returned error carries no package
// prefix so callers can wrap it with their own context.
func Coerce(value any, t reflect.Type) (reflect.Value, error) {
	if value == nil {
		switch t.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, fmt.Errorf("cannot use nil as %s", t)
	}
	vv := reflect.ValueOf(value)
	if vv.Type().AssignableTo(t) {
		return vv, nil
	}
	if t.Kind() == reflect.Pointer {
		et := t.Elem()
		if vv.Type().AssignableTo(et) {
			p := reflect.New(et)
			p.Elem().Set(vv)
			return p, nil
		}
		if convertible(vv.Type(), et) {
			p := reflect.New(et)
			p.Elem().Set(vv.Convert(et))
			return p, nil
		}
	}
	if convertible(vv.Type(), t) {
		return vv.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", value, t)
}

// convertible mirrors reflect's ConvertibleTo but rejects the
// integer-to-string conversion, which would produce a rune string
// instead of the intended value.
func convertible(from, to reflect.Type) bool {
	if !from.ConvertibleTo(to) {
		return false
	}
	if to.Kind() == reflect.String {
		switch from.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return false
		}
	}
	return true
}

// GoName converts a storage field name to its conventional Go spelling:
// each underscore-separated segment is capitalized, so "display_name"
// becomes "DisplayName". It is used to locate accessor methods for
// names that no struct field declares.
func GoName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	upper := true
	for _, r := range name {
		if r == '_' {
			upper = true
			continue
		}
		if upper {
			b.WriteRune(toUpper(r))
			upper = false
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func toUpper(r rune) rune {
	if 'a' <= r && r <= 'z' {
		return r - 'a' + 'A'
	}
	return r
}
