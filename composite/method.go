package composite

import (
	"context"
	"fmt"
	"reflect"

	"github.com/jacentio/espalier/internal/fieldmap"
)

var (
	ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errType = reflect.TypeOf((*error)(nil)).Elem()
)

// Invoke calls the named exported method, child record first, then the
// parent chain, which makes parent behavior callable through the child as
// if inherited. Methods taking context.Context as their first parameter
// receive the call's ctx; remaining arguments are adapted with the same
// conversion rules as field writes; variadic methods are supported. When
// the method's final return value is an error it is split off the result
// slice and returned as the call's error.
//
// A name defined nowhere in the chain is ErrUnknownMethod. Wrong arity or
// unconvertible arguments on a method that does exist are ordinary
// errors, not ErrUnknownMethod.
func (e *Entity) Invoke(ctx context.Context, name string, args ...any) ([]any, error) {
	m := reflect.ValueOf(e.rec).MethodByName(name)
	if !m.IsValid() {
		p, err := e.Parent(ctx)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, name)
		}
		return p.Invoke(ctx, name, args...)
	}
	return call(ctx, m, name, args)
}

func call(ctx context.Context, m reflect.Value, name string, args []any) ([]any, error) {
	mt := m.Type()
	in := make([]reflect.Value, 0, len(args)+1)
	if mt.NumIn() > 0 && mt.In(0) == ctxType {
		in = append(in, reflect.ValueOf(ctx))
	}
	want := mt.NumIn() - len(in)
	switch {
	case mt.IsVariadic() && len(args) < want-1:
		return nil, fmt.Errorf("espalier: method %q wants at least %d args, got %d", name, want-1, len(args))
	case !mt.IsVariadic() && len(args) != want:
		return nil, fmt.Errorf("espalier: method %q wants %d args, got %d", name, want, len(args))
	}
	for i, arg := range args {
		var pt reflect.Type
		if pos := len(in); mt.IsVariadic() && pos >= mt.NumIn()-1 {
			pt = mt.In(mt.NumIn() - 1).Elem()
		} else {
			pt = mt.In(pos)
		}
		av, err := fieldmap.Coerce(arg, pt)
		if err != nil {
			return nil, fmt.Errorf("espalier: method %q arg %d: %w", name, i, err)
		}
		in = append(in, av)
	}
	out := m.Call(in)
	results := make([]any, 0, len(out))
	var callErr error
	for i, o := range out {
		if i == len(out)-1 && mt.Out(i) == errType {
			if !o.IsNil() {
				callErr = o.Interface().(error)
			}
			continue
		}
		results = append(results, o.Interface())
	}
	return results, callErr
}
