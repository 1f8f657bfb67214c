package composite

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate clears the entity's own errors, then runs two independent
// passes: the parent chain validates first on its own field set, and the
// child always validates afterwards, even when parent resolution or
// validation failed, so the error map is as complete as one pass can
// make it. The result is the AND of both sides.
//
// The child's default field set is its own declared names minus the
// linking field, which the save cascade supplies rather than user input.
// Explicit fields narrow the child's set only, filtered to its declared
// names; the parent always validates its full own field set regardless
// of what was requested for the child.
//
// A false result is not an error; faults (parent resolution, misuse of
// the rule engine) are.
func (e *Entity) Validate(ctx context.Context, fields ...string) (bool, error) {
	e.ClearErrors()
	parentOK := true
	var chainErr error
	p, err := e.Parent(ctx)
	switch {
	case err != nil:
		parentOK = false
		chainErr = err
	case p != nil:
		parentOK, err = p.Validate(ctx)
		if err != nil {
			parentOK = false
			chainErr = err
		}
	}
	ownOK, err := e.validateOwn(ctx, fields)
	if err != nil {
		return false, err
	}
	if chainErr != nil {
		return false, chainErr
	}
	return parentOK && ownOK, nil
}

// validationFields resolves the entity's own field set: the explicit
// list filtered to own declared names, or the default own-minus-linking
// set.
func (e *Entity) validationFields(explicit []string) []string {
	if len(explicit) > 0 {
		names := make([]string, 0, len(explicit))
		for _, name := range explicit {
			if e.fm.Has(name) {
				names = append(names, name)
			}
		}
		return names
	}
	all := e.fm.Names()
	names := make([]string, 0, len(all))
	for _, name := range all {
		if e.linkedField(name) {
			continue
		}
		names = append(names, name)
	}
	return names
}

func (e *Entity) validateOwn(ctx context.Context, fields []string) (bool, error) {
	names := e.validationFields(fields)
	if len(names) == 0 {
		return true, nil
	}
	if fv, ok := e.rec.(FieldValidator); ok {
		for name, msgs := range fv.ValidateFields(ctx, names) {
			for _, msg := range msgs {
				e.AddError(name, msg)
			}
		}
		return len(e.errs) == 0, nil
	}
	if e.engine.validate == nil {
		return true, nil
	}
	return e.validateTags(ctx, names)
}

func (e *Entity) validateTags(ctx context.Context, names []string) (bool, error) {
	goNames := make([]string, 0, len(names))
	for _, name := range names {
		f, ok := e.fm.Lookup(name)
		if !ok || f.Rule == "" {
			continue
		}
		goNames = append(goNames, f.GoName)
	}
	if len(goNames) == 0 {
		return true, nil
	}
	err := e.engine.validate.StructPartialCtx(ctx, e.rec, goNames...)
	if err == nil {
		return true, nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return false, fmt.Errorf("espalier: validate %s: %w", e.rec.TableName(), err)
	}
	for _, fe := range verrs {
		e.AddError(fe.Field(), ruleMessage(fe))
	}
	return false, nil
}

// ruleMessage renders one tag violation as a plain message. Errors key by
// db field name already, so the message omits it.
func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "len":
		return "must have length " + fe.Param()
	case "email":
		return "must be a valid email address"
	case "oneof":
		return "must be one of " + fe.Param()
	case "gte":
		return "must be " + fe.Param() + " or more"
	case "lte":
		return "must be " + fe.Param() + " or less"
	default:
		if fe.Param() != "" {
			return "failed rule " + fe.Tag() + "=" + fe.Param()
		}
		return "failed rule " + fe.Tag()
	}
}

// Errors returns the merged error map for the chain, the entity's own
// entries replacing the parent's per field name. The map is a copy.
func (e *Entity) Errors() map[string][]string {
	out := make(map[string][]string)
	if e.parent != nil {
		for name, msgs := range e.parent.Errors() {
			out[name] = append([]string(nil), msgs...)
		}
	}
	for name, msgs := range e.errs {
		out[name] = append([]string(nil), msgs...)
	}
	return out
}

// ErrorsFor returns the messages recorded for one field, own entries
// first, falling back to the parent chain.
func (e *Entity) ErrorsFor(name string) []string {
	if msgs, ok := e.errs[name]; ok {
		return append([]string(nil), msgs...)
	}
	if e.parent != nil {
		return e.parent.ErrorsFor(name)
	}
	return nil
}

// HasErrors reports whether any level of the chain recorded errors.
func (e *Entity) HasErrors() bool {
	if len(e.errs) > 0 {
		return true
	}
	return e.parent != nil && e.parent.HasErrors()
}

// HasErrorsFor reports whether the named field has recorded errors on any
// level of the chain.
func (e *Entity) HasErrorsFor(name string) bool {
	return len(e.ErrorsFor(name)) > 0
}

// FirstErrors returns one message per failed field from the merged map.
func (e *Entity) FirstErrors() map[string]string {
	merged := e.Errors()
	out := make(map[string]string, len(merged))
	for name, msgs := range merged {
		if len(msgs) > 0 {
			out[name] = msgs[0]
		}
	}
	return out
}

// FirstError returns the first message recorded for the named field, or
// "" when the field has none.
func (e *Entity) FirstError(name string) string {
	msgs := e.ErrorsFor(name)
	if len(msgs) == 0 {
		return ""
	}
	return msgs[0]
}

// AddError records a message against the named field on this entity.
func (e *Entity) AddError(name, msg string) {
	if e.errs == nil {
		e.errs = make(map[string][]string)
	}
	e.errs[name] = append(e.errs[name], msg)
}

// ClearErrors drops the entity's own errors. Parent errors clear through
// the parent's own Validate or ClearErrors.
func (e *Entity) ClearErrors() {
	e.errs = nil
}
