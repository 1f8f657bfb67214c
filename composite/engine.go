package composite

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jacentio/espalier/internal/fieldmap"
)

// Engine wires a Storage to a Registry of links and hands out Entity
// facades. One Engine serves any number of entities concurrently; each
// Entity itself is single-goroutine.
type Engine struct {
	storage  Storage
	config   Config
	registry *Registry
	validate *validator.Validate
}

// New creates an Engine with an empty registry. Links are added through
// Register afterwards.
func New(storage Storage, cfg Config) (*Engine, error) {
	return NewWithRegistry(storage, cfg, NewRegistry())
}

// NewWithRegistry creates an Engine around an existing registry, so one
// set of link declarations can back engines over different storages.
func NewWithRegistry(storage Storage, cfg Config, registry *Registry) (*Engine, error) {
	if storage == nil {
		return nil, errors.New("espalier: storage must not be nil")
	}
	if registry == nil {
		return nil, errors.New("espalier: registry must not be nil")
	}
	cfg.validate()
	eng := &Engine{
		storage:  storage,
		config:   cfg,
		registry: registry,
	}
	if !cfg.DisableTagRules {
		eng.validate = newTagValidator()
	}
	return eng, nil
}

// newTagValidator builds the validator used for `validate` struct tags.
// The tag-name function keys reported errors by db field name so they
// line up with the engine's attribute names.
func newTagValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(sf reflect.StructField) string {
		tag := sf.Tag.Get("db")
		if tag == "" || tag == "-" {
			return ""
		}
		if i := strings.IndexByte(tag, ','); i >= 0 {
			tag = tag[:i]
		}
		return tag
	})
	return v
}

// Register adds a link to the engine's registry.
func (eng *Engine) Register(link Link) error {
	return eng.registry.Register(link)
}

// Registry returns the engine's link registry.
func (eng *Engine) Registry() *Registry {
	return eng.registry
}

// Storage returns the storage the engine persists through.
func (eng *Engine) Storage() Storage {
	return eng.storage
}

// Entity wraps rec in a new, not-yet-persisted entity. The record type
// must declare db-tagged fields including exactly one key field.
func (eng *Engine) Entity(rec Record) (*Entity, error) {
	return eng.newEntity(rec, 0)
}

// Load reads the row with the given key into rec and wraps it in a stored
// entity. A missing row is ErrNotFound.
func (eng *Engine) Load(ctx context.Context, rec Record, key any) (*Entity, error) {
	e, err := eng.newEntity(rec, 0)
	if err != nil {
		return nil, err
	}
	found, err := eng.storage.Load(ctx, rec, key)
	if err != nil {
		return nil, fmt.Errorf("espalier: load %s: %w", rec.TableName(), err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s key %v", ErrNotFound, rec.TableName(), key)
	}
	e.stored = true
	return e, nil
}

func (eng *Engine) newEntity(rec Record, depth int) (*Entity, error) {
	if rec == nil {
		return nil, errors.New("espalier: record must not be nil")
	}
	fm, err := fieldmap.For(rec)
	if err != nil {
		return nil, err
	}
	if _, ok := fm.Key(); !ok {
		return nil, fmt.Errorf("espalier: %s declares no key field", rec.TableName())
	}
	e := &Entity{
		engine: eng,
		rec:    rec,
		fm:     fm,
		depth:  depth,
	}
	if link, ok := eng.registry.LinkFor(rec.TableName()); ok {
		e.link = &link
	}
	return e, nil
}
