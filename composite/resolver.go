package composite

import (
	"context"
	"fmt"
)

// Parent resolves the entity's parent lazily and caches it. Root entities
// (no registered link for their table) return nil, nil. For a stored
// child the parent row is loaded by the child's linking-field value; a
// missing row is ErrParentNotFound. For a new child the parent starts as
// a fresh, unpersisted record.
//
// The cache is per Entity instance and never shared. Invalidate drops it.
func (e *Entity) Parent(ctx context.Context) (*Entity, error) {
	if e.parent != nil {
		return e.parent, nil
	}
	if e.link == nil {
		return nil, nil
	}
	if e.depth+1 > e.engine.config.MaxChainDepth {
		return nil, fmt.Errorf("%w: %d links above %s", ErrChainTooDeep, e.depth+1, e.rec.TableName())
	}
	parentRec := e.link.Parent()
	p, err := e.engine.newEntity(parentRec, e.depth+1)
	if err != nil {
		return nil, err
	}
	if e.stored {
		key, ok := e.fm.Value(e.rec, e.link.ChildField)
		if !ok {
			return nil, fmt.Errorf("espalier: %s has no field %q", e.rec.TableName(), e.link.ChildField)
		}
		found, err := e.engine.storage.Load(ctx, parentRec, key)
		if err != nil {
			return nil, fmt.Errorf("espalier: load parent %s: %w", parentRec.TableName(), err)
		}
		if !found {
			return nil, fmt.Errorf("%w: %s key %v for child %s", ErrParentNotFound, parentRec.TableName(), key, e.rec.TableName())
		}
		p.stored = true
	}
	e.parent = p
	return p, nil
}

// Invalidate drops the cached parent, and with it everything resolved
// above it. The next Parent call re-derives the chain from the record's
// current linking-field value and persisted state.
func (e *Entity) Invalidate() {
	e.parent = nil
}

// resolveChain resolves every parent up to the root and returns the chain
// starting at e. Cascades call it so all reads happen before a
// transaction opens.
func (e *Entity) resolveChain(ctx context.Context) ([]*Entity, error) {
	chain := []*Entity{e}
	for cur := e; ; {
		p, err := cur.Parent(ctx)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return chain, nil
		}
		chain = append(chain, p)
		cur = p
	}
}
