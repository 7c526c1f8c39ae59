package drivers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/creastat/sessionstore"
	"github.com/creastat/sessionstore/query"
)

// InMemoryExecutor implements sessionstore.Executor over in-process maps.
type InMemoryExecutor struct {
	mu    sync.RWMutex
	state *memState
	now   func() time.Time
}

// memState is the full schema and document set. Do evaluates against a
// clone and swaps it in only when every step succeeds.
type memState struct {
	collections map[string]map[string]query.Document // collection -> sid -> document
	indexes     map[string]query.IndexSpec
}

// NewInMemoryExecutor creates an empty in-memory executor.
func NewInMemoryExecutor() *InMemoryExecutor {
	return &InMemoryExecutor{
		state: newMemState(),
		now:   time.Now,
	}
}

func newMemState() *memState {
	return &memState{
		collections: make(map[string]map[string]query.Document),
		indexes:     make(map[string]query.IndexSpec),
	}
}

// Query implements sessionstore.Executor.
func (e *InMemoryExecutor) Query(ctx context.Context, expr query.Expr) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, sessionstore.NewQueryError(sessionstore.CodeUnavailable, err.Error())
	}

	switch expr.(type) {
	case query.ExistsExpr, query.GetExpr:
		e.mu.RLock()
		defer e.mu.RUnlock()
		if e.state == nil {
			return nil, sessionstore.ErrClosed
		}
		return e.eval(e.state, expr)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, sessionstore.ErrClosed
	}
	if do, ok := expr.(query.DoExpr); ok {
		staged := e.state.clone()
		var res any
		for _, step := range do.Steps {
			var err error
			if res, err = e.eval(staged, step); err != nil {
				return nil, err
			}
		}
		e.state = staged
		return res, nil
	}
	return e.eval(e.state, expr)
}

// Len returns the number of documents in collection.
func (e *InMemoryExecutor) Len(collection string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state == nil {
		return 0
	}
	return len(e.state.collections[collection])
}

// Close implements sessionstore.Executor.
func (e *InMemoryExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state = nil
	return nil
}

func (e *InMemoryExecutor) eval(st *memState, expr query.Expr) (any, error) {
	switch x := expr.(type) {
	case query.ExistsExpr:
		switch ref := x.Ref.(type) {
		case query.CollectionRef:
			_, ok := st.collections[ref.Name]
			return ok, nil
		case query.IndexRef:
			spec, ok := st.indexes[ref.Name]
			return ok && spec.Source == ref.Source, nil
		}
		return nil, invalidExpression(x.Ref)

	case query.CreateCollectionExpr:
		if _, ok := st.collections[x.Name]; ok {
			return nil, alreadyExists("collection", x.Name)
		}
		st.collections[x.Name] = make(map[string]query.Document)
		return query.Collection(x.Name), nil

	case query.CreateIndexExpr:
		if _, ok := st.indexes[x.Spec.Name]; ok {
			return nil, alreadyExists("index", x.Spec.Name)
		}
		if _, ok := st.collections[x.Spec.Source]; !ok {
			return nil, undefinedRef("collection", x.Spec.Source)
		}
		if x.Spec.TermField() != query.FieldSID {
			return nil, unsupportedTerm(x.Spec)
		}
		st.indexes[x.Spec.Name] = x.Spec
		return query.Index(x.Spec.Name, x.Spec.Source), nil

	case query.GetExpr:
		docs, err := st.resolve(x.Set.Index)
		if err != nil {
			return nil, err
		}
		doc, ok := docs[x.Set.Term]
		if !ok {
			return nil, notFound(x.Set)
		}
		doc.Data = query.CloneData(doc.Data)
		return doc, nil

	case query.UpsertExpr:
		docs, err := st.resolve(x.Set.Index)
		if err != nil {
			return nil, err
		}
		doc := query.Document{
			ID:        query.DocumentID(x.Set.Index.Source, x.Set.Term),
			SID:       x.Set.Term,
			Data:      query.CloneData(x.Data),
			UpdatedAt: e.now().UTC(),
		}
		docs[x.Set.Term] = doc
		doc.Data = query.CloneData(doc.Data)
		return doc, nil

	case query.DeleteExpr:
		docs, err := st.resolve(x.Set.Index)
		if err != nil {
			return nil, err
		}
		delete(docs, x.Set.Term)
		return nil, nil

	case query.DoExpr:
		var res any
		for _, step := range x.Steps {
			var err error
			if res, err = e.eval(st, step); err != nil {
				return nil, err
			}
		}
		return res, nil
	}
	return nil, fmt.Errorf("%w: %T", sessionstore.ErrUnimplemented, expr)
}

// resolve returns the documents of the collection covered by ref.
func (st *memState) resolve(ref query.IndexRef) (map[string]query.Document, error) {
	spec, ok := st.indexes[ref.Name]
	if !ok || spec.Source != ref.Source {
		return nil, undefinedRef("index", ref.Name)
	}
	docs, ok := st.collections[spec.Source]
	if !ok {
		return nil, undefinedRef("collection", spec.Source)
	}
	return docs, nil
}

func (st *memState) clone() *memState {
	out := newMemState()
	for name, docs := range st.collections {
		copied := make(map[string]query.Document, len(docs))
		for sid, doc := range docs {
			copied[sid] = doc
		}
		out.collections[name] = copied
	}
	for name, spec := range st.indexes {
		out.indexes[name] = spec
	}
	return out
}

// Compile-time check that InMemoryExecutor implements Executor.
var _ sessionstore.Executor = (*InMemoryExecutor)(nil)
