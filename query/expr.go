// Package query defines the expressions a session store issues to an
// executor. Expressions are plain values; executors interpret them against
// their database and never see store-level types.
package query

import (
	"time"

	"github.com/google/uuid"
)

// FieldSID is the document field every session index is built on.
const FieldSID = "sid"

// Expr is implemented by every query expression.
type Expr interface {
	isExpr()
}

// CollectionRef names a collection.
type CollectionRef struct {
	Name string
}

// IndexRef names a secondary index and the collection it covers.
type IndexRef struct {
	Name   string
	Source string
}

// Term is one indexed document field.
type Term struct {
	Field string
}

// IndexSpec describes an index to create.
type IndexSpec struct {
	Name   string
	Source string
	Terms  []Term
}

// ExistsExpr reports whether the referenced collection or index exists.
type ExistsExpr struct {
	Ref Expr
}

// CreateCollectionExpr creates a collection.
type CreateCollectionExpr struct {
	Name string
}

// CreateIndexExpr creates an index.
type CreateIndexExpr struct {
	Spec IndexSpec
}

// DoExpr runs its steps as one atomic request. The result is the result of
// the last step.
type DoExpr struct {
	Steps []Expr
}

// MatchExpr is the set of documents in Index.Source whose indexed field
// equals Term.
type MatchExpr struct {
	Index IndexRef
	Term  string
}

// GetExpr returns the single document in Set.
type GetExpr struct {
	Set MatchExpr
}

// UpsertExpr creates the document for Set.Term or replaces its data.
type UpsertExpr struct {
	Set  MatchExpr
	Data map[string]any
}

// DeleteExpr removes every document in Set. An empty set is not an error.
type DeleteExpr struct {
	Set MatchExpr
}

func (CollectionRef) isExpr()        {}
func (IndexRef) isExpr()             {}
func (ExistsExpr) isExpr()           {}
func (CreateCollectionExpr) isExpr() {}
func (CreateIndexExpr) isExpr()      {}
func (DoExpr) isExpr()               {}
func (MatchExpr) isExpr()            {}
func (GetExpr) isExpr()              {}
func (UpsertExpr) isExpr()           {}
func (DeleteExpr) isExpr()           {}

// Document is the stored form of a session record.
type Document struct {
	ID        string         `json:"id"`
	SID       string         `json:"sid"`
	Data      map[string]any `json:"data"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Collection references a collection by name.
func Collection(name string) CollectionRef {
	return CollectionRef{Name: name}
}

// Index references the index name defined over source.
func Index(name, source string) IndexRef {
	return IndexRef{Name: name, Source: source}
}

// Exists builds an existence check for a collection or index ref.
func Exists(ref Expr) ExistsExpr {
	return ExistsExpr{Ref: ref}
}

// CreateCollection builds a collection creation.
func CreateCollection(name string) CreateCollectionExpr {
	return CreateCollectionExpr{Name: name}
}

// CreateIndex builds an index creation.
func CreateIndex(spec IndexSpec) CreateIndexExpr {
	return CreateIndexExpr{Spec: spec}
}

// Do groups steps into one atomic request.
func Do(steps ...Expr) DoExpr {
	return DoExpr{Steps: steps}
}

// Match selects the documents of index whose term equals value.
func Match(index IndexRef, value string) MatchExpr {
	return MatchExpr{Index: index, Term: value}
}

// Get fetches the single document matched by set.
func Get(set MatchExpr) GetExpr {
	return GetExpr{Set: set}
}

// Upsert writes data for the document matched by set.
func Upsert(set MatchExpr, data map[string]any) UpsertExpr {
	return UpsertExpr{Set: set, Data: data}
}

// Delete removes the documents matched by set.
func Delete(set MatchExpr) DeleteExpr {
	return DeleteExpr{Set: set}
}

// TermField returns the first term field of spec, or FieldSID when spec has
// no terms.
func (spec IndexSpec) TermField() string {
	if len(spec.Terms) == 0 || spec.Terms[0].Field == "" {
		return FieldSID
	}
	return spec.Terms[0].Field
}

// CloneData returns a deep copy of data. Nested maps and slices are copied;
// other values are shared.
func CloneData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	dst := make(map[string]any, len(data))
	for k, v := range data {
		dst[k] = cloneValue(v)
	}
	return dst
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return CloneData(x)
	case []any:
		if x == nil {
			return x
		}
		out := make([]any, len(x))
		for i, elem := range x {
			out[i] = cloneValue(elem)
		}
		return out
	}
	return v
}

// DocumentID returns the stable document identifier for sid within
// collection. Executors use it so repeated upserts address one document.
func DocumentID(collection, sid string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(collection+"/"+sid)).String()
}
