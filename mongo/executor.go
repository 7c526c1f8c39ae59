// Package mongo implements the session store executor on MongoDB.
// Collections map to Mongo collections and indexes to named unique
// ascending indexes on the sid field.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/creastat/sessionstore"
	"github.com/creastat/sessionstore/query"
)

// Mongo server error codes treated as "already exists".
const (
	codeNamespaceExists       = 48
	codeIndexOptionsConflict  = 85
	codeIndexKeySpecsConflict = 86
	codeDuplicateKey          = 11000
	codeNamespaceNotFound     = 26
)

// Executor implements sessionstore.Executor on a Mongo database.
type Executor struct {
	db  database
	now func() time.Time

	mu     sync.RWMutex
	fields map[query.IndexRef]string // resolved index term fields
}

// New returns an Executor over db.
func New(db *mongodriver.Database) *Executor {
	return newExecutor(mongoDatabase{db: db})
}

func newExecutor(db database) *Executor {
	return &Executor{
		db:     db,
		now:    time.Now,
		fields: make(map[query.IndexRef]string),
	}
}

// Query implements sessionstore.Executor.
func (e *Executor) Query(ctx context.Context, expr query.Expr) (any, error) {
	switch x := expr.(type) {
	case query.ExistsExpr:
		return e.exists(ctx, x)
	case query.CreateCollectionExpr, query.CreateIndexExpr:
		return e.createSchema(ctx, []query.Expr{x})
	case query.DoExpr:
		return e.createSchema(ctx, x.Steps)
	case query.GetExpr:
		return e.get(ctx, x.Set)
	case query.UpsertExpr:
		return e.upsert(ctx, x)
	case query.DeleteExpr:
		return e.delete(ctx, x.Set)
	}
	return nil, fmt.Errorf("%w: %T", sessionstore.ErrUnimplemented, expr)
}

// Close implements sessionstore.Executor. The Mongo client is owned by the
// caller and stays connected.
func (e *Executor) Close() error {
	return nil
}

func (e *Executor) exists(ctx context.Context, x query.ExistsExpr) (bool, error) {
	switch ref := x.Ref.(type) {
	case query.CollectionRef:
		return e.collectionExists(ctx, ref.Name)
	case query.IndexRef:
		_, ok, err := e.indexField(ctx, ref)
		return ok, err
	}
	return false, sessionstore.NewQueryError(sessionstore.CodeInvalidExpression,
		fmt.Sprintf("unsupported expression %T.", x.Ref))
}

func (e *Executor) collectionExists(ctx context.Context, name string) (bool, error) {
	names, err := e.db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return false, mongoError(err)
	}
	return len(names) > 0, nil
}

// createSchema runs collection and index creations in order. Mongo cannot
// run DDL in a transaction, so collections created here are dropped again
// when a later step fails. An index step rejected as already existing never
// triggers the drop: another initializer may own that index. When the
// existing index covers the same field on a collection created by this call,
// the step counts as done.
func (e *Executor) createSchema(ctx context.Context, steps []query.Expr) (any, error) {
	for _, step := range steps {
		switch step.(type) {
		case query.CreateCollectionExpr, query.CreateIndexExpr:
		default:
			return nil, fmt.Errorf("%w: %T inside Do", sessionstore.ErrUnimplemented, step)
		}
	}

	var (
		created []string
		result  any
	)
	rollback := func() {
		for _, name := range created {
			_ = e.db.Collection(name).Drop(context.WithoutCancel(ctx))
			e.forgetCollection(name)
		}
	}

	for _, step := range steps {
		switch s := step.(type) {
		case query.CreateCollectionExpr:
			if err := e.db.CreateCollection(ctx, s.Name); err != nil {
				rollback()
				return nil, mongoError(err)
			}
			created = append(created, s.Name)
			result = query.Collection(s.Name)

		case query.CreateIndexExpr:
			if err := e.createIndex(ctx, s.Spec, created); err != nil {
				if !errors.Is(err, sessionstore.ErrAlreadyExists) {
					rollback()
					return nil, err
				}
				if !slices.Contains(created, s.Spec.Source) || !e.indexCovers(ctx, s.Spec) {
					return nil, err
				}
			}
			result = query.Index(s.Spec.Name, s.Spec.Source)
		}
	}
	return result, nil
}

func (e *Executor) createIndex(ctx context.Context, spec query.IndexSpec, created []string) error {
	if spec.TermField() != query.FieldSID {
		return sessionstore.NewQueryError(sessionstore.CodeInvalidExpression,
			fmt.Sprintf("index %q must be built on the %q field.", spec.Name, query.FieldSID))
	}
	if !slices.Contains(created, spec.Source) {
		ok, err := e.collectionExists(ctx, spec.Source)
		if err != nil {
			return err
		}
		if !ok {
			return sessionstore.NewQueryError(sessionstore.CodeInvalidRef,
				fmt.Sprintf("Ref refers to undefined collection %q.", spec.Source))
		}
	}
	ref := query.Index(spec.Name, spec.Source)
	if _, ok, err := e.indexField(ctx, ref); err != nil {
		return err
	} else if ok {
		return sessionstore.NewQueryError(sessionstore.CodeAlreadyExists,
			fmt.Sprintf("index %q already exists.", spec.Name))
	}

	model := mongodriver.IndexModel{
		Keys:    bson.D{{Key: spec.TermField(), Value: 1}},
		Options: options.Index().SetName(spec.Name).SetUnique(true),
	}
	if _, err := e.db.Collection(spec.Source).Indexes().CreateOne(ctx, model); err != nil {
		return mongoError(err)
	}
	e.mu.Lock()
	e.fields[ref] = spec.TermField()
	e.mu.Unlock()
	return nil
}

// indexCovers reports whether the index named by spec exists on its source
// and is built on the same field.
func (e *Executor) indexCovers(ctx context.Context, spec query.IndexSpec) bool {
	field, ok, err := e.indexField(ctx, query.Index(spec.Name, spec.Source))
	return err == nil && ok && field == spec.TermField()
}

// forgetCollection drops cached index fields of a removed collection.
func (e *Executor) forgetCollection(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for ref := range e.fields {
		if ref.Source == name {
			delete(e.fields, ref)
		}
	}
}

func (e *Executor) get(ctx context.Context, set query.MatchExpr) (any, error) {
	field, err := e.requireIndex(ctx, set.Index)
	if err != nil {
		return nil, err
	}
	var doc document
	err = e.db.Collection(set.Index.Source).FindOne(ctx, bson.M{field: set.Term}).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return nil, sessionstore.NewQueryError(sessionstore.CodeNotFound,
			fmt.Sprintf("Set %s(%q) is empty.", set.Index.Name, set.Term))
	}
	if err != nil {
		return nil, mongoError(err)
	}
	return doc.toDocument(), nil
}

// upsert replaces the payload of the sid's document, creating it when
// absent. Concurrent writers are not serialised: the last write wins.
func (e *Executor) upsert(ctx context.Context, x query.UpsertExpr) (any, error) {
	field, err := e.requireIndex(ctx, x.Set.Index)
	if err != nil {
		return nil, err
	}
	now := e.now().UTC()
	id := query.DocumentID(x.Set.Index.Source, x.Set.Term)
	data := x.Data
	if data == nil {
		data = map[string]any{}
	}
	filter := bson.M{field: x.Set.Term}
	update := bson.M{
		"$set": bson.M{
			"data":       data,
			"updated_at": now,
		},
		"$setOnInsert": bson.M{
			"_id": id,
			"sid": x.Set.Term,
		},
	}
	if _, err := e.db.Collection(x.Set.Index.Source).UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return nil, mongoError(err)
	}
	return query.Document{ID: id, SID: x.Set.Term, Data: x.Data, UpdatedAt: now}, nil
}

func (e *Executor) delete(ctx context.Context, set query.MatchExpr) (any, error) {
	field, err := e.requireIndex(ctx, set.Index)
	if err != nil {
		return nil, err
	}
	if _, err := e.db.Collection(set.Index.Source).DeleteMany(ctx, bson.M{field: set.Term}); err != nil {
		return nil, mongoError(err)
	}
	return nil, nil
}

func (e *Executor) requireIndex(ctx context.Context, ref query.IndexRef) (string, error) {
	field, ok, err := e.indexField(ctx, ref)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", sessionstore.NewQueryError(sessionstore.CodeInvalidRef,
			fmt.Sprintf("Ref refers to undefined index %q.", ref.Name))
	}
	return field, nil
}

// indexField returns the first key of the named index on ref.Source.
func (e *Executor) indexField(ctx context.Context, ref query.IndexRef) (string, bool, error) {
	e.mu.RLock()
	field, ok := e.fields[ref]
	e.mu.RUnlock()
	if ok {
		return field, true, nil
	}

	specs, err := e.db.Collection(ref.Source).Indexes().ListSpecifications(ctx)
	if err != nil {
		var se mongodriver.ServerError
		if errors.As(err, &se) && se.HasErrorCode(codeNamespaceNotFound) {
			return "", false, nil
		}
		return "", false, mongoError(err)
	}
	for _, spec := range specs {
		if spec.Name != ref.Name {
			continue
		}
		elems, err := spec.KeysDocument.Elements()
		if err != nil || len(elems) == 0 {
			return "", false, sessionstore.NewQueryError(sessionstore.CodeInvalidRef,
				fmt.Sprintf("index %q has no keys.", ref.Name))
		}
		field = elems[0].Key()
		e.mu.Lock()
		e.fields[ref] = field
		e.mu.Unlock()
		return field, true, nil
	}
	return "", false, nil
}

// mongoError converts a driver error into a query error.
func mongoError(err error) error {
	var qe *sessionstore.QueryError
	if errors.As(err, &qe) {
		return qe
	}
	var se mongodriver.ServerError
	if errors.As(err, &se) {
		if se.HasErrorCode(codeNamespaceExists) ||
			se.HasErrorCode(codeIndexOptionsConflict) ||
			se.HasErrorCode(codeIndexKeySpecsConflict) ||
			se.HasErrorCode(codeDuplicateKey) {
			return sessionstore.NewQueryError(sessionstore.CodeAlreadyExists, err.Error())
		}
	}
	return sessionstore.NewQueryError(sessionstore.CodeUnavailable, err.Error())
}

type document struct {
	ID        string         `bson:"_id"`
	SID       string         `bson:"sid"`
	Data      map[string]any `bson:"data"`
	UpdatedAt time.Time      `bson:"updated_at"`
}

func (doc document) toDocument() query.Document {
	return query.Document{
		ID:        doc.ID,
		SID:       doc.SID,
		Data:      doc.Data,
		UpdatedAt: doc.UpdatedAt.UTC(),
	}
}

// Compile-time check that Executor implements sessionstore.Executor.
var _ sessionstore.Executor = (*Executor)(nil)
