package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"

	"github.com/creastat/sessionstore"
	"github.com/creastat/sessionstore/query"
)

const (
	rpcCreateSchema = "sessionstore_create_schema"
	rpcIndexExists  = "sessionstore_index_exists"

	rowColumns = "id,sid,data,updated_at"
)

// Postgres and PostgREST error codes.
const (
	codeUndefinedTable   = "42P01"
	codeSchemaCacheTable = "PGRST205"
	codeDuplicateTable   = "42P07"
	codeDuplicateObject  = "42710"
	codeUniqueViolation  = "23505"
	codeInvalidParameter = "22023"
)

// postgrest-go formats failed responses as "(code) message".
var errorPattern = regexp.MustCompile(`^\(([^)]*)\) (.*)$`)

// api is the subset of *supabase.Client used by the executor.
type api interface {
	From(table string) *postgrest.QueryBuilder
	Rpc(name, count string, rpcBody any) string
}

// Executor implements sessionstore.Executor on Supabase.
//
// PostgREST calls take no context, so cancellation is checked before each
// request only.
type Executor struct {
	client  api
	now     func() time.Time
	indexes *indexCache
}

// NewExecutor returns an Executor over client. A zero cacheTTL keeps
// resolved indexes for five minutes.
func NewExecutor(client *supabase.Client, cacheTTL time.Duration) *Executor {
	return newExecutor(client, cacheTTL)
}

func newExecutor(client api, cacheTTL time.Duration) *Executor {
	return &Executor{
		client:  client,
		now:     time.Now,
		indexes: newIndexCache(cacheTTL, time.Now),
	}
}

// Query implements sessionstore.Executor.
func (e *Executor) Query(ctx context.Context, expr query.Expr) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, sessionstore.NewQueryError(sessionstore.CodeUnavailable, err.Error())
	}
	switch x := expr.(type) {
	case query.ExistsExpr:
		return e.exists(x)
	case query.CreateCollectionExpr, query.CreateIndexExpr:
		return e.createSchema([]query.Expr{x})
	case query.DoExpr:
		return e.createSchema(x.Steps)
	case query.GetExpr:
		return e.get(x.Set)
	case query.UpsertExpr:
		return e.upsert(x)
	case query.DeleteExpr:
		return e.delete(x.Set)
	}
	return nil, fmt.Errorf("%w: %T", sessionstore.ErrUnimplemented, expr)
}

// Close implements sessionstore.Executor. The Supabase client holds no
// connections of its own.
func (e *Executor) Close() error {
	return nil
}

func (e *Executor) exists(x query.ExistsExpr) (bool, error) {
	switch ref := x.Ref.(type) {
	case query.CollectionRef:
		_, _, err := e.client.From(ref.Name).Select("sid", "", false).Limit(1, "").Execute()
		if err == nil {
			return true, nil
		}
		code, _ := splitError(err)
		if code == codeUndefinedTable || code == codeSchemaCacheTable {
			return false, nil
		}
		return false, postgrestError(err)
	case query.IndexRef:
		return e.indexExists(ref)
	}
	return false, sessionstore.NewQueryError(sessionstore.CodeInvalidExpression,
		fmt.Sprintf("unsupported expression %T.", x.Ref))
}

// createSchema maps a Do onto one call of the schema function, which runs
// in a single Postgres transaction. Supported shapes are a collection, an
// index, or a collection followed by an index on it.
func (e *Executor) createSchema(steps []query.Expr) (any, error) {
	var (
		collection query.CreateCollectionExpr
		index      query.CreateIndexExpr
		hasColl    bool
		hasIndex   bool
	)
	for i, step := range steps {
		switch s := step.(type) {
		case query.CreateCollectionExpr:
			if i != 0 {
				return nil, fmt.Errorf("%w: collection after index inside Do", sessionstore.ErrUnimplemented)
			}
			collection, hasColl = s, true
		case query.CreateIndexExpr:
			if hasIndex {
				return nil, fmt.Errorf("%w: several indexes inside Do", sessionstore.ErrUnimplemented)
			}
			index, hasIndex = s, true
		default:
			return nil, fmt.Errorf("%w: %T inside Do", sessionstore.ErrUnimplemented, step)
		}
	}
	if !hasColl && !hasIndex {
		return nil, sessionstore.NewQueryError(sessionstore.CodeInvalidExpression, "empty Do.")
	}
	if hasColl && hasIndex && index.Spec.Source != collection.Name {
		return nil, fmt.Errorf("%w: index on another collection inside Do", sessionstore.ErrUnimplemented)
	}
	if hasIndex && index.Spec.TermField() != query.FieldSID {
		return nil, sessionstore.NewQueryError(sessionstore.CodeInvalidExpression,
			fmt.Sprintf("index %q must be built on the %q field.", index.Spec.Name, query.FieldSID))
	}

	args := map[string]any{
		"collection_name":   collection.Name,
		"index_name":        "",
		"field":             query.FieldSID,
		"create_collection": hasColl,
	}
	if hasIndex {
		args["collection_name"] = index.Spec.Source
		args["index_name"] = index.Spec.Name
	}
	if _, err := e.rpcBool(rpcCreateSchema, args); err != nil {
		return nil, err
	}

	if hasIndex {
		ref := query.Index(index.Spec.Name, index.Spec.Source)
		e.indexes.add(ref)
		return ref, nil
	}
	return query.Collection(collection.Name), nil
}

func (e *Executor) indexExists(ref query.IndexRef) (bool, error) {
	if e.indexes.known(ref) {
		return true, nil
	}
	ok, err := e.rpcBool(rpcIndexExists, map[string]any{
		"collection_name": ref.Source,
		"index_name":      ref.Name,
	})
	if err != nil {
		return false, err
	}
	if ok {
		e.indexes.add(ref)
	}
	return ok, nil
}

func (e *Executor) requireIndex(ref query.IndexRef) error {
	ok, err := e.indexExists(ref)
	if err != nil {
		return err
	}
	if !ok {
		return sessionstore.NewQueryError(sessionstore.CodeInvalidRef,
			fmt.Sprintf("Ref refers to undefined index %q.", ref.Name))
	}
	return nil
}

func (e *Executor) get(set query.MatchExpr) (any, error) {
	if err := e.requireIndex(set.Index); err != nil {
		return nil, err
	}
	var rows []row
	_, err := e.client.From(set.Index.Source).
		Select(rowColumns, "", false).
		Eq(query.FieldSID, set.Term).
		Limit(1, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, e.recordError(set.Index, err)
	}
	if len(rows) == 0 {
		return nil, sessionstore.NewQueryError(sessionstore.CodeNotFound,
			fmt.Sprintf("Set %s(%q) is empty.", set.Index.Name, set.Term))
	}
	return rows[0].toDocument(), nil
}

// upsert merges on the unique sid index; the last write wins.
func (e *Executor) upsert(x query.UpsertExpr) (any, error) {
	if err := e.requireIndex(x.Set.Index); err != nil {
		return nil, err
	}
	r := row{
		ID:        query.DocumentID(x.Set.Index.Source, x.Set.Term),
		SID:       x.Set.Term,
		Data:      x.Data,
		UpdatedAt: e.now().UTC(),
	}
	if r.Data == nil {
		r.Data = map[string]any{}
	}
	_, _, err := e.client.From(x.Set.Index.Source).
		Upsert(r, query.FieldSID, "minimal", "").
		Execute()
	if err != nil {
		return nil, e.recordError(x.Set.Index, err)
	}
	doc := r.toDocument()
	doc.Data = x.Data
	return doc, nil
}

func (e *Executor) delete(set query.MatchExpr) (any, error) {
	if err := e.requireIndex(set.Index); err != nil {
		return nil, err
	}
	_, _, err := e.client.From(set.Index.Source).
		Delete("minimal", "").
		Eq(query.FieldSID, set.Term).
		Execute()
	if err != nil {
		return nil, e.recordError(set.Index, err)
	}
	return nil, nil
}

// recordError drops a cached index whose table has gone away.
func (e *Executor) recordError(ref query.IndexRef, err error) error {
	code, _ := splitError(err)
	if code == codeUndefinedTable || code == codeSchemaCacheTable {
		e.indexes.forget(ref)
	}
	return postgrestError(err)
}

// rpcBool calls a function returning boolean. Failed calls come back as a
// PostgREST error object in the body.
func (e *Executor) rpcBool(name string, args map[string]any) (bool, error) {
	body := strings.TrimSpace(e.client.Rpc(name, "", args))
	if body == "" {
		return false, sessionstore.NewQueryError(sessionstore.CodeUnavailable,
			fmt.Sprintf("rpc %s: empty response", name))
	}
	var ok bool
	if err := json.Unmarshal([]byte(body), &ok); err == nil {
		return ok, nil
	}
	var execErr postgrest.ExecuteError
	if err := json.Unmarshal([]byte(body), &execErr); err != nil || execErr.Code == "" {
		return false, sessionstore.NewQueryError(sessionstore.CodeUnavailable,
			fmt.Sprintf("rpc %s: unexpected response %q", name, body))
	}
	return false, codeError(execErr.Code, execErr.Message)
}

func splitError(err error) (code, message string) {
	m := errorPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return "", err.Error()
	}
	return m[1], m[2]
}

// postgrestError converts a PostgREST client error into a query error.
func postgrestError(err error) error {
	var qe *sessionstore.QueryError
	if errors.As(err, &qe) {
		return qe
	}
	return codeError(splitError(err))
}

func codeError(code, message string) error {
	switch code {
	case codeDuplicateTable, codeDuplicateObject, codeUniqueViolation:
		return sessionstore.NewQueryError(sessionstore.CodeAlreadyExists, message)
	case codeUndefinedTable, codeSchemaCacheTable:
		return sessionstore.NewQueryError(sessionstore.CodeInvalidRef, message)
	case codeInvalidParameter:
		return sessionstore.NewQueryError(sessionstore.CodeInvalidExpression, message)
	}
	if code != "" {
		message = fmt.Sprintf("%s (%s)", message, code)
	}
	return sessionstore.NewQueryError(sessionstore.CodeUnavailable, message)
}

type row struct {
	ID        string         `json:"id"`
	SID       string         `json:"sid"`
	Data      map[string]any `json:"data"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (r row) toDocument() query.Document {
	return query.Document{
		ID:        r.ID,
		SID:       r.SID,
		Data:      r.Data,
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

// Compile-time check that Executor implements sessionstore.Executor.
var _ sessionstore.Executor = (*Executor)(nil)
