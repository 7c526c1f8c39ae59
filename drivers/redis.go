package drivers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/creastat/sessionstore"
	"github.com/creastat/sessionstore/query"
)

const (
	// Redis key prefix for all keys written by the executor
	defaultKeyPrefix = "sessionstore:"
)

// RedisExecutor implements sessionstore.Executor on Redis.
//
// Layout, relative to the key prefix:
//
//	collections             SET of collection names
//	index:<name>            HASH {source, field}
//	doc:<collection>:<sid>  JSON document
type RedisExecutor struct {
	client *redis.Client
	prefix string
	now    func() time.Time

	indexes sync.Map // index name -> query.IndexSpec
}

// NewRedisExecutor creates a Redis-backed executor. An empty prefix selects
// the default "sessionstore:".
func NewRedisExecutor(client *redis.Client, prefix string) *RedisExecutor {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisExecutor{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

// Query implements sessionstore.Executor.
func (e *RedisExecutor) Query(ctx context.Context, expr query.Expr) (any, error) {
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

// Close implements sessionstore.Executor.
func (e *RedisExecutor) Close() error {
	return e.client.Close()
}

func (e *RedisExecutor) exists(ctx context.Context, x query.ExistsExpr) (bool, error) {
	switch ref := x.Ref.(type) {
	case query.CollectionRef:
		ok, err := e.client.SIsMember(ctx, e.collectionsKey(), ref.Name).Result()
		if err != nil {
			return false, redisError(err)
		}
		return ok, nil
	case query.IndexRef:
		source, err := e.client.HGet(ctx, e.indexKey(ref.Name), "source").Result()
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		if err != nil {
			return false, redisError(err)
		}
		return source == ref.Source, nil
	}
	return false, invalidExpression(x.Ref)
}

// createSchema applies collection and index creations in one MULTI/EXEC.
// Every precondition is checked under WATCH first, so either all steps land
// or none do.
func (e *RedisExecutor) createSchema(ctx context.Context, steps []query.Expr) (any, error) {
	keys := []string{e.collectionsKey()}
	for _, step := range steps {
		switch s := step.(type) {
		case query.CreateCollectionExpr:
		case query.CreateIndexExpr:
			keys = append(keys, e.indexKey(s.Spec.Name))
		default:
			return nil, fmt.Errorf("%w: %T inside Do", sessionstore.ErrUnimplemented, step)
		}
	}

	var result any
	err := e.client.Watch(ctx, func(tx *redis.Tx) error {
		newCollections := make(map[string]bool)
		var specs []query.IndexSpec
		for _, step := range steps {
			switch s := step.(type) {
			case query.CreateCollectionExpr:
				ok, err := tx.SIsMember(ctx, e.collectionsKey(), s.Name).Result()
				if err != nil {
					return err
				}
				if ok || newCollections[s.Name] {
					return alreadyExists("collection", s.Name)
				}
				newCollections[s.Name] = true
				result = query.Collection(s.Name)

			case query.CreateIndexExpr:
				n, err := tx.Exists(ctx, e.indexKey(s.Spec.Name)).Result()
				if err != nil {
					return err
				}
				if n > 0 {
					return alreadyExists("index", s.Spec.Name)
				}
				if s.Spec.TermField() != query.FieldSID {
					return unsupportedTerm(s.Spec)
				}
				if !newCollections[s.Spec.Source] {
					ok, err := tx.SIsMember(ctx, e.collectionsKey(), s.Spec.Source).Result()
					if err != nil {
						return err
					}
					if !ok {
						return undefinedRef("collection", s.Spec.Source)
					}
				}
				specs = append(specs, s.Spec)
				result = query.Index(s.Spec.Name, s.Spec.Source)
			}
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for name := range newCollections {
				pipe.SAdd(ctx, e.collectionsKey(), name)
			}
			for _, spec := range specs {
				pipe.HSet(ctx, e.indexKey(spec.Name), "source", spec.Source, "field", spec.TermField())
			}
			return nil
		})
		return err
	}, keys...)

	if errors.Is(err, redis.TxFailedErr) {
		// A watched schema key changed under us: someone else created it.
		return nil, sessionstore.NewQueryError(sessionstore.CodeAlreadyExists, "schema modified concurrently")
	}
	if err != nil {
		return nil, redisError(err)
	}
	return result, nil
}

func (e *RedisExecutor) get(ctx context.Context, set query.MatchExpr) (any, error) {
	spec, err := e.resolve(ctx, set.Index)
	if err != nil {
		return nil, err
	}
	val, err := e.client.Get(ctx, e.docKey(spec.Source, set.Term)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(set)
	}
	if err != nil {
		return nil, redisError(err)
	}

	var doc query.Document
	if err := json.Unmarshal(val, &doc); err != nil {
		return nil, sessionstore.NewQueryError(sessionstore.CodeUnavailable, fmt.Sprintf("decode document: %v", err))
	}
	return doc, nil
}

// upsert overwrites the document with a plain SET; concurrent writers race
// and the last one wins.
func (e *RedisExecutor) upsert(ctx context.Context, x query.UpsertExpr) (any, error) {
	spec, err := e.resolve(ctx, x.Set.Index)
	if err != nil {
		return nil, err
	}
	doc := query.Document{
		ID:        query.DocumentID(spec.Source, x.Set.Term),
		SID:       x.Set.Term,
		Data:      x.Data,
		UpdatedAt: e.now().UTC(),
	}
	val, err := json.Marshal(doc)
	if err != nil {
		return nil, sessionstore.NewQueryError(sessionstore.CodeInvalidExpression, fmt.Sprintf("encode document: %v", err))
	}
	if err := e.client.Set(ctx, e.docKey(spec.Source, x.Set.Term), val, 0).Err(); err != nil {
		return nil, redisError(err)
	}
	return doc, nil
}

func (e *RedisExecutor) delete(ctx context.Context, set query.MatchExpr) (any, error) {
	spec, err := e.resolve(ctx, set.Index)
	if err != nil {
		return nil, err
	}
	if err := e.client.Del(ctx, e.docKey(spec.Source, set.Term)).Err(); err != nil {
		return nil, redisError(err)
	}
	return nil, nil
}

// resolve loads the index definition, caching it once found.
func (e *RedisExecutor) resolve(ctx context.Context, ref query.IndexRef) (query.IndexSpec, error) {
	if cached, ok := e.indexes.Load(ref.Name); ok {
		spec := cached.(query.IndexSpec)
		if spec.Source == ref.Source {
			return spec, nil
		}
	}
	fields, err := e.client.HGetAll(ctx, e.indexKey(ref.Name)).Result()
	if err != nil {
		return query.IndexSpec{}, redisError(err)
	}
	if len(fields) == 0 || fields["source"] != ref.Source {
		return query.IndexSpec{}, undefinedRef("index", ref.Name)
	}
	spec := query.IndexSpec{
		Name:   ref.Name,
		Source: fields["source"],
		Terms:  []query.Term{{Field: fields["field"]}},
	}
	e.indexes.Store(ref.Name, spec)
	return spec, nil
}

func (e *RedisExecutor) collectionsKey() string {
	return e.prefix + "collections"
}

func (e *RedisExecutor) indexKey(name string) string {
	return e.prefix + "index:" + name
}

func (e *RedisExecutor) docKey(collection, sid string) string {
	return e.prefix + "doc:" + collection + ":" + sid
}

// redisError keeps query errors produced inside a WATCH callback and wraps
// everything else as unavailable.
func redisError(err error) error {
	var qe *sessionstore.QueryError
	if errors.As(err, &qe) {
		return qe
	}
	return sessionstore.NewQueryError(sessionstore.CodeUnavailable, err.Error())
}

// Compile-time check that RedisExecutor implements Executor.
var _ sessionstore.Executor = (*RedisExecutor)(nil)
