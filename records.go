package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/creastat/sessionstore/query"
)

const (
	opGet     = "get"
	opSet     = "set"
	opDestroy = "destroy"
)

// recordStore issues one query per operation against the sid index.
type recordStore struct {
	exec    Executor
	index   query.IndexRef
	timeout time.Duration
	logger  *slog.Logger
	metrics *Metrics
}

// get returns the record for sid, or nil when none exists.
func (r *recordStore) get(ctx context.Context, sid string) (*Record, error) {
	if sid == "" {
		return nil, ErrInvalidSID
	}
	started := time.Now()
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := r.exec.Query(ctx, query.Get(query.Match(r.index, sid)))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			r.metrics.observe(opGet, "not_found", started)
			return nil, nil
		}
		return nil, r.fail(ctx, opGet, sid, started, err)
	}
	doc, err := asDocument(res)
	if err != nil {
		return nil, r.fail(ctx, opGet, sid, started, err)
	}
	r.metrics.observe(opGet, "ok", started)
	return recordFromDocument(doc), nil
}

// set creates or replaces the record for sid.
func (r *recordStore) set(ctx context.Context, sid string, data map[string]any) error {
	if sid == "" {
		return ErrInvalidSID
	}
	started := time.Now()
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if _, err := r.exec.Query(ctx, query.Upsert(query.Match(r.index, sid), query.CloneData(data))); err != nil {
		return r.fail(ctx, opSet, sid, started, err)
	}
	r.metrics.observe(opSet, "ok", started)
	return nil
}

// destroy removes the record for sid. Missing records are not an error.
func (r *recordStore) destroy(ctx context.Context, sid string) error {
	if sid == "" {
		return ErrInvalidSID
	}
	started := time.Now()
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if _, err := r.exec.Query(ctx, query.Delete(query.Match(r.index, sid))); err != nil {
		if errors.Is(err, ErrNotFound) {
			r.metrics.observe(opDestroy, "not_found", started)
			return nil
		}
		return r.fail(ctx, opDestroy, sid, started, err)
	}
	r.metrics.observe(opDestroy, "ok", started)
	return nil
}

// fail maps an executor failure to the error returned to callers.
// Unimplemented expressions surface unchanged; everything else becomes a
// *QueryError whose message joins all reported descriptions.
func (r *recordStore) fail(ctx context.Context, op, sid string, started time.Time, err error) error {
	r.metrics.observe(op, "error", started)
	r.logger.DebugContext(ctx, "session operation failed", "operation", op, "sid", sid, "error", err)
	if errors.Is(err, ErrUnimplemented) {
		return err
	}
	return AsQueryError(err)
}

func (r *recordStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

func asDocument(res any) (query.Document, error) {
	switch doc := res.(type) {
	case query.Document:
		return doc, nil
	case *query.Document:
		if doc != nil {
			return *doc, nil
		}
	}
	return query.Document{}, NewQueryError(CodeInvalidExpression, fmt.Sprintf("unexpected get result %T", res))
}
