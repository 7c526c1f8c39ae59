package sessionstore_test

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/creastat/sessionstore"
	"github.com/creastat/sessionstore/query"
)

// fakeExecutor answers every query with fn and counts calls.
type fakeExecutor struct {
	fn     func(ctx context.Context, expr query.Expr) (any, error)
	calls  atomic.Int64
	closed atomic.Bool
}

func (f *fakeExecutor) Query(ctx context.Context, expr query.Expr) (any, error) {
	f.calls.Add(1)
	return f.fn(ctx, expr)
}

func (f *fakeExecutor) Close() error {
	f.closed.Store(true)
	return nil
}

// rejecting returns an executor that fails record operations with err and
// reports the schema as present.
func rejecting(err error) *fakeExecutor {
	return &fakeExecutor{fn: func(_ context.Context, expr query.Expr) (any, error) {
		if _, ok := expr.(query.ExistsExpr); ok {
			return true, nil
		}
		return nil, err
	}}
}

// recordingExecutor forwards to next and keeps every expression it saw.
type recordingExecutor struct {
	next sessionstore.Executor

	mu    sync.Mutex
	exprs []query.Expr
}

func (r *recordingExecutor) Query(ctx context.Context, expr query.Expr) (any, error) {
	r.mu.Lock()
	r.exprs = append(r.exprs, expr)
	r.mu.Unlock()
	return r.next.Query(ctx, expr)
}

func (r *recordingExecutor) Close() error {
	return r.next.Close()
}

func (r *recordingExecutor) seen() []query.Expr {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]query.Expr(nil), r.exprs...)
}

func testConfig() sessionstore.Config {
	return sessionstore.Config{Credential: "k"}
}
