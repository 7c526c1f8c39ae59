package sessionstore

import (
	"context"

	"github.com/creastat/sessionstore/query"
)

// Executor runs query expressions against a document database.
type Executor interface {
	// Query evaluates expr and returns its result. Rejections should be
	// *QueryError values so callers can inspect every reported entry.
	// Expressions the executor does not support fail with ErrUnimplemented.
	Query(ctx context.Context, expr query.Expr) (any, error)

	// Close releases any resources held by the executor.
	Close() error
}
