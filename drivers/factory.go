// Package drivers builds session store executors for the supported
// databases and hosts the in-memory and Redis implementations.
package drivers

import (
	"fmt"

	"github.com/creastat/sessionstore"
	"github.com/creastat/sessionstore/mongo"
	"github.com/creastat/sessionstore/qdrant"
	"github.com/creastat/sessionstore/supabase"
)

// Kind selects an executor implementation.
type Kind string

const (
	KindMemory   Kind = "memory"
	KindRedis    Kind = "redis"
	KindMongo    Kind = "mongo"
	KindQdrant   Kind = "qdrant"
	KindSupabase Kind = "supabase"
)

// NewExecutor creates an executor of the given kind.
// Every kind except memory requires its database handle option.
func NewExecutor(kind Kind, opts ...Option) (sessionstore.Executor, error) {
	config := &executorConfig{}

	// Apply options
	for _, opt := range opts {
		opt(config)
	}

	switch kind {
	case KindMemory:
		return NewInMemoryExecutor(), nil

	case KindRedis:
		if config.redisClient == nil {
			return nil, fmt.Errorf("%w: redis client is required", sessionstore.ErrInvalidConfig)
		}
		return NewRedisExecutor(config.redisClient, config.keyPrefix), nil

	case KindMongo:
		if config.mongoDatabase == nil {
			return nil, fmt.Errorf("%w: mongo database is required", sessionstore.ErrInvalidConfig)
		}
		return mongo.New(config.mongoDatabase), nil

	case KindQdrant:
		if config.qdrantClient == nil {
			return nil, fmt.Errorf("%w: qdrant client is required", sessionstore.ErrInvalidConfig)
		}
		return qdrant.NewExecutor(config.qdrantClient), nil

	case KindSupabase:
		if config.supabaseClient == nil {
			return nil, fmt.Errorf("%w: supabase client is required", sessionstore.ErrInvalidConfig)
		}
		return supabase.NewExecutor(config.supabaseClient, config.cacheTTL), nil

	default:
		return nil, fmt.Errorf("%w: %q", sessionstore.ErrInvalidStoreType, kind)
	}
}
