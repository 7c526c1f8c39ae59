package drivers

import (
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/redis/go-redis/v9"
	"github.com/supabase-community/supabase-go"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
)

// Option is a functional option for configuring an executor.
type Option func(*executorConfig)

// executorConfig holds the database handles an executor is built on.
type executorConfig struct {
	redisClient    *redis.Client
	keyPrefix      string
	mongoDatabase  *mongodriver.Database
	qdrantClient   *qdrant.Client
	supabaseClient *supabase.Client
	cacheTTL       time.Duration
}

// WithRedisClient sets the Redis client for the Redis executor.
func WithRedisClient(client *redis.Client) Option {
	return func(c *executorConfig) {
		c.redisClient = client
	}
}

// WithKeyPrefix sets the prefix of every Redis key.
func WithKeyPrefix(prefix string) Option {
	return func(c *executorConfig) {
		c.keyPrefix = prefix
	}
}

// WithMongoDatabase sets the database for the MongoDB executor.
func WithMongoDatabase(db *mongodriver.Database) Option {
	return func(c *executorConfig) {
		c.mongoDatabase = db
	}
}

// WithQdrantClient sets the client for the Qdrant executor.
func WithQdrantClient(client *qdrant.Client) Option {
	return func(c *executorConfig) {
		c.qdrantClient = client
	}
}

// WithSupabaseClient sets the client for the Supabase executor.
func WithSupabaseClient(client *supabase.Client) Option {
	return func(c *executorConfig) {
		c.supabaseClient = client
	}
}

// WithCacheTTL sets how long the Supabase executor trusts a resolved index.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *executorConfig) {
		c.cacheTTL = ttl
	}
}
