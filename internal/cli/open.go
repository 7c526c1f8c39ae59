package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/creastat/sessionstore"
	"github.com/creastat/sessionstore/config"
	"github.com/creastat/sessionstore/drivers"
	"github.com/creastat/sessionstore/qdrant"
	"github.com/creastat/sessionstore/supabase"
)

// openStore builds the executor selected by the settings and wraps it in a
// Store. With initialize set the schema is provisioned first. The returned
// close function releases the store and any client it opened.
func openStore(ctx context.Context, opts *RootOptions, initialize bool) (*sessionstore.Store, func() error, error) {
	s := opts.Settings
	exec, release, err := openExecutor(ctx, s)
	if err != nil {
		return nil, nil, err
	}

	var store *sessionstore.Store
	if initialize {
		store, err = sessionstore.NewInitialized(ctx, exec, s.StoreConfig(), sessionstore.WithLogger(opts.Logger))
	} else {
		store, err = sessionstore.New(exec, s.StoreConfig(), sessionstore.WithLogger(opts.Logger))
	}
	if err != nil {
		_ = exec.Close()
		_ = release()
		return nil, nil, err
	}

	closeFn := func() error {
		return errors.Join(store.Close(), release())
	}
	return store, closeFn, nil
}

func openExecutor(ctx context.Context, s *config.Settings) (sessionstore.Executor, func() error, error) {
	noop := func() error { return nil }

	switch drivers.Kind(s.Driver) {
	case drivers.KindMemory:
		exec, err := drivers.NewExecutor(drivers.KindMemory)
		return exec, noop, err

	case drivers.KindRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     s.Redis.Addr,
			Password: s.Credential,
			DB:       s.Redis.DB,
		})
		exec, err := drivers.NewExecutor(drivers.KindRedis,
			drivers.WithRedisClient(client),
			drivers.WithKeyPrefix(s.Redis.KeyPrefix),
		)
		if err != nil {
			_ = client.Close()
		}
		return exec, noop, err

	case drivers.KindMongo:
		clientOpts := options.Client().
			ApplyURI(s.Mongo.URI).
			SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})
		if s.Mongo.Username != "" {
			clientOpts.SetAuth(options.Credential{
				Username: s.Mongo.Username,
				Password: s.Credential,
			})
		}
		client, err := mongodriver.Connect(ctx, clientOpts)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to mongo: %w", err)
		}
		disconnect := func() error {
			return client.Disconnect(context.Background())
		}
		exec, err := drivers.NewExecutor(drivers.KindMongo,
			drivers.WithMongoDatabase(client.Database(s.Mongo.Database)),
		)
		if err != nil {
			_ = disconnect()
			return nil, nil, err
		}
		return exec, disconnect, nil

	case drivers.KindQdrant:
		client, err := qdrant.Connect(qdrant.Config{URL: s.Qdrant.URL, APIKey: s.Credential})
		if err != nil {
			return nil, nil, err
		}
		exec, err := drivers.NewExecutor(drivers.KindQdrant, drivers.WithQdrantClient(client))
		if err != nil {
			_ = client.Close()
		}
		return exec, noop, err

	case drivers.KindSupabase:
		client, err := supabase.Connect(supabase.Config{URL: s.Supabase.URL, APIKey: s.Credential})
		if err != nil {
			return nil, nil, err
		}
		exec, err := drivers.NewExecutor(drivers.KindSupabase,
			drivers.WithSupabaseClient(client),
			drivers.WithCacheTTL(s.CacheTTL()),
		)
		return exec, noop, err
	}

	return nil, nil, fmt.Errorf("%w: %q", sessionstore.ErrInvalidStoreType, s.Driver)
}
