// Package supabase implements the session store executor on Supabase.
//
// Collections are Postgres tables reached through PostgREST. Schema changes
// run inside the SQL functions in schema.sql, which must be installed once
// per project.
package supabase

import (
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/supabase-community/supabase-go"

	"github.com/creastat/sessionstore/query"
)

// SchemaSQL installs the functions the executor calls over RPC.
//
//go:embed schema.sql
var SchemaSQL string

// Config holds Supabase connection configuration
type Config struct {
	URL    string
	APIKey string
}

// Connect creates a Supabase client from cfg.
func Connect(cfg Config) (*supabase.Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}

	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return client, nil
}

// indexCache remembers indexes confirmed to exist so record operations skip
// the lookup RPC.
type indexCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[query.IndexRef]time.Time // expiry
}

func newIndexCache(ttl time.Duration, now func() time.Time) *indexCache {
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &indexCache{
		ttl:     ttl,
		now:     now,
		entries: make(map[query.IndexRef]time.Time),
	}
}

func (c *indexCache) known(ref query.IndexRef) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	expiresAt, ok := c.entries[ref]
	return ok && c.now().Before(expiresAt)
}

func (c *indexCache) add(ref query.IndexRef) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[ref] = c.now().Add(c.ttl)
}

func (c *indexCache) forget(ref query.IndexRef) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, ref)
}
