// Package sessionstore persists HTTP session records in a document
// database. A Store provisions its collection and sid index once, then
// serves get/set/destroy with one executor query per call.
package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/creastat/sessionstore/query"
)

// Store is the session store handed to the HTTP session middleware.
type Store struct {
	exec    Executor
	config  Config
	records *recordStore
	schema  *provisioner
	logger  *slog.Logger

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

// New validates cfg and builds a Store over exec. It does not touch the
// database; use NewInitialized when the schema may be missing.
func New(exec Executor, cfg Config, opts ...Option) (*Store, error) {
	cfg = MergeConfig(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, fmt.Errorf("%w: executor is required", ErrInvalidConfig)
	}

	o := applyOptions(opts)
	logger := o.logger.With("collection", cfg.Collection)
	return &Store{
		exec:   exec,
		config: cfg,
		logger: logger,
		records: &recordStore{
			exec:    exec,
			index:   query.Index(cfg.Index, cfg.Collection),
			timeout: cfg.Timeout,
			logger:  logger,
			metrics: o.metrics,
		},
		schema: &provisioner{
			exec:       exec,
			collection: cfg.Collection,
			index:      cfg.Index,
			logger:     logger,
			metrics:    o.metrics,
		},
	}, nil
}

// NewInitialized builds a Store and provisions its collection and index
// before returning it. Provisioning failures are returned instead of a
// partially usable store.
func NewInitialized(ctx context.Context, exec Executor, cfg Config, opts ...Option) (*Store, error) {
	s, err := New(exec, cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the collection and index when they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ctx, cancel := s.records.withTimeout(ctx)
	defer cancel()
	return s.schema.ensureSchema(ctx)
}

// Config returns the merged configuration of the store.
func (s *Store) Config() Config {
	return s.config
}

// Get returns the record for sid. A missing record yields nil, nil.
func (s *Store) Get(ctx context.Context, sid string) (*Record, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.inflight.Done()
	return s.records.get(ctx, sid)
}

// Set creates or replaces the payload stored for sid.
func (s *Store) Set(ctx context.Context, sid string, data map[string]any) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.inflight.Done()
	return s.records.set(ctx, sid, data)
}

// Destroy removes the record for sid. Destroying a missing record succeeds.
func (s *Store) Destroy(ctx context.Context, sid string) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.inflight.Done()
	return s.records.destroy(ctx, sid)
}

// Close waits for in-flight operations and closes the executor.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.inflight.Wait()
	if err := s.exec.Close(); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	return nil
}

// acquire registers an operation unless the store is closed.
func (s *Store) acquire() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	s.inflight.Add(1)
	return nil
}
