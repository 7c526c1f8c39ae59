package sessionstore

import (
	"context"
	"fmt"
)

// GetCallback receives the outcome of GetAsync. Exactly one of err and
// record is meaningful: record is nil whenever err is non-nil, and both are
// nil when no session exists for the sid.
type GetCallback func(err error, record *Record)

// DoneCallback receives the outcome of SetAsync and DestroyAsync.
type DoneCallback func(err error)

// GetAsync runs Get in its own goroutine and reports through cb.
func (s *Store) GetAsync(ctx context.Context, sid string, cb GetCallback) {
	if cb == nil {
		cb = func(error, *Record) {}
	}
	if err := s.acquire(); err != nil {
		go cb(err, nil)
		return
	}
	go func() {
		defer s.inflight.Done()
		var (
			record *Record
			err    error
		)
		func() {
			defer recoverInto(&err)
			record, err = s.records.get(ctx, sid)
		}()
		if err != nil {
			record = nil
		}
		cb(err, record)
	}()
}

// SetAsync runs Set in its own goroutine and reports through cb.
func (s *Store) SetAsync(ctx context.Context, sid string, data map[string]any, cb DoneCallback) {
	s.runAsync(cb, func() error {
		return s.records.set(ctx, sid, data)
	})
}

// DestroyAsync runs Destroy in its own goroutine and reports through cb.
func (s *Store) DestroyAsync(ctx context.Context, sid string, cb DoneCallback) {
	s.runAsync(cb, func() error {
		return s.records.destroy(ctx, sid)
	})
}

func (s *Store) runAsync(cb DoneCallback, op func() error) {
	if cb == nil {
		cb = func(error) {}
	}
	if err := s.acquire(); err != nil {
		go cb(err)
		return
	}
	go func() {
		defer s.inflight.Done()
		var err error
		func() {
			defer recoverInto(&err)
			err = op()
		}()
		cb(err)
	}()
}

// recoverInto turns a panic raised by an executor into an error.
func recoverInto(err *error) {
	if r := recover(); r != nil {
		*err = NewQueryError(CodeUnavailable, fmt.Sprintf("executor panic: %v", r))
	}
}
