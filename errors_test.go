package sessionstore_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/creastat/sessionstore"
)

func TestQueryError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		entries []sessionstore.ErrorEntry
		want    string
	}{
		{name: "empty", want: ""},
		{
			name:    "single",
			entries: []sessionstore.ErrorEntry{{Code: "invalid ref", Description: "invalid ref"}},
			want:    "invalid ref",
		},
		{
			name: "joined without spaces",
			entries: []sessionstore.ErrorEntry{
				{Code: "a", Description: "first"},
				{Code: "b", Description: "second"},
				{Code: "c", Description: "third"},
			},
			want: "first,second,third",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := &sessionstore.QueryError{Errors: tt.entries}
			require.Equal(t, tt.want, err.Error())
		})
	}
}

func TestQueryError_Is(t *testing.T) {
	t.Parallel()

	notFound := sessionstore.NewQueryError(sessionstore.CodeNotFound, "Set is empty.")
	require.ErrorIs(t, notFound, sessionstore.ErrNotFound)
	require.NotErrorIs(t, notFound, sessionstore.ErrAlreadyExists)

	exists := sessionstore.NewQueryError(sessionstore.CodeAlreadyExists, "index exists")
	wrapped := fmt.Errorf("create: %w", exists)
	require.ErrorIs(t, wrapped, sessionstore.ErrAlreadyExists)
	require.NotErrorIs(t, wrapped, sessionstore.ErrNotFound)

	ref := sessionstore.NewQueryError(sessionstore.CodeInvalidRef, "invalid ref")
	require.NotErrorIs(t, ref, sessionstore.ErrNotFound)
	require.NotErrorIs(t, ref, sessionstore.ErrAlreadyExists)
}

func TestQueryError_IsRequiresEveryEntry(t *testing.T) {
	t.Parallel()

	mixed := &sessionstore.QueryError{Errors: []sessionstore.ErrorEntry{
		{Code: sessionstore.CodeNotFound, Description: "instance not found"},
		{Code: "permission denied", Description: "permission denied"},
	}}
	require.NotErrorIs(t, mixed, sessionstore.ErrNotFound)

	raced := &sessionstore.QueryError{Errors: []sessionstore.ErrorEntry{
		{Code: sessionstore.CodeAlreadyExists, Description: "instance already exists"},
		{Code: sessionstore.CodeUnavailable, Description: "unavailable"},
	}}
	require.NotErrorIs(t, raced, sessionstore.ErrAlreadyExists)

	both := &sessionstore.QueryError{Errors: []sessionstore.ErrorEntry{
		{Code: sessionstore.CodeNotFound, Description: "a"},
		{Code: sessionstore.CodeNotFound, Description: "b"},
	}}
	require.ErrorIs(t, both, sessionstore.ErrNotFound)

	require.NotErrorIs(t, &sessionstore.QueryError{}, sessionstore.ErrNotFound)
}

func TestAsQueryError(t *testing.T) {
	t.Parallel()

	require.Nil(t, sessionstore.AsQueryError(nil))

	original := sessionstore.NewQueryError(sessionstore.CodeInvalidRef, "invalid ref")
	require.Same(t, original, sessionstore.AsQueryError(fmt.Errorf("wrapped: %w", original)))

	plain := sessionstore.AsQueryError(errors.New("dial tcp: refused"))
	require.Equal(t, []sessionstore.ErrorEntry{{Code: sessionstore.CodeUnavailable, Description: "dial tcp: refused"}}, plain.Errors)

	sentinel := sessionstore.AsQueryError(fmt.Errorf("lookup: %w", sessionstore.ErrNotFound))
	require.True(t, sentinel.HasCode(sessionstore.CodeNotFound))
}
