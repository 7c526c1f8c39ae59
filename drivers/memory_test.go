package drivers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/creastat/sessionstore"
	"github.com/creastat/sessionstore/query"
)

var (
	testIndex = query.Index("sessions-by-sid", "sessions")
	testSpec  = query.IndexSpec{Name: "sessions-by-sid", Source: "sessions", Terms: []query.Term{{Field: query.FieldSID}}}
)

func provisioned(t *testing.T) *InMemoryExecutor {
	t.Helper()
	e := NewInMemoryExecutor()
	_, err := e.Query(context.Background(), query.Do(query.CreateCollection("sessions"), query.CreateIndex(testSpec)))
	require.NoError(t, err)
	return e
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	var qe *sessionstore.QueryError
	require.ErrorAs(t, err, &qe)
	require.True(t, qe.HasCode(code), "want code %q, got %v", code, qe.Errors)
}

func TestInMemoryExecutor_Exists(t *testing.T) {
	t.Parallel()

	e := NewInMemoryExecutor()
	ctx := context.Background()

	ok, err := e.Query(ctx, query.Exists(query.Collection("sessions")))
	require.NoError(t, err)
	require.Equal(t, false, ok)

	e = provisioned(t)
	ok, err = e.Query(ctx, query.Exists(query.Collection("sessions")))
	require.NoError(t, err)
	require.Equal(t, true, ok)

	ok, err = e.Query(ctx, query.Exists(testIndex))
	require.NoError(t, err)
	require.Equal(t, true, ok)

	ok, err = e.Query(ctx, query.Exists(query.Index("sessions-by-sid", "other")))
	require.NoError(t, err)
	require.Equal(t, false, ok)
}

func TestInMemoryExecutor_CreateConflicts(t *testing.T) {
	t.Parallel()

	e := provisioned(t)
	ctx := context.Background()

	_, err := e.Query(ctx, query.CreateCollection("sessions"))
	require.ErrorIs(t, err, sessionstore.ErrAlreadyExists)

	_, err = e.Query(ctx, query.CreateIndex(testSpec))
	require.ErrorIs(t, err, sessionstore.ErrAlreadyExists)

	_, err = e.Query(ctx, query.CreateIndex(query.IndexSpec{Name: "orphan", Source: "missing"}))
	requireCode(t, err, sessionstore.CodeInvalidRef)

	_, err = e.Query(ctx, query.CreateIndex(query.IndexSpec{
		Name:   "by-user",
		Source: "sessions",
		Terms:  []query.Term{{Field: "user"}},
	}))
	requireCode(t, err, sessionstore.CodeInvalidExpression)
}

func TestInMemoryExecutor_DoIsAtomic(t *testing.T) {
	t.Parallel()

	e := NewInMemoryExecutor()
	ctx := context.Background()

	// The index step fails, so the collection must not be created either.
	_, err := e.Query(ctx, query.Do(
		query.CreateCollection("sessions"),
		query.CreateIndex(query.IndexSpec{Name: "sessions-by-sid", Source: "elsewhere"}),
	))
	requireCode(t, err, sessionstore.CodeInvalidRef)

	ok, err := e.Query(ctx, query.Exists(query.Collection("sessions")))
	require.NoError(t, err)
	require.Equal(t, false, ok)
}

func TestInMemoryExecutor_Records(t *testing.T) {
	t.Parallel()

	e := provisioned(t)
	ctx := context.Background()

	_, err := e.Query(ctx, query.Get(query.Match(testIndex, "s1")))
	require.ErrorIs(t, err, sessionstore.ErrNotFound)

	data := map[string]any{"user": "ada"}
	res, err := e.Query(ctx, query.Upsert(query.Match(testIndex, "s1"), data))
	require.NoError(t, err)
	written := res.(query.Document)
	require.Equal(t, query.DocumentID("sessions", "s1"), written.ID)
	require.False(t, written.UpdatedAt.IsZero())

	data["user"] = "changed"
	res, err = e.Query(ctx, query.Get(query.Match(testIndex, "s1")))
	require.NoError(t, err)
	doc := res.(query.Document)
	require.Equal(t, "s1", doc.SID)
	require.Equal(t, map[string]any{"user": "ada"}, doc.Data)

	doc.Data["user"] = "leaked"
	res, err = e.Query(ctx, query.Get(query.Match(testIndex, "s1")))
	require.NoError(t, err)
	require.Equal(t, "ada", res.(query.Document).Data["user"])

	_, err = e.Query(ctx, query.Delete(query.Match(testIndex, "s1")))
	require.NoError(t, err)
	require.Zero(t, e.Len("sessions"))

	_, err = e.Query(ctx, query.Delete(query.Match(testIndex, "s1")))
	require.NoError(t, err)
}

func TestInMemoryExecutor_NestedDataIsCopied(t *testing.T) {
	t.Parallel()

	e := provisioned(t)
	ctx := context.Background()

	data := map[string]any{"prefs": map[string]any{"theme": "dark"}, "tags": []any{"a"}}
	_, err := e.Query(ctx, query.Upsert(query.Match(testIndex, "s1"), data))
	require.NoError(t, err)

	data["prefs"].(map[string]any)["theme"] = "light"
	data["tags"].([]any)[0] = "b"

	res, err := e.Query(ctx, query.Get(query.Match(testIndex, "s1")))
	require.NoError(t, err)
	doc := res.(query.Document)
	require.Equal(t, map[string]any{"prefs": map[string]any{"theme": "dark"}, "tags": []any{"a"}}, doc.Data)

	doc.Data["prefs"].(map[string]any)["theme"] = "leaked"
	res, err = e.Query(ctx, query.Get(query.Match(testIndex, "s1")))
	require.NoError(t, err)
	require.Equal(t, "dark", res.(query.Document).Data["prefs"].(map[string]any)["theme"])
}

func TestInMemoryExecutor_UndefinedIndex(t *testing.T) {
	t.Parallel()

	e := NewInMemoryExecutor()
	_, err := e.Query(context.Background(), query.Get(query.Match(testIndex, "s1")))
	require.EqualError(t, err, `Ref refers to undefined index "sessions-by-sid".`)
	requireCode(t, err, sessionstore.CodeInvalidRef)
}

func TestInMemoryExecutor_CanceledContext(t *testing.T) {
	t.Parallel()

	e := provisioned(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Query(ctx, query.Get(query.Match(testIndex, "s1")))
	requireCode(t, err, sessionstore.CodeUnavailable)
}

func TestInMemoryExecutor_Close(t *testing.T) {
	t.Parallel()

	e := provisioned(t)
	require.NoError(t, e.Close())

	_, err := e.Query(context.Background(), query.Exists(query.Collection("sessions")))
	require.True(t, errors.Is(err, sessionstore.ErrClosed))
	require.Zero(t, e.Len("sessions"))
}

func TestNewExecutor(t *testing.T) {
	t.Parallel()

	exec, err := NewExecutor(KindMemory)
	require.NoError(t, err)
	require.IsType(t, &InMemoryExecutor{}, exec)

	for _, kind := range []Kind{KindRedis, KindMongo, KindQdrant, KindSupabase} {
		_, err := NewExecutor(kind)
		require.ErrorIs(t, err, sessionstore.ErrInvalidConfig, string(kind))
	}

	_, err = NewExecutor("fauna")
	require.ErrorIs(t, err, sessionstore.ErrInvalidStoreType)
}
