package supabase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/supabase-community/supabase-go"

	"github.com/creastat/sessionstore"
	"github.com/creastat/sessionstore/query"
)

// fakePostgREST serves the REST and RPC endpoints the executor calls from
// in-memory tables.
type fakePostgREST struct {
	mu       sync.Mutex
	tables   map[string]map[string]json.RawMessage // table -> sid -> row
	indexes  map[string]string                     // index name -> table
	rpcCalls map[string]int
	prefer   string
}

func newFakePostgREST() *fakePostgREST {
	return &fakePostgREST{
		tables:   make(map[string]map[string]json.RawMessage),
		indexes:  make(map[string]string),
		rpcCalls: make(map[string]int),
	}
}

func (f *fakePostgREST) calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rpcCalls[name]
}

func (f *fakePostgREST) lastPrefer() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prefer
}

func (f *fakePostgREST) dropTable(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tables, name)
	for index, table := range f.indexes {
		if table == name {
			delete(f.indexes, index)
		}
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": code, "message": message})
}

func (f *fakePostgREST) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/rest/v1/")
	if fn, ok := strings.CutPrefix(path, "rpc/"); ok {
		f.rpcCalls[fn]++
		var args map[string]any
		_ = json.NewDecoder(r.Body).Decode(&args)
		switch fn {
		case rpcCreateSchema:
			f.createSchema(w, args)
		case rpcIndexExists:
			table, ok := f.indexes[args["index_name"].(string)]
			_ = json.NewEncoder(w).Encode(ok && table == args["collection_name"])
		default:
			writeError(w, http.StatusNotFound, "PGRST202", "Could not find the function")
		}
		return
	}

	rows, ok := f.tables[path]
	if !ok {
		writeError(w, http.StatusNotFound, codeSchemaCacheTable,
			"Could not find the table 'public."+path+"' in the schema cache")
		return
	}
	sid := strings.TrimPrefix(r.URL.Query().Get("sid"), "eq.")

	switch r.Method {
	case http.MethodGet:
		out := []json.RawMessage{}
		if row, ok := rows[sid]; ok {
			out = append(out, row)
		}
		_ = json.NewEncoder(w).Encode(out)
	case http.MethodPost:
		f.prefer = r.Header.Get("Prefer")
		var body json.RawMessage
		_ = json.NewDecoder(r.Body).Decode(&body)
		var fields struct {
			SID string `json:"sid"`
		}
		_ = json.Unmarshal(body, &fields)
		rows[fields.SID] = body
		w.WriteHeader(http.StatusCreated)
	case http.MethodDelete:
		delete(rows, sid)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (f *fakePostgREST) createSchema(w http.ResponseWriter, args map[string]any) {
	table := args["collection_name"].(string)
	index := args["index_name"].(string)

	if args["create_collection"].(bool) {
		if _, ok := f.tables[table]; ok {
			writeError(w, http.StatusConflict, codeDuplicateTable, `relation "`+table+`" already exists`)
			return
		}
	} else if _, ok := f.tables[table]; !ok {
		writeError(w, http.StatusNotFound, codeUndefinedTable, `relation "`+table+`" does not exist`)
		return
	}
	if index != "" {
		if args["field"] != query.FieldSID {
			writeError(w, http.StatusBadRequest, codeInvalidParameter, "unsupported index field")
			return
		}
		if _, ok := f.indexes[index]; ok {
			writeError(w, http.StatusConflict, codeDuplicateTable, `relation "`+index+`" already exists`)
			return
		}
		f.indexes[index] = table
	}
	if _, ok := f.tables[table]; !ok {
		f.tables[table] = make(map[string]json.RawMessage)
	}
	_ = json.NewEncoder(w).Encode(true)
}

var (
	testIndex = query.Index("sessions-by-sid", "sessions")
	testSpec  = query.IndexSpec{Name: "sessions-by-sid", Source: "sessions", Terms: []query.Term{{Field: query.FieldSID}}}
)

func newTestExecutor(t *testing.T) (*Executor, *fakePostgREST) {
	t.Helper()
	fake := newFakePostgREST()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := supabase.NewClient(srv.URL, "test-key", nil)
	require.NoError(t, err)
	return newExecutor(client, 0), fake
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	var qe *sessionstore.QueryError
	require.ErrorAs(t, err, &qe)
	require.True(t, qe.HasCode(code), "want code %q, got %v", code, qe.Errors)
}

func TestExecutor_Schema(t *testing.T) {
	t.Parallel()

	e, _ := newTestExecutor(t)
	ctx := context.Background()

	ok, err := e.Query(ctx, query.Exists(query.Collection("sessions")))
	require.NoError(t, err)
	require.Equal(t, false, ok)
	ok, err = e.Query(ctx, query.Exists(testIndex))
	require.NoError(t, err)
	require.Equal(t, false, ok)

	res, err := e.Query(ctx, query.Do(query.CreateCollection("sessions"), query.CreateIndex(testSpec)))
	require.NoError(t, err)
	require.Equal(t, testIndex, res)

	ok, err = e.Query(ctx, query.Exists(query.Collection("sessions")))
	require.NoError(t, err)
	require.Equal(t, true, ok)

	_, err = e.Query(ctx, query.Do(query.CreateCollection("sessions"), query.CreateIndex(testSpec)))
	require.ErrorIs(t, err, sessionstore.ErrAlreadyExists)
	_, err = e.Query(ctx, query.CreateIndex(testSpec))
	require.ErrorIs(t, err, sessionstore.ErrAlreadyExists)
}

func TestExecutor_CreateSchemaShapes(t *testing.T) {
	t.Parallel()

	e, fake := newTestExecutor(t)
	ctx := context.Background()

	_, err := e.Query(ctx, query.Do(query.CreateIndex(testSpec), query.CreateCollection("sessions")))
	require.ErrorIs(t, err, sessionstore.ErrUnimplemented)

	_, err = e.Query(ctx, query.Do(query.CreateCollection("other"), query.CreateIndex(testSpec)))
	require.ErrorIs(t, err, sessionstore.ErrUnimplemented)

	_, err = e.Query(ctx, query.CreateIndex(query.IndexSpec{
		Name:   "by-user",
		Source: "sessions",
		Terms:  []query.Term{{Field: "user"}},
	}))
	requireCode(t, err, sessionstore.CodeInvalidExpression)
	require.Zero(t, fake.calls(rpcCreateSchema))

	_, err = e.Query(ctx, query.CreateIndex(testSpec))
	requireCode(t, err, sessionstore.CodeInvalidRef)
}

func TestExecutor_Records(t *testing.T) {
	t.Parallel()

	e, fake := newTestExecutor(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := e.Query(ctx, query.Do(query.CreateCollection("sessions"), query.CreateIndex(testSpec)))
	require.NoError(t, err)

	_, err = e.Query(ctx, query.Get(query.Match(testIndex, "s1")))
	require.ErrorIs(t, err, sessionstore.ErrNotFound)

	_, err = e.Query(ctx, query.Upsert(query.Match(testIndex, "s1"), map[string]any{"user": "ada"}))
	require.NoError(t, err)
	require.Equal(t, "resolution=merge-duplicates,return=minimal", fake.lastPrefer())

	res, err := e.Query(ctx, query.Get(query.Match(testIndex, "s1")))
	require.NoError(t, err)
	require.Equal(t, query.Document{
		ID:        query.DocumentID("sessions", "s1"),
		SID:       "s1",
		Data:      map[string]any{"user": "ada"},
		UpdatedAt: now,
	}, res)

	_, err = e.Query(ctx, query.Upsert(query.Match(testIndex, "s1"), map[string]any{"user": "grace"}))
	require.NoError(t, err)
	res, err = e.Query(ctx, query.Get(query.Match(testIndex, "s1")))
	require.NoError(t, err)
	require.Equal(t, "grace", res.(query.Document).Data["user"])

	_, err = e.Query(ctx, query.Delete(query.Match(testIndex, "s1")))
	require.NoError(t, err)
	_, err = e.Query(ctx, query.Get(query.Match(testIndex, "s1")))
	require.ErrorIs(t, err, sessionstore.ErrNotFound)
}

func TestExecutor_IndexCache(t *testing.T) {
	t.Parallel()

	e, fake := newTestExecutor(t)
	ctx := context.Background()
	_, err := e.Query(ctx, query.Do(query.CreateCollection("sessions"), query.CreateIndex(testSpec)))
	require.NoError(t, err)

	// Creating the index caches it.
	_, err = e.Query(ctx, query.Get(query.Match(testIndex, "s1")))
	require.ErrorIs(t, err, sessionstore.ErrNotFound)
	require.Zero(t, fake.calls(rpcIndexExists))

	clock := time.Now()
	e.indexes.now = func() time.Time { return clock }
	e.indexes.forget(testIndex)

	for i := 0; i < 3; i++ {
		_, err = e.Query(ctx, query.Exists(testIndex))
		require.NoError(t, err)
	}
	require.Equal(t, 1, fake.calls(rpcIndexExists))

	clock = clock.Add(6 * time.Minute)
	_, err = e.Query(ctx, query.Exists(testIndex))
	require.NoError(t, err)
	require.Equal(t, 2, fake.calls(rpcIndexExists))

	// A dropped table evicts the cached index.
	fake.dropTable("sessions")
	_, err = e.Query(ctx, query.Get(query.Match(testIndex, "s1")))
	requireCode(t, err, sessionstore.CodeInvalidRef)
	_, err = e.Query(ctx, query.Get(query.Match(testIndex, "s1")))
	require.EqualError(t, err, `Ref refers to undefined index "sessions-by-sid".`)
	require.Equal(t, 3, fake.calls(rpcIndexExists))
}

func TestExecutor_CanceledContext(t *testing.T) {
	t.Parallel()

	e, fake := newTestExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Query(ctx, query.Exists(testIndex))
	requireCode(t, err, sessionstore.CodeUnavailable)
	require.Zero(t, fake.calls(rpcIndexExists))
}

func TestExecutor_Unimplemented(t *testing.T) {
	t.Parallel()

	e, _ := newTestExecutor(t)
	_, err := e.Query(context.Background(), query.Do(query.Get(query.Match(testIndex, "s1"))))
	require.ErrorIs(t, err, sessionstore.ErrUnimplemented)
	require.NoError(t, e.Close())
}

func TestCodeError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code string
		want string
	}{
		{codeDuplicateTable, sessionstore.CodeAlreadyExists},
		{codeDuplicateObject, sessionstore.CodeAlreadyExists},
		{codeUniqueViolation, sessionstore.CodeAlreadyExists},
		{codeUndefinedTable, sessionstore.CodeInvalidRef},
		{codeSchemaCacheTable, sessionstore.CodeInvalidRef},
		{codeInvalidParameter, sessionstore.CodeInvalidExpression},
		{"57014", sessionstore.CodeUnavailable},
		{"", sessionstore.CodeUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			requireCode(t, codeError(tt.code, "boom"), tt.want)
		})
	}

	require.EqualError(t, codeError("57014", "canceling statement"), "canceling statement (57014)")
}

func TestSplitError(t *testing.T) {
	t.Parallel()

	code, message := splitError(errorString(`(42P01) relation "x" does not exist`))
	require.Equal(t, codeUndefinedTable, code)
	require.Equal(t, `relation "x" does not exist`, message)

	code, message = splitError(errorString("dial tcp: connection refused"))
	require.Empty(t, code)
	require.Equal(t, "dial tcp: connection refused", message)
}

type errorString string

func (e errorString) Error() string { return string(e) }

func TestConnect(t *testing.T) {
	t.Parallel()

	_, err := Connect(Config{APIKey: "k"})
	require.EqualError(t, err, "supabase URL is required")
	_, err = Connect(Config{URL: "http://localhost"})
	require.EqualError(t, err, "supabase API key is required")

	client, err := Connect(Config{URL: "http://localhost", APIKey: "k"})
	require.NoError(t, err)
	require.NotNil(t, client)

	require.Contains(t, SchemaSQL, rpcCreateSchema)
	require.Contains(t, SchemaSQL, rpcIndexExists)
}
