package qdrant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/creastat/sessionstore"
	"github.com/creastat/sessionstore/query"
)

const (
	// metadataIndexPrefix prefixes collection metadata keys naming an index.
	metadataIndexPrefix = "sessionstore.index."

	payloadSID       = "sid"
	payloadData      = "data"
	payloadUpdatedAt = "updated_at"
)

// api is the subset of *qdrant.Client used by the executor.
type api interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	GetCollectionInfo(ctx context.Context, collectionName string) (*qdrant.CollectionInfo, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	UpdateCollection(ctx context.Context, request *qdrant.UpdateCollection) error
	DeleteCollection(ctx context.Context, collectionName string) error
	CreateFieldIndex(ctx context.Context, request *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Scroll(ctx context.Context, request *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Close() error
}

// Executor implements sessionstore.Executor on Qdrant.
type Executor struct {
	client api
	now    func() time.Time
}

// NewExecutor returns an Executor over client.
func NewExecutor(client *qdrant.Client) *Executor {
	return newExecutor(client)
}

func newExecutor(client api) *Executor {
	return &Executor{client: client, now: time.Now}
}

// Query implements sessionstore.Executor.
func (e *Executor) Query(ctx context.Context, expr query.Expr) (any, error) {
	switch x := expr.(type) {
	case query.ExistsExpr:
		return e.exists(ctx, x)
	case query.CreateCollectionExpr, query.CreateIndexExpr:
		return e.createSchema(ctx, []query.Expr{x})
	case query.DoExpr:
		return e.createSchema(ctx, x.Steps)
	case query.GetExpr:
		return e.get(ctx, x.Set)
	case query.UpsertExpr:
		return e.upsert(ctx, x)
	case query.DeleteExpr:
		return e.delete(ctx, x.Set)
	}
	return nil, fmt.Errorf("%w: %T", sessionstore.ErrUnimplemented, expr)
}

// Close implements sessionstore.Executor.
func (e *Executor) Close() error {
	return e.client.Close()
}

func (e *Executor) exists(ctx context.Context, x query.ExistsExpr) (bool, error) {
	switch ref := x.Ref.(type) {
	case query.CollectionRef:
		ok, err := e.client.CollectionExists(ctx, ref.Name)
		if err != nil {
			return false, qdrantError(err)
		}
		return ok, nil
	case query.IndexRef:
		_, ok, err := e.indexField(ctx, ref)
		return ok, err
	}
	return false, sessionstore.NewQueryError(sessionstore.CodeInvalidExpression,
		fmt.Sprintf("unsupported expression %T.", x.Ref))
}

// createSchema creates collections and indexes in order and deletes the
// collections it created when a later step fails. An index step rejected as
// already existing leaves every collection in place, and counts as done when
// the existing index covers the same field on a collection created here.
func (e *Executor) createSchema(ctx context.Context, steps []query.Expr) (any, error) {
	for _, step := range steps {
		switch step.(type) {
		case query.CreateCollectionExpr, query.CreateIndexExpr:
		default:
			return nil, fmt.Errorf("%w: %T inside Do", sessionstore.ErrUnimplemented, step)
		}
	}

	var (
		created []string
		result  any
	)
	rollback := func() {
		for _, name := range created {
			_ = e.client.DeleteCollection(context.WithoutCancel(ctx), name)
		}
	}

	for _, step := range steps {
		switch s := step.(type) {
		case query.CreateCollectionExpr:
			if err := e.createCollection(ctx, s.Name); err != nil {
				rollback()
				return nil, err
			}
			created = append(created, s.Name)
			result = query.Collection(s.Name)

		case query.CreateIndexExpr:
			if err := e.createIndex(ctx, s.Spec); err != nil {
				if !errors.Is(err, sessionstore.ErrAlreadyExists) {
					rollback()
					return nil, err
				}
				if !slices.Contains(created, s.Spec.Source) || !e.indexCovers(ctx, s.Spec) {
					return nil, err
				}
			}
			result = query.Index(s.Spec.Name, s.Spec.Source)
		}
	}
	return result, nil
}

func (e *Executor) createCollection(ctx context.Context, name string) error {
	ok, err := e.client.CollectionExists(ctx, name)
	if err != nil {
		return qdrantError(err)
	}
	if ok {
		return sessionstore.NewQueryError(sessionstore.CodeAlreadyExists,
			fmt.Sprintf("collection %q already exists.", name))
	}
	err = e.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     1,
			Distance: qdrant.Distance_Dot,
		}),
	})
	if err != nil {
		return qdrantError(err)
	}
	return nil
}

func (e *Executor) createIndex(ctx context.Context, spec query.IndexSpec) error {
	if spec.TermField() != query.FieldSID {
		return sessionstore.NewQueryError(sessionstore.CodeInvalidExpression,
			fmt.Sprintf("index %q must be built on the %q field.", spec.Name, query.FieldSID))
	}
	ref := query.Index(spec.Name, spec.Source)
	_, ok, err := e.indexField(ctx, ref)
	if err != nil {
		return err
	}
	if ok {
		return sessionstore.NewQueryError(sessionstore.CodeAlreadyExists,
			fmt.Sprintf("index %q already exists.", spec.Name))
	}

	_, err = e.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: spec.Source,
		FieldName:      spec.TermField(),
		FieldType:      qdrant.PtrOf(qdrant.FieldType_FieldTypeKeyword),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return qdrantError(err)
	}
	err = e.client.UpdateCollection(ctx, &qdrant.UpdateCollection{
		CollectionName: spec.Source,
		Metadata: map[string]*qdrant.Value{
			metadataIndexPrefix + spec.Name: qdrant.NewValueString(spec.TermField()),
		},
	})
	if err != nil {
		return qdrantError(err)
	}
	return nil
}

// indexField reads the index definition from the source collection's
// metadata.
func (e *Executor) indexField(ctx context.Context, ref query.IndexRef) (string, bool, error) {
	info, err := e.client.GetCollectionInfo(ctx, ref.Source)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", false, nil
		}
		return "", false, qdrantError(err)
	}
	value, ok := info.GetConfig().GetMetadata()[metadataIndexPrefix+ref.Name]
	if !ok {
		return "", false, nil
	}
	return value.GetStringValue(), true, nil
}

// indexCovers reports whether the index named by spec exists on its source
// and is built on the same field.
func (e *Executor) indexCovers(ctx context.Context, spec query.IndexSpec) bool {
	field, ok, err := e.indexField(ctx, query.Index(spec.Name, spec.Source))
	return err == nil && ok && field == spec.TermField()
}

func (e *Executor) requireIndex(ctx context.Context, ref query.IndexRef) (string, error) {
	field, ok, err := e.indexField(ctx, ref)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", sessionstore.NewQueryError(sessionstore.CodeInvalidRef,
			fmt.Sprintf("Ref refers to undefined index %q.", ref.Name))
	}
	return field, nil
}

func (e *Executor) get(ctx context.Context, set query.MatchExpr) (any, error) {
	field, err := e.requireIndex(ctx, set.Index)
	if err != nil {
		return nil, err
	}
	points, err := e.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: set.Index.Source,
		Filter:         matchFilter(field, set.Term),
		Limit:          qdrant.PtrOf(uint32(1)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, qdrantError(err)
	}
	if len(points) == 0 {
		return nil, sessionstore.NewQueryError(sessionstore.CodeNotFound,
			fmt.Sprintf("Set %s(%q) is empty.", set.Index.Name, set.Term))
	}
	return pointToDocument(points[0])
}

// upsert writes the point addressed by the sid's document id; the last
// write wins.
func (e *Executor) upsert(ctx context.Context, x query.UpsertExpr) (any, error) {
	if _, err := e.requireIndex(ctx, x.Set.Index); err != nil {
		return nil, err
	}
	doc := query.Document{
		ID:        query.DocumentID(x.Set.Index.Source, x.Set.Term),
		SID:       x.Set.Term,
		Data:      x.Data,
		UpdatedAt: e.now().UTC(),
	}
	payload, err := documentPayload(doc)
	if err != nil {
		return nil, err
	}
	_, err = e.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: x.Set.Index.Source,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(doc.ID),
			Vectors: qdrant.NewVectors(1),
			Payload: payload,
		}},
	})
	if err != nil {
		return nil, qdrantError(err)
	}
	return doc, nil
}

func (e *Executor) delete(ctx context.Context, set query.MatchExpr) (any, error) {
	field, err := e.requireIndex(ctx, set.Index)
	if err != nil {
		return nil, err
	}
	_, err = e.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: set.Index.Source,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(matchFilter(field, set.Term)),
	})
	if err != nil {
		return nil, qdrantError(err)
	}
	return nil, nil
}

func matchFilter(field, term string) *qdrant.Filter {
	return &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatchKeyword(field, term)}}
}

// documentPayload stores data as JSON text so arbitrary nesting survives.
func documentPayload(doc query.Document) (map[string]*qdrant.Value, error) {
	data, err := json.Marshal(doc.Data)
	if err != nil {
		return nil, sessionstore.NewQueryError(sessionstore.CodeInvalidExpression,
			fmt.Sprintf("encode session data: %v", err))
	}
	return map[string]*qdrant.Value{
		payloadSID:       qdrant.NewValueString(doc.SID),
		payloadData:      qdrant.NewValueString(string(data)),
		payloadUpdatedAt: qdrant.NewValueString(doc.UpdatedAt.Format(time.RFC3339Nano)),
	}, nil
}

func pointToDocument(point *qdrant.RetrievedPoint) (query.Document, error) {
	payload := point.GetPayload()
	doc := query.Document{
		ID:  point.GetId().GetUuid(),
		SID: payload[payloadSID].GetStringValue(),
	}
	if raw := payload[payloadData].GetStringValue(); raw != "" {
		if err := json.Unmarshal([]byte(raw), &doc.Data); err != nil {
			return query.Document{}, sessionstore.NewQueryError(sessionstore.CodeUnavailable,
				fmt.Sprintf("decode session data: %v", err))
		}
	}
	if ts := payload[payloadUpdatedAt].GetStringValue(); ts != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			doc.UpdatedAt = parsed
		}
	}
	return doc, nil
}

// qdrantError converts a client error into a query error.
func qdrantError(err error) error {
	var qe *sessionstore.QueryError
	if errors.As(err, &qe) {
		return qe
	}
	switch status.Code(err) {
	case codes.AlreadyExists:
		return sessionstore.NewQueryError(sessionstore.CodeAlreadyExists, err.Error())
	case codes.NotFound:
		return sessionstore.NewQueryError(sessionstore.CodeInvalidRef, err.Error())
	}
	if strings.Contains(err.Error(), "already exists") {
		return sessionstore.NewQueryError(sessionstore.CodeAlreadyExists, err.Error())
	}
	return sessionstore.NewQueryError(sessionstore.CodeUnavailable, err.Error())
}

// Compile-time check that Executor implements sessionstore.Executor.
var _ sessionstore.Executor = (*Executor)(nil)
