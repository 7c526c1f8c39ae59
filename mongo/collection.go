package mongo

import (
	"context"

	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// database is the subset of *mongo.Database the executor uses. Tests
// substitute an in-memory fake.
type database interface {
	ListCollectionNames(ctx context.Context, filter any) ([]string, error)
	CreateCollection(ctx context.Context, name string) error
	Collection(name string) collection
}

type collection interface {
	FindOne(ctx context.Context, filter any) singleResult
	UpdateOne(ctx context.Context, filter any, update any,
		opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error)
	DeleteMany(ctx context.Context, filter any) (*mongodriver.DeleteResult, error)
	Drop(ctx context.Context) error
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel) (string, error)
	ListSpecifications(ctx context.Context) ([]*mongodriver.IndexSpecification, error)
}

type singleResult interface {
	Decode(val any) error
}

type mongoDatabase struct {
	db *mongodriver.Database
}

func (d mongoDatabase) ListCollectionNames(ctx context.Context, filter any) ([]string, error) {
	return d.db.ListCollectionNames(ctx, filter)
}

func (d mongoDatabase) CreateCollection(ctx context.Context, name string) error {
	return d.db.CreateCollection(ctx, name)
}

func (d mongoDatabase) Collection(name string) collection {
	return mongoCollection{coll: d.db.Collection(name)}
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any) singleResult {
	return c.coll.FindOne(ctx, filter)
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter any, update any,
	opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) DeleteMany(ctx context.Context, filter any) (*mongodriver.DeleteResult, error) {
	return c.coll.DeleteMany(ctx, filter)
}

func (c mongoCollection) Drop(ctx context.Context) error {
	return c.coll.Drop(ctx)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel) (string, error) {
	return v.view.CreateOne(ctx, model)
}

func (v mongoIndexView) ListSpecifications(ctx context.Context) ([]*mongodriver.IndexSpecification, error) {
	return v.view.ListSpecifications(ctx)
}
