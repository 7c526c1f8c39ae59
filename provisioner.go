package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/creastat/sessionstore/query"
)

// provisioner ensures the session collection and its sid index exist.
type provisioner struct {
	exec       Executor
	collection string
	index      string
	logger     *slog.Logger
	metrics    *Metrics
}

// ensureSchema creates the collection and index when they are missing.
//
// The existence check and the creation are separate requests, so two
// processes initialising at once can both see the collection as missing.
// The loser's create is rejected with "instance already exists", which is
// treated as success.
func (p *provisioner) ensureSchema(ctx context.Context) error {
	collectionExists, err := p.exists(ctx, query.Collection(p.collection))
	if err != nil {
		return p.fail("check collection", err)
	}

	indexSpec := query.IndexSpec{
		Name:   p.index,
		Source: p.collection,
		Terms:  []query.Term{{Field: query.FieldSID}},
	}

	var create query.Expr
	if !collectionExists {
		create = query.Do(
			query.CreateCollection(p.collection),
			query.CreateIndex(indexSpec),
		)
	} else {
		indexExists, err := p.exists(ctx, query.Index(p.index, p.collection))
		if err != nil {
			return p.fail("check index", err)
		}
		if indexExists {
			p.logger.DebugContext(ctx, "session schema already provisioned", "index", p.index)
			p.metrics.provisioned("existing")
			return nil
		}
		create = query.CreateIndex(indexSpec)
	}

	if _, err := p.exec.Query(ctx, create); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			p.logger.WarnContext(ctx, "session schema created concurrently",
				"index", p.index, "error", err)
			p.metrics.provisioned("raced")
			return nil
		}
		return p.fail("create schema", err)
	}

	p.logger.InfoContext(ctx, "session schema provisioned",
		"index", p.index, "created_collection", !collectionExists)
	p.metrics.provisioned("created")
	return nil
}

func (p *provisioner) exists(ctx context.Context, ref query.Expr) (bool, error) {
	res, err := p.exec.Query(ctx, query.Exists(ref))
	if err != nil {
		return false, err
	}
	ok, isBool := res.(bool)
	if !isBool {
		return false, fmt.Errorf("unexpected exists result %T", res)
	}
	return ok, nil
}

func (p *provisioner) fail(step string, err error) error {
	p.metrics.provisioned("error")
	return fmt.Errorf("%w: %s %q: %w", ErrProvisioning, step, p.collection, err)
}
