package engine

import (
	"context"

	"launchline/internal/bulk"
)

// Bulk applies op to every target project independently.
func (e Engine) Bulk(ctx context.Context, op bulk.Operation, actorID string) ([]bulk.Result, error) {
	return e.BulkAuthorized(ctx, op, actorID, nil)
}

// BulkAuthorized is Bulk with a per-target check. Targets rejected by
// authorize are reported as failed and left untouched.
func (e Engine) BulkAuthorized(ctx context.Context, op bulk.Operation, actorID string, authorize bulk.Authorizer) ([]bulk.Result, error) {
	c := bulk.Coordinator{
		Store:       e,
		Parallelism: e.BulkParallelism,
		Logger:      e.log(),
		Authorize:   authorize,
	}
	return c.Execute(ctx, op, actorID)
}
