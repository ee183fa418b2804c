// Package bulk applies one project mutation to many projects at once. Each
// target is handled independently: a failure is reported in that target's
// result and never stops the others.
package bulk

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"launchline/internal/domain"
	"launchline/internal/logging"
	"launchline/internal/metrics"
)

type Kind string

const (
	KindUpdateStatus Kind = "updateStatus"
	KindAssignLead   Kind = "assignLead"
	KindArchive      Kind = "archive"
)

func (k Kind) Valid() bool {
	switch k {
	case KindUpdateStatus, KindAssignLead, KindArchive:
		return true
	default:
		return false
	}
}

const DefaultParallelism = 4

type Payload struct {
	Status domain.ProjectStatus `json:"status,omitempty"`
	LeadID string               `json:"lead_id,omitempty"`
}

type Operation struct {
	Kind      Kind
	TargetIDs []string
	Payload   Payload
}

type Result struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Store is the per-project write side the coordinator drives.
type Store interface {
	SetProjectStatus(ctx context.Context, projectID string, status domain.ProjectStatus, actorID string) error
	AssignLead(ctx context.Context, projectID, leadID, actorID string) error
}

// Authorizer decides whether the caller may touch projectID. A non-nil error
// fails that target without applying anything.
type Authorizer func(ctx context.Context, projectID string) error

type Coordinator struct {
	Store       Store
	Parallelism int
	Logger      *zap.Logger

	// Authorize runs per target before the write; nil allows every target.
	Authorize Authorizer
}

// Validate checks op as a whole and returns the de-duplicated target ids in
// first-seen order.
func Validate(op Operation) ([]string, error) {
	var problems []string
	if !op.Kind.Valid() {
		problems = append(problems, "unknown operation kind "+quote(string(op.Kind)))
	}
	ids := dedupe(op.TargetIDs)
	if len(ids) == 0 {
		problems = append(problems, "at least one target id is required")
	}
	switch op.Kind {
	case KindUpdateStatus:
		if op.Payload.Status == "" {
			problems = append(problems, "payload.status is required")
		} else if !op.Payload.Status.Valid() {
			problems = append(problems, "payload.status "+quote(string(op.Payload.Status))+" is not a project status")
		}
	case KindAssignLead:
		if strings.TrimSpace(op.Payload.LeadID) == "" {
			problems = append(problems, "payload.lead_id is required")
		}
	}
	if len(problems) > 0 {
		return nil, domain.NewValidationError(problems...)
	}
	return ids, nil
}

// Execute runs op against every target and returns one result per distinct
// id, in input order. The returned error is non-nil only when op itself is
// invalid, in which case nothing was applied.
func (c Coordinator) Execute(ctx context.Context, op Operation, actorID string) ([]Result, error) {
	ids, err := Validate(op)
	if err != nil {
		return nil, err
	}
	log := logging.OrNop(c.Logger)
	limit := c.Parallelism
	if limit <= 0 {
		limit = DefaultParallelism
	}

	results := make([]Result, len(ids))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, id := range ids {
		g.Go(func() error {
			err := c.apply(ctx, op, id, actorID)
			results[i] = Result{ID: id, OK: err == nil}
			if err != nil {
				results[i].Error = err.Error()
				log.Warn("bulk item failed",
					zap.String("operation", string(op.Kind)),
					zap.String("project_id", id),
					zap.Error(err))
			}
			metrics.RecordBulkItem(string(op.Kind), err == nil)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if !r.OK {
			failed++
		}
	}
	log.Info("bulk operation finished",
		zap.String("operation", string(op.Kind)),
		zap.Int("targets", len(ids)),
		zap.Int("failed", failed))
	return results, nil
}

func (c Coordinator) apply(ctx context.Context, op Operation, id, actorID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.Authorize != nil {
		if err := c.Authorize(ctx, id); err != nil {
			return err
		}
	}
	switch op.Kind {
	case KindUpdateStatus:
		return c.Store.SetProjectStatus(ctx, id, op.Payload.Status, actorID)
	case KindAssignLead:
		return c.Store.AssignLead(ctx, id, strings.TrimSpace(op.Payload.LeadID), actorID)
	case KindArchive:
		return c.Store.SetProjectStatus(ctx, id, domain.ProjectArchived, actorID)
	default:
		return domain.NewValidationError("unknown operation kind " + quote(string(op.Kind)))
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func quote(s string) string { return `"` + s + `"` }
