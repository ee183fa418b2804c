package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"launchline/internal/domain"
	"launchline/internal/events"
	"launchline/internal/repo"
)

// DeliverableInput records one fact reported by a workspace module.
type DeliverableInput struct {
	ProjectID string
	Kind      domain.DeliverableKind
	State     domain.DeliverableState
	Label     string
	ActorID   string
}

func (e Engine) RecordDeliverable(ctx context.Context, in DeliverableInput) (domain.Deliverable, error) {
	if in.State == "" {
		in.State = domain.StateDraft
	}
	var problems []string
	if !in.Kind.Valid() {
		problems = append(problems, fmt.Sprintf("unknown deliverable kind %q", in.Kind))
	}
	if !in.State.Valid() {
		problems = append(problems, fmt.Sprintf("unknown deliverable state %q", in.State))
	}
	if len(problems) > 0 {
		return domain.Deliverable{}, domain.NewValidationError(problems...)
	}
	now := e.stamp()
	d := domain.Deliverable{
		ID:        e.newID(),
		ProjectID: in.ProjectID,
		Kind:      in.Kind,
		State:     in.State,
		Label:     strings.TrimSpace(in.Label),
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Deliverable{}, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetProjectTx(ctx, tx, in.ProjectID); err != nil {
		return domain.Deliverable{}, fmt.Errorf("project %s: %w", in.ProjectID, err)
	}
	if err := e.Repo.InsertDeliverableTx(ctx, tx, d); err != nil {
		return domain.Deliverable{}, err
	}
	if err := e.events().Append(ctx, tx, events.DeliverableAdded, d.ProjectID, "deliverable", d.ID, in.ActorID, events.EventPayload{
		"kind":  d.Kind,
		"state": d.State,
	}); err != nil {
		return domain.Deliverable{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Deliverable{}, err
	}
	e.log().Info("deliverable recorded",
		zap.String("project_id", d.ProjectID),
		zap.String("deliverable_id", d.ID),
		zap.String("kind", string(d.Kind)))
	return d, nil
}

// UpdateDeliverableState moves a deliverable to state. A deliverable of
// another project reads as not found.
func (e Engine) UpdateDeliverableState(ctx context.Context, projectID, id string, state domain.DeliverableState, actorID string) (domain.Deliverable, error) {
	if !state.Valid() {
		return domain.Deliverable{}, domain.NewValidationError(fmt.Sprintf("unknown deliverable state %q", state))
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Deliverable{}, err
	}
	defer tx.Rollback()
	d, err := e.Repo.GetDeliverableTx(ctx, tx, id)
	if err != nil {
		return domain.Deliverable{}, fmt.Errorf("deliverable %s: %w", id, err)
	}
	if projectID != "" && d.ProjectID != projectID {
		return domain.Deliverable{}, fmt.Errorf("deliverable %s: %w", id, repo.ErrNotFound)
	}
	now := e.stamp()
	previous := d.State
	if err := e.Repo.UpdateDeliverableStateTx(ctx, tx, id, state, now); err != nil {
		return domain.Deliverable{}, err
	}
	d.State = state
	d.UpdatedAt = now
	if err := e.events().Append(ctx, tx, events.DeliverableUpdated, d.ProjectID, "deliverable", d.ID, actorID, events.EventPayload{
		"kind":           d.Kind,
		"state":          state,
		"previous_state": previous,
	}); err != nil {
		return domain.Deliverable{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Deliverable{}, err
	}
	return d, nil
}

func (e Engine) ListDeliverables(ctx context.Context, projectID string) ([]domain.Deliverable, error) {
	if _, err := e.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return e.Repo.ListDeliverables(ctx, projectID)
}
