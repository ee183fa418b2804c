package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"launchline/internal/domain"
	"launchline/internal/events"
	"launchline/internal/metrics"
	"launchline/internal/phase"
	"launchline/internal/repo"
)

// Board is the phase read: the list, the current phase and every tab's lock state.
type Board struct {
	ProjectID string           `json:"project_id"`
	Phases    []domain.Phase   `json:"phases"`
	Current   domain.Phase     `json:"current"`
	Finished  bool             `json:"finished"`
	Tabs      []phase.TabState `json:"tabs"`
}

func (e Engine) PhaseBoard(ctx context.Context, projectID string) (Board, error) {
	phases, err := e.loadPhasesTx(ctx, nil, projectID)
	if err != nil {
		return Board{}, err
	}
	cfg, err := e.projectConfigTx(ctx, nil, projectID)
	if err != nil {
		return Board{}, err
	}
	cur, err := phase.Current(phases)
	if err != nil {
		return Board{}, err
	}
	return Board{
		ProjectID: projectID,
		Phases:    phases,
		Current:   cur,
		Finished:  phase.Finished(phases),
		Tabs:      phase.States(phases, cfg.TabTable()),
	}, nil
}

func (e Engine) ListPhases(ctx context.Context, projectID string) ([]domain.Phase, error) {
	return e.loadPhasesTx(ctx, nil, projectID)
}

// CurrentPhase returns the IN_PROGRESS phase, or the last one once all are
// complete. A project without phases yields ErrNoActivePhase.
func (e Engine) CurrentPhase(ctx context.Context, projectID string) (domain.Phase, error) {
	phases, err := e.loadPhasesTx(ctx, nil, projectID)
	if err != nil {
		return domain.Phase{}, err
	}
	return phase.Current(phases)
}

// IsUnlocked reports whether the tab is available for the project.
func (e Engine) IsUnlocked(ctx context.Context, projectID, tabKey string) (bool, error) {
	phases, err := e.loadPhasesTx(ctx, nil, projectID)
	if err != nil {
		return false, err
	}
	cfg, err := e.projectConfigTx(ctx, nil, projectID)
	if err != nil {
		return false, err
	}
	return phase.Unlocked(phases, cfg.TabTable(), tabKey), nil
}

// AdvancePhase completes the current phase and starts the phase at toOrder.
// Completing the last phase marks the project COMPLETED.
func (e Engine) AdvancePhase(ctx context.Context, projectID string, toOrder int, actorID string) ([]domain.Phase, error) {
	phases, err := e.advancePhase(ctx, projectID, toOrder, actorID)
	switch {
	case err == nil:
		metrics.RecordPhaseAdvance("ok")
	case errors.As(err, new(domain.InvalidTransitionError)):
		metrics.RecordPhaseAdvance("invalid")
		e.log().Info("phase advance rejected",
			zap.String("project_id", projectID),
			zap.Int("to_order", toOrder),
			zap.Error(err))
	default:
		metrics.RecordPhaseAdvance("error")
	}
	return phases, err
}

func (e Engine) advancePhase(ctx context.Context, projectID string, toOrder int, actorID string) ([]domain.Phase, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	phases, err := e.loadPhasesTx(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	cfg, err := e.projectConfigTx(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	policy := phase.PolicyFrom(cfg.Definitions())
	var approvals []domain.ApprovalRequest
	if len(policy.RequireApproval) > 0 {
		approvals, err = e.Repo.ListApprovalsTx(ctx, tx, repo.ApprovalFilters{ProjectID: projectID})
		if err != nil {
			return nil, err
		}
	}
	now := e.stamp()
	updated, tr, err := phase.Advance(phases, toOrder, policy, approvals, now)
	if err != nil {
		return nil, err
	}
	// Completed first: at most one IN_PROGRESS row may exist at any time.
	if err := e.Repo.UpdatePhaseTx(ctx, tx, tr.Completed); err != nil {
		return nil, err
	}
	payload := events.EventPayload{
		"from_order": tr.Completed.PhaseOrder,
		"to_order":   toOrder,
		"completed":  tr.Completed.PhaseKey,
	}
	if tr.Started != nil {
		if err := e.Repo.UpdatePhaseTx(ctx, tx, *tr.Started); err != nil {
			return nil, err
		}
		payload["started"] = tr.Started.PhaseKey
	} else {
		status := domain.ProjectCompleted
		if err := e.Repo.UpdateProjectTx(ctx, tx, projectID, repo.ProjectChanges{Status: &status}, now); err != nil {
			return nil, fmt.Errorf("complete project: %w", err)
		}
		payload["project_status"] = status
	}
	if err := e.events().Append(ctx, tx, events.PhaseAdvanced, projectID, "phase", tr.Completed.ID, actorID, payload); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	e.log().Info("phase advanced",
		zap.String("project_id", projectID),
		zap.Int("from_order", tr.Completed.PhaseOrder),
		zap.Int("to_order", toOrder))
	return updated, nil
}
