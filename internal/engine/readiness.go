package engine

import (
	"context"
	"errors"

	"launchline/internal/approval"
	"launchline/internal/domain"
	"launchline/internal/metrics"
	"launchline/internal/phase"
	"launchline/internal/readiness"
	"launchline/internal/repo"
)

// ReadinessSnapshot gathers the counts the readiness checks read.
func (e Engine) ReadinessSnapshot(ctx context.Context, projectID string) (readiness.Snapshot, error) {
	if _, err := e.GetProject(ctx, projectID); err != nil {
		return readiness.Snapshot{}, err
	}
	counts, err := e.Repo.CountDeliverables(ctx, projectID)
	if err != nil {
		return readiness.Snapshot{}, err
	}
	pending, err := e.Repo.ListApprovals(ctx, repo.ApprovalFilters{ProjectID: projectID, Status: domain.ApprovalPending})
	if err != nil {
		return readiness.Snapshot{}, err
	}
	now := e.now()
	overdue := 0
	for _, a := range pending {
		if approval.IsOverdue(a, now) {
			overdue++
		}
	}
	snap := readiness.Snapshot{
		ProjectID:        projectID,
		Deliverables:     counts,
		PendingApprovals: len(pending),
		OverdueApprovals: overdue,
	}
	phases, err := e.loadPhasesTx(ctx, nil, projectID)
	switch {
	case err == nil:
		if cur, err := phase.Current(phases); err == nil {
			snap.CurrentPhase = &cur
		}
	case errors.Is(err, domain.ErrNoActivePhase):
		// already logged; the score does not depend on the phase
	default:
		return readiness.Snapshot{}, err
	}
	return snap, nil
}

// Readiness computes the launch readiness report for a project.
func (e Engine) Readiness(ctx context.Context, projectID string) (readiness.Report, error) {
	snap, err := e.ReadinessSnapshot(ctx, projectID)
	if err != nil {
		return readiness.Report{}, err
	}
	report := readiness.Compute(snap)
	metrics.SetReadinessScore(projectID, report.Score)
	return report, nil
}
