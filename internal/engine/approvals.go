package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"launchline/internal/approval"
	"launchline/internal/domain"
	"launchline/internal/events"
	"launchline/internal/metrics"
	"launchline/internal/repo"
)

// RequestApproval validates the draft and stores a PENDING request.
func (e Engine) RequestApproval(ctx context.Context, d approval.Draft) (domain.ApprovalRequest, error) {
	req, err := approval.New(d, e.newID(), e.stamp())
	if err != nil {
		return domain.ApprovalRequest{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ApprovalRequest{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetProjectTx(ctx, tx, d.ProjectID); err != nil {
		return domain.ApprovalRequest{}, fmt.Errorf("project %s: %w", d.ProjectID, err)
	}
	if err := e.Repo.InsertApprovalTx(ctx, tx, req); err != nil {
		return domain.ApprovalRequest{}, fmt.Errorf("insert approval: %w", err)
	}
	reviewers := make([]string, 0, len(req.Reviewers))
	for _, r := range req.Reviewers {
		reviewers = append(reviewers, r.ReviewerID)
	}
	payload := events.EventPayload{"reviewers": reviewers}
	if req.PhaseOrder != nil {
		payload["phase_order"] = *req.PhaseOrder
	}
	if req.DueDate != nil {
		payload["due_date"] = *req.DueDate
	}
	if err := e.events().Append(ctx, tx, events.ApprovalRequested, req.ProjectID, "approval", req.ID, d.CreatedBy, payload); err != nil {
		return domain.ApprovalRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ApprovalRequest{}, err
	}
	metrics.ApprovalRequests.Inc()
	e.log().Info("approval requested",
		zap.String("project_id", req.ProjectID),
		zap.String("approval_id", req.ID),
		zap.Int("reviewers", len(req.Reviewers)))
	return req, nil
}

// ReviewOptions carry one reviewer decision.
type ReviewOptions struct {
	ApprovalID string
	ReviewerID string
	Decision   domain.ApprovalStatus
	Feedback   string
	ActorID    string
}

// ReviewApproval records a reviewer decision and recomputes the request status.
func (e Engine) ReviewApproval(ctx context.Context, opts ReviewOptions) (domain.ApprovalRequest, error) {
	req, err := e.reviewApproval(ctx, opts)
	if err != nil {
		metrics.RecordApprovalReview("rejected")
		return req, err
	}
	metrics.RecordApprovalReview(string(opts.Decision))
	return req, nil
}

func (e Engine) reviewApproval(ctx context.Context, opts ReviewOptions) (domain.ApprovalRequest, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ApprovalRequest{}, err
	}
	defer tx.Rollback()

	current, err := e.Repo.GetApprovalTx(ctx, tx, opts.ApprovalID)
	if err != nil {
		return domain.ApprovalRequest{}, fmt.Errorf("approval %s: %w", opts.ApprovalID, err)
	}
	now := e.stamp()
	updated, err := approval.Review(current, opts.ReviewerID, opts.Decision, opts.Feedback, now)
	if err != nil {
		return domain.ApprovalRequest{}, err
	}
	decision, _ := updated.Reviewer(opts.ReviewerID)
	if err := e.Repo.RecordDecisionTx(ctx, tx, updated.ID, decision); err != nil {
		return domain.ApprovalRequest{}, err
	}
	if err := e.Repo.UpdateApprovalStatusTx(ctx, tx, updated.ID, updated.Status, now); err != nil {
		return domain.ApprovalRequest{}, err
	}
	actorID := opts.ActorID
	if actorID == "" {
		actorID = opts.ReviewerID
	}
	payload := events.EventPayload{
		"reviewer_id": opts.ReviewerID,
		"decision":    opts.Decision,
		"status":      updated.Status,
	}
	if decision.FeedbackText != nil {
		payload["feedback_text"] = *decision.FeedbackText
	}
	if err := e.events().Append(ctx, tx, events.ApprovalReviewed, updated.ProjectID, "approval", updated.ID, actorID, payload); err != nil {
		return domain.ApprovalRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ApprovalRequest{}, err
	}
	e.log().Info("approval reviewed",
		zap.String("project_id", updated.ProjectID),
		zap.String("approval_id", updated.ID),
		zap.String("reviewer_id", opts.ReviewerID),
		zap.String("status", string(updated.Status)))
	return updated, nil
}

func (e Engine) GetApproval(ctx context.Context, id string) (domain.ApprovalRequest, error) {
	a, err := e.Repo.GetApproval(ctx, id)
	if err != nil {
		return a, fmt.Errorf("approval %s: %w", id, err)
	}
	return a, nil
}

// ApprovalListFilter narrows ListApprovals. Overdue, when set, keeps only
// requests whose overdue state matches.
type ApprovalListFilter struct {
	Status  domain.ApprovalStatus
	Overdue *bool
}

func (e Engine) ListApprovals(ctx context.Context, projectID string, f ApprovalListFilter) ([]domain.ApprovalRequest, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, domain.NewValidationError(fmt.Sprintf("unknown approval status %q", f.Status))
	}
	if _, err := e.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	items, err := e.Repo.ListApprovals(ctx, repo.ApprovalFilters{ProjectID: projectID, Status: f.Status})
	if err != nil {
		return nil, err
	}
	if f.Overdue == nil {
		return items, nil
	}
	now := e.now()
	out := items[:0]
	for _, a := range items {
		if approval.IsOverdue(a, now) == *f.Overdue {
			out = append(out, a)
		}
	}
	return out, nil
}

// IsOverdue reports whether the approval is still pending past its due date.
func (e Engine) IsOverdue(ctx context.Context, id string) (bool, error) {
	a, err := e.GetApproval(ctx, id)
	if err != nil {
		return false, err
	}
	return approval.IsOverdue(a, e.now()), nil
}
