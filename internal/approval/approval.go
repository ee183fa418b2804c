// Package approval implements the multi-reviewer approval rules. Every reviewer
// decides once; the request's status is derived from the reviewer decisions.
package approval

import (
	"fmt"
	"strings"
	"time"

	"launchline/internal/domain"
)

// Draft is the caller input for a new approval request.
type Draft struct {
	ProjectID   string
	Message     string
	DueDate     string
	ReviewerIDs []string
	PhaseOrder  *int
	CreatedBy   string
}

// New validates d and builds a PENDING request with one PENDING decision per
// distinct reviewer, in first-seen order.
func New(d Draft, id, now string) (domain.ApprovalRequest, error) {
	var problems []string
	msg := strings.TrimSpace(d.Message)
	if msg == "" {
		problems = append(problems, "message is required")
	}
	reviewers := normalizeReviewers(d.ReviewerIDs)
	if len(reviewers) == 0 {
		problems = append(problems, "at least one reviewer is required")
	}
	due := strings.TrimSpace(d.DueDate)
	if due != "" {
		if _, err := ParseDueDate(due); err != nil {
			problems = append(problems, fmt.Sprintf("due date %q is not a date or RFC 3339 timestamp", due))
		}
	}
	if d.PhaseOrder != nil && (*d.PhaseOrder < 0 || *d.PhaseOrder >= domain.PhaseCount) {
		problems = append(problems, fmt.Sprintf("phase order %d outside 0..%d", *d.PhaseOrder, domain.PhaseCount-1))
	}
	if len(problems) > 0 {
		return domain.ApprovalRequest{}, domain.NewValidationError(problems...)
	}
	req := domain.ApprovalRequest{
		ID:         id,
		ProjectID:  d.ProjectID,
		Message:    msg,
		PhaseOrder: d.PhaseOrder,
		Status:     domain.ApprovalPending,
		CreatedBy:  d.CreatedBy,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if due != "" {
		req.DueDate = &due
	}
	for _, r := range reviewers {
		req.Reviewers = append(req.Reviewers, domain.ReviewerDecision{ReviewerID: r, Status: domain.ApprovalPending})
	}
	return req, nil
}

func normalizeReviewers(ids []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Review records reviewerID's decision and recomputes the aggregate status.
// The input request is not modified.
func Review(req domain.ApprovalRequest, reviewerID string, decision domain.ApprovalStatus, feedback, now string) (domain.ApprovalRequest, error) {
	idx := -1
	for i, r := range req.Reviewers {
		if r.ReviewerID == reviewerID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return req, domain.ErrNotAReviewer
	}
	if req.Reviewers[idx].Status != domain.ApprovalPending {
		return req, domain.ErrAlreadyReviewed
	}
	if !decision.IsDecision() {
		return req, domain.NewValidationError(fmt.Sprintf("decision must be %s or %s", domain.ApprovalApproved, domain.ApprovalChangesRequested))
	}
	feedback = strings.TrimSpace(feedback)
	if decision == domain.ApprovalChangesRequested && feedback == "" {
		return req, domain.FeedbackRequired()
	}

	out := req
	out.Reviewers = make([]domain.ReviewerDecision, len(req.Reviewers))
	copy(out.Reviewers, req.Reviewers)
	reviewedAt := now
	out.Reviewers[idx].Status = decision
	out.Reviewers[idx].ReviewedAt = &reviewedAt
	if feedback != "" {
		out.Reviewers[idx].FeedbackText = &feedback
	}
	out.Status = Aggregate(out.Reviewers)
	out.UpdatedAt = now
	return out, nil
}

// Aggregate derives a request status: any CHANGES_REQUESTED wins, all
// APPROVED yields APPROVED, anything else is PENDING.
func Aggregate(reviewers []domain.ReviewerDecision) domain.ApprovalStatus {
	if len(reviewers) == 0 {
		return domain.ApprovalPending
	}
	approved := 0
	for _, r := range reviewers {
		switch r.Status {
		case domain.ApprovalChangesRequested:
			return domain.ApprovalChangesRequested
		case domain.ApprovalApproved:
			approved++
		case domain.ApprovalPending:
		}
	}
	if approved == len(reviewers) {
		return domain.ApprovalApproved
	}
	return domain.ApprovalPending
}

// ParseDueDate accepts RFC 3339 timestamps and plain YYYY-MM-DD dates. A plain
// date is due at the end of that UTC day.
func ParseDueDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, err
	}
	return d.Add(24 * time.Hour), nil
}

// IsOverdue reports whether req is still PENDING past its due date.
func IsOverdue(req domain.ApprovalRequest, now time.Time) bool {
	if req.Status != domain.ApprovalPending || req.DueDate == nil {
		return false
	}
	due, err := ParseDueDate(*req.DueDate)
	if err != nil {
		return false
	}
	return now.After(due)
}
