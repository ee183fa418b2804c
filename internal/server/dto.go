package server

import (
	"encoding/json"

	"launchline/internal/bulk"
	"launchline/internal/domain"
	"launchline/internal/readiness"
)

// Request payloads

type CreateProjectRequest struct {
	ID          string  `json:"id,omitempty"`
	Name        string  `json:"name"`
	CreatorName string  `json:"creator_name,omitempty"`
	LeadID      *string `json:"lead_id,omitempty"`
}

type UpdateProjectRequest struct {
	Name        *string `json:"name,omitempty"`
	CreatorName *string `json:"creator_name,omitempty"`
	Status      *string `json:"status,omitempty" enum:"ACTIVE,ON_HOLD,COMPLETED,ARCHIVED"`
	LeadID      *string `json:"lead_id,omitempty"`
}

type AdvancePhaseRequest struct {
	ToOrder int `json:"to_order"`
}

type CreateApprovalRequest struct {
	Message     string   `json:"message"`
	DueDate     *string  `json:"due_date,omitempty" example:"2024-03-15"`
	ReviewerIDs []string `json:"reviewer_ids"`
	PhaseOrder  *int     `json:"phase_order,omitempty"`
}

type ReviewApprovalRequest struct {
	ReviewerID   string  `json:"reviewer_id,omitempty"`
	Status       string  `json:"status" enum:"APPROVED,CHANGES_REQUESTED"`
	FeedbackText *string `json:"feedback_text,omitempty"`
}

type CreateDeliverableRequest struct {
	Kind  string `json:"kind" enum:"DISCOVERY,COLOR_PALETTE,LOGO,TYPOGRAPHY,SKU,PROTOTYPE,VENDOR,PURCHASE_ORDER,WEBSITE_CONFIG,PAGE,CONTENT_POST,AD_CREATIVE"`
	State string `json:"state,omitempty" enum:"DRAFT,APPROVED,DELETED,PUBLISHED,SCHEDULED,ACTIVE"`
	Label string `json:"label,omitempty"`
}

type UpdateDeliverableRequest struct {
	State string `json:"state" enum:"DRAFT,APPROVED,DELETED,PUBLISHED,SCHEDULED,ACTIVE"`
}

type BulkRequest struct {
	OperationKind string       `json:"operation_kind" enum:"updateStatus,assignLead,archive"`
	TargetIDs     []string     `json:"target_ids"`
	Payload       bulk.Payload `json:"payload,omitempty"`
}

type DevLoginRequest struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Response payloads

type ProjectWithPhasesResponse struct {
	Project domain.Project `json:"project"`
	Phases  []domain.Phase `json:"phases"`
}

// ApprovalResponse is an approval request plus its overdue flag. Fields are
// listed rather than embedded so huma can attach the schema link.
type ApprovalResponse struct {
	ID         string                    `json:"id"`
	ProjectID  string                    `json:"project_id"`
	Message    string                    `json:"message"`
	DueDate    *string                   `json:"due_date,omitempty"`
	PhaseOrder *int                      `json:"phase_order,omitempty"`
	Status     domain.ApprovalStatus     `json:"status" enum:"PENDING,APPROVED,CHANGES_REQUESTED"`
	CreatedBy  string                    `json:"created_by"`
	CreatedAt  string                    `json:"created_at" format:"date-time"`
	UpdatedAt  string                    `json:"updated_at" format:"date-time"`
	Reviewers  []domain.ReviewerDecision `json:"reviewers"`
	Overdue    bool                      `json:"overdue"`
}

type ReadinessResponse struct {
	ProjectID string `json:"project_id"`
	readiness.Report
}

type BulkResponse struct {
	Results   []bulk.Result `json:"results"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Source      string   `json:"source"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type projectList struct {
	Items []domain.Project `json:"items"`
}

type approvalList struct {
	Items []ApprovalResponse `json:"items"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func bulkResponse(results []bulk.Result) BulkResponse {
	res := BulkResponse{Results: nonNilSlice(results)}
	for _, r := range results {
		if r.OK {
			res.Succeeded++
		} else {
			res.Failed++
		}
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]any{"raw": raw}
	}
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
