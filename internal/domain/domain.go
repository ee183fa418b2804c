package domain

type Project struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	CreatorName string        `json:"creator_name,omitempty"`
	Status      ProjectStatus `json:"status" enum:"ACTIVE,ON_HOLD,COMPLETED,ARCHIVED"`
	LeadID      *string       `json:"lead_id,omitempty"`
	CreatedAt   string        `json:"created_at" format:"date-time"`
	UpdatedAt   string        `json:"updated_at" format:"date-time"`
}

// Phase is one milestone row of a project. PhaseKey is the stable identifier
// tabs are mapped to; PhaseName is display text only.
type Phase struct {
	ID         string      `json:"id"`
	ProjectID  string      `json:"project_id"`
	PhaseKey   PhaseKey    `json:"phase_key"`
	PhaseName  string      `json:"phase_name"`
	PhaseOrder int         `json:"phase_order" minimum:"0" maximum:"7"`
	Status     PhaseStatus `json:"status" enum:"LOCKED,IN_PROGRESS,COMPLETED"`
	StartDate  *string     `json:"start_date,omitempty" format:"date-time"`
	EndDate    *string     `json:"end_date,omitempty" format:"date-time"`
}

type ReviewerDecision struct {
	ReviewerID   string         `json:"reviewer_id"`
	Status       ApprovalStatus `json:"status" enum:"PENDING,APPROVED,CHANGES_REQUESTED"`
	FeedbackText *string        `json:"feedback_text,omitempty"`
	ReviewedAt   *string        `json:"reviewed_at,omitempty" format:"date-time"`
}

type ApprovalRequest struct {
	ID         string             `json:"id"`
	ProjectID  string             `json:"project_id"`
	Message    string             `json:"message"`
	DueDate    *string            `json:"due_date,omitempty"`
	PhaseOrder *int               `json:"phase_order,omitempty"`
	Status     ApprovalStatus     `json:"status" enum:"PENDING,APPROVED,CHANGES_REQUESTED"`
	CreatedBy  string             `json:"created_by"`
	CreatedAt  string             `json:"created_at" format:"date-time"`
	UpdatedAt  string             `json:"updated_at" format:"date-time"`
	Reviewers  []ReviewerDecision `json:"reviewers"`
}

// Reviewer returns the decision slot for reviewerID.
func (a ApprovalRequest) Reviewer(reviewerID string) (ReviewerDecision, bool) {
	for _, r := range a.Reviewers {
		if r.ReviewerID == reviewerID {
			return r, true
		}
	}
	return ReviewerDecision{}, false
}

// Deliverable is a fact recorded by one of the workspace modules (branding,
// product, website...). The readiness snapshot is built from these rows.
type Deliverable struct {
	ID        string           `json:"id"`
	ProjectID string           `json:"project_id"`
	Kind      DeliverableKind  `json:"kind"`
	State     DeliverableState `json:"state"`
	Label     string           `json:"label,omitempty"`
	CreatedAt string           `json:"created_at" format:"date-time"`
	UpdatedAt string           `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
