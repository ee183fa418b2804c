package launchlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Launchline HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration

	// ActorID is sent as X-Actor-Id when no credential is set. Servers accept
	// it only when started with the legacy header allowed.
	ActorID string
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

type Project struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	CreatorName string  `json:"creator_name,omitempty"`
	Status      string  `json:"status"`
	LeadID      *string `json:"lead_id,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

type Phase struct {
	ID         string  `json:"id"`
	PhaseKey   string  `json:"phase_key"`
	PhaseName  string  `json:"phase_name"`
	PhaseOrder int     `json:"phase_order"`
	Status     string  `json:"status"`
	StartDate  *string `json:"start_date,omitempty"`
	EndDate    *string `json:"end_date,omitempty"`
}

type TabState struct {
	Key      string `json:"key"`
	Phase    string `json:"phase,omitempty"`
	Unlocked bool   `json:"unlocked"`
}

// Board is the phase read: phases, the current phase and tab lock states.
type Board struct {
	ProjectID string     `json:"project_id"`
	Phases    []Phase    `json:"phases"`
	Current   Phase      `json:"current"`
	Finished  bool       `json:"finished"`
	Tabs      []TabState `json:"tabs"`
}

// Unlocked reports the state of tab key; unknown tabs are locked.
func (b Board) Unlocked(key string) bool {
	for _, t := range b.Tabs {
		if t.Key == key {
			return t.Unlocked
		}
	}
	return false
}

type Reviewer struct {
	ReviewerID   string  `json:"reviewer_id"`
	Status       string  `json:"status"`
	FeedbackText *string `json:"feedback_text,omitempty"`
	ReviewedAt   *string `json:"reviewed_at,omitempty"`
}

type Approval struct {
	ID         string     `json:"id"`
	ProjectID  string     `json:"project_id"`
	Message    string     `json:"message"`
	DueDate    *string    `json:"due_date,omitempty"`
	PhaseOrder *int       `json:"phase_order,omitempty"`
	Status     string     `json:"status"`
	CreatedBy  string     `json:"created_by"`
	Reviewers  []Reviewer `json:"reviewers"`
	Overdue    bool       `json:"overdue"`
}

// ApprovalInput is the body of a new approval request.
type ApprovalInput struct {
	Message     string   `json:"message"`
	DueDate     string   `json:"due_date,omitempty"`
	ReviewerIDs []string `json:"reviewer_ids"`
	PhaseOrder  *int     `json:"phase_order,omitempty"`
}

type ReadinessCheck struct {
	Label    string `json:"label"`
	Complete bool   `json:"complete"`
	Phase    string `json:"phase"`
}

type Readiness struct {
	ProjectID        string           `json:"project_id"`
	Score            int              `json:"score"`
	Checks           []ReadinessCheck `json:"checks"`
	Missing          []string         `json:"missing"`
	PendingApprovals int              `json:"pending_approvals"`
	OverdueApprovals int              `json:"overdue_approvals"`
	CurrentPhase     *Phase           `json:"current_phase,omitempty"`
}

type Deliverable struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Kind      string `json:"kind"`
	State     string `json:"state"`
	Label     string `json:"label,omitempty"`
}

type BulkResult struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type BulkResponse struct {
	Results   []BulkResult `json:"results"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code is the envelope's error code when
// the body carried one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProject creates a project; the server seeds its eight phases.
func (c *Client) CreateProject(ctx context.Context, id, name, creatorName string) (Project, []Phase, error) {
	body := map[string]any{"id": id, "name": name, "creator_name": creatorName}
	var resp struct {
		Project Project `json:"project"`
		Phases  []Phase `json:"phases"`
	}
	err := c.do(ctx, http.MethodPost, "v0/projects", body, &resp)
	return resp.Project, resp.Phases, err
}

func (c *Client) GetProject(ctx context.Context) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, c.projectPath(""), nil, &resp)
	return resp, err
}

func (c *Client) ListProjects(ctx context.Context, status string) ([]Project, error) {
	endpoint := "v0/projects"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp struct {
		Items []Project `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) PhaseBoard(ctx context.Context) (Board, error) {
	var resp Board
	err := c.do(ctx, http.MethodGet, c.projectPath("phases"), nil, &resp)
	return resp, err
}

// AdvancePhase moves the project to toOrder and returns the new board.
func (c *Client) AdvancePhase(ctx context.Context, toOrder int) (Board, error) {
	var resp Board
	err := c.do(ctx, http.MethodPost, c.projectPath("phases/advance"), map[string]any{"to_order": toOrder}, &resp)
	return resp, err
}

func (c *Client) RequestApproval(ctx context.Context, in ApprovalInput) (Approval, error) {
	var resp Approval
	err := c.do(ctx, http.MethodPost, c.projectPath("approvals"), in, &resp)
	return resp, err
}

// ReviewApproval records a decision. An empty reviewerID reviews as the
// authenticated actor.
func (c *Client) ReviewApproval(ctx context.Context, approvalID, reviewerID, status, feedback string) (Approval, error) {
	body := map[string]any{"status": status}
	if reviewerID != "" {
		body["reviewer_id"] = reviewerID
	}
	if feedback != "" {
		body["feedback_text"] = feedback
	}
	var resp Approval
	err := c.do(ctx, http.MethodPatch, c.projectPath("approvals/"+url.PathEscape(approvalID)), body, &resp)
	return resp, err
}

func (c *Client) GetApproval(ctx context.Context, approvalID string) (Approval, error) {
	var resp Approval
	err := c.do(ctx, http.MethodGet, c.projectPath("approvals/"+url.PathEscape(approvalID)), nil, &resp)
	return resp, err
}

func (c *Client) ListApprovals(ctx context.Context, status string) ([]Approval, error) {
	endpoint := c.projectPath("approvals")
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp struct {
		Items []Approval `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) Readiness(ctx context.Context) (Readiness, error) {
	var resp Readiness
	err := c.do(ctx, http.MethodGet, c.projectPath("readiness"), nil, &resp)
	return resp, err
}

// RecordDeliverable reports a module fact; an empty state means DRAFT.
func (c *Client) RecordDeliverable(ctx context.Context, kind, state, label string) (Deliverable, error) {
	body := map[string]any{"kind": kind}
	if state != "" {
		body["state"] = state
	}
	if label != "" {
		body["label"] = label
	}
	var resp Deliverable
	err := c.do(ctx, http.MethodPost, c.projectPath("deliverables"), body, &resp)
	return resp, err
}

func (c *Client) SetDeliverableState(ctx context.Context, id, state string) (Deliverable, error) {
	var resp Deliverable
	err := c.do(ctx, http.MethodPatch, c.projectPath("deliverables/"+url.PathEscape(id)), map[string]any{"state": state}, &resp)
	return resp, err
}

// Bulk runs operationKind (updateStatus, assignLead or archive) over targetIDs.
func (c *Client) Bulk(ctx context.Context, operationKind string, targetIDs []string, status, leadID string) (BulkResponse, error) {
	payload := map[string]any{}
	if status != "" {
		payload["status"] = status
	}
	if leadID != "" {
		payload["lead_id"] = leadID
	}
	body := map[string]any{
		"operation_kind": operationKind,
		"target_ids":     targetIDs,
		"payload":        payload,
	}
	var resp BulkResponse
	err := c.do(ctx, http.MethodPost, "v0/projects/bulk", body, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := c.projectPath("events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	if p == "" {
		return "v0/projects/" + project
	}
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
