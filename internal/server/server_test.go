package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"launchline/internal/config"
	"launchline/internal/db"
	"launchline/internal/domain"
	"launchline/internal/engine"
	"launchline/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	e := engine.New(conn, config.Default("")).WithClock(func() time.Time { return now })
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              testSecret,
			AllowLegacyActorHeader: true,
			EnableDevLogin:         true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func as(actor string) map[string]string {
	return map[string]string{"X-Actor-Id": actor}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, data)
	}
	return env.Error.Code
}

func createProject(t *testing.T, srv *testServer, id, owner string) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects", map[string]any{
		"id":           id,
		"name":         "Glow " + id,
		"creator_name": "Ava",
	}, as(owner))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project %s status %d: %s", id, res.StatusCode, data)
	}
}

func TestHealthAndAuthRequired(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, data)
	}
	if code := errorCode(t, data); code != "unauthorized" {
		t.Fatalf("code = %q", code)
	}
}

func TestCreateProjectAndAdvance(t *testing.T) {
	srv := newTestServer(t)
	createProject(t, srv, "glow", "owner-1")
	base := srv.URL + "/v0/projects/glow"

	res, data := doJSON(t, srv.Client(), http.MethodGet, base+"/phases", nil, as("owner-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("board status %d: %s", res.StatusCode, data)
	}
	var board engine.Board
	if err := json.Unmarshal(data, &board); err != nil {
		t.Fatalf("unmarshal board: %v", err)
	}
	if len(board.Phases) != domain.PhaseCount || board.Current.PhaseOrder != 0 {
		t.Fatalf("unexpected board: %+v", board)
	}
	unlocked := map[string]bool{}
	for _, tab := range board.Tabs {
		unlocked[tab.Key] = tab.Unlocked
	}
	if !unlocked["overview"] || !unlocked["discovery"] || unlocked["branding"] {
		t.Fatalf("tab states = %v", unlocked)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, base+"/phases/advance", map[string]any{"to_order": 3}, as("owner-1"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("skip advance: expected 409, got %d: %s", res.StatusCode, data)
	}
	if code := errorCode(t, data); code != "invalid_transition" {
		t.Fatalf("code = %q", code)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, base+"/phases/advance", map[string]any{"to_order": 1}, as("owner-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("advance status %d: %s", res.StatusCode, data)
	}
	if err := json.Unmarshal(data, &board); err != nil {
		t.Fatalf("unmarshal board: %v", err)
	}
	if board.Current.PhaseOrder != 1 || board.Phases[0].Status != domain.PhaseCompleted {
		t.Fatalf("after advance: %+v", board)
	}
}

func TestForbiddenWithoutRole(t *testing.T) {
	srv := newTestServer(t)
	createProject(t, srv, "glow", "owner-1")
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/glow", nil, as("stranger"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, data)
	}
	if code := errorCode(t, data); code != "forbidden" {
		t.Fatalf("code = %q", code)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects", map[string]any{"name": "Other"}, as("stranger"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("second project by stranger: expected 403, got %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/missing", nil, as("owner-1"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("unknown project without role: expected 403, got %d: %s", res.StatusCode, data)
	}
}

func TestApprovalReviewFlow(t *testing.T) {
	srv := newTestServer(t)
	createProject(t, srv, "glow", "owner-1")
	base := srv.URL + "/v0/projects/glow/approvals"

	res, data := doJSON(t, srv.Client(), http.MethodPost, base, map[string]any{
		"message":      "",
		"reviewer_ids": []string{},
	}, as("owner-1"))
	if res.StatusCode != http.StatusBadRequest || errorCode(t, data) != "validation_failed" {
		t.Fatalf("empty request: %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, base, map[string]any{
		"message":      "Approve the logo",
		"due_date":     "2024-02-28",
		"reviewer_ids": []string{"creator-1", " creator-2 ", "creator-1"},
	}, as("owner-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("request status %d: %s", res.StatusCode, data)
	}
	var created ApprovalResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal approval: %v", err)
	}
	if len(created.Reviewers) != 2 || created.Status != domain.ApprovalPending || !created.Overdue {
		t.Fatalf("unexpected approval: %+v", created)
	}
	item := base + "/" + created.ID
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal raw approval: %v", err)
	}
	if link, _ := raw["$schema"].(string); !strings.Contains(link, "ApprovalResponse") {
		t.Fatalf("approval body lacks schema link: %s", data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPatch, item, map[string]any{"status": "APPROVED"}, as("stranger"))
	if res.StatusCode != http.StatusForbidden || errorCode(t, data) != "not_a_reviewer" {
		t.Fatalf("stranger review: %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPatch, item, map[string]any{"status": "APPROVED"}, as("creator-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, data)
	}
	var reviewed ApprovalResponse
	if err := json.Unmarshal(data, &reviewed); err != nil {
		t.Fatalf("unmarshal approval: %v", err)
	}
	if reviewed.Status != domain.ApprovalPending {
		t.Fatalf("one of two approvals should stay pending, got %s", reviewed.Status)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPatch, item, map[string]any{"status": "CHANGES_REQUESTED"}, as("creator-1"))
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "already_reviewed" {
		t.Fatalf("second review: %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPatch, item, map[string]any{"status": "CHANGES_REQUESTED"}, as("creator-2"))
	if res.StatusCode != http.StatusBadRequest || errorCode(t, data) != "feedback_required" {
		t.Fatalf("changes without feedback: %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPatch, item, map[string]any{
		"status":        "CHANGES_REQUESTED",
		"feedback_text": "Warmer tones please",
	}, as("creator-2"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("changes status %d: %s", res.StatusCode, data)
	}
	if err := json.Unmarshal(data, &reviewed); err != nil {
		t.Fatalf("unmarshal approval: %v", err)
	}
	if reviewed.Status != domain.ApprovalChangesRequested || reviewed.Overdue {
		t.Fatalf("after changes requested: %+v", reviewed)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, base+"?status=CHANGES_REQUESTED", nil, as("owner-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, data)
	}
	var list approvalList
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].ID != created.ID {
		t.Fatalf("list = %+v", list.Items)
	}
}

func TestReadinessAndDeliverables(t *testing.T) {
	srv := newTestServer(t)
	createProject(t, srv, "glow", "owner-1")
	base := srv.URL + "/v0/projects/glow"

	res, data := doJSON(t, srv.Client(), http.MethodPost, base+"/deliverables", map[string]any{
		"kind":  "DISCOVERY",
		"label": "Brand questionnaire",
	}, as("owner-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("record status %d: %s", res.StatusCode, data)
	}
	var d domain.Deliverable
	if err := json.Unmarshal(data, &d); err != nil {
		t.Fatalf("unmarshal deliverable: %v", err)
	}
	if d.State != domain.StateDraft {
		t.Fatalf("default state = %s", d.State)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, base+"/readiness", nil, as("owner-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("readiness status %d: %s", res.StatusCode, data)
	}
	var report ReadinessResponse
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("unmarshal readiness: %v", err)
	}
	if report.Score != 8 || len(report.Checks) != 12 || len(report.Missing) != 11 {
		t.Fatalf("readiness = %+v", report)
	}
	if report.Missing[0] != "Color palette approved" {
		t.Fatalf("missing order = %v", report.Missing)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPatch, base+"/deliverables/"+d.ID, map[string]any{"state": "DELETED"}, as("owner-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update status %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, base+"/events?entity_kind=deliverable", nil, as("owner-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, data)
	}
	var evts paginatedEvents
	if err := json.Unmarshal(data, &evts); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(evts.Items) != 2 || evts.Items[0].Type != "deliverable.updated" {
		t.Fatalf("events = %+v", evts.Items)
	}
	if evts.Items[0].Payload["previous_state"] != "DRAFT" {
		t.Fatalf("payload = %v", evts.Items[0].Payload)
	}
}

func TestBulkArchiveReportsPerItem(t *testing.T) {
	srv := newTestServer(t)
	createProject(t, srv, "glow", "owner-1")
	createProject(t, srv, "lumen", "owner-1")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/bulk", map[string]any{
		"operation_kind": "archive",
		"target_ids":     []string{"glow", "missing", "lumen"},
	}, as("owner-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("bulk status %d: %s", res.StatusCode, data)
	}
	var out BulkResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal bulk: %v", err)
	}
	if out.Succeeded != 2 || out.Failed != 1 || len(out.Results) != 3 {
		t.Fatalf("bulk = %+v", out)
	}
	if out.Results[1].ID != "missing" || out.Results[1].OK || out.Results[1].Error == "" {
		t.Fatalf("missing result = %+v", out.Results[1])
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects?status=ARCHIVED", nil, as("owner-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, data)
	}
	var projects projectList
	if err := json.Unmarshal(data, &projects); err != nil {
		t.Fatalf("unmarshal projects: %v", err)
	}
	if len(projects.Items) != 2 {
		t.Fatalf("archived projects = %+v", projects.Items)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/bulk", map[string]any{
		"operation_kind": "updateStatus",
		"target_ids":     []string{"glow"},
	}, as("owner-1"))
	if res.StatusCode != http.StatusBadRequest || errorCode(t, data) != "validation_failed" {
		t.Fatalf("bulk without status: %d %s", res.StatusCode, data)
	}
}

func TestJWTPrincipal(t *testing.T) {
	srv := newTestServer(t)
	createProject(t, srv, "glow", "owner-1")

	token, err := SignToken(testSecret, "reader", []string{"viewer"}, []string{config.PermProjectRead}, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	bearer := map[string]string{"Authorization": "Bearer " + token}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/glow", nil, bearer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get project status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/glow/phases/advance", map[string]any{"to_order": 1}, bearer)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("advance without permission: %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, bearer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, data)
	}
	var me WhoAmIResponse
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.ActorID != "reader" || me.Source != "jwt" || len(me.Roles) != 1 {
		t.Fatalf("me = %+v", me)
	}

	bad, err := SignToken("other-secret", "reader", nil, nil, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + bad})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("foreign token: %d %s", res.StatusCode, data)
	}
}

func TestDevLoginAndMetrics(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"actor_id": "dev"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, data)
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("dev login body %s (%v)", data, err)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", res.StatusCode)
	}
	if !strings.Contains(string(data), "launchline_http_request_duration_seconds") {
		t.Fatalf("metrics output missing request histogram")
	}
}

func TestAPIKeyPrincipal(t *testing.T) {
	srv := newTestServer(t)
	createProject(t, srv, "glow", "owner-1")
	_, raw, err := srv.engine.IssueAPIKey(context.Background(), "owner-1", "ci")
	if err != nil {
		t.Fatalf("issue key: %v", err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me?project_id=glow", nil, map[string]string{"X-Api-Key": raw})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, data)
	}
	var me WhoAmIResponse
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.ActorID != "owner-1" || me.Source != "api_key" {
		t.Fatalf("me = %+v", me)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": "ll_bogus"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bogus key: %d %s", res.StatusCode, data)
	}
}

func TestBulkChecksEachTargetProject(t *testing.T) {
	srv := newTestServer(t)
	createProject(t, srv, "glow", "owner-1")
	createProject(t, srv, "lumen", "owner-1")
	if err := srv.engine.GrantRole(context.Background(), "lumen", "owner-1", "mallory", "owner"); err != nil {
		t.Fatalf("grant role: %v", err)
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/glow", nil, as("mallory"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 on glow, got %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/bulk", map[string]any{
		"operation_kind": "archive",
		"target_ids":     []string{"glow", "lumen"},
	}, as("mallory"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("bulk status %d: %s", res.StatusCode, data)
	}
	var out BulkResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal bulk: %v", err)
	}
	if out.Succeeded != 1 || out.Failed != 1 {
		t.Fatalf("bulk = %+v", out)
	}
	if out.Results[0].ID != "glow" || out.Results[0].OK || !strings.Contains(out.Results[0].Error, config.PermBulkExecute) {
		t.Fatalf("glow result = %+v", out.Results[0])
	}
	if out.Results[1].ID != "lumen" || !out.Results[1].OK {
		t.Fatalf("lumen result = %+v", out.Results[1])
	}

	for id, want := range map[string]domain.ProjectStatus{"glow": domain.ProjectActive, "lumen": domain.ProjectArchived} {
		res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/"+id, nil, as("owner-1"))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("get %s status %d: %s", id, res.StatusCode, data)
		}
		var p domain.Project
		if err := json.Unmarshal(data, &p); err != nil {
			t.Fatalf("unmarshal project: %v", err)
		}
		if p.Status != want {
			t.Fatalf("%s status = %s, want %s", id, p.Status, want)
		}
	}
}
