package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"launchline/internal/approval"
	"launchline/internal/bulk"
	"launchline/internal/config"
	"launchline/internal/db"
	"launchline/internal/domain"
	"launchline/internal/engine"
	"launchline/internal/migrate"
	"launchline/internal/repo"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	return newTestEnvWithConfig(t, config.Default("proj-1"))
}

func newTestEnvWithConfig(t *testing.T, cfg *config.Config) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, cfg).WithClock(func() time.Time { return testNow })
	ctx := context.Background()
	if _, _, err := eng.CreateProject(ctx, engine.CreateProjectOptions{
		ID:      "proj-1",
		Name:    "Glow Cosmetics",
		ActorID: "tester",
	}); err != nil {
		t.Fatalf("create project: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func TestCreateProjectSeedsPhases(t *testing.T) {
	env := newTestEnv(t)
	phases, err := env.Engine.ListPhases(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("list phases: %v", err)
	}
	if len(phases) != domain.PhaseCount {
		t.Fatalf("got %d phases", len(phases))
	}
	for i, p := range phases {
		want := domain.PhaseLocked
		if i == 0 {
			want = domain.PhaseInProgress
		}
		if p.PhaseOrder != i || p.Status != want || p.PhaseKey != domain.PhaseKeys[i] {
			t.Fatalf("phase %d = %+v", i, p)
		}
	}
	if phases[0].StartDate == nil || *phases[0].StartDate != "2024-03-01T12:00:00Z" {
		t.Fatalf("start date = %v", phases[0].StartDate)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, 0, repo.EventFilters{ProjectID: "proj-1", Type: "project.created"})
	if err != nil || len(evts) != 1 {
		t.Fatalf("expected one project.created event, got %d (%v)", len(evts), err)
	}
	who, err := env.Engine.WhoAmI(env.Ctx, "proj-1", "tester")
	if err != nil || len(who.Roles) != 1 || who.Roles[0] != "owner" {
		t.Fatalf("creator roles = %v (%v)", who.Roles, err)
	}
}

func TestCreateProjectValidation(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.Engine.CreateProject(env.Ctx, engine.CreateProjectOptions{ID: "x", Name: "  "})
	var ve domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, _, err = env.Engine.CreateProject(env.Ctx, engine.CreateProjectOptions{ID: "proj-1", Name: "dup"})
	if !errors.As(err, &ve) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
}

func TestAdvanceOneStepOnly(t *testing.T) {
	env := newTestEnv(t)
	phases, err := env.Engine.AdvancePhase(env.Ctx, "proj-1", 1, "tester")
	if err != nil {
		t.Fatalf("advance to 1: %v", err)
	}
	if phases[0].Status != domain.PhaseCompleted || phases[1].Status != domain.PhaseInProgress {
		t.Fatalf("unexpected statuses %s %s", phases[0].Status, phases[1].Status)
	}
	if phases[0].EndDate == nil || phases[1].StartDate == nil {
		t.Fatalf("dates not set")
	}

	_, err = env.Engine.AdvancePhase(env.Ctx, "proj-1", 3, "tester")
	var ite domain.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	_, err = env.Engine.AdvancePhase(env.Ctx, "proj-1", 0, "tester")
	if !errors.As(err, &ite) {
		t.Fatalf("expected backwards move rejected, got %v", err)
	}

	cur, err := env.Engine.CurrentPhase(env.Ctx, "proj-1")
	if err != nil || cur.PhaseOrder != 1 {
		t.Fatalf("current = %+v (%v)", cur, err)
	}
}

func TestAdvanceThroughLaunchCompletesProject(t *testing.T) {
	env := newTestEnv(t)
	for to := 1; to <= domain.PhaseCount; to++ {
		if _, err := env.Engine.AdvancePhase(env.Ctx, "proj-1", to, "tester"); err != nil {
			t.Fatalf("advance to %d: %v", to, err)
		}
	}
	p, err := env.Engine.GetProject(env.Ctx, "proj-1")
	if err != nil || p.Status != domain.ProjectCompleted {
		t.Fatalf("project status = %s (%v)", p.Status, err)
	}
	cur, err := env.Engine.CurrentPhase(env.Ctx, "proj-1")
	if err != nil || cur.PhaseOrder != 7 || cur.Status != domain.PhaseCompleted {
		t.Fatalf("current = %+v (%v)", cur, err)
	}
	board, err := env.Engine.PhaseBoard(env.Ctx, "proj-1")
	if err != nil || !board.Finished {
		t.Fatalf("board finished = %v (%v)", board.Finished, err)
	}
	if _, err := env.Engine.AdvancePhase(env.Ctx, "proj-1", 9, "tester"); err == nil {
		t.Fatalf("expected advance past completion to fail")
	}
}

func TestAdvanceRequiresApprovalWhenConfigured(t *testing.T) {
	cfg := config.Default("proj-1")
	cfg.Phases[0].RequireApproval = true
	env := newTestEnvWithConfig(t, cfg)

	_, err := env.Engine.AdvancePhase(env.Ctx, "proj-1", 1, "tester")
	var ite domain.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected approval gate, got %v", err)
	}

	order := 0
	req, err := env.Engine.RequestApproval(env.Ctx, approval.Draft{
		ProjectID:   "proj-1",
		Message:     "Onboarding checklist signed off?",
		ReviewerIDs: []string{"creator"},
		PhaseOrder:  &order,
		CreatedBy:   "tester",
	})
	if err != nil {
		t.Fatalf("request approval: %v", err)
	}
	if _, err := env.Engine.AdvancePhase(env.Ctx, "proj-1", 1, "tester"); !errors.As(err, &ite) {
		t.Fatalf("pending approval should still block, got %v", err)
	}
	if _, err := env.Engine.ReviewApproval(env.Ctx, engine.ReviewOptions{
		ApprovalID: req.ID, ReviewerID: "creator", Decision: domain.ApprovalApproved,
	}); err != nil {
		t.Fatalf("review: %v", err)
	}
	if _, err := env.Engine.AdvancePhase(env.Ctx, "proj-1", 1, "tester"); err != nil {
		t.Fatalf("advance after approval: %v", err)
	}
}

func TestCurrentPhaseWithoutPhases(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.DB.Exec(`DELETE FROM phases WHERE project_id='proj-1'`); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.CurrentPhase(env.Ctx, "proj-1")
	if !errors.Is(err, domain.ErrNoActivePhase) {
		t.Fatalf("expected ErrNoActivePhase, got %v", err)
	}
	_, err = env.Engine.CurrentPhase(env.Ctx, "missing")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for unknown project, got %v", err)
	}
	// readiness still answers
	if _, err := env.Engine.Readiness(env.Ctx, "proj-1"); err != nil {
		t.Fatalf("readiness: %v", err)
	}
}

func TestTabUnlocking(t *testing.T) {
	env := newTestEnv(t)
	check := func(tab string, want bool) {
		t.Helper()
		got, err := env.Engine.IsUnlocked(env.Ctx, "proj-1", tab)
		if err != nil {
			t.Fatalf("is unlocked %s: %v", tab, err)
		}
		if got != want {
			t.Fatalf("tab %s unlocked = %v, want %v", tab, got, want)
		}
	}
	check("overview", true)
	check("approvals", true)
	check("files", true)
	check("discovery", false)
	check("branding", false)
	check("nonexistent", false)

	if _, err := env.Engine.AdvancePhase(env.Ctx, "proj-1", 1, "tester"); err != nil {
		t.Fatal(err)
	}
	check("discovery", true)
	check("branding", false)
}

func TestApprovalReviewFlow(t *testing.T) {
	env := newTestEnv(t)
	req, err := env.Engine.RequestApproval(env.Ctx, approval.Draft{
		ProjectID:   "proj-1",
		Message:     "Approve logo v2",
		ReviewerIDs: []string{"A", "B", "A"},
		CreatedBy:   "tester",
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if len(req.Reviewers) != 2 || req.Status != domain.ApprovalPending {
		t.Fatalf("request = %+v", req)
	}

	got, err := env.Engine.ReviewApproval(env.Ctx, engine.ReviewOptions{ApprovalID: req.ID, ReviewerID: "A", Decision: domain.ApprovalApproved})
	if err != nil || got.Status != domain.ApprovalPending {
		t.Fatalf("after A: %s (%v)", got.Status, err)
	}
	_, err = env.Engine.ReviewApproval(env.Ctx, engine.ReviewOptions{ApprovalID: req.ID, ReviewerID: "B", Decision: domain.ApprovalChangesRequested})
	if !errors.Is(err, domain.ErrFeedbackRequired) {
		t.Fatalf("expected feedback required, got %v", err)
	}
	got, err = env.Engine.ReviewApproval(env.Ctx, engine.ReviewOptions{
		ApprovalID: req.ID, ReviewerID: "B", Decision: domain.ApprovalChangesRequested, Feedback: "needs more contrast",
	})
	if err != nil || got.Status != domain.ApprovalChangesRequested {
		t.Fatalf("after B: %s (%v)", got.Status, err)
	}
	_, err = env.Engine.ReviewApproval(env.Ctx, engine.ReviewOptions{ApprovalID: req.ID, ReviewerID: "A", Decision: domain.ApprovalApproved})
	if !errors.Is(err, domain.ErrAlreadyReviewed) {
		t.Fatalf("expected already reviewed, got %v", err)
	}
	_, err = env.Engine.ReviewApproval(env.Ctx, engine.ReviewOptions{ApprovalID: req.ID, ReviewerID: "C", Decision: domain.ApprovalApproved})
	if !errors.Is(err, domain.ErrNotAReviewer) {
		t.Fatalf("expected not a reviewer, got %v", err)
	}

	stored, err := env.Engine.GetApproval(env.Ctx, req.ID)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := stored.Reviewer("B")
	if stored.Status != domain.ApprovalChangesRequested || b.FeedbackText == nil || *b.FeedbackText != "needs more contrast" {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestRequestApprovalValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.RequestApproval(env.Ctx, approval.Draft{ProjectID: "proj-1", CreatedBy: "tester"})
	var ve domain.ValidationError
	if !errors.As(err, &ve) || len(ve.Problems) != 2 {
		t.Fatalf("expected two problems, got %v", err)
	}
	items, err := env.Engine.ListApprovals(env.Ctx, "proj-1", engine.ApprovalListFilter{})
	if err != nil || len(items) != 0 {
		t.Fatalf("nothing should be stored, got %d (%v)", len(items), err)
	}
	_, err = env.Engine.RequestApproval(env.Ctx, approval.Draft{ProjectID: "missing", Message: "m", ReviewerIDs: []string{"a"}})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestConcurrentReviewsBySameReviewer(t *testing.T) {
	env := newTestEnv(t)
	req, err := env.Engine.RequestApproval(env.Ctx, approval.Draft{
		ProjectID: "proj-1", Message: "Approve palette", ReviewerIDs: []string{"A", "B"}, CreatedBy: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = env.Engine.ReviewApproval(env.Ctx, engine.ReviewOptions{ApprovalID: req.ID, ReviewerID: "A", Decision: domain.ApprovalApproved})
		}()
	}
	wg.Wait()
	ok := 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrAlreadyReviewed):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one successful review, got %d", ok)
	}
}

func TestOverdueApprovals(t *testing.T) {
	env := newTestEnv(t)
	past, err := env.Engine.RequestApproval(env.Ctx, approval.Draft{
		ProjectID: "proj-1", Message: "late", DueDate: "2024-02-29", ReviewerIDs: []string{"A"}, CreatedBy: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	today, err := env.Engine.RequestApproval(env.Ctx, approval.Draft{
		ProjectID: "proj-1", Message: "due today", DueDate: "2024-03-01", ReviewerIDs: []string{"A"}, CreatedBy: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if over, err := env.Engine.IsOverdue(env.Ctx, past.ID); err != nil || !over {
		t.Fatalf("past due = %v (%v)", over, err)
	}
	if over, err := env.Engine.IsOverdue(env.Ctx, today.ID); err != nil || over {
		t.Fatalf("due today = %v (%v)", over, err)
	}
	yes := true
	items, err := env.Engine.ListApprovals(env.Ctx, "proj-1", engine.ApprovalListFilter{Overdue: &yes})
	if err != nil || len(items) != 1 || items[0].ID != past.ID {
		t.Fatalf("overdue list = %+v (%v)", items, err)
	}
}

func TestReadinessFromDeliverables(t *testing.T) {
	env := newTestEnv(t)
	report, err := env.Engine.Readiness(env.Ctx, "proj-1")
	if err != nil || report.Score != 0 || len(report.Missing) != 12 {
		t.Fatalf("empty readiness = %+v (%v)", report, err)
	}
	for _, in := range []engine.DeliverableInput{
		{ProjectID: "proj-1", Kind: domain.KindDiscovery},
		{ProjectID: "proj-1", Kind: domain.KindSKU, Label: "Serum 30ml"},
		{ProjectID: "proj-1", Kind: domain.KindVendor, State: domain.StateActive},
	} {
		if _, err := env.Engine.RecordDeliverable(env.Ctx, in); err != nil {
			t.Fatalf("record %s: %v", in.Kind, err)
		}
	}
	logo, err := env.Engine.RecordDeliverable(env.Ctx, engine.DeliverableInput{ProjectID: "proj-1", Kind: domain.KindLogo})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.UpdateDeliverableState(env.Ctx, "proj-1", logo.ID, domain.StateDeleted, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RequestApproval(env.Ctx, approval.Draft{
		ProjectID: "proj-1", Message: "m", DueDate: "2024-01-01", ReviewerIDs: []string{"A"}, CreatedBy: "tester",
	}); err != nil {
		t.Fatal(err)
	}

	report, err = env.Engine.Readiness(env.Ctx, "proj-1")
	if err != nil {
		t.Fatal(err)
	}
	if report.Score != 25 || len(report.Missing) != 9 {
		t.Fatalf("score = %d missing = %v", report.Score, report.Missing)
	}
	if report.PendingApprovals != 1 || report.OverdueApprovals != 1 {
		t.Fatalf("approval figures = %d/%d", report.PendingApprovals, report.OverdueApprovals)
	}
	if report.CurrentPhase == nil || report.CurrentPhase.PhaseKey != domain.PhaseOnboarding {
		t.Fatalf("current phase = %+v", report.CurrentPhase)
	}
}

func TestDeliverableValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.RecordDeliverable(env.Ctx, engine.DeliverableInput{ProjectID: "proj-1", Kind: "MOODBOARD", State: "LIVE"})
	var ve domain.ValidationError
	if !errors.As(err, &ve) || len(ve.Problems) != 2 {
		t.Fatalf("expected two problems, got %v", err)
	}
	_, err = env.Engine.UpdateDeliverableState(env.Ctx, "proj-1", "nope", domain.StateApproved, "tester")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if _, _, err := env.Engine.CreateProject(env.Ctx, engine.CreateProjectOptions{ID: "proj-2", Name: "Lumen", ActorID: "tester"}); err != nil {
		t.Fatalf("create second project: %v", err)
	}
	other, err := env.Engine.RecordDeliverable(env.Ctx, engine.DeliverableInput{ProjectID: "proj-2", Kind: domain.KindSKU})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	_, err = env.Engine.UpdateDeliverableState(env.Ctx, "proj-1", other.ID, domain.StateDeleted, "tester")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("deliverable of another project: expected not found, got %v", err)
	}
	items, err := env.Engine.ListDeliverables(env.Ctx, "proj-2")
	if err != nil || len(items) != 1 || items[0].State != domain.StateDraft {
		t.Fatalf("other project's deliverable changed: %+v (%v)", items, err)
	}
}

func TestBulkPartialFailure(t *testing.T) {
	env := newTestEnv(t)
	if _, _, err := env.Engine.CreateProject(env.Ctx, engine.CreateProjectOptions{ID: "proj-2", Name: "Second", ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}
	results, err := env.Engine.Bulk(env.Ctx, bulk.Operation{
		Kind:      bulk.KindUpdateStatus,
		TargetIDs: []string{"proj-1", "ghost", "proj-2"},
		Payload:   bulk.Payload{Status: domain.ProjectOnHold},
	}, "tester")
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if len(results) != 3 || !results[0].OK || results[1].OK || !results[2].OK {
		t.Fatalf("results = %+v", results)
	}
	if results[1].ID != "ghost" || results[1].Error == "" {
		t.Fatalf("missing project result = %+v", results[1])
	}
	for _, id := range []string{"proj-1", "proj-2"} {
		p, err := env.Engine.GetProject(env.Ctx, id)
		if err != nil || p.Status != domain.ProjectOnHold {
			t.Fatalf("%s status = %s (%v)", id, p.Status, err)
		}
	}

	results, err = env.Engine.Bulk(env.Ctx, bulk.Operation{Kind: bulk.KindArchive, TargetIDs: []string{"proj-2"}}, "tester")
	if err != nil || !results[0].OK {
		t.Fatalf("archive = %+v (%v)", results, err)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 5, 0, repo.EventFilters{ProjectID: "proj-2", Type: "project.archived"})
	if err != nil || len(evts) != 1 {
		t.Fatalf("expected project.archived event, got %d (%v)", len(evts), err)
	}

	_, err = env.Engine.Bulk(env.Ctx, bulk.Operation{Kind: bulk.KindAssignLead, TargetIDs: []string{"proj-1"}}, "tester")
	var ve domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error for empty lead, got %v", err)
	}
}

func TestUpdateProject(t *testing.T) {
	env := newTestEnv(t)
	name := "Glow Labs"
	lead := "lead-1"
	p, err := env.Engine.UpdateProject(env.Ctx, "proj-1", repo.ProjectChanges{Name: &name, LeadID: &lead}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != name || p.LeadID == nil || *p.LeadID != lead {
		t.Fatalf("project = %+v", p)
	}
	bad := domain.ProjectStatus("PAUSED")
	if _, err := env.Engine.UpdateProject(env.Ctx, "proj-1", repo.ProjectChanges{Status: &bad}, "tester"); err == nil {
		t.Fatalf("expected invalid status rejected")
	}
	if _, err := env.Engine.UpdateProject(env.Ctx, "ghost", repo.ProjectChanges{Name: &name}, "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	env := newTestEnv(t)
	if _, _, err := env.Engine.IssueAPIKey(env.Ctx, " ", "ci"); !errors.As(err, new(domain.ValidationError)) {
		t.Fatalf("expected validation error, got %v", err)
	}
	key, raw, err := env.Engine.IssueAPIKey(env.Ctx, "owner-1", "ci")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if key.KeyHash == raw || key.KeyHash != repo.HashAPIKey(raw) {
		t.Fatalf("stored hash should be the digest of the raw key")
	}
	got, err := env.Engine.ResolveAPIKey(env.Ctx, raw)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.ID != key.ID || got.ActorID != "owner-1" {
		t.Fatalf("resolved = %+v", got)
	}
	if _, err := env.Engine.ResolveAPIKey(env.Ctx, "bogus"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("unknown key: %v", err)
	}
	keys, err := env.Engine.ListAPIKeys(env.Ctx, "owner-1")
	if err != nil || len(keys) != 1 {
		t.Fatalf("list = %v, %v", keys, err)
	}
	if err := env.Engine.RevokeAPIKey(env.Ctx, key.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := env.Engine.ResolveAPIKey(env.Ctx, raw); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("revoked key still resolves: %v", err)
	}
	if err := env.Engine.RevokeAPIKey(env.Ctx, key.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second revoke: %v", err)
	}
}

func TestCreateProjectLeavesConfigsUntouched(t *testing.T) {
	seed := config.Default("seed")
	env := newTestEnvWithConfig(t, seed)
	if seed.Project.ID != "seed" {
		t.Fatalf("engine seed config mutated: project id %q", seed.Project.ID)
	}

	custom := config.Default("custom")
	custom.Phases[0].RequireApproval = true
	if _, _, err := env.Engine.CreateProject(env.Ctx, engine.CreateProjectOptions{
		ID: "proj-2", Name: "Lumen", ActorID: "tester", Config: custom,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if custom.Project.ID != "custom" {
		t.Fatalf("caller config mutated: project id %q", custom.Project.ID)
	}
	stored, err := env.Engine.ProjectConfig(env.Ctx, "proj-2")
	if err != nil {
		t.Fatalf("project config: %v", err)
	}
	if stored.Project.ID != "proj-2" || !stored.Phases[0].RequireApproval {
		t.Fatalf("stored config = %+v", stored.Project)
	}
	first, err := env.Engine.ProjectConfig(env.Ctx, "proj-1")
	if err != nil || first.Project.ID != "proj-1" || first.Phases[0].RequireApproval {
		t.Fatalf("first project config = %+v (%v)", first, err)
	}
}
