package main

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"launchline/internal/approval"
	"launchline/internal/bulk"
	"launchline/internal/domain"
	"launchline/internal/engine"
	"launchline/internal/readiness"
)

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func mark(ok bool) string {
	if ok {
		return "yes"
	}
	return "no"
}

func renderProjects(items []domain.Project) {
	tw := newTable("ID", "Name", "Creator", "Status", "Lead", "Updated")
	for _, p := range items {
		tw.AppendRow(table.Row{p.ID, p.Name, p.CreatorName, p.Status, deref(p.LeadID), p.UpdatedAt})
	}
	tw.Render()
}

func renderPhases(items []domain.Phase) {
	tw := newTable("#", "Key", "Name", "Status", "Started", "Ended")
	for _, p := range items {
		tw.AppendRow(table.Row{p.PhaseOrder, p.PhaseKey, p.PhaseName, p.Status, deref(p.StartDate), deref(p.EndDate)})
	}
	tw.Render()
}

func renderBoard(b engine.Board) {
	renderPhases(b.Phases)
	state := fmt.Sprintf("current: %d %s", b.Current.PhaseOrder, b.Current.PhaseName)
	if b.Finished {
		state = "all phases complete"
	}
	fmt.Println(state)
	tw := newTable("Tab", "Phase", "Unlocked")
	for _, t := range b.Tabs {
		tw.AppendRow(table.Row{t.Key, t.Phase, mark(t.Unlocked)})
	}
	tw.Render()
}

func engineNow(e engine.Engine) time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func renderApprovals(items []domain.ApprovalRequest, e engine.Engine) {
	now := engineNow(e)
	tw := newTable("ID", "Message", "Status", "Due", "Overdue", "Phase", "Reviewers")
	for _, a := range items {
		phase := ""
		if a.PhaseOrder != nil {
			phase = fmt.Sprint(*a.PhaseOrder)
		}
		tw.AppendRow(table.Row{a.ID, a.Message, a.Status, deref(a.DueDate), mark(approval.IsOverdue(a, now)), phase, len(a.Reviewers)})
	}
	tw.Render()
}

func renderApproval(a domain.ApprovalRequest, e engine.Engine) {
	renderApprovals([]domain.ApprovalRequest{a}, e)
	tw := newTable("Reviewer", "Decision", "Feedback", "Reviewed")
	for _, r := range a.Reviewers {
		tw.AppendRow(table.Row{r.ReviewerID, r.Status, deref(r.FeedbackText), deref(r.ReviewedAt)})
	}
	tw.Render()
}

func renderReadiness(r readiness.Report) {
	tw := newTable("Check", "Phase", "Complete")
	for _, c := range r.Checks {
		tw.AppendRow(table.Row{c.Label, c.Phase, mark(c.Complete)})
	}
	tw.AppendFooter(table.Row{"Score", "", fmt.Sprintf("%d%%", r.Score)})
	tw.Render()
	fmt.Printf("pending approvals: %d (overdue %d)\n", r.PendingApprovals, r.OverdueApprovals)
}

func renderBulk(results []bulk.Result) {
	tw := newTable("Project", "OK", "Error")
	failed := 0
	for _, r := range results {
		if !r.OK {
			failed++
		}
		tw.AppendRow(table.Row{r.ID, mark(r.OK), r.Error})
	}
	tw.AppendFooter(table.Row{"", fmt.Sprintf("%d/%d", len(results)-failed, len(results)), ""})
	tw.Render()
}

func renderDeliverables(items []domain.Deliverable) {
	tw := newTable("ID", "Kind", "State", "Label", "Updated")
	for _, d := range items {
		tw.AppendRow(table.Row{d.ID, d.Kind, d.State, d.Label, d.UpdatedAt})
	}
	tw.Render()
}

func renderEvents(items []domain.Event) {
	tw := newTable("ID", "Time", "Type", "Entity", "Actor", "Payload")
	for _, e := range items {
		tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + ":" + e.EntityID, e.ActorID, e.Payload})
	}
	tw.Render()
}

func renderAPIKeys(items []domain.APIKey) {
	tw := newTable("ID", "Actor", "Name", "Created")
	for _, k := range items {
		tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
	}
	tw.Render()
}
