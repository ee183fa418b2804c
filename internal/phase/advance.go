package phase

import (
	"fmt"

	"launchline/internal/domain"
)

// Policy holds per-phase advance preconditions.
type Policy struct {
	RequireApproval map[domain.PhaseKey]bool
}

// PolicyFrom builds a Policy from phase definitions.
func PolicyFrom(defs []Definition) Policy {
	p := Policy{RequireApproval: map[domain.PhaseKey]bool{}}
	for _, d := range defs {
		if d.RequireApproval {
			p.RequireApproval[d.Key] = true
		}
	}
	return p
}

// Transition describes the rows an advance changed.
type Transition struct {
	Completed domain.Phase
	Started   *domain.Phase
}

// Advance completes the IN_PROGRESS phase and starts the one at toOrder.
// toOrder must be exactly the current order + 1. Advancing past the last
// phase (toOrder == PhaseCount) completes it without starting another.
// approvals are the project's requests; only those tagged with the current
// phase order are consulted, and only when the policy requires approval.
func Advance(phases []domain.Phase, toOrder int, policy Policy, approvals []domain.ApprovalRequest, now string) ([]domain.Phase, Transition, error) {
	if err := Check(phases); err != nil {
		return nil, Transition{}, err
	}
	sorted := Sorted(phases)
	cur := -1
	for i, p := range sorted {
		if p.Status == domain.PhaseInProgress {
			cur = i
			break
		}
	}
	if cur < 0 {
		return nil, Transition{}, domain.InvalidTransitionError{
			From:   len(sorted) - 1,
			To:     toOrder,
			Reason: "all phases are already completed",
		}
	}
	if toOrder != cur+1 {
		reason := fmt.Sprintf("next phase is %d", cur+1)
		if toOrder <= cur {
			reason = "phases cannot move backwards"
		}
		return nil, Transition{}, domain.InvalidTransitionError{From: cur, To: toOrder, Reason: reason}
	}
	current := sorted[cur]
	if policy.RequireApproval[current.PhaseKey] {
		if reason := approvalBlocker(current.PhaseOrder, approvals); reason != "" {
			return nil, Transition{}, domain.InvalidTransitionError{From: cur, To: toOrder, Reason: reason}
		}
	}

	end := now
	sorted[cur].Status = domain.PhaseCompleted
	sorted[cur].EndDate = &end
	tr := Transition{Completed: sorted[cur]}
	if toOrder < len(sorted) {
		start := now
		sorted[toOrder].Status = domain.PhaseInProgress
		sorted[toOrder].StartDate = &start
		started := sorted[toOrder]
		tr.Started = &started
	}
	return sorted, tr, nil
}

func approvalBlocker(order int, approvals []domain.ApprovalRequest) string {
	tagged := 0
	for _, a := range approvals {
		if a.PhaseOrder == nil || *a.PhaseOrder != order {
			continue
		}
		tagged++
		if a.Status != domain.ApprovalApproved {
			return fmt.Sprintf("approval %s is %s", a.ID, a.Status)
		}
	}
	if tagged == 0 {
		return "phase requires an approved approval request"
	}
	return ""
}
