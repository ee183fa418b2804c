// Package phase holds the milestone state machine. Functions here are pure:
// they take a project's phase list and return a new one, leaving persistence
// to the caller.
//
// A valid list is a completed prefix, at most one IN_PROGRESS phase, then
// LOCKED phases. Phases move LOCKED -> IN_PROGRESS -> COMPLETED and never back.
package phase

import (
	"fmt"
	"sort"

	"launchline/internal/domain"
)

// Definition describes one configured milestone.
type Definition struct {
	Key             domain.PhaseKey
	Name            string
	RequireApproval bool
}

// DefaultDefinitions returns the eight milestones with their stock names.
func DefaultDefinitions() []Definition {
	names := map[domain.PhaseKey]string{
		domain.PhaseOnboarding:    "M0 Onboarding",
		domain.PhaseDiscovery:     "M1 Discovery",
		domain.PhaseBranding:      "M2 Branding",
		domain.PhaseProduct:       "M3 Product Development",
		domain.PhaseManufacturing: "M4 Manufacturing",
		domain.PhaseWebsite:       "M5 Website",
		domain.PhaseMarketing:     "M6 Marketing",
		domain.PhaseLaunch:        "M7 Launch",
	}
	defs := make([]Definition, 0, len(domain.PhaseKeys))
	for _, k := range domain.PhaseKeys {
		defs = append(defs, Definition{Key: k, Name: names[k]})
	}
	return defs
}

// Seed builds the initial phase list: order 0 IN_PROGRESS, the rest LOCKED.
func Seed(projectID string, defs []Definition, now string, newID func() string) ([]domain.Phase, error) {
	if len(defs) != domain.PhaseCount {
		return nil, fmt.Errorf("expected %d phase definitions, got %d", domain.PhaseCount, len(defs))
	}
	phases := make([]domain.Phase, 0, len(defs))
	for i, d := range defs {
		order, err := d.Key.Order()
		if err != nil {
			return nil, err
		}
		if order != i {
			return nil, fmt.Errorf("phase %s must be at order %d, found at %d", d.Key, order, i)
		}
		p := domain.Phase{
			ID:         newID(),
			ProjectID:  projectID,
			PhaseKey:   d.Key,
			PhaseName:  d.Name,
			PhaseOrder: i,
			Status:     domain.PhaseLocked,
		}
		if i == 0 {
			p.Status = domain.PhaseInProgress
			start := now
			p.StartDate = &start
		}
		phases = append(phases, p)
	}
	return phases, nil
}

// Sorted returns a copy of phases ordered by PhaseOrder.
func Sorted(phases []domain.Phase) []domain.Phase {
	out := make([]domain.Phase, len(phases))
	copy(out, phases)
	sort.Slice(out, func(i, j int) bool { return out[i].PhaseOrder < out[j].PhaseOrder })
	return out
}

// Check validates the list invariants. An empty list yields ErrNoActivePhase.
func Check(phases []domain.Phase) error {
	if len(phases) == 0 {
		return domain.ErrNoActivePhase
	}
	sorted := Sorted(phases)
	if len(sorted) != domain.PhaseCount {
		return fmt.Errorf("project %s has %d phases, want %d", sorted[0].ProjectID, len(sorted), domain.PhaseCount)
	}
	inProgress := 0
	locked := 0
	for i, p := range sorted {
		if p.PhaseOrder != i {
			return fmt.Errorf("phase orders not contiguous: expected %d, got %d", i, p.PhaseOrder)
		}
		if p.ProjectID != sorted[0].ProjectID {
			return fmt.Errorf("phase %s belongs to project %s", p.ID, p.ProjectID)
		}
		switch p.Status {
		case domain.PhaseCompleted:
			if inProgress > 0 || locked > 0 {
				return fmt.Errorf("phase %d completed after an unfinished phase", p.PhaseOrder)
			}
		case domain.PhaseInProgress:
			if locked > 0 {
				return fmt.Errorf("phase %d in progress after a locked phase", p.PhaseOrder)
			}
			inProgress++
			if inProgress > 1 {
				return fmt.Errorf("more than one phase in progress")
			}
		case domain.PhaseLocked:
			locked++
		default:
			return fmt.Errorf("phase %d has unknown status %q", p.PhaseOrder, p.Status)
		}
	}
	if locked > 0 && inProgress == 0 {
		return fmt.Errorf("no phase in progress while %d phases are locked", locked)
	}
	return nil
}

// Current returns the IN_PROGRESS phase, or the last COMPLETED phase once the
// whole list is complete.
func Current(phases []domain.Phase) (domain.Phase, error) {
	if len(phases) == 0 {
		return domain.Phase{}, domain.ErrNoActivePhase
	}
	sorted := Sorted(phases)
	var last *domain.Phase
	for i := range sorted {
		switch sorted[i].Status {
		case domain.PhaseInProgress:
			return sorted[i], nil
		case domain.PhaseCompleted:
			last = &sorted[i]
		case domain.PhaseLocked:
		}
	}
	if last != nil {
		return *last, nil
	}
	return domain.Phase{}, domain.ErrNoActivePhase
}

// Finished reports whether every phase is COMPLETED.
func Finished(phases []domain.Phase) bool {
	if len(phases) == 0 {
		return false
	}
	for _, p := range phases {
		if p.Status != domain.PhaseCompleted {
			return false
		}
	}
	return true
}
