// Package readiness scores how close a project is to launch. Compute is a pure
// function of a Snapshot; nothing here performs I/O.
package readiness

import (
	"math"

	"launchline/internal/domain"
)

// Counts tallies deliverables by kind and state.
type Counts map[domain.DeliverableKind]map[domain.DeliverableState]int

// Add increments the tally for kind/state by n.
func (c Counts) Add(kind domain.DeliverableKind, state domain.DeliverableState, n int) {
	if c[kind] == nil {
		c[kind] = map[domain.DeliverableState]int{}
	}
	c[kind][state] += n
}

// Total returns how many deliverables of kind exist in any of states, or in
// any state at all when states is empty.
func (c Counts) Total(kind domain.DeliverableKind, states ...domain.DeliverableState) int {
	byState := c[kind]
	if len(states) == 0 {
		n := 0
		for _, v := range byState {
			n += v
		}
		return n
	}
	n := 0
	for _, s := range states {
		n += byState[s]
	}
	return n
}

// Snapshot is a read-only view of everything the readiness checks look at.
type Snapshot struct {
	ProjectID        string
	Deliverables     Counts
	PendingApprovals int
	OverdueApprovals int
	CurrentPhase     *domain.Phase
}

type Check struct {
	Label    string          `json:"label"`
	Complete bool            `json:"complete"`
	Phase    domain.PhaseKey `json:"phase"`
}

type Report struct {
	Score            int           `json:"score" minimum:"0" maximum:"100"`
	Checks           []Check       `json:"checks"`
	Missing          []string      `json:"missing"`
	PendingApprovals int           `json:"pending_approvals"`
	OverdueApprovals int           `json:"overdue_approvals"`
	CurrentPhase     *domain.Phase `json:"current_phase,omitempty"`
}

// Rule is one readiness predicate.
type Rule struct {
	Label string
	Phase domain.PhaseKey
	Done  func(Snapshot) bool
}

// exists is satisfied by a deliverable of kind in one of states. With no
// states any live deliverable counts; DELETED rows never do.
func exists(kind domain.DeliverableKind, states ...domain.DeliverableState) func(Snapshot) bool {
	if len(states) == 0 {
		return notDeleted(kind)
	}
	return func(s Snapshot) bool { return s.Deliverables.Total(kind, states...) > 0 }
}

func notDeleted(kind domain.DeliverableKind) func(Snapshot) bool {
	return func(s Snapshot) bool {
		return s.Deliverables.Total(kind)-s.Deliverables.Total(kind, domain.StateDeleted) > 0
	}
}

var rules = []Rule{
	{"Discovery completed", domain.PhaseDiscovery, exists(domain.KindDiscovery)},
	{"Color palette approved", domain.PhaseBranding, exists(domain.KindColorPalette, domain.StateApproved)},
	{"Logo generated", domain.PhaseBranding, notDeleted(domain.KindLogo)},
	{"Typography approved", domain.PhaseBranding, exists(domain.KindTypography, domain.StateApproved)},
	{"SKUs defined", domain.PhaseProduct, exists(domain.KindSKU)},
	{"Prototype approved", domain.PhaseProduct, exists(domain.KindPrototype, domain.StateApproved)},
	{"Vendor selected", domain.PhaseManufacturing, exists(domain.KindVendor)},
	{"Purchase order placed", domain.PhaseManufacturing, exists(domain.KindPurchaseOrder)},
	{"Website configured", domain.PhaseWebsite, exists(domain.KindWebsiteConfig)},
	{"Page published", domain.PhaseWebsite, exists(domain.KindPage, domain.StatePublished)},
	{"Content scheduled", domain.PhaseMarketing, exists(domain.KindContentPost, domain.StateScheduled)},
	{"Ad creative active", domain.PhaseMarketing, exists(domain.KindAdCreative, domain.StateActive)},
}

// Rules returns a copy of the fixed check list in evaluation order.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// Compute evaluates the fixed check list against s.
func Compute(s Snapshot) Report {
	return ComputeWith(rules, s)
}

// ComputeWith evaluates rs in order against s.
func ComputeWith(rs []Rule, s Snapshot) Report {
	r := Report{
		Checks:           make([]Check, 0, len(rs)),
		Missing:          []string{},
		PendingApprovals: s.PendingApprovals,
		OverdueApprovals: s.OverdueApprovals,
		CurrentPhase:     s.CurrentPhase,
	}
	completed := 0
	for _, rule := range rs {
		done := rule.Done(s)
		r.Checks = append(r.Checks, Check{Label: rule.Label, Complete: done, Phase: rule.Phase})
		if done {
			completed++
		} else {
			r.Missing = append(r.Missing, rule.Label)
		}
	}
	r.Score = Score(completed, len(rs))
	return r
}

// Score is round(100 * completed / total), or 0 when total is 0.
func Score(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(completed) / float64(total)))
}
