package phase

import "launchline/internal/domain"

// Tab maps a workspace tab to the milestone that unlocks it. Tabs with
// AlwaysUnlocked ignore Phase.
type Tab struct {
	Key            string          `json:"key"`
	Phase          domain.PhaseKey `json:"phase,omitempty"`
	AlwaysUnlocked bool            `json:"always_unlocked,omitempty"`
}

type TabState struct {
	Key      string          `json:"key"`
	Phase    domain.PhaseKey `json:"phase,omitempty"`
	Unlocked bool            `json:"unlocked"`
}

func DefaultTabs() []Tab {
	return []Tab{
		{Key: "overview", AlwaysUnlocked: true},
		{Key: "discovery", Phase: domain.PhaseDiscovery},
		{Key: "branding", Phase: domain.PhaseBranding},
		{Key: "product", Phase: domain.PhaseProduct},
		{Key: "manufacturing", Phase: domain.PhaseManufacturing},
		{Key: "website", Phase: domain.PhaseWebsite},
		{Key: "marketing", Phase: domain.PhaseMarketing},
		{Key: "launch", Phase: domain.PhaseLaunch},
		{Key: "approvals", AlwaysUnlocked: true},
		{Key: "files", AlwaysUnlocked: true},
	}
}

// Unlocked reports whether tabKey is available. Unknown tabs are locked.
func Unlocked(phases []domain.Phase, tabs []Tab, tabKey string) bool {
	for _, t := range tabs {
		if t.Key == tabKey {
			return tabUnlocked(phases, t)
		}
	}
	return false
}

// States evaluates every tab in table order.
func States(phases []domain.Phase, tabs []Tab) []TabState {
	out := make([]TabState, 0, len(tabs))
	for _, t := range tabs {
		out = append(out, TabState{Key: t.Key, Phase: t.Phase, Unlocked: tabUnlocked(phases, t)})
	}
	return out
}

func tabUnlocked(phases []domain.Phase, t Tab) bool {
	if t.AlwaysUnlocked {
		return true
	}
	for _, p := range phases {
		if p.PhaseKey == t.Phase {
			return p.Status.Reached()
		}
	}
	return false
}
