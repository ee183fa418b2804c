package domain

import "fmt"

type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "ACTIVE"
	ProjectOnHold    ProjectStatus = "ON_HOLD"
	ProjectCompleted ProjectStatus = "COMPLETED"
	ProjectArchived  ProjectStatus = "ARCHIVED"
)

func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectActive, ProjectOnHold, ProjectCompleted, ProjectArchived:
		return true
	}
	return false
}

type PhaseStatus string

const (
	PhaseLocked     PhaseStatus = "LOCKED"
	PhaseInProgress PhaseStatus = "IN_PROGRESS"
	PhaseCompleted  PhaseStatus = "COMPLETED"
)

func (s PhaseStatus) Valid() bool {
	switch s {
	case PhaseLocked, PhaseInProgress, PhaseCompleted:
		return true
	}
	return false
}

// Reached reports whether a phase in this status exposes its workspace.
func (s PhaseStatus) Reached() bool {
	switch s {
	case PhaseInProgress, PhaseCompleted:
		return true
	case PhaseLocked:
		return false
	}
	return false
}

type ApprovalStatus string

const (
	ApprovalPending          ApprovalStatus = "PENDING"
	ApprovalApproved         ApprovalStatus = "APPROVED"
	ApprovalChangesRequested ApprovalStatus = "CHANGES_REQUESTED"
)

func (s ApprovalStatus) Valid() bool {
	switch s {
	case ApprovalPending, ApprovalApproved, ApprovalChangesRequested:
		return true
	}
	return false
}

// IsDecision reports whether a reviewer may submit s.
func (s ApprovalStatus) IsDecision() bool {
	switch s {
	case ApprovalApproved, ApprovalChangesRequested:
		return true
	case ApprovalPending:
		return false
	}
	return false
}

// PhaseKey identifies a milestone independently of its display name.
type PhaseKey string

const (
	PhaseOnboarding    PhaseKey = "ONBOARDING"
	PhaseDiscovery     PhaseKey = "DISCOVERY"
	PhaseBranding      PhaseKey = "BRANDING"
	PhaseProduct       PhaseKey = "PRODUCT"
	PhaseManufacturing PhaseKey = "MANUFACTURING"
	PhaseWebsite       PhaseKey = "WEBSITE"
	PhaseMarketing     PhaseKey = "MARKETING"
	PhaseLaunch        PhaseKey = "LAUNCH"
)

// PhaseKeys lists the milestones in phase order.
var PhaseKeys = []PhaseKey{
	PhaseOnboarding,
	PhaseDiscovery,
	PhaseBranding,
	PhaseProduct,
	PhaseManufacturing,
	PhaseWebsite,
	PhaseMarketing,
	PhaseLaunch,
}

// PhaseCount is the number of milestones every project has.
const PhaseCount = 8

func (k PhaseKey) Order() (int, error) {
	for i, key := range PhaseKeys {
		if key == k {
			return i, nil
		}
	}
	return -1, fmt.Errorf("unknown phase key %q", string(k))
}

func (k PhaseKey) Valid() bool {
	_, err := k.Order()
	return err == nil
}

type DeliverableKind string

const (
	KindDiscovery     DeliverableKind = "DISCOVERY"
	KindColorPalette  DeliverableKind = "COLOR_PALETTE"
	KindLogo          DeliverableKind = "LOGO"
	KindTypography    DeliverableKind = "TYPOGRAPHY"
	KindSKU           DeliverableKind = "SKU"
	KindPrototype     DeliverableKind = "PROTOTYPE"
	KindVendor        DeliverableKind = "VENDOR"
	KindPurchaseOrder DeliverableKind = "PURCHASE_ORDER"
	KindWebsiteConfig DeliverableKind = "WEBSITE_CONFIG"
	KindPage          DeliverableKind = "PAGE"
	KindContentPost   DeliverableKind = "CONTENT_POST"
	KindAdCreative    DeliverableKind = "AD_CREATIVE"
)

func (k DeliverableKind) Valid() bool {
	switch k {
	case KindDiscovery, KindColorPalette, KindLogo, KindTypography, KindSKU, KindPrototype,
		KindVendor, KindPurchaseOrder, KindWebsiteConfig, KindPage, KindContentPost, KindAdCreative:
		return true
	}
	return false
}

type DeliverableState string

const (
	StateDraft     DeliverableState = "DRAFT"
	StateApproved  DeliverableState = "APPROVED"
	StateDeleted   DeliverableState = "DELETED"
	StatePublished DeliverableState = "PUBLISHED"
	StateScheduled DeliverableState = "SCHEDULED"
	StateActive    DeliverableState = "ACTIVE"
)

func (s DeliverableState) Valid() bool {
	switch s {
	case StateDraft, StateApproved, StateDeleted, StatePublished, StateScheduled, StateActive:
		return true
	}
	return false
}
