package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"launchline/internal/domain"
	"launchline/internal/phase"
)

// FileName is the per-workspace policy file.
const FileName = "launchline.yml"

// Config models launchline.yml.
type Config struct {
	Project ProjectConfig `yaml:"project" json:"project"`
	Phases  []PhaseConfig `yaml:"phases" json:"phases"`
	Tabs    []TabConfig   `yaml:"tabs" json:"tabs"`
	RBAC    struct {
		Roles map[string]RBACRole `yaml:"roles" json:"roles"`
	} `yaml:"rbac" json:"rbac"`
}

type ProjectConfig struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name,omitempty" json:"name,omitempty"`
	CreatorName string `yaml:"creator_name,omitempty" json:"creator_name,omitempty"`
}

type PhaseConfig struct {
	Key             domain.PhaseKey `yaml:"key" json:"key"`
	Name            string          `yaml:"name" json:"name"`
	RequireApproval bool            `yaml:"require_approval,omitempty" json:"require_approval,omitempty"`
}

type TabConfig struct {
	Key            string          `yaml:"key" json:"key"`
	Phase          domain.PhaseKey `yaml:"phase,omitempty" json:"phase,omitempty"`
	AlwaysUnlocked bool            `yaml:"always_unlocked,omitempty" json:"always_unlocked,omitempty"`
}

type RBACRole struct {
	Description string   `yaml:"description" json:"description"`
	Permissions []string `yaml:"permissions" json:"permissions"`
}

// Permission ids checked by the API and CLI.
const (
	PermProjectRead      = "project.read"
	PermProjectWrite     = "project.write"
	PermPhaseAdvance     = "phase.advance"
	PermApprovalRequest  = "approval.request"
	PermApprovalReview   = "approval.review"
	PermDeliverableWrite = "deliverable.write"
	PermBulkExecute      = "bulk.execute"
	PermEventsRead       = "events.read"
)

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with lp config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if len(c.Phases) != domain.PhaseCount {
		return fmt.Errorf("config.phases must list %d phases, got %d", domain.PhaseCount, len(c.Phases))
	}
	for i, p := range c.Phases {
		order, err := p.Key.Order()
		if err != nil {
			return fmt.Errorf("config.phases[%d]: %w", i, err)
		}
		if order != i {
			return fmt.Errorf("config.phases[%d] is %s; phases must be listed in milestone order", i, p.Key)
		}
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("config.phases[%d] (%s) has empty name", i, p.Key)
		}
	}
	seenTabs := map[string]bool{}
	for i, t := range c.Tabs {
		if t.Key == "" {
			return fmt.Errorf("config.tabs[%d] has empty key", i)
		}
		if seenTabs[t.Key] {
			return fmt.Errorf("config.tabs has duplicate key %s", t.Key)
		}
		seenTabs[t.Key] = true
		if t.AlwaysUnlocked {
			if t.Phase != "" {
				return fmt.Errorf("tab %s is always_unlocked and cannot map to a phase", t.Key)
			}
			continue
		}
		if !t.Phase.Valid() {
			return fmt.Errorf("tab %s maps to unknown phase %q", t.Key, string(t.Phase))
		}
	}
	if len(c.RBAC.Roles) > 0 {
		if _, ok := c.RBAC.Roles["owner"]; !ok {
			return fmt.Errorf("config.rbac.roles must include owner")
		}
		for roleID, role := range c.RBAC.Roles {
			if roleID == "" {
				return fmt.Errorf("config.rbac.roles contains empty role id")
			}
			for _, perm := range role.Permissions {
				if perm == "" {
					return fmt.Errorf("role %s has empty permission id", roleID)
				}
			}
		}
	}
	return nil
}

// Definitions converts the phases section for the phase package.
func (c *Config) Definitions() []phase.Definition {
	defs := make([]phase.Definition, 0, len(c.Phases))
	for _, p := range c.Phases {
		defs = append(defs, phase.Definition{Key: p.Key, Name: p.Name, RequireApproval: p.RequireApproval})
	}
	return defs
}

// TabTable converts the tabs section for the phase package.
func (c *Config) TabTable() []phase.Tab {
	tabs := make([]phase.Tab, 0, len(c.Tabs))
	for _, t := range c.Tabs {
		tabs = append(tabs, phase.Tab{Key: t.Key, Phase: t.Phase, AlwaysUnlocked: t.AlwaysUnlocked})
	}
	return tabs
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(GenerateDefault(projectID)), &cfg); err != nil {
		panic(fmt.Sprintf("default config template: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Clone returns a deep copy of c; nil stays nil.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Phases = slices.Clone(c.Phases)
	cp.Tabs = slices.Clone(c.Tabs)
	if c.RBAC.Roles != nil {
		cp.RBAC.Roles = make(map[string]RBACRole, len(c.RBAC.Roles))
		for id, role := range c.RBAC.Roles {
			role.Permissions = slices.Clone(role.Permissions)
			cp.RBAC.Roles[id] = role
		}
	}
	return &cp
}

// YAML renders c back to launchline.yml form.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `project:
  id: %s

phases:
  - key: ONBOARDING
    name: M0 Onboarding
  - key: DISCOVERY
    name: M1 Discovery
  - key: BRANDING
    name: M2 Branding
  - key: PRODUCT
    name: M3 Product Development
  - key: MANUFACTURING
    name: M4 Manufacturing
  - key: WEBSITE
    name: M5 Website
  - key: MARKETING
    name: M6 Marketing
  - key: LAUNCH
    name: M7 Launch

tabs:
  - key: overview
    always_unlocked: true
  - key: discovery
    phase: DISCOVERY
  - key: branding
    phase: BRANDING
  - key: product
    phase: PRODUCT
  - key: manufacturing
    phase: MANUFACTURING
  - key: website
    phase: WEBSITE
  - key: marketing
    phase: MARKETING
  - key: launch
    phase: LAUNCH
  - key: approvals
    always_unlocked: true
  - key: files
    always_unlocked: true

rbac:
  roles:
    owner:
      description: "Agency owner"
      permissions: [project.read, project.write, phase.advance, approval.request, approval.review, deliverable.write, bulk.execute, events.read]
    lead:
      description: "Project lead"
      permissions: [project.read, project.write, phase.advance, approval.request, approval.review, deliverable.write, events.read]
    contributor:
      description: "Team member producing deliverables"
      permissions: [project.read, approval.request, deliverable.write, events.read]
    creator:
      description: "Creator reviewing their brand"
      permissions: [project.read, approval.review]
`
