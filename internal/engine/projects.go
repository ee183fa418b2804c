package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"launchline/internal/config"
	"launchline/internal/domain"
	"launchline/internal/events"
	"launchline/internal/phase"
	"launchline/internal/repo"
)

// CreateProjectOptions are parameters for creating a project.
type CreateProjectOptions struct {
	ID          string
	Name        string
	CreatorName string
	LeadID      string
	ActorID     string
	// Config overrides the engine default policy for this project.
	Config *config.Config
}

// CreateProject inserts the project, its config and its eight phases in one
// transaction. The creating actor becomes the project owner.
func (e Engine) CreateProject(ctx context.Context, opts CreateProjectOptions) (domain.Project, []domain.Phase, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return domain.Project{}, nil, domain.NewValidationError("name is required")
	}
	id := strings.TrimSpace(opts.ID)
	if id == "" {
		id = e.newID()
	}
	cfg := opts.Config.Clone()
	if cfg == nil {
		cfg = e.defaultConfig(id)
	}
	cfg.Project.ID = id
	if err := cfg.Validate(); err != nil {
		return domain.Project{}, nil, domain.NewValidationError(err.Error())
	}
	now := e.stamp()
	p := domain.Project{
		ID:          id,
		Name:        name,
		CreatorName: strings.TrimSpace(opts.CreatorName),
		Status:      domain.ProjectActive,
		LeadID:      optionalString(strings.TrimSpace(opts.LeadID)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	phases, err := phase.Seed(id, cfg.Definitions(), now, e.newID)
	if err != nil {
		return domain.Project{}, nil, err
	}
	actorID := opts.ActorID
	if actorID == "" {
		actorID = "local-user"
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, nil, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetProjectTx(ctx, tx, id); err == nil {
		return domain.Project{}, nil, domain.NewValidationError(fmt.Sprintf("project %s already exists", id))
	}
	if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
		return domain.Project{}, nil, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, id, cfg, now); err != nil {
		return domain.Project{}, nil, fmt.Errorf("insert project config: %w", err)
	}
	if err := e.Repo.InsertPhasesTx(ctx, tx, phases); err != nil {
		return domain.Project{}, nil, fmt.Errorf("seed phases: %w", err)
	}
	if err := e.Repo.SeedRBACTx(ctx, tx, cfg); err != nil {
		return domain.Project{}, nil, fmt.Errorf("seed rbac: %w", err)
	}
	if err := e.Repo.EnsureActor(ctx, tx, actorID, now); err != nil {
		return domain.Project{}, nil, fmt.Errorf("ensure actor: %w", err)
	}
	if _, ok := cfg.RBAC.Roles["owner"]; ok {
		if err := e.Repo.AssignRole(ctx, tx, id, actorID, "owner"); err != nil {
			return domain.Project{}, nil, fmt.Errorf("assign owner: %w", err)
		}
	}
	if err := e.events().Append(ctx, tx, events.ProjectCreated, id, "project", id, actorID, events.EventPayload{
		"name":   p.Name,
		"status": p.Status,
		"phases": len(phases),
	}); err != nil {
		return domain.Project{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, nil, err
	}
	e.log().Info("project created", zap.String("project_id", id), zap.String("actor_id", actorID))
	return p, phases, nil
}

func (e Engine) GetProject(ctx context.Context, id string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return p, fmt.Errorf("project %s: %w", id, err)
	}
	return p, nil
}

func (e Engine) ListProjects(ctx context.Context, status domain.ProjectStatus) ([]domain.Project, error) {
	if status != "" && !status.Valid() {
		return nil, domain.NewValidationError(fmt.Sprintf("unknown project status %q", status))
	}
	return e.Repo.ListProjects(ctx, status)
}

// UpdateProject applies changes and records project.updated, or
// project.archived when the new status is ARCHIVED.
func (e Engine) UpdateProject(ctx context.Context, id string, changes repo.ProjectChanges, actorID string) (domain.Project, error) {
	var problems []string
	if changes.Name != nil {
		trimmed := strings.TrimSpace(*changes.Name)
		if trimmed == "" {
			problems = append(problems, "name cannot be empty")
		}
		changes.Name = &trimmed
	}
	if changes.Status != nil && !changes.Status.Valid() {
		problems = append(problems, fmt.Sprintf("unknown project status %q", *changes.Status))
	}
	if len(problems) > 0 {
		return domain.Project{}, domain.NewValidationError(problems...)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	before, err := e.Repo.GetProjectTx(ctx, tx, id)
	if err != nil {
		return domain.Project{}, fmt.Errorf("project %s: %w", id, err)
	}
	if changes.Empty() {
		return before, nil
	}
	now := e.stamp()
	if err := e.Repo.UpdateProjectTx(ctx, tx, id, changes, now); err != nil {
		return domain.Project{}, err
	}
	after, err := e.Repo.GetProjectTx(ctx, tx, id)
	if err != nil {
		return domain.Project{}, err
	}
	evtType := events.ProjectUpdated
	if after.Status == domain.ProjectArchived && before.Status != domain.ProjectArchived {
		evtType = events.ProjectArchived
	}
	payload := events.EventPayload{"status": after.Status, "previous_status": before.Status}
	if after.LeadID != nil {
		payload["lead_id"] = *after.LeadID
	}
	if changes.Name != nil {
		payload["name"] = after.Name
	}
	if err := e.events().Append(ctx, tx, evtType, id, "project", id, actorID, payload); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	e.log().Info("project updated",
		zap.String("project_id", id),
		zap.String("event", evtType),
		zap.String("status", string(after.Status)))
	return after, nil
}

// SetProjectStatus changes one project's status.
func (e Engine) SetProjectStatus(ctx context.Context, projectID string, status domain.ProjectStatus, actorID string) error {
	_, err := e.UpdateProject(ctx, projectID, repo.ProjectChanges{Status: &status}, actorID)
	return err
}

// AssignLead sets one project's lead.
func (e Engine) AssignLead(ctx context.Context, projectID, leadID, actorID string) error {
	_, err := e.UpdateProject(ctx, projectID, repo.ProjectChanges{LeadID: &leadID}, actorID)
	return err
}

// ProjectConfig returns the policy in force for a project.
func (e Engine) ProjectConfig(ctx context.Context, projectID string) (*config.Config, error) {
	if _, err := e.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return e.projectConfigTx(ctx, nil, projectID)
}

// ImportProjectConfig replaces a project's stored policy. Phase names and
// the phase list itself are not rewritten.
func (e Engine) ImportProjectConfig(ctx context.Context, projectID string, cfg *config.Config, actorID string) error {
	if cfg == nil {
		return domain.NewValidationError("config is required")
	}
	cfg = cfg.Clone()
	cfg.Project.ID = projectID
	if err := cfg.Validate(); err != nil {
		return domain.NewValidationError(err.Error())
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetProjectTx(ctx, tx, projectID); err != nil {
		return fmt.Errorf("project %s: %w", projectID, err)
	}
	now := e.stamp()
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, projectID, cfg, now); err != nil {
		return err
	}
	if err := e.Repo.SeedRBACTx(ctx, tx, cfg); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, events.ProjectUpdated, projectID, "project", projectID, actorID, events.EventPayload{"config": "imported"}); err != nil {
		return err
	}
	return tx.Commit()
}
