package engine

import (
	"context"
	"fmt"

	"launchline/internal/domain"
	"launchline/internal/events"
)

type WhoAmI struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

func (e Engine) WhoAmI(ctx context.Context, projectID, actorID string) (WhoAmI, error) {
	roles, err := e.Repo.ActorRoles(ctx, nil, projectID, actorID)
	if err != nil {
		return WhoAmI{}, err
	}
	perms, err := e.Repo.ActorPermissions(ctx, nil, projectID, actorID)
	if err != nil {
		return WhoAmI{}, err
	}
	return WhoAmI{ActorID: actorID, Roles: roles, Permissions: perms}, nil
}

// GrantRole gives targetActorID a role declared in the project's config.
func (e Engine) GrantRole(ctx context.Context, projectID, actorID, targetActorID, roleID string) error {
	return e.changeRole(ctx, projectID, actorID, targetActorID, roleID, true)
}

func (e Engine) RevokeRole(ctx context.Context, projectID, actorID, targetActorID, roleID string) error {
	return e.changeRole(ctx, projectID, actorID, targetActorID, roleID, false)
}

func (e Engine) changeRole(ctx context.Context, projectID, actorID, targetActorID, roleID string, grant bool) error {
	if targetActorID == "" || roleID == "" {
		return domain.NewValidationError("actor id and role are required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetProjectTx(ctx, tx, projectID); err != nil {
		return fmt.Errorf("project %s: %w", projectID, err)
	}
	cfg, err := e.projectConfigTx(ctx, tx, projectID)
	if err != nil {
		return err
	}
	if _, ok := cfg.RBAC.Roles[roleID]; !ok {
		return domain.NewValidationError(fmt.Sprintf("unknown role %q", roleID))
	}
	now := e.stamp()
	action := "revoked"
	if grant {
		action = "granted"
		if err := e.Repo.EnsureActor(ctx, tx, targetActorID, now); err != nil {
			return err
		}
		if err := e.Repo.AssignRole(ctx, tx, projectID, targetActorID, roleID); err != nil {
			return err
		}
	} else if err := e.Repo.RevokeRole(ctx, tx, projectID, targetActorID, roleID); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, events.ProjectUpdated, projectID, "rbac", targetActorID, actorID, events.EventPayload{
		"role":   roleID,
		"action": action,
	}); err != nil {
		return err
	}
	return tx.Commit()
}
