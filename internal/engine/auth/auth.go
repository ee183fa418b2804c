package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
	ProjectID  string
}

func (e ForbiddenError) Error() string {
	if e.ProjectID == "" {
		return fmt.Sprintf("permission %s required", e.Permission)
	}
	return fmt.Sprintf("permission %s required on project %s", e.Permission, e.ProjectID)
}

// Service answers RBAC questions from the role tables.
type Service struct {
	DB *sql.DB
}

func (s Service) q(tx *sql.Tx) interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
} {
	if tx != nil {
		return tx
	}
	return s.DB
}

// ActorHasPermission reports whether actorID holds perm through a role on projectID.
func (s Service) ActorHasPermission(ctx context.Context, tx *sql.Tx, projectID, actorID, perm string) (bool, error) {
	var n int
	err := s.q(tx).QueryRowContext(ctx, `
SELECT 1 FROM actor_roles ar
JOIN role_permissions rp ON rp.role_id=ar.role_id
WHERE ar.project_id=? AND ar.actor_id=? AND rp.permission_id=? LIMIT 1`,
		projectID, actorID, perm).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// ActorHasPermissionAnywhere reports whether actorID holds perm on any project.
// Workspace-wide operations (project creation, bulk) use it.
func (s Service) ActorHasPermissionAnywhere(ctx context.Context, tx *sql.Tx, actorID, perm string) (bool, error) {
	var n int
	err := s.q(tx).QueryRowContext(ctx, `
SELECT 1 FROM actor_roles ar
JOIN role_permissions rp ON rp.role_id=ar.role_id
WHERE ar.actor_id=? AND rp.permission_id=? LIMIT 1`, actorID, perm).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// Require checks granted (token claims) first, then the role tables. An
// empty projectID checks every project.
func (s Service) Require(ctx context.Context, granted []string, projectID, actorID, perm string) error {
	if slices.Contains(granted, perm) {
		return nil
	}
	var (
		ok  bool
		err error
	)
	if projectID == "" {
		ok, err = s.ActorHasPermissionAnywhere(ctx, nil, actorID, perm)
	} else {
		ok, err = s.ActorHasPermission(ctx, nil, projectID, actorID, perm)
	}
	if err != nil {
		return err
	}
	if !ok {
		return ForbiddenError{Permission: perm, ProjectID: projectID}
	}
	return nil
}
