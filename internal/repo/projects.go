package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"launchline/internal/config"
	"launchline/internal/domain"
)

const projectColumns = `id,name,COALESCE(creator_name,''),status,lead_id,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (domain.Project, error) {
	var p domain.Project
	var lead sql.NullString
	err := row.Scan(&p.ID, &p.Name, &p.CreatorName, &p.Status, &lead, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	p.LeadID = stringPtr(lead)
	return p, err
}

func (r Repo) InsertProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO projects(id,name,creator_name,status,lead_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		p.ID, p.Name, nullable(p.CreatorName), p.Status, nullableStringPtr(p.LeadID), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return r.GetProjectTx(ctx, nil, id)
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	return scanProject(r.on(tx).QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

// SingleProject returns the only project in the workspace.
func (r Repo) SingleProject(ctx context.Context) (domain.Project, error) {
	projects, err := r.ListProjects(ctx, "")
	if err != nil {
		return domain.Project{}, err
	}
	if len(projects) == 0 {
		return domain.Project{}, ErrNotFound
	}
	if len(projects) > 1 {
		return domain.Project{}, fmt.Errorf("multiple projects exist; specify --project")
	}
	return projects[0], nil
}

// ListProjects returns projects newest first, optionally filtered by status.
func (r Repo) ListProjects(ctx context.Context, status domain.ProjectStatus) ([]domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// ProjectChanges lists the columns UpdateProjectTx may touch; nil means keep.
type ProjectChanges struct {
	Name        *string
	CreatorName *string
	Status      *domain.ProjectStatus
	LeadID      *string
}

func (c ProjectChanges) Empty() bool {
	return c.Name == nil && c.CreatorName == nil && c.Status == nil && c.LeadID == nil
}

func (r Repo) UpdateProjectTx(ctx context.Context, tx *sql.Tx, id string, c ProjectChanges, updatedAt string) error {
	var (
		fields []string
		args   []any
	)
	if c.Name != nil {
		fields = append(fields, "name=?")
		args = append(args, *c.Name)
	}
	if c.CreatorName != nil {
		fields = append(fields, "creator_name=?")
		args = append(args, nullable(*c.CreatorName))
	}
	if c.Status != nil {
		fields = append(fields, "status=?")
		args = append(args, *c.Status)
	}
	if c.LeadID != nil {
		fields = append(fields, "lead_id=?")
		args = append(args, nullable(*c.LeadID))
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, updatedAt, id)
	res, err := r.on(tx).ExecContext(ctx, fmt.Sprintf(`UPDATE projects SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpsertProjectConfig(ctx context.Context, projectID string, cfg *config.Config, now string) error {
	return r.UpsertProjectConfigTx(ctx, nil, projectID, cfg, now)
}

func (r Repo) UpsertProjectConfigTx(ctx context.Context, tx *sql.Tx, projectID string, cfg *config.Config, now string) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Project.ID = projectID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = r.on(tx).ExecContext(ctx, `INSERT INTO project_configs(project_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(project_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, projectID, string(payload), now, now)
	return err
}

func (r Repo) GetProjectConfig(ctx context.Context, projectID string) (*config.Config, error) {
	return r.GetProjectConfigTx(ctx, nil, projectID)
}

func (r Repo) GetProjectConfigTx(ctx context.Context, tx *sql.Tx, projectID string) (*config.Config, error) {
	var payload string
	err := r.on(tx).QueryRowContext(ctx, `SELECT config_json FROM project_configs WHERE project_id=?`, projectID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Project.ID == "" {
		cfg.Project.ID = projectID
	}
	return &cfg, cfg.Validate()
}
