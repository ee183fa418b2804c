package repo

import (
	"context"
	"database/sql"
	"errors"

	"launchline/internal/domain"
	"launchline/internal/readiness"
)

func (r Repo) InsertDeliverableTx(ctx context.Context, tx *sql.Tx, d domain.Deliverable) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO deliverables(id,project_id,kind,state,label,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		d.ID, d.ProjectID, d.Kind, d.State, nullable(d.Label), d.CreatedAt, d.UpdatedAt)
	return err
}

func (r Repo) GetDeliverableTx(ctx context.Context, tx *sql.Tx, id string) (domain.Deliverable, error) {
	var d domain.Deliverable
	err := r.on(tx).QueryRowContext(ctx, `SELECT id,project_id,kind,state,COALESCE(label,''),created_at,updated_at FROM deliverables WHERE id=?`, id).
		Scan(&d.ID, &d.ProjectID, &d.Kind, &d.State, &d.Label, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return d, ErrNotFound
	}
	return d, err
}

func (r Repo) UpdateDeliverableStateTx(ctx context.Context, tx *sql.Tx, id string, state domain.DeliverableState, updatedAt string) error {
	res, err := r.on(tx).ExecContext(ctx, `UPDATE deliverables SET state=?, updated_at=? WHERE id=?`, state, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListDeliverables(ctx context.Context, projectID string) ([]domain.Deliverable, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,kind,state,COALESCE(label,''),created_at,updated_at FROM deliverables WHERE project_id=? ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Deliverable
	for rows.Next() {
		var d domain.Deliverable
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Kind, &d.State, &d.Label, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// CountDeliverables tallies the project's deliverables by kind and state.
func (r Repo) CountDeliverables(ctx context.Context, projectID string) (readiness.Counts, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT kind,state,COUNT(*) FROM deliverables WHERE project_id=? GROUP BY kind,state`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := readiness.Counts{}
	for rows.Next() {
		var kind domain.DeliverableKind
		var state domain.DeliverableState
		var n int
		if err := rows.Scan(&kind, &state, &n); err != nil {
			return nil, err
		}
		counts.Add(kind, state, n)
	}
	return counts, rows.Err()
}
