package repo

import (
	"context"
	"database/sql"

	"launchline/internal/domain"
)

func (r Repo) InsertPhasesTx(ctx context.Context, tx *sql.Tx, phases []domain.Phase) error {
	for _, p := range phases {
		if _, err := r.on(tx).ExecContext(ctx, `INSERT INTO phases(id,project_id,phase_key,phase_name,phase_order,status,start_date,end_date) VALUES (?,?,?,?,?,?,?,?)`,
			p.ID, p.ProjectID, p.PhaseKey, p.PhaseName, p.PhaseOrder, p.Status, nullableStringPtr(p.StartDate), nullableStringPtr(p.EndDate)); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ListPhases(ctx context.Context, projectID string) ([]domain.Phase, error) {
	return r.ListPhasesTx(ctx, nil, projectID)
}

// ListPhasesTx returns the project's phases ordered by phase_order.
func (r Repo) ListPhasesTx(ctx context.Context, tx *sql.Tx, projectID string) ([]domain.Phase, error) {
	rows, err := r.on(tx).QueryContext(ctx, `SELECT id,project_id,phase_key,phase_name,phase_order,status,start_date,end_date FROM phases WHERE project_id=? ORDER BY phase_order`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Phase
	for rows.Next() {
		var p domain.Phase
		var start, end sql.NullString
		if err := rows.Scan(&p.ID, &p.ProjectID, &p.PhaseKey, &p.PhaseName, &p.PhaseOrder, &p.Status, &start, &end); err != nil {
			return nil, err
		}
		p.StartDate = stringPtr(start)
		p.EndDate = stringPtr(end)
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpdatePhaseTx writes status and dates of one phase.
func (r Repo) UpdatePhaseTx(ctx context.Context, tx *sql.Tx, p domain.Phase) error {
	res, err := r.on(tx).ExecContext(ctx, `UPDATE phases SET status=?, start_date=?, end_date=? WHERE id=?`,
		p.Status, nullableStringPtr(p.StartDate), nullableStringPtr(p.EndDate), p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
