package repo

import (
	"context"
	"database/sql"
	"errors"

	"launchline/internal/domain"
)

const approvalColumns = `id,project_id,message,due_date,phase_order,status,created_by,created_at,updated_at`

func scanApproval(row rowScanner) (domain.ApprovalRequest, error) {
	var a domain.ApprovalRequest
	var due sql.NullString
	var order sql.NullInt64
	err := row.Scan(&a.ID, &a.ProjectID, &a.Message, &due, &order, &a.Status, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	a.DueDate = stringPtr(due)
	a.PhaseOrder = intPtr(order)
	return a, err
}

// InsertApprovalTx stores the request and its reviewer slots.
func (r Repo) InsertApprovalTx(ctx context.Context, tx *sql.Tx, a domain.ApprovalRequest) error {
	q := r.on(tx)
	if _, err := q.ExecContext(ctx, `INSERT INTO approval_requests(`+approvalColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.ProjectID, a.Message, nullableStringPtr(a.DueDate), nullableIntPtr(a.PhaseOrder), a.Status, a.CreatedBy, a.CreatedAt, a.UpdatedAt); err != nil {
		return err
	}
	for i, rv := range a.Reviewers {
		if _, err := q.ExecContext(ctx, `INSERT INTO approval_reviewers(approval_id,reviewer_id,position,status,feedback_text,reviewed_at) VALUES (?,?,?,?,?,?)`,
			a.ID, rv.ReviewerID, i, rv.Status, nullableStringPtr(rv.FeedbackText), nullableStringPtr(rv.ReviewedAt)); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetApproval(ctx context.Context, id string) (domain.ApprovalRequest, error) {
	return r.GetApprovalTx(ctx, nil, id)
}

func (r Repo) GetApprovalTx(ctx context.Context, tx *sql.Tx, id string) (domain.ApprovalRequest, error) {
	a, err := scanApproval(r.on(tx).QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approval_requests WHERE id=?`, id))
	if err != nil {
		return a, err
	}
	reviewers, err := r.listReviewers(ctx, r.on(tx), []string{a.ID})
	if err != nil {
		return a, err
	}
	a.Reviewers = reviewers[a.ID]
	return a, nil
}

type ApprovalFilters struct {
	ProjectID string
	Status    domain.ApprovalStatus
}

// ListApprovals returns requests oldest first with reviewers attached.
func (r Repo) ListApprovals(ctx context.Context, f ApprovalFilters) ([]domain.ApprovalRequest, error) {
	return r.ListApprovalsTx(ctx, nil, f)
}

func (r Repo) ListApprovalsTx(ctx context.Context, tx *sql.Tx, f ApprovalFilters) ([]domain.ApprovalRequest, error) {
	q := r.on(tx)
	query := `SELECT ` + approvalColumns + ` FROM approval_requests WHERE project_id=?`
	args := []any{f.ProjectID}
	if f.Status != "" {
		query += ` AND status=?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY created_at, id`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var res []domain.ApprovalRequest
	var ids []string
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, a)
		ids = append(ids, a.ID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	if len(ids) == 0 {
		return res, nil
	}
	reviewers, err := r.listReviewers(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Reviewers = reviewers[res[i].ID]
	}
	return res, nil
}

func (r Repo) listReviewers(ctx context.Context, q querier, approvalIDs []string) (map[string][]domain.ReviewerDecision, error) {
	out := make(map[string][]domain.ReviewerDecision, len(approvalIDs))
	for _, id := range approvalIDs {
		rows, err := q.QueryContext(ctx, `SELECT reviewer_id,status,feedback_text,reviewed_at FROM approval_reviewers WHERE approval_id=? ORDER BY position`, id)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var d domain.ReviewerDecision
			var fb, at sql.NullString
			if err := rows.Scan(&d.ReviewerID, &d.Status, &fb, &at); err != nil {
				rows.Close()
				return nil, err
			}
			d.FeedbackText = stringPtr(fb)
			d.ReviewedAt = stringPtr(at)
			out[id] = append(out[id], d)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// RecordDecisionTx writes a reviewer decision only if that reviewer is still
// PENDING. It returns ErrAlreadyReviewed when another writer got there first.
func (r Repo) RecordDecisionTx(ctx context.Context, tx *sql.Tx, approvalID string, d domain.ReviewerDecision) error {
	res, err := r.on(tx).ExecContext(ctx, `UPDATE approval_reviewers SET status=?, feedback_text=?, reviewed_at=? WHERE approval_id=? AND reviewer_id=? AND status='PENDING'`,
		d.Status, nullableStringPtr(d.FeedbackText), nullableStringPtr(d.ReviewedAt), approvalID, d.ReviewerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrAlreadyReviewed
	}
	return nil
}

func (r Repo) UpdateApprovalStatusTx(ctx context.Context, tx *sql.Tx, id string, status domain.ApprovalStatus, updatedAt string) error {
	res, err := r.on(tx).ExecContext(ctx, `UPDATE approval_requests SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
