package repo

import (
	"context"
	"database/sql"
	"strings"

	"pledgeline/internal/domain"
)

const deleteRequestColumns = `id,promise_id,requester_address,status,requested_at,processed_by,processed_at`

func scanDeleteRequest(scan func(dest ...any) error) (domain.DeleteRequest, error) {
	var dr domain.DeleteRequest
	var processedBy, processedAt sql.NullString
	err := scan(&dr.ID, &dr.PromiseID, &dr.RequesterAddress, &dr.Status, &dr.RequestedAt, &processedBy, &processedAt)
	if err == sql.ErrNoRows {
		return dr, ErrNotFound
	}
	if err != nil {
		return dr, err
	}
	if processedBy.Valid {
		dr.ProcessedBy = &processedBy.String
	}
	if processedAt.Valid {
		dr.ProcessedAt = &processedAt.String
	}
	return dr, nil
}

func (r Repo) InsertDeleteRequest(ctx context.Context, tx *sql.Tx, dr domain.DeleteRequest) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO delete_requests(`+deleteRequestColumns+`) VALUES (?,?,?,?,?,?,?)`,
		dr.ID, dr.PromiseID, strings.ToLower(dr.RequesterAddress), dr.Status, dr.RequestedAt,
		nullableStringPtr(dr.ProcessedBy), nullableStringPtr(dr.ProcessedAt))
	return err
}

func (r Repo) GetDeleteRequest(ctx context.Context, id string) (domain.DeleteRequest, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+deleteRequestColumns+` FROM delete_requests WHERE id=?`, id)
	return scanDeleteRequest(row.Scan)
}

func (r Repo) GetDeleteRequestTx(ctx context.Context, tx *sql.Tx, id string) (domain.DeleteRequest, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+deleteRequestColumns+` FROM delete_requests WHERE id=?`, id)
	return scanDeleteRequest(row.Scan)
}

// PendingDeleteRequest returns the pending request for a promise, if any.
func (r Repo) PendingDeleteRequest(ctx context.Context, promiseID string) (domain.DeleteRequest, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+deleteRequestColumns+` FROM delete_requests WHERE promise_id=? AND status='pending'`, promiseID)
	return scanDeleteRequest(row.Scan)
}

// ListDeleteRequests returns requests filtered by status, oldest first so the
// moderation queue is fair.
func (r Repo) ListDeleteRequests(ctx context.Context, status string) ([]domain.DeleteRequest, error) {
	query := `SELECT ` + deleteRequestColumns + ` FROM delete_requests`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY requested_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DeleteRequest
	for rows.Next() {
		dr, err := scanDeleteRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, dr)
	}
	return res, rows.Err()
}

// ResolveDeleteRequest moves a pending request to approved or rejected. The
// status guard makes resolution one-shot: zero rows means the request was
// already processed or never existed.
func (r Repo) ResolveDeleteRequest(ctx context.Context, tx *sql.Tx, id, status, processedBy, processedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE delete_requests SET status=?, processed_by=?, processed_at=? WHERE id=? AND status='pending'`,
		status, strings.ToLower(processedBy), processedAt, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
