package repo

import (
	"context"
	"errors"
	"strings"

	"pledgeline/internal/domain"
)

// UpsertSession records a visitor session, preserving first_visit across
// reconnects.
func (r Repo) UpsertSession(ctx context.Context, sessionID, ip, now string) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("session_id required")
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO sessions(session_id,ip,first_visit,last_active) VALUES (?,?,?,?)
ON CONFLICT(session_id) DO UPDATE SET ip=excluded.ip, last_active=excluded.last_active`,
		sessionID, ip, now, now)
	return err
}

func (r Repo) ListSessions(ctx context.Context) ([]domain.Session, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT session_id,ip,first_visit,last_active FROM sessions ORDER BY last_active DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Session
	for rows.Next() {
		var s domain.Session
		if err := rows.Scan(&s.SessionID, &s.IP, &s.FirstVisit, &s.LastActive); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
