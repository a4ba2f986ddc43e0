package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"pledgeline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const promiseColumns = `id,address,message,category,difficulty,deadline,status,proof,admin_adjusted_progress,created_at,updated_at`

func scanPromise(scan func(dest ...any) error) (domain.Promise, error) {
	var p domain.Promise
	var proof sql.NullString
	var progress sql.NullInt64
	err := scan(&p.ID, &p.Address, &p.Message, &p.Category, &p.Difficulty, &p.Deadline, &p.Status, &proof, &progress, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if proof.Valid {
		p.Proof = proof.String
	}
	if progress.Valid {
		v := int(progress.Int64)
		p.AdminAdjustedProgress = &v
	}
	return p, nil
}

func (r Repo) InsertPromise(ctx context.Context, tx *sql.Tx, p domain.Promise) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO promises(`+promiseColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Address, p.Message, p.Category, p.Difficulty, p.Deadline, p.Status,
		nullable(p.Proof), nullableInt(p.AdminAdjustedProgress), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetPromise(ctx context.Context, id string) (domain.Promise, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+promiseColumns+` FROM promises WHERE id=?`, id)
	return scanPromise(row.Scan)
}

func (r Repo) GetPromiseTx(ctx context.Context, tx *sql.Tx, id string) (domain.Promise, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+promiseColumns+` FROM promises WHERE id=?`, id)
	return scanPromise(row.Scan)
}

// PromiseFilters narrows ListPromises. Cursor pagination is keyed on
// (created_at, id) descending.
type PromiseFilters struct {
	Address         string
	Status          string
	Category        string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListPromises(ctx context.Context, f PromiseFilters) ([]domain.Promise, error) {
	var clauses []string
	var args []any
	if f.Address != "" {
		clauses = append(clauses, "address=?")
		args = append(args, strings.ToLower(f.Address))
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Category != "" {
		clauses = append(clauses, "category=?")
		args = append(args, f.Category)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + promiseColumns + ` FROM promises`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Promise
	for rows.Next() {
		p, err := scanPromise(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpdatePromiseDetails applies field-level edits guarded on status='active',
// so an edit racing a resolution from another session cannot rewrite a
// terminal promise. Zero rows means the promise is missing or no longer
// active; the caller must re-read to tell which.
func (r Repo) UpdatePromiseDetails(ctx context.Context, tx *sql.Tx, id string, fields map[string]any, updatedAt string) (bool, error) {
	if len(fields) == 0 {
		return true, nil
	}
	var sets []string
	var args []any
	for _, col := range []string{"message", "category", "difficulty", "deadline", "proof"} {
		if v, ok := fields[col]; ok {
			sets = append(sets, col+"=?")
			args = append(args, v)
		}
	}
	if len(sets) == 0 {
		return true, nil
	}
	sets = append(sets, "updated_at=?")
	args = append(args, updatedAt, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE promises SET %s WHERE id=? AND status='active'`, strings.Join(sets, ",")), args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ResolvePromise performs the one-shot status transition as a compare-and-set
// on status='active'. It reports whether a row was claimed; zero rows means
// the promise is missing or already terminal and the caller must re-read to
// tell the two apart.
func (r Repo) ResolvePromise(ctx context.Context, tx *sql.Tx, id, newStatus, proof, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE promises SET status=?, proof=COALESCE(?,proof), updated_at=? WHERE id=? AND status='active'`,
		newStatus, nullable(proof), updatedAt, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) SetAdminProgress(ctx context.Context, tx *sql.Tx, id string, progress int, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE promises SET admin_adjusted_progress=?, updated_at=? WHERE id=?`,
		progress, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeletePromise(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM promises WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountPromisesByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM promises GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// --- users ---

const userColumns = `address,reputation,completed_promises,failed_promises,total_promises,streak,level,joined_at,last_active`

func scanUser(scan func(dest ...any) error) (domain.User, error) {
	var u domain.User
	err := scan(&u.Address, &u.Reputation, &u.CompletedPromises, &u.FailedPromises, &u.TotalPromises, &u.Streak, &u.Level, &u.JoinedAt, &u.LastActive)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) GetUser(ctx context.Context, address string) (domain.User, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE address=?`, strings.ToLower(address))
	return scanUser(row.Scan)
}

func (r Repo) GetUserTx(ctx context.Context, tx *sql.Tx, address string) (domain.User, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE address=?`, strings.ToLower(address))
	return scanUser(row.Scan)
}

// EnsureUser inserts a zeroed user row if the address is unknown.
func (r Repo) EnsureUser(ctx context.Context, tx *sql.Tx, address, now string) error {
	address = strings.ToLower(address)
	if address == "" {
		return errors.New("address required")
	}
	_, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO users(address,reputation,completed_promises,failed_promises,total_promises,streak,level,joined_at,last_active)
VALUES (?,0,0,0,0,0,1,?,?)`, address, now, now)
	return err
}

func (r Repo) UpdateUserCounters(ctx context.Context, tx *sql.Tx, u domain.User, now string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE users SET reputation=?, completed_promises=?, failed_promises=?, total_promises=?, streak=?, level=?, last_active=? WHERE address=?`,
		u.Reputation, u.CompletedPromises, u.FailedPromises, u.TotalPromises, u.Streak, u.Level, now, strings.ToLower(u.Address))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY reputation DESC, address ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// UserAggregates returns the user-table slice of the global stats.
func (r Repo) UserAggregates(ctx context.Context) (total int, avgReputation float64, topPerformer string, highestStreak int, err error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(AVG(reputation),0), COALESCE(MAX(streak),0) FROM users`)
	if err = row.Scan(&total, &avgReputation, &highestStreak); err != nil {
		return
	}
	row = r.DB.QueryRowContext(ctx, `SELECT address FROM users ORDER BY reputation DESC, address ASC LIMIT 1`)
	scanErr := row.Scan(&topPerformer)
	if scanErr != nil && scanErr != sql.ErrNoRows {
		err = scanErr
	}
	return
}

// --- events ---

const eventColumns = `id,ts,type,entity_kind,COALESCE(entity_id,''),actor,payload_json`

func scanEvent(scan func(dest ...any) error) (domain.Event, error) {
	var e domain.Event
	err := scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.Actor, &e.Payload)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	return e, err
}

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	var clauses []string
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	query := `SELECT ` + eventColumns + ` FROM events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// EventsAfter returns up to limit events with id greater than cursor, oldest
// first, for the webhook dispatcher.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id > ? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
