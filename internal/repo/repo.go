package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	sq "github.com/Masterminds/squirrel"

	"bountyline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const runColumns = `id,workflow_id,status,step_index,COALESCE(step_id,''),COALESCE(listing_slug,''),input_json,state_json,suspend_json,output_json,COALESCE(error,''),created_at,updated_at`

var runColumnList = []string{
	"id", "workflow_id", "status", "step_index", "COALESCE(step_id,'')", "COALESCE(listing_slug,'')",
	"input_json", "state_json", "suspend_json", "output_json", "COALESCE(error,'')", "created_at", "updated_at",
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.Run, error) {
	var r domain.Run
	var input, state, suspend, output sql.NullString
	err := row.Scan(&r.ID, &r.WorkflowID, &r.Status, &r.StepIndex, &r.StepID, &r.ListingSlug,
		&input, &state, &suspend, &output, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return r, ErrNotFound
	}
	if err != nil {
		return r, err
	}
	r.Input = rawJSON(input)
	r.State = rawJSON(state)
	r.Suspend = rawJSON(suspend)
	r.Output = rawJSON(output)
	return r, nil
}

func rawJSON(v sql.NullString) json.RawMessage {
	if !v.Valid || v.String == "" {
		return nil
	}
	return json.RawMessage(v.String)
}

func (r Repo) InsertRunTx(ctx context.Context, tx *sql.Tx, run domain.Run) error {
	input := string(run.Input)
	if input == "" {
		input = "{}"
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO runs(id,workflow_id,status,step_index,step_id,listing_slug,input_json,state_json,suspend_json,output_json,error,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		run.ID, run.WorkflowID, run.Status, run.StepIndex, nullable(run.StepID), nullable(run.ListingSlug), input,
		nullableJSON(run.State), nullableJSON(run.Suspend), nullableJSON(run.Output), nullable(run.Error), run.CreatedAt, run.UpdatedAt)
	return err
}

// UpdateRunTx persists the mutable part of a run.
func (r Repo) UpdateRunTx(ctx context.Context, tx *sql.Tx, run domain.Run) error {
	res, err := tx.ExecContext(ctx, `UPDATE runs SET status=?,step_index=?,step_id=?,state_json=?,suspend_json=?,output_json=?,error=?,updated_at=? WHERE id=?`,
		run.Status, run.StepIndex, nullable(run.StepID), nullableJSON(run.State), nullableJSON(run.Suspend), nullableJSON(run.Output),
		nullable(run.Error), run.UpdatedAt, run.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetRun(ctx context.Context, id string) (domain.Run, error) {
	return scanRun(r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=?`, id))
}

func (r Repo) GetRunTx(ctx context.Context, tx *sql.Tx, id string) (domain.Run, error) {
	return scanRun(tx.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=?`, id))
}

type RunFilters struct {
	WorkflowID  string
	Status      string
	ListingSlug string
	Limit       int
	// Cursor pagination: runs strictly older than (CursorUpdatedAt, CursorID).
	CursorUpdatedAt string
	CursorID        string
}

// ListRuns returns runs newest first.
func (r Repo) ListRuns(ctx context.Context, f RunFilters) ([]domain.Run, error) {
	q := sq.Select(runColumnList...).From("runs")
	if f.WorkflowID != "" {
		q = q.Where(sq.Eq{"workflow_id": f.WorkflowID})
	}
	if f.Status != "" {
		q = q.Where(sq.Eq{"status": f.Status})
	}
	if f.ListingSlug != "" {
		q = q.Where(sq.Eq{"listing_slug": f.ListingSlug})
	}
	if f.CursorUpdatedAt != "" && f.CursorID != "" {
		q = q.Where(sq.Or{
			sq.Lt{"updated_at": f.CursorUpdatedAt},
			sq.And{sq.Eq{"updated_at": f.CursorUpdatedAt}, sq.Lt{"id": f.CursorID}},
		})
	}
	q = q.OrderBy("updated_at DESC", "id DESC")
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

// CountRunsByStatus returns run counts keyed by status.
func (r Repo) CountRunsByStatus(ctx context.Context, workflowID string) (map[string]int, error) {
	q := sq.Select("status", "COUNT(*)").From("runs").GroupBy("status")
	if workflowID != "" {
		q = q.Where(sq.Eq{"workflow_id": workflowID})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
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

type EventFilters struct {
	Type       string
	EntityKind string
	EntityID   string
	// Before returns events with ids lower than the cursor.
	Before int64
	Limit  int
}

var eventColumns = []string{"id", "ts", "type", "entity_kind", "COALESCE(entity_id,'')", "actor_id", "payload_json"}

// LatestEvents returns matching events newest first.
func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	q := sq.Select(eventColumns...).From("events")
	if f.Type != "" {
		q = q.Where(sq.Eq{"type": f.Type})
	}
	if f.EntityKind != "" {
		q = q.Where(sq.Eq{"entity_kind": f.EntityKind})
	}
	if f.EntityID != "" {
		q = q.Where(sq.Eq{"entity_id": f.EntityID})
	}
	if f.Before > 0 {
		q = q.Where(sq.Lt{"id": f.Before})
	}
	return r.queryEvents(ctx, q.OrderBy("id DESC").Limit(uint64(f.Limit)))
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	q := sq.Select(eventColumns...).From("events")
	if cursor > 0 {
		q = q.Where(sq.Gt{"id": cursor})
	}
	return r.queryEvents(ctx, q.OrderBy("id ASC").Limit(uint64(limit)))
}

func (r Repo) queryEvents(ctx context.Context, q sq.SelectBuilder) ([]domain.Event, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableJSON(v json.RawMessage) any {
	if len(v) == 0 {
		return nil
	}
	return string(v)
}
