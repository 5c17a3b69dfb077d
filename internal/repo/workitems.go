package repo

import (
	"context"
	"database/sql"
	"strings"

	"deliverline/internal/domain"
)

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,story_id,project_id,title,status,assignee_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		t.ID, t.StoryID, t.ProjectID, t.Title, t.Status, nullableStringPtr(t.AssigneeID), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	var t domain.Task
	var assignee sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,story_id,project_id,title,status,assignee_id,created_at,updated_at FROM tasks WHERE id=?`, id).
		Scan(&t.ID, &t.StoryID, &t.ProjectID, &t.Title, &t.Status, &assignee, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if assignee.Valid {
		t.AssigneeID = &assignee.String
	}
	return t, err
}

func (r Repo) ListTasks(ctx context.Context, storyID, status string) ([]domain.Task, error) {
	clauses := []string{"1=1"}
	var args []any
	if storyID != "" {
		clauses = append(clauses, "story_id=?")
		args = append(args, storyID)
	}
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, status)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,story_id,project_id,title,status,assignee_id,created_at,updated_at FROM tasks WHERE `+
		strings.Join(clauses, " AND ")+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		var t domain.Task
		var assignee sql.NullString
		if err := rows.Scan(&t.ID, &t.StoryID, &t.ProjectID, &t.Title, &t.Status, &assignee, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		if assignee.Valid {
			t.AssigneeID = &assignee.String
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// ApplyTaskStatus updates the task status only if it still equals expected.
func (r Repo) ApplyTaskStatus(ctx context.Context, tx *sql.Tx, id, status, expected, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET status=?, updated_at=? WHERE id=? AND status=?`, status, updatedAt, id, expected)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}

func (r Repo) InsertBug(ctx context.Context, tx *sql.Tx, b domain.Bug) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO bugs(id,story_id,project_id,title,severity,status,assignee_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		b.ID, b.StoryID, b.ProjectID, b.Title, nullable(b.Severity), b.Status, nullableStringPtr(b.AssigneeID), b.CreatedAt, b.UpdatedAt)
	return err
}

func (r Repo) GetBug(ctx context.Context, id string) (domain.Bug, error) {
	var b domain.Bug
	var severity, assignee sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,story_id,project_id,title,severity,status,assignee_id,created_at,updated_at FROM bugs WHERE id=?`, id).
		Scan(&b.ID, &b.StoryID, &b.ProjectID, &b.Title, &severity, &b.Status, &assignee, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	if severity.Valid {
		b.Severity = severity.String
	}
	if assignee.Valid {
		b.AssigneeID = &assignee.String
	}
	return b, err
}

func (r Repo) ListBugs(ctx context.Context, storyID, status string) ([]domain.Bug, error) {
	clauses := []string{"1=1"}
	var args []any
	if storyID != "" {
		clauses = append(clauses, "story_id=?")
		args = append(args, storyID)
	}
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, status)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,story_id,project_id,title,severity,status,assignee_id,created_at,updated_at FROM bugs WHERE `+
		strings.Join(clauses, " AND ")+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Bug
	for rows.Next() {
		var b domain.Bug
		var severity, assignee sql.NullString
		if err := rows.Scan(&b.ID, &b.StoryID, &b.ProjectID, &b.Title, &severity, &b.Status, &assignee, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		if severity.Valid {
			b.Severity = severity.String
		}
		if assignee.Valid {
			b.AssigneeID = &assignee.String
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

// ApplyBugStatus updates the bug status only if it still equals expected.
func (r Repo) ApplyBugStatus(ctx context.Context, tx *sql.Tx, id, status, expected, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE bugs SET status=?, updated_at=? WHERE id=? AND status=?`, status, updatedAt, id, expected)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}
