package history

import (
	"context"
	"database/sql"
	"strings"

	"deliverline/internal/domain"
)

// Reader lists audit entries. Entries are never mutated or removed.
type Reader struct {
	DB *sql.DB
}

type Filters struct {
	EntityKind string
	EntityID   string
	ActorID    string
	Action     string
	Limit      int
	Cursor     int64
}

// List returns entries in ascending id order (insertion order) so the
// trail reads in the order the transitions committed.
func (r Reader) List(ctx context.Context, f Filters) ([]domain.HistoryEntry, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.ActorID != "" {
		clauses = append(clauses, "actor_id=?")
		args = append(args, f.ActorID)
	}
	if f.Action != "" {
		clauses = append(clauses, "action=?")
		args = append(args, f.Action)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, f.Cursor)
	}
	query := `SELECT id,ts,entity_kind,entity_id,actor_id,COALESCE(action,''),COALESCE(note,''),COALESCE(payload_json,'') FROM history WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		if err := rows.Scan(&e.ID, &e.TS, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Action, &e.Note, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// After returns entries with ids greater than the cursor, for dispatchers.
func (r Reader) After(ctx context.Context, limit int, cursor int64) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.List(ctx, Filters{Cursor: cursor, Limit: limit})
}

// LatestID returns the most recent history id.
func (r Reader) LatestID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM history`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// Count returns the number of entries for one entity.
func (r Reader) Count(ctx context.Context, entityKind, entityID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM history WHERE entity_kind=? AND entity_id=?`, entityKind, entityID).Scan(&n)
	return n, err
}
