package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Writer appends audit entries inside the caller's transaction so the
// entry commits with the field change it documents, or not at all.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Payload map[string]any

// Append inserts one history row and returns its id.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, entityKind, entityID, actorID, action, note string, payload Payload) (int64, error) {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal history payload: %w", err)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO history(ts,entity_kind,entity_id,actor_id,action,note,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, entityKind, entityID, actorID, action, nullable(note), string(data))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
