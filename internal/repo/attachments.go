package repo

import (
	"context"
	"database/sql"

	"deliverline/internal/domain"
)

func (r Repo) InsertAttachmentTx(ctx context.Context, tx *sql.Tx, a domain.Attachment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO attachments(id,entity_kind,entity_id,name,path,mimetype,size,uploaded_by,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.EntityKind, a.EntityID, a.Name, a.Path, nullable(a.Mimetype), a.Size, a.UploadedBy, a.CreatedAt)
	return err
}

func (r Repo) ListAttachments(ctx context.Context, entityKind, entityID string) ([]domain.Attachment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,entity_kind,entity_id,name,path,COALESCE(mimetype,''),size,uploaded_by,created_at FROM attachments WHERE entity_kind=? AND entity_id=? ORDER BY created_at ASC`, entityKind, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Attachment
	for rows.Next() {
		var a domain.Attachment
		if err := rows.Scan(&a.ID, &a.EntityKind, &a.EntityID, &a.Name, &a.Path, &a.Mimetype, &a.Size, &a.UploadedBy, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
