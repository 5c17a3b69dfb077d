package repo

import (
	"context"
	"database/sql"
	"strings"

	"deliverline/internal/domain"
)

const storyColumns = `id,module_id,project_id,title,COALESCE(description,''),status,delivery_status,partner_id,delivered_by,delivered_at,COALESCE(delivery_note,''),COALESCE(delivery_commit,''),approved_by,approved_at,COALESCE(approval_note,''),created_at,updated_at`

func scanStory(scan func(dest ...any) error) (domain.UserStory, error) {
	var s domain.UserStory
	var partnerID, deliveredBy, deliveredAt, approvedBy, approvedAt sql.NullString
	err := scan(&s.ID, &s.ModuleID, &s.ProjectID, &s.Title, &s.Description, &s.Status, &s.DeliveryStatus,
		&partnerID, &deliveredBy, &deliveredAt, &s.Delivery.Note, &s.Delivery.CommitRef,
		&approvedBy, &approvedAt, &s.Approval.Note, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if partnerID.Valid {
		s.Delivery.PartnerID = &partnerID.String
	}
	if deliveredBy.Valid {
		s.Delivery.DeliveredBy = &deliveredBy.String
	}
	if deliveredAt.Valid {
		s.Delivery.DeliveredAt = &deliveredAt.String
	}
	if approvedBy.Valid {
		s.Approval.ApprovedBy = &approvedBy.String
	}
	if approvedAt.Valid {
		s.Approval.ApprovedAt = &approvedAt.String
	}
	return s, nil
}

func (r Repo) InsertStory(ctx context.Context, tx *sql.Tx, s domain.UserStory) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO stories(id,module_id,project_id,title,description,status,delivery_status,partner_id,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.ModuleID, s.ProjectID, s.Title, nullable(s.Description), s.Status, s.DeliveryStatus,
		nullableStringPtr(s.Delivery.PartnerID), s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) GetStory(ctx context.Context, id string) (domain.UserStory, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+storyColumns+` FROM stories WHERE id=?`, id)
	return scanStory(row.Scan)
}

type StoryFilters struct {
	ModuleID       string
	ProjectID      string
	PartnerID      string
	Status         string
	DeliveryStatus string
	Limit          int
}

func (r Repo) ListStories(ctx context.Context, f StoryFilters) ([]domain.UserStory, error) {
	var clauses []string
	var args []any
	if f.ModuleID != "" {
		clauses = append(clauses, "module_id=?")
		args = append(args, f.ModuleID)
	}
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.PartnerID != "" {
		clauses = append(clauses, "partner_id=?")
		args = append(args, f.PartnerID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.DeliveryStatus != "" {
		clauses = append(clauses, "delivery_status=?")
		args = append(args, f.DeliveryStatus)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + storyColumns + ` FROM stories ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.UserStory
	for rows.Next() {
		s, err := scanStory(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// ApplyStoryTransition is the story twin of ApplyModuleTransition.
func (r Repo) ApplyStoryTransition(ctx context.Context, tx *sql.Tx, s domain.UserStory, expectedStatus, expectedDelivery string) error {
	res, err := tx.ExecContext(ctx, `UPDATE stories SET status=?, delivery_status=?, partner_id=?, delivered_by=?, delivered_at=?, delivery_note=?, delivery_commit=?, approved_by=?, approved_at=?, approval_note=?, updated_at=?
WHERE id=? AND status=? AND delivery_status=?`,
		s.Status, s.DeliveryStatus, nullableStringPtr(s.Delivery.PartnerID), nullableStringPtr(s.Delivery.DeliveredBy),
		nullableStringPtr(s.Delivery.DeliveredAt), nullable(s.Delivery.Note), nullable(s.Delivery.CommitRef),
		nullableStringPtr(s.Approval.ApprovedBy), nullableStringPtr(s.Approval.ApprovedAt), nullable(s.Approval.Note),
		s.UpdatedAt, s.ID, expectedStatus, expectedDelivery)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}
