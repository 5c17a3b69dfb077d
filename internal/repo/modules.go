package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"deliverline/internal/domain"
)

const moduleColumns = `id,project_id,code,name,COALESCE(description,''),status,delivery_status,partner_id,delivered_by,delivered_at,COALESCE(delivery_note,''),COALESCE(delivery_commit,''),approved_by,approved_at,COALESCE(approval_note,''),created_at,updated_at`

func scanModule(scan func(dest ...any) error) (domain.Module, error) {
	var m domain.Module
	var partnerID, deliveredBy, deliveredAt, approvedBy, approvedAt sql.NullString
	err := scan(&m.ID, &m.ProjectID, &m.Code, &m.Name, &m.Description, &m.Status, &m.DeliveryStatus,
		&partnerID, &deliveredBy, &deliveredAt, &m.Delivery.Note, &m.Delivery.CommitRef,
		&approvedBy, &approvedAt, &m.Approval.Note, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if partnerID.Valid {
		m.Delivery.PartnerID = &partnerID.String
	}
	if deliveredBy.Valid {
		m.Delivery.DeliveredBy = &deliveredBy.String
	}
	if deliveredAt.Valid {
		m.Delivery.DeliveredAt = &deliveredAt.String
	}
	if approvedBy.Valid {
		m.Approval.ApprovedBy = &approvedBy.String
	}
	if approvedAt.Valid {
		m.Approval.ApprovedAt = &approvedAt.String
	}
	return m, nil
}

func (r Repo) InsertModule(ctx context.Context, tx *sql.Tx, m domain.Module) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO modules(id,project_id,code,name,description,status,delivery_status,partner_id,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.ProjectID, m.Code, m.Name, nullable(m.Description), m.Status, m.DeliveryStatus,
		nullableStringPtr(m.Delivery.PartnerID), m.CreatedAt, m.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("module code %s: %w", m.Code, ErrConflict)
	}
	return err
}

func (r Repo) GetModule(ctx context.Context, id string) (domain.Module, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+moduleColumns+` FROM modules WHERE id=?`, id)
	return scanModule(row.Scan)
}

type ModuleFilters struct {
	ProjectID      string
	PartnerID      string
	Status         string
	DeliveryStatus string
	Limit          int
}

func (r Repo) ListModules(ctx context.Context, f ModuleFilters) ([]domain.Module, error) {
	var clauses []string
	var args []any
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
	query := `SELECT ` + moduleColumns + ` FROM modules ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Module
	for rows.Next() {
		m, err := scanModule(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) UpdateModuleMeta(ctx context.Context, id, name, description string) error {
	var fields []string
	var args []any
	if name != "" {
		fields = append(fields, "name=?")
		args = append(args, name)
	}
	if description != "" {
		fields = append(fields, "description=?")
		args = append(args, description)
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE modules SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyModuleTransition writes the lifecycle fields only if status and
// delivery_status both still equal what the caller read. ErrStale means
// another transition landed first. The status guard matters for moves
// that leave delivery_status unchanged (start, close).
func (r Repo) ApplyModuleTransition(ctx context.Context, tx *sql.Tx, m domain.Module, expectedStatus, expectedDelivery string) error {
	res, err := tx.ExecContext(ctx, `UPDATE modules SET status=?, delivery_status=?, partner_id=?, delivered_by=?, delivered_at=?, delivery_note=?, delivery_commit=?, approved_by=?, approved_at=?, approval_note=?, updated_at=?
WHERE id=? AND status=? AND delivery_status=?`,
		m.Status, m.DeliveryStatus, nullableStringPtr(m.Delivery.PartnerID), nullableStringPtr(m.Delivery.DeliveredBy),
		nullableStringPtr(m.Delivery.DeliveredAt), nullable(m.Delivery.Note), nullable(m.Delivery.CommitRef),
		nullableStringPtr(m.Approval.ApprovedBy), nullableStringPtr(m.Approval.ApprovedAt), nullable(m.Approval.Note),
		m.UpdatedAt, m.ID, expectedStatus, expectedDelivery)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}
