package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"deliverline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrConflict signals a duplicate unique key on a creation path.
var ErrConflict = errors.New("duplicate key")

// ErrStale signals that a conditional update matched no row because the
// guarded column changed since the caller's read.
var ErrStale = errors.New("stale state")

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE")
}

func (r Repo) InsertPartner(ctx context.Context, p domain.Partner) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO partners(id,code,name,contact,status,created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.Code, p.Name, nullable(p.Contact), p.Status, p.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("partner code %s: %w", p.Code, ErrConflict)
	}
	return err
}

func (r Repo) GetPartner(ctx context.Context, id string) (domain.Partner, error) {
	var p domain.Partner
	err := r.DB.QueryRowContext(ctx, `SELECT id,code,name,COALESCE(contact,''),status,created_at FROM partners WHERE id=?`, id).
		Scan(&p.ID, &p.Code, &p.Name, &p.Contact, &p.Status, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) GetPartnerByCode(ctx context.Context, code string) (domain.Partner, error) {
	var p domain.Partner
	err := r.DB.QueryRowContext(ctx, `SELECT id,code,name,COALESCE(contact,''),status,created_at FROM partners WHERE code=?`, code).
		Scan(&p.ID, &p.Code, &p.Name, &p.Contact, &p.Status, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) ListPartners(ctx context.Context) ([]domain.Partner, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,code,name,COALESCE(contact,''),status,created_at FROM partners ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Partner
	for rows.Next() {
		var p domain.Partner
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.Contact, &p.Status, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpdatePartnerStatus(ctx context.Context, id, status string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE partners SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertProject(ctx context.Context, p domain.Project) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO projects(id,name,partner_id,partner_name,manager_id,status,description,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, nullableStringPtr(p.PartnerID), nullable(p.PartnerName), nullable(p.ManagerID), p.Status, nullable(p.Description), p.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("project %s: %w", p.ID, ErrConflict)
	}
	return err
}

func scanProject(row *sql.Row) (domain.Project, error) {
	var p domain.Project
	var partnerID sql.NullString
	err := row.Scan(&p.ID, &p.Name, &partnerID, &p.PartnerName, &p.ManagerID, &p.Status, &p.Description, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if partnerID.Valid {
		p.PartnerID = &partnerID.String
	}
	return p, err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT id,name,partner_id,COALESCE(partner_name,''),COALESCE(manager_id,''),status,COALESCE(description,''),created_at FROM projects WHERE id=?`, id))
}

func (r Repo) ListProjects(ctx context.Context, partnerID string) ([]domain.Project, error) {
	query := `SELECT id,name,partner_id,COALESCE(partner_name,''),COALESCE(manager_id,''),status,COALESCE(description,''),created_at FROM projects`
	var args []any
	if partnerID != "" {
		query += ` WHERE partner_id=?`
		args = append(args, partnerID)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		var pid sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &pid, &p.PartnerName, &p.ManagerID, &p.Status, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		if pid.Valid {
			p.PartnerID = &pid.String
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpdateProject(ctx context.Context, id string, status, managerID string, description *string) error {
	var (
		fields []string
		args   []any
	)
	if status != "" {
		fields = append(fields, "status=?")
		args = append(args, status)
	}
	if managerID != "" {
		fields = append(fields, "manager_id=?")
		args = append(args, managerID)
	}
	if description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*description))
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE projects SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
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
