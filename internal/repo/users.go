package repo

import (
	"context"
	"database/sql"
	"fmt"

	"deliverline/internal/domain"
)

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,name,role,partner_id,created_at) VALUES (?,?,?,?,?)`,
		u.ID, u.Name, u.Role, nullableStringPtr(u.PartnerID), u.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("user %s: %w", u.ID, ErrConflict)
	}
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	var partnerID sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,role,partner_id,created_at FROM users WHERE id=?`, id).
		Scan(&u.ID, &u.Name, &u.Role, &partnerID, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if partnerID.Valid {
		u.PartnerID = &partnerID.String
	}
	return u, err
}

func (r Repo) ListUsers(ctx context.Context, role string) ([]domain.User, error) {
	query := `SELECT id,name,role,partner_id,created_at FROM users`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, role)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		var partnerID sql.NullString
		if err := rows.Scan(&u.ID, &u.Name, &u.Role, &partnerID, &u.CreatedAt); err != nil {
			return nil, err
		}
		if partnerID.Valid {
			u.PartnerID = &partnerID.String
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// FindPartnerUser returns the first user linked to a partner, used as the
// notification recipient for delivery decisions.
func (r Repo) FindPartnerUser(ctx context.Context, partnerID string) (domain.User, error) {
	var u domain.User
	var pid sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,role,partner_id,created_at FROM users WHERE role='partner' AND partner_id=? ORDER BY created_at ASC LIMIT 1`, partnerID).
		Scan(&u.ID, &u.Name, &u.Role, &pid, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if pid.Valid {
		u.PartnerID = &pid.String
	}
	return u, err
}

// ReplaceUserScopes rewrites the explicit data-scope sets for a user.
func (r Repo) ReplaceUserScopes(ctx context.Context, userID string, scope domain.DataScope) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_scopes WHERE user_id=?`, userID); err != nil {
		return err
	}
	insert := func(kind string, ids []string) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO user_scopes(user_id,kind,ref_id) VALUES (?,?,?)`, userID, kind, id); err != nil {
				return err
			}
		}
		return nil
	}
	if err := insert("project", scope.ProjectIDs); err != nil {
		return err
	}
	if err := insert("module", scope.ModuleIDs); err != nil {
		return err
	}
	if err := insert("partner", scope.PartnerIDs); err != nil {
		return err
	}
	return tx.Commit()
}

// GetUserScopes loads the explicit data-scope sets for a user.
func (r Repo) GetUserScopes(ctx context.Context, userID string) (domain.DataScope, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT kind, ref_id FROM user_scopes WHERE user_id=?`, userID)
	if err != nil {
		return domain.DataScope{}, err
	}
	defer rows.Close()
	var scope domain.DataScope
	for rows.Next() {
		var kind, refID string
		if err := rows.Scan(&kind, &refID); err != nil {
			return scope, err
		}
		switch kind {
		case "project":
			scope.ProjectIDs = append(scope.ProjectIDs, refID)
		case "module":
			scope.ModuleIDs = append(scope.ModuleIDs, refID)
		case "partner":
			scope.PartnerIDs = append(scope.PartnerIDs, refID)
		}
	}
	return scope, rows.Err()
}
