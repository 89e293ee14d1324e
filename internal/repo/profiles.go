package repo

import (
	"context"
	"database/sql"
	"errors"

	"lettertrack/internal/domain"
)

// UpsertProfile inserts or renames/re-roles a profile. created_at is kept on update.
func (r Repo) UpsertProfile(ctx context.Context, tx *sql.Tx, p domain.Profile) error {
	if p.ID == "" {
		return errors.New("id required")
	}
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO profiles(id,name,role,created_at) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, role=excluded.role`, p.ID, p.Name, p.Role, p.CreatedAt)
	return err
}

func (r Repo) GetProfile(ctx context.Context, tx *sql.Tx, id string) (domain.Profile, error) {
	var p domain.Profile
	err := r.on(tx).QueryRowContext(ctx, `SELECT id,name,role,created_at FROM profiles WHERE id=?`, id).
		Scan(&p.ID, &p.Name, &p.Role, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

// ListProfiles returns profiles ordered by name, optionally restricted to one role.
func (r Repo) ListProfiles(ctx context.Context, role domain.Role) ([]domain.Profile, error) {
	query := `SELECT id,name,role,created_at FROM profiles`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, role)
	}
	query += ` ORDER BY name ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Profile{}
	for rows.Next() {
		var p domain.Profile
		if err := rows.Scan(&p.ID, &p.Name, &p.Role, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
