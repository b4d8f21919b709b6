package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"printflow/internal/domain"
)

// InsertUserTx creates a user and returns its id.
func (r Repo) InsertUserTx(ctx context.Context, tx *sql.Tx, u domain.User) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO users(name,email,created_at) VALUES (?,?,?)`, u.Name, nullable(strings.ToLower(u.Email)), u.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) AssignRole(ctx context.Context, tx *sql.Tx, userID int64, role domain.Role) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO user_roles(user_id, role) VALUES (?,?)`, userID, role)
	return err
}

func (r Repo) RevokeRole(ctx context.Context, tx *sql.Tx, userID int64, role domain.Role) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id=? AND role=?`, userID, role)
	return err
}

// UserRoles reads the role set of a user; tx may be nil.
func (r Repo) UserRoles(ctx context.Context, tx *sql.Tx, userID int64) (domain.RoleSet, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT role FROM user_roles WHERE user_id=?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	set := domain.RoleSet{}
	for rows.Next() {
		var role domain.Role
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		set[role] = struct{}{}
	}
	return set, rows.Err()
}

func (r Repo) GetUser(ctx context.Context, tx *sql.Tx, id int64) (domain.User, error) {
	return r.getUser(ctx, tx, `SELECT id,name,COALESCE(email,''),created_at FROM users WHERE id=?`, id)
}

func (r Repo) getUser(ctx context.Context, tx *sql.Tx, query string, arg any) (domain.User, error) {
	var u domain.User
	err := r.q(tx).QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	roles, err := r.UserRoles(ctx, tx, u.ID)
	if err != nil {
		return u, err
	}
	u.Roles = roles.Strings()
	return u, nil
}

// ListUsers returns users with their roles, optionally restricted to one role.
func (r Repo) ListUsers(ctx context.Context, role domain.Role) ([]domain.User, error) {
	query := `SELECT id,name,COALESCE(email,''),created_at FROM users`
	var args []any
	if role != "" {
		query += ` WHERE id IN (SELECT user_id FROM user_roles WHERE role=?)`
		args = append(args, role)
	}
	query += ` ORDER BY id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var users []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	for i := range users {
		roles, err := r.UserRoles(ctx, nil, users[i].ID)
		if err != nil {
			return nil, err
		}
		users[i].Roles = roles.Strings()
	}
	return users, nil
}

func (r Repo) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}
