package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetOrCreateUser returns the user with id, inserting it with the default role
// when absent. An existing row is never updated, so the first username wins.
func (s *Store) GetOrCreateUser(ctx context.Context, id int64, username string) (*User, bool, error) {
	u := &User{ID: id, Username: username, Role: RoleUser, CreatedAt: time.Now().UTC()}
	res, err := s.db.NewInsert().
		Model(u).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("insert user: %w", err)
	}
	n, _ := res.RowsAffected()

	got, err := s.UserByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return got, n > 0, nil
}

func (s *Store) UserByID(ctx context.Context, id int64) (*User, error) {
	u := new(User)
	err := s.db.NewSelect().Model(u).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return u, nil
}

// UpdateUserRole sets the role of an existing user. Unknown roles fail with
// ErrInvalidRole and unknown ids with ErrNotFound.
func (s *Store) UpdateUserRole(ctx context.Context, id int64, role Role) error {
	r, err := ParseRole(string(role))
	if err != nil {
		return err
	}
	res, err := s.db.NewUpdate().
		Model((*User)(nil)).
		Set("role = ?", r).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	var out []User
	if err := s.db.NewSelect().Model(&out).Order("created_at ASC", "id ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return out, nil
}

// CountUsersByRole returns the number of users per role. Roles with no users
// are present with a zero count.
func (s *Store) CountUsersByRole(ctx context.Context) (map[Role]int, error) {
	var rows []struct {
		Role  Role `bun:"role"`
		Count int  `bun:"count"`
	}
	err := s.db.NewSelect().
		Model((*User)(nil)).
		Column("role").
		ColumnExpr("COUNT(*) AS count").
		Group("role").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	out := map[Role]int{RoleUser: 0, RoleModerator: 0, RoleAdmin: 0}
	for _, r := range rows {
		out[r.Role] = r.Count
	}
	return out, nil
}

// RecipientIDs returns the ids of every registered user in registration order.
func (s *Store) RecipientIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.db.NewSelect().
		Model((*User)(nil)).
		Column("id").
		Order("created_at ASC", "id ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	return ids, nil
}
