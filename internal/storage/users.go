package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"meetbot/internal/meetup"
)

const userCols = `id, external_id, name, role`

func scanUser(row interface{ Scan(...any) error }) (*meetup.User, error) {
	var (
		u    meetup.User
		role string
	)
	if err := row.Scan(&u.ID, &u.ExternalID, &u.Name, &role); err != nil {
		return nil, err
	}
	u.Role = meetup.Role(role)
	return &u, nil
}

// EnsureUser returns the user registered under id.ExternalID, creating a
// guest when none exists. created reports whether a row was inserted.
func (s *Store) EnsureUser(ctx context.Context, id meetup.Identity) (*meetup.User, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, ErrDisabled
	}
	name := strings.TrimSpace(id.Name)
	u, err := scanUser(s.queryRow(ctx,
		`INSERT INTO users(external_id, name, role, created_at) VALUES(?,?,?,?)
		 ON CONFLICT(external_id) DO NOTHING
		 RETURNING `+userCols,
		id.ExternalID, name, string(meetup.RoleGuest), toMillis(time.Now()),
	))
	if err == nil {
		return u, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("ensure user: %w", err)
	}
	u, err = s.UserByExternalID(ctx, id.ExternalID)
	if err != nil {
		return nil, false, err
	}
	return u, false, nil
}

func (s *Store) UserByExternalID(ctx context.Context, externalID int64) (*meetup.User, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	u, err := scanUser(s.queryRow(ctx, `SELECT `+userCols+` FROM users WHERE external_id = ?`, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, meetup.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user by external id: %w", err)
	}
	return u, nil
}

func (s *Store) UserByID(ctx context.Context, id int64) (*meetup.User, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	u, err := scanUser(s.queryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, meetup.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user by id: %w", err)
	}
	return u, nil
}

func (s *Store) SetUserRole(ctx context.Context, userID int64, role meetup.Role) error {
	if !role.Valid() {
		return fmt.Errorf("set user role: unknown role %q", role)
	}
	res, err := s.exec(ctx, `UPDATE users SET role = ? WHERE id = ?`, string(role), userID)
	if err != nil {
		return fmt.Errorf("set user role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return meetup.ErrUserNotFound
	}
	return nil
}

// ListUsers returns every registered user in registration order.
func (s *Store) ListUsers(ctx context.Context) ([]meetup.User, error) {
	rows, err := s.query(ctx, `SELECT `+userCols+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []meetup.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// Recipients returns every registered user as a mailing recipient, in registration order.
func (s *Store) Recipients(ctx context.Context) ([]meetup.Recipient, error) {
	users, err := s.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]meetup.Recipient, 0, len(users))
	for _, u := range users {
		out = append(out, meetup.Recipient{UserID: u.ID, ExternalID: u.ExternalID})
	}
	return out, nil
}
