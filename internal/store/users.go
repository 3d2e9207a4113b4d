package store

import (
	"database/sql"
	"fmt"

	"github.com/darshan-rambhia/devwatch/internal/model"
)

const userColumns = `user_id, username, password, email, phone, nickname, role, must_change_password`

// AddUser creates an account, storing only the password hash. A taken
// username fails with ErrDuplicate.
func (s *Store) AddUser(u model.NewUser) (int64, error) {
	if !u.Role.Valid() {
		return 0, s.fail("adding user", fmt.Errorf("%w: role %q", ErrInvalidArgument, u.Role))
	}
	id, err := s.exec("adding user "+u.Username, `
		INSERT INTO users (username, password, email, phone, nickname, role, must_change_password)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.Username, s.hasher.Hash(u.Password), nullString(u.Email), nullString(u.Phone),
		nullString(u.Nickname), string(u.Role), u.MustChangePassword,
	)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// VerifyUser checks a username/password pair. An unknown username returns
// ErrNotFound and a wrong password ErrAuthMismatch.
func (s *Store) VerifyUser(username, password string) (model.Identity, error) {
	const op = "verifying user"
	u, err := s.userWhere(op, "username = ?", username)
	if err != nil {
		return model.Identity{}, err
	}
	ok, err := s.hasher.Verify(password, u.PasswordHash)
	if err != nil {
		return model.Identity{}, s.fail(op, err)
	}
	if !ok {
		return model.Identity{}, s.fail(op, ErrAuthMismatch)
	}
	return model.Identity{
		UserID:             u.ID,
		Username:           u.Username,
		Role:               u.Role,
		MustChangePassword: u.MustChangePassword,
	}, nil
}

// UpdateUser replaces the contact fields of a user.
func (s *Store) UpdateUser(id int64, email, phone, nickname string) error {
	return s.execKeyed(fmt.Sprintf("updating user %d", id),
		`UPDATE users SET email = ?, phone = ?, nickname = ? WHERE user_id = ?`,
		nullString(email), nullString(phone), nullString(nickname), id)
}

// UpdatePassword re-hashes and stores a new password. It also clears the
// must-change flag.
func (s *Store) UpdatePassword(id int64, newPassword string) error {
	return s.execKeyed(fmt.Sprintf("updating password for user %d", id),
		`UPDATE users SET password = ?, must_change_password = 0 WHERE user_id = ?`,
		s.hasher.Hash(newPassword), id)
}

// DeleteUser removes a user. Audit log entries keep their content with the
// user reference cleared.
func (s *Store) DeleteUser(id int64) error {
	return s.execKeyed(fmt.Sprintf("deleting user %d", id), `DELETE FROM users WHERE user_id = ?`, id)
}

// GetUser returns a copy of the user row.
func (s *Store) GetUser(id int64) (model.User, error) {
	return s.userWhere(fmt.Sprintf("getting user %d", id), "user_id = ?", id)
}

// GetUserIDByUsername resolves a username to its id.
func (s *Store) GetUserIDByUsername(username string) (int64, error) {
	q, err := s.querier()
	if err != nil {
		return 0, s.fail("looking up user "+username, err)
	}
	var id int64
	if err := q.QueryRow(`SELECT user_id FROM users WHERE username = ?`, username).Scan(&id); err != nil {
		return 0, s.fail("looking up user "+username, err)
	}
	return id, nil
}

// ListUsers returns every user ordered by id.
func (s *Store) ListUsers() ([]model.User, error) {
	const op = "listing users"
	q, err := s.querier()
	if err != nil {
		return nil, s.fail(op, err)
	}
	rows, err := q.Query(`SELECT ` + userColumns + ` FROM users ORDER BY user_id`)
	if err != nil {
		return nil, s.fail(op, err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, s.fail(op, err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(op, err)
	}
	return users, nil
}

func (s *Store) userWhere(op, cond string, arg any) (model.User, error) {
	q, err := s.querier()
	if err != nil {
		return model.User{}, s.fail(op, err)
	}
	u, err := scanUser(q.QueryRow(`SELECT `+userColumns+` FROM users WHERE `+cond, arg))
	if err != nil {
		return model.User{}, s.fail(op, err)
	}
	return u, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(sc scanner) (model.User, error) {
	var (
		u                      model.User
		email, phone, nickname sql.NullString
		role                   string
	)
	if err := sc.Scan(&u.ID, &u.Username, &u.PasswordHash, &email, &phone, &nickname, &role, &u.MustChangePassword); err != nil {
		return model.User{}, err
	}
	r, err := model.ParseRole(role)
	if err != nil {
		return model.User{}, fmt.Errorf("scanning user %d: %w", u.ID, err)
	}
	u.Email, u.Phone, u.Nickname, u.Role = email.String, phone.String, nickname.String, r
	return u, nil
}
