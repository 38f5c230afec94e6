package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

var ErrUserNotFound = errors.New("user not found")

type User struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	DisplayName  string `json:"display_name"`
	PasswordHash string `json:"-"`
}

const insertUserSQL = `
INSERT INTO users (user_id, username, display_name, password_hash, created_at)
VALUES ($1, $2, $3, $4, $5)
`

const getUserByUsernameSQL = `
SELECT user_id, username, display_name, password_hash
FROM users
WHERE username = $1
`

const getUserNameSQL = `
SELECT display_name
FROM users
WHERE user_id = $1
`

func (s *Store) CreateUser(ctx context.Context, username, displayName, passwordHash string) (User, error) {
	u := User{
		ID:           s.NewID(),
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: passwordHash,
	}
	_, err := s.Pool.Exec(ctx, insertUserSQL, u.ID, u.Username, u.DisplayName, u.PasswordHash, s.Now())
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (User, error) {
	var u User
	err := s.Pool.QueryRow(ctx, getUserByUsernameSQL, username).
		Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	return u, nil
}

// GetUserName resolves a user's display name for notification texts. Unknown
// users resolve to a placeholder rather than failing the fan-out.
func (s *Store) GetUserName(ctx context.Context, userID string) (string, error) {
	var name string
	err := s.Pool.QueryRow(ctx, getUserNameSQL, userID).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "Someone", nil
		}
		return "", err
	}
	if name == "" {
		return "Someone", nil
	}
	return name, nil
}
