// Package identity owns account registration, login and token issuing.
package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/campushub/backend/internal/platform/auth"
	"github.com/campushub/backend/internal/store"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidUsername    = errors.New("username is required")
	ErrInvalidPassword    = errors.New("password must be at least 8 characters")
	ErrUsernameTaken      = errors.New("username is already taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type AuthResponse struct {
	Token       string `json:"token"`
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

// Repository is the slice of the durable store the service depends on.
type Repository interface {
	CreateUser(ctx context.Context, username, displayName, passwordHash string) (store.User, error)
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
}

type Service struct {
	Repo   Repository
	Tokens auth.Manager
}

func NewService(repo Repository, tokens auth.Manager) *Service {
	return &Service{Repo: repo, Tokens: tokens}
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func validateCredentials(username, password string) error {
	if normalizeUsername(username) == "" {
		return ErrInvalidUsername
	}
	if len(strings.TrimSpace(password)) < 8 {
		return ErrInvalidPassword
	}
	return nil
}

func (s *Service) Register(ctx context.Context, username, displayName, password string) (AuthResponse, error) {
	if err := validateCredentials(username, password); err != nil {
		return AuthResponse{}, err
	}
	uname := normalizeUsername(username)
	if strings.TrimSpace(displayName) == "" {
		displayName = uname
	}

	if _, err := s.Repo.GetUserByUsername(ctx, uname); err == nil {
		return AuthResponse{}, ErrUsernameTaken
	} else if !errors.Is(err, store.ErrUserNotFound) {
		return AuthResponse{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return AuthResponse{}, err
	}

	u, err := s.Repo.CreateUser(ctx, uname, strings.TrimSpace(displayName), string(hash))
	if err != nil {
		return AuthResponse{}, err
	}
	return s.issueToken(u)
}

func (s *Service) Login(ctx context.Context, username, password string) (AuthResponse, error) {
	uname := normalizeUsername(username)
	if uname == "" || strings.TrimSpace(password) == "" {
		return AuthResponse{}, ErrInvalidCredentials
	}

	u, err := s.Repo.GetUserByUsername(ctx, uname)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return AuthResponse{}, ErrInvalidCredentials
		}
		return AuthResponse{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return AuthResponse{}, ErrInvalidCredentials
	}
	return s.issueToken(u)
}

func (s *Service) issueToken(u store.User) (AuthResponse, error) {
	token, err := s.Tokens.Sign(u.ID, u.Username)
	if err != nil {
		return AuthResponse{}, err
	}
	return AuthResponse{
		Token:       token,
		UserID:      u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
	}, nil
}
