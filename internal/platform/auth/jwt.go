package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

type Claims struct {
	Subject  string
	Username string
}

type tokenClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type Manager struct {
	Secret []byte
	Now    func() time.Time
	TTL    time.Duration
}

func NewManager(secret string, ttl time.Duration) Manager {
	return Manager{
		Secret: []byte(secret),
		Now:    func() time.Time { return time.Now().UTC() },
		TTL:    ttl,
	}
}

func (m Manager) Sign(userID, username string) (string, error) {
	now := m.Now()
	claims := tokenClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.TTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.Secret)
}

func (m Manager) Parse(token string) (Claims, error) {
	var claims tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.Secret, nil
	}, jwt.WithTimeFunc(m.Now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, ErrInvalidToken
	}
	if !parsed.Valid || claims.Subject == "" || claims.Username == "" {
		return Claims{}, ErrInvalidToken
	}
	return Claims{Subject: claims.Subject, Username: claims.Username}, nil
}

func BearerToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
