// Package auth issues and validates the bearer tokens used by the HTTP API.
//
// Tokens are HS256 JWTs signed with a shared secret. Each token carries a role;
// roles are ordered so a higher role may do everything a lower one can.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "watchpost"

// Role grants access to a group of endpoints.
type Role string

const (
	// RoleViewer reads history, stats and the live event stream.
	RoleViewer Role = "viewer"
	// RoleCamera additionally submits observations.
	RoleCamera Role = "camera"
	// RoleOperator additionally manages identities and rebuilds the registry.
	RoleOperator Role = "operator"
)

var roleRank = map[Role]int{
	RoleViewer:   1,
	RoleCamera:   2,
	RoleOperator: 3,
}

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if _, ok := roleRank[r]; !ok {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// AtLeast reports whether r includes the permissions of minRole.
func (r Role) AtLeast(minRole Role) bool {
	return roleRank[r] >= roleRank[minRole] && roleRank[r] > 0
}

// ErrInvalidToken wraps every validation failure.
var ErrInvalidToken = errors.New("invalid token")

// Claims extends jwt.RegisteredClaims with the caller's role.
type Claims struct {
	jwt.RegisteredClaims
	Role Role `json:"role"`
}

// Manager issues and validates tokens.
type Manager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewManager creates a Manager. The secret must be at least 32 bytes.
func NewManager(secret string, ttl time.Duration) (*Manager, error) {
	if len(secret) < 32 {
		return nil, errors.New("auth: secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// IssueToken signs a token for subject with the given role.
func (m *Manager) IssueToken(subject string, role Role) (string, time.Time, error) {
	if _, err := ParseRole(string(role)); err != nil {
		return "", time.Time{}, fmt.Errorf("auth: %w", err)
	}
	now := m.now().UTC()
	exp := now.Add(m.ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{issuer},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.New().String(),
		},
		Role: role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, exp, nil
}

// ValidateToken parses a token and returns its claims.
func (m *Manager) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return m.secret, nil
		},
		jwt.WithAudience(issuer),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if _, err := ParseRole(string(claims.Role)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}
