package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTManager signs and validates the bearer tokens presented to the API.
// Several keys may be active for verification; new tokens are signed with
// the active one.
type JWTManager struct {
	keys      map[string]string // kid -> HMAC secret
	activeKid string            // kid used for signing; "" for a single unnamed key
	duration  time.Duration     // how long issued tokens are valid
}

// UserClaim identifies the authenticated user.
type UserClaim struct {
	ID   int64  `json:"id"`
	Name string `json:"name,omitempty"`
}

// Claims is the JWT payload: {"user": {"id": ..., "name": ...}} plus the
// registered claims.
type Claims struct {
	User UserClaim `json:"user"`
	jwt.RegisteredClaims
}

// NewJWTManager returns a manager with a single secret.
func NewJWTManager(secretKey string, duration time.Duration) *JWTManager {
	return &JWTManager{
		keys:     map[string]string{"": secretKey},
		duration: duration,
	}
}

// NewJWTManagerFromKeys returns a manager that verifies tokens signed with
// any of keys (selected by the "kid" header) and signs with activeKid.
func NewJWTManagerFromKeys(keys map[string]string, activeKid string, duration time.Duration) *JWTManager {
	m := &JWTManager{
		keys:      make(map[string]string, len(keys)),
		activeKid: activeKid,
		duration:  duration,
	}
	for kid, secret := range keys {
		m.keys[kid] = secret
	}
	return m
}

// GenerateToken issues a signed token for a user. The chat service never
// issues tokens itself; this exists for tooling and tests.
func (m *JWTManager) GenerateToken(userID int64, name string) (string, time.Time, error) {
	secret, ok := m.keys[m.activeKid]
	if !ok {
		return "", time.Time{}, fmt.Errorf("no signing key for kid %q", m.activeKid)
	}

	now := time.Now()
	expiresAt := now.Add(m.duration)
	claims := &Claims{
		User: UserClaim{ID: userID, Name: name},
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	// HS256 (HMAC with SHA-256)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if m.activeKid != "" {
		token.Header["kid"] = m.activeKid
	}

	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// VerifyToken parses and validates a token and returns its claims.
func (m *JWTManager) VerifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// reject anything not signed with HMAC (e.g. alg=none or RS256 with a public key)
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		kid := m.activeKid
		if v, ok := token.Header["kid"].(string); ok {
			kid = v
		}
		secret, ok := m.keys[kid]
		if !ok {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// Authenticate verifies a token and returns the user id it carries.
func (m *JWTManager) Authenticate(tokenString string) (int64, error) {
	claims, err := m.VerifyToken(tokenString)
	if err != nil {
		return 0, err
	}
	if claims.User.ID <= 0 {
		return 0, errors.New("token carries no user id")
	}
	return claims.User.ID, nil
}
