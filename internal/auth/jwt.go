package auth

import (
	"fmt"
	"time"

	"github.com/civicflow/platform/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Realm identifies the JWT authentication realm.
type Realm string

const (
	RealmCitizen Realm = "citizen"
	RealmOfficer Realm = "officer"
)

// ActorType maps the realm to the workflow actor type.
func (r Realm) ActorType() domain.ActorType {
	if r == RealmOfficer {
		return domain.ActorOfficer
	}
	return domain.ActorCitizen
}

// Claims holds the custom JWT claims for both realms.
type Claims struct {
	jwt.RegisteredClaims
	Realm       Realm  `json:"realm"`
	Email       string `json:"email,omitempty"`
	Role        string `json:"role,omitempty"`         // officer realm only
	AuthorityID string `json:"authority_id,omitempty"` // officer realm only
}

// Actor returns the workflow actor the token represents.
func (c *Claims) Actor() domain.Actor {
	return domain.Actor{Type: c.Realm.ActorType(), ID: c.Subject}
}

// JWTManager handles token generation and validation for both realms.
type JWTManager struct {
	secret        []byte
	citizenExpiry time.Duration
	officerExpiry time.Duration
}

// NewJWTManager creates a JWT manager with realm-specific expiry durations.
func NewJWTManager(secret string, citizenExpiry, officerExpiry time.Duration) *JWTManager {
	return &JWTManager{
		secret:        []byte(secret),
		citizenExpiry: citizenExpiry,
		officerExpiry: officerExpiry,
	}
}

// GenerateToken creates a signed JWT for the given realm and subject.
func (m *JWTManager) GenerateToken(realm Realm, subject, email, role, authorityID string) (string, error) {
	var expiry time.Duration
	switch realm {
	case RealmCitizen:
		expiry = m.citizenExpiry
	case RealmOfficer:
		expiry = m.officerExpiry
	default:
		return "", fmt.Errorf("unknown realm: %s", realm)
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			ID:        uuid.New().String(),
		},
		Realm:       realm,
		Email:       email,
		Role:        role,
		AuthorityID: authorityID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// ValidateToken parses and validates a JWT, returning claims if valid.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return claims, nil
}

// ValidateTokenForRealm validates a token and ensures it belongs to one of
// the expected realms.
func (m *JWTManager) ValidateTokenForRealm(tokenString string, expected ...Realm) (*Claims, error) {
	claims, err := m.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	for _, realm := range expected {
		if claims.Realm == realm {
			return claims, nil
		}
	}
	return nil, fmt.Errorf("expected realm %v, got %s", expected, claims.Realm)
}
