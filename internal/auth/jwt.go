package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hugh/parishdesk/internal/tenancy"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

const issuer = "parishdesk"

// Claims is the signed form of a session. Only the subject and session id
// are trusted for identity; the organization and roles mirror the session
// claims as of signing, for clients.
type Claims struct {
	UserID         uuid.UUID `json:"user_id"`
	SessionID      string    `json:"sid"`
	OrganizationID uuid.UUID `json:"organization_id,omitempty"`
	Roles          []string  `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the authenticated caller the token names.
func (c *Claims) Identity() *tenancy.Identity {
	return &tenancy.Identity{UserID: c.UserID, SessionID: c.SessionID}
}

type JWTService struct {
	secret []byte
	expiry time.Duration
}

func NewJWTService(secret string, expiry time.Duration) *JWTService {
	return &JWTService{
		secret: []byte(secret),
		expiry: expiry,
	}
}

// GenerateToken signs the given session claims.
func (s *JWTService) GenerateToken(sc *tenancy.Claims) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:         sc.UserID,
		SessionID:      sc.SessionID,
		OrganizationID: sc.OrganizationID,
		Roles:          sc.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   sc.UserID.String(),
			ID:        sc.SessionID,
		},
	}
	if !sc.ExpiresAt.IsZero() && sc.ExpiresAt.Before(claims.ExpiresAt.Time) {
		claims.ExpiresAt = jwt.NewNumericDate(sc.ExpiresAt)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithIssuer(issuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == uuid.Nil || claims.SessionID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
