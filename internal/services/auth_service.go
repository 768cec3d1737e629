package services

import (
	"strings"
	"time"

	rxgate_errors "rxgate/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	RoleCustomer  = "customer"
	RoleClinician = "clinician"
	RoleOps       = "ops"
)

// AccessClaims are issued by the storefront's identity provider. Customers
// carry a customer id; staff tokens carry a role and a subject.
type AccessClaims struct {
	CustomerID string `json:"cid,omitempty"`
	BusinessID string `json:"bid"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

type AuthService struct {
	jwtSecret []byte
	accessTTL time.Duration
}

func NewAuthService(secret string, accessTTL time.Duration) *AuthService {
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	return &AuthService{jwtSecret: []byte(secret), accessTTL: accessTTL}
}

func (s *AuthService) ParseAccessToken(tokenString string) (AccessClaims, error) {
	if tokenString == "" {
		return AccessClaims{}, rxgate_errors.ErrUnauthorized
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, rxgate_errors.ErrUnauthorized
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return AccessClaims{}, rxgate_errors.ErrUnauthorized
	}

	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return AccessClaims{}, rxgate_errors.ErrUnauthorized
	}
	return *claims, nil
}

// IdentityFromClaims validates the ids carried by claims.
func IdentityFromClaims(claims AccessClaims) (Identity, error) {
	businessID, err := uuid.Parse(claims.BusinessID)
	if err != nil {
		return Identity{}, rxgate_errors.ErrUnauthorized
	}
	id := Identity{BusinessID: businessID}
	role := strings.ToLower(strings.TrimSpace(claims.Role))
	if role == "" {
		role = RoleCustomer
	}
	if claims.CustomerID != "" {
		customerID, err := uuid.Parse(claims.CustomerID)
		if err != nil {
			return Identity{}, rxgate_errors.ErrUnauthorized
		}
		id.CustomerID = customerID
	} else if role == RoleCustomer {
		return Identity{}, rxgate_errors.ErrUnauthorized
	}
	subject := claims.Subject
	if subject == "" {
		subject = claims.CustomerID
	}
	id.Actor = role + ":" + subject
	id.Role = role
	return id, nil
}

// IssueAccessToken signs a token for the given identity. Used by tooling and tests.
func (s *AuthService) IssueAccessToken(subject, role string, businessID, customerID uuid.UUID) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		BusinessID: businessID.String(),
		Role:       role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	if customerID != uuid.Nil {
		claims.CustomerID = customerID.String()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
