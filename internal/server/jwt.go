package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jonathan/rivalops/internal/config"
	"github.com/jonathan/rivalops/internal/server/middleware"
)

// Claims are the JWT claims issued to a reviewer.
type Claims struct {
	ReviewerID uuid.UUID `json:"reviewer_id"`
	Email      string    `json:"email"`
	jwt.RegisteredClaims
}

// GetReviewerID implements middleware.ReviewerGetter.
func (c *Claims) GetReviewerID() uuid.UUID { return c.ReviewerID }

// GetEmail implements middleware.ReviewerGetter.
func (c *Claims) GetEmail() string { return c.Email }

// JWTService issues and validates reviewer tokens.
type JWTService struct {
	secret     []byte
	expiration time.Duration
	now        func() time.Time
}

// NewJWTService creates a JWTService from the reviewer auth configuration.
func NewJWTService(cfg *config.ReviewAuthConfig) *JWTService {
	return &JWTService{
		secret:     []byte(cfg.JWTSecret),
		expiration: time.Duration(cfg.ExpirationHours) * time.Hour,
		now:        time.Now,
	}
}

// GenerateToken signs a token for the reviewer.
func (s *JWTService) GenerateToken(reviewerID uuid.UUID, email string) (string, error) {
	now := s.now()
	claims := &Claims{
		ReviewerID: reviewerID,
		Email:      email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   reviewerID.String(),
			Issuer:    "rivalops",
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken checks the signature and expiry and returns the claims.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("token string is empty")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, fmt.Errorf("invalid token signature: %w", err)
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("token expired: %w", err)
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, fmt.Errorf("malformed token: %w", err)
		}
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is not valid")
	}
	if claims.ReviewerID == uuid.Nil {
		return nil, fmt.Errorf("token has no reviewer")
	}
	return claims, nil
}

// AsTokenValidator adapts the service to middleware.TokenValidator.
func (s *JWTService) AsTokenValidator() middleware.TokenValidator {
	return &jwtServiceValidator{service: s}
}

type jwtServiceValidator struct {
	service *JWTService
}

func (v *jwtServiceValidator) ValidateToken(tokenString string) (middleware.ReviewerGetter, error) {
	claims, err := v.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return claims, nil
}
