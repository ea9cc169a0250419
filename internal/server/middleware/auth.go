// Package middleware provides HTTP middleware for reviewer authentication.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// ContextKey is a typed key for context values to avoid collisions.
type ContextKey string

const reviewerKey ContextKey = "reviewer"

// Reviewer identifies the authenticated caller of a request.
type Reviewer struct {
	ID    uuid.UUID
	Email string
}

// TokenValidator validates bearer tokens.
// It lets the middleware work with any token service without an import cycle.
type TokenValidator interface {
	ValidateToken(tokenString string) (ReviewerGetter, error)
}

// ReviewerGetter extracts the reviewer identity from token claims.
type ReviewerGetter interface {
	GetReviewerID() uuid.UUID
	GetEmail() string
}

// AuthMiddleware validates bearer tokens and stores the reviewer in the request context.
func AuthMiddleware(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w)
				return
			}

			// "Bearer" is matched case-insensitively
			parts := strings.Fields(authHeader)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				unauthorized(w)
				return
			}

			claims, err := tokens.ValidateToken(parts[1])
			if err != nil {
				unauthorized(w)
				return
			}

			ctx := WithReviewer(r.Context(), Reviewer{ID: claims.GetReviewerID(), Email: claims.GetEmail()})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
}

// WithReviewer returns a context carrying r.
func WithReviewer(ctx context.Context, r Reviewer) context.Context {
	return context.WithValue(ctx, reviewerKey, r)
}

// GetReviewer extracts the authenticated reviewer from the request context.
func GetReviewer(r *http.Request) (Reviewer, error) {
	rev, ok := r.Context().Value(reviewerKey).(Reviewer)
	if !ok {
		return Reviewer{}, fmt.Errorf("reviewer not found in request context")
	}
	return rev, nil
}
