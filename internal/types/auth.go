package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// CreateReviewerRequest represents the request to register a reviewer.
type CreateReviewerRequest struct {
	DisplayName string `json:"display_name" validate:"required,min=1"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8"`
}

// LoginRequest represents the login request.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Reviewer is a person allowed to approve or reject briefings.
type Reviewer struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// LoginResponse represents the login response with reviewer data and authentication token.
type LoginResponse struct {
	Reviewer *Reviewer `json:"reviewer"`
	Token    string    `json:"token"`
}

// Validate validates the CreateReviewerRequest using the validator.
func (r *CreateReviewerRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// Validate validates the LoginRequest using the validator.
func (r *LoginRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}
