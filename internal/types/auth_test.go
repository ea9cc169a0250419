//nolint:revive // types is a standard Go package name pattern
package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateReviewerRequest_Validation(t *testing.T) {
	tests := []struct {
		name    string
		request CreateReviewerRequest
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid request",
			request: CreateReviewerRequest{
				DisplayName: "Dana Reviewer",
				Email:       "dana@example.com",
				Password:    "password123",
			},
		},
		{
			name: "missing display name",
			request: CreateReviewerRequest{
				Email:    "dana@example.com",
				Password: "password123",
			},
			wantErr: true,
			errMsg:  "required",
		},
		{
			name: "bad email",
			request: CreateReviewerRequest{
				DisplayName: "Dana",
				Email:       "not-an-email",
				Password:    "password123",
			},
			wantErr: true,
			errMsg:  "email",
		},
		{
			name: "short password",
			request: CreateReviewerRequest{
				DisplayName: "Dana",
				Email:       "dana@example.com",
				Password:    "short",
			},
			wantErr: true,
			errMsg:  "min",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.request.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestLoginRequest_Validation(t *testing.T) {
	assert.NoError(t, (&LoginRequest{Email: "a@b.co", Password: "x"}).Validate())
	assert.Error(t, (&LoginRequest{Email: "a@b.co"}).Validate())
	assert.Error(t, (&LoginRequest{Password: "x"}).Validate())
}

func TestReviewer_PasswordHashNotSerialized(t *testing.T) {
	r := Reviewer{Email: "a@b.co", DisplayName: "A", PasswordHash: "$2a$secret"}

	data, err := json.Marshal(r)
	require.NoError(t, err)

	assert.NotContains(t, string(data), "secret")
	assert.NotContains(t, string(data), "password")
}
