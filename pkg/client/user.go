package client

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// User is the signed-in user as returned by the login endpoint
type User struct {
	ID       string `json:"id" validate:"required"`
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Role     string `json:"role" validate:"required,oneof=admin agent"`
	TenantID string `json:"tenantId" validate:"required"`
}

// parseUser decodes and validates a persisted user record
func parseUser(raw string) (*User, error) {
	var u User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, fmt.Errorf("malformed user record: %w", err)
	}
	if err := validate.Struct(&u); err != nil {
		return nil, fmt.Errorf("invalid user record: %w", err)
	}
	return &u, nil
}

func encodeUser(u *User) (string, error) {
	raw, err := json.Marshal(u)
	if err != nil {
		return "", fmt.Errorf("failed to encode user: %w", err)
	}
	return string(raw), nil
}
