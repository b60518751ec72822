// Package auth resolves the signed-in user for the coordinator.
package auth

import (
	"context"

	"totari/model"
)

// Provider signs a user in. Implementations must not retain the password.
type Provider interface {
	Name() string
	SignIn(ctx context.Context, email, password string) (*model.User, error)
}
