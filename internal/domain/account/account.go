package account

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a user does not exist.
var ErrNotFound = errors.New("user not found")

// User is a customer account.
type User struct {
	ID            string
	Email         string
	LoyaltyMember bool
}

// Repository defines read access to customer accounts.
type Repository interface {
	GetByID(ctx context.Context, id string) (*User, error)
}
