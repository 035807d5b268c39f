package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-discounts/internal/domain/account"
)

const getUserSQL = `SELECT id, email, loyalty_member FROM users WHERE id = $1`

var _ account.Repository = (*UserRepository)(nil)

// UserRepository implements account.Repository backed by PostgreSQL.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a UserRepository that uses the given pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// GetByID returns a single user.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*account.User, error) {
	var u account.User
	err := conn(ctx, r.pool).QueryRow(ctx, getUserSQL, id).Scan(&u.ID, &u.Email, &u.LoyaltyMember)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, account.ErrNotFound
		}
		return nil, fmt.Errorf("getting user %q: %w", id, err)
	}
	return &u, nil
}
