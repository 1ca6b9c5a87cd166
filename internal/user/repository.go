package user

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrEmailTaken     = errors.New("email already registered")
	ErrInvalidRole    = errors.New("invalid user role")
	ErrMissingDetails = errors.New("name and email are required")
)

type Repository interface {
	CreateTx(ctx context.Context, tx pgx.Tx, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context, role Role, limit, offset int) ([]User, error)
}
