package identity

import (
	"context"

	"github.com/google/uuid"
)

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, u *User) error
	// ListDoctors filters by hospital when hospitalID is non-nil.
	ListDoctors(ctx context.Context, hospitalID *uuid.UUID, limit, offset int) ([]*User, int, error)
}
