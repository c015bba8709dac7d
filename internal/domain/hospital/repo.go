package hospital

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, h *Hospital) error
	GetByID(ctx context.Context, id uuid.UUID) (*Hospital, error)
	Update(ctx context.Context, h *Hospital) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Hospital, int, error)

	AssignDoctor(ctx context.Context, hospitalID, doctorID uuid.UUID) error
	ListDoctors(ctx context.Context, hospitalID uuid.UUID) ([]*Doctor, error)
}
