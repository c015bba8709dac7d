package scheduling

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// UpdateStatus changes status only if it still equals from; otherwise it
	// returns ErrConflict.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) (*Appointment, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*Appointment, int, error)
}

// People resolves participants. Person returns nil, nil for an unknown ID.
type People interface {
	Person(ctx context.Context, id uuid.UUID) (*Person, error)
}

// Event names passed to Notifier.
const (
	EventBooked    = "booked"
	EventCancelled = "cancelled"
)

type Notifier interface {
	Notify(ctx context.Context, event string, to Person, a *Appointment) error
}
