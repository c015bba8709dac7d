package hospital

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("hospital not found")
	ErrDoctorNotFound = errors.New("doctor not found")
	ErrInvalidInput   = errors.New("invalid input")
)

// Hospital maps to the hospitals table.
type Hospital struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Address   string    `db:"address" json:"address"`
	Phone     *string   `db:"phone" json:"phone,omitempty"`
	Email     *string   `db:"email" json:"email,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Doctor is the public view of a doctor working at a hospital.
type Doctor struct {
	ID             uuid.UUID `json:"id"`
	FullName       string    `json:"full_name"`
	Email          string    `json:"email"`
	Specialization *string   `json:"specialization,omitempty"`
}

func (h *Hospital) validate() error {
	h.Name = strings.TrimSpace(h.Name)
	h.Address = strings.TrimSpace(h.Address)
	if h.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if len(h.Name) > 200 {
		return fmt.Errorf("%w: name exceeds 200 characters", ErrInvalidInput)
	}
	if h.Address == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidInput)
	}
	return nil
}
