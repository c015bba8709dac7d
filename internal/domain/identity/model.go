package identity

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hospital/hms/internal/platform/auth"
)

var (
	ErrNotFound           = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidInput       = errors.New("invalid input")
	ErrForbidden          = errors.New("forbidden")
)

// User maps to the users table. One account has exactly one role.
type User struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	Email          string     `db:"email" json:"email"`
	Phone          *string    `db:"phone" json:"phone,omitempty"`
	FullName       string     `db:"full_name" json:"full_name"`
	Role           string     `db:"role" json:"role"`
	PasswordHash   string     `db:"password_hash" json:"-"`
	HospitalID     *uuid.UUID `db:"hospital_id" json:"hospital_id,omitempty"`
	Specialization *string    `db:"specialization" json:"specialization,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

const (
	minPasswordLen = 8
	maxPasswordLen = 72 // bcrypt ignores anything longer
	maxNameLen     = 200
)

type RegisterInput struct {
	Email          string     `json:"email"`
	Password       string     `json:"password"`
	FullName       string     `json:"full_name"`
	Phone          *string    `json:"phone,omitempty"`
	Role           string     `json:"role"`
	HospitalID     *uuid.UUID `json:"hospital_id,omitempty"`
	Specialization *string    `json:"specialization,omitempty"`
}

// Validate normalizes the email and checks required fields. Role defaults
// to patient.
func (in *RegisterInput) Validate() error {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.FullName = strings.TrimSpace(in.FullName)
	if in.Role == "" {
		in.Role = auth.RolePatient
	}

	if addr, err := mail.ParseAddress(in.Email); err != nil || addr.Address != in.Email {
		return fmt.Errorf("%w: a valid email is required", ErrInvalidInput)
	}
	if len(in.Password) < minPasswordLen || len(in.Password) > maxPasswordLen {
		return fmt.Errorf("%w: password must be %d-%d characters", ErrInvalidInput, minPasswordLen, maxPasswordLen)
	}
	if in.FullName == "" || len(in.FullName) > maxNameLen {
		return fmt.Errorf("%w: full_name is required", ErrInvalidInput)
	}
	if !auth.ValidRole(in.Role) {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidInput, in.Role)
	}
	if in.Role != auth.RoleDoctor && (in.HospitalID != nil || in.Specialization != nil) {
		return fmt.Errorf("%w: hospital_id and specialization apply to doctors only", ErrInvalidInput)
	}
	return nil
}

type ProfileUpdate struct {
	FullName       *string `json:"full_name,omitempty"`
	Phone          *string `json:"phone,omitempty"`
	Specialization *string `json:"specialization,omitempty"`
}

func (p ProfileUpdate) apply(u *User) error {
	if p.FullName != nil {
		name := strings.TrimSpace(*p.FullName)
		if name == "" || len(name) > maxNameLen {
			return fmt.Errorf("%w: full_name must not be empty", ErrInvalidInput)
		}
		u.FullName = name
	}
	if p.Phone != nil {
		u.Phone = p.Phone
	}
	if p.Specialization != nil {
		if u.Role != auth.RoleDoctor {
			return fmt.Errorf("%w: specialization applies to doctors only", ErrInvalidInput)
		}
		u.Specialization = p.Specialization
	}
	return nil
}

type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}
