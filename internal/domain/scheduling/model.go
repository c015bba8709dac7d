// Package scheduling books appointments between patients and doctors and
// moves them through their lifecycle.
package scheduling

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("appointment not found")
	ErrDoctorNotFound    = errors.New("doctor not found")
	ErrForbidden         = errors.New("not a participant of this appointment")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrConflict means the status changed between read and write.
	ErrConflict = errors.New("appointment was modified concurrently")
)

const (
	StatusBooked    = "booked"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
)

var transitions = map[string][]string{
	StatusBooked:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether an appointment may move from one status to
// another. Cancelled and completed are terminal.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Appointment maps to the appointments table.
type Appointment struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	PatientID   uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID    uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	HospitalID  *uuid.UUID `db:"hospital_id" json:"hospital_id,omitempty"`
	ScheduledAt time.Time  `db:"scheduled_at" json:"scheduled_at"`
	Reason      string     `db:"reason" json:"reason"`
	Status      string     `db:"status" json:"status"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

func (a *Appointment) involves(id uuid.UUID) bool {
	return a.PatientID == id || a.DoctorID == id
}

const maxReasonLen = 1000

type BookInput struct {
	DoctorID    uuid.UUID  `json:"doctor_id"`
	HospitalID  *uuid.UUID `json:"hospital_id,omitempty"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	Reason      string     `json:"reason"`
}

func (in *BookInput) validate(now time.Time) error {
	in.Reason = strings.TrimSpace(in.Reason)
	if in.DoctorID == uuid.Nil {
		return fmt.Errorf("%w: doctor_id is required", ErrInvalidInput)
	}
	if in.ScheduledAt.IsZero() {
		return fmt.Errorf("%w: scheduled_at is required", ErrInvalidInput)
	}
	if !in.ScheduledAt.After(now) {
		return fmt.Errorf("%w: scheduled_at must be in the future", ErrInvalidInput)
	}
	if len(in.Reason) > maxReasonLen {
		return fmt.Errorf("%w: reason exceeds %d characters", ErrInvalidInput, maxReasonLen)
	}
	return nil
}

// Filter narrows List. Nil fields match everything.
type Filter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
}

// Caller is the authenticated user acting on appointments.
type Caller struct {
	ID   uuid.UUID
	Role string
}

// Person is what the service needs to know about a participant.
type Person struct {
	ID         uuid.UUID
	Name       string
	Email      string
	Phone      string
	Role       string
	HospitalID *uuid.UUID
}
