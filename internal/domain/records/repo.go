package records

import (
	"context"

	"github.com/google/uuid"
)

type RecordRepository interface {
	Create(ctx context.Context, r *MedicalRecord) error
	// ListByPatient returns every record of the patient, newest first.
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*MedicalRecord, error)
}

// Directory resolves the people the gate deals with. LookupPatient returns
// ErrNotFound for unknown patients.
type Directory interface {
	LookupPatient(ctx context.Context, patientID uuid.UUID) (*PatientContact, error)
	// DoctorHospital returns the hospital the doctor works at, or nil.
	DoctorHospital(ctx context.Context, doctorID uuid.UUID) (*uuid.UUID, error)
}

// Notifier delivers a code to a patient.
type Notifier interface {
	SendOTP(ctx context.Context, to PatientContact, code string) error
}
