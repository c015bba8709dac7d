// Package records gates doctors' access to patients' medical records behind a
// one-time code sent to the patient.
//
// A doctor first calls RequestAccess, which issues a code for the patient and
// delivers it out-of-band. The code is never returned to the doctor. The
// patient reads it back to the doctor, who presents it with exactly one
// AccessRecords or AddRecord call; verification consumes it.
package records

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hospital/hms/internal/otp"
	"github.com/hospital/hms/internal/platform/metrics"
)

// Gate holds no mutable state; the otp.Store serializes per patient.
type Gate struct {
	codes    otp.Store
	notifier Notifier
	dir      Directory
	records  RecordRepository
	logger   zerolog.Logger
}

func NewGate(codes otp.Store, notifier Notifier, dir Directory, records RecordRepository, logger zerolog.Logger) *Gate {
	return &Gate{
		codes:    codes,
		notifier: notifier,
		dir:      dir,
		records:  records,
		logger:   logger.With().Str("component", "record_access").Logger(),
	}
}

func subjectKey(patientID uuid.UUID) string {
	return patientID.String()
}

// RequestAccess issues a fresh code for the patient, superseding any earlier
// one, and sends it to the patient. Unknown patients get ErrNotFound and no
// code is issued. If delivery fails the issued code stays valid and
// ErrNotifierUnavailable is returned.
func (g *Gate) RequestAccess(ctx context.Context, requesterID, patientID uuid.UUID) error {
	contact, err := g.dir.LookupPatient(ctx, patientID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			metrics.OTPChallengesTotal.WithLabelValues("unknown_patient").Inc()
			return ErrNotFound
		}
		metrics.OTPChallengesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: lookup patient: %v", ErrStoreUnavailable, err)
	}

	code, err := g.codes.Issue(ctx, subjectKey(patientID))
	if err != nil {
		metrics.OTPChallengesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: issue code: %v", ErrStoreUnavailable, err)
	}

	if err := g.notifier.SendOTP(ctx, *contact, code); err != nil {
		metrics.OTPChallengesTotal.WithLabelValues("notify_failed").Inc()
		g.logger.Error().Err(err).
			Str("requester_id", requesterID.String()).
			Str("patient_id", patientID.String()).
			Msg("record_access_otp_delivery_failed")
		return fmt.Errorf("%w: %v", ErrNotifierUnavailable, err)
	}

	metrics.OTPChallengesTotal.WithLabelValues("issued").Inc()
	g.logger.Info().
		Str("requester_id", requesterID.String()).
		Str("patient_id", patientID.String()).
		Msg("record_access_otp_issued")
	return nil
}

// AccessRecords consumes the code and returns all of the patient's records.
func (g *Gate) AccessRecords(ctx context.Context, requesterID, patientID uuid.UUID, code string) ([]*MedicalRecord, error) {
	if err := g.verify(ctx, "read", requesterID, patientID, code); err != nil {
		return nil, err
	}

	items, err := g.records.ListByPatient(ctx, patientID)
	if err != nil {
		metrics.RecordAccessTotal.WithLabelValues("read", "error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	metrics.RecordAccessTotal.WithLabelValues("read", "granted").Inc()
	return items, nil
}

// AddRecord consumes the code and appends a record authored by requesterID.
// The body is validated before the code is touched so a malformed request
// does not burn it.
func (g *Gate) AddRecord(ctx context.Context, requesterID, patientID uuid.UUID, code string, in NewRecord) (*MedicalRecord, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	hospitalID, err := g.dir.DoctorHospital(ctx, requesterID)
	if err != nil {
		metrics.RecordAccessTotal.WithLabelValues("add", "error").Inc()
		return nil, fmt.Errorf("%w: lookup doctor: %v", ErrStoreUnavailable, err)
	}

	if err := g.verify(ctx, "add", requesterID, patientID, code); err != nil {
		return nil, err
	}

	author := requesterID
	rec := &MedicalRecord{
		PatientID:   patientID,
		DoctorID:    &author,
		HospitalID:  hospitalID,
		Summary:     in.Summary,
		Details:     in.Details,
		DocumentURL: in.DocumentURL,
		ImageURLs:   in.ImageURLs,
	}
	if err := g.records.Create(ctx, rec); err != nil {
		metrics.RecordAccessTotal.WithLabelValues("add", "error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	metrics.RecordAccessTotal.WithLabelValues("add", "granted").Inc()
	g.logger.Info().
		Str("requester_id", requesterID.String()).
		Str("patient_id", patientID.String()).
		Str("record_id", rec.ID.String()).
		Msg("record_added")
	return rec, nil
}

// PatientRecords returns the patient's own records. No code is involved.
func (g *Gate) PatientRecords(ctx context.Context, patientID uuid.UUID) ([]*MedicalRecord, error) {
	items, err := g.records.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return items, nil
}

func (g *Gate) verify(ctx context.Context, op string, requesterID, patientID uuid.UUID, code string) error {
	ok, err := g.codes.Verify(ctx, subjectKey(patientID), code)
	if err != nil {
		metrics.RecordAccessTotal.WithLabelValues(op, "error").Inc()
		return fmt.Errorf("%w: verify code: %v", ErrStoreUnavailable, err)
	}

	evt := g.logger.Info()
	msg := "record_access_granted"
	if !ok {
		evt = g.logger.Warn()
		msg = "record_access_denied"
		metrics.RecordAccessTotal.WithLabelValues(op, "denied").Inc()
	}
	evt.Str("operation", op).
		Str("requester_id", requesterID.String()).
		Str("patient_id", patientID.String()).
		Msg(msg)

	if !ok {
		return ErrAccessDenied
	}
	return nil
}
