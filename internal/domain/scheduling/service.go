package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hospital/hms/internal/platform/auth"
)

type Service struct {
	repo     Repository
	people   People
	notifier Notifier
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, people People, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		people:   people,
		notifier: notifier,
		logger:   logger.With().Str("component", "scheduling").Logger(),
		now:      time.Now,
	}
}

// Book creates an appointment for patientID. The hospital defaults to the
// doctor's current hospital.
func (s *Service) Book(ctx context.Context, patientID uuid.UUID, in BookInput) (*Appointment, error) {
	if err := in.validate(s.now()); err != nil {
		return nil, err
	}
	doctor, err := s.people.Person(ctx, in.DoctorID)
	if err != nil {
		return nil, fmt.Errorf("lookup doctor: %w", err)
	}
	if doctor == nil || doctor.Role != auth.RoleDoctor {
		return nil, ErrDoctorNotFound
	}

	a := &Appointment{
		PatientID:   patientID,
		DoctorID:    doctor.ID,
		HospitalID:  in.HospitalID,
		ScheduledAt: in.ScheduledAt.UTC(),
		Reason:      in.Reason,
		Status:      StatusBooked,
	}
	if a.HospitalID == nil {
		a.HospitalID = doctor.HospitalID
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", a.ID.String()).
		Str("patient_id", patientID.String()).
		Str("doctor_id", doctor.ID.String()).
		Msg("appointment_booked")
	s.notifyParticipants(ctx, EventBooked, a)
	return a, nil
}

func (s *Service) Get(ctx context.Context, caller Caller, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller.Role != auth.RoleAdmin && !a.involves(caller.ID) {
		return nil, ErrForbidden
	}
	return a, nil
}

// List returns the caller's own appointments; admins see all of them.
func (s *Service) List(ctx context.Context, caller Caller, limit, offset int) ([]*Appointment, int, error) {
	var f Filter
	switch caller.Role {
	case auth.RoleAdmin:
	case auth.RoleDoctor:
		f.DoctorID = &caller.ID
	default:
		f.PatientID = &caller.ID
	}
	return s.repo.List(ctx, f, limit, offset)
}

// UpdateStatus applies a status change. Doctors confirm and complete their
// own appointments; patients cancel theirs; admins may apply any valid
// transition. Transitions the state machine never allows are
// ErrInvalidTransition for every caller.
func (s *Service) UpdateStatus(ctx context.Context, caller Caller, id uuid.UUID, to string) (*Appointment, error) {
	a, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	// An impossible transition is a conflict whoever asks; a possible one
	// may still be outside the caller's role.
	if !CanTransition(a.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, to)
	}
	if !allowed(caller, a, to) {
		return nil, fmt.Errorf("%w: %s may not set status %q", ErrForbidden, caller.Role, to)
	}

	updated, err := s.repo.UpdateStatus(ctx, id, a.Status, to)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("appointment_id", id.String()).
		Str("from", a.Status).
		Str("to", to).
		Str("by", caller.ID.String()).
		Msg("appointment_status_changed")
	if to == StatusCancelled {
		s.notifyParticipants(ctx, EventCancelled, updated)
	}
	return updated, nil
}

func allowed(caller Caller, a *Appointment, to string) bool {
	switch caller.Role {
	case auth.RoleAdmin:
		return true
	case auth.RoleDoctor:
		return a.DoctorID == caller.ID && (to == StatusConfirmed || to == StatusCompleted || to == StatusCancelled)
	case auth.RolePatient:
		return a.PatientID == caller.ID && to == StatusCancelled
	}
	return false
}

// notifyParticipants is best effort: a failed notification never undoes the
// appointment change.
func (s *Service) notifyParticipants(ctx context.Context, event string, a *Appointment) {
	if s.notifier == nil {
		return
	}
	for _, id := range []uuid.UUID{a.PatientID, a.DoctorID} {
		p, err := s.people.Person(ctx, id)
		if err != nil || p == nil {
			s.logger.Warn().Err(err).Str("user_id", id.String()).Msg("appointment_notify_lookup_failed")
			continue
		}
		if err := s.notifier.Notify(ctx, event, *p, a); err != nil {
			s.logger.Warn().Err(err).
				Str("appointment_id", a.ID.String()).
				Str("user_id", id.String()).
				Str("event", event).
				Msg("appointment_notify_failed")
		}
	}
}
