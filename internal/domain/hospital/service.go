package hospital

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "hospital").Logger()}
}

func (s *Service) Create(ctx context.Context, h *Hospital) error {
	if err := h.validate(); err != nil {
		return err
	}
	if err := s.repo.Create(ctx, h); err != nil {
		return err
	}
	s.logger.Info().Str("hospital_id", h.ID.String()).Msg("hospital_created")
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Hospital, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Update(ctx context.Context, h *Hospital) error {
	if err := h.validate(); err != nil {
		return err
	}
	return s.repo.Update(ctx, h)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("hospital_id", id.String()).Msg("hospital_deleted")
	return nil
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Hospital, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) AssignDoctor(ctx context.Context, hospitalID, doctorID uuid.UUID) error {
	if err := s.repo.AssignDoctor(ctx, hospitalID, doctorID); err != nil {
		return err
	}
	s.logger.Info().
		Str("hospital_id", hospitalID.String()).
		Str("doctor_id", doctorID.String()).
		Msg("doctor_assigned")
	return nil
}

// Doctors lists the doctors of an existing hospital.
func (s *Service) Doctors(ctx context.Context, hospitalID uuid.UUID) ([]*Doctor, error) {
	if _, err := s.repo.GetByID(ctx, hospitalID); err != nil {
		return nil, err
	}
	return s.repo.ListDoctors(ctx, hospitalID)
}
