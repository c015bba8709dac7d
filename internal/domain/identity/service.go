package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hospital/hms/internal/platform/auth"
	"github.com/hospital/hms/internal/platform/metrics"
)

type Service struct {
	users  UserRepository
	hasher *auth.Hasher
	tokens *auth.TokenIssuer
	logger zerolog.Logger
}

func NewService(users UserRepository, hasher *auth.Hasher, tokens *auth.TokenIssuer, logger zerolog.Logger) *Service {
	return &Service{
		users:  users,
		hasher: hasher,
		tokens: tokens,
		logger: logger.With().Str("component", "identity").Logger(),
	}
}

// Register creates an account. Only an admin caller may create another admin.
func (s *Service) Register(ctx context.Context, in RegisterInput, callerIsAdmin bool) (*User, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if in.Role == auth.RoleAdmin && !callerIsAdmin {
		return nil, fmt.Errorf("%w: admin accounts can only be created by an admin", ErrForbidden)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &User{
		Email:          in.Email,
		Phone:          in.Phone,
		FullName:       in.FullName,
		Role:           in.Role,
		PasswordHash:   hash,
		HospitalID:     in.HospitalID,
		Specialization: in.Specialization,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", u.ID.String()).Str("role", u.Role).Msg("user_registered")
	return u, nil
}

// Login checks the password and returns a signed bearer token. Unknown email
// and wrong password produce the same error.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	u, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			metrics.AuthLoginsTotal.WithLabelValues("failure").Inc()
			return nil, ErrInvalidCredentials
		}
		metrics.AuthLoginsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if err := s.hasher.Compare(u.PasswordHash, password); err != nil {
		metrics.AuthLoginsTotal.WithLabelValues("failure").Inc()
		s.logger.Warn().Str("user_id", u.ID.String()).Msg("login_failed")
		return nil, ErrInvalidCredentials
	}

	token, exp, err := s.tokens.Issue(u.ID.String(), []string{u.Role})
	if err != nil {
		metrics.AuthLoginsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("issue token: %w", err)
	}
	metrics.AuthLoginsTotal.WithLabelValues("success").Inc()
	return &LoginResult{Token: token, ExpiresAt: exp, User: u}, nil
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *Service) UpdateProfile(ctx context.Context, id uuid.UUID, upd ProfileUpdate) (*User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := upd.apply(u); err != nil {
		return nil, err
	}
	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) ListDoctors(ctx context.Context, hospitalID *uuid.UUID, limit, offset int) ([]*User, int, error) {
	return s.users.ListDoctors(ctx, hospitalID, limit, offset)
}

// LookupPatient returns the account only if it is a patient.
func (s *Service) LookupPatient(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Role != auth.RolePatient {
		return nil, ErrNotFound
	}
	return u, nil
}

// DoctorHospital returns the hospital a doctor currently belongs to, or nil.
func (s *Service) DoctorHospital(ctx context.Context, id uuid.UUID) (*uuid.UUID, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return u.HospitalID, nil
}
