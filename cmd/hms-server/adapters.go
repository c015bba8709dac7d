package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hospital/hms/internal/domain/identity"
	"github.com/hospital/hms/internal/domain/records"
	"github.com/hospital/hms/internal/domain/scheduling"
	"github.com/hospital/hms/internal/platform/db"
	"github.com/hospital/hms/internal/platform/middleware"
	"github.com/hospital/hms/internal/platform/notification"
)

// accountLookup is the part of identity.Service the other domains read.
type accountLookup interface {
	GetUser(ctx context.Context, id uuid.UUID) (*identity.User, error)
	LookupPatient(ctx context.Context, id uuid.UUID) (*identity.User, error)
	DoctorHospital(ctx context.Context, id uuid.UUID) (*uuid.UUID, error)
}

// recordDirectory resolves patients and doctors for the record gate.
type recordDirectory struct {
	accounts accountLookup
}

func (d recordDirectory) LookupPatient(ctx context.Context, patientID uuid.UUID) (*records.PatientContact, error) {
	u, err := d.accounts.LookupPatient(ctx, patientID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, records.ErrNotFound
		}
		return nil, err
	}
	c := &records.PatientContact{ID: u.ID, Name: u.FullName, Email: u.Email}
	if u.Phone != nil {
		c.Phone = *u.Phone
	}
	return c, nil
}

func (d recordDirectory) DoctorHospital(ctx context.Context, doctorID uuid.UUID) (*uuid.UUID, error) {
	return d.accounts.DoctorHospital(ctx, doctorID)
}

// otpSender is satisfied by *notification.OTPNotifier.
type otpSender interface {
	SendOTP(ctx context.Context, to notification.Recipient, code string) error
}

type recordNotifier struct {
	sender otpSender
}

func (n recordNotifier) SendOTP(ctx context.Context, to records.PatientContact, code string) error {
	return n.sender.SendOTP(ctx, notification.Recipient{Name: to.Name, Email: to.Email, Phone: to.Phone}, code)
}

// schedulingPeople exposes accounts as appointment participants.
type schedulingPeople struct {
	accounts accountLookup
}

func (p schedulingPeople) Person(ctx context.Context, id uuid.UUID) (*scheduling.Person, error) {
	u, err := p.accounts.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	person := &scheduling.Person{
		ID:         u.ID,
		Name:       u.FullName,
		Email:      u.Email,
		Role:       u.Role,
		HospitalID: u.HospitalID,
	}
	if u.Phone != nil {
		person.Phone = *u.Phone
	}
	return person, nil
}

// templateSender is satisfied by *notification.Manager.
type templateSender interface {
	SendFromTemplate(ctx context.Context, templateID string, data map[string]string, to notification.Recipient) (*notification.Notification, error)
}

type appointmentNotifier struct {
	manager templateSender
}

func (n appointmentNotifier) Notify(ctx context.Context, event string, to scheduling.Person, a *scheduling.Appointment) error {
	data := map[string]string{
		"name":         to.Name,
		"scheduled_at": a.ScheduledAt.UTC().Format(time.RFC1123),
		"reason":       a.Reason,
	}

	var tpl string
	switch event {
	case scheduling.EventBooked:
		tpl = notification.TemplateAppointmentBooked
	case scheduling.EventCancelled:
		tpl = notification.TemplateAppointmentCancelled
	default:
		return fmt.Errorf("unknown appointment event %q", event)
	}

	_, err := n.manager.SendFromTemplate(ctx, tpl, data, notification.Recipient{Name: to.Name, Email: to.Email, Phone: to.Phone})
	return err
}

// auditStore persists patient-data accesses. Entries that touch no patient
// and carry no named action are only logged by the middleware.
type auditStore struct {
	db db.Querier
}

func (s auditStore) RecordAccess(ctx context.Context, e middleware.AuditEntry) error {
	if e.PatientID == "" && !namedAction(e.Action) {
		return nil
	}
	roles := e.UserRoles
	if roles == nil {
		roles = []string{}
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO audit_events (occurred_at, request_id, user_id, user_roles, action, resource_type,
			patient_id, method, route, status_code, ip_address, user_agent)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, NULLIF($7, ''), $8, $9, $10, NULLIF($11, ''), NULLIF($12, ''))`,
		e.Timestamp, e.RequestID, e.UserID, roles, e.Action, e.ResourceType,
		e.PatientID, e.Method, e.Route, e.StatusCode, e.IPAddress, e.UserAgent)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func namedAction(action string) bool {
	switch action {
	case middleware.ActionOTPRequest, middleware.ActionRecordsRead, middleware.ActionRecordsAdd, middleware.ActionOwnRecords:
		return true
	}
	return false
}
