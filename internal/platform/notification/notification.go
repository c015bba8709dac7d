// Package notification delivers short out-of-band messages (one-time codes,
// appointment notices) over email or SMS with {{key}} template rendering.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// NotificationType represents the channel used to deliver a notification.
type NotificationType string

const (
	TypeEmail NotificationType = "email"
	TypeSMS   NotificationType = "sms"
)

// ErrNoAddress is returned when the recipient has no address for the channel.
var ErrNoAddress = errors.New("recipient has no address for channel")

// Notification represents a single outbound notification.
type Notification struct {
	ID         string           `json:"id"`
	Type       NotificationType `json:"type"`
	Recipient  string           `json:"recipient"`
	Subject    string           `json:"subject,omitempty"`
	Body       string           `json:"-"`
	TemplateID string           `json:"template_id,omitempty"`
	Status     string           `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
	SentAt     *time.Time       `json:"sent_at,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender is the interface for sending SMS messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Template defines a reusable notification template.
type Template struct {
	ID      string
	Subject string
	Body    string
}

const (
	TemplateRecordAccessOTP      = "record-access-otp"
	TemplateAppointmentBooked    = "appointment-booked"
	TemplateAppointmentCancelled = "appointment-cancelled"
)

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      TemplateRecordAccessOTP,
			Subject: "Your medical record access code",
			Body:    "Hello {{patient_name}}, a doctor has requested access to your medical records. Share this code only with your doctor: {{code}}. It expires in {{ttl_minutes}} minutes.",
		},
		{
			ID:      TemplateAppointmentBooked,
			Subject: "Appointment booked for {{scheduled_at}}",
			Body:    "Hello {{name}}, an appointment has been booked for {{scheduled_at}}. Reason: {{reason}}.",
		},
		{
			ID:      TemplateAppointmentCancelled,
			Subject: "Appointment cancelled",
			Body:    "Hello {{name}}, your appointment on {{scheduled_at}} has been cancelled.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// Recipient is the addressable party of a notification.
type Recipient struct {
	Name  string
	Email string
	Phone string
}

func (r Recipient) address(t NotificationType) string {
	if t == TypeSMS {
		return r.Phone
	}
	return r.Email
}

// Manager renders templates and dispatches them over the configured channel.
type Manager struct {
	emailSender EmailSender
	smsSender   SMSSender
	templates   *TemplateEngine
	channel     NotificationType
	logger      zerolog.Logger
}

// NewManager constructs a Manager that delivers over channel. Either sender
// may be nil when the channel does not use it.
func NewManager(channel NotificationType, email EmailSender, sms SMSSender, tpl *TemplateEngine, logger zerolog.Logger) *Manager {
	if tpl == nil {
		tpl = NewTemplateEngine()
	}
	return &Manager{
		emailSender: email,
		smsSender:   sms,
		templates:   tpl,
		channel:     channel,
		logger:      logger.With().Str("component", "notification").Logger(),
	}
}

// Channel returns the delivery channel.
func (m *Manager) Channel() NotificationType {
	return m.channel
}

// Send dispatches a notification through its channel and records the
// outcome on n.
func (m *Manager) Send(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.CreatedAt = time.Now().UTC()
	n.Status = "pending"

	var sendErr error
	switch n.Type {
	case TypeEmail:
		if m.emailSender == nil {
			sendErr = errors.New("email sender not configured")
		} else {
			sendErr = m.emailSender.SendEmail(ctx, n.Recipient, n.Subject, n.Body)
		}
	case TypeSMS:
		if m.smsSender == nil {
			sendErr = errors.New("sms sender not configured")
		} else {
			sendErr = m.smsSender.SendSMS(ctx, n.Recipient, n.Body)
		}
	default:
		sendErr = fmt.Errorf("unsupported notification type: %s", n.Type)
	}

	if sendErr != nil {
		n.Status = "failed"
		n.Error = sendErr.Error()
		m.logger.Warn().Err(sendErr).
			Str("notification_id", n.ID).
			Str("type", string(n.Type)).
			Str("template_id", n.TemplateID).
			Msg("notification failed")
		return sendErr
	}

	n.Status = "sent"
	sentAt := time.Now().UTC()
	n.SentAt = &sentAt
	m.logger.Info().
		Str("notification_id", n.ID).
		Str("type", string(n.Type)).
		Str("template_id", n.TemplateID).
		Msg("notification sent")
	return nil
}

// SendFromTemplate renders a template and sends it to the recipient's address
// for the manager's channel.
func (m *Manager) SendFromTemplate(ctx context.Context, templateID string, data map[string]string, to Recipient) (*Notification, error) {
	addr := to.address(m.channel)
	if addr == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoAddress, m.channel)
	}

	subject, body, err := m.templates.Render(templateID, data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	n := &Notification{
		Type:       m.channel,
		Recipient:  addr,
		Subject:    subject,
		Body:       body,
		TemplateID: templateID,
	}
	if err := m.Send(ctx, n); err != nil {
		return n, err
	}
	return n, nil
}
