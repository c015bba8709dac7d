package notification

import (
	"context"
	"strconv"
	"time"
)

// OTPNotifier sends record-access codes to patients.
type OTPNotifier struct {
	manager *Manager
	ttl     time.Duration
}

// NewOTPNotifier returns a notifier that tells the patient the code is valid
// for ttl.
func NewOTPNotifier(m *Manager, ttl time.Duration) *OTPNotifier {
	return &OTPNotifier{manager: m, ttl: ttl}
}

// SendOTP delivers code to the patient. The code only appears in the
// message body.
func (n *OTPNotifier) SendOTP(ctx context.Context, to Recipient, code string) error {
	minutes := int(n.ttl.Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	name := to.Name
	if name == "" {
		name = "patient"
	}
	_, err := n.manager.SendFromTemplate(ctx, TemplateRecordAccessOTP, map[string]string{
		"patient_name": name,
		"code":         code,
		"ttl_minutes":  strconv.Itoa(minutes),
	}, to)
	return err
}
