package records

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MedicalRecord maps to the records table. Summary and Details are stored
// encrypted when a record key is configured.
type MedicalRecord struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	PatientID   uuid.UUID  `db:"patient_id" json:"patientId"`
	DoctorID    *uuid.UUID `db:"doctor_id" json:"doctorId,omitempty"`
	HospitalID  *uuid.UUID `db:"hospital_id" json:"hospitalId,omitempty"`
	Summary     string     `db:"summary" json:"summary"`
	Details     string     `db:"details" json:"details"`
	DocumentURL *string    `db:"document_url" json:"documentUrl,omitempty"`
	ImageURLs   []string   `db:"image_urls" json:"imageUrls"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
}

// PatientContact is what the gate needs to reach a patient out-of-band.
type PatientContact struct {
	ID    uuid.UUID
	Name  string
	Email string
	Phone string
}

const (
	maxSummaryLen = 500
	maxDetailsLen = 20000
	maxImages     = 20
	maxURLLen     = 2048
)

// NewRecord is the body of an add-record request after the OTP is removed.
type NewRecord struct {
	Summary     string   `json:"summary"`
	Details     string   `json:"details"`
	DocumentURL *string  `json:"documentUrl,omitempty"`
	ImageURLs   []string `json:"imageUrls,omitempty"`
}

// Validate trims the text fields and checks sizes and URLs.
func (n *NewRecord) Validate() error {
	n.Summary = strings.TrimSpace(n.Summary)
	n.Details = strings.TrimSpace(n.Details)

	if n.Summary == "" {
		return fmt.Errorf("%w: summary is required", ErrInvalidInput)
	}
	if len(n.Summary) > maxSummaryLen {
		return fmt.Errorf("%w: summary exceeds %d characters", ErrInvalidInput, maxSummaryLen)
	}
	if len(n.Details) > maxDetailsLen {
		return fmt.Errorf("%w: details exceeds %d characters", ErrInvalidInput, maxDetailsLen)
	}
	if n.DocumentURL != nil {
		if strings.TrimSpace(*n.DocumentURL) == "" {
			n.DocumentURL = nil
		} else if err := checkURL(*n.DocumentURL); err != nil {
			return fmt.Errorf("%w: documentUrl: %v", ErrInvalidInput, err)
		}
	}
	if len(n.ImageURLs) > maxImages {
		return fmt.Errorf("%w: at most %d imageUrls allowed", ErrInvalidInput, maxImages)
	}
	for i, u := range n.ImageURLs {
		if err := checkURL(u); err != nil {
			return fmt.Errorf("%w: imageUrls[%d]: %v", ErrInvalidInput, i, err)
		}
	}
	return nil
}

// checkURL accepts absolute http(s) URLs and server-relative paths such as
// the ones returned by the document upload endpoint.
func checkURL(raw string) error {
	if len(raw) > maxURLLen {
		return fmt.Errorf("longer than %d characters", maxURLLen)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("not a valid URL")
	}
	switch {
	case u.Scheme == "http" || u.Scheme == "https":
		if u.Host == "" {
			return fmt.Errorf("missing host")
		}
	case u.Scheme == "" && u.Host == "" && strings.HasPrefix(raw, "/"):
	default:
		return fmt.Errorf("must be an http(s) URL or an absolute path")
	}
	return nil
}
