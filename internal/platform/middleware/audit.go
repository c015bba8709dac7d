package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hospital/hms/internal/platform/auth"
)

// Audit actions for the OTP-gated record routes. Other routes fall back to
// the HTTP method mapping.
const (
	ActionOTPRequest  = "otp_request"
	ActionRecordsRead = "records_read"
	ActionRecordsAdd  = "records_add"
	ActionOwnRecords  = "records_read_own"
)

var routeActions = map[string]string{
	"/api/v1/doctors/:doctorId/patients/:patientId/request-otp": ActionOTPRequest,
	"/api/v1/doctors/:doctorId/patients/:patientId/records":     ActionRecordsRead,
	"/api/v1/doctors/:doctorId/patients/:patientId/records/add": ActionRecordsAdd,
	"/api/v1/patients/me/records":                               ActionOwnRecords,
}

// AuditEntry is one access to a patient-data route.
type AuditEntry struct {
	UserID       string
	UserRoles    []string
	ResourceType string
	PatientID    string
	Action       string
	IPAddress    string
	UserAgent    string
	Path         string
	Route        string
	Method       string
	Timestamp    time.Time
	RequestID    string
	StatusCode   int
}

// AuditRecorder persists audit entries. The middleware logs every entry even
// without one.
type AuditRecorder interface {
	RecordAccess(ctx context.Context, entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(ctx context.Context, entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(ctx context.Context, entry AuditEntry) error {
	return f(ctx, entry)
}

// Audit records who touched which patient's data under /api/v1/. The entry is
// written after the handler runs so the outcome status is known. The OTP
// code in request bodies is never read here.
func Audit(logger zerolog.Logger, recorder AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			if !isAuditablePath(path) {
				return next(c)
			}

			err := next(c)

			ctx := req.Context()
			entry := AuditEntry{
				Timestamp:    time.Now().UTC(),
				Path:         path,
				Route:        c.Path(),
				Method:       req.Method,
				IPAddress:    c.RealIP(),
				UserAgent:    req.UserAgent(),
				StatusCode:   responseStatus(c, err),
				UserID:       auth.UserIDFromContext(ctx),
				UserRoles:    auth.RolesFromContext(ctx),
				Action:       auditAction(c.Path(), req.Method),
				ResourceType: extractResourceType(c.Path(), path),
				PatientID:    extractPatientID(c),
			}
			if rid, ok := c.Get("request_id").(string); ok {
				entry.RequestID = rid
			}

			if recorder != nil {
				// The request context may already be cancelled.
				if recErr := recorder.RecordAccess(context.WithoutCancel(ctx), entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource_type", entry.ResourceType).
				Str("patient_id", entry.PatientID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("route", entry.Route).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("patient_data_access")

			return err
		}
	}
}

func isAuditablePath(path string) bool {
	return strings.HasPrefix(path, "/api/v1/")
}

func auditAction(route, method string) string {
	if a, ok := routeActions[route]; ok {
		return a
	}
	switch method {
	case http.MethodGet, http.MethodHead:
		return "read"
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// extractResourceType names the resource a request touches:
//
//   - /api/v1/doctors/:doctorId/patients/:patientId/records -> records
//   - /api/v1/appointments/:id                              -> appointments
//   - unmatched /api/v1/hospitals/x                         -> hospitals
func extractResourceType(route, path string) string {
	if strings.Contains(route, "/records") {
		return "records"
	}
	if strings.HasSuffix(route, "/request-otp") {
		return "otp"
	}
	segments := strings.Split(strings.TrimPrefix(path, "/api/v1/"), "/")
	if len(segments) > 0 && segments[0] != "" {
		return segments[0]
	}
	return "unknown"
}

// extractPatientID reads :patientId, then /api/v1/patients/<uuid>, then the
// patient_id query parameter.
func extractPatientID(c echo.Context) string {
	if id := c.Param("patientId"); id != "" && isUUIDLike(id) {
		return id
	}

	path := c.Request().URL.Path
	if strings.HasPrefix(path, "/api/v1/patients/") {
		segments := strings.Split(strings.TrimPrefix(path, "/api/v1/patients/"), "/")
		if len(segments) > 0 && isUUIDLike(segments[0]) {
			return segments[0]
		}
	}

	if patient := c.QueryParam("patient_id"); isUUIDLike(patient) {
		return patient
	}
	return ""
}

func isUUIDLike(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
