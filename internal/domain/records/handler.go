package records

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hospital/hms/internal/platform/auth"
)

type Handler struct {
	gate *Gate
}

func NewHandler(gate *Gate) *Handler {
	return &Handler{gate: gate}
}

// RegisterRoutes mounts the record routes on api (/api/v1). otpLimit, when
// given, wraps the request-otp route only.
func (h *Handler) RegisterRoutes(api *echo.Group, otpLimit ...echo.MiddlewareFunc) {
	// Only the doctor named in the path, never an admin acting for them.
	doctor := api.Group("/doctors/:doctorId/patients/:patientId", auth.RequireExactRole(auth.RoleDoctor), requireSelfDoctor)
	doctor.POST("/request-otp", h.RequestOTP, otpLimit...)
	doctor.POST("/records", h.AccessRecords)
	doctor.POST("/records/add", h.AddRecord)

	patient := api.Group("/patients/me", auth.RequireExactRole(auth.RolePatient))
	patient.GET("/records", h.OwnRecords)
}

// requireSelfDoctor rejects malformed path IDs with 400 and a token whose
// subject is not :doctorId with 403.
func requireSelfDoctor(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		doctorID, err := uuid.Parse(c.Param("doctorId"))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid doctorId")
		}
		patientID, err := uuid.Parse(c.Param("patientId"))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patientId")
		}
		if auth.UserIDFromContext(c.Request().Context()) != doctorID.String() {
			return echo.NewHTTPError(http.StatusForbidden, "token does not belong to this doctor")
		}
		c.Set(ctxDoctorID, doctorID)
		c.Set(ctxPatientID, patientID)
		return next(c)
	}
}

// Keys under which requireSelfDoctor stores the parsed path IDs.
const (
	ctxDoctorID  = "records.doctor_id"
	ctxPatientID = "records.patient_id"
)

// pathIDs returns the IDs requireSelfDoctor validated. It is an internal
// error for a doctor route to be mounted without that middleware.
func pathIDs(c echo.Context) (doctorID, patientID uuid.UUID, err error) {
	doctorID, okD := c.Get(ctxDoctorID).(uuid.UUID)
	patientID, okP := c.Get(ctxPatientID).(uuid.UUID)
	if !okD || !okP {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
	return doctorID, patientID, nil
}

type accessRequest struct {
	OTP string `json:"otp"`
}

type addRecordRequest struct {
	OTP string `json:"otp"`
	NewRecord
}

func (h *Handler) RequestOTP(c echo.Context) error {
	doctorID, patientID, err := pathIDs(c)
	if err != nil {
		return err
	}
	if err := h.gate.RequestAccess(c.Request().Context(), doctorID, patientID); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, struct{}{})
}

func (h *Handler) AccessRecords(c echo.Context) error {
	doctorID, patientID, err := pathIDs(c)
	if err != nil {
		return err
	}
	var req accessRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.OTP == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "otp is required")
	}

	items, err := h.gate.AccessRecords(c.Request().Context(), doctorID, patientID, req.OTP)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) AddRecord(c echo.Context) error {
	doctorID, patientID, err := pathIDs(c)
	if err != nil {
		return err
	}
	var req addRecordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.OTP == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "otp is required")
	}

	rec, err := h.gate.AddRecord(c.Request().Context(), doctorID, patientID, req.OTP, req.NewRecord)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) OwnRecords(c echo.Context) error {
	patientID, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token subject")
	}
	items, err := h.gate.PatientRecords(c.Request().Context(), patientID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	case errors.Is(err, ErrAccessDenied):
		return echo.NewHTTPError(http.StatusForbidden, "invalid or expired otp")
	case errors.Is(err, ErrNotifierUnavailable):
		return echo.NewHTTPError(http.StatusBadGateway, "could not deliver otp to patient").SetInternal(err)
	case errors.Is(err, ErrStoreUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "record access temporarily unavailable").SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}
