package records

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hospital/hms/internal/otp"
	"github.com/hospital/hms/internal/platform/auth"
)

// asUser stands in for the JWT middleware.
func asUser(userID, role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithIdentity(c.Request().Context(), userID, []string{role})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func newTestServer(f *gateFixture, userID, role string) *echo.Echo {
	e := echo.New()
	api := e.Group("/api/v1", asUser(userID, role))
	NewHandler(f.gate).RegisterRoutes(api)
	return e
}

func doRequest(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func doctorPath(doctorID, patientID uuid.UUID, suffix string) string {
	return "/api/v1/doctors/" + doctorID.String() + "/patients/" + patientID.String() + suffix
}

func TestHandler_FullFlow(t *testing.T) {
	f := newGateFixture()
	doctorID := uuid.New()
	patientID := f.dir.addPatient()
	e := newTestServer(f, doctorID.String(), auth.RoleDoctor)

	rec := doRequest(e, http.MethodPost, doctorPath(doctorID, patientID, "/request-otp"), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("request-otp: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), f.notifier.lastCode(patientID)) {
		t.Fatal("response must not contain the code")
	}

	code := f.notifier.lastCode(patientID)
	body := `{"otp":"` + code + `","summary":"Follow-up","details":"Recovering well","imageUrls":["/api/v1/documents/1"]}`
	rec = doRequest(e, http.MethodPost, doctorPath(doctorID, patientID, "/records/add"), body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("records/add: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created MedicalRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Summary != "Follow-up" || len(created.ImageURLs) != 1 {
		t.Errorf("unexpected record: %+v", created)
	}

	rec = doRequest(e, http.MethodPost, doctorPath(doctorID, patientID, "/records"), `{"otp":"`+code+`"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("reused code: expected 403, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid or expired otp") {
		t.Errorf("expected generic denial message, got %s", rec.Body.String())
	}

	_ = doRequest(e, http.MethodPost, doctorPath(doctorID, patientID, "/request-otp"), "")
	code = f.notifier.lastCode(patientID)
	rec = doRequest(e, http.MethodPost, doctorPath(doctorID, patientID, "/records"), `{"otp":"`+code+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("records: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var items []MedicalRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 1 || items[0].ID != created.ID {
		t.Errorf("expected the created record, got %+v", items)
	}
}

func TestHandler_StatusMapping(t *testing.T) {
	doctorID := uuid.New()

	t.Run("unknown patient", func(t *testing.T) {
		f := newGateFixture()
		e := newTestServer(f, doctorID.String(), auth.RoleDoctor)
		rec := doRequest(e, http.MethodPost, doctorPath(doctorID, uuid.New(), "/request-otp"), "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("notifier down", func(t *testing.T) {
		f := newGateFixture()
		f.notifier.err = errors.New("gateway timeout")
		patientID := f.dir.addPatient()
		e := newTestServer(f, doctorID.String(), auth.RoleDoctor)
		rec := doRequest(e, http.MethodPost, doctorPath(doctorID, patientID, "/request-otp"), "")
		if rec.Code != http.StatusBadGateway {
			t.Errorf("expected 502, got %d", rec.Code)
		}
	})

	t.Run("store down", func(t *testing.T) {
		f := newGateFixture()
		f.gate = NewGate(&stubStore{verifyErr: otp.ErrStoreUnavailable}, f.notifier, f.dir, f.repo, zerolog.Nop())
		patientID := f.dir.addPatient()
		e := newTestServer(f, doctorID.String(), auth.RoleDoctor)
		rec := doRequest(e, http.MethodPost, doctorPath(doctorID, patientID, "/records"), `{"otp":"1234"}`)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("expected 503, got %d", rec.Code)
		}
	})

	t.Run("missing otp", func(t *testing.T) {
		f := newGateFixture()
		patientID := f.dir.addPatient()
		e := newTestServer(f, doctorID.String(), auth.RoleDoctor)
		rec := doRequest(e, http.MethodPost, doctorPath(doctorID, patientID, "/records"), `{}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("invalid record body", func(t *testing.T) {
		f := newGateFixture()
		patientID := f.dir.addPatient()
		e := newTestServer(f, doctorID.String(), auth.RoleDoctor)
		rec := doRequest(e, http.MethodPost, doctorPath(doctorID, patientID, "/records/add"), `{"otp":"1234","details":"x"}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		f := newGateFixture()
		patientID := f.dir.addPatient()
		e := newTestServer(f, doctorID.String(), auth.RoleDoctor)
		rec := doRequest(e, http.MethodPost, doctorPath(doctorID, patientID, "/records"), `{"otp":`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}

func TestHandler_DoctorIdentity(t *testing.T) {
	doctorID := uuid.New()
	f := newGateFixture()
	patientID := f.dir.addPatient()

	tests := []struct {
		name     string
		userID   string
		role     string
		path     string
		wantCode int
	}{
		{"other doctor", uuid.New().String(), auth.RoleDoctor, doctorPath(doctorID, patientID, "/request-otp"), http.StatusForbidden},
		{"admin", doctorID.String(), auth.RoleAdmin, doctorPath(doctorID, patientID, "/request-otp"), http.StatusForbidden},
		{"patient", patientID.String(), auth.RolePatient, doctorPath(doctorID, patientID, "/request-otp"), http.StatusForbidden},
		{"bad doctor id", doctorID.String(), auth.RoleDoctor, "/api/v1/doctors/not-a-uuid/patients/" + patientID.String() + "/request-otp", http.StatusBadRequest},
		{"bad patient id", doctorID.String(), auth.RoleDoctor, "/api/v1/doctors/" + doctorID.String() + "/patients/xyz/request-otp", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestServer(f, tt.userID, tt.role)
			rec := doRequest(e, http.MethodPost, tt.path, "")
			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
		})
	}
	if f.notifier.sends != 0 {
		t.Errorf("expected no codes sent, got %d", f.notifier.sends)
	}
}

func TestHandler_PathIDsFromMiddleware(t *testing.T) {
	doctorID := uuid.New()
	f := newGateFixture()
	patientID := f.dir.addPatient()

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, doctorPath(doctorID, patientID, "/request-otp"), nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), doctorID.String(), []string{auth.RoleDoctor}))
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("doctorId", "patientId")
	c.SetParamValues(doctorID.String(), patientID.String())

	var gotDoctor, gotPatient uuid.UUID
	err := requireSelfDoctor(func(c echo.Context) error {
		var err error
		gotDoctor, gotPatient, err = pathIDs(c)
		return err
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotDoctor != doctorID || gotPatient != patientID {
		t.Errorf("ids = %s, %s; want %s, %s", gotDoctor, gotPatient, doctorID, patientID)
	}

	// Without the middleware the handler refuses instead of parsing again.
	bare := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), httptest.NewRecorder())
	_, _, err = pathIDs(bare)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 without middleware, got %v", err)
	}
}

func TestHandler_OwnRecords(t *testing.T) {
	f := newGateFixture()
	patientID := f.dir.addPatient()
	f.repo.Create(context.Background(), &MedicalRecord{PatientID: patientID, Summary: "s", Details: "d"})

	e := newTestServer(f, patientID.String(), auth.RolePatient)
	rec := doRequest(e, http.MethodGet, "/api/v1/patients/me/records", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var items []MedicalRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("expected 1 record, got %d", len(items))
	}

	e = newTestServer(f, uuid.New().String(), auth.RoleDoctor)
	rec = doRequest(e, http.MethodGet, "/api/v1/patients/me/records", "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("doctor on own-records: expected 403, got %d", rec.Code)
	}
}
