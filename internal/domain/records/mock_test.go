package records

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type mockRecordRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]*MedicalRecord
	err     error
}

func newMockRecordRepo() *mockRecordRepo {
	return &mockRecordRepo{records: make(map[uuid.UUID]*MedicalRecord)}
}

func (m *mockRecordRepo) Create(_ context.Context, r *MedicalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	m.records[r.ID] = r
	return nil
}

func (m *mockRecordRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*MedicalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	items := []*MedicalRecord{}
	for _, r := range m.records {
		if r.PatientID == patientID {
			items = append(items, r)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items, nil
}

func (m *mockRecordRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type mockDirectory struct {
	patients  map[uuid.UUID]*PatientContact
	hospitals map[uuid.UUID]uuid.UUID
	err       error
}

func newMockDirectory() *mockDirectory {
	return &mockDirectory{
		patients:  make(map[uuid.UUID]*PatientContact),
		hospitals: make(map[uuid.UUID]uuid.UUID),
	}
}

func (m *mockDirectory) addPatient() uuid.UUID {
	id := uuid.New()
	m.patients[id] = &PatientContact{ID: id, Name: "Asha Rao", Email: "asha@example.com"}
	return id
}

func (m *mockDirectory) LookupPatient(_ context.Context, id uuid.UUID) (*PatientContact, error) {
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (m *mockDirectory) DoctorHospital(_ context.Context, id uuid.UUID) (*uuid.UUID, error) {
	if m.err != nil {
		return nil, m.err
	}
	h, ok := m.hospitals[id]
	if !ok {
		return nil, nil
	}
	return &h, nil
}

// captureNotifier keeps the last code sent to each patient, even when it is
// configured to fail delivery.
type captureNotifier struct {
	mu    sync.Mutex
	codes map[uuid.UUID]string
	sends int
	err   error
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{codes: make(map[uuid.UUID]string)}
}

func (n *captureNotifier) SendOTP(_ context.Context, to PatientContact, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.codes[to.ID] = code
	n.sends++
	return n.err
}

func (n *captureNotifier) lastCode(patientID uuid.UUID) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.codes[patientID]
}

// stubStore is an otp.Store that fails or counts calls.
type stubStore struct {
	issueErr  error
	verifyErr error
	issued    int
}

func (s *stubStore) Issue(context.Context, string) (string, error) {
	if s.issueErr != nil {
		return "", s.issueErr
	}
	s.issued++
	return "0000", nil
}

func (s *stubStore) Verify(context.Context, string, string) (bool, error) {
	if s.verifyErr != nil {
		return false, s.verifyErr
	}
	return false, nil
}

var errDBDown = errors.New("connection refused")
