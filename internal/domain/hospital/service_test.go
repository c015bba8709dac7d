package hospital

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type mockRepo struct {
	hospitals map[uuid.UUID]*Hospital
	doctors   map[uuid.UUID]*Doctor
	assigned  map[uuid.UUID]uuid.UUID
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		hospitals: make(map[uuid.UUID]*Hospital),
		doctors:   make(map[uuid.UUID]*Doctor),
		assigned:  make(map[uuid.UUID]uuid.UUID),
	}
}

func (m *mockRepo) Create(_ context.Context, h *Hospital) error {
	h.ID = uuid.New()
	h.CreatedAt = time.Now()
	h.UpdatedAt = h.CreatedAt
	m.hospitals[h.ID] = h
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Hospital, error) {
	h, ok := m.hospitals[id]
	if !ok {
		return nil, ErrNotFound
	}
	return h, nil
}

func (m *mockRepo) Update(_ context.Context, h *Hospital) error {
	if _, ok := m.hospitals[h.ID]; !ok {
		return ErrNotFound
	}
	m.hospitals[h.ID] = h
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.hospitals[id]; !ok {
		return ErrNotFound
	}
	delete(m.hospitals, id)
	for doc, hosp := range m.assigned {
		if hosp == id {
			delete(m.assigned, doc)
		}
	}
	return nil
}

func (m *mockRepo) List(_ context.Context, limit, offset int) ([]*Hospital, int, error) {
	all := make([]*Hospital, 0, len(m.hospitals))
	for _, h := range m.hospitals {
		all = append(all, h)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	total := len(all)
	if offset >= total {
		return []*Hospital{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *mockRepo) AssignDoctor(_ context.Context, hospitalID, doctorID uuid.UUID) error {
	if _, ok := m.hospitals[hospitalID]; !ok {
		return ErrNotFound
	}
	if _, ok := m.doctors[doctorID]; !ok {
		return ErrDoctorNotFound
	}
	m.assigned[doctorID] = hospitalID
	return nil
}

func (m *mockRepo) ListDoctors(_ context.Context, hospitalID uuid.UUID) ([]*Doctor, error) {
	items := []*Doctor{}
	for doc, hosp := range m.assigned {
		if hosp == hospitalID {
			items = append(items, m.doctors[doc])
		}
	}
	return items, nil
}

func (m *mockRepo) addDoctor(name string) uuid.UUID {
	id := uuid.New()
	m.doctors[id] = &Doctor{ID: id, FullName: name, Email: name + "@example.com"}
	return id
}

func newTestService() (*Service, *mockRepo) {
	repo := newMockRepo()
	return NewService(repo, zerolog.Nop()), repo
}

func TestService_Create(t *testing.T) {
	svc, repo := newTestService()

	h := &Hospital{Name: "  City General ", Address: "1 Main St"}
	if err := svc.Create(context.Background(), h); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Name != "City General" {
		t.Errorf("expected trimmed name, got %q", h.Name)
	}
	if len(repo.hospitals) != 1 {
		t.Errorf("expected 1 hospital, got %d", len(repo.hospitals))
	}

	if err := svc.Create(context.Background(), &Hospital{Address: "x"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("missing name: expected ErrInvalidInput, got %v", err)
	}
	if err := svc.Create(context.Background(), &Hospital{Name: "x"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("missing address: expected ErrInvalidInput, got %v", err)
	}
}

func TestService_UpdateAndDelete(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	h := &Hospital{Name: "A", Address: "addr"}
	svc.Create(ctx, h)

	upd := &Hospital{ID: h.ID, Name: "B", Address: "addr"}
	if err := svc.Update(ctx, upd); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := svc.Get(ctx, h.ID)
	if got.Name != "B" {
		t.Errorf("expected B, got %s", got.Name)
	}

	if err := svc.Update(ctx, &Hospital{ID: uuid.New(), Name: "C", Address: "x"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := svc.Delete(ctx, h.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.Delete(ctx, h.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}

func TestService_AssignDoctor(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	h := &Hospital{Name: "A", Address: "addr"}
	svc.Create(ctx, h)
	doc := repo.addDoctor("house")

	if err := svc.AssignDoctor(ctx, h.ID, doc); err != nil {
		t.Fatalf("assign: %v", err)
	}
	doctors, err := svc.Doctors(ctx, h.ID)
	if err != nil {
		t.Fatalf("doctors: %v", err)
	}
	if len(doctors) != 1 || doctors[0].ID != doc {
		t.Errorf("expected assigned doctor, got %+v", doctors)
	}

	if err := svc.AssignDoctor(ctx, h.ID, uuid.New()); !errors.Is(err, ErrDoctorNotFound) {
		t.Errorf("unknown doctor: expected ErrDoctorNotFound, got %v", err)
	}
	if err := svc.AssignDoctor(ctx, uuid.New(), doc); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown hospital: expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Doctors(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("doctors of unknown hospital: expected ErrNotFound, got %v", err)
	}
}
