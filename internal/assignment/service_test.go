package assignment

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"civicreport_backend/internal/reports/domain"
	"civicreport_backend/platform/apperr"
)

type memStore struct {
	scopes  map[uuid.UUID][]domain.Category
	offices map[uuid.UUID]ExternalOffice
	members map[uuid.UUID]map[uuid.UUID]bool
}

func newMemStore() *memStore {
	return &memStore{
		scopes:  make(map[uuid.UUID][]domain.Category),
		offices: make(map[uuid.UUID]ExternalOffice),
		members: make(map[uuid.UUID]map[uuid.UUID]bool),
	}
}

var _ Store = (*memStore)(nil)

func (m *memStore) ResolveTechnicians(_ context.Context, category domain.Category) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for id, cats := range m.scopes {
		for _, c := range cats {
			if c == category {
				out = append(out, id)
			}
		}
	}
	return out, nil
}

func (m *memStore) CategoriesFor(_ context.Context, technicianID uuid.UUID) ([]domain.Category, error) {
	return m.scopes[technicianID], nil
}

func (m *memStore) SetTechnicianCategories(_ context.Context, technicianID uuid.UUID, categories []domain.Category) error {
	m.scopes[technicianID] = categories
	return nil
}

func (m *memStore) CreateOffice(_ context.Context, name string, categories []domain.Category) (ExternalOffice, error) {
	office := ExternalOffice{ID: uuid.New(), Name: name, Categories: categories}
	m.offices[office.ID] = office
	return office, nil
}

func (m *memStore) UpdateOffice(_ context.Context, id uuid.UUID, name string, categories []domain.Category) (ExternalOffice, error) {
	office, ok := m.offices[id]
	if !ok {
		return ExternalOffice{}, apperr.NotFound("office not found")
	}
	office.Name = name
	office.Categories = categories
	m.offices[id] = office
	return office, nil
}

func (m *memStore) GetOffice(_ context.Context, id uuid.UUID) (ExternalOffice, error) {
	office, ok := m.offices[id]
	if !ok {
		return ExternalOffice{}, apperr.NotFound("office not found")
	}
	return office, nil
}

func (m *memStore) ListOffices(_ context.Context) ([]ExternalOffice, error) {
	var out []ExternalOffice
	for _, o := range m.offices {
		out = append(out, o)
	}
	return out, nil
}

func (m *memStore) OfficeServesCategory(_ context.Context, officeID uuid.UUID, category domain.Category) (bool, error) {
	office, ok := m.offices[officeID]
	if !ok {
		return false, nil
	}
	for _, c := range office.Categories {
		if c == category {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) AddOfficeMember(_ context.Context, officeID, userID uuid.UUID) error {
	if m.members[officeID] == nil {
		m.members[officeID] = make(map[uuid.UUID]bool)
	}
	m.members[officeID][userID] = true
	return nil
}

func (m *memStore) RemoveOfficeMember(_ context.Context, officeID, userID uuid.UUID) error {
	if !m.members[officeID][userID] {
		return apperr.NotFound("member not found")
	}
	delete(m.members[officeID], userID)
	return nil
}

func (m *memStore) ListOfficeMembers(_ context.Context, officeID uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for id := range m.members[officeID] {
		out = append(out, id)
	}
	return out, nil
}

func TestSetTechnicianCategoriesValidatesAndDedupes(t *testing.T) {
	store := newMemStore()
	svc := NewService(store)
	tech := uuid.New()

	err := svc.SetTechnicianCategories(context.Background(), tech, []domain.Category{"roads", "potholes"})
	if apperr.GetKind(err) != apperr.KindValidation {
		t.Fatalf("unknown category: want validation error, got %v", err)
	}

	if err := svc.SetTechnicianCategories(context.Background(), tech, []domain.Category{"roads", "lighting", "roads"}); err != nil {
		t.Fatalf("SetTechnicianCategories: %v", err)
	}
	if got := store.scopes[tech]; len(got) != 2 {
		t.Errorf("scope = %v, want deduped pair", got)
	}

	techs, err := svc.ResolveTechnicians(context.Background(), domain.CategoryRoads)
	if err != nil {
		t.Fatalf("ResolveTechnicians: %v", err)
	}
	if len(techs) != 1 || techs[0] != tech {
		t.Errorf("resolved = %v", techs)
	}
}

func TestOfficeLifecycle(t *testing.T) {
	svc := NewService(newMemStore())

	if _, err := svc.CreateOffice(context.Background(), "  ", nil); apperr.GetKind(err) != apperr.KindValidation {
		t.Fatalf("blank name: want validation error, got %v", err)
	}

	office, err := svc.CreateOffice(context.Background(), "Impresa Verde srl", []domain.Category{domain.CategoryParks})
	if err != nil {
		t.Fatalf("CreateOffice: %v", err)
	}

	serves, err := svc.OfficeServesCategory(context.Background(), office.ID, domain.CategoryParks)
	if err != nil || !serves {
		t.Errorf("OfficeServesCategory(parks) = %v, %v", serves, err)
	}
	serves, _ = svc.OfficeServesCategory(context.Background(), office.ID, domain.CategoryRoads)
	if serves {
		t.Error("office should not serve roads")
	}

	member := uuid.New()
	if err := svc.AddOfficeMember(context.Background(), office.ID, member); err != nil {
		t.Fatalf("AddOfficeMember: %v", err)
	}
	if err := svc.AddOfficeMember(context.Background(), uuid.New(), member); apperr.GetKind(err) != apperr.KindNotFound {
		t.Errorf("member on unknown office: want not found, got %v", err)
	}

	members, err := svc.ListOfficeMembers(context.Background(), office.ID)
	if err != nil || len(members) != 1 {
		t.Fatalf("members = %v, %v", members, err)
	}

	if err := svc.RemoveOfficeMember(context.Background(), office.ID, member); err != nil {
		t.Fatalf("RemoveOfficeMember: %v", err)
	}
	if err := svc.RemoveOfficeMember(context.Background(), office.ID, member); apperr.GetKind(err) != apperr.KindNotFound {
		t.Errorf("double remove: want not found, got %v", err)
	}
}
