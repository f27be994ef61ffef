package assignment

import (
	"context"

	"github.com/google/uuid"

	"civicreport_backend/internal/reports/domain"
	"civicreport_backend/platform/apperr"
	"civicreport_backend/platform/sanitize"
)

// Store is the persistence surface the service needs. Satisfied by
// *Repository; tests swap in an in-memory fake.
type Store interface {
	ResolveTechnicians(ctx context.Context, category domain.Category) ([]uuid.UUID, error)
	CategoriesFor(ctx context.Context, technicianID uuid.UUID) ([]domain.Category, error)
	SetTechnicianCategories(ctx context.Context, technicianID uuid.UUID, categories []domain.Category) error
	CreateOffice(ctx context.Context, name string, categories []domain.Category) (ExternalOffice, error)
	UpdateOffice(ctx context.Context, id uuid.UUID, name string, categories []domain.Category) (ExternalOffice, error)
	GetOffice(ctx context.Context, id uuid.UUID) (ExternalOffice, error)
	ListOffices(ctx context.Context) ([]ExternalOffice, error)
	OfficeServesCategory(ctx context.Context, officeID uuid.UUID, category domain.Category) (bool, error)
	AddOfficeMember(ctx context.Context, officeID, userID uuid.UUID) error
	RemoveOfficeMember(ctx context.Context, officeID, userID uuid.UUID) error
	ListOfficeMembers(ctx context.Context, officeID uuid.UUID) ([]uuid.UUID, error)
}

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// ResolveTechnicians returns the technicians scoped to a category.
func (s *Service) ResolveTechnicians(ctx context.Context, category domain.Category) ([]uuid.UUID, error) {
	return s.store.ResolveTechnicians(ctx, category)
}

// CategoriesFor returns a technician's category scope.
func (s *Service) CategoriesFor(ctx context.Context, technicianID uuid.UUID) ([]domain.Category, error) {
	return s.store.CategoriesFor(ctx, technicianID)
}

// OfficeServesCategory reports whether an office covers a category.
func (s *Service) OfficeServesCategory(ctx context.Context, officeID uuid.UUID, category domain.Category) (bool, error) {
	return s.store.OfficeServesCategory(ctx, officeID, category)
}

// SetTechnicianCategories replaces a technician's scope.
func (s *Service) SetTechnicianCategories(ctx context.Context, technicianID uuid.UUID, categories []domain.Category) error {
	if technicianID == uuid.Nil {
		return apperr.Validation("technician id is required")
	}
	deduped, err := normalizeCategories(categories)
	if err != nil {
		return err
	}
	return s.store.SetTechnicianCategories(ctx, technicianID, deduped)
}

// CreateOffice registers an external office. An office without categories
// is allowed; it just cannot be assigned anything yet.
func (s *Service) CreateOffice(ctx context.Context, name string, categories []domain.Category) (ExternalOffice, error) {
	name = sanitize.Text(name)
	if name == "" {
		return ExternalOffice{}, apperr.Validation("office name is required")
	}
	deduped, err := normalizeCategories(categories)
	if err != nil {
		return ExternalOffice{}, err
	}
	return s.store.CreateOffice(ctx, name, deduped)
}

// UpdateOffice replaces an office's name and category coverage.
func (s *Service) UpdateOffice(ctx context.Context, id uuid.UUID, name string, categories []domain.Category) (ExternalOffice, error) {
	name = sanitize.Text(name)
	if name == "" {
		return ExternalOffice{}, apperr.Validation("office name is required")
	}
	deduped, err := normalizeCategories(categories)
	if err != nil {
		return ExternalOffice{}, err
	}
	return s.store.UpdateOffice(ctx, id, name, deduped)
}

// GetOffice loads one office.
func (s *Service) GetOffice(ctx context.Context, id uuid.UUID) (ExternalOffice, error) {
	return s.store.GetOffice(ctx, id)
}

// ListOffices returns all offices.
func (s *Service) ListOffices(ctx context.Context) ([]ExternalOffice, error) {
	return s.store.ListOffices(ctx)
}

// AddOfficeMember links a user to an office after checking it exists.
func (s *Service) AddOfficeMember(ctx context.Context, officeID, userID uuid.UUID) error {
	if userID == uuid.Nil {
		return apperr.Validation("user id is required")
	}
	if _, err := s.store.GetOffice(ctx, officeID); err != nil {
		return err
	}
	return s.store.AddOfficeMember(ctx, officeID, userID)
}

// RemoveOfficeMember unlinks a user from an office.
func (s *Service) RemoveOfficeMember(ctx context.Context, officeID, userID uuid.UUID) error {
	return s.store.RemoveOfficeMember(ctx, officeID, userID)
}

// ListOfficeMembers returns the user ids linked to an office.
func (s *Service) ListOfficeMembers(ctx context.Context, officeID uuid.UUID) ([]uuid.UUID, error) {
	if _, err := s.store.GetOffice(ctx, officeID); err != nil {
		return nil, err
	}
	return s.store.ListOfficeMembers(ctx, officeID)
}

func normalizeCategories(categories []domain.Category) ([]domain.Category, error) {
	seen := make(map[domain.Category]bool, len(categories))
	out := make([]domain.Category, 0, len(categories))
	for _, c := range categories {
		if !c.Valid() {
			return nil, apperr.Validation("unknown category: " + string(c))
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out, nil
}
