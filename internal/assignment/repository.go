// Package assignment manages who works on what: technician category
// scopes and the external maintenance offices the municipality contracts.
package assignment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"civicreport_backend/internal/reports/domain"
	"civicreport_backend/platform/apperr"
)

// ExternalOffice is a contracted maintenance organization. Its members log
// in with the external_maintainer role and see the internal thread of
// reports assigned to their office.
type ExternalOffice struct {
	ID         uuid.UUID         `json:"id"`
	Name       string            `json:"name"`
	Categories []domain.Category `json:"categories"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ResolveTechnicians returns the technicians scoped to a category, in a
// stable order.
func (r *Repository) ResolveTechnicians(ctx context.Context, category domain.Category) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT technician_id FROM technician_categories WHERE category = $1 ORDER BY technician_id`,
		string(category))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// CategoriesFor returns the categories a technician is scoped to.
func (r *Repository) CategoriesFor(ctx context.Context, technicianID uuid.UUID) ([]domain.Category, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT category FROM technician_categories WHERE technician_id = $1 ORDER BY category`,
		technicianID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Category
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, domain.Category(c))
	}
	return out, rows.Err()
}

// SetTechnicianCategories replaces a technician's scope atomically.
func (r *Repository) SetTechnicianCategories(ctx context.Context, technicianID uuid.UUID, categories []domain.Category) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM technician_categories WHERE technician_id = $1`, technicianID); err != nil {
		return err
	}
	for _, c := range categories {
		if _, err := tx.Exec(ctx,
			`INSERT INTO technician_categories (technician_id, category) VALUES ($1, $2)`,
			technicianID, string(c)); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

const officeColumns = `id, name, categories, created_at, updated_at`

func scanOffice(row pgx.Row) (ExternalOffice, error) {
	var o ExternalOffice
	var cats []string
	if err := row.Scan(&o.ID, &o.Name, &cats, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return ExternalOffice{}, err
	}
	for _, c := range cats {
		o.Categories = append(o.Categories, domain.Category(c))
	}
	return o, nil
}

func categoryStrings(categories []domain.Category) []string {
	out := make([]string, 0, len(categories))
	for _, c := range categories {
		out = append(out, string(c))
	}
	return out
}

// CreateOffice registers a new external office.
func (r *Repository) CreateOffice(ctx context.Context, name string, categories []domain.Category) (ExternalOffice, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO external_offices (name, categories) VALUES ($1, $2) RETURNING `+officeColumns,
		name, categoryStrings(categories))
	return scanOffice(row)
}

// UpdateOffice replaces an office's name and category coverage.
func (r *Repository) UpdateOffice(ctx context.Context, id uuid.UUID, name string, categories []domain.Category) (ExternalOffice, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE external_offices SET name = $2, categories = $3, updated_at = now() WHERE id = $1 RETURNING `+officeColumns,
		id, name, categoryStrings(categories))
	office, err := scanOffice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ExternalOffice{}, apperr.NotFound("office not found")
	}
	return office, err
}

// GetOffice loads one office.
func (r *Repository) GetOffice(ctx context.Context, id uuid.UUID) (ExternalOffice, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+officeColumns+` FROM external_offices WHERE id = $1`, id)
	office, err := scanOffice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ExternalOffice{}, apperr.NotFound("office not found")
	}
	return office, err
}

// ListOffices returns all offices ordered by name.
func (r *Repository) ListOffices(ctx context.Context) ([]ExternalOffice, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+officeColumns+` FROM external_offices ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExternalOffice
	for rows.Next() {
		office, err := scanOffice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, office)
	}
	return out, rows.Err()
}

// OfficeServesCategory reports whether the office covers a category.
func (r *Repository) OfficeServesCategory(ctx context.Context, officeID uuid.UUID, category domain.Category) (bool, error) {
	var serves bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM external_offices WHERE id = $1 AND $2 = ANY(categories))`,
		officeID, string(category)).Scan(&serves)
	return serves, err
}

// AddOfficeMember links a user account to an office. Adding an existing
// member is a no-op.
func (r *Repository) AddOfficeMember(ctx context.Context, officeID, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO external_office_members (office_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		officeID, userID)
	return err
}

// RemoveOfficeMember unlinks a user from an office.
func (r *Repository) RemoveOfficeMember(ctx context.Context, officeID, userID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM external_office_members WHERE office_id = $1 AND user_id = $2`,
		officeID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("member not found")
	}
	return nil
}

// ListOfficeMembers returns the user ids linked to an office.
func (r *Repository) ListOfficeMembers(ctx context.Context, officeID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM external_office_members WHERE office_id = $1 ORDER BY user_id`, officeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
