// Package adapter bridges the auth bounded context to consumers in other
// domains without exposing auth internals.
package adapter

import (
	"context"

	"github.com/google/uuid"

	"civicreport_backend/internal/auth/repository"
	"civicreport_backend/internal/notification"
)

// ContactProvider resolves user email contacts for the notification
// dispatcher's offline fallback.
type ContactProvider struct {
	repo *repository.Repository
}

func NewContactProvider(repo *repository.Repository) *ContactProvider {
	return &ContactProvider{repo: repo}
}

func (p *ContactProvider) GetContact(ctx context.Context, userID uuid.UUID) (notification.Contact, error) {
	user, err := p.repo.GetUserByID(ctx, userID)
	if err != nil {
		return notification.Contact{}, err
	}
	return notification.Contact{Email: user.Email, DisplayName: user.DisplayName}, nil
}

var _ notification.ContactReader = (*ContactProvider)(nil)
