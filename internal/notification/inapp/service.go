package inapp

import (
	"context"

	"civicreport_backend/platform/logger"

	"github.com/google/uuid"
)

// Pusher delivers a notification to the recipient's live sessions, if any.
// Delivery is best-effort; persistence is the source of truth.
type Pusher interface {
	Push(userID uuid.UUID, n Notification)
}

// Service persists notifications and forwards them to live sessions.
type Service struct {
	store  Store
	pusher Pusher
	log    *logger.Logger
}

func NewService(store Store, pusher Pusher, log *logger.Logger) *Service {
	return &Service{store: store, pusher: pusher, log: log}
}

// Deliver persists the notification and, when the row is newly written,
// pushes it to the recipient's open sessions. A redispatch that hits the
// dedup constraint skips the push so a recipient never sees the same event
// twice on one connection. The bool result reports whether this call wrote
// the row.
func (s *Service) Deliver(ctx context.Context, p CreateParams) (Notification, bool, error) {
	n, created, err := s.store.Create(ctx, p)
	if err != nil {
		return Notification{}, false, err
	}

	if created && s.pusher != nil {
		s.pusher.Push(n.RecipientID, n)
	}

	return n, created, nil
}

// ListUnread returns the recipient's unread notifications in delivery order.
func (s *Service) ListUnread(ctx context.Context, userID uuid.UUID) ([]Notification, error) {
	return s.store.ListUnread(ctx, userID)
}

// List returns a page of the recipient's notifications, newest first.
func (s *Service) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Notification, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.List(ctx, userID, limit, offset)
}

// CountUnread returns the recipient's unread count.
func (s *Service) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.store.CountUnread(ctx, userID)
}

// MarkRead marks a single notification as read. Repeated calls are no-ops.
func (s *Service) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	return s.store.MarkRead(ctx, userID, notificationID)
}

// MarkAllRead marks every unread notification for the recipient as read.
func (s *Service) MarkAllRead(ctx context.Context, userID uuid.UUID) error {
	return s.store.MarkAllRead(ctx, userID)
}
