package inapp

import (
	"context"
	"fmt"
	"testing"

	"civicreport_backend/platform/logger"

	"github.com/google/uuid"
)

type stubStore struct {
	rows  map[string]Notification
	reads map[uuid.UUID]int
}

func newStubStore() *stubStore {
	return &stubStore{rows: make(map[string]Notification), reads: make(map[uuid.UUID]int)}
}

func (s *stubStore) Create(_ context.Context, p CreateParams) (Notification, bool, error) {
	key := fmt.Sprintf("%s/%d", p.RecipientID, p.OutboxSeq)
	if existing, ok := s.rows[key]; ok {
		return existing, false, nil
	}
	n := Notification{
		ID:          uuid.New(),
		RecipientID: p.RecipientID,
		ReportID:    p.ReportID,
		Kind:        p.Kind,
		Message:     p.Message,
		OutboxSeq:   p.OutboxSeq,
	}
	s.rows[key] = n
	return n, true, nil
}

func (s *stubStore) ListUnread(context.Context, uuid.UUID) ([]Notification, error) { return nil, nil }
func (s *stubStore) List(context.Context, uuid.UUID, int, int) ([]Notification, int, error) {
	return nil, 0, nil
}
func (s *stubStore) CountUnread(context.Context, uuid.UUID) (int, error) { return 0, nil }
func (s *stubStore) MarkRead(_ context.Context, _ uuid.UUID, id uuid.UUID) error {
	s.reads[id]++
	return nil
}
func (s *stubStore) MarkAllRead(context.Context, uuid.UUID) error { return nil }

type recordingPusher struct {
	pushes []Notification
}

func (p *recordingPusher) Push(_ uuid.UUID, n Notification) {
	p.pushes = append(p.pushes, n)
}

func TestDeliverPushesOnlyNewRows(t *testing.T) {
	store := newStubStore()
	pusher := &recordingPusher{}
	svc := NewService(store, pusher, logger.New("development"))

	params := CreateParams{
		RecipientID: uuid.New(),
		ReportID:    uuid.New(),
		Kind:        KindStatusUpdate,
		Message:     "La segnalazione è stata presa in carico.",
		OutboxSeq:   1,
	}

	first, created, err := svc.Deliver(context.Background(), params)
	if err != nil {
		t.Fatalf("first Deliver: %v", err)
	}
	if !created {
		t.Fatal("first Deliver should create the row")
	}

	second, created, err := svc.Deliver(context.Background(), params)
	if err != nil {
		t.Fatalf("second Deliver: %v", err)
	}
	if created {
		t.Fatal("second Deliver must dedup, not create")
	}
	if second.ID != first.ID {
		t.Error("dedup should return the original row")
	}

	if len(pusher.pushes) != 1 {
		t.Fatalf("pushed %d times, want exactly 1", len(pusher.pushes))
	}
}

func TestMarkReadRepeatable(t *testing.T) {
	store := newStubStore()
	svc := NewService(store, nil, logger.New("development"))

	userID := uuid.New()
	notifID := uuid.New()

	for i := 0; i < 3; i++ {
		if err := svc.MarkRead(context.Background(), userID, notifID); err != nil {
			t.Fatalf("MarkRead call %d: %v", i, err)
		}
	}
	if store.reads[notifID] != 3 {
		t.Fatalf("store saw %d mark-read calls, want 3", store.reads[notifID])
	}
}
