package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"civicreport_backend/internal/events"
	"civicreport_backend/internal/notification/inapp"
	"civicreport_backend/internal/notification/outbox"
	"civicreport_backend/internal/reports/domain"
	"civicreport_backend/platform/logger"

	"github.com/google/uuid"
)

type testNotificationConfig struct {
	notifyOnSuspend bool
}

func (c testNotificationConfig) GetAppBaseURL() string          { return "https://segnalazioni.example.com" }
func (c testNotificationConfig) GetNotifyCitizenOnSuspend() bool { return c.notifyOnSuspend }

// fakeStore is an in-memory inapp.Store enforcing the same (seq, recipient)
// dedup constraint as the real table.
type fakeStore struct {
	mu   sync.Mutex
	rows map[string]inapp.Notification
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]inapp.Notification)}
}

func dedupKey(seq int64, recipient uuid.UUID) string {
	return fmt.Sprintf("%d/%s", seq, recipient)
}

func (s *fakeStore) Create(_ context.Context, p inapp.CreateParams) (inapp.Notification, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dedupKey(p.OutboxSeq, p.RecipientID)
	if existing, ok := s.rows[key]; ok {
		return existing, false, nil
	}
	n := inapp.Notification{
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

func (s *fakeStore) ListUnread(_ context.Context, userID uuid.UUID) ([]inapp.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []inapp.Notification
	for _, n := range s.rows {
		if n.RecipientID == userID && !n.IsRead {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *fakeStore) List(_ context.Context, userID uuid.UUID, _, _ int) ([]inapp.Notification, int, error) {
	items, _ := s.ListUnread(context.Background(), userID)
	return items, len(items), nil
}

func (s *fakeStore) CountUnread(_ context.Context, userID uuid.UUID) (int, error) {
	items, _ := s.ListUnread(context.Background(), userID)
	return len(items), nil
}

func (s *fakeStore) MarkRead(_ context.Context, userID, notificationID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, n := range s.rows {
		if n.ID == notificationID && n.RecipientID == userID {
			n.IsRead = true
			s.rows[key] = n
		}
	}
	return nil
}

func (s *fakeStore) MarkAllRead(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, n := range s.rows {
		if n.RecipientID == userID {
			n.IsRead = true
			s.rows[key] = n
		}
	}
	return nil
}

func (s *fakeStore) recipients() map[uuid.UUID]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[uuid.UUID]int)
	for _, n := range s.rows {
		counts[n.RecipientID]++
	}
	return counts
}

type fakeLedger struct {
	records   map[int64]outbox.Record
	succeeded []int64
	failed    []int64
	pending   []int64
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{records: make(map[int64]outbox.Record)}
}

func (l *fakeLedger) GetBySeq(_ context.Context, seq int64) (outbox.Record, error) {
	rec, ok := l.records[seq]
	if !ok {
		return outbox.Record{}, errors.New("no such row")
	}
	return rec, nil
}

func (l *fakeLedger) MarkSucceeded(_ context.Context, seq int64) error {
	l.succeeded = append(l.succeeded, seq)
	if rec, ok := l.records[seq]; ok {
		rec.Status = outbox.StatusSucceeded
		l.records[seq] = rec
	}
	return nil
}

func (l *fakeLedger) MarkFailed(_ context.Context, seq int64, _ string) error {
	l.failed = append(l.failed, seq)
	if rec, ok := l.records[seq]; ok {
		rec.Status = outbox.StatusFailed
		l.records[seq] = rec
	}
	return nil
}

func (l *fakeLedger) MarkPending(_ context.Context, seq int64, _ *string) error {
	l.pending = append(l.pending, seq)
	return nil
}

type fakeTechnicians struct {
	byCategory map[domain.Category][]uuid.UUID
	err        error
}

func (f fakeTechnicians) ResolveTechnicians(_ context.Context, category domain.Category) ([]uuid.UUID, error) {
	return f.byCategory[category], f.err
}

type fakeParticipants struct {
	public   []uuid.UUID
	internal []uuid.UUID
}

func (f fakeParticipants) PublicParticipants(context.Context, uuid.UUID) ([]uuid.UUID, error) {
	return f.public, nil
}

func (f fakeParticipants) InternalParticipants(context.Context, uuid.UUID) ([]uuid.UUID, error) {
	return f.internal, nil
}

type fakeContacts struct {
	emails map[uuid.UUID]string
}

func (f fakeContacts) GetContact(_ context.Context, userID uuid.UUID) (Contact, error) {
	return Contact{Email: f.emails[userID]}, nil
}

type fakeSummaries struct{}

func (fakeSummaries) GetReportSummary(context.Context, uuid.UUID) (ReportSummary, error) {
	return ReportSummary{Title: "Buca in via Roma", TrackingToken: "trk-1"}, nil
}

type countingSender struct {
	received      int
	statusUpdates int
	newMessages   int
}

func (s *countingSender) SendReportReceivedEmail(context.Context, string, string, string) error {
	s.received++
	return nil
}

func (s *countingSender) SendStatusUpdateEmail(context.Context, string, string, string, string) error {
	s.statusUpdates++
	return nil
}

func (s *countingSender) SendNewMessageEmail(context.Context, string, string, string, string) error {
	s.newMessages++
	return nil
}

func (s *countingSender) SendVerificationEmail(context.Context, string, string) error {
	return nil
}

func (s *countingSender) SendPasswordResetEmail(context.Context, string, string) error {
	return nil
}

func newTestModule(cfg testNotificationConfig, sender *countingSender) (*Module, *fakeStore, *fakeLedger) {
	store := newFakeStore()
	ledger := newFakeLedger()
	log := logger.New("development")

	m := New(nil, sender, cfg, log)
	m.inAppService = inapp.NewService(store, nil, log)
	m.ledger = ledger
	m.contacts = fakeContacts{emails: map[uuid.UUID]string{}}
	m.summaries = fakeSummaries{}
	return m, store, ledger
}

func TestStatusChangeNotifiesReporterAndCategoryScope(t *testing.T) {
	sender := &countingSender{}
	m, store, ledger := newTestModule(testNotificationConfig{}, sender)

	reporter := uuid.New()
	officer := uuid.New()
	techA := uuid.New()
	techB := uuid.New()
	m.technicians = fakeTechnicians{byCategory: map[domain.Category][]uuid.UUID{
		domain.CategoryRoads: {techA, techB},
	}}

	e := events.ReportStatusChanged{
		ReportID:       uuid.New(),
		ReporterID:     reporter,
		Category:       domain.CategoryRoads,
		PreviousStatus: domain.StatusPendingApproval,
		NewStatus:      domain.StatusAssigned,
		ActorID:        officer,
		ActorRole:      domain.RoleOfficer,
		OutboxSeq:      7,
	}
	if err := m.handleReportStatusChanged(context.Background(), e); err != nil {
		t.Fatalf("handleReportStatusChanged: %v", err)
	}

	counts := store.recipients()
	for _, want := range []uuid.UUID{reporter, techA, techB} {
		if counts[want] != 1 {
			t.Errorf("recipient %s got %d notifications, want 1", want, counts[want])
		}
	}
	if counts[officer] != 0 {
		t.Errorf("actor must not be notified, got %d", counts[officer])
	}
	if len(ledger.succeeded) != 1 || ledger.succeeded[0] != 7 {
		t.Errorf("outbox row not marked succeeded: %v", ledger.succeeded)
	}
}

func TestStatusChangeFanOutIsIdempotent(t *testing.T) {
	sender := &countingSender{}
	m, store, _ := newTestModule(testNotificationConfig{}, sender)

	reporter := uuid.New()
	m.technicians = fakeTechnicians{}
	m.contacts = fakeContacts{emails: map[uuid.UUID]string{reporter: "citizen@example.com"}}

	e := events.ReportStatusChanged{
		ReportID:       uuid.New(),
		ReporterID:     reporter,
		Category:       domain.CategoryLighting,
		PreviousStatus: domain.StatusInProgress,
		NewStatus:      domain.StatusResolved,
		ActorID:        uuid.New(),
		ActorRole:      domain.RoleTechnician,
		OutboxSeq:      11,
	}

	for i := 0; i < 3; i++ {
		if err := m.handleReportStatusChanged(context.Background(), e); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	if got := store.recipients()[reporter]; got != 1 {
		t.Errorf("reporter has %d rows after redispatch, want exactly 1", got)
	}
	if sender.statusUpdates != 1 {
		t.Errorf("offline email sent %d times, want exactly 1", sender.statusUpdates)
	}
}

func TestSuspendNotificationGatedByPolicy(t *testing.T) {
	cases := []struct {
		name   string
		notify bool
		want   int
	}{
		{"policy off", false, 0},
		{"policy on", true, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, store, _ := newTestModule(testNotificationConfig{notifyOnSuspend: tc.notify}, &countingSender{})
			m.technicians = fakeTechnicians{}

			reporter := uuid.New()
			e := events.ReportStatusChanged{
				ReportID:       uuid.New(),
				ReporterID:     reporter,
				Category:       domain.CategoryWaste,
				PreviousStatus: domain.StatusInProgress,
				NewStatus:      domain.StatusSuspended,
				ActorID:        uuid.New(),
				ActorRole:      domain.RoleExternalMaintainer,
				OutboxSeq:      3,
			}
			if err := m.handleReportStatusChanged(context.Background(), e); err != nil {
				t.Fatalf("handleReportStatusChanged: %v", err)
			}
			if got := store.recipients()[reporter]; got != tc.want {
				t.Errorf("reporter notifications = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestPublicMessageExcludesSender(t *testing.T) {
	m, store, _ := newTestModule(testNotificationConfig{}, &countingSender{})

	reporter := uuid.New()
	officer := uuid.New()
	m.participants = fakeParticipants{public: []uuid.UUID{reporter, officer}}

	e := events.PublicMessagePosted{
		ReportID:   uuid.New(),
		MessageID:  uuid.New(),
		SenderID:   officer,
		ReporterID: reporter,
		Category:   domain.CategoryParks,
		Body:       "Intervento programmato per domani.",
		OutboxSeq:  21,
	}
	if err := m.handlePublicMessagePosted(context.Background(), e); err != nil {
		t.Fatalf("handlePublicMessagePosted: %v", err)
	}

	counts := store.recipients()
	if counts[reporter] != 1 {
		t.Errorf("reporter notifications = %d, want 1", counts[reporter])
	}
	if counts[officer] != 0 {
		t.Errorf("sender must not be notified, got %d", counts[officer])
	}
}

func TestInternalCommentNeverReachesCitizen(t *testing.T) {
	m, store, _ := newTestModule(testNotificationConfig{}, &countingSender{})

	reporter := uuid.New()
	techA := uuid.New()
	techB := uuid.New()
	maintainer := uuid.New()
	m.technicians = fakeTechnicians{byCategory: map[domain.Category][]uuid.UUID{
		domain.CategoryWater: {techA, techB},
	}}
	// reporter sneaking into the participant set must still be filtered
	m.participants = fakeParticipants{internal: []uuid.UUID{maintainer, techA, reporter}}

	e := events.InternalCommentPosted{
		ReportID:   uuid.New(),
		CommentID:  uuid.New(),
		SenderID:   techA,
		ReporterID: reporter,
		Category:   domain.CategoryWater,
		Body:       "Serve l'autospurgo, non basta la squadra.",
		OutboxSeq:  33,
	}
	if err := m.handleInternalCommentPosted(context.Background(), e); err != nil {
		t.Fatalf("handleInternalCommentPosted: %v", err)
	}

	counts := store.recipients()
	if counts[reporter] != 0 {
		t.Fatalf("citizen received an internal comment notification")
	}
	if counts[techA] != 0 {
		t.Errorf("sender must not be notified, got %d", counts[techA])
	}
	for _, want := range []uuid.UUID{techB, maintainer} {
		if counts[want] != 1 {
			t.Errorf("staff recipient %s got %d notifications, want 1", want, counts[want])
		}
	}
}

func TestDispatchSkipsSettledRows(t *testing.T) {
	m, _, ledger := newTestModule(testNotificationConfig{}, &countingSender{})

	payload, _ := json.Marshal(events.ReportStatusChanged{})
	ledger.records[5] = outbox.Record{
		Seq:     5,
		Kind:    events.ReportStatusChanged{}.EventName(),
		Payload: payload,
		Status:  outbox.StatusSucceeded,
	}

	if err := m.Dispatch(context.Background(), 5); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(ledger.succeeded) != 0 {
		t.Errorf("settled row was re-marked: %v", ledger.succeeded)
	}
}

func TestDispatchParksExhaustedRows(t *testing.T) {
	m, _, ledger := newTestModule(testNotificationConfig{}, &countingSender{})
	m.technicians = fakeTechnicians{err: errors.New("scope lookup down")}

	payload, _ := json.Marshal(events.ReportStatusChanged{
		ReportID:       uuid.New(),
		ReporterID:     uuid.New(),
		Category:       domain.CategoryRoads,
		PreviousStatus: domain.StatusPendingApproval,
		NewStatus:      domain.StatusAssigned,
		OutboxSeq:      9,
	})
	ledger.records[9] = outbox.Record{
		Seq:      9,
		Kind:     events.ReportStatusChanged{}.EventName(),
		Payload:  payload,
		Status:   outbox.StatusPending,
		Attempts: maxDispatchAttempts,
	}

	if err := m.Dispatch(context.Background(), 9); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(ledger.failed) != 1 || ledger.failed[0] != 9 {
		t.Errorf("exhausted row not parked as failed: %v", ledger.failed)
	}
}

func TestDispatchReturnsRowToPendingOnTransientError(t *testing.T) {
	m, _, ledger := newTestModule(testNotificationConfig{}, &countingSender{})
	m.technicians = fakeTechnicians{err: errors.New("scope lookup down")}

	payload, _ := json.Marshal(events.ReportStatusChanged{
		PreviousStatus: domain.StatusPendingApproval,
		NewStatus:      domain.StatusAssigned,
		ReporterID:     uuid.New(),
	})
	ledger.records[4] = outbox.Record{
		Seq:      4,
		Kind:     events.ReportStatusChanged{}.EventName(),
		Payload:  payload,
		Status:   outbox.StatusPending,
		Attempts: 1,
	}

	if err := m.Dispatch(context.Background(), 4); err == nil {
		t.Fatal("expected transient error to propagate")
	}
	if len(ledger.pending) != 1 || ledger.pending[0] != 4 {
		t.Errorf("row not returned to pending: %v", ledger.pending)
	}
}
