package service

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"

	"civicreport_backend/internal/events"
	"civicreport_backend/internal/reports/domain"
	"civicreport_backend/internal/reports/lifecycle"
	"civicreport_backend/internal/reports/repository"
	"civicreport_backend/platform/apperr"
	"civicreport_backend/platform/logger"
)

// memRepo is an in-memory repository.Repository with the same CAS
// semantics as the SQL implementation.
type memRepo struct {
	mu         sync.Mutex
	seq        int64
	reports    map[uuid.UUID]domain.Report
	rejections map[uuid.UUID]domain.RejectionRecord
	messages   map[uuid.UUID][]domain.Message
	comments   map[uuid.UUID][]domain.InternalComment
	// technicianScope mirrors the commit-time scope check the SQL
	// repository performs for approvals; nil means the scope is populated.
	technicianScope func(domain.Category) bool
}

func newMemRepo() *memRepo {
	return &memRepo{
		reports:    make(map[uuid.UUID]domain.Report),
		rejections: make(map[uuid.UUID]domain.RejectionRecord),
		messages:   make(map[uuid.UUID][]domain.Message),
		comments:   make(map[uuid.UUID][]domain.InternalComment),
	}
}

var _ repository.Repository = (*memRepo)(nil)

func (m *memRepo) nextSeq() int64 {
	m.seq++
	return m.seq
}

func (m *memRepo) Create(_ context.Context, p repository.CreateParams) (domain.Report, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rep := domain.Report{
		ID:            uuid.New(),
		Title:         p.Title,
		Description:   p.Description,
		Category:      p.Category,
		Address:       p.Address,
		Latitude:      p.Latitude,
		Longitude:     p.Longitude,
		Anonymous:     p.Anonymous,
		ReporterID:    p.ReporterID,
		ContactPhone:  p.ContactPhone,
		PhotoRefs:     p.PhotoRefs,
		Status:        domain.StatusPendingApproval,
		TrackingToken: p.TrackingToken,
	}
	m.reports[rep.ID] = rep
	return rep, m.nextSeq(), nil
}

func (m *memRepo) TransitionStatus(_ context.Context, p repository.TransitionParams) (domain.Report, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rep, ok := m.reports[p.ReportID]
	if !ok {
		return domain.Report{}, 0, apperr.NotFound("report not found")
	}
	if rep.Status != p.Expected {
		return domain.Report{}, 0, apperr.Conflict("stale").WithCode(lifecycle.CodeStaleStatus)
	}
	if p.RequireTechniciansFor != "" && m.technicianScope != nil && !m.technicianScope(p.RequireTechniciansFor) {
		return domain.Report{}, 0, lifecycle.NoAssignee(p.RequireTechniciansFor)
	}
	rep.Status = p.Next
	m.reports[rep.ID] = rep
	if p.Next == domain.StatusRejected {
		m.rejections[rep.ID] = domain.RejectionRecord{
			ReportID:   rep.ID,
			OfficerID:  p.ActorID,
			Motivation: p.Motivation,
		}
	}
	return rep, m.nextSeq(), nil
}

func (m *memRepo) AssignOffice(_ context.Context, reportID uuid.UUID, officeID *uuid.UUID, allowed []domain.Status) (domain.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rep, ok := m.reports[reportID]
	if !ok {
		return domain.Report{}, apperr.NotFound("report not found")
	}
	permitted := false
	for _, s := range allowed {
		if rep.Status == s {
			permitted = true
		}
	}
	if !permitted {
		return domain.Report{}, apperr.Conflict("office assignment not allowed").WithCode(lifecycle.CodeStaleStatus)
	}
	rep.ExternalOfficeID = officeID
	m.reports[reportID] = rep
	return rep, nil
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (domain.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rep, ok := m.reports[id]
	if !ok {
		return domain.Report{}, apperr.NotFound("report not found")
	}
	return rep, nil
}

func (m *memRepo) GetByTrackingToken(_ context.Context, token string) (domain.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rep := range m.reports {
		if rep.TrackingToken == token {
			return rep, nil
		}
	}
	return domain.Report{}, apperr.NotFound("report not found")
}

func (m *memRepo) GetRejection(_ context.Context, reportID uuid.UUID) (domain.RejectionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rejections[reportID]
	if !ok {
		return domain.RejectionRecord{}, apperr.NotFound("rejection record not found")
	}
	return rec, nil
}

func (m *memRepo) ListByReporter(_ context.Context, reporterID uuid.UUID, _ repository.ListParams) ([]domain.Report, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Report
	for _, rep := range m.reports {
		if rep.ReporterID == reporterID {
			out = append(out, rep)
		}
	}
	return out, len(out), nil
}

func (m *memRepo) ListByStatus(_ context.Context, status domain.Status, _ repository.ListParams) ([]domain.Report, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Report
	for _, rep := range m.reports {
		if rep.Status == status {
			out = append(out, rep)
		}
	}
	return out, len(out), nil
}

func (m *memRepo) ListByCategories(_ context.Context, categories []domain.Category, statuses []domain.Status, _ repository.ListParams) ([]domain.Report, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Report
	for _, rep := range m.reports {
		catOK := false
		for _, c := range categories {
			if rep.Category == c {
				catOK = true
			}
		}
		statusOK := false
		for _, s := range statuses {
			if rep.Status == s {
				statusOK = true
			}
		}
		if catOK && statusOK {
			out = append(out, rep)
		}
	}
	return out, len(out), nil
}

func (m *memRepo) AddMessage(_ context.Context, reportID, senderID uuid.UUID, body string) (domain.Message, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := domain.Message{ID: uuid.New(), ReportID: reportID, SenderID: senderID, Body: body}
	m.messages[reportID] = append(m.messages[reportID], msg)
	return msg, m.nextSeq(), nil
}

func (m *memRepo) AddInternalComment(_ context.Context, reportID, senderID uuid.UUID, body string) (domain.InternalComment, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmt := domain.InternalComment{ID: uuid.New(), ReportID: reportID, SenderID: senderID, Body: body}
	m.comments[reportID] = append(m.comments[reportID], cmt)
	return cmt, m.nextSeq(), nil
}

func (m *memRepo) ListMessages(_ context.Context, reportID uuid.UUID) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messages[reportID], nil
}

func (m *memRepo) ListInternalComments(_ context.Context, reportID uuid.UUID) ([]domain.InternalComment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.comments[reportID], nil
}

func (m *memRepo) PublicParticipants(_ context.Context, reportID uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

func (m *memRepo) InternalParticipants(_ context.Context, reportID uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

type stubTechnicians struct {
	techs      []uuid.UUID
	categories []domain.Category
}

func (s stubTechnicians) ResolveTechnicians(context.Context, domain.Category) ([]uuid.UUID, error) {
	return s.techs, nil
}

func (s stubTechnicians) CategoriesFor(context.Context, uuid.UUID) ([]domain.Category, error) {
	return s.categories, nil
}

type stubOffices struct {
	serves map[uuid.UUID]bool
}

func (s stubOffices) OfficeServesCategory(_ context.Context, officeID uuid.UUID, _ domain.Category) (bool, error) {
	return s.serves[officeID], nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(_ context.Context, event events.Event) {
	b.PublishSync(context.Background(), event)
}

func (b *recordingBus) PublishSync(_ context.Context, event events.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func (b *recordingBus) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, e := range b.events {
		out = append(out, e.EventName())
	}
	return out
}

func newTestService(techs stubTechnicians, offices stubOffices) (*Service, *memRepo, *recordingBus) {
	repo := newMemRepo()
	bus := &recordingBus{}
	svc := New(repo, bus, techs, offices, logger.New("development"))
	return svc, repo, bus
}

func submitValid(t *testing.T, svc *Service, reporterID uuid.UUID) domain.Report {
	t.Helper()
	rep, err := svc.Submit(context.Background(), SubmitInput{
		Title:       "Lampione spento",
		Description: "Il lampione davanti al civico 12 non funziona da giorni.",
		Category:    domain.CategoryLighting,
		Address:     "Via Garibaldi 12",
		Latitude:    45.07,
		Longitude:   7.68,
		ReporterID:  reporterID,
		PhotoRefs:   []string{"photos/abc123.jpg"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return rep
}

func TestSubmitValidation(t *testing.T) {
	svc, _, _ := newTestService(stubTechnicians{}, stubOffices{})
	reporter := uuid.New()

	cases := []struct {
		name  string
		mutil func(*SubmitInput)
	}{
		{"missing title", func(in *SubmitInput) { in.Title = " " }},
		{"missing photos", func(in *SubmitInput) { in.PhotoRefs = nil }},
		{"unknown category", func(in *SubmitInput) { in.Category = "potholes" }},
		{"bad phone", func(in *SubmitInput) { in.ContactPhone = "not-a-number" }},
		{"no reporter", func(in *SubmitInput) { in.ReporterID = uuid.Nil }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := SubmitInput{
				Title:       "Buca pericolosa",
				Description: "Buca profonda sulla carreggiata.",
				Category:    domain.CategoryRoads,
				Address:     "Corso Francia 1",
				ReporterID:  reporter,
				PhotoRefs:   []string{"photos/x.jpg"},
			}
			tc.mutil(&in)
			if _, err := svc.Submit(context.Background(), in); apperr.GetKind(err) != apperr.KindValidation {
				t.Errorf("want validation error, got %v", err)
			}
		})
	}
}

func TestSubmitStartsPendingWithTrackingToken(t *testing.T) {
	svc, _, bus := newTestService(stubTechnicians{}, stubOffices{})
	rep := submitValid(t, svc, uuid.New())

	if rep.Status != domain.StatusPendingApproval {
		t.Errorf("status = %s, want %s", rep.Status, domain.StatusPendingApproval)
	}
	if rep.TrackingToken == "" {
		t.Error("tracking token missing")
	}
	if names := bus.names(); len(names) != 1 || names[0] != "report.submitted" {
		t.Errorf("published events = %v", names)
	}
}

func TestHappyPathToResolved(t *testing.T) {
	tech := uuid.New()
	svc, repo, bus := newTestService(stubTechnicians{techs: []uuid.UUID{tech}}, stubOffices{})

	rep := submitValid(t, svc, uuid.New())
	officer := uuid.New()

	rep2, err := svc.Approve(context.Background(), rep.ID, officer, domain.RoleOfficer)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if rep2.Status != domain.StatusAssigned {
		t.Fatalf("after approve status = %s", rep2.Status)
	}

	if _, err := svc.StartWork(context.Background(), rep.ID, tech, domain.RoleTechnician); err != nil {
		t.Fatalf("StartWork: %v", err)
	}
	if _, err := svc.Suspend(context.Background(), rep.ID, tech, domain.RoleTechnician); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if _, err := svc.Resume(context.Background(), rep.ID, tech, domain.RoleTechnician); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	final, err := svc.Resolve(context.Background(), rep.ID, tech, domain.RoleTechnician)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if final.Status != domain.StatusResolved {
		t.Fatalf("final status = %s", final.Status)
	}

	stored, _ := repo.GetByID(context.Background(), rep.ID)
	if stored.Status != domain.StatusResolved {
		t.Errorf("stored status = %s", stored.Status)
	}

	names := bus.names()
	wantChanges := 5 // approve, start, suspend, resume, resolve
	changes := 0
	for _, n := range names {
		if n == "report.status_changed" {
			changes++
		}
	}
	if changes != wantChanges {
		t.Errorf("status change events = %d, want %d (%v)", changes, wantChanges, names)
	}
}

func TestApproveWithoutTechniciansLeavesReportUntouched(t *testing.T) {
	svc, repo, _ := newTestService(stubTechnicians{}, stubOffices{})
	rep := submitValid(t, svc, uuid.New())

	_, err := svc.Approve(context.Background(), rep.ID, uuid.New(), domain.RoleOfficer)
	if apperr.GetCode(err) != lifecycle.CodeNoAssigneeAvailable {
		t.Fatalf("want no_assignee_available, got %v", err)
	}

	stored, _ := repo.GetByID(context.Background(), rep.ID)
	if stored.Status != domain.StatusPendingApproval {
		t.Errorf("report mutated on failed approval: %s", stored.Status)
	}
}

func TestApproveFailsWhenScopeEmptiesBeforeCommit(t *testing.T) {
	tech := uuid.New()
	svc, repo, bus := newTestService(stubTechnicians{techs: []uuid.UUID{tech}}, stubOffices{})
	rep := submitValid(t, svc, uuid.New())

	// The directory still answers the pre-check, but the last technician
	// is gone by the time the write lands.
	repo.technicianScope = func(domain.Category) bool { return false }

	_, err := svc.Approve(context.Background(), rep.ID, uuid.New(), domain.RoleOfficer)
	if apperr.GetCode(err) != lifecycle.CodeNoAssigneeAvailable {
		t.Fatalf("want no_assignee_available, got %v", err)
	}

	stored, _ := repo.GetByID(context.Background(), rep.ID)
	if stored.Status != domain.StatusPendingApproval {
		t.Errorf("report mutated on failed approval: %s", stored.Status)
	}
	for _, name := range bus.names() {
		if name == "report.status_changed" {
			t.Error("status change event published for aborted approval")
		}
	}
}

func TestRejectRequiresMotivation(t *testing.T) {
	svc, repo, _ := newTestService(stubTechnicians{}, stubOffices{})
	rep := submitValid(t, svc, uuid.New())

	_, err := svc.Reject(context.Background(), rep.ID, uuid.New(), domain.RoleOfficer, "troppo")
	if apperr.GetKind(err) != apperr.KindValidation {
		t.Fatalf("short motivation: want validation error, got %v", err)
	}
	stored, _ := repo.GetByID(context.Background(), rep.ID)
	if stored.Status != domain.StatusPendingApproval {
		t.Fatalf("report mutated by invalid rejection")
	}

	officer := uuid.New()
	rejected, err := svc.Reject(context.Background(), rep.ID, officer, domain.RoleOfficer, "La segnalazione è un duplicato della n. 42.")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if rejected.Status != domain.StatusRejected {
		t.Errorf("status = %s", rejected.Status)
	}

	rec, err := svc.GetRejection(context.Background(), rep.ID)
	if err != nil {
		t.Fatalf("GetRejection: %v", err)
	}
	if rec.OfficerID != officer {
		t.Errorf("rejection officer = %s, want %s", rec.OfficerID, officer)
	}
}

func TestRoleGates(t *testing.T) {
	tech := uuid.New()
	svc, _, _ := newTestService(stubTechnicians{techs: []uuid.UUID{tech}}, stubOffices{})
	rep := submitValid(t, svc, uuid.New())

	// a technician cannot approve
	if _, err := svc.Approve(context.Background(), rep.ID, tech, domain.RoleTechnician); apperr.GetCode(err) != lifecycle.CodeInvalidTransition {
		t.Errorf("technician approve: want invalid_transition, got %v", err)
	}
	// a citizen cannot start work
	if _, err := svc.StartWork(context.Background(), rep.ID, uuid.New(), domain.RoleCitizen); apperr.GetCode(err) != lifecycle.CodeInvalidTransition {
		t.Errorf("citizen start: want invalid_transition, got %v", err)
	}
}

func TestTerminalStatesAcceptNothing(t *testing.T) {
	tech := uuid.New()
	svc, _, _ := newTestService(stubTechnicians{techs: []uuid.UUID{tech}}, stubOffices{})
	rep := submitValid(t, svc, uuid.New())

	if _, err := svc.Reject(context.Background(), rep.ID, uuid.New(), domain.RoleOfficer, "Non di competenza comunale."); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	if _, err := svc.Approve(context.Background(), rep.ID, uuid.New(), domain.RoleOfficer); apperr.GetCode(err) != lifecycle.CodeInvalidTransition {
		t.Errorf("approve after reject: want invalid_transition, got %v", err)
	}
	if _, err := svc.Resolve(context.Background(), rep.ID, tech, domain.RoleTechnician); apperr.GetCode(err) != lifecycle.CodeInvalidTransition {
		t.Errorf("resolve after reject: want invalid_transition, got %v", err)
	}
}

func TestConcurrentApprovalHasExactlyOneWinner(t *testing.T) {
	tech := uuid.New()
	svc, _, _ := newTestService(stubTechnicians{techs: []uuid.UUID{tech}}, stubOffices{})
	rep := submitValid(t, svc, uuid.New())

	const racers = 8
	errs := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Approve(context.Background(), rep.ID, uuid.New(), domain.RoleOfficer)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		code := apperr.GetCode(err)
		if code != lifecycle.CodeStaleStatus && code != lifecycle.CodeInvalidTransition {
			t.Errorf("unexpected loser error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
}

func TestAssignExternalOffice(t *testing.T) {
	tech := uuid.New()
	goodOffice := uuid.New()
	wrongOffice := uuid.New()
	svc, _, _ := newTestService(
		stubTechnicians{techs: []uuid.UUID{tech}},
		stubOffices{serves: map[uuid.UUID]bool{goodOffice: true, wrongOffice: false}},
	)
	rep := submitValid(t, svc, uuid.New())

	// not while pending
	if _, err := svc.AssignExternalOffice(context.Background(), rep.ID, &goodOffice, domain.RoleOfficer); apperr.GetKind(err) != apperr.KindConflict {
		t.Errorf("assignment while pending: want conflict, got %v", err)
	}

	if _, err := svc.Approve(context.Background(), rep.ID, uuid.New(), domain.RoleOfficer); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	// citizen cannot assign
	if _, err := svc.AssignExternalOffice(context.Background(), rep.ID, &goodOffice, domain.RoleCitizen); apperr.GetKind(err) != apperr.KindForbidden {
		t.Errorf("citizen assign: want forbidden, got %v", err)
	}

	// office must serve the category
	if _, err := svc.AssignExternalOffice(context.Background(), rep.ID, &wrongOffice, domain.RoleOfficer); apperr.GetKind(err) != apperr.KindValidation {
		t.Errorf("wrong office: want validation, got %v", err)
	}

	assigned, err := svc.AssignExternalOffice(context.Background(), rep.ID, &goodOffice, domain.RoleOfficer)
	if err != nil {
		t.Fatalf("AssignExternalOffice: %v", err)
	}
	if assigned.ExternalOfficeID == nil || *assigned.ExternalOfficeID != goodOffice {
		t.Fatalf("office not set: %v", assigned.ExternalOfficeID)
	}

	// null unassigns
	cleared, err := svc.AssignExternalOffice(context.Background(), rep.ID, nil, domain.RoleTechnician)
	if err != nil {
		t.Fatalf("unassign: %v", err)
	}
	if cleared.ExternalOfficeID != nil {
		t.Error("office still set after unassign")
	}
}

func TestThreadVisibility(t *testing.T) {
	svc, _, bus := newTestService(stubTechnicians{}, stubOffices{})
	reporter := uuid.New()
	rep := submitValid(t, svc, reporter)
	stranger := uuid.New()

	// citizen cannot message someone else's report
	if _, err := svc.PostPublicMessage(context.Background(), rep.ID, stranger, domain.RoleCitizen, "ciao"); apperr.GetKind(err) != apperr.KindForbidden {
		t.Errorf("stranger message: want forbidden, got %v", err)
	}

	if _, err := svc.PostPublicMessage(context.Background(), rep.ID, reporter, domain.RoleCitizen, "Ci sono novità?"); err != nil {
		t.Fatalf("reporter message: %v", err)
	}

	// citizens never write or read internal comments
	if _, err := svc.PostInternalComment(context.Background(), rep.ID, reporter, domain.RoleCitizen, "x"); apperr.GetKind(err) != apperr.KindForbidden {
		t.Errorf("citizen internal comment: want forbidden, got %v", err)
	}
	if _, err := svc.ListInternalComments(context.Background(), rep.ID, domain.RoleCitizen); apperr.GetKind(err) != apperr.KindForbidden {
		t.Errorf("citizen internal list: want forbidden, got %v", err)
	}

	officer := uuid.New()
	if _, err := svc.PostInternalComment(context.Background(), rep.ID, officer, domain.RoleOfficer, "Da girare alla squadra strade."); err != nil {
		t.Fatalf("officer internal comment: %v", err)
	}

	var sawMessage, sawComment bool
	for _, n := range bus.names() {
		switch n {
		case "report.message_posted":
			sawMessage = true
		case "report.internal_comment_posted":
			sawComment = true
		}
	}
	if !sawMessage || !sawComment {
		t.Errorf("thread events missing: message=%v comment=%v", sawMessage, sawComment)
	}
}

func TestGetByTrackingToken(t *testing.T) {
	svc, _, _ := newTestService(stubTechnicians{}, stubOffices{})
	rep := submitValid(t, svc, uuid.New())

	found, err := svc.GetByTrackingToken(context.Background(), rep.TrackingToken)
	if err != nil {
		t.Fatalf("GetByTrackingToken: %v", err)
	}
	if found.ID != rep.ID {
		t.Errorf("found %s, want %s", found.ID, rep.ID)
	}

	if _, err := svc.GetByTrackingToken(context.Background(), "nope"); apperr.GetKind(err) != apperr.KindNotFound {
		t.Errorf("unknown token: want not found, got %v", err)
	}
}
