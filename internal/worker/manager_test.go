package worker

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"medivoice/internal/models"
	"medivoice/internal/pipeline"
	"medivoice/internal/transcript"
)

type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	history  map[string][]models.SessionStatus
	note     string
}

func newFakeStore(sessions ...*models.Session) *fakeStore {
	s := &fakeStore{
		sessions: make(map[string]*models.Session),
		history:  make(map[string][]models.SessionStatus),
	}
	for _, sess := range sessions {
		s.sessions[sess.SessionID] = sess
	}
	return s
}

func (s *fakeStore) GetSession(_ context.Context, userID int64, sessionID string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.UserID != userID {
		return nil, sql.ErrNoRows
	}
	cp := *sess
	return &cp, nil
}

func (s *fakeStore) SetSessionStatus(_ context.Context, sessionID string, status models.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return sql.ErrNoRows
	}
	if !sess.Status.CanTransition(status) {
		return errors.New("invalid transition")
	}
	sess.Status = status
	s.history[sessionID] = append(s.history[sessionID], status)
	return nil
}

func (s *fakeStore) UpdateSessionReport(_ context.Context, sessionID string, report *models.MedicalReport, conversation []models.Utterance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return sql.ErrNoRows
	}
	sess.Report = report
	sess.Conversation = conversation
	sess.Status = models.StatusReportReady
	s.history[sessionID] = append(s.history[sessionID], models.StatusReportReady)
	return nil
}

func (s *fakeStore) LatestHealthNote(context.Context, int64, string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.note, nil
}

func (s *fakeStore) status(sessionID string) models.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[sessionID].Status
}

func (s *fakeStore) statusHistory(sessionID string) []models.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.SessionStatus(nil), s.history[sessionID]...)
}

type fakeGenerator struct {
	mu         sync.Mutex
	calls      int
	gate       chan struct{}
	err        error
	utterances []models.Utterance
	sc         *pipeline.SessionContext
}

func (g *fakeGenerator) GenerateReport(_ context.Context, sessionID string, sc *pipeline.SessionContext, utterances []models.Utterance) (*models.MedicalReport, error) {
	g.mu.Lock()
	g.calls++
	g.utterances = utterances
	g.sc = sc
	gate, err := g.gate, g.err
	g.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return &models.MedicalReport{SessionID: sessionID, ChiefComplaint: "headache"}, nil
}

func (g *fakeGenerator) last() ([]models.Utterance, *pipeline.SessionContext) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.utterances, g.sc
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func newSession(id string, userID int64, status models.SessionStatus) *models.Session {
	return &models.Session{
		SessionID:      id,
		UserID:         userID,
		Notes:          "headache for two days",
		SelectedDoctor: models.DoctorAgent{ID: 1, Specialist: "General Physician"},
		Conversation:   []models.Utterance{},
		Status:         status,
	}
}

func newTestManager(t *testing.T, store SessionStore, gen *fakeGenerator) *Manager {
	t.Helper()
	m := NewManager(store, func(context.Context, int64) (ReportGenerator, error) {
		return gen, nil
	}, nil, DispatcherConfig{MinWorkers: 1, MaxWorkers: 2, QueueSize: 8})
	t.Cleanup(m.Stop)
	return m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestManagerCallEndTriggersReport(t *testing.T) {
	store := newFakeStore(newSession("s-1", 7, models.StatusNotStarted))
	store.note = "sleeps badly"
	gen := &fakeGenerator{}
	m := newTestManager(t, store, gen)
	ctx := context.Background()

	view, err := m.ApplyEvents(ctx, 7, "s-1", []transcript.Event{
		transcript.CallStart(),
		transcript.Partial(models.RoleUser, "I have"),
		transcript.Final(models.RoleUser, "I have a headache"),
		transcript.Final(models.RoleAssistant, "How long?"),
		transcript.Final(models.RoleAssistant, "How long?"),
		transcript.Partial(models.RoleUser, "two"),
	})
	if err != nil {
		t.Fatalf("apply events: %v", err)
	}
	if view.Status != models.StatusInCall || view.State != transcript.StateInCall {
		t.Fatalf("unexpected view status %s/%s", view.Status, view.State)
	}
	if len(view.Utterances) != 2 {
		t.Fatalf("expected 2 utterances, got %d", len(view.Utterances))
	}
	if view.Live == nil || view.Live.Text != "two" {
		t.Fatalf("expected live fragment, got %+v", view.Live)
	}

	if _, err := m.GenerateReport(ctx, ReportRequest{UserID: 7, SessionID: "s-1"}); !errors.Is(err, ErrCallInProgress) {
		t.Fatalf("expected ErrCallInProgress, got %v", err)
	}

	view, err = m.ApplyEvents(ctx, 7, "s-1", []transcript.Event{transcript.CallEnd()})
	if err != nil {
		t.Fatalf("end call: %v", err)
	}
	if view.State != transcript.StateEnded || view.Live != nil {
		t.Fatalf("call should be ended without live fragment: %+v", view)
	}

	waitFor(t, "report ready", func() bool {
		return store.status("s-1") == models.StatusReportReady && m.getCall("s-1") == nil
	})

	want := []models.SessionStatus{models.StatusInCall, models.StatusEnded, models.StatusReportPending, models.StatusReportReady}
	got := store.statusHistory("s-1")
	if len(got) != len(want) {
		t.Fatalf("status history mismatch: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("status history mismatch: %v", got)
		}
	}
	sess, _ := store.GetSession(ctx, 7, "s-1")
	if sess.Report == nil || sess.Report.SessionID != "s-1" {
		t.Fatalf("report not stored: %+v", sess.Report)
	}
	if len(sess.Conversation) != 2 {
		t.Fatalf("conversation not stored: %+v", sess.Conversation)
	}
	if _, sc := gen.last(); sc == nil || sc.HealthNote != "sleeps badly" || sc.Doctor.ID != 1 {
		t.Fatalf("unexpected session context: %+v", sc)
	}

	// Events after the call ended cannot reopen it.
	if _, err := m.ApplyEvents(ctx, 7, "s-1", []transcript.Event{transcript.CallStart()}); !errors.Is(err, ErrCallClosed) {
		t.Fatalf("expected ErrCallClosed, got %v", err)
	}
}

func TestManagerReportFailureThenRetry(t *testing.T) {
	sess := newSession("s-2", 3, models.StatusEnded)
	sess.Conversation = []models.Utterance{{Role: models.RoleUser, Text: "my knee hurts"}}
	store := newFakeStore(sess)
	gen := &fakeGenerator{err: errors.New("upstream 500")}
	m := newTestManager(t, store, gen)
	ctx := context.Background()

	if _, err := m.GenerateReport(ctx, ReportRequest{UserID: 3, SessionID: "s-2"}); err == nil {
		t.Fatalf("expected report failure")
	}
	if got := store.status("s-2"); got != models.StatusReportFailed {
		t.Fatalf("expected report_failed, got %s", got)
	}

	gen.mu.Lock()
	gen.err = nil
	gen.mu.Unlock()
	rep, err := m.GenerateReport(ctx, ReportRequest{UserID: 3, SessionID: "s-2", HealthNote: "bp 120/80"})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if rep.ChiefComplaint != "headache" {
		t.Fatalf("unexpected report %+v", rep)
	}
	if store.status("s-2") != models.StatusReportReady {
		t.Fatalf("expected report_ready after retry")
	}
	if utterances, sc := gen.last(); len(utterances) != 1 || sc.HealthNote != "bp 120/80" {
		t.Fatalf("retry used wrong input: %+v %+v", utterances, sc)
	}
}

func TestManagerRejectsConcurrentReports(t *testing.T) {
	store := newFakeStore(newSession("s-3", 1, models.StatusEnded))
	gen := &fakeGenerator{gate: make(chan struct{})}
	m := newTestManager(t, store, gen)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := m.GenerateReport(ctx, ReportRequest{UserID: 1, SessionID: "s-3"})
		done <- err
	}()
	waitFor(t, "first report running", func() bool { return gen.callCount() == 1 })

	if _, err := m.GenerateReport(ctx, ReportRequest{UserID: 1, SessionID: "s-3"}); !errors.Is(err, ErrReportInFlight) {
		t.Fatalf("expected ErrReportInFlight, got %v", err)
	}
	view, err := m.View(ctx, 1, "s-3")
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if view.Status != models.StatusReportPending {
		t.Fatalf("expected report_pending view, got %s", view.Status)
	}

	close(gen.gate)
	if err := <-done; err != nil {
		t.Fatalf("first report: %v", err)
	}
	if gen.callCount() != 1 {
		t.Fatalf("generator should run once, ran %d times", gen.callCount())
	}
}

func TestManagerOwnership(t *testing.T) {
	store := newFakeStore(newSession("s-4", 1, models.StatusNotStarted))
	m := newTestManager(t, store, &fakeGenerator{})
	ctx := context.Background()

	if _, err := m.ApplyEvents(ctx, 2, "s-4", []transcript.Event{transcript.CallStart()}); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for foreign session, got %v", err)
	}
	if _, err := m.ApplyEvents(ctx, 1, "s-4", []transcript.Event{transcript.CallStart()}); err != nil {
		t.Fatalf("owner apply: %v", err)
	}
	if _, err := m.View(ctx, 2, "s-4"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for foreign live view, got %v", err)
	}
	if _, err := m.GenerateReport(ctx, ReportRequest{UserID: 1}); err == nil {
		t.Fatalf("expected validation error for missing session id")
	}
}

func TestManagerPurgeStopsCall(t *testing.T) {
	store := newFakeStore(newSession("s-5", 1, models.StatusNotStarted))
	m := newTestManager(t, store, &fakeGenerator{})
	ctx := context.Background()

	if _, err := m.ApplyEvents(ctx, 1, "s-5", []transcript.Event{transcript.CallStart()}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	st := m.getCall("s-5")
	if st == nil {
		t.Fatalf("expected live call")
	}
	m.Purge("s-5")
	select {
	case <-st.done:
	case <-time.After(time.Second):
		t.Fatalf("call goroutine did not stop")
	}
	if m.getCall("s-5") != nil {
		t.Fatalf("call not removed")
	}
}

func TestManagerViewFallsBackToStore(t *testing.T) {
	sess := newSession("s-6", 9, models.StatusReportReady)
	sess.Conversation = []models.Utterance{{Role: models.RoleAssistant, Text: "Hello"}}
	m := newTestManager(t, newFakeStore(sess), &fakeGenerator{})

	view, err := m.View(context.Background(), 9, "s-6")
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if view.Status != models.StatusReportReady || view.State != transcript.StateEnded || len(view.Utterances) != 1 {
		t.Fatalf("unexpected view %+v", view)
	}
}
