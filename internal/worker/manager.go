// Package worker owns the live side of consultations: one goroutine per
// active call applying transcript events in order, and a pool of report
// workers fed by a per-user fair dispatcher.
package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"medivoice/internal/models"
	"medivoice/internal/pipeline"
	"medivoice/internal/redis"
	"medivoice/internal/transcript"
)

var (
	// ErrReportInFlight is returned when the session already has a report being generated.
	ErrReportInFlight = errors.New("report generation already in progress")
	// ErrCallInProgress is returned when a report is requested before the call ended.
	ErrCallInProgress = errors.New("call still in progress")
	// ErrCallClosed is returned when events arrive for a session whose call is over.
	ErrCallClosed = errors.New("call already ended")
	// ErrCallBusy is returned when the call's event queue is full.
	ErrCallBusy = errors.New("call event queue full")
)

// SessionStore is the persistence the manager needs.
type SessionStore interface {
	GetSession(ctx context.Context, userID int64, sessionID string) (*models.Session, error)
	SetSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus) error
	UpdateSessionReport(ctx context.Context, sessionID string, report *models.MedicalReport, conversation []models.Utterance) error
	LatestHealthNote(ctx context.Context, userID int64, sessionID string) (string, error)
}

// ReportGenerator turns a finished conversation into a report.
type ReportGenerator interface {
	GenerateReport(ctx context.Context, sessionID string, sc *pipeline.SessionContext, utterances []models.Utterance) (*models.MedicalReport, error)
}

// GeneratorFunc resolves the report generator for a user, typically by
// picking the user's own provider key over the configured one.
type GeneratorFunc func(ctx context.Context, userID int64) (ReportGenerator, error)

// ReportRequest asks for a report on one session. A nil Utterances uses the
// live call transcript, or the stored conversation when no call is live.
// An empty HealthNote falls back to the latest note saved on the session.
type ReportRequest struct {
	UserID     int64
	SessionID  string
	Utterances []models.Utterance
	HealthNote string
}

type reportResult struct {
	report *models.MedicalReport
	err    error
}

type reportTask struct {
	ctx        context.Context
	userID     int64
	sessionID  string
	sc         *pipeline.SessionContext
	utterances []models.Utterance
	resultCh   chan reportResult
}

type Manager struct {
	store      SessionStore
	generator  GeneratorFunc
	cache      *stateRedis
	accOpts    []transcript.Option
	dispatcher *Dispatcher

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	calls    map[string]*callState
	inflight map[string]struct{}
	stopped  bool
}

// NewManager starts the report dispatcher. cache may be nil.
func NewManager(store SessionStore, generator GeneratorFunc, cache *redis.Client, cfg DispatcherConfig, opts ...transcript.Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:     store,
		generator: generator,
		accOpts:   opts,
		ctx:       ctx,
		cancel:    cancel,
		calls:     make(map[string]*callState),
		inflight:  make(map[string]struct{}),
	}
	if cache != nil {
		m.cache = newStateCache(cache)
	}
	m.dispatcher = NewDispatcher(cfg, m.handleJob, m.rejectJob)
	m.cache.startListener(ctx, func(inv invalidateMessage) {
		m.dropCall(inv.SessionID)
	})
	return m
}

// ApplyEvents feeds events to the session's call in order and returns the
// view after they were applied. The first call on a session starts its call
// goroutine.
func (m *Manager) ApplyEvents(ctx context.Context, userID int64, sessionID string, events []transcript.Event) (*CallView, error) {
	st, err := m.ensureCall(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	task := eventTask{events: events, resultCh: make(chan CallView, 1)}
	select {
	case st.eventCh <- task:
	case <-st.done:
		return m.liveView(st), nil
	default:
		return nil, ErrCallBusy
	}
	select {
	case view := <-task.resultCh:
		return &view, nil
	case <-st.done:
		// The call ended before this batch ran; later events are ignored.
		return m.liveView(st), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) ensureCall(ctx context.Context, userID int64, sessionID string) (*callState, error) {
	if st := m.getCall(sessionID); st != nil {
		if st.userID != userID {
			return nil, sql.ErrNoRows
		}
		return st, nil
	}

	sess, err := m.store.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != models.StatusNotStarted && sess.Status != models.StatusInCall {
		return nil, fmt.Errorf("%w: session is %s", ErrCallClosed, sess.Status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil, ErrStopped
	}
	if st, ok := m.calls[sessionID]; ok {
		return st, nil
	}
	acc := transcript.New(m.accOpts...)
	if sess.Status == models.StatusInCall {
		// Resume a call this process did not see start.
		acc.Apply(transcript.CallStart())
	}
	st := newCallState(userID, sessionID, acc)
	m.calls[sessionID] = st
	go m.runCall(st)
	return st, nil
}

// runCall is the only writer of the call's accumulator.
func (m *Manager) runCall(st *callState) {
	defer close(st.done)
	for {
		select {
		case <-st.stopCh:
			return
		case task := <-st.eventCh:
			view, ended := m.applyEvents(st, task.events)
			task.resultCh <- view
			if ended {
				go m.autoReport(st)
				return
			}
		}
	}
}

func (m *Manager) applyEvents(st *callState, events []transcript.Event) (CallView, bool) {
	before, after, snap := st.apply(events)
	if before == transcript.StateNotStarted && after != transcript.StateNotStarted {
		m.transition(m.ctx, st.sessionID, models.StatusInCall, nil)
	}
	if before != transcript.StateEnded && after == transcript.StateEnded {
		m.transition(m.ctx, st.sessionID, models.StatusEnded, nil)
	}
	m.cache.saveSnapshot(st.userID, st.sessionID, snap)
	return CallView{
		SessionID: st.sessionID,
		Status:    statusFor(after, false),
		Snapshot:  snap,
	}, after == transcript.StateEnded
}

func (m *Manager) autoReport(st *callState) {
	_, err := m.GenerateReport(m.ctx, ReportRequest{UserID: st.userID, SessionID: st.sessionID})
	if err != nil {
		logger.Warn().Err(err).Str("session_id", st.sessionID).Msg("automatic report failed")
	}
}

// transition persists status and publishes it. Failures are logged; callers
// that must react to them check the returned error.
func (m *Manager) transition(ctx context.Context, sessionID string, status models.SessionStatus, cause error) error {
	if err := m.store.SetSessionStatus(ctx, sessionID, status); err != nil {
		logger.Warn().Err(err).Str("session_id", sessionID).Str("status", string(status)).Msg("set session status")
		return err
	}
	m.cache.publishStatus(sessionID, status, cause)
	return nil
}

// View returns the call as currently known: the live accumulator when this
// process owns the call, otherwise the cached or stored conversation.
func (m *Manager) View(ctx context.Context, userID int64, sessionID string) (*CallView, error) {
	if st := m.getCall(sessionID); st != nil {
		if st.userID != userID {
			return nil, sql.ErrNoRows
		}
		return m.liveView(st), nil
	}
	sess, err := m.store.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	view := &CallView{
		SessionID: sessionID,
		Status:    sess.Status,
		Snapshot: transcript.Snapshot{
			State:      callStateFor(sess.Status),
			Utterances: sess.Conversation,
		},
	}
	if len(sess.Conversation) == 0 {
		if cached, ok := m.cache.loadSnapshot(userID, sessionID); ok {
			view.Snapshot = cached
		}
	}
	return view, nil
}

func (m *Manager) liveView(st *callState) *CallView {
	snap := st.snapshot()
	return &CallView{
		SessionID: st.sessionID,
		Status:    statusFor(snap.State, m.isInflight(st.sessionID)),
		Snapshot:  snap,
	}
}

// GenerateReport runs the report pipeline for a session on the worker pool
// and waits for it. The job keeps running if ctx is cancelled, so the stored
// status always settles on ready or failed.
func (m *Manager) GenerateReport(ctx context.Context, req ReportRequest) (*models.MedicalReport, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, models.Missing("sessionId")
	}
	sess, err := m.store.GetSession(ctx, req.UserID, req.SessionID)
	if err != nil {
		return nil, err
	}
	st := m.getCall(req.SessionID)
	if st != nil && st.state() != transcript.StateEnded {
		return nil, ErrCallInProgress
	}
	if !m.claim(req.SessionID) {
		return nil, ErrReportInFlight
	}

	utterances := req.Utterances
	if utterances == nil {
		if st != nil {
			utterances = st.snapshot().Utterances
		} else {
			utterances = sess.Conversation
		}
	}
	note := strings.TrimSpace(req.HealthNote)
	if note == "" {
		if note, err = m.store.LatestHealthNote(ctx, req.UserID, req.SessionID); err != nil {
			logger.Warn().Err(err).Str("session_id", req.SessionID).Msg("load health note")
			note = ""
		}
	}
	doctor := sess.SelectedDoctor

	if err := m.transition(ctx, req.SessionID, models.StatusReportPending, nil); err != nil {
		m.release(req.SessionID)
		return nil, err
	}

	task := &reportTask{
		ctx:        context.WithoutCancel(ctx),
		userID:     req.UserID,
		sessionID:  req.SessionID,
		sc:         &pipeline.SessionContext{Doctor: &doctor, Notes: sess.Notes, HealthNote: note},
		utterances: utterances,
		resultCh:   make(chan reportResult, 1),
	}
	if err := m.dispatcher.Submit(Job{Type: Report, Report: task}); err != nil {
		m.finishReport(task, nil, err)
		return nil, err
	}

	select {
	case res := <-task.resultCh:
		return res.report, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) handleJob(job Job) {
	switch job.Type {
	case Report:
		rep, err := m.runReport(job.Report)
		m.finishReport(job.Report, rep, err)
	default:
		logger.Warn().Stringer("job", job.Type).Msg("unexpected job")
	}
}

func (m *Manager) rejectJob(job Job, err error) {
	if job.Type == Report && job.Report != nil {
		m.finishReport(job.Report, nil, err)
	}
}

func (m *Manager) runReport(task *reportTask) (*models.MedicalReport, error) {
	gen, err := m.generator(task.ctx, task.userID)
	if err != nil {
		return nil, fmt.Errorf("resolve report generator: %w", err)
	}
	rep, err := gen.GenerateReport(task.ctx, task.sessionID, task.sc, task.utterances)
	if err != nil {
		return nil, err
	}
	if err := m.store.UpdateSessionReport(task.ctx, task.sessionID, rep, task.utterances); err != nil {
		return nil, fmt.Errorf("save report: %w", err)
	}
	return rep, nil
}

// finishReport settles the stored status, frees the session for another
// report and answers the waiting caller.
func (m *Manager) finishReport(task *reportTask, rep *models.MedicalReport, err error) {
	if err != nil {
		logger.Warn().Err(err).Str("session_id", task.sessionID).Msg("report generation failed")
		m.transition(task.ctx, task.sessionID, models.StatusReportFailed, err)
	} else {
		logger.Info().Str("session_id", task.sessionID).Int("utterances", len(task.utterances)).Msg("report ready")
		m.cache.publishStatus(task.sessionID, models.StatusReportReady, nil)
	}
	m.removeEndedCall(task.sessionID)
	m.release(task.sessionID)
	task.resultCh <- reportResult{report: rep, err: err}
}

func (m *Manager) claim(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inflight[sessionID]; busy {
		return false
	}
	m.inflight[sessionID] = struct{}{}
	return true
}

func (m *Manager) release(sessionID string) {
	m.mu.Lock()
	delete(m.inflight, sessionID)
	m.mu.Unlock()
}

func (m *Manager) isInflight(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.inflight[sessionID]
	return ok
}

func (m *Manager) getCall(sessionID string) *callState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[sessionID]
}

// removeEndedCall forgets a finished call once its transcript is persisted.
func (m *Manager) removeEndedCall(sessionID string) {
	m.mu.Lock()
	st, ok := m.calls[sessionID]
	if ok && st.state() == transcript.StateEnded {
		delete(m.calls, sessionID)
	}
	m.mu.Unlock()
	if ok {
		m.cache.invalidateSnapshot(sessionID)
	}
}

func (m *Manager) dropCall(sessionID string) {
	m.mu.Lock()
	st, ok := m.calls[sessionID]
	delete(m.calls, sessionID)
	m.mu.Unlock()
	if ok {
		st.stop()
	}
}

// Purge stops a session's live call here and on every other instance.
// Call it after the session was deleted.
func (m *Manager) Purge(sessionID string) {
	m.dropCall(sessionID)
	m.cache.invalidateSnapshot(sessionID)
	m.cache.publishInvalidation(sessionID)
}

// CancelUser drops the user's queued reports and live calls.
func (m *Manager) CancelUser(userID int64) {
	for _, job := range m.dispatcher.CancelUser(userID) {
		m.rejectJob(job, context.Canceled)
	}
	m.mu.Lock()
	var owned []*callState
	for id, st := range m.calls {
		if st.userID == userID {
			owned = append(owned, st)
			delete(m.calls, id)
		}
	}
	m.mu.Unlock()
	for _, st := range owned {
		st.stop()
	}
}

// Stop ends every live call and the report pool.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	calls := m.calls
	m.calls = make(map[string]*callState)
	m.mu.Unlock()

	for _, st := range calls {
		st.stop()
	}
	m.dispatcher.Stop()
	m.cancel()
}
