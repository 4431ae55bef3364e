package worker

import (
	"sync"

	"medivoice/internal/models"
	"medivoice/internal/transcript"
)

const eventQueueLen = 16

type eventTask struct {
	events   []transcript.Event
	resultCh chan CallView
}

// callState is the live accumulator of one session. Only the call goroutine
// mutates acc; readers take copies under the read lock.
type callState struct {
	userID    int64
	sessionID string

	mu  sync.RWMutex
	acc *transcript.Accumulator

	eventCh  chan eventTask
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newCallState(userID int64, sessionID string, acc *transcript.Accumulator) *callState {
	return &callState{
		userID:    userID,
		sessionID: sessionID,
		acc:       acc,
		eventCh:   make(chan eventTask, eventQueueLen),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// apply feeds events in order and returns the call state before and after.
func (s *callState) apply(events []transcript.Event) (before, after transcript.CallState, snap transcript.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before = s.acc.State()
	for _, ev := range events {
		s.acc.Apply(ev)
	}
	return before, s.acc.State(), s.acc.Snapshot()
}

func (s *callState) snapshot() transcript.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.acc.Snapshot()
}

func (s *callState) state() transcript.CallState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.acc.State()
}

func (s *callState) stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// CallView is what readers see of a session's call.
type CallView struct {
	SessionID string               `json:"session_id"`
	Status    models.SessionStatus `json:"status"`
	transcript.Snapshot
}

func statusFor(state transcript.CallState, reportInFlight bool) models.SessionStatus {
	switch state {
	case transcript.StateInCall:
		return models.StatusInCall
	case transcript.StateEnded:
		if reportInFlight {
			return models.StatusReportPending
		}
		return models.StatusEnded
	default:
		return models.StatusNotStarted
	}
}

func callStateFor(status models.SessionStatus) transcript.CallState {
	switch status {
	case models.StatusNotStarted:
		return transcript.StateNotStarted
	case models.StatusInCall:
		return transcript.StateInCall
	default:
		return transcript.StateEnded
	}
}
