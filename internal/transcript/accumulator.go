// Package transcript turns a stream of speech-to-text call events into an
// ordered, deduplicated dialogue log.
package transcript

import (
	"strings"

	"medivoice/internal/models"
)

// CallState is the lifecycle of a call as seen by the accumulator.
type CallState string

const (
	StateNotStarted CallState = "not_started"
	StateInCall     CallState = "in_call"
	StateEnded      CallState = "ended"
)

// DedupScope selects which finalized utterances a new final is compared against.
type DedupScope int

const (
	// DedupAdjacent drops a final that repeats the last finalized utterance.
	DedupAdjacent DedupScope = iota
	// DedupSession drops a final that repeats any finalized utterance of the call.
	DedupSession
)

// ParseDedupScope maps the config value to a scope, defaulting to DedupAdjacent.
func ParseDedupScope(s string) DedupScope {
	if strings.EqualFold(s, "session") {
		return DedupSession
	}
	return DedupAdjacent
}

type Option func(*Accumulator)

func WithDedupScope(scope DedupScope) Option {
	return func(a *Accumulator) { a.scope = scope }
}

// Accumulator holds the dialogue of a single call. It is not safe for
// concurrent use; one goroutine owns it for the lifetime of the call.
type Accumulator struct {
	scope     DedupScope
	state     CallState
	finalized []models.Utterance
	live      *models.Utterance
	speaking  models.Role
}

func New(opts ...Option) *Accumulator {
	a := &Accumulator{state: StateNotStarted, finalized: []models.Utterance{}}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply feeds one event into the state machine and reports whether it changed
// anything. Events after the call has ended are ignored.
func (a *Accumulator) Apply(ev Event) bool {
	if a.state == StateEnded {
		return false
	}
	switch ev.Kind {
	case EventCallStart:
		if a.state == StateInCall {
			return false
		}
		a.state = StateInCall
		return true
	case EventCallEnd:
		a.state = StateEnded
		a.live = nil
		a.speaking = ""
		return true
	case EventSpeechStart:
		a.speaking = models.RoleAssistant
		return true
	case EventSpeechEnd:
		a.speaking = models.RoleUser
		return true
	case EventPartial:
		if !ev.Role.Valid() {
			return false
		}
		a.state = StateInCall
		a.OnPartial(ev.Role, ev.Text)
		return true
	case EventFinal:
		if !ev.Role.Valid() {
			return false
		}
		a.state = StateInCall
		return a.OnFinal(ev.Role, ev.Text)
	}
	return false
}

// OnPartial replaces the live fragment, whatever role held it before.
func (a *Accumulator) OnPartial(role models.Role, text string) {
	a.live = &models.Utterance{Role: role, Text: text}
	a.speaking = role
}

// OnFinal appends a finalized utterance unless it duplicates one within the
// dedup scope. The live fragment and speaking indicator are always cleared.
// It reports whether the utterance was appended.
func (a *Accumulator) OnFinal(role models.Role, text string) bool {
	a.live = nil
	a.speaking = ""

	u := models.Utterance{Role: role, Text: text}
	if strings.TrimSpace(text) == "" || a.isDuplicate(u) {
		return false
	}
	a.finalized = append(a.finalized, u)
	return true
}

func (a *Accumulator) isDuplicate(u models.Utterance) bool {
	if len(a.finalized) == 0 {
		return false
	}
	if a.scope == DedupAdjacent {
		return a.finalized[len(a.finalized)-1].SameAs(u)
	}
	for _, prev := range a.finalized {
		if prev.SameAs(u) {
			return true
		}
	}
	return false
}

// Utterances returns a copy of the finalized dialogue.
func (a *Accumulator) Utterances() []models.Utterance {
	out := make([]models.Utterance, len(a.finalized))
	copy(out, a.finalized)
	return out
}

// Live returns the pending partial fragment, if any.
func (a *Accumulator) Live() (models.Utterance, bool) {
	if a.live == nil {
		return models.Utterance{}, false
	}
	return *a.live, true
}

func (a *Accumulator) Speaking() models.Role { return a.speaking }

func (a *Accumulator) State() CallState { return a.state }

// Snapshot is a point-in-time copy of the accumulator for readers.
type Snapshot struct {
	State      CallState          `json:"state"`
	Utterances []models.Utterance `json:"utterances"`
	Live       *models.Utterance  `json:"live,omitempty"`
	Speaking   models.Role        `json:"speaking,omitempty"`
}

func (a *Accumulator) Snapshot() Snapshot {
	s := Snapshot{State: a.state, Utterances: a.Utterances(), Speaking: a.speaking}
	if live, ok := a.Live(); ok {
		s.Live = &live
	}
	return s
}

// Render formats utterances one per line as "role: text".
func Render(utterances []models.Utterance) string {
	var b strings.Builder
	for i, u := range utterances {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(u.Role))
		b.WriteString(": ")
		b.WriteString(u.Text)
	}
	return b.String()
}
