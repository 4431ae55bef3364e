package transcript

import (
	"encoding/json"

	"medivoice/internal/models"
)

// EventKind enumerates the call events the accumulator understands.
type EventKind int

const (
	EventCallStart EventKind = iota + 1
	EventCallEnd
	EventPartial
	EventFinal
	EventSpeechStart
	EventSpeechEnd
)

func (k EventKind) String() string {
	switch k {
	case EventCallStart:
		return "call-start"
	case EventCallEnd:
		return "call-end"
	case EventPartial:
		return "partial"
	case EventFinal:
		return "final"
	case EventSpeechStart:
		return "speech-start"
	case EventSpeechEnd:
		return "speech-end"
	default:
		return "unknown"
	}
}

// Event is one typed call event. Role and Text are set for transcript events only.
type Event struct {
	Kind EventKind
	Role models.Role
	Text string
}

func CallStart() Event { return Event{Kind: EventCallStart} }

func CallEnd() Event { return Event{Kind: EventCallEnd} }

func Partial(role models.Role, text string) Event {
	return Event{Kind: EventPartial, Role: role, Text: text}
}

func Final(role models.Role, text string) Event {
	return Event{Kind: EventFinal, Role: role, Text: text}
}

// wireMessage is the message shape emitted by the voice call SDK.
type wireMessage struct {
	Type           string `json:"type"`
	Role           string `json:"role"`
	TranscriptType string `json:"transcriptType"`
	Transcript     string `json:"transcript"`
}

// DecodeEvent converts a raw SDK message into an Event. Messages the
// accumulator does not consume report ok=false.
func DecodeEvent(raw []byte) (Event, bool) {
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Event{}, false
	}
	switch msg.Type {
	case "call-start":
		return CallStart(), true
	case "call-end":
		return CallEnd(), true
	case "speech-start":
		return Event{Kind: EventSpeechStart}, true
	case "speech-end":
		return Event{Kind: EventSpeechEnd}, true
	case "transcript":
		role := models.Role(msg.Role)
		if !role.Valid() {
			return Event{}, false
		}
		switch msg.TranscriptType {
		case "partial":
			return Partial(role, msg.Transcript), true
		case "final":
			return Final(role, msg.Transcript), true
		}
	}
	return Event{}, false
}
