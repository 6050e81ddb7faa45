package chat

import (
	"strings"

	"SmargeChat/internal/transcript"
)

// Status is the controller's position in the submit state machine
type Status int

const (
	StatusIdle Status = iota
	StatusSubmitting
	StatusStreaming
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusSubmitting:
		return "submitting"
	case StatusStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// ChangeKind describes what a Change did to the transcript
type ChangeKind int

const (
	// ChangeReset replaced the whole transcript; Turns holds the new content.
	ChangeReset ChangeKind = iota
	// ChangeAppend added Turn at Index.
	ChangeAppend
	// ChangeDelta appended Delta to the in-flight turn at Index.
	ChangeDelta
	// ChangeSettle froze the turn at Index; Turn holds its final content.
	ChangeSettle
	// ChangeFail set the turn at Index to the error reply. Index may equal
	// the previous length when the failure came before any chunk, in which
	// case the turn is new.
	ChangeFail
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeReset:
		return "reset"
	case ChangeAppend:
		return "append"
	case ChangeDelta:
		return "delta"
	case ChangeSettle:
		return "settle"
	case ChangeFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Change is published once per transcript mutation. Apart from
// ChangeReset it never carries more than one turn, so publishing is
// independent of transcript length.
type Change struct {
	Kind           ChangeKind
	Index          int
	Turn           transcript.Turn
	Delta          string
	Turns          []transcript.Turn
	Len            int
	ConversationID string
	Status         Status
	Epoch          uint64
	Err            error
}

// Observer receives every Change in mutation order. Observers run on the
// mutating goroutine with the controller locked and must not call back
// into the Controller.
type Observer interface {
	TranscriptChanged(Change)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Change)

func (f ObserverFunc) TranscriptChanged(ch Change) {
	f(ch)
}

// Mirror rebuilds a transcript from a Change feed. Views and recorders
// keep one instead of calling back into the controller.
type Mirror struct {
	turns          []transcript.Turn
	live           strings.Builder
	liveIndex      int
	conversationID string
	status         Status
}

// NewMirror returns an empty mirror
func NewMirror() *Mirror {
	return &Mirror{liveIndex: -1}
}

// Apply folds one change into the mirror
func (m *Mirror) Apply(ch Change) {
	m.conversationID = ch.ConversationID
	m.status = ch.Status

	switch ch.Kind {
	case ChangeReset:
		m.turns = append(m.turns[:0:0], ch.Turns...)
		m.live.Reset()
		m.liveIndex = -1
	case ChangeAppend:
		m.turns = append(m.turns, ch.Turn)
		m.live.Reset()
		m.live.WriteString(ch.Turn.Content)
		m.liveIndex = ch.Index
	case ChangeDelta:
		if ch.Index == m.liveIndex {
			m.live.WriteString(ch.Delta)
		}
	case ChangeSettle, ChangeFail:
		if ch.Index >= len(m.turns) {
			m.turns = append(m.turns, ch.Turn)
		} else {
			m.turns[ch.Index] = ch.Turn
		}
		m.live.Reset()
		m.liveIndex = -1
	}
}

// Turns returns a copy of the mirrored transcript
func (m *Mirror) Turns() []transcript.Turn {
	out := append([]transcript.Turn(nil), m.turns...)
	if m.liveIndex >= 0 && m.liveIndex < len(out) {
		out[m.liveIndex].Content = m.live.String()
	}
	return out
}

// ConversationID returns the id carried by the last change
func (m *Mirror) ConversationID() string {
	return m.conversationID
}

// Status returns the status carried by the last change
func (m *Mirror) Status() Status {
	return m.status
}
