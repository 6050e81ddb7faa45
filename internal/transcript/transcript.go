package transcript

import (
	"fmt"
	"strings"
	"time"
)

// Role identifies who authored a turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole converts a wire role into a Role
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser, RoleAssistant:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role: %q", s)
	}
}

// Turn represents a single message in a conversation
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationSummary is one entry of the remote conversation list
type ConversationSummary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Transcript is the ordered list of turns for one conversation.
// Turns are only ever appended; the last turn may be grown in place while
// it is in flight.
type Transcript struct {
	turns []Turn
	// content of the in-flight turn, flushed into turns[len-1] on read
	live     strings.Builder
	inFlight bool
}

// New returns a transcript seeded with the given turns
func New(turns []Turn) *Transcript {
	t := &Transcript{turns: make([]Turn, len(turns))}
	copy(t.turns, turns)
	return t
}

// Len returns the number of turns
func (t *Transcript) Len() int {
	return len(t.turns)
}

// Append adds a settled turn and returns its index
func (t *Transcript) Append(turn Turn) int {
	t.settle()
	t.turns = append(t.turns, turn)
	return len(t.turns) - 1
}

// Open appends an empty in-flight turn for role and returns its index
func (t *Transcript) Open(role Role, at time.Time) int {
	idx := t.Append(Turn{Role: role, Timestamp: at})
	t.live.Reset()
	t.inFlight = true
	return idx
}

// InFlight reports whether the last turn is still growing
func (t *Transcript) InFlight() bool {
	return t.inFlight
}

// Grow appends text to the in-flight turn and returns the new content length.
// Cost is amortized O(len(text)); earlier turns are never touched.
func (t *Transcript) Grow(text string) (int, error) {
	if !t.inFlight {
		return 0, fmt.Errorf("no turn in flight")
	}
	t.live.WriteString(text)
	return t.live.Len(), nil
}

// Replace overwrites the in-flight turn's content and settles it
func (t *Transcript) Replace(content string) error {
	if !t.inFlight {
		return fmt.Errorf("no turn in flight")
	}
	t.live.Reset()
	t.live.WriteString(content)
	t.settle()
	return nil
}

// Settle freezes the in-flight turn, if any
func (t *Transcript) Settle() {
	t.settle()
}

func (t *Transcript) settle() {
	if !t.inFlight {
		return
	}
	t.turns[len(t.turns)-1].Content = t.live.String()
	t.live.Reset()
	t.inFlight = false
}

// At returns a copy of the turn at index i
func (t *Transcript) At(i int) Turn {
	turn := t.turns[i]
	if t.inFlight && i == len(t.turns)-1 {
		turn.Content = t.live.String()
	}
	return turn
}

// Turns returns a copy of every turn, including in-flight content
func (t *Transcript) Turns() []Turn {
	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	if t.inFlight && len(out) > 0 {
		out[len(out)-1].Content = t.live.String()
	}
	return out
}
