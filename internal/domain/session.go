package domain

import (
	"fmt"
	"time"
)

// State is the position of a user's session in the login/chat/booking flow.
type State int

const (
	StateAnonymous State = iota
	StateProfileIncomplete
	StateChatting
	StateBooking
	StateLoggedOut
)

var stateNames = [...]string{
	StateAnonymous:         "anonymous",
	StateProfileIncomplete: "profile_incomplete",
	StateChatting:          "chatting",
	StateBooking:           "booking",
	StateLoggedOut:         "logged_out",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("domain: unknown state %q", string(b))
}

// Mode is the UI mode derived from State.
type Mode string

const (
	ModeNone    Mode = ""
	ModeChat    Mode = "chat"
	ModeBooking Mode = "booking"
)

func (s State) Mode() Mode {
	switch s {
	case StateChatting:
		return ModeChat
	case StateBooking:
		return ModeBooking
	default:
		return ModeNone
	}
}

// SessionState is the session-local view of one logged-in user. It is owned by
// the session state machine and handed to the dialog router by pointer.
// Past, Generated and Seqs are parallel: Past[i] produced Generated[i] and
// was recorded under sequence number Seqs[i].
type SessionState struct {
	Handle            string        `json:"handle"`
	SessionID         string        `json:"session_id"`
	State             State         `json:"state"`
	Past              []string      `json:"past"`
	Generated         []string      `json:"generated"`
	Seqs              []int64       `json:"seqs"`
	Messages          []ChatMessage `json:"messages"`
	NextSeq           int64         `json:"next_seq"`
	AppointmentBooked bool          `json:"appointment_booked"`
	Greeting          string        `json:"greeting,omitempty"`
	Notice            string        `json:"notice,omitempty"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// NewAnonymous returns the default session-local state.
func NewAnonymous() *SessionState {
	return &SessionState{
		State:     StateAnonymous,
		Past:      []string{},
		Generated: []string{},
		Seqs:      []int64{},
		Messages:  []ChatMessage{},
	}
}

func (s *SessionState) Mode() Mode { return s.State.Mode() }

// Turns returns the in-memory transcript as ordered turns.
func (s *SessionState) Turns() []Turn {
	n := len(s.Past)
	if len(s.Generated) < n {
		n = len(s.Generated)
	}
	out := make([]Turn, 0, n)
	for i := 0; i < n; i++ {
		t := Turn{Handle: s.Handle, SessionID: s.SessionID, Utterance: s.Past[i], Reply: s.Generated[i]}
		if i < len(s.Seqs) {
			t.Seq = s.Seqs[i]
		}
		out = append(out, t)
	}
	return out
}

func (s *SessionState) Clone() *SessionState {
	if s == nil {
		return nil
	}
	c := *s
	c.Past = append([]string{}, s.Past...)
	c.Generated = append([]string{}, s.Generated...)
	c.Seqs = append([]int64{}, s.Seqs...)
	c.Messages = append([]ChatMessage{}, s.Messages...)
	return &c
}
