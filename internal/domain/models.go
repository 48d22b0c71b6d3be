package domain

import "time"

type User struct {
	Handle       string    `json:"handle"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

type Profile struct {
	Handle    string    `json:"handle"`
	Name      string    `json:"name"`
	BirthDate time.Time `json:"birth_date"`
	Reason    string    `json:"reason"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Booking is one reserved (date, slot) pair. Rows are never updated in place.
type Booking struct {
	ID        string        `json:"id"`
	Date      time.Time     `json:"date"`
	Slot      string        `json:"slot"`
	Holder    string        `json:"holder"`
	Booked    bool          `json:"booked"`
	// Length is the slot length under the rule that produced the booking.
	// It is not persisted.
	Length    time.Duration `json:"-"`
	CreatedAt time.Time     `json:"created_at,omitempty"`
}

// Turn is one (utterance, reply) exchange. Seq orders turns within a session.
type Turn struct {
	Handle    string    `json:"-"`
	SessionID string    `json:"session_id"`
	Seq       int64     `json:"seq"`
	Utterance string    `json:"utterance"`
	Reply     string    `json:"reply"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

type Feedback struct {
	Handle    string    `json:"handle"`
	Text      string    `json:"feedback"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// ChatMessage is the provider-agnostic message shape sent to text generators.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
