// Package session owns each user's conversation state and moves it through
// the login, chat, booking and logout flow.
package session

import (
	"fmt"

	"appointment-chat/internal/apperr"
	"appointment-chat/internal/domain"
)

type Event int

const (
	// EventLogin is a successful login for a user without a profile.
	EventLogin Event = iota + 1
	// EventLoginWithProfile is a successful login for a returning user.
	EventLoginWithProfile
	EventProfileSubmitted
	EventBookingIntent
	EventBookingConfirmed
	EventBookingCancelled
	EventLogout
	// EventFeedbackDone covers both submitted and skipped feedback.
	EventFeedbackDone
)

var eventNames = map[Event]string{
	EventLogin:            "login",
	EventLoginWithProfile: "login_with_profile",
	EventProfileSubmitted: "profile_submitted",
	EventBookingIntent:    "booking_intent",
	EventBookingConfirmed: "booking_confirmed",
	EventBookingCancelled: "booking_cancelled",
	EventLogout:           "logout",
	EventFeedbackDone:     "feedback_done",
}

func (e Event) String() string {
	if s, ok := eventNames[e]; ok {
		return s
	}
	return fmt.Sprintf("event(%d)", int(e))
}

var transitions = map[domain.State]map[Event]domain.State{
	domain.StateAnonymous: {
		EventLogin:            domain.StateProfileIncomplete,
		EventLoginWithProfile: domain.StateChatting,
	},
	domain.StateProfileIncomplete: {
		EventProfileSubmitted: domain.StateChatting,
	},
	domain.StateChatting: {
		EventBookingIntent: domain.StateBooking,
		EventLogout:        domain.StateLoggedOut,
	},
	domain.StateBooking: {
		EventBookingConfirmed: domain.StateChatting,
		EventBookingCancelled: domain.StateChatting,
		EventLogout:           domain.StateLoggedOut,
	},
	domain.StateLoggedOut: {
		EventFeedbackDone: domain.StateAnonymous,
	},
}

// Transition returns the state reached from `from` on ev, or a validation
// error when the pair is not in the table.
func Transition(from domain.State, ev Event) (domain.State, error) {
	if to, ok := transitions[from][ev]; ok {
		return to, nil
	}
	return from, apperr.New(apperr.KindValidation, "illegal_transition",
		fmt.Errorf("%s does not accept %s", from, ev))
}

// Allowed lists the events accepted in state s.
func Allowed(s domain.State) []Event {
	var out []Event
	for ev := EventLogin; ev <= EventFeedbackDone; ev++ {
		if _, ok := transitions[s][ev]; ok {
			out = append(out, ev)
		}
	}
	return out
}
