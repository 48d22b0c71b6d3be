package gcal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"appointment-chat/internal/domain"
	"appointment-chat/internal/logger"
	"appointment-chat/internal/scheduling"
)

// Mirror copies confirmed bookings into a Google Calendar as events.
type Mirror struct {
	srv        *calendar.Service
	calendarID string
	loc        *time.Location
	log        *logger.Logger
}

// NewMirror authenticates with a long-lived refresh token obtained through
// the OAuth bootstrap.
func NewMirror(ctx context.Context, o *OAuth, refreshToken, calendarID, tz string, log *logger.Logger) (*Mirror, error) {
	if o == nil || refreshToken == "" {
		return nil, ErrNotConfigured
	}
	client := o.Config.Client(ctx, &oauth2.Token{RefreshToken: refreshToken})
	srv, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("gcal: create calendar service: %w", err)
	}
	return newMirror(srv, calendarID, tz, log)
}

func newMirror(srv *calendar.Service, calendarID, tz string, log *logger.Logger) (*Mirror, error) {
	if srv == nil {
		return nil, errors.New("gcal: calendar service must not be nil")
	}
	if calendarID == "" {
		calendarID = "primary"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("gcal: load timezone %q: %w", tz, err)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Mirror{srv: srv, calendarID: calendarID, loc: loc, log: log.With("component", "CalendarMirror")}, nil
}

func (m *Mirror) BookingConfirmed(ctx context.Context, b domain.Booking) error {
	ev, err := m.eventFor(b)
	if err != nil {
		return err
	}
	created, err := m.srv.Events.Insert(m.calendarID, ev).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("gcal: insert event: %w", err)
	}
	m.log.Info("booking mirrored", "booking_id", b.ID, "event_id", created.Id)
	return nil
}

func (m *Mirror) eventFor(b domain.Booking) (*calendar.Event, error) {
	slot, err := scheduling.ParseTimeOfDay(b.Slot)
	if err != nil {
		return nil, err
	}
	length := b.Length
	if length <= 0 {
		length = scheduling.DefaultRule.Interval
	}
	start := slot.On(b.Date, m.loc)
	end := start.Add(length)
	return &calendar.Event{
		Summary:     fmt.Sprintf("Appointment: %s", b.Holder),
		Description: fmt.Sprintf("Booking %s for %s", b.ID, b.Holder),
		Start:       &calendar.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: m.loc.String()},
		End:         &calendar.EventDateTime{DateTime: end.Format(time.RFC3339), TimeZone: m.loc.String()},
		Status:      "confirmed",
	}, nil
}
