package gcal

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"appointment-chat/internal/domain"
)

func testBooking() domain.Booking {
	return domain.Booking{
		ID:     "b-1",
		Date:   time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC),
		Slot:   "14:30",
		Holder: "alice",
		Booked: true,
	}
}

func TestEventFor(t *testing.T) {
	srv, err := calendar.NewService(context.Background(), option.WithoutAuthentication(), option.WithEndpoint("http://localhost/"))
	require.NoError(t, err)
	m, err := newMirror(srv, "", "UTC", nil)
	require.NoError(t, err)
	require.Equal(t, "primary", m.calendarID)

	ev, err := m.eventFor(testBooking())
	require.NoError(t, err)
	require.Equal(t, "Appointment: alice", ev.Summary)
	require.Equal(t, "2024-06-10T14:30:00Z", ev.Start.DateTime)
	require.Equal(t, "2024-06-10T15:00:00Z", ev.End.DateTime)
}

func TestEventForUsesBookingLength(t *testing.T) {
	srv, err := calendar.NewService(context.Background(), option.WithoutAuthentication(), option.WithEndpoint("http://localhost/"))
	require.NoError(t, err)
	m, err := newMirror(srv, "", "UTC", nil)
	require.NoError(t, err)

	b := testBooking()
	b.Length = 45 * time.Minute
	ev, err := m.eventFor(b)
	require.NoError(t, err)
	require.Equal(t, "2024-06-10T15:15:00Z", ev.End.DateTime)
}

func TestBookingConfirmedInsertsEvent(t *testing.T) {
	var (
		path string
		got  calendar.Event
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"evt-1"}`))
	}))
	defer ts.Close()

	srv, err := calendar.NewService(context.Background(), option.WithoutAuthentication(), option.WithEndpoint(ts.URL+"/"))
	require.NoError(t, err)
	m, err := newMirror(srv, "clinic@example.com", "UTC", nil)
	require.NoError(t, err)

	require.NoError(t, m.BookingConfirmed(context.Background(), testBooking()))
	require.True(t, strings.HasSuffix(path, "/calendars/clinic@example.com/events"), path)
	require.Equal(t, "Appointment: alice", got.Summary)
}

func TestBookingConfirmedRejectsBadSlot(t *testing.T) {
	srv, err := calendar.NewService(context.Background(), option.WithoutAuthentication(), option.WithEndpoint("http://localhost/"))
	require.NoError(t, err)
	m, err := newMirror(srv, "", "UTC", nil)
	require.NoError(t, err)
	b := testBooking()
	b.Slot = "soon"
	require.Error(t, m.BookingConfirmed(context.Background(), b))
}

func TestOAuth(t *testing.T) {
	require.Nil(t, NewOAuth("", "secret", "http://localhost/cb"))
	var missing *OAuth
	_, _, err := missing.AuthURL()
	require.ErrorIs(t, err, ErrNotConfigured)

	o := NewOAuth("id", "secret", "http://localhost/oauth2callback")
	url, state, err := o.AuthURL()
	require.NoError(t, err)
	require.Len(t, state, 32)
	require.Contains(t, url, "state="+state)
	require.Contains(t, url, "access_type=offline")
}
