// Package memstore keeps users, profiles, bookings, turns and feedback in
// process memory. It backs STORE=memory and the unit tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"appointment-chat/internal/auth"
	"appointment-chat/internal/domain"
	"appointment-chat/internal/scheduling"
	"appointment-chat/internal/session"
)

type slotKey struct {
	date string
	slot string
}

type turnKey struct {
	handle    string
	sessionID string
}

type Store struct {
	mu       sync.Mutex
	users    map[string]domain.User
	profiles map[string]domain.Profile
	bookings map[slotKey]domain.Booking
	turns    map[turnKey][]domain.Turn
	sessions map[string][]string
	feedback []domain.Feedback

	// Fail, when set, is returned by every operation. Tests use it to
	// simulate an unreachable store.
	Fail error
}

func New() *Store {
	return &Store{
		users:    make(map[string]domain.User),
		profiles: make(map[string]domain.Profile),
		bookings: make(map[slotKey]domain.Booking),
		turns:    make(map[turnKey][]domain.Turn),
		sessions: make(map[string][]string),
	}
}

func (s *Store) SetFail(err error) {
	s.mu.Lock()
	s.Fail = err
	s.mu.Unlock()
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Fail
}

// ----- credentials -----

func (s *Store) Register(ctx context.Context, handle, secret string) error {
	hash, err := auth.HashPassword(secret)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	if _, ok := s.users[handle]; ok {
		return session.ErrHandleTaken
	}
	s.users[handle] = domain.User{Handle: handle, PasswordHash: hash, CreatedAt: time.Now().UTC()}
	return nil
}

func (s *Store) Verify(ctx context.Context, handle, secret string) (bool, error) {
	s.mu.Lock()
	if s.Fail != nil {
		s.mu.Unlock()
		return false, s.Fail
	}
	u, ok := s.users[handle]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	return auth.CheckPassword(u.PasswordHash, secret), nil
}

// ----- profiles -----

func (s *Store) UpsertProfile(ctx context.Context, p domain.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	p.UpdatedAt = time.Now().UTC()
	s.profiles[p.Handle] = p
	return nil
}

func (s *Store) GetProfile(ctx context.Context, handle string) (domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return domain.Profile{}, s.Fail
	}
	p, ok := s.profiles[handle]
	if !ok {
		return domain.Profile{}, session.ErrProfileNotFound
	}
	return p, nil
}

// ----- bookings -----

func (s *Store) BookedSlots(ctx context.Context, date time.Time) ([]scheduling.TimeOfDay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	day := scheduling.FormatDate(date)
	var out []scheduling.TimeOfDay
	for k, b := range s.bookings {
		if k.date != day || !b.Booked {
			continue
		}
		t, err := scheduling.ParseTimeOfDay(k.slot)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// InsertBooking checks and writes under one lock, so the (date, slot) key
// can only ever be claimed once.
func (s *Store) InsertBooking(ctx context.Context, b domain.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	k := slotKey{date: scheduling.FormatDate(b.Date), slot: b.Slot}
	if existing, ok := s.bookings[k]; ok && existing.Booked {
		return scheduling.ErrSlotTaken
	}
	s.bookings[k] = b
	return nil
}

func (s *Store) BookingsByHolder(ctx context.Context, holder string) ([]domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	out := []domain.Booking{}
	for _, b := range s.bookings {
		if b.Holder == holder {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Slot < out[j].Slot
	})
	return out, nil
}

// ----- history -----

func (s *Store) ListSessions(ctx context.Context, handle string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	return append([]string{}, s.sessions[handle]...), nil
}

func (s *Store) ReadTurns(ctx context.Context, handle, sessionID string) ([]domain.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	turns := append([]domain.Turn{}, s.turns[turnKey{handle, sessionID}]...)
	sort.SliceStable(turns, func(i, j int) bool { return turns[i].Seq < turns[j].Seq })
	return turns, nil
}

func (s *Store) AppendTurn(ctx context.Context, t domain.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	k := turnKey{t.Handle, t.SessionID}
	for _, prev := range s.turns[k] {
		if prev.Seq == t.Seq {
			return fmt.Errorf("memstore: turn %s/%s#%d already stored", t.Handle, t.SessionID, t.Seq)
		}
	}
	if _, ok := s.turns[k]; !ok {
		s.sessions[t.Handle] = append(s.sessions[t.Handle], t.SessionID)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	s.turns[k] = append(s.turns[k], t)
	return nil
}

// ----- feedback -----

func (s *Store) SaveFeedback(ctx context.Context, f domain.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	s.feedback = append(s.feedback, f)
	return nil
}

func (s *Store) Feedback() []domain.Feedback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Feedback(nil), s.feedback...)
}
