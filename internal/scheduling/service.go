package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"appointment-chat/internal/apperr"
	"appointment-chat/internal/domain"
	"appointment-chat/internal/logger"
)

// ErrSlotTaken is returned by a BookingStore when the (date, slot) pair
// already holds a booking. Stores must detect this atomically with the write.
var ErrSlotTaken = errors.New("scheduling: slot already booked")

// BookingStore persists bookings. InsertBooking must be a single conditional
// write: it either stores b or returns ErrSlotTaken, never both for one key.
type BookingStore interface {
	BookedSlots(ctx context.Context, date time.Time) ([]TimeOfDay, error)
	InsertBooking(ctx context.Context, b domain.Booking) error
	BookingsByHolder(ctx context.Context, holder string) ([]domain.Booking, error)
}

// Mirror receives confirmed bookings after they are committed, e.g. to copy
// them into an external calendar. Calls run in the background under their
// own deadline, so a slow mirror never delays Reserve.
type Mirror interface {
	BookingConfirmed(ctx context.Context, b domain.Booking) error
}

type Outcome int

const (
	Confirmed Outcome = iota + 1
	AlreadyBooked
	OutsideWindow
	LunchExcluded
	StorageUnavailable
)

var outcomeNames = map[Outcome]string{
	Confirmed:          "confirmed",
	AlreadyBooked:      "already_booked",
	OutsideWindow:      "outside_window",
	LunchExcluded:      "lunch_excluded",
	StorageUnavailable: "storage_unavailable",
}

func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return "unknown"
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Message is the user-facing text for an outcome.
func (o Outcome) Message() string {
	switch o {
	case Confirmed:
		return "Appointment booked successfully."
	case AlreadyBooked:
		return "This slot is already booked. Please choose another available slot."
	case OutsideWindow:
		return "Appointments can only be booked on the half hour between 09:00 and 17:00."
	case LunchExcluded:
		return "No appointments can be booked during lunch time from 13:00 to 14:00."
	case StorageUnavailable:
		return "We could not reach the booking calendar. Please try again shortly."
	default:
		return "Unexpected booking result."
	}
}

const defaultMirrorTimeout = 10 * time.Second

type Service struct {
	store         BookingStore
	rule          Rule
	mirror        Mirror
	mirrorTimeout time.Duration
	mirrors       sync.WaitGroup
	log           *logger.Logger
	now           func() time.Time
	newID         func() string
}

type Option func(*Service)

func WithRule(r Rule) Option {
	return func(s *Service) { s.rule = r }
}

func WithMirror(m Mirror) Option {
	return func(s *Service) { s.mirror = m }
}

// WithMirrorTimeout bounds each mirror call.
func WithMirrorTimeout(d time.Duration) Option {
	return func(s *Service) { s.mirrorTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store BookingStore, log *logger.Logger, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("scheduling: booking store must not be nil")
	}
	if log == nil {
		log = logger.Nop()
	}
	s := &Service{
		store:         store,
		rule:          DefaultRule,
		mirrorTimeout: defaultMirrorTimeout,
		log:           log.With("component", "SchedulingService"),
		now:           time.Now,
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.mirrorTimeout <= 0 {
		s.mirrorTimeout = defaultMirrorTimeout
	}
	return s, nil
}

func (s *Service) Rule() Rule { return s.rule }

// AvailableSlots is SlotsFor(date) minus the slots already booked, in order.
// A store failure is reported, never mistaken for "nothing free".
func (s *Service) AvailableSlots(ctx context.Context, date time.Time) ([]TimeOfDay, error) {
	date = DateOf(date)
	booked, err := s.store.BookedSlots(ctx, date)
	if err != nil {
		s.log.Warn("booked slots lookup failed", "date", FormatDate(date), "error", err)
		return nil, apperr.Unavailable("booked_slots_lookup", err)
	}
	taken := make(map[TimeOfDay]struct{}, len(booked))
	for _, t := range booked {
		taken[t] = struct{}{}
	}
	all := s.rule.SlotsFor(date)
	free := make([]TimeOfDay, 0, len(all))
	for _, t := range all {
		if _, ok := taken[t]; !ok {
			free = append(free, t)
		}
	}
	return free, nil
}

// Reserve books slot on date for holder. Window and lunch checks happen
// before storage is touched; exclusivity is left to the store's conditional
// insert. Reserve never retries.
func (s *Service) Reserve(ctx context.Context, date time.Time, slot TimeOfDay, holder string) (Outcome, error) {
	if holder == "" {
		return 0, apperr.Validation("holder_required")
	}
	switch s.rule.Classify(slot) {
	case SlotInBreak:
		return LunchExcluded, nil
	case SlotOutsideWindow:
		return OutsideWindow, nil
	}

	b := domain.Booking{
		ID:        s.newID(),
		Date:      DateOf(date),
		Slot:      slot.String(),
		Holder:    holder,
		Booked:    true,
		Length:    s.rule.Interval,
		CreatedAt: s.now().UTC(),
	}
	err := s.store.InsertBooking(ctx, b)
	switch {
	case errors.Is(err, ErrSlotTaken):
		s.log.Info("slot already booked", "date", FormatDate(b.Date), "slot", b.Slot, "holder", holder)
		return AlreadyBooked, nil
	case err != nil:
		s.log.Error("booking insert failed", "date", FormatDate(b.Date), "slot", b.Slot, "error", err)
		return StorageUnavailable, apperr.Unavailable("booking_insert", err)
	}

	s.log.Info("booking confirmed", "id", b.ID, "date", FormatDate(b.Date), "slot", b.Slot, "holder", holder)
	if s.mirror != nil {
		s.mirrorAsync(ctx, b)
	}
	return Confirmed, nil
}

// mirrorAsync notifies the mirror on a context detached from the request, so
// the call survives the response but not mirrorTimeout.
func (s *Service) mirrorAsync(ctx context.Context, b domain.Booking) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.mirrorTimeout)
	s.mirrors.Add(1)
	go func() {
		defer s.mirrors.Done()
		defer cancel()
		if err := s.mirror.BookingConfirmed(ctx, b); err != nil {
			s.log.Warn("booking mirror failed", "id", b.ID, "error", err)
		}
	}()
}

// Wait blocks until in-flight mirror calls have finished or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.mirrors.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BookingsFor lists the bookings held by holder ordered by date and slot.
func (s *Service) BookingsFor(ctx context.Context, holder string) ([]domain.Booking, error) {
	if holder == "" {
		return nil, apperr.Validation("holder_required")
	}
	out, err := s.store.BookingsByHolder(ctx, holder)
	if err != nil {
		return nil, apperr.Unavailable("bookings_lookup", fmt.Errorf("holder %s: %w", holder, err))
	}
	return out, nil
}
