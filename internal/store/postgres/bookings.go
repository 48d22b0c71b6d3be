package postgres

import (
	"context"
	"fmt"
	"time"

	"appointment-chat/internal/domain"
	"appointment-chat/internal/scheduling"
)

func (s *Store) BookedSlots(ctx context.Context, date time.Time) ([]scheduling.TimeOfDay, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	q := `SELECT to_char(slot_time, 'HH24:MI') FROM appointment_slots
	      WHERE appointment_date = $1::date AND is_booked ORDER BY slot_time`
	rows, err := s.DB.Query(ctx, q, scheduling.FormatDate(date))
	if err != nil {
		return nil, fmt.Errorf("postgres: booked slots: %w", err)
	}
	defer rows.Close()

	var out []scheduling.TimeOfDay
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		t, err := scheduling.ParseTimeOfDay(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// InsertBooking relies on UNIQUE(appointment_date, slot_time): a second
// insert for the same pair affects no rows and reports ErrSlotTaken.
func (s *Store) InsertBooking(ctx context.Context, b domain.Booking) error {
	ctx, cancel := s.op(ctx)
	defer cancel()

	q := `INSERT INTO appointment_slots (id, appointment_date, slot_time, holder, is_booked, created_at)
	      VALUES ($1, $2::date, CAST($3::text AS time), $4, $5, $6)
	      ON CONFLICT (appointment_date, slot_time) DO NOTHING`
	tag, err := s.DB.Exec(ctx, q, b.ID, scheduling.FormatDate(b.Date), b.Slot, b.Holder, b.Booked, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scheduling.ErrSlotTaken
	}
	return nil
}

func (s *Store) BookingsByHolder(ctx context.Context, holder string) ([]domain.Booking, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	q := `SELECT id::text, appointment_date, to_char(slot_time, 'HH24:MI'), holder, is_booked, created_at
	      FROM appointment_slots WHERE holder = $1
	      ORDER BY appointment_date, slot_time`
	rows, err := s.DB.Query(ctx, q, holder)
	if err != nil {
		return nil, fmt.Errorf("postgres: bookings by holder: %w", err)
	}
	defer rows.Close()

	out := []domain.Booking{}
	for rows.Next() {
		var b domain.Booking
		if err := rows.Scan(&b.ID, &b.Date, &b.Slot, &b.Holder, &b.Booked, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
