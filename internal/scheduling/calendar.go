package scheduling

import (
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// TimeOfDay is a wall-clock time expressed as minutes after midnight.
type TimeOfDay int

func At(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// On places t on the calendar date of day in loc.
func (t TimeOfDay) On(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, loc)
}

// timeLayouts are the accepted clock formats: "HH:MM" and the
// "HH:MM:SS[.ffffff]" form Postgres renders TIME columns in. time.Parse takes
// the optional fraction after the seconds on its own.
var timeLayouts = []string{"15:04", "15:04:05"}

// ParseTimeOfDay accepts only the whole of one of timeLayouts.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		tt, err := time.Parse(layout, s)
		if err == nil {
			return At(tt.Hour(), tt.Minute()), nil
		}
	}
	return 0, fmt.Errorf("invalid time string: %q", s)
}

// ParseDate parses a YYYY-MM-DD calendar date into UTC midnight.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return d, nil
}

// DateOf strips the clock from t, keeping t's calendar date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}

// Rule is the fixed daily scheduling rule: slots every Interval from Start
// (inclusive) to End (exclusive), skipping [BreakStart, BreakEnd).
type Rule struct {
	Start      TimeOfDay
	End        TimeOfDay
	Interval   time.Duration
	BreakStart TimeOfDay
	BreakEnd   TimeOfDay
}

// DefaultRule is the clinic's working window: 09:00-17:00 in 30 minute
// slots with lunch at 13:00-14:00.
var DefaultRule = Rule{
	Start:      At(9, 0),
	End:        At(17, 0),
	Interval:   30 * time.Minute,
	BreakStart: At(13, 0),
	BreakEnd:   At(14, 0),
}

// Placement says where a requested slot falls relative to a Rule.
type Placement int

const (
	SlotInWindow Placement = iota
	SlotOutsideWindow
	SlotInBreak
)

func (r Rule) step() int {
	return int(r.Interval / time.Minute)
}

func (r Rule) inBreak(t TimeOfDay) bool {
	return t >= r.BreakStart && t < r.BreakEnd
}

// SlotsFor returns every bookable slot start for date in ascending order.
// The rule is the same every day, so date does not change the result; it is
// never nil.
func (r Rule) SlotsFor(date time.Time) []TimeOfDay {
	slots := []TimeOfDay{}
	step := r.step()
	if step <= 0 {
		return slots
	}
	for t := r.Start; t < r.End; t += TimeOfDay(step) {
		if r.inBreak(t) {
			continue
		}
		slots = append(slots, t)
	}
	return slots
}

// Classify reports whether t is a bookable slot start under r. The break is
// checked first so that any time inside lunch reports SlotInBreak.
func (r Rule) Classify(t TimeOfDay) Placement {
	if r.inBreak(t) {
		return SlotInBreak
	}
	step := r.step()
	if step <= 0 || t < r.Start || t >= r.End || int(t-r.Start)%step != 0 {
		return SlotOutsideWindow
	}
	return SlotInWindow
}

// SlotsFor applies DefaultRule.
func SlotsFor(date time.Time) []TimeOfDay {
	return DefaultRule.SlotsFor(date)
}
