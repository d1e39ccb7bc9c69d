package timetable

import "fmt"

// Time is a timestamp in minutes relative to the first day of the
// schedule period. Trains running on later days carry an offset of
// day*MinutesPerDay.
type Time int

const (
	// Invalid marks an unset timestamp.
	Invalid Time = -1

	// MinutesPerDay is the day offset between two runnings of a daily trip.
	MinutesPerDay = 1440
)

// Valid reports whether t is a real timestamp.
func (t Time) Valid() bool { return t != Invalid }

// Day returns the schedule day index of t.
func (t Time) Day() int { return int(t) / MinutesPerDay }

// String formats t as d.HH:MM.
func (t Time) String() string {
	if !t.Valid() {
		return "INVALID"
	}
	m := int(t)
	return fmt.Sprintf("%d.%02d:%02d", m/MinutesPerDay, (m%MinutesPerDay)/60, m%60)
}
