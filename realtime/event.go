package realtime

import (
	"fmt"

	"github.com/theoremus-urban-solutions/timetable-rt/timetable"
)

// ScheduleEvent is the stable external identity of a timetabled event:
// a train arriving at or departing from a station at its originally
// scheduled time. External messages reference events by this identity;
// it never changes, no matter what happens to the live graph.
type ScheduleEvent struct {
	Station   int
	TrainNr   int
	Departure bool
	Time      timetable.Time
}

// Valid reports whether the event identifies anything.
func (e ScheduleEvent) Valid() bool { return e.Time.Valid() && e.Station >= 0 }

// Arrival reports whether this is an arrival event.
func (e ScheduleEvent) Arrival() bool { return !e.Departure }

// Less orders events by scheduled time; ties at the same station put
// the arrival first, ties across stations put the departure first.
func (e ScheduleEvent) Less(o ScheduleEvent) bool {
	if e.Time != o.Time {
		return e.Time < o.Time
	}
	if e.Station == o.Station {
		return !e.Departure && o.Departure
	}
	return e.Departure && !o.Departure
}

func (e ScheduleEvent) String() string {
	kind := "arr"
	if e.Departure {
		kind = "dep"
	}
	return fmt.Sprintf("<SE st=%d tr=%d %s t=%v>", e.Station, e.TrainNr, kind, e.Time)
}

// GraphEvent locates the same real-world event inside the live graph:
// it carries the current (possibly delayed) time and the route id.
// Route == UnknownRoute means the route must be resolved by scanning
// the event's station.
type GraphEvent struct {
	Station   int
	TrainNr   int
	Departure bool
	Time      timetable.Time
	Route     int
}

// UnknownRoute marks a graph event whose route id has not been
// resolved yet.
const UnknownRoute = -1

// Valid reports whether the event identifies anything.
func (e GraphEvent) Valid() bool { return e.Time.Valid() && e.Station >= 0 }

// Arrival reports whether this is an arrival event.
func (e GraphEvent) Arrival() bool { return !e.Departure }

func (e GraphEvent) String() string {
	kind := "arr"
	if e.Departure {
		kind = "dep"
	}
	return fmt.Sprintf("<GE st=%d tr=%d %s t=%v r=%d>", e.Station, e.TrainNr, kind, e.Time, e.Route)
}

// InvalidScheduleEvent is the zero value used for "not found".
var InvalidScheduleEvent = ScheduleEvent{Station: -1, Time: timetable.Invalid}

// InvalidGraphEvent is the zero value used for "not found".
var InvalidGraphEvent = GraphEvent{Station: -1, Time: timetable.Invalid, Route: UnknownRoute}
