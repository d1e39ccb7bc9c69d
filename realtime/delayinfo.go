package realtime

import (
	"fmt"
	"log"

	"github.com/theoremus-urban-solutions/timetable-rt/timetable"
)

// Reason classifies where an event's current time comes from.
type Reason uint8

const (
	// ReasonSchedule - the event still runs as scheduled.
	ReasonSchedule Reason = iota
	// ReasonIs - an authoritative observation; never recomputed.
	ReasonIs
	// ReasonForecast - an external forecast.
	ReasonForecast
	// ReasonPropagation - derived from a causally earlier event.
	ReasonPropagation
	// ReasonRepair - a synthetic correction restoring monotonic times.
	ReasonRepair
)

func (r Reason) String() string {
	switch r {
	case ReasonSchedule:
		return "schedule"
	case ReasonIs:
		return "is"
	case ReasonForecast:
		return "forecast"
	case ReasonPropagation:
		return "propagation"
	case ReasonRepair:
		return "repair"
	}
	return "unknown"
}

// Authoritative reports whether a time with this reason must never be
// overwritten by recomputation.
func (r Reason) Authoritative() bool { return r == ReasonIs || r == ReasonRepair }

// DelayInfo is the live mutable record of one event: its current
// best-known time, the reason for that time, the cancellation flag and
// the route the event currently lives on. A record exists iff the
// event's time has ever deviated from schedule, been explicitly
// touched, or is buffered for a train still under construction.
type DelayInfo struct {
	Schedule     ScheduleEvent
	Route        int
	ForecastTime timetable.Time
	CurrentTime  timetable.Time
	Canceled     bool
	Reason       Reason
}

// Delayed reports whether the current time deviates from schedule.
func (d *DelayInfo) Delayed() bool { return d.CurrentTime != d.Schedule.Time }

// GraphEvent returns the volatile graph identity of the event.
func (d *DelayInfo) GraphEvent() GraphEvent {
	return GraphEvent{
		Station:   d.Schedule.Station,
		TrainNr:   d.Schedule.TrainNr,
		Departure: d.Schedule.Departure,
		Time:      d.CurrentTime,
		Route:     d.Route,
	}
}

func (d *DelayInfo) String() string {
	s := fmt.Sprintf("<di ev=%v route=%d fc=%v ct=%v reason=%v", d.Schedule, d.Route,
		d.ForecastTime, d.CurrentTime, d.Reason)
	if d.Canceled {
		s += " CANCELED"
	}
	return s + ">"
}

// infoUpdate is one staged time change, deduplicated per DelayInfo and
// applied to the graph in a batch.
type infoUpdate struct {
	info   *DelayInfo
	time   timetable.Time
	reason Reason
}

// InfoStore owns every DelayInfo and the two lookup maps: by stable
// schedule identity and by volatile graph identity. Both maps are
// caches over the record list; route moves re-point records, never
// recreate them.
type InfoStore struct {
	infos    []*DelayInfo
	bySched  map[ScheduleEvent]*DelayInfo
	byGraph  map[GraphEvent]*DelayInfo
	buffered map[ScheduleEvent]*DelayInfo

	updated []*DelayInfo
}

// NewInfoStore creates an empty delay store.
func NewInfoStore() *InfoStore {
	return &InfoStore{
		bySched:  map[ScheduleEvent]*DelayInfo{},
		byGraph:  map[GraphEvent]*DelayInfo{},
		buffered: map[ScheduleEvent]*DelayInfo{},
	}
}

// Get returns the record for a schedule event, or nil.
func (s *InfoStore) Get(ev ScheduleEvent) *DelayInfo { return s.bySched[ev] }

// GetGraph returns the record for a graph event, or nil.
func (s *InfoStore) GetGraph(ev GraphEvent) *DelayInfo { return s.byGraph[ev] }

// GetBuffered returns a buffered record not yet bound to a route.
func (s *InfoStore) GetBuffered(ev ScheduleEvent) *DelayInfo { return s.buffered[ev] }

// Create allocates a record bound to a route. The current time starts
// at the scheduled time.
func (s *InfoStore) Create(ev ScheduleEvent, routeID int) *DelayInfo {
	di := &DelayInfo{
		Schedule:     ev,
		Route:        routeID,
		ForecastTime: timetable.Invalid,
		CurrentTime:  ev.Time,
		Reason:       ReasonSchedule,
	}
	s.infos = append(s.infos, di)
	s.bySched[ev] = di
	s.byGraph[di.GraphEvent()] = di
	return di
}

// CreateBuffered allocates a record for an event that is not attached
// to a route yet (a train under construction). It is indexed by the
// schedule identity only until Upgrade binds it.
func (s *InfoStore) CreateBuffered(ev ScheduleEvent) *DelayInfo {
	di := &DelayInfo{
		Schedule:     ev,
		Route:        UnknownRoute,
		ForecastTime: timetable.Invalid,
		CurrentTime:  ev.Time,
		Reason:       ReasonSchedule,
	}
	s.buffered[ev] = di
	return di
}

// Upgrade binds a buffered record to a route and moves it into the
// regular indices.
func (s *InfoStore) Upgrade(di *DelayInfo, routeID int) {
	delete(s.buffered, di.Schedule)
	di.Route = routeID
	s.infos = append(s.infos, di)
	s.bySched[di.Schedule] = di
	s.byGraph[di.GraphEvent()] = di
	s.updated = append(s.updated, di)
}

// Update applies a staged time change: the stale graph-identity entry
// is removed before the new one is inserted.
func (s *InfoStore) Update(di *DelayInfo, newTime timetable.Time, newReason Reason) {
	old := di.GraphEvent()
	if cur, ok := s.byGraph[old]; ok {
		if cur == di {
			delete(s.byGraph, old)
		}
	} else {
		log.Printf("[delaystore] warning: no current index entry for %v", di)
	}
	di.CurrentTime = newTime
	di.Reason = newReason
	s.byGraph[di.GraphEvent()] = di
	s.updated = append(s.updated, di)
}

// UpdateRoute re-points a record to a new route id after a route
// split. The record itself is never recreated.
func (s *InfoStore) UpdateRoute(di *DelayInfo, newRouteID int) {
	old := di.GraphEvent()
	if cur, ok := s.byGraph[old]; ok && cur == di {
		delete(s.byGraph, old)
	} else {
		log.Printf("[delaystore] warning: no current index entry for %v during route move", di)
	}
	di.Route = newRouteID
	s.byGraph[di.GraphEvent()] = di
}

// Cancel marks an event cancelled, creating the record on demand.
func (s *InfoStore) Cancel(ev ScheduleEvent, routeID int) *DelayInfo {
	di := s.Get(ev)
	if di == nil {
		di = s.Create(ev, routeID)
	} else {
		di.Route = routeID
	}
	di.Canceled = true
	s.updated = append(s.updated, di)
	return di
}

// UndoCancel clears the cancellation flag if a record exists.
func (s *InfoStore) UndoCancel(ev ScheduleEvent) *DelayInfo {
	di := s.Get(ev)
	if di != nil && di.Canceled {
		di.Canceled = false
		s.updated = append(s.updated, di)
	}
	return di
}

// CurrentTime returns the live time of an event, falling back to the
// scheduled time when no record exists.
func (s *InfoStore) CurrentTime(ev ScheduleEvent) timetable.Time {
	if di := s.Get(ev); di != nil {
		return di.CurrentTime
	}
	return ev.Time
}

// Delta returns the records touched since the last call and resets the
// delta list.
func (s *InfoStore) Delta() []*DelayInfo {
	seen := make(map[*DelayInfo]struct{}, len(s.updated))
	out := make([]*DelayInfo, 0, len(s.updated))
	for _, di := range s.updated {
		if _, ok := seen[di]; ok {
			continue
		}
		seen[di] = struct{}{}
		out = append(out, di)
	}
	s.updated = nil
	return out
}

// Infos returns all routed records.
func (s *InfoStore) Infos() []*DelayInfo { return s.infos }
