package gtfsrt

import (
	"log"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"

	"github.com/theoremus-urban-solutions/timetable-rt/gtfs"
	"github.com/theoremus-urban-solutions/timetable-rt/realtime"
	"github.com/theoremus-urban-solutions/timetable-rt/timetable"
)

// Reader translates GTFS-RT trip updates into the engine's message
// model. Base is the wall-clock midnight of schedule day zero; all
// feed epochs are expressed as minutes relative to it.
type Reader struct {
	idx  *gtfs.Index
	base time.Time

	// UnknownTrips counts updates referencing trips absent from the
	// static schedule.
	UnknownTrips int
}

// NewReader creates a translator against a loaded schedule.
func NewReader(idx *gtfs.Index, base time.Time) *Reader {
	return &Reader{idx: idx, base: base}
}

// Translate converts one feed message into engine messages. Entities
// that cannot be resolved are counted and skipped.
func (r *Reader) Translate(fm *gtfsrtpb.FeedMessage) []realtime.Message {
	if fm == nil {
		return nil
	}
	now := time.Now().Unix()
	if fm.Header != nil && fm.Header.Timestamp != nil {
		now = int64(*fm.Header.Timestamp)
	}

	var msgs []realtime.Message
	for _, e := range fm.Entity {
		tu := e.TripUpdate
		if tu == nil || tu.Trip == nil || tu.Trip.TripId == nil {
			continue
		}
		tripID := *tu.Trip.TripId
		rel := gtfsrtpb.TripDescriptor_SCHEDULED
		if tu.Trip.ScheduleRelationship != nil {
			rel = *tu.Trip.ScheduleRelationship
		}
		if rel == gtfsrtpb.TripDescriptor_ADDED {
			if m := r.translateAdded(tu); m != nil {
				msgs = append(msgs, m)
			}
			continue
		}

		trainNr := r.idx.TrainNr(tripID)
		stops := r.idx.TripStops(tripID)
		if trainNr == 0 || len(stops) == 0 {
			r.UnknownTrips++
			continue
		}
		dayOff := r.dayOffset(tu.Trip.StartDate)

		if rel == gtfsrtpb.TripDescriptor_CANCELED {
			msgs = append(msgs, r.cancelWholeTrip(trainNr, stops, dayOff))
			continue
		}
		if m := r.translateUpdates(tu, trainNr, stops, dayOff, now); m != nil {
			msgs = append(msgs, m...)
		}
	}
	return msgs
}

func (r *Reader) translateUpdates(tu *gtfsrtpb.TripUpdate, trainNr int,
	stops []gtfs.StopTime, dayOff int, now int64) []realtime.Message {

	delay := &realtime.DelayMessage{TrainNr: trainNr}
	var canceled []realtime.ScheduleEvent

	for _, stu := range tu.StopTimeUpdate {
		if stu.StopId == nil {
			continue
		}
		st, ok := findStop(stops, *stu.StopId)
		if !ok {
			continue
		}
		arrEv, depEv := r.eventsOf(trainNr, st, dayOff)

		if stu.ScheduleRelationship != nil &&
			*stu.ScheduleRelationship == gtfsrtpb.TripUpdate_StopTimeUpdate_SKIPPED {
			if arrEv.Valid() {
				canceled = append(canceled, arrEv)
			}
			if depEv.Valid() {
				canceled = append(canceled, depEv)
			}
			continue
		}

		if arrEv.Valid() {
			if t, ok := r.stopEventTime(stu.Arrival, arrEv.Time); ok {
				delay.Updates = append(delay.Updates, realtime.DelayUpdate{
					Event:       arrEv,
					UpdatedTime: t,
					IsReport:    r.minutes(now) >= t,
				})
			}
		}
		if depEv.Valid() {
			if t, ok := r.stopEventTime(stu.Departure, depEv.Time); ok {
				delay.Updates = append(delay.Updates, realtime.DelayUpdate{
					Event:       depEv,
					UpdatedTime: t,
					IsReport:    r.minutes(now) >= t,
				})
			}
		}
	}

	var msgs []realtime.Message
	if len(delay.Updates) > 0 {
		msgs = append(msgs, delay)
	}
	if len(canceled) > 0 {
		msgs = append(msgs, &realtime.CancelTrainMessage{TrainNr: trainNr, Events: canceled})
	}
	return msgs
}

func (r *Reader) translateAdded(tu *gtfsrtpb.TripUpdate) realtime.Message {
	tripID := *tu.Trip.TripId
	trainNr := r.idx.TrainNr(tripID)
	if trainNr != 0 {
		// already known from the static schedule, nothing to add
		return nil
	}
	if len(tu.StopTimeUpdate) < 2 {
		log.Printf("[gtfsrt] added trip %s with %d stops ignored", tripID, len(tu.StopTimeUpdate))
		return nil
	}
	m := &realtime.AdditionalTrainMessage{TrainNr: syntheticTrainNr(tripID), Category: "X"}
	for i, stu := range tu.StopTimeUpdate {
		if stu.StopId == nil {
			return nil
		}
		ms := realtime.MessageStop{StationID: *stu.StopId,
			Arrival: timetable.Invalid, Departure: timetable.Invalid}
		if i > 0 && stu.Arrival != nil && stu.Arrival.Time != nil {
			ms.Arrival = r.minutes(*stu.Arrival.Time)
		}
		if i < len(tu.StopTimeUpdate)-1 && stu.Departure != nil && stu.Departure.Time != nil {
			ms.Departure = r.minutes(*stu.Departure.Time)
		}
		m.Stops = append(m.Stops, ms)
	}
	return m
}

func (r *Reader) cancelWholeTrip(trainNr int, stops []gtfs.StopTime, dayOff int) realtime.Message {
	m := &realtime.CancelTrainMessage{TrainNr: trainNr}
	for _, st := range stops {
		arrEv, depEv := r.eventsOf(trainNr, st, dayOff)
		if arrEv.Valid() {
			m.Events = append(m.Events, arrEv)
		}
		if depEv.Valid() {
			m.Events = append(m.Events, depEv)
		}
	}
	return m
}

func (r *Reader) eventsOf(trainNr int, st gtfs.StopTime, dayOff int) (arr, dep realtime.ScheduleEvent) {
	arr, dep = realtime.InvalidScheduleEvent, realtime.InvalidScheduleEvent
	if st.Station < 0 {
		return
	}
	off := timetable.Time(dayOff * timetable.MinutesPerDay)
	if st.Arr.Valid() {
		arr = realtime.ScheduleEvent{Station: st.Station, TrainNr: trainNr,
			Departure: false, Time: st.Arr + off}
	}
	if st.Dep.Valid() {
		dep = realtime.ScheduleEvent{Station: st.Station, TrainNr: trainNr,
			Departure: true, Time: st.Dep + off}
	}
	return
}

// stopEventTime resolves the updated time of one event: an absolute
// epoch wins over a relative delay.
func (r *Reader) stopEventTime(ev *gtfsrtpb.TripUpdate_StopTimeEvent, sched timetable.Time) (timetable.Time, bool) {
	if ev == nil {
		return timetable.Invalid, false
	}
	if ev.Time != nil {
		return r.minutes(*ev.Time), true
	}
	if ev.Delay != nil {
		return sched + timetable.Time(*ev.Delay/60), true
	}
	return timetable.Invalid, false
}

// dayOffset maps a feed start_date (YYYYMMDD) to a schedule day index.
func (r *Reader) dayOffset(startDate *string) int {
	if startDate == nil || len(*startDate) != 8 {
		return 0
	}
	t, err := time.ParseInLocation("20060102", *startDate, r.base.Location())
	if err != nil {
		return 0
	}
	d := int(t.Sub(r.base).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

func (r *Reader) minutes(epoch int64) timetable.Time {
	return timetable.Time((epoch - r.base.Unix()) / 60)
}

func findStop(stops []gtfs.StopTime, stopID string) (gtfs.StopTime, bool) {
	for _, st := range stops {
		if st.StopID == stopID {
			return st, true
		}
	}
	return gtfs.StopTime{}, false
}

// syntheticTrainNr derives a stable train number for an added trip
// that carries no numeric id.
func syntheticTrainNr(tripID string) int {
	h := 0
	for _, c := range tripID {
		h = h*31 + int(c)
	}
	if h < 0 {
		h = -h
	}
	return 900000 + h%100000
}
