package gtfsrt

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/theoremus-urban-solutions/timetable-rt/config"
	"github.com/theoremus-urban-solutions/timetable-rt/gtfs"
	"github.com/theoremus-urban-solutions/timetable-rt/realtime"
	"github.com/theoremus-urban-solutions/timetable-rt/timetable"
)

// scheduleBase is a Monday midnight, schedule day zero.
var scheduleBase = time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)

func testReader(t *testing.T) *Reader {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feed.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating zip: %v", err)
	}
	zw := zip.NewWriter(f)
	files := map[string]string{
		"agency.txt": "agency_id,agency_name,agency_timezone\nVGF,Verkehrsgesellschaft,Europe/Berlin\n",
		"stops.txt":  "stop_id,stop_name\nDA,Darmstadt Hbf\nLGN,Langen\nFFM,Frankfurt Hbf\n",
		"routes.txt": "route_id,route_short_name,route_type\nr1,RB 20,2\n",
		"trips.txt":  "route_id,service_id,trip_id\nr1,daily,trip-20\n",
		"stop_times.txt": "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
			"trip-20,,12:34:00,DA,1\n" +
			"trip-20,12:49:00,12:51:00,LGN,2\n" +
			"trip-20,13:05:00,,FFM,3\n",
	}
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip entry %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("zip entry %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("closing file: %v", err)
	}

	idx, err := gtfs.Load(config.GTFSConfig{StaticZip: path})
	if err != nil {
		t.Fatalf("loading schedule: %v", err)
	}
	return NewReader(idx, scheduleBase)
}

func epoch(min int) int64 { return scheduleBase.Unix() + int64(min)*60 }

func feed(headerMin int, entities ...*gtfsrtpb.FeedEntity) *gtfsrtpb.FeedMessage {
	return &gtfsrtpb.FeedMessage{
		Header: &gtfsrtpb.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Timestamp:           proto.Uint64(uint64(epoch(headerMin))),
		},
		Entity: entities,
	}
}

func tripEntity(id string, tu *gtfsrtpb.TripUpdate) *gtfsrtpb.FeedEntity {
	return &gtfsrtpb.FeedEntity{Id: proto.String(id), TripUpdate: tu}
}

func TestTranslateDelay(t *testing.T) {
	r := testReader(t)
	lgn := r.idx.Graph.StationByID("LGN").Index

	// arrival reported at 12:52 absolute, departure with +3 min delay;
	// the header sits at 12:53, so only the arrival lies in the past
	fm := feed(12*60+53, tripEntity("1", &gtfsrtpb.TripUpdate{
		Trip: &gtfsrtpb.TripDescriptor{TripId: proto.String("trip-20")},
		StopTimeUpdate: []*gtfsrtpb.TripUpdate_StopTimeUpdate{{
			StopId:    proto.String("LGN"),
			Arrival:   &gtfsrtpb.TripUpdate_StopTimeEvent{Time: proto.Int64(epoch(12*60 + 52))},
			Departure: &gtfsrtpb.TripUpdate_StopTimeEvent{Delay: proto.Int32(180)},
		}},
	}))

	msgs := r.Translate(fm)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	dm, ok := msgs[0].(*realtime.DelayMessage)
	if !ok {
		t.Fatalf("message type %T", msgs[0])
	}
	if dm.TrainNr != 20 || len(dm.Updates) != 2 {
		t.Fatalf("message = %+v", dm)
	}

	arr := dm.Updates[0]
	if arr.Event.Station != lgn || arr.Event.Departure || arr.Event.Time != timetable.Time(12*60+49) {
		t.Errorf("arrival event = %v", arr.Event)
	}
	if arr.UpdatedTime != timetable.Time(12*60+52) || !arr.IsReport {
		t.Errorf("arrival update = %v report=%v", arr.UpdatedTime, arr.IsReport)
	}

	dep := dm.Updates[1]
	if !dep.Event.Departure || dep.Event.Time != timetable.Time(12*60+51) {
		t.Errorf("departure event = %v", dep.Event)
	}
	if dep.UpdatedTime != timetable.Time(12*60+54) || dep.IsReport {
		t.Errorf("departure update = %v report=%v", dep.UpdatedTime, dep.IsReport)
	}
}

func TestTranslateSkippedStop(t *testing.T) {
	r := testReader(t)
	lgn := r.idx.Graph.StationByID("LGN").Index

	fm := feed(12*60, tripEntity("1", &gtfsrtpb.TripUpdate{
		Trip: &gtfsrtpb.TripDescriptor{TripId: proto.String("trip-20")},
		StopTimeUpdate: []*gtfsrtpb.TripUpdate_StopTimeUpdate{{
			StopId:               proto.String("LGN"),
			ScheduleRelationship: gtfsrtpb.TripUpdate_StopTimeUpdate_SKIPPED.Enum(),
		}},
	}))

	msgs := r.Translate(fm)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	cm, ok := msgs[0].(*realtime.CancelTrainMessage)
	if !ok {
		t.Fatalf("message type %T", msgs[0])
	}
	if len(cm.Events) != 2 {
		t.Fatalf("cancelled %d events, want 2", len(cm.Events))
	}
	for _, ev := range cm.Events {
		if ev.Station != lgn || ev.TrainNr != 20 {
			t.Errorf("cancelled event = %v", ev)
		}
	}
}

func TestTranslateCanceledTrip(t *testing.T) {
	r := testReader(t)

	fm := feed(12*60, tripEntity("1", &gtfsrtpb.TripUpdate{
		Trip: &gtfsrtpb.TripDescriptor{
			TripId:               proto.String("trip-20"),
			ScheduleRelationship: gtfsrtpb.TripDescriptor_CANCELED.Enum(),
		},
	}))

	msgs := r.Translate(fm)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	cm, ok := msgs[0].(*realtime.CancelTrainMessage)
	if !ok {
		t.Fatalf("message type %T", msgs[0])
	}
	// one departure, one arrival+departure pair, one arrival
	if len(cm.Events) != 4 {
		t.Errorf("cancelled %d events, want 4", len(cm.Events))
	}
}

func TestTranslateAddedTrip(t *testing.T) {
	r := testReader(t)

	fm := feed(10*60, tripEntity("1", &gtfsrtpb.TripUpdate{
		Trip: &gtfsrtpb.TripDescriptor{
			TripId:               proto.String("extra-1"),
			ScheduleRelationship: gtfsrtpb.TripDescriptor_ADDED.Enum(),
		},
		StopTimeUpdate: []*gtfsrtpb.TripUpdate_StopTimeUpdate{
			{StopId: proto.String("DA"),
				Departure: &gtfsrtpb.TripUpdate_StopTimeEvent{Time: proto.Int64(epoch(11 * 60))}},
			{StopId: proto.String("FFM"),
				Arrival: &gtfsrtpb.TripUpdate_StopTimeEvent{Time: proto.Int64(epoch(11*60 + 30))}},
		},
	}))

	msgs := r.Translate(fm)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	am, ok := msgs[0].(*realtime.AdditionalTrainMessage)
	if !ok {
		t.Fatalf("message type %T", msgs[0])
	}
	if am.TrainNr < 900000 {
		t.Errorf("synthetic train number = %d", am.TrainNr)
	}
	if len(am.Stops) != 2 {
		t.Fatalf("added train has %d stops", len(am.Stops))
	}
	if am.Stops[0].Departure != timetable.Time(11*60) || am.Stops[0].Arrival.Valid() {
		t.Errorf("first stop = %+v", am.Stops[0])
	}
	if am.Stops[1].Arrival != timetable.Time(11*60+30) || am.Stops[1].Departure.Valid() {
		t.Errorf("last stop = %+v", am.Stops[1])
	}
}

func TestTranslateUnknownTrip(t *testing.T) {
	r := testReader(t)

	fm := feed(10*60, tripEntity("1", &gtfsrtpb.TripUpdate{
		Trip: &gtfsrtpb.TripDescriptor{TripId: proto.String("ghost-trip")},
	}))
	if msgs := r.Translate(fm); len(msgs) != 0 {
		t.Errorf("got %d messages for an unknown trip", len(msgs))
	}
	if r.UnknownTrips != 1 {
		t.Errorf("unknown trips = %d, want 1", r.UnknownTrips)
	}
}

func TestTranslateStartDateOffset(t *testing.T) {
	r := testReader(t)

	// the same trip running on schedule day one
	fm := feed(36*60, tripEntity("1", &gtfsrtpb.TripUpdate{
		Trip: &gtfsrtpb.TripDescriptor{
			TripId:    proto.String("trip-20"),
			StartDate: proto.String("20260825"),
		},
		StopTimeUpdate: []*gtfsrtpb.TripUpdate_StopTimeUpdate{{
			StopId:  proto.String("LGN"),
			Arrival: &gtfsrtpb.TripUpdate_StopTimeEvent{Delay: proto.Int32(300)},
		}},
	}))

	msgs := r.Translate(fm)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	dm := msgs[0].(*realtime.DelayMessage)
	wantSched := timetable.Time(12*60 + 49 + timetable.MinutesPerDay)
	if dm.Updates[0].Event.Time != wantSched {
		t.Errorf("event time = %v, want %v", dm.Updates[0].Event.Time, wantSched)
	}
	if dm.Updates[0].UpdatedTime != wantSched+5 {
		t.Errorf("updated time = %v, want %v", dm.Updates[0].UpdatedTime, wantSched+5)
	}
}
