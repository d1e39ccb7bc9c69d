package siri

import (
	"testing"
	"time"

	"github.com/theoremus-urban-solutions/timetable-rt/realtime"
	"github.com/theoremus-urban-solutions/timetable-rt/timetable"
)

var base = time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)

func hm(h, m int) timetable.Time { return timetable.Time(h*60 + m) }

func testEngine(t *testing.T) *realtime.RT {
	t.Helper()
	b := timetable.NewBuilder()
	b.Station("DA", "Darmstadt Hbf", 5)
	b.Station("LGN", "Langen", 3)
	b.Station("FFM", "Frankfurt Hbf", 8)
	_, err := b.Train("RB", 20, []timetable.Stop{
		{Station: "DA", Arr: timetable.Invalid, Dep: hm(12, 34)},
		{Station: "LGN", Arr: hm(12, 49), Dep: hm(12, 51)},
		{Station: "FFM", Arr: hm(13, 5), Dep: timetable.Invalid},
	})
	if err != nil {
		t.Fatalf("building timetable: %v", err)
	}
	return realtime.New(b.Graph(), realtime.Options{})
}

func TestBuildEstimatedTimetable(t *testing.T) {
	rt := testEngine(t)
	ex := NewExporter(rt, nil, base)
	lgn := rt.Graph.StationByID("LGN").Index

	rt.Handler.HandleBatch([]realtime.Message{&realtime.DelayMessage{TrainNr: 20,
		Updates: []realtime.DelayUpdate{
			{Event: realtime.ScheduleEvent{Station: lgn, TrainNr: 20, Departure: false, Time: hm(12, 49)},
				UpdatedTime: hm(12, 52), IsReport: true},
			{Event: realtime.ScheduleEvent{Station: lgn, TrainNr: 20, Departure: true, Time: hm(12, 51)},
				UpdatedTime: hm(12, 54), IsReport: true},
		}}})

	delivery := ex.BuildEstimatedTimetable()
	if delivery.Version != "2.0" {
		t.Errorf("version = %q", delivery.Version)
	}
	if len(delivery.EstimatedJourneyVersionFrame) != 1 {
		t.Fatalf("got %d frames", len(delivery.EstimatedJourneyVersionFrame))
	}
	journeys := delivery.EstimatedJourneyVersionFrame[0].EstimatedVehicleJourney
	if len(journeys) != 1 {
		t.Fatalf("got %d journeys, want 1", len(journeys))
	}
	j := journeys[0]

	if j.LineRef != "UNKNOWN:Line:RB20" {
		t.Errorf("line ref = %q", j.LineRef)
	}
	if j.FramedVehicleJourneyRef.DataFrameRef != "2026-08-24" {
		t.Errorf("data frame = %q", j.FramedVehicleJourneyRef.DataFrameRef)
	}
	if j.OriginName != "Darmstadt Hbf" || j.DestinationName != "Frankfurt Hbf" {
		t.Errorf("origin/destination = %q / %q", j.OriginName, j.DestinationName)
	}

	// the fully observed stop is a recorded call
	if len(j.RecordedCalls) != 1 {
		t.Fatalf("got %d recorded calls, want 1", len(j.RecordedCalls))
	}
	rec := j.RecordedCalls[0]
	if rec.StopPointName != "Langen" || rec.Order != 2 {
		t.Errorf("recorded call = %+v", rec)
	}
	if rec.ActualArrivalTime != "2026-08-24T12:52:00Z" {
		t.Errorf("actual arrival = %q", rec.ActualArrivalTime)
	}
	if rec.ActualDepartureTime != "2026-08-24T12:54:00Z" {
		t.Errorf("actual departure = %q", rec.ActualDepartureTime)
	}

	// origin untouched, destination carrying the propagated delay
	if len(j.EstimatedCalls) != 2 {
		t.Fatalf("got %d estimated calls, want 2", len(j.EstimatedCalls))
	}
	origin := j.EstimatedCalls[0]
	if origin.DepartureStatus != "onTime" || origin.ExpectedDepartureTime != "2026-08-24T12:34:00Z" {
		t.Errorf("origin call = %+v", origin)
	}
	dest := j.EstimatedCalls[1]
	if dest.ArrivalStatus != "delayed" {
		t.Errorf("destination status = %q", dest.ArrivalStatus)
	}
	if dest.AimedArrivalTime != "2026-08-24T13:05:00Z" || dest.ExpectedArrivalTime != "2026-08-24T13:08:00Z" {
		t.Errorf("destination call = %+v", dest)
	}
}

func TestStatusThresholds(t *testing.T) {
	tests := []struct {
		delay timetable.Time
		want  string
	}{
		{-5, "early"}, {-1, "early"}, {0, "onTime"}, {1, "delayed"}, {12, "delayed"},
	}
	for _, tt := range tests {
		if got := status(tt.delay); got != tt.want {
			t.Errorf("status(%d) = %q, want %q", int(tt.delay), got, tt.want)
		}
	}
}
