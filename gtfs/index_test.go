package gtfs

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/theoremus-urban-solutions/timetable-rt/config"
	"github.com/theoremus-urban-solutions/timetable-rt/timetable"
)

func writeFeedZip(t *testing.T, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feed.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating zip: %v", err)
	}
	zw := zip.NewWriter(f)
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
	return path
}

func testFeed(t *testing.T) *Index {
	t.Helper()
	path := writeFeedZip(t, map[string]string{
		"agency.txt": "agency_id,agency_name,agency_timezone\nVGF,Verkehrsgesellschaft,Europe/Berlin\n",
		"stops.txt": "stop_id,stop_name\n" +
			"DA,Darmstadt Hbf\nLGN,Langen\nFFM,Frankfurt Hbf\n",
		"routes.txt": "route_id,route_short_name,route_type\n" +
			"r1,RB 20,2\n" +
			"r2,,3\n",
		"trips.txt": "route_id,service_id,trip_id\n" +
			"r1,wk,trip-20\n" +
			"r2,wk,shuttle-a\n",
		"stop_times.txt": "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
			"trip-20,,12:34:00,DA,1\n" +
			"trip-20,12:49:00,12:51:00,LGN,2\n" +
			"trip-20,13:05:00,,FFM,3\n" +
			"shuttle-a,,06:00:00,FFM,1\n" +
			"shuttle-a,06:20:00,,LGN,2\n",
		"calendar.txt": "service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date\n" +
			"wk,1,1,0,0,0,0,0,20260801,20261231\n",
		"transfers.txt": "from_stop_id,to_stop_id,transfer_type,min_transfer_time\n" +
			"FFM,FFM,2,480\n" +
			"FFM,LGN,2,300\n",
	})
	idx, err := Load(config.GTFSConfig{StaticZip: path})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return idx
}

func TestLoadBuildsGraph(t *testing.T) {
	idx := testFeed(t)

	if idx.AgencyID() != "VGF" || idx.AgencyName() != "Verkehrsgesellschaft" {
		t.Errorf("agency = %q / %q", idx.AgencyID(), idx.AgencyName())
	}
	if idx.StopName("LGN") != "Langen" {
		t.Errorf("stop name = %q", idx.StopName("LGN"))
	}
	if idx.Graph.StationByID("DA") == nil || idx.Graph.StationByID("FFM") == nil {
		t.Fatal("stations missing from graph")
	}
	// 480 seconds round up to 8 minutes; the cross-station row is ignored
	if got := idx.Graph.StationByID("FFM").TransferTime; got != 8 {
		t.Errorf("FFM transfer time = %d, want 8", got)
	}
	if got := idx.Graph.StationByID("LGN").TransferTime; got != 0 {
		t.Errorf("LGN transfer time = %d, want 0", got)
	}

	// train number from the trip id digits
	nr := idx.TrainNr("trip-20")
	if nr != 20 {
		t.Errorf("train number = %d, want 20", nr)
	}
	if idx.TripID(20) != "trip-20" {
		t.Errorf("reverse mapping = %q", idx.TripID(20))
	}
	if idx.Category("trip-20") != "RB" {
		t.Errorf("category = %q, want RB", idx.Category("trip-20"))
	}
	// no short name, route type 3 falls back to Bus
	if idx.Category("shuttle-a") != "Bus" {
		t.Errorf("category = %q, want Bus", idx.Category("shuttle-a"))
	}

	routes := idx.Graph.TrainRoutes[20]
	if len(routes) != 1 {
		t.Fatalf("train 20 runs on %d routes", len(routes))
	}
	first := idx.Graph.RouteFirst[routes[0]]
	if first.Station.ID != "DA" {
		t.Errorf("route starts at %s, want DA", first.Station.ID)
	}
	// monday and tuesday service: one trip instance per day
	if got := len(first.Out.Trips); got != 2 {
		t.Fatalf("segment carries %d trips, want 2", got)
	}
	if first.Out.Trips[0].Dep != timetable.Time(12*60+34) {
		t.Errorf("day 0 departure = %v", first.Out.Trips[0].Dep)
	}
	if first.Out.Trips[1].Dep != timetable.Time(12*60+34+timetable.MinutesPerDay) {
		t.Errorf("day 1 departure = %v", first.Out.Trips[1].Dep)
	}

	stops := idx.TripStops("trip-20")
	if len(stops) != 3 {
		t.Fatalf("trip has %d resolved stops", len(stops))
	}
	if stops[0].Arr.Valid() || !stops[0].Dep.Valid() {
		t.Error("first stop should be departure-only")
	}
	if stops[1].Arr != timetable.Time(12*60+49) || stops[1].Dep != timetable.Time(12*60+51) {
		t.Errorf("middle stop times = %v / %v", stops[1].Arr, stops[1].Dep)
	}
	if stops[2].Dep.Valid() {
		t.Error("last stop should be arrival-only")
	}
}

func TestParseGTFSTime(t *testing.T) {
	tests := []struct {
		in      string
		want    timetable.Time
		wantErr bool
	}{
		{in: "12:34:00", want: timetable.Time(754)},
		{in: "00:00:00", want: 0},
		{in: "25:10:00", want: timetable.Time(25*60 + 10)}, // service day past midnight
		{in: "06:20", want: timetable.Time(380)},
		{in: "", wantErr: true},
		{in: "1234", wantErr: true},
		{in: "ab:cd:ef", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseGTFSTime(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseGTFSTime(%q): expected error, got %v", tt.in, got)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("parseGTFSTime(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}

func TestAssignTrainNrFallsBackToSequential(t *testing.T) {
	idx := newIndex()
	if nr := idx.assignTrainNr("ice-600"); nr != 600 {
		t.Errorf("digit trip id got %d, want 600", nr)
	}
	// same digits again: the number is taken, a sequential one is used
	if nr := idx.assignTrainNr("re-600"); nr == 600 || nr <= 0 {
		t.Errorf("conflicting trip id got %d", nr)
	}
	// no digits at all
	if nr := idx.assignTrainNr("shuttle"); nr <= 0 {
		t.Errorf("digitless trip id got %d", nr)
	}
	// over nine digits would overflow, sequential instead
	if nr := idx.assignTrainNr("t1234567890"); nr >= 1234567890 || nr <= 0 {
		t.Errorf("long digit trip id got %d", nr)
	}
	// stable on repeat
	if idx.assignTrainNr("shuttle") != idx.assignTrainNr("shuttle") {
		t.Error("train number not stable")
	}
}
