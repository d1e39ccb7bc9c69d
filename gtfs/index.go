package gtfs

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/theoremus-urban-solutions/timetable-rt/timetable"
)

// StopTime is one scheduled stop of a trip, resolved against the built
// graph. Arr is invalid at the first stop, Dep at the last.
type StopTime struct {
	StopID  string
	Station int
	Arr     timetable.Time
	Dep     timetable.Time
}

// Index is the loaded static schedule: the timetable graph plus the
// external-id mappings the realtime reader needs to resolve feed
// references.
type Index struct {
	Graph *timetable.Graph

	trainNrByTrip map[string]int
	tripByTrainNr map[int]string
	tripStops     map[string][]StopTime
	tripCategory  map[string]string

	agencyID   string
	agencyName string
	agencyTZ   string

	// raw CSV content, discarded after build
	routeShortNames map[string]string
	routeTypes      map[string]int
	tripToRoute     map[string]string
	tripService     map[string]string
	stopNames       map[string]string
	transferTimes   map[string]int
	serviceDays     map[string][]int
	rawStopTimes    map[string][]rawStopTime

	nextTrainNr int
}

type rawStopTime struct {
	stop string
	seq  int
	arr  string
	dep  string
}

func newIndex() *Index {
	return &Index{
		trainNrByTrip:   map[string]int{},
		tripByTrainNr:   map[int]string{},
		tripStops:       map[string][]StopTime{},
		tripCategory:    map[string]string{},
		routeShortNames: map[string]string{},
		routeTypes:      map[string]int{},
		tripToRoute:     map[string]string{},
		tripService:     map[string]string{},
		stopNames:       map[string]string{},
		transferTimes:   map[string]int{},
		serviceDays:     map[string][]int{},
		rawStopTimes:    map[string][]rawStopTime{},
		nextTrainNr:     1,
	}
}

// TrainNr returns the train number assigned to a trip, or 0.
func (g *Index) TrainNr(tripID string) int { return g.trainNrByTrip[tripID] }

// TripID returns the trip a train number was assigned from, or "".
func (g *Index) TripID(trainNr int) string { return g.tripByTrainNr[trainNr] }

// TripStops returns the scheduled stop sequence of a trip.
func (g *Index) TripStops(tripID string) []StopTime { return g.tripStops[tripID] }

// Category returns the train category of a trip.
func (g *Index) Category(tripID string) string { return g.tripCategory[tripID] }

// AgencyID returns the feed's agency id.
func (g *Index) AgencyID() string { return g.agencyID }

// AgencyName returns the feed's agency name.
func (g *Index) AgencyName() string { return g.agencyName }

// StopName returns the name of a stop.
func (g *Index) StopName(stopID string) string { return g.stopNames[stopID] }

// build turns the consumed CSV content into the timetable graph. Trips
// are processed in a stable order so train numbers are deterministic
// across runs.
func (g *Index) build() error {
	b := timetable.NewBuilder()
	for stopID, name := range g.stopNames {
		b.Station(stopID, name, g.transferTimes[stopID])
	}

	trips := make([]string, 0, len(g.rawStopTimes))
	for tripID := range g.rawStopTimes {
		trips = append(trips, tripID)
	}
	sort.Strings(trips)

	for _, tripID := range trips {
		raw := g.rawStopTimes[tripID]
		sort.Slice(raw, func(i, j int) bool { return raw[i].seq < raw[j].seq })
		if len(raw) < 2 {
			continue
		}
		stops := make([]timetable.Stop, len(raw))
		for i, r := range raw {
			arr, err := parseGTFSTime(r.arr)
			if err != nil && i > 0 {
				return fmt.Errorf("trip %s stop %s: %w", tripID, r.stop, err)
			}
			dep, err := parseGTFSTime(r.dep)
			if err != nil && i < len(raw)-1 {
				return fmt.Errorf("trip %s stop %s: %w", tripID, r.stop, err)
			}
			stops[i] = timetable.Stop{Station: r.stop, Arr: arr, Dep: dep}
		}
		stops[0].Arr = timetable.Invalid
		stops[len(stops)-1].Dep = timetable.Invalid

		category := g.categoryOf(tripID)
		trainNr := g.assignTrainNr(tripID)
		days := g.serviceDays[g.tripService[tripID]]
		if len(days) == 0 {
			days = []int{0}
		}
		if _, err := b.Train(category, trainNr, stops, days...); err != nil {
			return err
		}
	}

	g.Graph = b.Graph()
	for _, tripID := range trips {
		g.resolveTripStops(tripID)
	}
	g.rawStopTimes = nil
	return nil
}

// resolveTripStops records the trip's schedule times against the graph
// for the realtime reader (day-0 instance).
func (g *Index) resolveTripStops(tripID string) {
	raw := g.rawStopTimes[tripID]
	if len(raw) < 2 {
		return
	}
	stops := make([]StopTime, len(raw))
	for i, r := range raw {
		st := StopTime{StopID: r.stop, Station: -1, Arr: timetable.Invalid, Dep: timetable.Invalid}
		if s := g.Graph.StationByID(r.stop); s != nil {
			st.Station = s.Index
		}
		if i > 0 {
			if t, err := parseGTFSTime(r.arr); err == nil {
				st.Arr = t
			}
		}
		if i < len(raw)-1 {
			if t, err := parseGTFSTime(r.dep); err == nil {
				st.Dep = t
			}
		}
		stops[i] = st
	}
	g.tripStops[tripID] = stops
}

// assignTrainNr derives a train number from the trip id digits when
// they are unique, otherwise hands out the next free number.
func (g *Index) assignTrainNr(tripID string) int {
	if nr, ok := g.trainNrByTrip[tripID]; ok {
		return nr
	}
	nr := 0
	if digits := digitsOf(tripID); digits != "" && len(digits) <= 9 {
		if v, err := strconv.Atoi(digits); err == nil && v > 0 {
			if _, taken := g.tripByTrainNr[v]; !taken {
				nr = v
			}
		}
	}
	if nr == 0 {
		for {
			if _, taken := g.tripByTrainNr[g.nextTrainNr]; !taken {
				break
			}
			g.nextTrainNr++
		}
		nr = g.nextTrainNr
		g.nextTrainNr++
	}
	g.trainNrByTrip[tripID] = nr
	g.tripByTrainNr[nr] = tripID
	return nr
}

// categoryOf extracts the train category from the route short name
// ("RB 20" -> "RB"), falling back to a route-type default.
func (g *Index) categoryOf(tripID string) string {
	if c, ok := g.tripCategory[tripID]; ok {
		return c
	}
	c := ""
	routeID := g.tripToRoute[tripID]
	short := g.routeShortNames[routeID]
	for _, r := range short {
		if r >= 'A' && r <= 'Z' {
			c += string(r)
			continue
		}
		break
	}
	if c == "" {
		switch g.routeTypes[routeID] {
		case 0:
			c = "T"
		case 1:
			c = "U"
		case 2:
			c = "RE"
		case 3:
			c = "Bus"
		default:
			c = "X"
		}
	}
	g.tripCategory[tripID] = c
	return c
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// parseGTFSTime converts HH:MM:SS (hours may exceed 24) to schedule
// minutes.
func parseGTFSTime(s string) (timetable.Time, error) {
	if s == "" {
		return timetable.Invalid, fmt.Errorf("empty time")
	}
	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return timetable.Invalid, fmt.Errorf("bad time %q", s)
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return timetable.Invalid, fmt.Errorf("bad time %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return timetable.Invalid, fmt.Errorf("bad time %q", s)
	}
	return timetable.Time(h*60 + m), nil
}
