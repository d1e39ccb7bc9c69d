package timetablert

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/theoremus-urban-solutions/timetable-rt/realtime"
)

type healthResponse struct {
	Status        string `json:"status"`
	LatestFeed    int64  `json:"latest_feed_epoch"`
	TrackedTrains int    `json:"tracked_trains"`
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:        "ok",
		LatestFeed:    a.LastFeedEpoch(),
		TrackedTrains: len(a.Cfg.TrackedTrains),
	})
}

func (a *App) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	a.mu.Lock()
	defer a.mu.Unlock()
	_ = json.NewEncoder(w).Encode(a.RT.Stats)
}

func (a *App) handleEstimatedTimetableJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	a.mu.Lock()
	delivery := a.Exporter.BuildEstimatedTimetable()
	a.mu.Unlock()
	_ = json.NewEncoder(w).Encode(delivery)
}

type trainEventResponse struct {
	Station   string `json:"station"`
	Arrival   string `json:"arrival,omitempty"`
	ArrivalRT string `json:"arrival_rt,omitempty"`
	Departure string `json:"departure,omitempty"`
	DepartRT  string `json:"departure_rt,omitempty"`
	Canceled  bool   `json:"canceled,omitempty"`
}

// handleTrain dumps the live run of one train, a diagnostic for
// tracked trains.
func (a *App) handleTrain(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	nr, err := strconv.Atoi(r.URL.Query().Get("nr"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "nr parameter required"})
		return
	}
	day, _ := strconv.Atoi(r.URL.Query().Get("day"))

	a.mu.Lock()
	defer a.mu.Unlock()
	dep := a.RT.FindDepartureEvent(nr, day)
	if !dep.Valid() {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "train not found"})
		return
	}
	start, _, _, ok := a.RT.LocateStartOfTrain(dep)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "run not found"})
		return
	}

	var out []trainEventResponse
	for _, st := range a.RT.TrainEvents(start) {
		ev := trainEventResponse{Station: st.Node.Station.ID}
		if st.Arrival.Valid() {
			ev.Arrival = st.Arrival.Time.String()
			ev.ArrivalRT = a.RT.Store.CurrentTime(st.Arrival).String()
			ev.Canceled = ev.Canceled || isCanceled(a.RT, st.Arrival)
		}
		if st.Departure.Valid() {
			ev.Departure = st.Departure.Time.String()
			ev.DepartRT = a.RT.Store.CurrentTime(st.Departure).String()
			ev.Canceled = ev.Canceled || isCanceled(a.RT, st.Departure)
		}
		out = append(out, ev)
	}
	_ = json.NewEncoder(w).Encode(out)
}

func isCanceled(rt *realtime.RT, ev realtime.ScheduleEvent) bool {
	di := rt.Store.Get(ev)
	return di != nil && di.Canceled
}
