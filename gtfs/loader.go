package gtfs

import (
	"archive/zip"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/theoremus-urban-solutions/timetable-rt/config"
)

// Load reads a static GTFS feed (local zip or URL per the config) and
// builds the timetable graph.
func Load(cfg config.GTFSConfig) (*Index, error) {
	g := newIndex()
	g.agencyID = cfg.AgencyID
	switch {
	case cfg.StaticZip != "":
		if err := g.loadFromLocalZip(cfg.StaticZip); err != nil {
			return nil, err
		}
	case cfg.StaticURL != "":
		if err := g.loadFromStaticURL(cfg.StaticURL); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("gtfs: neither staticZip nor staticURL configured")
	}
	if err := g.build(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Index) loadFromStaticURL(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	tmp, err := os.CreateTemp("", "gtfs-*.zip")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return g.loadFromLocalZip(tmp.Name())
}

func (g *Index) loadFromLocalZip(path string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return err
	}
	defer zr.Close()
	for _, f := range zr.File {
		name := strings.ToLower(f.Name)
		switch name {
		case "routes.txt", "trips.txt", "stops.txt", "stop_times.txt", "agency.txt", "calendar.txt", "transfers.txt":
			if err := g.consumeCSV(f); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
	}
	return nil
}

func (g *Index) consumeCSV(f *zip.File) error {
	r, err := f.Open()
	if err != nil {
		return err
	}
	defer r.Close()
	csvr := csv.NewReader(r)
	rec, err := csvr.ReadAll()
	if err != nil {
		return err
	}
	if len(rec) < 2 {
		return nil
	}
	head := rec[0]
	idx := func(col string) int {
		for i, h := range head {
			if strings.EqualFold(strings.TrimSpace(h), col) {
				return i
			}
		}
		return -1
	}

	switch strings.ToLower(f.Name) {
	case "routes.txt":
		rID := idx("route_id")
		rSN := idx("route_short_name")
		rType := idx("route_type")
		for _, row := range rec[1:] {
			if rID < 0 {
				continue
			}
			if rSN >= 0 {
				g.routeShortNames[row[rID]] = row[rSN]
			}
			if rType >= 0 {
				if t, err := strconv.Atoi(row[rType]); err == nil {
					g.routeTypes[row[rID]] = t
				}
			}
		}
	case "trips.txt":
		rID := idx("route_id")
		tID := idx("trip_id")
		svc := idx("service_id")
		for _, row := range rec[1:] {
			if tID < 0 {
				continue
			}
			if rID >= 0 {
				g.tripToRoute[row[tID]] = row[rID]
			}
			if svc >= 0 {
				g.tripService[row[tID]] = row[svc]
			}
		}
	case "stops.txt":
		sID := idx("stop_id")
		sN := idx("stop_name")
		for _, row := range rec[1:] {
			if sID >= 0 && sN >= 0 {
				g.stopNames[row[sID]] = row[sN]
			}
		}
	case "stop_times.txt":
		tID := idx("trip_id")
		sID := idx("stop_id")
		sq := idx("stop_sequence")
		arrTime := idx("arrival_time")
		depTime := idx("departure_time")
		if tID < 0 || sID < 0 || sq < 0 {
			return nil
		}
		for _, row := range rec[1:] {
			seq, _ := strconv.Atoi(row[sq])
			st := rawStopTime{stop: row[sID], seq: seq}
			if arrTime >= 0 && arrTime < len(row) {
				st.arr = row[arrTime]
			}
			if depTime >= 0 && depTime < len(row) {
				st.dep = row[depTime]
			}
			g.rawStopTimes[row[tID]] = append(g.rawStopTimes[row[tID]], st)
		}
	case "agency.txt":
		agID := idx("agency_id")
		agTZ := idx("agency_timezone")
		agName := idx("agency_name")
		if agID >= 0 && g.agencyID == "" {
			g.agencyID = rec[1][agID]
		}
		if agTZ >= 0 {
			g.agencyTZ = rec[1][agTZ]
		}
		if agName >= 0 {
			g.agencyName = rec[1][agName]
		}
	case "transfers.txt":
		from := idx("from_stop_id")
		to := idx("to_stop_id")
		mtt := idx("min_transfer_time")
		if from < 0 || to < 0 || mtt < 0 {
			return nil
		}
		// only in-station minimum transfer times map onto the graph
		for _, row := range rec[1:] {
			if row[from] != row[to] {
				continue
			}
			sec, err := strconv.Atoi(row[mtt])
			if err != nil || sec <= 0 {
				continue
			}
			g.transferTimes[row[from]] = (sec + 59) / 60
		}
	case "calendar.txt":
		svc := idx("service_id")
		if svc < 0 {
			return nil
		}
		// schedule day 0 is Monday
		dayCols := []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}
		for _, row := range rec[1:] {
			var days []int
			for d, col := range dayCols {
				if c := idx(col); c >= 0 && c < len(row) && row[c] == "1" {
					days = append(days, d)
				}
			}
			g.serviceDays[row[svc]] = days
		}
	}
	return nil
}
