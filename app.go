package timetablert

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/theoremus-urban-solutions/timetable-rt/config"
	"github.com/theoremus-urban-solutions/timetable-rt/gtfs"
	"github.com/theoremus-urban-solutions/timetable-rt/gtfsrt"
	"github.com/theoremus-urban-solutions/timetable-rt/realtime"
	"github.com/theoremus-urban-solutions/timetable-rt/siri"
)

// App wires the static schedule, the realtime engine, the feed reader
// and the SIRI exporter together. The engine itself is single
// threaded; the mutex serializes feed batches against the monitoring
// endpoints.
type App struct {
	Cfg      config.AppConfig
	Index    *gtfs.Index
	RT       *realtime.RT
	Reader   *gtfsrt.Reader
	Exporter *siri.Exporter

	client *gtfsrt.Client
	base   time.Time

	mu            sync.Mutex
	lastFeedEpoch int64
}

// NewApp loads the schedule and builds the engine.
func NewApp(cfg config.AppConfig) (*App, error) {
	idx, err := gtfs.Load(cfg.GTFS)
	if err != nil {
		return nil, fmt.Errorf("loading static schedule: %w", err)
	}
	log.Printf("schedule loaded: %d stations", len(idx.Graph.Stations))

	rt := realtime.New(idx.Graph, realtime.Options{
		Propagation:   cfg.Propagation,
		Waiting:       cfg.Waiting,
		TrackedTrains: cfg.TrackedTrains,
	})

	base := scheduleBase(time.Now())
	app := &App{
		Cfg:      cfg,
		Index:    idx,
		RT:       rt,
		Reader:   gtfsrt.NewReader(idx, base),
		Exporter: siri.NewExporter(rt, idx, base),
		client:   gtfsrt.NewClient(time.Duration(cfg.GTFSRT.TimeoutMS) * time.Millisecond),
		base:     base,
	}
	return app, nil
}

// scheduleBase returns the wall-clock midnight of schedule day zero,
// the most recent Monday.
func scheduleBase(now time.Time) time.Time {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	back := (int(midnight.Weekday()) + 6) % 7
	return midnight.AddDate(0, 0, -back)
}

// PollOnce fetches the trip-update feed and runs one engine batch.
func (a *App) PollOnce() error {
	fm, err := a.client.Fetch(a.Cfg.GTFSRT.TripUpdatesURL)
	if err != nil {
		return err
	}
	if fm == nil {
		return nil
	}
	msgs := a.Reader.Translate(fm)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.RT.Handler.HandleBatch(msgs)
	if fm.Header != nil && fm.Header.Timestamp != nil {
		a.lastFeedEpoch = int64(*fm.Header.Timestamp)
	}
	return nil
}

// Run polls the feed until the context is cancelled.
func (a *App) Run(ctx context.Context) {
	interval := time.Duration(a.Cfg.GTFSRT.ReadIntervalMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Printf("polling %s every %v", a.Cfg.GTFSRT.TripUpdatesURL, interval)
	for {
		if err := a.PollOnce(); err != nil {
			log.Printf("feed poll failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// LastFeedEpoch returns the header timestamp of the last applied feed.
func (a *App) LastFeedEpoch() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastFeedEpoch
}
