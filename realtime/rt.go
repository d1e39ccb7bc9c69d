package realtime

import (
	"log"

	"github.com/theoremus-urban-solutions/timetable-rt/config"
	"github.com/theoremus-urban-solutions/timetable-rt/timetable"
)

// Options carries the engine tunables.
type Options struct {
	Propagation   config.PropagationConfig
	Waiting       config.WaitingRules
	TrackedTrains []int
}

// RT is the realtime view of one schedule: the live graph plus the
// delay store, the waiting-connection graph, the propagation queue, the
// graph mutator and the modified-train registry. All operations are
// synchronous; the caller serializes access (one message batch at a
// time under an external lock).
type RT struct {
	Graph *timetable.Graph
	Opts  Options

	Store      *InfoStore
	Waiting    *WaitingEdges
	Propagator *Propagator
	Updater    *Updater
	Trains     *ModifiedTrains
	Handler    *Handler
	Output     *Output
	Stats      *Stats

	tracked map[int]bool
	debug   bool
}

// New creates the realtime engine for a graph and derives the
// waiting-connection edges from the category rules.
func New(g *timetable.Graph, opts Options) *RT {
	if opts.Propagation.MinStandingTime == 0 && opts.Propagation.MaxRepairIterations == 0 {
		opts.Propagation = config.Defaults()
	}
	rt := &RT{
		Graph:   g,
		Opts:    opts,
		Store:   NewInfoStore(),
		Trains:  NewModifiedTrains(),
		Output:  NewOutput(),
		Stats:   &Stats{},
		tracked: map[int]bool{},
	}
	rt.Waiting = NewWaitingEdges(rt)
	rt.Propagator = NewPropagator(rt)
	rt.Updater = NewUpdater(rt)
	rt.Handler = NewHandler(rt)
	for _, tr := range opts.TrackedTrains {
		rt.Track(tr)
	}
	rt.Waiting.Build()
	return rt
}

// FinishBatch runs the propagation to its fixed point, applies the
// staged updates and flushes the touched records to the output stream.
// Callers feed any number of messages through the handler, then finish
// the batch once.
func (rt *RT) FinishBatch() {
	rt.Propagator.ProcessQueue()
	for _, di := range rt.Store.Delta() {
		rt.Output.Add(di)
	}
	rt.Output.Flush()
}

// MoveInfoRoute re-homes a delay record after a route split: the store
// index and any staged update move to the new route id.
func (rt *RT) MoveInfoRoute(di *DelayInfo, newRouteID int) {
	old := di.Route
	rt.Store.UpdateRoute(di, newRouteID)
	rt.Propagator.moveStagedRoute(di, old, newRouteID)
}

// Track enables debug tracing for one train number.
func (rt *RT) Track(trainNr int) { rt.tracked[trainNr] = true }

// IsTracked reports whether a train is traced.
func (rt *RT) IsTracked(trainNr int) bool { return rt.tracked[trainNr] }

// SetDebug switches global debug tracing.
func (rt *RT) SetDebug(on bool) { rt.debug = on }

func (rt *RT) debugOn(trainNr int) bool { return rt.debug || rt.tracked[trainNr] }

func (rt *RT) tracef(trainNr int, format string, args ...any) {
	if rt.debugOn(trainNr) {
		log.Printf("[rt] "+format, args...)
	}
}

// TransferTime returns the interchange time at a station.
func (rt *RT) TransferTime(stationIndex int) int {
	if stationIndex >= 0 && stationIndex < len(rt.Graph.Stations) {
		if t := rt.Graph.Stations[stationIndex].TransferTime; t > 0 {
			return t
		}
	}
	return rt.Opts.Propagation.DefaultTransferTime
}

// Locate resolves a graph event to its route node, the segment holding
// the trip instance and the trip index on that segment. For departures
// the segment is node.Out, for arrivals node.In. Route == UnknownRoute
// scans every route node at the station.
func (rt *RT) Locate(ge GraphEvent) (*timetable.RouteNode, *timetable.RouteEdge, int) {
	for _, node := range rt.Graph.NodesAt(ge.Station) {
		if ge.Route != UnknownRoute && node.Route != ge.Route {
			continue
		}
		if ge.Departure {
			if node.Out == nil {
				continue
			}
			if i := node.Out.TripWithDeparture(ge.Time, ge.TrainNr); i >= 0 {
				return node, node.Out, i
			}
		} else {
			if node.In == nil {
				continue
			}
			if i := node.In.TripWithArrival(ge.Time, ge.TrainNr); i >= 0 {
				return node, node.In, i
			}
		}
	}
	return nil, nil, -1
}

// ScheduleEventOf maps a graph event back to its stable identity,
// falling back to the graph times when the event was never delayed.
func (rt *RT) ScheduleEventOf(ge GraphEvent) ScheduleEvent {
	if !ge.Valid() {
		return ScheduleEvent{Station: ge.Station, TrainNr: ge.TrainNr, Departure: ge.Departure, Time: ge.Time}
	}
	if di := rt.Store.GetGraph(ge); di != nil {
		return di.Schedule
	}
	return ScheduleEvent{Station: ge.Station, TrainNr: ge.TrainNr, Departure: ge.Departure, Time: ge.Time}
}

// GraphEventOf maps a stable identity to the current graph identity.
func (rt *RT) GraphEventOf(se ScheduleEvent) GraphEvent {
	if di := rt.Store.Get(se); di != nil {
		return di.GraphEvent()
	}
	return GraphEvent{Station: se.Station, TrainNr: se.TrainNr, Departure: se.Departure,
		Time: se.Time, Route: UnknownRoute}
}

// PrevGraphEvent returns the event preceding ge on the same train: for
// an arrival the departure of the same trip, for a departure the
// arrival that feeds it (which may not exist at the first stop).
func (rt *RT) PrevGraphEvent(ge GraphEvent) GraphEvent {
	node, edge, trip := rt.Locate(ge)
	if node == nil {
		return InvalidGraphEvent
	}
	if ge.Departure {
		if node.In == nil {
			return InvalidGraphEvent
		}
		j := node.In.LastTripArrivingBefore(ge.Time)
		if j < 0 {
			return InvalidGraphEvent
		}
		tr := node.In.Trips[j]
		return GraphEvent{Station: node.Station.Index, TrainNr: tr.Info.TrainNr,
			Departure: false, Time: tr.Arr, Route: node.Route}
	}
	tr := edge.Trips[trip]
	return GraphEvent{Station: edge.From.Station.Index, TrainNr: tr.Info.TrainNr,
		Departure: true, Time: tr.Dep, Route: node.Route}
}

// NextGraphEvent returns the event following ge on the same train: for
// a departure the arrival of the same trip, for an arrival the next
// departure from the same stop (which may not exist at the last stop).
func (rt *RT) NextGraphEvent(ge GraphEvent) GraphEvent {
	node, edge, trip := rt.Locate(ge)
	if node == nil {
		return InvalidGraphEvent
	}
	if ge.Departure {
		tr := edge.Trips[trip]
		return GraphEvent{Station: edge.To.Station.Index, TrainNr: tr.Info.TrainNr,
			Departure: false, Time: tr.Arr, Route: node.Route}
	}
	if node.Out == nil {
		return InvalidGraphEvent
	}
	j := node.Out.TripFrom(ge.Time)
	if j < 0 {
		return InvalidGraphEvent
	}
	tr := node.Out.Trips[j]
	return GraphEvent{Station: node.Station.Index, TrainNr: tr.Info.TrainNr,
		Departure: true, Time: tr.Dep, Route: node.Route}
}

// PrevScheduleEvent is PrevGraphEvent mapped to the stable identity.
func (rt *RT) PrevScheduleEvent(ge GraphEvent) ScheduleEvent {
	prev := rt.PrevGraphEvent(ge)
	if !prev.Valid() {
		return InvalidScheduleEvent
	}
	return rt.ScheduleEventOf(prev)
}

// NextScheduleEvent is NextGraphEvent mapped to the stable identity.
func (rt *RT) NextScheduleEvent(ge GraphEvent) ScheduleEvent {
	next := rt.NextGraphEvent(ge)
	if !next.Valid() {
		return InvalidScheduleEvent
	}
	return rt.ScheduleEventOf(next)
}

// startOfTrain walks back to the first stop of the run that passes
// through node with the given trip index on node.Out.
func (rt *RT) startOfTrain(node *timetable.RouteNode, trip int) (*timetable.RouteNode, int) {
	for node.In != nil {
		dep := node.Out.Trips[trip].Dep
		j := node.In.LastTripArrivingBefore(dep)
		if j < 0 {
			break
		}
		node = node.PrevNode()
		trip = j
	}
	return node, trip
}

// LocateStartOfTrain resolves any event of a train to the first
// departure of its run.
func (rt *RT) LocateStartOfTrain(ref ScheduleEvent) (ScheduleEvent, *timetable.RouteNode, int, bool) {
	node, _, trip := rt.Locate(rt.GraphEventOf(ref))
	if node == nil {
		return InvalidScheduleEvent, nil, -1, false
	}
	if ref.Arrival() {
		node = node.PrevNode()
	}
	node, trip = rt.startOfTrain(node, trip)
	tr := node.Out.Trips[trip]
	start := rt.ScheduleEventOf(GraphEvent{Station: node.Station.Index, TrainNr: tr.Info.TrainNr,
		Departure: true, Time: tr.Dep, Route: node.Route})
	return start, node, trip, true
}

// TrainStop is one stop of a train run: the route node plus the stable
// arrival and departure identities (invalid at the run's ends).
type TrainStop struct {
	Node      *timetable.RouteNode
	Arrival   ScheduleEvent
	Departure ScheduleEvent
}

// TrainEvents lists every stop of the run starting at the given first
// departure.
func (rt *RT) TrainEvents(start ScheduleEvent) []TrainStop {
	node, _, trip := rt.Locate(rt.GraphEventOf(start))
	if node == nil {
		log.Printf("[rt] train events: start event not found: %v", start)
		return nil
	}
	stops := []TrainStop{{Node: node, Arrival: invalidArrival(), Departure: start}}
	single := rt.Graph.SingleTrainRoute(rt.Graph.StartNode(node))
	for node.Out != nil {
		tr := node.Out.Trips[trip]
		next := node.Out.To
		arr := rt.ScheduleEventOf(GraphEvent{Station: next.Station.Index, TrainNr: tr.Info.TrainNr,
			Departure: false, Time: tr.Arr, Route: next.Route})
		dep := invalidDeparture()
		nextTrip := -1
		if next.Out != nil && len(next.Out.Trips) > 0 {
			if single {
				nextTrip = 0
			} else {
				nextTrip = next.Out.TripFrom(tr.Arr)
			}
			if nextTrip >= 0 {
				ntr := next.Out.Trips[nextTrip]
				dep = rt.ScheduleEventOf(GraphEvent{Station: next.Station.Index, TrainNr: ntr.Info.TrainNr,
					Departure: true, Time: ntr.Dep, Route: next.Route})
			}
		}
		stops = append(stops, TrainStop{Node: next, Arrival: arr, Departure: dep})
		if nextTrip < 0 {
			break
		}
		node, trip = next, nextTrip
	}
	return stops
}

// FindDepartureEvent searches the train-number index for any departure
// of the train on the given schedule day.
func (rt *RT) FindDepartureEvent(trainNr, day int) ScheduleEvent {
	for _, routeID := range rt.Graph.TrainRoutes[trainNr] {
		for node := rt.Graph.RouteFirst[routeID]; node != nil && node.Out != nil; node = node.NextNode() {
			for _, tr := range node.Out.Trips {
				if tr.Info.TrainNr == trainNr && tr.Dep.Day() == day {
					return rt.ScheduleEventOf(GraphEvent{Station: node.Station.Index,
						TrainNr: trainNr, Departure: true, Time: tr.Dep, Route: node.Route})
				}
			}
		}
	}
	return InvalidScheduleEvent
}

// EventExists reports whether a schedule event is present in the live
// graph (directly or through its delay record).
func (rt *RT) EventExists(se ScheduleEvent) bool {
	if rt.Store.Get(se) != nil {
		return true
	}
	node, edge, trip := rt.Locate(GraphEvent{Station: se.Station, TrainNr: se.TrainNr,
		Departure: se.Departure, Time: se.Time, Route: UnknownRoute})
	if node == nil {
		return false
	}
	t := edge.Trips[trip].Arr
	if se.Departure {
		t = edge.Trips[trip].Dep
	}
	ge := GraphEvent{Station: se.Station, TrainNr: se.TrainNr, Departure: se.Departure,
		Time: t, Route: node.Route}
	if di := rt.Store.GetGraph(ge); di != nil {
		return di.Schedule == se
	}
	return true
}

// diagnoseMissing logs what the schedule knows about a train at a
// station after a message referenced an event that could not be
// located. The usual cause is a message carrying a time the schedule
// never contained.
func (rt *RT) diagnoseMissing(se ScheduleEvent) {
	var candidates []timetable.Time
	for _, node := range rt.Graph.NodesAt(se.Station) {
		edge := node.Out
		if se.Arrival() {
			edge = node.In
		}
		if edge == nil {
			continue
		}
		for _, tr := range edge.Trips {
			if tr.Info.TrainNr != se.TrainNr {
				continue
			}
			if se.Departure {
				candidates = append(candidates, tr.Dep)
			} else {
				candidates = append(candidates, tr.Arr)
			}
		}
	}
	log.Printf("[rt] event %v not found, train %d has %d matching events at the station: %v",
		se, se.TrainNr, len(candidates), candidates)
}

func invalidArrival() ScheduleEvent {
	e := InvalidScheduleEvent
	e.Departure = false
	return e
}

func invalidDeparture() ScheduleEvent {
	e := InvalidScheduleEvent
	e.Departure = true
	return e
}
