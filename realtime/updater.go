package realtime

import (
	"fmt"
	"log"

	"github.com/theoremus-urban-solutions/timetable-rt/timetable"
)

// Updater applies staged time updates to the live graph and performs
// the structural mutations: route extraction, additional trains,
// cancellations and reroutes. It is the only component that writes
// trip times.
type Updater struct {
	rt *RT
}

// NewUpdater creates the graph mutator.
func NewUpdater(rt *RT) *Updater { return &Updater{rt: rt} }

// PerformUpdates applies one route's staged time changes. A change
// that would make two trip instances on a shared segment cross in time
// first extracts the affected run onto a private route.
func (u *Updater) PerformUpdates(routeID int, batch []*infoUpdate) {
	staged := make(map[*DelayInfo]timetable.Time, len(batch))
	for _, up := range batch {
		staged[up.info] = up.time
	}
	for _, up := range batch {
		u.applyOne(up, staged)
	}
}

func (u *Updater) applyOne(up *infoUpdate, staged map[*DelayInfo]timetable.Time) {
	rt := u.rt
	ge := up.info.GraphEvent()
	node, edge, trip := rt.Locate(ge)
	if node == nil {
		// the event left the graph (cancel/reroute); keep the record
		rt.tracef(ge.TrainNr, "update target %v not in graph", ge)
		rt.Store.Update(up.info, up.time, up.reason)
		return
	}
	if len(edge.Trips) > 1 && u.wouldCross(edge, trip, ge.Departure, up.time, staged) {
		if u.ExtractRun(node, trip) >= 0 {
			node, edge, trip = rt.Locate(up.info.GraphEvent())
			if node == nil {
				rt.Store.Update(up.info, up.time, up.reason)
				return
			}
		}
	}
	if ge.Departure {
		edge.Trips[trip].Dep = up.time
	} else {
		edge.Trips[trip].Arr = up.time
	}
	rt.Store.Update(up.info, up.time, up.reason)
}

// wouldCross checks the new time against the neighbouring trips on the
// same segment, taking their own staged times into account.
func (u *Updater) wouldCross(edge *timetable.RouteEdge, trip int, departure bool,
	newT timetable.Time, staged map[*DelayInfo]timetable.Time) bool {

	timeOf := func(i int) timetable.Time {
		tr := edge.Trips[i]
		var t timetable.Time
		var ge GraphEvent
		if departure {
			t = tr.Dep
			ge = GraphEvent{Station: edge.From.Station.Index, TrainNr: tr.Info.TrainNr,
				Departure: true, Time: tr.Dep, Route: edge.From.Route}
		} else {
			t = tr.Arr
			ge = GraphEvent{Station: edge.To.Station.Index, TrainNr: tr.Info.TrainNr,
				Departure: false, Time: tr.Arr, Route: edge.To.Route}
		}
		if di := u.rt.Store.GetGraph(ge); di != nil {
			if st, ok := staged[di]; ok {
				return st
			}
		}
		return t
	}

	if trip > 0 && newT < timeOf(trip-1) {
		return true
	}
	if trip+1 < len(edge.Trips) && newT > timeOf(trip+1) {
		return true
	}
	return false
}

// ExtractRun copies one trip instance of a shared route onto a fresh
// private route and removes it from the shared segments. Delay records
// and waiting edges referencing the run follow it to the new route id.
// Returns the new route id, or -1 when the run could not be extracted.
func (u *Updater) ExtractRun(node *timetable.RouteNode, trip int) int {
	rt := u.rt
	g := rt.Graph
	start := g.StartNode(node)
	oldRouteID := start.Route

	var oldNodes []*timetable.RouteNode
	for n := start; n != nil; n = n.NextNode() {
		oldNodes = append(oldNodes, n)
	}
	if len(oldNodes) < 2 {
		return -1
	}
	// trip indices are consistent across the segments of a route
	// because instances never cross in time
	for i := 0; i+1 < len(oldNodes); i++ {
		if trip >= len(oldNodes[i].Out.Trips) {
			log.Printf("[updater] route %d: trip index %d out of range, extraction aborted",
				oldRouteID, trip)
			return -1
		}
	}

	info := oldNodes[0].Out.Trips[trip].Info
	newRouteID := g.NewRouteID()
	rt.Stats.Graph.RouteExtractions++
	rt.tracef(info.TrainNr, "extracting train %d from route %d to %d",
		info.TrainNr, oldRouteID, newRouteID)

	var newNodes []*timetable.RouteNode
	for i, on := range oldNodes {
		nn := g.AddNode(on.Station, newRouteID, on.Entering, on.Leaving)
		if i > 0 {
			e := &timetable.RouteEdge{
				From:  newNodes[i-1],
				To:    nn,
				Trips: []timetable.TripTimes{oldNodes[i-1].Out.Trips[trip]},
			}
			newNodes[i-1].Out = e
			nn.In = e
		}
		newNodes = append(newNodes, nn)
	}
	g.RouteFirst[newRouteID] = newNodes[0]
	g.AddTrainRoute(info.TrainNr, newRouteID)

	// re-home the run's delay records and waiting edges
	for i := 0; i+1 < len(oldNodes); i++ {
		tr := oldNodes[i].Out.Trips[trip]
		events := []GraphEvent{
			{Station: oldNodes[i].Station.Index, TrainNr: tr.Info.TrainNr,
				Departure: true, Time: tr.Dep, Route: oldRouteID},
			{Station: oldNodes[i+1].Station.Index, TrainNr: tr.Info.TrainNr,
				Departure: false, Time: tr.Arr, Route: oldRouteID},
		}
		for _, ge := range events {
			se := ScheduleEvent{Station: ge.Station, TrainNr: ge.TrainNr,
				Departure: ge.Departure, Time: ge.Time}
			if di := rt.Store.GetGraph(ge); di != nil {
				se = di.Schedule
				rt.MoveInfoRoute(di, newRouteID)
			}
			rt.Waiting.EventMovedToNewRoute(se, oldRouteID, newRouteID)
		}
	}

	for i := 0; i+1 < len(oldNodes); i++ {
		e := oldNodes[i].Out
		e.Trips = append(e.Trips[:trip], e.Trips[trip+1:]...)
	}
	if len(oldNodes[0].Out.Trips) == 0 {
		u.removeRoute(oldRouteID)
	}
	if mt := rt.Trains.WithRouteID(oldRouteID); mt != nil && mt.TrainNr == info.TrainNr {
		rt.Trains.UpdateRouteID(mt, newRouteID)
	}
	return newRouteID
}

// removeRoute detaches every node of a route from the graph.
func (u *Updater) removeRoute(routeID int) {
	g := u.rt.Graph
	n := g.RouteFirst[routeID]
	for n != nil {
		next := n.NextNode()
		g.RemoveNode(n)
		n = next
	}
	delete(g.RouteFirst, routeID)
}

// CreateAdditionalRoute builds a private route for a train absent from
// the static schedule and returns its first departure and route id.
func (u *Updater) CreateAdditionalRoute(category string, trainNr int, stops []MessageStop) (ScheduleEvent, int, error) {
	g := u.rt.Graph
	if err := validateMessageStops(stops); err != nil {
		return InvalidScheduleEvent, -1, err
	}
	stations := make([]*timetable.Station, len(stops))
	for i, st := range stops {
		s := g.StationByID(st.StationID)
		if s == nil {
			return InvalidScheduleEvent, -1, fmt.Errorf("unknown station %q", st.StationID)
		}
		stations[i] = s
	}

	routeID := g.NewRouteID()
	info := &timetable.TripInfo{TrainNr: trainNr, Category: category, Class: timetable.ClassOf(category)}
	var nodes []*timetable.RouteNode
	for i, station := range stations {
		n := g.AddNode(station, routeID, i < len(stops)-1, i > 0)
		if i > 0 {
			e := &timetable.RouteEdge{
				From:  nodes[i-1],
				To:    n,
				Trips: []timetable.TripTimes{{Dep: stops[i-1].Departure, Arr: stops[i].Arrival, Info: info}},
			}
			nodes[i-1].Out = e
			n.In = e
		}
		nodes = append(nodes, n)
	}
	g.RouteFirst[routeID] = nodes[0]
	g.AddTrainRoute(trainNr, routeID)
	u.rt.Stats.Graph.NewRoutes++

	start := ScheduleEvent{Station: stations[0].Index, TrainNr: trainNr,
		Departure: true, Time: stops[0].Departure}
	return start, routeID, nil
}

// adjStop is one stop of the desired run during a structural change.
type adjStop struct {
	station *timetable.Station
	arr     timetable.Time // stable identity times, Invalid where absent
	dep     timetable.Time
	curArr  timetable.Time // live times carried into the rebuilt route
	curDep  timetable.Time
}

// AdjustTrain applies a cancellation or reroute to one run: the listed
// events are cancelled, newStops are merged in by time, and the run is
// rebuilt on a fresh route. An invalid resulting stop sequence leaves
// the graph untouched and returns an error.
func (u *Updater) AdjustTrain(start ScheduleEvent, canceled []ScheduleEvent,
	newStops []MessageStop, category string) error {

	rt := u.rt
	trainNr := start.TrainNr
	stops := rt.TrainEvents(start)
	if len(stops) == 0 {
		return fmt.Errorf("train %d: run not found at %v", trainNr, start)
	}
	startGE := rt.GraphEventOf(start)
	startNode, _, trip := rt.Locate(startGE)
	if startNode == nil {
		return fmt.Errorf("train %d: start event %v not in graph", trainNr, start)
	}
	oldRouteID := startNode.Route
	if category == "" {
		category = startNode.Out.Trips[trip].Info.Category
	}

	isCanceled := map[ScheduleEvent]bool{}
	for _, ev := range canceled {
		isCanceled[ev] = true
	}
	if len(newStops) == 0 {
		canceled = trimDanglingEnds(stops, canceled, isCanceled)
	}

	var desired []adjStop
	var kept []ScheduleEvent
	canceledStops := 0
	for _, st := range stops {
		arrOK := st.Arrival.Valid() && !isCanceled[st.Arrival]
		depOK := st.Departure.Valid() && !isCanceled[st.Departure]
		if !arrOK && !depOK {
			canceledStops++
			continue
		}
		ds := adjStop{station: st.Node.Station,
			arr: timetable.Invalid, dep: timetable.Invalid,
			curArr: timetable.Invalid, curDep: timetable.Invalid}
		if arrOK {
			ds.arr = st.Arrival.Time
			ds.curArr = rt.Store.CurrentTime(st.Arrival)
			kept = append(kept, st.Arrival)
		}
		if depOK {
			ds.dep = st.Departure.Time
			ds.curDep = rt.Store.CurrentTime(st.Departure)
			kept = append(kept, st.Departure)
		}
		desired = append(desired, ds)
	}

	for _, ns := range newStops {
		station := rt.Graph.StationByID(ns.StationID)
		if station == nil {
			return fmt.Errorf("train %d: unknown station %q", trainNr, ns.StationID)
		}
		ds := adjStop{station: station, arr: ns.Arrival, dep: ns.Departure,
			curArr: ns.Arrival, curDep: ns.Departure}
		desired = insertByTime(desired, ds)
		if ds.arr.Valid() {
			kept = append(kept, ScheduleEvent{Station: station.Index, TrainNr: trainNr,
				Departure: false, Time: ds.arr})
		}
		if ds.dep.Valid() {
			kept = append(kept, ScheduleEvent{Station: station.Index, TrainNr: trainNr,
				Departure: true, Time: ds.dep})
		}
	}

	fullCancel := len(desired) == 0
	if !fullCancel {
		if err := validateAdjusted(desired); err != nil {
			rt.Stats.Graph.InvalidReroutes++
			return fmt.Errorf("train %d: %w", trainNr, err)
		}
	}

	// from here on the change is committed
	for _, ev := range canceled {
		di := rt.Store.Cancel(ev, oldRouteID)
		rt.Propagator.enqueueInfo(di, queueCanceled)
		rt.Stats.Graph.CanceledStops++
	}

	u.removeRun(startNode, trip)

	mt := &ModifiedTrain{
		TrainNr:       trainNr,
		Category:      category,
		CurrentStart:  start,
		Events:        kept,
		CanceledStops: canceledStops,
	}
	if fullCancel {
		mt.RouteID = -1
		// nothing runs, keep the cancelled identities so later
		// messages addressing the train still resolve
		mt.Events = canceled
		rt.Trains.Add(mt)
		rt.tracef(trainNr, "train %d fully cancelled", trainNr)
		return nil
	}

	newRouteID := u.buildAdjustedRoute(trainNr, category, desired, oldRouteID)
	mt.RouteID = newRouteID
	mt.CurrentStart = ScheduleEvent{Station: desired[0].station.Index, TrainNr: trainNr,
		Departure: true, Time: desired[0].dep}
	rt.Trains.Add(mt)

	// kept and re-added events lose any earlier cancellation and are
	// recomputed on the rebuilt route
	for _, ev := range kept {
		rt.Store.UndoCancel(ev)
		rt.Propagator.Enqueue(ev, queueRecalc, newRouteID)
	}
	rt.tracef(trainNr, "train %d adjusted onto route %d (%d stops, %d cancelled)",
		trainNr, newRouteID, len(desired), canceledStops)
	return nil
}

// removeRun deletes one trip instance from its route; a route left
// without trips is removed entirely.
func (u *Updater) removeRun(startNode *timetable.RouteNode, trip int) {
	routeID := startNode.Route
	if len(startNode.Out.Trips) == 1 {
		u.removeRoute(routeID)
		return
	}
	for n := startNode; n != nil && n.Out != nil; n = n.NextNode() {
		if trip < len(n.Out.Trips) {
			n.Out.Trips = append(n.Out.Trips[:trip], n.Out.Trips[trip+1:]...)
		}
	}
}

// buildAdjustedRoute materializes the desired stop sequence on a fresh
// route, carrying the live times, and re-homes records and waiting
// edges of the kept events.
func (u *Updater) buildAdjustedRoute(trainNr int, category string, desired []adjStop, oldRouteID int) int {
	rt := u.rt
	g := rt.Graph
	routeID := g.NewRouteID()
	rt.Stats.Graph.NewRoutes++
	info := &timetable.TripInfo{TrainNr: trainNr, Category: category, Class: timetable.ClassOf(category)}

	var nodes []*timetable.RouteNode
	for i, ds := range desired {
		n := g.AddNode(ds.station, routeID, i < len(desired)-1, i > 0)
		if i > 0 {
			e := &timetable.RouteEdge{
				From:  nodes[i-1],
				To:    n,
				Trips: []timetable.TripTimes{{Dep: desired[i-1].curDep, Arr: ds.curArr, Info: info}},
			}
			nodes[i-1].Out = e
			n.In = e
		}
		nodes = append(nodes, n)
	}
	g.RouteFirst[routeID] = nodes[0]
	g.AddTrainRoute(trainNr, routeID)

	for _, ds := range desired {
		if ds.arr.Valid() {
			se := ScheduleEvent{Station: ds.station.Index, TrainNr: trainNr, Departure: false, Time: ds.arr}
			u.rehome(se, oldRouteID, routeID)
		}
		if ds.dep.Valid() {
			se := ScheduleEvent{Station: ds.station.Index, TrainNr: trainNr, Departure: true, Time: ds.dep}
			u.rehome(se, oldRouteID, routeID)
		}
	}
	return routeID
}

func (u *Updater) rehome(se ScheduleEvent, oldRouteID, newRouteID int) {
	// records cancelled by an earlier message may still point at a
	// route that no longer carries the run
	if di := u.rt.Store.Get(se); di != nil && di.Route != newRouteID {
		u.rt.MoveInfoRoute(di, newRouteID)
	}
	u.rt.Waiting.EventMovedToNewRoute(se, oldRouteID, newRouteID)
}

// trimDanglingEnds extends a pure cancellation to the events it strands:
// cancelling the head of a run leaves the first surviving stop with an
// arrival from nowhere, cancelling the tail leaves the last surviving
// stop with a departure into nowhere. Both are cancelled along.
func trimDanglingEnds(stops []TrainStop, canceled []ScheduleEvent,
	isCanceled map[ScheduleEvent]bool) []ScheduleEvent {

	keptStop := func(st TrainStop) bool {
		return (st.Arrival.Valid() && !isCanceled[st.Arrival]) ||
			(st.Departure.Valid() && !isCanceled[st.Departure])
	}
	first, last := -1, -1
	for i, st := range stops {
		if keptStop(st) {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return canceled
	}
	if ev := stops[first].Arrival; ev.Valid() && !isCanceled[ev] && first > 0 {
		isCanceled[ev] = true
		canceled = append(canceled, ev)
	}
	if ev := stops[last].Departure; ev.Valid() && !isCanceled[ev] && last < len(stops)-1 {
		isCanceled[ev] = true
		canceled = append(canceled, ev)
	}
	return canceled
}

func insertByTime(desired []adjStop, ds adjStop) []adjStop {
	key := ds.arr
	if !key.Valid() {
		key = ds.dep
	}
	at := len(desired)
	for i, d := range desired {
		t := d.arr
		if !t.Valid() {
			t = d.dep
		}
		if key < t {
			at = i
			break
		}
	}
	desired = append(desired, adjStop{})
	copy(desired[at+1:], desired[at:])
	desired[at] = ds
	return desired
}

// validateAdjusted checks the desired sequence: a run starts with a
// departure, ends with an arrival, stops in between carry both events,
// and the stable times never run backwards.
func validateAdjusted(desired []adjStop) error {
	if len(desired) < 2 {
		return fmt.Errorf("adjusted run has %d stops", len(desired))
	}
	for i, ds := range desired {
		first := i == 0
		last := i == len(desired)-1
		switch {
		case first && !ds.dep.Valid():
			return fmt.Errorf("first stop %s has no departure", ds.station.ID)
		case first && ds.arr.Valid():
			return fmt.Errorf("first stop %s has a dangling arrival", ds.station.ID)
		case last && !ds.arr.Valid():
			return fmt.Errorf("last stop %s has no arrival", ds.station.ID)
		case last && ds.dep.Valid():
			return fmt.Errorf("last stop %s has a dangling departure", ds.station.ID)
		case !first && !last && (!ds.arr.Valid() || !ds.dep.Valid()):
			return fmt.Errorf("intermediate stop %s misses an event", ds.station.ID)
		}
		if ds.arr.Valid() && ds.dep.Valid() && ds.dep < ds.arr {
			return fmt.Errorf("stop %s departs before it arrives", ds.station.ID)
		}
		if i > 0 && ds.arr.Valid() && desired[i-1].dep.Valid() && ds.arr < desired[i-1].dep {
			return fmt.Errorf("arrival at %s before departure at %s",
				ds.station.ID, desired[i-1].station.ID)
		}
	}
	return nil
}

func validateMessageStops(stops []MessageStop) error {
	if len(stops) < 2 {
		return fmt.Errorf("train needs at least two stops, got %d", len(stops))
	}
	for i, st := range stops {
		first := i == 0
		last := i == len(stops)-1
		if !first && !st.Arrival.Valid() {
			return fmt.Errorf("stop %s has no arrival", st.StationID)
		}
		if !last && !st.Departure.Valid() {
			return fmt.Errorf("stop %s has no departure", st.StationID)
		}
		if !first && !last && st.Departure < st.Arrival {
			return fmt.Errorf("stop %s departs before it arrives", st.StationID)
		}
		if i > 0 && stops[i-1].Departure.Valid() && st.Arrival < stops[i-1].Departure {
			return fmt.Errorf("arrival at %s before departure at %s",
				st.StationID, stops[i-1].StationID)
		}
	}
	return nil
}
