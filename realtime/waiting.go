package realtime

import (
	"log"
	"math"
	"sort"

	"github.com/theoremus-urban-solutions/timetable-rt/timetable"
)

// UnlimitedWait marks an explicit "kept" decision: the connector waits
// however long it takes.
const UnlimitedWait = math.MaxInt32

// SingleWaitingEdge is one concrete dependency: the connector departure
// may wait up to WaitingTime minutes for the feeder arrival.
type SingleWaitingEdge struct {
	FeederArrival      ScheduleEvent
	ConnectorDeparture ScheduleEvent
	WaitingTime        int
	group              *waitingEdgeGroup
}

// tripPair binds one feeder trip instance to one connector trip
// instance at a station.
type tripPair struct {
	feederArr      timetable.Time
	connectorDep   timetable.Time
	feederTrain    int
	connectorTrain int
}

// waitingEdgeGroup holds every trip pair between one feeder route and
// one connector route at one station. Pairs are generated in feeder
// order, so both time columns are sorted and support binary search.
type waitingEdgeGroup struct {
	station     int
	fromRoute   int
	toRoute     int
	waitingTime int
	pairs       []tripPair
}

type stationRoute struct {
	station int
	route   int
}

// WaitingEdges is the waiting-connection dependency graph: derived
// edges generated once from the category rules, indexed per
// (station, route) from both directions, plus explicit operator
// decisions kept in a parallel per-event map.
type WaitingEdges struct {
	rt *RT

	outgoing map[stationRoute][]*waitingEdgeGroup
	incoming map[stationRoute][]*waitingEdgeGroup

	additionalOut map[ScheduleEvent][]*SingleWaitingEdge
	additionalIn  map[ScheduleEvent][]*SingleWaitingEdge
}

// NewWaitingEdges creates an empty waiting-connection graph.
func NewWaitingEdges(rt *RT) *WaitingEdges {
	return &WaitingEdges{
		rt:            rt,
		outgoing:      map[stationRoute][]*waitingEdgeGroup{},
		incoming:      map[stationRoute][]*waitingEdgeGroup{},
		additionalOut: map[ScheduleEvent][]*SingleWaitingEdge{},
		additionalIn:  map[ScheduleEvent][]*SingleWaitingEdge{},
	}
}

// Build scans every station and materializes the derived waiting edges
// from the category rules: for every route stop where passengers can
// leave the train, every departing route reachable at the same station
// is checked pairwise for trips within the interchange window.
func (w *WaitingEdges) Build() {
	rules := w.rt.Opts.Waiting
	for _, station := range w.rt.Graph.Stations {
		ic := w.rt.TransferTime(station.Index)
		nodes := w.rt.Graph.NodesAt(station.Index)
		for _, feederNode := range nodes {
			if !feederNode.Leaving || feederNode.In == nil || len(feederNode.In.Trips) == 0 {
				continue
			}
			feederCat := feederNode.In.Trips[0].Info.Category
			if !rules.TrainsWaitFor(feederCat) {
				continue
			}
			for _, connectorNode := range nodes {
				if connectorNode == feederNode || connectorNode.Route == feederNode.Route ||
					!connectorNode.Entering || connectorNode.Out == nil {
					continue
				}
				w.buildGroup(feederNode.In, connectorNode.Out, feederCat, ic)
			}
		}
	}
}

func (w *WaitingEdges) buildGroup(feeder, connector *timetable.RouteEdge, feederCat string, ic int) {
	first := connector.TripFrom(feeder.Trips[0].Arr + timetable.Time(ic))
	if first < 0 {
		return
	}
	connectorCat := connector.Trips[first].Info.Category
	waitingTime := w.rt.Opts.Waiting.WaitingTime(connectorCat, feederCat)
	if waitingTime == 0 {
		return
	}
	maxGap := timetable.Time(w.rt.Opts.Propagation.MaxConnectionGap)

	var group *waitingEdgeGroup
	for _, ft := range feeder.Trips {
		ci := connector.TripFrom(ft.Arr + timetable.Time(ic))
		for ; ci >= 0 && ci < len(connector.Trips); ci++ {
			ct := connector.Trips[ci]
			if ct.Dep-ft.Arr > maxGap {
				break
			}
			if group == nil {
				group = &waitingEdgeGroup{
					station:     feeder.To.Station.Index,
					fromRoute:   feeder.To.Route,
					toRoute:     connector.From.Route,
					waitingTime: waitingTime,
				}
				w.store(group)
			}
			group.pairs = append(group.pairs, tripPair{
				feederArr:      ft.Arr,
				connectorDep:   ct.Dep,
				feederTrain:    ft.Info.TrainNr,
				connectorTrain: ct.Info.TrainNr,
			})
		}
	}
}

func (w *WaitingEdges) store(g *waitingEdgeGroup) {
	outKey := stationRoute{g.station, g.fromRoute}
	inKey := stationRoute{g.station, g.toRoute}
	w.outgoing[outKey] = append(w.outgoing[outKey], g)
	w.incoming[inKey] = append(w.incoming[inKey], g)
}

func (g *waitingEdgeGroup) edgesForFeeder(arrTime timetable.Time, out []SingleWaitingEdge) []SingleWaitingEdge {
	i := sort.Search(len(g.pairs), func(i int) bool { return g.pairs[i].feederArr >= arrTime })
	for ; i < len(g.pairs) && g.pairs[i].feederArr == arrTime; i++ {
		out = append(out, g.single(g.pairs[i]))
	}
	return out
}

func (g *waitingEdgeGroup) edgesForConnector(depTime timetable.Time, out []SingleWaitingEdge) []SingleWaitingEdge {
	i := sort.Search(len(g.pairs), func(i int) bool { return g.pairs[i].connectorDep >= depTime })
	for ; i < len(g.pairs) && g.pairs[i].connectorDep == depTime; i++ {
		out = append(out, g.single(g.pairs[i]))
	}
	return out
}

func (g *waitingEdgeGroup) single(p tripPair) SingleWaitingEdge {
	return SingleWaitingEdge{
		FeederArrival:      ScheduleEvent{Station: g.station, TrainNr: p.feederTrain, Departure: false, Time: p.feederArr},
		ConnectorDeparture: ScheduleEvent{Station: g.station, TrainNr: p.connectorTrain, Departure: true, Time: p.connectorDep},
		WaitingTime:        g.waitingTime,
		group:              g,
	}
}

// EdgesFrom returns every waiting edge fed by the given arrival. An
// explicit decision between a pair shadows the derived edge for that
// pair.
func (w *WaitingEdges) EdgesFrom(feederArrival ScheduleEvent, routeID int) []SingleWaitingEdge {
	var result []SingleWaitingEdge
	for _, g := range w.outgoing[stationRoute{feederArrival.Station, routeID}] {
		result = g.edgesForFeeder(feederArrival.Time, result)
	}
	additional := w.additionalOut[feederArrival]
	result = dropShadowed(result, additional)
	for _, e := range additional {
		result = append(result, *e)
	}
	return result
}

// EdgesTo returns every waiting edge whose connector is the given
// departure.
func (w *WaitingEdges) EdgesTo(connectorDeparture ScheduleEvent, routeID int) []SingleWaitingEdge {
	var result []SingleWaitingEdge
	for _, g := range w.incoming[stationRoute{connectorDeparture.Station, routeID}] {
		result = g.edgesForConnector(connectorDeparture.Time, result)
	}
	additional := w.additionalIn[connectorDeparture]
	result = dropShadowed(result, additional)
	for _, e := range additional {
		result = append(result, *e)
	}
	return result
}

func dropShadowed(derived []SingleWaitingEdge, additional []*SingleWaitingEdge) []SingleWaitingEdge {
	if len(additional) == 0 {
		return derived
	}
	kept := derived[:0]
	for _, d := range derived {
		shadowed := false
		for _, a := range additional {
			if a.FeederArrival == d.FeederArrival && a.ConnectorDeparture == d.ConnectorDeparture {
				shadowed = true
				break
			}
		}
		if !shadowed {
			kept = append(kept, d)
		}
	}
	return kept
}

// EventMovedToNewRoute re-keys every derived edge referencing the event
// after a route split. It must run for both sides: an arrival is
// re-keyed on the feeder index, a departure on the connector index.
func (w *WaitingEdges) EventMovedToNewRoute(ev ScheduleEvent, oldRouteID, newRouteID int) {
	if ev.Arrival() {
		key := stationRoute{ev.Station, oldRouteID}
		for _, g := range w.outgoing[key] {
			for _, swe := range g.edgesForFeeder(ev.Time, nil) {
				if swe.FeederArrival.TrainNr != ev.TrainNr {
					continue
				}
				w.move(swe, newRouteID, g.toRoute)
			}
		}
		return
	}
	key := stationRoute{ev.Station, oldRouteID}
	for _, g := range w.incoming[key] {
		for _, swe := range g.edgesForConnector(ev.Time, nil) {
			if swe.ConnectorDeparture.TrainNr != ev.TrainNr {
				continue
			}
			w.move(swe, g.fromRoute, newRouteID)
		}
	}
}

// move removes a single pair from its group and re-inserts it under
// the new route ids.
func (w *WaitingEdges) move(swe SingleWaitingEdge, newFromRoute, newToRoute int) {
	old := swe.group
	p := tripPair{
		feederArr:      swe.FeederArrival.Time,
		connectorDep:   swe.ConnectorDeparture.Time,
		feederTrain:    swe.FeederArrival.TrainNr,
		connectorTrain: swe.ConnectorDeparture.TrainNr,
	}
	removed := false
	for i, q := range old.pairs {
		if q == p {
			old.pairs = append(old.pairs[:i], old.pairs[i+1:]...)
			removed = true
			break
		}
	}
	if !removed {
		log.Printf("[waiting] warning: pair not found while moving edge %v -> %v",
			swe.FeederArrival, swe.ConnectorDeparture)
	}
	g := &waitingEdgeGroup{
		station:     old.station,
		fromRoute:   newFromRoute,
		toRoute:     newToRoute,
		waitingTime: swe.WaitingTime,
		pairs:       []tripPair{p},
	}
	w.store(g)
}

// AddAdditionalEdge records an explicit operator decision between one
// feeder arrival and one connector departure. The decision shadows any
// derived edge for the pair; a repeated decision between the same
// events is overwritten.
func (w *WaitingEdges) AddAdditionalEdge(feederArrival, connectorDeparture ScheduleEvent, waitingTime int) {
	for _, e := range w.additionalOut[feederArrival] {
		if e.ConnectorDeparture == connectorDeparture {
			e.WaitingTime = waitingTime
			return
		}
	}
	edge := &SingleWaitingEdge{
		FeederArrival:      feederArrival,
		ConnectorDeparture: connectorDeparture,
		WaitingTime:        waitingTime,
	}
	w.additionalOut[feederArrival] = append(w.additionalOut[feederArrival], edge)
	w.additionalIn[connectorDeparture] = append(w.additionalIn[connectorDeparture], edge)
}

// RemoveAdditionalEdge withdraws the explicit decision between the two
// events. Whatever the category rules derive for the pair applies
// again.
func (w *WaitingEdges) RemoveAdditionalEdge(feederArrival, connectorDeparture ScheduleEvent) {
	out := w.additionalOut[feederArrival]
	for i, e := range out {
		if e.ConnectorDeparture == connectorDeparture {
			w.additionalOut[feederArrival] = append(out[:i], out[i+1:]...)
			break
		}
	}
	in := w.additionalIn[connectorDeparture]
	for i, e := range in {
		if e.FeederArrival == feederArrival {
			w.additionalIn[connectorDeparture] = append(in[:i], in[i+1:]...)
			break
		}
	}
}
