package timetable

import (
	"fmt"
	"sort"
)

// Graph is the live timetable graph. Route nodes live in an arena and
// keep their IDs for the lifetime of the schedule; structural edits
// replace the station-side and route-side references but never reuse
// IDs.
type Graph struct {
	Stations []*Station

	nodes        []*RouteNode
	byStation    [][]*RouteNode
	stationsByID map[string]*Station

	// RouteFirst maps a route id to the first stop of the route.
	RouteFirst map[int]*RouteNode
	// TrainRoutes maps a train number to the routes it runs on.
	TrainRoutes map[int][]int

	maxRouteID int
}

// NewGraph creates an empty timetable graph.
func NewGraph() *Graph {
	return &Graph{
		stationsByID: map[string]*Station{},
		RouteFirst:   map[int]*RouteNode{},
		TrainRoutes:  map[int][]int{},
	}
}

// AddStation registers a station and returns it.
func (g *Graph) AddStation(id, name string, transferTime int) *Station {
	s := &Station{Index: len(g.Stations), ID: id, Name: name, TransferTime: transferTime}
	g.Stations = append(g.Stations, s)
	g.byStation = append(g.byStation, nil)
	g.stationsByID[id] = s
	return s
}

// StationByID looks a station up by its external id.
func (g *Graph) StationByID(id string) *Station { return g.stationsByID[id] }

// NodesAt returns the route nodes at a station.
func (g *Graph) NodesAt(stationIndex int) []*RouteNode {
	if stationIndex < 0 || stationIndex >= len(g.byStation) {
		return nil
	}
	return g.byStation[stationIndex]
}

// AddNode allocates a route node in the arena.
func (g *Graph) AddNode(station *Station, route int, entering, leaving bool) *RouteNode {
	n := &RouteNode{
		ID:       len(g.nodes),
		Station:  station,
		Route:    route,
		Entering: entering,
		Leaving:  leaving,
	}
	g.nodes = append(g.nodes, n)
	g.byStation[station.Index] = append(g.byStation[station.Index], n)
	if route > g.maxRouteID {
		g.maxRouteID = route
	}
	return n
}

// RemoveNode detaches a route node from its station. The arena slot is
// cleared so the ID is never handed out again.
func (g *Graph) RemoveNode(n *RouteNode) {
	g.nodes[n.ID] = nil
	at := g.byStation[n.Station.Index]
	for i, rn := range at {
		if rn == n {
			g.byStation[n.Station.Index] = append(at[:i], at[i+1:]...)
			break
		}
	}
}

// NewRouteID allocates a fresh route id.
func (g *Graph) NewRouteID() int {
	g.maxRouteID++
	return g.maxRouteID
}

// AddTrainRoute records that a train number runs on a route.
func (g *Graph) AddTrainRoute(trainNr, routeID int) {
	for _, r := range g.TrainRoutes[trainNr] {
		if r == routeID {
			return
		}
	}
	g.TrainRoutes[trainNr] = append(g.TrainRoutes[trainNr], routeID)
}

// TripWithDeparture finds the trip departing the segment at exactly t
// with the given train number. Returns the trip index or -1.
func (e *RouteEdge) TripWithDeparture(t Time, trainNr int) int {
	i := sort.Search(len(e.Trips), func(i int) bool { return e.Trips[i].Dep >= t })
	for ; i < len(e.Trips) && e.Trips[i].Dep == t; i++ {
		if e.Trips[i].Info.TrainNr == trainNr {
			return i
		}
	}
	return -1
}

// TripWithArrival finds the trip arriving at exactly t with the given
// train number. Returns the trip index or -1.
func (e *RouteEdge) TripWithArrival(t Time, trainNr int) int {
	i := sort.Search(len(e.Trips), func(i int) bool { return e.Trips[i].Arr >= t })
	for ; i < len(e.Trips) && e.Trips[i].Arr == t; i++ {
		if e.Trips[i].Info.TrainNr == trainNr {
			return i
		}
	}
	return -1
}

// TripFrom returns the index of the first trip departing at or after t,
// or -1 if there is none.
func (e *RouteEdge) TripFrom(t Time) int {
	i := sort.Search(len(e.Trips), func(i int) bool { return e.Trips[i].Dep >= t })
	if i == len(e.Trips) {
		return -1
	}
	return i
}

// LastTripArrivingBefore returns the index of the latest trip whose
// arrival is at or before t, or -1. A single-trip segment always
// matches: the only instance is the one the caller is following.
func (e *RouteEdge) LastTripArrivingBefore(t Time) int {
	if len(e.Trips) == 0 {
		return -1
	}
	if len(e.Trips) == 1 {
		return 0
	}
	i := sort.Search(len(e.Trips), func(i int) bool { return e.Trips[i].Arr >= t })
	if i < len(e.Trips) && e.Trips[i].Arr == t {
		return i
	}
	if i == 0 {
		return -1
	}
	return i - 1
}

// SingleTrainRoute reports whether the route starting at start carries
// exactly one trip instance, i.e. the route is private to one train.
func (g *Graph) SingleTrainRoute(start *RouteNode) bool {
	if start.In != nil {
		return false
	}
	return start.Out != nil && len(start.Out.Trips) == 1
}

// StartNode walks to the first stop of a route.
func (g *Graph) StartNode(n *RouteNode) *RouteNode {
	for n.In != nil {
		n = n.In.From
	}
	return n
}

// CheckRoute validates invariant I1 on every segment of the route
// containing n: trips sorted by departure, arrivals consistent, and
// departure >= arrival of the same trip on the previous segment.
func (g *Graph) CheckRoute(n *RouteNode) error {
	node := g.StartNode(n)
	for node != nil && node.Out != nil {
		e := node.Out
		if e.From.Route != e.To.Route {
			return fmt.Errorf("route id changes from %d to %d at station %s",
				e.From.Route, e.To.Route, e.From.Station.ID)
		}
		for i, tr := range e.Trips {
			if tr.Arr < tr.Dep {
				return fmt.Errorf("segment %s-%s trip %d: arrival %v before departure %v",
					e.From.Station.ID, e.To.Station.ID, i, tr.Arr, tr.Dep)
			}
			if i > 0 {
				prev := e.Trips[i-1]
				if tr.Dep < prev.Dep || tr.Arr < prev.Arr {
					return fmt.Errorf("segment %s-%s: trips %d and %d cross in time",
						e.From.Station.ID, e.To.Station.ID, i-1, i)
				}
			}
		}
		if node.In != nil {
			for _, tr := range e.Trips {
				j := node.In.LastTripArrivingBefore(tr.Dep)
				if j >= 0 && node.In.Trips[j].Info.TrainNr == tr.Info.TrainNr &&
					node.In.Trips[j].Arr > tr.Dep {
					return fmt.Errorf("station %s: departure %v before arrival %v of train %d",
						node.Station.ID, tr.Dep, node.In.Trips[j].Arr, tr.Info.TrainNr)
				}
			}
		}
		node = e.To
	}
	return nil
}
