package timetable

// Station is a stop location. TransferTime is the minimum interchange
// time in minutes between two trains at this station.
type Station struct {
	Index        int
	ID           string
	Name         string
	TransferTime int
}

// TripInfo carries the attributes shared by all segments of one train
// run: train number, category, class and price.
type TripInfo struct {
	TrainNr  int
	Category string
	Class    int
	Line     string
	Price    int
}

// TripTimes is one dated trip instance on one route segment.
type TripTimes struct {
	Dep  Time
	Arr  Time
	Info *TripInfo
}

// RouteEdge is a route segment between two consecutive stops of a
// route. Trips is kept sorted by departure time, consistent with the
// arrival times (invariant I1: no two instances cross in time).
type RouteEdge struct {
	From  *RouteNode
	To    *RouteNode
	Trips []TripTimes
}

// RouteNode is a per-route stop at a station. In and Out are the
// incoming and outgoing route segments (nil at the first and last stop
// of the route). Entering and Leaving are the boarding and alighting
// permissions; they replace the transfer-edge wiring of the original
// pointer graph, which the realtime engine only ever inspected for
// exactly these two facts.
type RouteNode struct {
	ID       int
	Station  *Station
	Route    int
	In       *RouteEdge
	Out      *RouteEdge
	Entering bool
	Leaving  bool
}

// NextNode returns the following stop of the route, or nil.
func (n *RouteNode) NextNode() *RouteNode {
	if n.Out == nil {
		return nil
	}
	return n.Out.To
}

// PrevNode returns the preceding stop of the route, or nil.
func (n *RouteNode) PrevNode() *RouteNode {
	if n.In == nil {
		return nil
	}
	return n.In.From
}
