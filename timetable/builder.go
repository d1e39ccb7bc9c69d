package timetable

import (
	"fmt"
	"sort"
	"strings"
)

// Stop describes one stop of a train for the builder. Arr is Invalid at
// the first stop, Dep is Invalid at the last.
type Stop struct {
	Station string
	Arr     Time
	Dep     Time
}

// Builder constructs a valid timetable graph. Trains with an identical
// station sequence share one route, so their trip instances end up on
// shared segments the way the schedule loader produces them.
type Builder struct {
	g          *Graph
	routeByKey map[string]int
}

// NewBuilder creates a builder with an empty graph.
func NewBuilder() *Builder {
	return &Builder{g: NewGraph(), routeByKey: map[string]int{}}
}

// Station adds a station.
func (b *Builder) Station(id, name string, transferTime int) *Station {
	return b.g.AddStation(id, name, transferTime)
}

// Train adds one train run. days lists the schedule day indices the
// train operates on; one trip instance per day is inserted on every
// segment. Returns the route id the train ended up on.
func (b *Builder) Train(category string, trainNr int, stops []Stop, days ...int) (int, error) {
	if len(stops) < 2 {
		return 0, fmt.Errorf("train %d: needs at least two stops", trainNr)
	}
	if len(days) == 0 {
		days = []int{0}
	}
	key := b.routeKey(stops)
	routeID, shared := b.routeByKey[key]
	var nodes []*RouteNode
	if shared {
		nodes = b.routeNodes(routeID)
		if len(nodes) != len(stops) {
			return 0, fmt.Errorf("train %d: route %d stop count mismatch", trainNr, routeID)
		}
	} else {
		routeID = b.g.NewRouteID()
		for i, st := range stops {
			station := b.g.StationByID(st.Station)
			if station == nil {
				return 0, fmt.Errorf("train %d: unknown station %q", trainNr, st.Station)
			}
			n := b.g.AddNode(station, routeID, i < len(stops)-1, i > 0)
			if i > 0 {
				e := &RouteEdge{From: nodes[i-1], To: n}
				nodes[i-1].Out = e
				n.In = e
			}
			nodes = append(nodes, n)
		}
		b.g.RouteFirst[routeID] = nodes[0]
		b.routeByKey[key] = routeID
	}

	info := &TripInfo{TrainNr: trainNr, Category: category, Class: ClassOf(category)}
	for _, day := range days {
		off := Time(day * MinutesPerDay)
		for i := 0; i+1 < len(stops); i++ {
			e := nodes[i].Out
			e.Trips = append(e.Trips, TripTimes{
				Dep:  stops[i].Dep + off,
				Arr:  stops[i+1].Arr + off,
				Info: info,
			})
			sort.Slice(e.Trips, func(a, c int) bool { return e.Trips[a].Dep < e.Trips[c].Dep })
		}
	}
	b.g.AddTrainRoute(trainNr, routeID)
	if err := b.g.CheckRoute(nodes[0]); err != nil {
		return 0, fmt.Errorf("train %d: %w", trainNr, err)
	}
	return routeID, nil
}

// Graph returns the built graph.
func (b *Builder) Graph() *Graph { return b.g }

func (b *Builder) routeKey(stops []Stop) string {
	ids := make([]string, len(stops))
	for i, s := range stops {
		ids[i] = s.Station
	}
	return strings.Join(ids, "\x00")
}

func (b *Builder) routeNodes(routeID int) []*RouteNode {
	var nodes []*RouteNode
	for n := b.g.RouteFirst[routeID]; n != nil; n = n.NextNode() {
		nodes = append(nodes, n)
	}
	return nodes
}

// ClassOf maps a train category to its coarse class.
func ClassOf(category string) int {
	switch category {
	case "ICE":
		return 1
	case "IC", "EC":
		return 2
	case "RE", "RB":
		return 6
	case "S":
		return 7
	default:
		return 9
	}
}
