package realtime

import (
	"testing"

	"github.com/theoremus-urban-solutions/timetable-rt/config"
	"github.com/theoremus-urban-solutions/timetable-rt/timetable"
)

// connectionNet builds a feeder RB 14 Offenbach 13:50 -> Frankfurt Hbf
// 14:05 and a connector RE 23 Frankfurt Hbf 14:15 -> Hanau 14:40.
// Frankfurt has an eight minute interchange.
func connectionNet(t *testing.T, rules ...config.WaitingRule) *RT {
	t.Helper()
	b := timetable.NewBuilder()
	b.Station("OF", "Offenbach", 5)
	b.Station("FFM", "Frankfurt Hbf", 8)
	b.Station("HU", "Hanau", 5)
	addTrain(t, b, "RB", 14, []timetable.Stop{
		{Station: "OF", Arr: timetable.Invalid, Dep: hm(13, 50)},
		{Station: "FFM", Arr: hm(14, 5), Dep: timetable.Invalid},
	})
	addTrain(t, b, "RE", 23, []timetable.Stop{
		{Station: "FFM", Arr: timetable.Invalid, Dep: hm(14, 15)},
		{Station: "HU", Arr: hm(14, 40), Dep: timetable.Invalid},
	})
	return New(b.Graph(), Options{Waiting: config.WaitingRules{Rules: rules}})
}

func TestDerivedWaitingEdges(t *testing.T) {
	rt := connectionNet(t, config.WaitingRule{Connector: "RE", Feeder: "RB", WaitMinutes: 5})
	ffm := stationIndex(t, rt, "FFM")
	feederRoute := rt.Graph.TrainRoutes[14][0]

	edges := rt.Waiting.EdgesFrom(arrival(ffm, 14, hm(14, 5)), feederRoute)
	if len(edges) != 1 {
		t.Fatalf("got %d waiting edges, want 1", len(edges))
	}
	e := edges[0]
	if e.ConnectorDeparture != departure(ffm, 23, hm(14, 15)) {
		t.Errorf("connector = %v", e.ConnectorDeparture)
	}
	if e.WaitingTime != 5 {
		t.Errorf("waiting time = %d, want 5", e.WaitingTime)
	}

	connectorRoute := rt.Graph.TrainRoutes[23][0]
	back := rt.Waiting.EdgesTo(departure(ffm, 23, hm(14, 15)), connectorRoute)
	if len(back) != 1 || back[0].FeederArrival != arrival(ffm, 14, hm(14, 5)) {
		t.Errorf("reverse lookup = %v", back)
	}
}

func TestNoEdgesWithoutRule(t *testing.T) {
	rt := connectionNet(t)
	ffm := stationIndex(t, rt, "FFM")
	feederRoute := rt.Graph.TrainRoutes[14][0]
	if edges := rt.Waiting.EdgesFrom(arrival(ffm, 14, hm(14, 5)), feederRoute); len(edges) != 0 {
		t.Errorf("got %d waiting edges without a rule", len(edges))
	}
}

func TestConnectorWaitsWithinBudget(t *testing.T) {
	rt := connectionNet(t, config.WaitingRule{Connector: "RE", Feeder: "RB", WaitMinutes: 5})
	ffm := stationIndex(t, rt, "FFM")
	hu := stationIndex(t, rt, "HU")

	rt.Handler.HandleBatch([]Message{&DelayMessage{TrainNr: 14, Updates: []DelayUpdate{
		{Event: arrival(ffm, 14, hm(14, 5)), UpdatedTime: hm(14, 10), IsReport: true},
	}}})

	// 14:10 feeder arrival plus 8 minutes interchange
	checkEvent(t, rt, departure(ffm, 23, hm(14, 15)), hm(14, 18), ReasonPropagation)
	checkEvent(t, rt, arrival(hu, 23, hm(14, 40)), hm(14, 43), ReasonPropagation)
}

func TestConnectorDropsFeederBeyondBudget(t *testing.T) {
	rt := connectionNet(t, config.WaitingRule{Connector: "RE", Feeder: "RB", WaitMinutes: 5})
	ffm := stationIndex(t, rt, "FFM")

	rt.Handler.HandleBatch([]Message{&DelayMessage{TrainNr: 14, Updates: []DelayUpdate{
		{Event: arrival(ffm, 14, hm(14, 5)), UpdatedTime: hm(14, 25), IsReport: true},
	}}})

	// 14:25 + 8 > 14:15 + 5: the connector departs on time
	if di := rt.Store.Get(departure(ffm, 23, hm(14, 15))); di != nil && di.Delayed() {
		t.Errorf("connector delayed beyond its waiting budget: %v", di)
	}
}

func TestKeptDecisionWaitsUnbounded(t *testing.T) {
	rt := connectionNet(t)
	ffm := stationIndex(t, rt, "FFM")
	hu := stationIndex(t, rt, "HU")

	rt.Handler.HandleBatch([]Message{
		&ConnectionDecisionMessage{
			FeederArrival:      arrival(ffm, 14, hm(14, 5)),
			ConnectorDeparture: departure(ffm, 23, hm(14, 15)),
			Kept:               true,
		},
		&DelayMessage{TrainNr: 14, Updates: []DelayUpdate{
			{Event: arrival(ffm, 14, hm(14, 5)), UpdatedTime: hm(14, 10), IsReport: true},
		}},
	})

	checkEvent(t, rt, departure(ffm, 23, hm(14, 15)), hm(14, 18), ReasonPropagation)
	checkEvent(t, rt, arrival(hu, 23, hm(14, 40)), hm(14, 43), ReasonPropagation)
}

func TestKeptDecisionIgnoresWaitingBudget(t *testing.T) {
	rt := connectionNet(t, config.WaitingRule{Connector: "RE", Feeder: "RB", WaitMinutes: 5})
	ffm := stationIndex(t, rt, "FFM")

	rt.Handler.HandleBatch([]Message{
		&ConnectionDecisionMessage{
			FeederArrival:      arrival(ffm, 14, hm(14, 5)),
			ConnectorDeparture: departure(ffm, 23, hm(14, 15)),
			Kept:               true,
		},
		&DelayMessage{TrainNr: 14, Updates: []DelayUpdate{
			{Event: arrival(ffm, 14, hm(14, 5)), UpdatedTime: hm(14, 25), IsReport: true},
		}},
	})

	checkEvent(t, rt, departure(ffm, 23, hm(14, 15)), hm(14, 33), ReasonPropagation)
}

func TestUnkeptDecisionRestoresRule(t *testing.T) {
	rt := connectionNet(t, config.WaitingRule{Connector: "RE", Feeder: "RB", WaitMinutes: 5})
	ffm := stationIndex(t, rt, "FFM")
	hu := stationIndex(t, rt, "HU")

	rt.Handler.HandleBatch([]Message{
		&ConnectionDecisionMessage{
			FeederArrival:      arrival(ffm, 14, hm(14, 5)),
			ConnectorDeparture: departure(ffm, 23, hm(14, 15)),
			Kept:               true,
		},
		&DelayMessage{TrainNr: 14, Updates: []DelayUpdate{
			{Event: arrival(ffm, 14, hm(14, 5)), UpdatedTime: hm(14, 25), IsReport: true},
		}},
	})
	checkEvent(t, rt, departure(ffm, 23, hm(14, 15)), hm(14, 33), ReasonPropagation)

	// withdrawing the decision puts the five minute rule back in charge,
	// and the feeder is too late for it
	rt.Handler.HandleBatch([]Message{&ConnectionDecisionMessage{
		FeederArrival:      arrival(ffm, 14, hm(14, 5)),
		ConnectorDeparture: departure(ffm, 23, hm(14, 15)),
		Kept:               false,
	}})
	checkEvent(t, rt, departure(ffm, 23, hm(14, 15)), hm(14, 15), ReasonSchedule)
	checkEvent(t, rt, arrival(hu, 23, hm(14, 40)), hm(14, 40), ReasonSchedule)
}

func TestUnkeptDecisionKeepsDerivedRule(t *testing.T) {
	rt := connectionNet(t, config.WaitingRule{Connector: "RE", Feeder: "RB", WaitMinutes: 5})
	ffm := stationIndex(t, rt, "FFM")

	rt.Handler.HandleBatch([]Message{&DelayMessage{TrainNr: 14, Updates: []DelayUpdate{
		{Event: arrival(ffm, 14, hm(14, 5)), UpdatedTime: hm(14, 10), IsReport: true},
	}}})
	checkEvent(t, rt, departure(ffm, 23, hm(14, 15)), hm(14, 18), ReasonPropagation)

	// there is no explicit decision to withdraw; the category rule still
	// holds the connector within its budget
	rt.Handler.HandleBatch([]Message{&ConnectionDecisionMessage{
		FeederArrival:      arrival(ffm, 14, hm(14, 5)),
		ConnectorDeparture: departure(ffm, 23, hm(14, 15)),
		Kept:               false,
	}})
	checkEvent(t, rt, departure(ffm, 23, hm(14, 15)), hm(14, 18), ReasonPropagation)
}

func TestConnectorReleasedWhenFeederRecovers(t *testing.T) {
	rt := connectionNet(t, config.WaitingRule{Connector: "RE", Feeder: "RB", WaitMinutes: 5})
	ffm := stationIndex(t, rt, "FFM")
	hu := stationIndex(t, rt, "HU")

	rt.Handler.HandleBatch([]Message{&DelayMessage{TrainNr: 14, Updates: []DelayUpdate{
		{Event: arrival(ffm, 14, hm(14, 5)), UpdatedTime: hm(14, 10)},
	}}})
	checkEvent(t, rt, departure(ffm, 23, hm(14, 15)), hm(14, 18), ReasonPropagation)

	// the forecast was wrong, the feeder shows up on time
	rt.Handler.HandleBatch([]Message{&DelayMessage{TrainNr: 14, Updates: []DelayUpdate{
		{Event: arrival(ffm, 14, hm(14, 5)), UpdatedTime: hm(14, 5), IsReport: true},
	}}})
	checkEvent(t, rt, departure(ffm, 23, hm(14, 15)), hm(14, 15), ReasonSchedule)
	checkEvent(t, rt, arrival(hu, 23, hm(14, 40)), hm(14, 40), ReasonSchedule)
}
