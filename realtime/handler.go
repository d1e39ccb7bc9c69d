package realtime

import (
	"fmt"
	"log"
)

// Handler dispatches external realtime messages into the engine. It
// validates the references, feeds the propagation queue and triggers
// the structural mutations; the caller finishes the batch afterwards.
type Handler struct {
	rt *RT
}

// NewHandler creates the message dispatcher.
func NewHandler(rt *RT) *Handler { return &Handler{rt: rt} }

// HandleBatch processes a batch of messages and runs the propagation
// to its fixed point once at the end.
func (h *Handler) HandleBatch(msgs []Message) {
	for _, m := range msgs {
		if err := h.Handle(m); err != nil {
			h.rt.Stats.Messages.Invalid++
			log.Printf("[handler] %v message rejected: %v", m.Type(), err)
		}
	}
	h.rt.FinishBatch()
}

// Handle processes a single message without finishing the batch.
func (h *Handler) Handle(msg Message) error {
	switch m := msg.(type) {
	case *DelayMessage:
		return h.handleDelay(m)
	case *AdditionalTrainMessage:
		return h.handleAdditionalTrain(m)
	case *CancelTrainMessage:
		return h.handleCancelTrain(m)
	case *RerouteTrainMessage:
		return h.handleReroute(m)
	case *ConnectionDecisionMessage:
		return h.handleConnectionDecision(m)
	}
	return fmt.Errorf("unknown message type %T", msg)
}

func (h *Handler) handleDelay(m *DelayMessage) error {
	h.rt.Stats.Messages.Delay++
	for _, up := range m.Updates {
		if !up.Event.Valid() || up.Event.TrainNr != m.TrainNr {
			h.rt.Stats.Messages.Invalid++
			continue
		}
		reason := ReasonForecast
		if up.IsReport {
			reason = ReasonIs
		}
		h.rt.tracef(m.TrainNr, "delay %v -> %v (%v)", up.Event, up.UpdatedTime, reason)
		h.rt.Propagator.HandleDelayMessage(up.Event, up.UpdatedTime, reason)
	}
	return nil
}

func (h *Handler) handleAdditionalTrain(m *AdditionalTrainMessage) error {
	h.rt.Stats.Messages.Additional++
	for _, st := range m.Stops {
		station := h.rt.Graph.StationByID(st.StationID)
		if station == nil {
			continue // CreateAdditionalRoute reports unknown stations
		}
		if st.Arrival.Valid() && h.rt.EventExists(ScheduleEvent{Station: station.Index,
			TrainNr: m.TrainNr, Departure: false, Time: st.Arrival}) {
			return fmt.Errorf("additional train %d: arrival at %s already exists", m.TrainNr, st.StationID)
		}
		if st.Departure.Valid() && h.rt.EventExists(ScheduleEvent{Station: station.Index,
			TrainNr: m.TrainNr, Departure: true, Time: st.Departure}) {
			return fmt.Errorf("additional train %d: departure at %s already exists", m.TrainNr, st.StationID)
		}
	}
	start, routeID, err := h.rt.Updater.CreateAdditionalRoute(m.Category, m.TrainNr, m.Stops)
	if err != nil {
		return err
	}

	mt := &ModifiedTrain{
		TrainNr:      m.TrainNr,
		Category:     m.Category,
		RouteID:      routeID,
		CurrentStart: start,
		IsAdditional: true,
	}
	for _, st := range m.Stops {
		station := h.rt.Graph.StationByID(st.StationID)
		if st.Arrival.Valid() {
			mt.Events = append(mt.Events, ScheduleEvent{Station: station.Index,
				TrainNr: m.TrainNr, Departure: false, Time: st.Arrival})
		}
		if st.Departure.Valid() {
			mt.Events = append(mt.Events, ScheduleEvent{Station: station.Index,
				TrainNr: m.TrainNr, Departure: true, Time: st.Departure})
		}
	}
	h.rt.Trains.Add(mt)

	// reports that arrived before the train existed are bound now
	for _, ev := range mt.Events {
		if bdi := h.rt.Store.GetBuffered(ev); bdi != nil {
			h.rt.Store.Upgrade(bdi, routeID)
			h.rt.Propagator.applyBuffered(bdi)
		}
	}
	h.rt.tracef(m.TrainNr, "additional train %d created on route %d", m.TrainNr, routeID)
	return nil
}

func (h *Handler) handleCancelTrain(m *CancelTrainMessage) error {
	h.rt.Stats.Messages.Cancel++
	if len(m.Events) == 0 {
		return fmt.Errorf("cancel message for train %d without events", m.TrainNr)
	}
	events := m.Events
	// a train cannot arrive without departing: when the earliest
	// cancelled event is an arrival, the departure feeding it is
	// cancelled along
	first := events[0]
	for _, ev := range events[1:] {
		if ev.Less(first) {
			first = ev
		}
	}
	if first.Arrival() {
		prev := h.rt.PrevScheduleEvent(h.rt.GraphEventOf(first))
		if prev.Valid() && !containsEvent(events, prev) {
			events = append(events[:len(events):len(events)], prev)
		}
	}
	start, err := h.locateRun(m.TrainNr, events)
	if err != nil {
		return err
	}
	return h.rt.Updater.AdjustTrain(start, events, nil, "")
}

func containsEvent(events []ScheduleEvent, ev ScheduleEvent) bool {
	for _, e := range events {
		if e == ev {
			return true
		}
	}
	return false
}

func (h *Handler) handleReroute(m *RerouteTrainMessage) error {
	h.rt.Stats.Messages.Reroute++
	if len(m.CanceledEvents) == 0 && len(m.NewStops) == 0 {
		return fmt.Errorf("empty reroute for train %d", m.TrainNr)
	}
	start, err := h.locateRun(m.TrainNr, m.CanceledEvents)
	if err != nil {
		// a reroute for a train we never saw introduces it
		if len(m.CanceledEvents) == 0 {
			return h.handleAdditionalTrain(&AdditionalTrainMessage{
				TrainNr: m.TrainNr, Category: m.Category, Stops: m.NewStops})
		}
		return err
	}
	return h.rt.Updater.AdjustTrain(start, m.CanceledEvents, m.NewStops, m.Category)
}

func (h *Handler) handleConnectionDecision(m *ConnectionDecisionMessage) error {
	h.rt.Stats.Messages.Decision++
	if !m.FeederArrival.Valid() || !m.ConnectorDeparture.Valid() {
		return fmt.Errorf("connection decision with invalid events")
	}
	if m.Kept {
		h.rt.Waiting.AddAdditionalEdge(m.FeederArrival, m.ConnectorDeparture, UnlimitedWait)
	} else {
		h.rt.Waiting.RemoveAdditionalEdge(m.FeederArrival, m.ConnectorDeparture)
	}
	h.rt.Propagator.Enqueue(m.FeederArrival, queueRecalc, UnknownRoute)
	h.rt.Propagator.Enqueue(m.ConnectorDeparture, queueRecalc, UnknownRoute)
	return nil
}

// locateRun resolves any referenced event of a train to the first
// departure of its run.
func (h *Handler) locateRun(trainNr int, events []ScheduleEvent) (ScheduleEvent, error) {
	for _, ev := range events {
		if !ev.Valid() {
			continue
		}
		if start, _, _, ok := h.rt.LocateStartOfTrain(ev); ok {
			return start, nil
		}
	}
	if len(events) > 0 {
		if dep := h.rt.FindDepartureEvent(trainNr, events[0].Time.Day()); dep.Valid() {
			if start, _, _, ok := h.rt.LocateStartOfTrain(dep); ok {
				return start, nil
			}
		}
	}
	return InvalidScheduleEvent, fmt.Errorf("train %d: no referenced event found", trainNr)
}
