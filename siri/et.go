package siri

import (
	"fmt"
	"time"

	transit "github.com/theoremus-urban-solutions/transit-types/siri"

	"github.com/theoremus-urban-solutions/timetable-rt/gtfs"
	"github.com/theoremus-urban-solutions/timetable-rt/realtime"
	"github.com/theoremus-urban-solutions/timetable-rt/timetable"
)

// Exporter publishes the engine's live state as a SIRI Estimated
// Timetable delivery. It subscribes to the engine's output stream and
// keeps the set of trains touched since startup; a delivery contains
// one journey per touched train, rebuilt from the live graph.
type Exporter struct {
	rt   *realtime.RT
	idx  *gtfs.Index
	base time.Time

	touched map[int]realtime.ScheduleEvent
}

// NewExporter wires an exporter into the engine's output stream. base
// is the wall-clock midnight of schedule day zero.
func NewExporter(rt *realtime.RT, idx *gtfs.Index, base time.Time) *Exporter {
	e := &Exporter{rt: rt, idx: idx, base: base, touched: map[int]realtime.ScheduleEvent{}}
	rt.Output.Subscribe(e.observe)
	return e
}

func (e *Exporter) observe(batch []realtime.DelayEvent) {
	for _, ev := range batch {
		e.touched[ev.Event.TrainNr] = ev.Event
	}
}

// BuildEstimatedTimetable renders the current state of every touched
// train.
func (e *Exporter) BuildEstimatedTimetable() transit.EstimatedTimetableDelivery {
	now := time.Now()
	journeys := make([]transit.EstimatedVehicleJourney, 0, len(e.touched))
	for trainNr, ref := range e.touched {
		if j := e.buildJourney(trainNr, ref, now); j != nil {
			journeys = append(journeys, *j)
		}
	}

	frame := transit.EstimatedJourneyVersionFrame{
		RecordedAtTime:          now.Format(time.RFC3339),
		EstimatedVehicleJourney: journeys,
	}
	return transit.EstimatedTimetableDelivery{
		Version:                      "2.0",
		ResponseTimestamp:            now.Format(time.RFC3339),
		EstimatedJourneyVersionFrame: []transit.EstimatedJourneyVersionFrame{frame},
	}
}

func (e *Exporter) buildJourney(trainNr int, ref realtime.ScheduleEvent, now time.Time) *transit.EstimatedVehicleJourney {
	start, startNode, _, ok := e.rt.LocateStartOfTrain(ref)
	if !ok {
		return nil
	}
	stops := e.rt.TrainEvents(start)
	if len(stops) == 0 {
		return nil
	}

	agencyID := "UNKNOWN"
	if e.idx != nil && e.idx.AgencyID() != "" {
		agencyID = e.idx.AgencyID()
	}
	category := ""
	if startNode.Out != nil && len(startNode.Out.Trips) > 0 {
		category = startNode.Out.Trips[0].Info.Category
	}
	journeyRef := fmt.Sprintf("%s:ServiceJourney:%d", agencyID, trainNr)
	if e.idx != nil {
		if tripID := e.idx.TripID(trainNr); tripID != "" {
			journeyRef = agencyID + ":ServiceJourney:" + tripID
		}
	}

	recorded, estimated := e.buildCallSequence(stops, agencyID)
	journey := &transit.EstimatedVehicleJourney{
		RecordedAtTime: now.Format(time.RFC3339),
		LineRef:        fmt.Sprintf("%s:Line:%s%d", agencyID, category, trainNr),
		DirectionRef:   "0",
		FramedVehicleJourneyRef: transit.FramedVehicleJourneyRef{
			DataFrameRef:           e.base.AddDate(0, 0, start.Time.Day()).Format("2006-01-02"),
			DatedVehicleJourneyRef: journeyRef,
		},
		VehicleMode:            "rail",
		OriginName:             stops[0].Node.Station.Name,
		DestinationName:        stops[len(stops)-1].Node.Station.Name,
		Monitored:              true,
		DataSource:             agencyID,
		OperatorRef:            agencyID,
		RecordedCalls:          recorded,
		EstimatedCalls:         estimated,
		IsCompleteStopSequence: true,
	}
	return journey
}

func (e *Exporter) buildCallSequence(stops []realtime.TrainStop, agencyID string) ([]transit.RecordedCall, []transit.EstimatedCall) {
	recorded := []transit.RecordedCall{}
	estimated := []transit.EstimatedCall{}

	for order, st := range stops {
		ref := agencyID + ":Quay:" + st.Node.Station.ID
		name := st.Node.Station.Name

		arrInfo := e.rt.Store.Get(st.Arrival)
		depInfo := e.rt.Store.Get(st.Departure)
		// a stop whose times are all observations is done and recorded
		observed := (arrInfo != nil && arrInfo.Reason == realtime.ReasonIs) &&
			(!st.Departure.Valid() || (depInfo != nil && depInfo.Reason == realtime.ReasonIs))

		if observed {
			call := transit.RecordedCall{
				StopPointRef:  ref,
				Order:         order + 1,
				StopPointName: name,
				Cancellation:  arrInfo.Canceled,
			}
			call.AimedArrivalTime = e.iso(st.Arrival.Time)
			call.ActualArrivalTime = e.iso(arrInfo.CurrentTime)
			if st.Departure.Valid() {
				call.AimedDepartureTime = e.iso(st.Departure.Time)
				call.ActualDepartureTime = e.iso(depInfo.CurrentTime)
			}
			recorded = append(recorded, call)
			continue
		}

		call := transit.EstimatedCall{
			StopPointRef:  ref,
			Order:         order + 1,
			StopPointName: name,
		}
		if st.Arrival.Valid() {
			cur := e.rt.Store.CurrentTime(st.Arrival)
			call.AimedArrivalTime = e.iso(st.Arrival.Time)
			call.ExpectedArrivalTime = e.iso(cur)
			call.ArrivalStatus = status(cur - st.Arrival.Time)
			if arrInfo != nil && arrInfo.Canceled {
				call.Cancellation = true
			}
		}
		if st.Departure.Valid() {
			cur := e.rt.Store.CurrentTime(st.Departure)
			call.AimedDepartureTime = e.iso(st.Departure.Time)
			call.ExpectedDepartureTime = e.iso(cur)
			call.DepartureStatus = status(cur - st.Departure.Time)
			if depInfo != nil && depInfo.Canceled {
				call.Cancellation = true
			}
		}
		estimated = append(estimated, call)
	}
	return recorded, estimated
}

func (e *Exporter) iso(t timetable.Time) string {
	if !t.Valid() {
		return ""
	}
	return e.base.Add(time.Duration(t) * time.Minute).Format(time.RFC3339)
}

func status(delayMinutes timetable.Time) string {
	switch {
	case delayMinutes <= -1:
		return "early"
	case delayMinutes < 1:
		return "onTime"
	default:
		return "delayed"
	}
}
