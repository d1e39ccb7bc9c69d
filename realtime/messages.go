package realtime

import "github.com/theoremus-urban-solutions/timetable-rt/timetable"

// MessageType enumerates the external message kinds.
type MessageType int

const (
	MsgDelay MessageType = iota
	MsgAdditionalTrain
	MsgCancelTrain
	MsgRerouteTrain
	MsgConnectionDecision
)

func (t MessageType) String() string {
	switch t {
	case MsgDelay:
		return "delay"
	case MsgAdditionalTrain:
		return "additional-train"
	case MsgCancelTrain:
		return "cancel-train"
	case MsgRerouteTrain:
		return "reroute-train"
	case MsgConnectionDecision:
		return "connection-decision"
	}
	return "unknown"
}

// Message is one external realtime message.
type Message interface {
	Type() MessageType
}

// DelayUpdate is one per-event time report inside a delay message.
type DelayUpdate struct {
	Event       ScheduleEvent
	UpdatedTime timetable.Time
	// IsReport distinguishes an observed time from a forecast.
	IsReport bool
}

// DelayMessage reports observed or forecast times for one train.
type DelayMessage struct {
	TrainNr int
	Updates []DelayUpdate
}

func (*DelayMessage) Type() MessageType { return MsgDelay }

// MessageStop describes one stop of an additional or rerouted train by
// its external station id and scheduled times. Arrival is invalid at
// the first stop, departure at the last.
type MessageStop struct {
	StationID string
	Arrival   timetable.Time
	Departure timetable.Time
}

// AdditionalTrainMessage introduces a train absent from the static
// schedule.
type AdditionalTrainMessage struct {
	TrainNr  int
	Category string
	Stops    []MessageStop
}

func (*AdditionalTrainMessage) Type() MessageType { return MsgAdditionalTrain }

// CancelTrainMessage cancels events of a train, possibly only part of
// its run.
type CancelTrainMessage struct {
	TrainNr int
	Events  []ScheduleEvent
}

func (*CancelTrainMessage) Type() MessageType { return MsgCancelTrain }

// RerouteTrainMessage cancels part of a run and adds replacement
// stops.
type RerouteTrainMessage struct {
	TrainNr        int
	Category       string
	CanceledEvents []ScheduleEvent
	NewStops       []MessageStop
}

func (*RerouteTrainMessage) Type() MessageType { return MsgRerouteTrain }

// ConnectionDecisionMessage records an explicit operator decision on a
// single connection: kept (the connector waits, unbounded) or broken.
type ConnectionDecisionMessage struct {
	FeederArrival      ScheduleEvent
	ConnectorDeparture ScheduleEvent
	Kept               bool
}

func (*ConnectionDecisionMessage) Type() MessageType { return MsgConnectionDecision }
