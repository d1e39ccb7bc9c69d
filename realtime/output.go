package realtime

import "github.com/theoremus-urban-solutions/timetable-rt/timetable"

// DelayEvent is one externally visible time change, emitted once per
// batch for every record the batch touched.
type DelayEvent struct {
	Event    ScheduleEvent
	Current  timetable.Time
	Reason   Reason
	Canceled bool
}

// Output collects the per-batch delay stream and fans it out to
// subscribers (the SIRI exporter, the monitoring log).
type Output struct {
	pending   []DelayEvent
	listeners []func([]DelayEvent)
}

// NewOutput creates an output stream with no subscribers.
func NewOutput() *Output { return &Output{} }

// Subscribe registers a batch listener.
func (o *Output) Subscribe(fn func([]DelayEvent)) {
	o.listeners = append(o.listeners, fn)
}

// Add appends one record's current state to the pending batch.
func (o *Output) Add(di *DelayInfo) {
	o.pending = append(o.pending, DelayEvent{
		Event:    di.Schedule,
		Current:  di.CurrentTime,
		Reason:   di.Reason,
		Canceled: di.Canceled,
	})
}

// Flush delivers the pending batch to every subscriber and resets it.
func (o *Output) Flush() {
	if len(o.pending) == 0 {
		return
	}
	batch := o.pending
	o.pending = nil
	for _, fn := range o.listeners {
		fn(batch)
	}
}
