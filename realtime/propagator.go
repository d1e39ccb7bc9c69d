package realtime

import (
	"container/heap"
	"log"

	"github.com/theoremus-urban-solutions/timetable-rt/timetable"
)

// queueReason records why an event sits in the propagation queue. It
// only matters for tracing and for the handful of reasons that skip
// recomputation.
type queueReason uint8

const (
	queueIs queueReason = iota
	queueForecast
	queueStanding
	queueTrain
	queueWaiting
	queueCanceled
	queueRecalc
	queueRepair
)

func (r queueReason) String() string {
	switch r {
	case queueIs:
		return "is"
	case queueForecast:
		return "forecast"
	case queueStanding:
		return "standing"
	case queueTrain:
		return "train"
	case queueWaiting:
		return "waiting"
	case queueCanceled:
		return "canceled"
	case queueRecalc:
		return "recalc"
	case queueRepair:
		return "repair"
	}
	return "unknown"
}

type queueEntry struct {
	di     *DelayInfo
	reason queueReason
}

// entryHeap orders queue entries by scheduled time so that causes are
// always processed before their effects.
type entryHeap []queueEntry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].di.Schedule.Less(h[j].di.Schedule) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)         { *h = append(*h, x.(queueEntry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Propagator runs the delay computation to its fixed point. Incoming
// messages seed the queue; ProcessQueue drains it in schedule order,
// recomputes each event, enqueues its dependents and stages the
// resulting time changes per route. The graph itself is only touched
// when the staged updates are applied at the end of a run.
type Propagator struct {
	rt *RT

	queue   entryHeap
	pending map[*DelayInfo]*infoUpdate
	byRoute map[int][]*infoUpdate
}

// NewPropagator creates an idle propagator.
func NewPropagator(rt *RT) *Propagator {
	return &Propagator{
		rt:      rt,
		pending: map[*DelayInfo]*infoUpdate{},
		byRoute: map[int][]*infoUpdate{},
	}
}

// HandleDelayMessage feeds one external time report into the queue. An
// observed time (ReasonIs) is taken over verbatim and never
// recomputed; a forecast only raises the event's lower bound.
func (p *Propagator) HandleDelayMessage(ev ScheduleEvent, newTime timetable.Time, reason Reason) {
	di := p.rt.Store.Get(ev)
	if di == nil {
		if bdi := p.rt.Store.GetBuffered(ev); bdi != nil {
			// train still under construction, remember the report
			bufferReport(bdi, newTime, reason)
			return
		}
		node, _, _ := p.rt.Locate(GraphEvent{Station: ev.Station, TrainNr: ev.TrainNr,
			Departure: ev.Departure, Time: ev.Time, Route: UnknownRoute})
		if node == nil {
			// buffer the report, the train may arrive as an
			// additional-train message later
			p.rt.Stats.Propagation.EventNotFound++
			p.rt.tracef(ev.TrainNr, "delay message for unknown event %v, buffering", ev)
			bufferReport(p.rt.Store.CreateBuffered(ev), newTime, reason)
			return
		}
		di = p.rt.Store.Create(ev, node.Route)
	}

	switch reason {
	case ReasonIs:
		p.addUpdate(di, newTime, ReasonIs)
		p.enqueueInfo(di, queueIs)
	case ReasonRepair:
		p.addUpdate(di, newTime, ReasonRepair)
		p.enqueueInfo(di, queueRepair)
	case ReasonForecast:
		di.ForecastTime = newTime
		p.enqueueInfo(di, queueForecast)
	default:
		log.Printf("[propagator] unexpected message reason %v for %v", reason, ev)
	}
}

// bufferReport parks a report on a buffered record. The reported time
// sits in ForecastTime until the train materializes; the current time
// stays at schedule so the record can be staged like any other once it
// is bound to a route.
func bufferReport(bdi *DelayInfo, newTime timetable.Time, reason Reason) {
	bdi.ForecastTime = newTime
	if reason != ReasonForecast {
		bdi.Reason = reason
	}
}

// applyBuffered replays a parked report after its record was bound to a
// route: an observation is staged as if the message arrived now, a
// forecast goes through the regular recomputation.
func (p *Propagator) applyBuffered(di *DelayInfo) {
	if !di.ForecastTime.Valid() {
		p.enqueueInfo(di, queueRecalc)
		return
	}
	if di.Reason.Authoritative() {
		t := di.ForecastTime
		reason := di.Reason
		di.ForecastTime = timetable.Invalid
		di.Reason = ReasonSchedule
		p.addUpdate(di, t, reason)
		p.enqueueInfo(di, queueIs)
		return
	}
	p.enqueueInfo(di, queueForecast)
}

// Enqueue schedules an event for recomputation. The record is created
// on demand; routeID may be UnknownRoute, in which case the event is
// located by scanning its station.
func (p *Propagator) Enqueue(ev ScheduleEvent, reason queueReason, routeID int) {
	di := p.rt.Store.Get(ev)
	if di == nil {
		if routeID == UnknownRoute {
			node, _, _ := p.rt.Locate(GraphEvent{Station: ev.Station, TrainNr: ev.TrainNr,
				Departure: ev.Departure, Time: ev.Time, Route: UnknownRoute})
			if node == nil {
				p.rt.Stats.Propagation.EventNotFound++
				p.rt.diagnoseMissing(ev)
				return
			}
			routeID = node.Route
		}
		di = p.rt.Store.Create(ev, routeID)
	}
	p.enqueueInfo(di, reason)
}

func (p *Propagator) enqueueInfo(di *DelayInfo, reason queueReason) {
	p.rt.Stats.Propagation.Enqueued++
	p.rt.tracef(di.Schedule.TrainNr, "enqueue %v (%v)", di.Schedule, reason)
	heap.Push(&p.queue, queueEntry{di: di, reason: reason})
}

// ProcessQueue drains the queue to the fixed point and applies the
// staged updates to the graph. Repairs of non-monotonic times are
// issued as synthetic messages; their number per run is capped so a
// contradictory input can never loop forever.
func (p *Propagator) ProcessQueue() {
	if p.queue.Len() == 0 && len(p.byRoute) == 0 {
		return
	}
	p.rt.Stats.Propagation.Runs++
	repairBudget := p.rt.Opts.Propagation.MaxRepairIterations
	for p.queue.Len() > 0 {
		e := heap.Pop(&p.queue).(queueEntry)
		updated := true
		switch e.reason {
		case queueIs, queueRepair, queueCanceled:
			// time already staged (or cancellation), nothing to compute
		default:
			updated = p.calculateMax(e.di)
		}
		if updated {
			if e.reason != queueCanceled {
				p.rt.Stats.Propagation.Updates++
			}
			p.queueDependents(e.di)
		}
		if !e.di.Canceled {
			p.repair(e.di, &repairBudget)
		}
	}
	p.applyUpdates()
}

// calculateMax recomputes the event's best-known time as the maximum
// of its independent lower bounds. Returns whether the time changed.
func (p *Propagator) calculateMax(di *DelayInfo) bool {
	if p.newReason(di).Authoritative() {
		return false
	}
	max := di.Schedule.Time
	reason := ReasonSchedule
	if di.ForecastTime.Valid() && di.ForecastTime > max {
		max = di.ForecastTime
		reason = ReasonForecast
	}

	prev := p.rt.PrevScheduleEvent(di.GraphEvent())
	if di.Schedule.Departure {
		if prev.Valid() {
			standing := int(di.Schedule.Time - prev.Time)
			if standing > p.rt.Opts.Propagation.MinStandingTime {
				standing = p.rt.Opts.Propagation.MinStandingTime
			}
			if t := p.newTimeOf(prev) + timetable.Time(standing); t > max {
				max = t
				reason = ReasonPropagation
			}
		}
		ic := timetable.Time(p.rt.TransferTime(di.Schedule.Station))
		for _, we := range p.rt.Waiting.EdgesTo(di.Schedule, di.Route) {
			fdi := p.rt.Store.Get(we.FeederArrival)
			if fdi == nil || fdi.Canceled {
				continue
			}
			feederTime := p.newTime(fdi)
			if feederTime == we.FeederArrival.Time {
				continue
			}
			reachedAt := feederTime + ic
			withinBudget := we.WaitingTime == UnlimitedWait ||
				reachedAt <= di.Schedule.Time+timetable.Time(we.WaitingTime)
			if withinBudget && reachedAt > max {
				max = reachedAt
				reason = ReasonPropagation
			}
		}
	} else if prev.Valid() {
		travel := di.Schedule.Time - prev.Time
		if t := p.newTimeOf(prev) + travel; t > max {
			max = t
			reason = ReasonPropagation
		}
	}

	if max != p.newTime(di) {
		p.rt.tracef(di.Schedule.TrainNr, "recompute %v: %v -> %v (%v)",
			di.Schedule, p.newTime(di), max, reason)
		p.addUpdate(di, max, reason)
		return true
	}
	return false
}

// queueDependents enqueues everything whose time may depend on di: the
// next event of the train, and for arrivals every connector departure
// that waits (or waited) for it.
func (p *Propagator) queueDependents(di *DelayInfo) {
	if next := p.rt.NextScheduleEvent(di.GraphEvent()); next.Valid() {
		p.Enqueue(next, queueTrain, di.Route)
	}
	if di.Schedule.Departure {
		return
	}

	isDelayed := p.newTime(di) != di.Schedule.Time
	wasDelayed := di.Delayed()
	ic := timetable.Time(p.rt.TransferTime(di.Schedule.Station))

	for _, we := range p.rt.Waiting.EdgesFrom(di.Schedule, di.Route) {
		cdi := p.rt.Store.Get(we.ConnectorDeparture)
		if cdi != nil && p.newReason(cdi).Authoritative() {
			continue
		}
		if isDelayed && !di.Canceled {
			waitUntil := p.newTime(di) + ic
			wouldWait := we.ConnectorDeparture.Time < waitUntil &&
				(we.WaitingTime == UnlimitedWait ||
					waitUntil <= we.ConnectorDeparture.Time+timetable.Time(we.WaitingTime))
			if wouldWait && (cdi == nil || p.newReason(cdi) != ReasonPropagation || p.newTime(cdi) != waitUntil) {
				p.Enqueue(we.ConnectorDeparture, queueWaiting, UnknownRoute)
				continue
			}
		}
		// a connector that currently carries a propagated time must be
		// recomputed when its feeder recovers or is cancelled
		if cdi != nil && cdi.Reason == ReasonPropagation && (isDelayed || wasDelayed || di.Canceled) {
			p.enqueueInfo(cdi, queueWaiting)
		}
	}
}

// repair restores monotonic times along the train after authoritative
// reports: a report must never place an event before its predecessor
// or after an authoritative successor.
func (p *Propagator) repair(di *DelayInfo, budget *int) {
	thisTime := p.newTime(di)
	thisReason := p.newReason(di)
	ge := di.GraphEvent()

	if next := p.rt.NextScheduleEvent(ge); next.Valid() {
		if ndi := p.rt.Store.Get(next); ndi != nil && !ndi.Canceled {
			nextTime := p.newTime(ndi)
			if thisTime > nextTime && thisReason.Authoritative() && p.newReason(ndi).Authoritative() {
				p.issueRepair(di.Schedule, nextTime, budget)
				thisTime = nextTime
			}
		}
	}

	if thisReason.Authoritative() {
		if prev := p.rt.PrevScheduleEvent(ge); prev.Valid() {
			pdi := p.rt.Store.Get(prev)
			if pdi == nil || !pdi.Canceled {
				prevTime := prev.Time
				if pdi != nil {
					prevTime = p.newTime(pdi)
				}
				if thisTime < prevTime {
					p.issueRepair(prev, thisTime, budget)
				}
			}
		}
	}
}

func (p *Propagator) issueRepair(ev ScheduleEvent, t timetable.Time, budget *int) {
	if *budget <= 0 {
		p.rt.Stats.Propagation.RepairLimit++
		log.Printf("[propagator] repair limit reached, %v left inconsistent", ev)
		return
	}
	*budget--
	p.rt.Stats.Propagation.Repairs++
	p.rt.tracef(ev.TrainNr, "repair %v -> %v", ev, t)
	p.HandleDelayMessage(ev, t, ReasonRepair)
}

// addUpdate stages a time change, deduplicated per record and grouped
// by route for the graph update pass.
func (p *Propagator) addUpdate(di *DelayInfo, t timetable.Time, reason Reason) {
	if di.Route == UnknownRoute {
		log.Printf("[propagator] dropping update for unrouted record %v", di)
		return
	}
	if u, ok := p.pending[di]; ok {
		u.time = t
		u.reason = reason
		return
	}
	u := &infoUpdate{info: di, time: t, reason: reason}
	p.pending[di] = u
	p.byRoute[di.Route] = append(p.byRoute[di.Route], u)
}

// newTime returns the staged time of a record, falling back to the
// applied current time.
func (p *Propagator) newTime(di *DelayInfo) timetable.Time {
	if u, ok := p.pending[di]; ok {
		return u.time
	}
	return di.CurrentTime
}

// newReason is newTime for the reason.
func (p *Propagator) newReason(di *DelayInfo) Reason {
	if u, ok := p.pending[di]; ok {
		return u.reason
	}
	return di.Reason
}

// newTimeOf looks an event up by its stable identity.
func (p *Propagator) newTimeOf(ev ScheduleEvent) timetable.Time {
	if di := p.rt.Store.Get(ev); di != nil {
		return p.newTime(di)
	}
	return ev.Time
}

// moveStagedRoute re-buckets a staged update after a route split.
func (p *Propagator) moveStagedRoute(di *DelayInfo, oldRouteID, newRouteID int) {
	u, ok := p.pending[di]
	if !ok {
		return
	}
	bucket := p.byRoute[oldRouteID]
	for i, v := range bucket {
		if v == u {
			p.byRoute[oldRouteID] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	p.byRoute[newRouteID] = append(p.byRoute[newRouteID], u)
}

// applyUpdates hands the staged updates to the graph mutator, one
// route at a time. Route splits during a batch may re-bucket updates
// of routes not yet processed, so the map is drained rather than
// iterated once.
func (p *Propagator) applyUpdates() {
	for len(p.byRoute) > 0 {
		var routeID int
		for r := range p.byRoute {
			routeID = r
			break
		}
		batch := p.byRoute[routeID]
		delete(p.byRoute, routeID)
		for _, u := range batch {
			delete(p.pending, u.info)
		}
		if len(batch) > 0 {
			p.rt.Updater.PerformUpdates(routeID, batch)
		}
	}
}
