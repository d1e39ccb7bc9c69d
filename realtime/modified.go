package realtime

// ModifiedTrain records a train whose run no longer matches the static
// schedule: additional trains, cancellations and reroutes. The current
// stops are kept as stable identities so later messages addressing the
// original schedule can still be resolved.
type ModifiedTrain struct {
	TrainNr       int
	Category      string
	RouteID       int
	CurrentStart  ScheduleEvent
	Events        []ScheduleEvent
	IsAdditional  bool
	CanceledStops int
}

// ContainsEvent reports whether the event belongs to this train's run.
func (m *ModifiedTrain) ContainsEvent(ev ScheduleEvent) bool {
	for _, e := range m.Events {
		if e == ev {
			return true
		}
	}
	return false
}

// ModifiedTrains is the registry of structurally changed trains,
// indexed by route id and searchable by event identity.
type ModifiedTrains struct {
	trains  []*ModifiedTrain
	byRoute map[int]*ModifiedTrain
}

// NewModifiedTrains creates an empty registry.
func NewModifiedTrains() *ModifiedTrains {
	return &ModifiedTrains{byRoute: map[int]*ModifiedTrain{}}
}

// Add registers a modified train.
func (m *ModifiedTrains) Add(t *ModifiedTrain) {
	m.trains = append(m.trains, t)
	m.byRoute[t.RouteID] = t
}

// WithRouteID returns the modified train owning a route, or nil.
func (m *ModifiedTrains) WithRouteID(routeID int) *ModifiedTrain {
	return m.byRoute[routeID]
}

// WithEvent searches all modified trains for one containing the event.
func (m *ModifiedTrains) WithEvent(ev ScheduleEvent) *ModifiedTrain {
	for _, t := range m.trains {
		if t.TrainNr == ev.TrainNr && t.ContainsEvent(ev) {
			return t
		}
	}
	return nil
}

// UpdateRouteID re-keys a modified train after a route split.
func (m *ModifiedTrains) UpdateRouteID(t *ModifiedTrain, newRouteID int) {
	if m.byRoute[t.RouteID] == t {
		delete(m.byRoute, t.RouteID)
	}
	t.RouteID = newRouteID
	m.byRoute[newRouteID] = t
}

// All returns every registered train.
func (m *ModifiedTrains) All() []*ModifiedTrain { return m.trains }
