package realtime

// Stats aggregates the engine counters. They are exposed verbatim by
// the monitoring endpoint.
type Stats struct {
	Messages struct {
		Delay      int `json:"delay"`
		Additional int `json:"additional"`
		Cancel     int `json:"cancel"`
		Reroute    int `json:"reroute"`
		Decision   int `json:"decision"`
		Invalid    int `json:"invalid"`
	} `json:"messages"`

	Propagation struct {
		Enqueued      int `json:"enqueued"`
		Updates       int `json:"updates"`
		Repairs       int `json:"repairs"`
		RepairLimit   int `json:"repair_limit_hits"`
		EventNotFound int `json:"event_not_found"`
		Runs          int `json:"runs"`
	} `json:"propagation"`

	Graph struct {
		RouteExtractions int `json:"route_extractions"`
		NewRoutes        int `json:"new_routes"`
		CanceledStops    int `json:"canceled_stops"`
		InvalidReroutes  int `json:"invalid_reroutes"`
	} `json:"graph"`
}
