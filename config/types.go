package config

// ServerConfig contains the monitoring server configuration
type ServerConfig struct {
	Port int `yaml:"port" validate:"gt=0"`
}

// GTFSConfig contains the static timetable feed configuration
type GTFSConfig struct {
	StaticURL string `yaml:"staticURL" validate:"omitempty,url"`
	StaticZip string `yaml:"staticZip" validate:"omitempty"`
	AgencyID  string `yaml:"agency_id" validate:"omitempty"`
}

// GTFSRTConfig contains the realtime feed configuration
type GTFSRTConfig struct {
	TripUpdatesURL string `yaml:"tripUpdatesURL" validate:"omitempty,url"`
	ReadIntervalMS int    `yaml:"readIntervalMS" validate:"gte=0"`
	TimeoutMS      int    `yaml:"timeoutMS" validate:"gte=0"`
}

// PropagationConfig contains the tunables of the delay propagator.
type PropagationConfig struct {
	// MinStandingTime caps the standing time a delayed train may
	// recover at a stop (minutes).
	MinStandingTime int `yaml:"minStandingTime" validate:"gte=0"`
	// MaxRepairIterations bounds synthetic repair messages per
	// propagation pass.
	MaxRepairIterations int `yaml:"maxRepairIterations" validate:"gte=1"`
	// MaxConnectionGap is the largest feeder-arrival to
	// connector-departure gap (minutes) considered when deriving
	// waiting edges.
	MaxConnectionGap int `yaml:"maxConnectionGap" validate:"gte=0"`
	// DefaultTransferTime is used for stations without an explicit
	// interchange time.
	DefaultTransferTime int `yaml:"defaultTransferTime" validate:"gte=0"`
}

// WaitingRule states how long trains of the connector category wait for
// delayed feeders of the feeder category.
type WaitingRule struct {
	Connector   string `yaml:"connector" validate:"required"`
	Feeder      string `yaml:"feeder" validate:"required"`
	WaitMinutes int    `yaml:"waitMinutes" validate:"gte=0"`
}

// WaitingRules is the category waiting-time matrix.
type WaitingRules struct {
	Rules []WaitingRule `yaml:"rules"`
}

// WaitingTime returns the minutes a connector of category c waits for a
// feeder of category f; 0 means it does not wait.
func (w WaitingRules) WaitingTime(c, f string) int {
	for _, r := range w.Rules {
		if r.Connector == c && r.Feeder == f {
			return r.WaitMinutes
		}
	}
	return 0
}

// TrainsWaitFor reports whether any category waits for feeders of
// category f.
func (w WaitingRules) TrainsWaitFor(f string) bool {
	for _, r := range w.Rules {
		if r.Feeder == f && r.WaitMinutes > 0 {
			return true
		}
	}
	return false
}

// AppConfig is the root configuration structure
type AppConfig struct {
	Server      ServerConfig      `yaml:"server" validate:"required"`
	GTFS        GTFSConfig        `yaml:"gtfs"`
	GTFSRT      GTFSRTConfig      `yaml:"gtfsrt"`
	Propagation PropagationConfig `yaml:"propagation"`
	Waiting     WaitingRules      `yaml:"waiting"`
	// TrackedTrains enables per-train debug tracing.
	TrackedTrains []int `yaml:"trackedTrains"`
}
