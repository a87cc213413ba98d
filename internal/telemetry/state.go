package telemetry

// DroneState is the current phase of the inspection cycle.
type DroneState string

// Drone states, in cycle order.
const (
	StateTraveling DroneState = "traveling"
	StateScanning  DroneState = "scanning"
	StateUploading DroneState = "uploading"
)

// Next returns the state that follows s in the fixed
// traveling -> scanning -> uploading -> traveling cycle.
func (s DroneState) Next() DroneState {
	switch s {
	case StateTraveling:
		return StateScanning
	case StateScanning:
		return StateUploading
	default:
		return StateTraveling
	}
}

// Valid reports whether s is one of the three cycle states.
func (s DroneState) Valid() bool {
	switch s {
	case StateTraveling, StateScanning, StateUploading:
		return true
	}
	return false
}

// Status is the externally visible drone status. The site fields are empty
// until the first target has been chosen.
type Status struct {
	DroneID  string     `json:"drone_id,omitempty"`
	State    DroneState `json:"state"`
	SiteID   int64      `json:"industry_id,omitempty"`
	SiteName string     `json:"industry_name,omitempty"`
}
