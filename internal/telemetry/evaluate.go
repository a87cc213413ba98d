package telemetry

// IsViolation reports whether any pollutant channel strictly exceeds its threshold.
func IsViolation(b Body, t ThresholdSet) bool {
	for _, p := range pairs(b, t) {
		if p.value > p.limit {
			return true
		}
	}
	return false
}

// Exceedance describes one channel over its limit.
type Exceedance struct {
	Pollutant Channel `json:"pollutant"`
	Value     float64 `json:"value"`
	Limit     float64 `json:"limit"`
}

// Exceedances lists the channels of b that exceed t, in canonical channel order.
func Exceedances(b Body, t ThresholdSet) []Exceedance {
	var out []Exceedance
	for _, p := range pairs(b, t) {
		if p.value > p.limit {
			out = append(out, Exceedance{Pollutant: p.channel, Value: p.value, Limit: p.limit})
		}
	}
	return out
}
