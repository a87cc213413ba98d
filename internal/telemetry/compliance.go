package telemetry

import "math"

// maxRatio caps a single channel's contribution to the score.
const maxRatio = 2.0

// ComplianceScore reduces a reading and its thresholds to a 0-100 score where
// 100 is fully compliant and 50 sits exactly at the limit. It returns false when
// either input is missing or no channel has a usable threshold.
func ComplianceScore(b *Body, t *ThresholdSet) (float64, bool) {
	if b == nil || t == nil {
		return 0, false
	}
	var sum float64
	var n int
	for _, p := range pairs(*b, *t) {
		if !(p.limit > 0) || !(p.value >= 0) || math.IsInf(p.value, 0) {
			continue
		}
		sum += math.Min(p.value/p.limit, maxRatio)
		n++
	}
	if n == 0 {
		return 0, false
	}
	avg := sum / float64(n)
	score := math.Round((maxRatio-avg)/maxRatio*100*10) / 10
	return math.Max(0, score), true
}
