package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func scaled(t ThresholdSet, ratio float64) Body {
	return Body{PM25: t.PM25 * ratio, PM10: t.PM10 * ratio, NO2: t.NO2 * ratio, SO2: t.SO2 * ratio, CO2: t.CO2 * ratio}
}

func TestComplianceScoreAnchors(t *testing.T) {
	cases := []struct {
		name  string
		ratio float64
		want  float64
	}{
		{"at threshold", 1.0, 50.0},
		{"clean", 0, 100.0},
		{"double", 2.0, 0.0},
		{"beyond cap", 3.5, 0.0},
		{"half", 0.5, 75.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := scaled(steelLimits, tc.ratio)
			got, ok := ComplianceScore(&b, &steelLimits)
			assert.True(t, ok)
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}
}

func TestComplianceScoreUndefined(t *testing.T) {
	b := scaled(steelLimits, 1)
	_, ok := ComplianceScore(nil, &steelLimits)
	assert.False(t, ok)
	_, ok = ComplianceScore(&b, nil)
	assert.False(t, ok)

	var zero ThresholdSet
	_, ok = ComplianceScore(&b, &zero)
	assert.False(t, ok, "no channel has a usable threshold")
}

func TestComplianceScoreMonotonic(t *testing.T) {
	b := scaled(steelLimits, 0.6)
	prev, ok := ComplianceScore(&b, &steelLimits)
	assert.True(t, ok)
	for no2 := 0.0; no2 <= steelLimits.NO2*3; no2 += 3.7 {
		b.NO2 = no2
		if no2 == 0 {
			prev, _ = ComplianceScore(&b, &steelLimits)
			continue
		}
		got, _ := ComplianceScore(&b, &steelLimits)
		assert.LessOrEqual(t, got, prev, "score increased at no2=%.1f", no2)
		prev = got
	}
}

func TestComplianceScoreRoundsToOneDecimal(t *testing.T) {
	b := Body{PM25: 61, PM10: 100, NO2: 80, SO2: 80, CO2: 1000}
	got, ok := ComplianceScore(&b, &steelLimits)
	assert.True(t, ok)
	// ratios: 1.01667, 1, 1, 1, 1 -> avg 1.00333 -> 49.833
	assert.Equal(t, 49.8, got)
}

func TestIsViolationStrict(t *testing.T) {
	atLimit := scaled(steelLimits, 1)
	assert.False(t, IsViolation(atLimit, steelLimits))

	over := atLimit
	over.SO2 += 0.01
	assert.True(t, IsViolation(over, steelLimits))

	ex := Exceedances(over, steelLimits)
	if assert.Len(t, ex, 1) {
		assert.Equal(t, ChannelSO2, ex[0].Pollutant)
		assert.Equal(t, steelLimits.SO2, ex[0].Limit)
	}
	assert.Empty(t, Exceedances(atLimit, steelLimits))
}
