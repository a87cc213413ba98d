package telemetry

import (
	"math"
	"math/rand"
	"time"
)

// Band is one severity band of the reading model.
type Band struct {
	Name   string
	Weight float64
	Min    float64
	Max    float64
}

// Severity bands. Every pollutant of a draw is scaled by one factor taken from a
// single band, so a bad day elevates all channels together. The high band sits
// entirely above 1.0 and fixes the long-run violation rate near its weight.
var (
	BandLow    = Band{Name: "low", Weight: 55, Min: 0.40, Max: 0.78}
	BandMedium = Band{Name: "medium", Weight: 25, Min: 0.80, Max: 0.99}
	BandHigh   = Band{Name: "high", Weight: 20, Min: 1.01, Max: 1.45}

	SeverityBands = []Band{BandLow, BandMedium, BandHigh}
)

const (
	jitterMin = 0.88
	jitterMax = 1.12

	temperatureMin = 25.0
	temperatureMax = 45.0
	humidityMin    = 30.0
	humidityMax    = 80.0

	// CoordinateJitterDeg bounds the offset of a reading's position from its site.
	CoordinateJitterDeg = 0.005
)

// Draw is the outcome of one generator step.
type Draw struct {
	Band     Band
	Severity float64
	Body     Body
}

// Generator synthesizes pollutant readings.
type Generator struct {
	rand *rand.Rand
}

// NewGenerator creates a generator. A nil source seeds from the current time.
func NewGenerator(r *rand.Rand) *Generator {
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Generator{rand: r}
}

// Generate returns a synthetic reading body scaled to the given thresholds.
func (g *Generator) Generate(t ThresholdSet) Body {
	return g.Draw(t).Body
}

// Draw returns a reading body together with the severity that produced it.
func (g *Generator) Draw(t ThresholdSet) Draw {
	band := g.pickBand()
	severity := g.uniform(band.Min, band.Max)
	return Draw{
		Band:     band,
		Severity: severity,
		Body: Body{
			PM25:        round2(t.PM25 * severity * g.jitter()),
			PM10:        round2(t.PM10 * severity * g.jitter()),
			NO2:         round2(t.NO2 * severity * g.jitter()),
			SO2:         round2(t.SO2 * severity * g.jitter()),
			CO2:         round2(t.CO2 * severity * g.jitter()),
			Temperature: round2(g.uniform(temperatureMin, temperatureMax)),
			Humidity:    round2(g.uniform(humidityMin, humidityMax)),
		},
	}
}

// Locate returns a position scattered around the site, as seen from the drone.
func (g *Generator) Locate(s Site) (lat, lng float64) {
	lat = s.Lat + g.uniform(-CoordinateJitterDeg, CoordinateJitterDeg)
	lng = s.Lng + g.uniform(-CoordinateJitterDeg, CoordinateJitterDeg)
	return lat, lng
}

func (g *Generator) pickBand() Band {
	var total float64
	for _, b := range SeverityBands {
		total += b.Weight
	}
	x := g.rand.Float64() * total
	for _, b := range SeverityBands {
		if x < b.Weight {
			return b
		}
		x -= b.Weight
	}
	return SeverityBands[len(SeverityBands)-1]
}

func (g *Generator) jitter() float64 {
	return g.uniform(jitterMin, jitterMax)
}

func (g *Generator) uniform(lo, hi float64) float64 {
	return lo + g.rand.Float64()*(hi-lo)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
