// Site, threshold and reading types shared by the simulator, the store and the feed
package telemetry

import (
	"os"
	"time"
)

// Site is a monitored facility. The simulator reads sites but never mutates them.
type Site struct {
	ID           int64   `json:"id" yaml:"id"`
	Name         string  `json:"name" yaml:"name"`
	Category     string  `json:"industry_type" yaml:"category"`
	Location     string  `json:"location,omitempty" yaml:"location"`
	ContactEmail string  `json:"contact_email,omitempty" yaml:"contact_email"`
	Lat          float64 `json:"lat" yaml:"lat"`
	Lng          float64 `json:"lng" yaml:"lng"`
}

// ThresholdSet holds the maximum safe concentration of each pollutant channel
// for one site category.
type ThresholdSet struct {
	Category string  `json:"industry_type" yaml:"category"`
	PM25     float64 `json:"pm25" yaml:"pm25"`
	PM10     float64 `json:"pm10" yaml:"pm10"`
	NO2      float64 `json:"no2" yaml:"no2"`
	SO2      float64 `json:"so2" yaml:"so2"`
	CO2      float64 `json:"co2" yaml:"co2"`
}

// Body is the measured part of a reading: five pollutant channels plus ambient conditions.
type Body struct {
	PM25        float64 `json:"pm25"`
	PM10        float64 `json:"pm10"`
	NO2         float64 `json:"no2"`
	SO2         float64 `json:"so2"`
	CO2         float64 `json:"co2"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}

// Reading is one persisted observation for a site.
type Reading struct {
	ID        string    `json:"id"`
	SiteID    int64     `json:"industry_id"`
	Body                // FIELDS
	Lat       float64   `json:"gps_lat"`
	Lng       float64   `json:"gps_lng"`
	Violation bool      `json:"is_violation"`
	Timestamp time.Time `json:"timestamp"` // TIME INDEX
}

// ReadingTableName holds the table name used when mirroring readings to GreptimeDB.
// It defaults to "sensor_readings" but can be overridden via the
// GREPTIMEDB_TABLE environment variable.
var ReadingTableName = func() string {
	if env := os.Getenv("GREPTIMEDB_TABLE"); env != "" {
		return env
	}
	return "sensor_readings"
}()

func (Reading) TableName() string {
	return ReadingTableName
}

// Channel names a pollutant channel.
type Channel string

const (
	ChannelPM25 Channel = "PM2.5"
	ChannelPM10 Channel = "PM10"
	ChannelNO2  Channel = "NO2"
	ChannelSO2  Channel = "SO2"
	ChannelCO2  Channel = "CO2"
)

// Channels lists the pollutant channels in their canonical order.
var Channels = []Channel{ChannelPM25, ChannelPM10, ChannelNO2, ChannelSO2, ChannelCO2}

// pair is one channel value next to its threshold.
type pair struct {
	channel Channel
	value   float64
	limit   float64
}

func pairs(b Body, t ThresholdSet) [5]pair {
	return [5]pair{
		{ChannelPM25, b.PM25, t.PM25},
		{ChannelPM10, b.PM10, t.PM10},
		{ChannelNO2, b.NO2, t.NO2},
		{ChannelSO2, b.SO2, t.SO2},
		{ChannelCO2, b.CO2, t.CO2},
	}
}
