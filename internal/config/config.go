// YAML config loader with CUE validation integration
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"

	"aerosense-sim/internal/telemetry"
)

// Defaults applied when a field is absent from both the file and the environment.
const (
	DefaultDroneID      = "aerosense-drone-01"
	DefaultTimeUnit     = time.Second
	DefaultHistoryLimit = 1000
	DefaultHTTPAddr     = ":8080"
	DefaultQueueSize    = 64
	DefaultOverflow     = "drop_oldest"
	DefaultFailures     = 5
	DefaultOpenFor      = 30 * time.Second
)

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// FeedConfig sizes the per-subscriber queues of the live feed.
type FeedConfig struct {
	QueueSize int    `yaml:"queue_size"`
	Overflow  string `yaml:"overflow"`
}

// GreptimeConfig enables the GreptimeDB reading sink.
type GreptimeConfig struct {
	Endpoint string `yaml:"endpoint"`
	Database string `yaml:"database"`
}

// InfluxConfig enables the InfluxDB reading sink.
type InfluxConfig struct {
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"`
}

// MQTTConfig enables the MQTT live-feed bridge.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// KafkaConfig enables the Kafka live-feed bridge.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// SinksConfig lists the optional outputs. A nil entry is disabled.
type SinksConfig struct {
	File     string          `yaml:"file"`
	Greptime *GreptimeConfig `yaml:"greptime"`
	Influx   *InfluxConfig   `yaml:"influx"`
	MQTT     *MQTTConfig     `yaml:"mqtt"`
	Kafka    *KafkaConfig    `yaml:"kafka"`
}

// BreakerConfig tunes the circuit breaker around durable sinks.
type BreakerConfig struct {
	Failures int           `yaml:"failures"`
	OpenFor  time.Duration `yaml:"open_for"`
}

// Config is the root configuration: the catalog the drone inspects plus the
// runtime wiring around it.
type Config struct {
	DroneID      string                   `yaml:"drone_id"`
	TimeUnit     time.Duration            `yaml:"time_unit"`
	HistoryLimit int                      `yaml:"history_limit"`
	HTTPAddr     string                   `yaml:"http_addr"`
	Log          LogConfig                `yaml:"log"`
	Feed         FeedConfig               `yaml:"feed"`
	Sites        []telemetry.Site         `yaml:"sites"`
	Thresholds   []telemetry.ThresholdSet `yaml:"thresholds"`
	Sinks        SinksConfig              `yaml:"sinks"`
	Breaker      BreakerConfig            `yaml:"breaker"`
}

// Load reads configPath, validates it against the CUE schema at cueSchemaPath
// (skipped when empty), then applies defaults and environment overrides.
func Load(configPath, cueSchemaPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("cannot read YAML config: %w", err)
	}
	if cueSchemaPath != "" {
		schema, err := os.ReadFile(cueSchemaPath)
		if err != nil {
			return nil, fmt.Errorf("cannot read CUE schema: %w", err)
		}
		if err := ValidateWithCue(configPath, data, schema); err != nil {
			return nil, err
		}
	}
	return Parse(data)
}

// Parse decodes YAML without schema validation and applies defaults and
// environment overrides.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot decode YAML config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ValidateWithCue checks YAML bytes against the #Config definition of a CUE schema.
func ValidateWithCue(filename string, yamlBytes, schemaBytes []byte) error {
	ctx := cuecontext.New()

	schemaVal := ctx.CompileBytes(schemaBytes, cue.Filename("schema.cue"))
	if err := schemaVal.Err(); err != nil {
		return fmt.Errorf("invalid CUE schema: %w", err)
	}
	def := schemaVal.LookupPath(cue.ParsePath("#Config"))
	if !def.Exists() {
		return errors.New("CUE schema has no #Config definition")
	}

	file, err := cueyaml.Extract(filename, yamlBytes)
	if err != nil {
		return fmt.Errorf("cannot parse YAML config: %w", err)
	}
	configVal := ctx.BuildFile(file)
	if err := configVal.Err(); err != nil {
		return fmt.Errorf("cannot build config value: %w", err)
	}

	final := def.Unify(configVal)
	if err := final.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.DroneID == "" {
		c.DroneID = DefaultDroneID
	}
	if c.TimeUnit <= 0 {
		c.TimeUnit = DefaultTimeUnit
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = DefaultHTTPAddr
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Feed.QueueSize <= 0 {
		c.Feed.QueueSize = DefaultQueueSize
	}
	if c.Feed.Overflow == "" {
		c.Feed.Overflow = DefaultOverflow
	}
	if c.Breaker.Failures <= 0 {
		c.Breaker.Failures = DefaultFailures
	}
	if c.Breaker.OpenFor <= 0 {
		c.Breaker.OpenFor = DefaultOpenFor
	}
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("DRONE_ID"); v != "" {
		c.DroneID = v
	}
	if v := os.Getenv("TIME_UNIT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid TIME_UNIT %q", v)
		}
		c.TimeUnit = d
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("GREPTIMEDB_ENDPOINT"); v != "" {
		if c.Sinks.Greptime == nil {
			c.Sinks.Greptime = &GreptimeConfig{}
		}
		c.Sinks.Greptime.Endpoint = v
	}
	if c.Sinks.Greptime != nil {
		if v := os.Getenv("GREPTIMEDB_DATABASE"); v != "" {
			c.Sinks.Greptime.Database = v
		}
		if c.Sinks.Greptime.Database == "" {
			c.Sinks.Greptime.Database = "public"
		}
	}
	if v := os.Getenv("INFLUXDB_URL"); v != "" {
		if c.Sinks.Influx == nil {
			c.Sinks.Influx = &InfluxConfig{}
		}
		c.Sinks.Influx.URL = v
	}
	if c.Sinks.Influx != nil {
		if v := os.Getenv("INFLUXDB_TOKEN"); v != "" {
			c.Sinks.Influx.Token = v
		}
		if v := os.Getenv("INFLUXDB_ORG"); v != "" {
			c.Sinks.Influx.Org = v
		}
		if v := os.Getenv("INFLUXDB_BUCKET"); v != "" {
			c.Sinks.Influx.Bucket = v
		}
	}
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		if c.Sinks.MQTT == nil {
			c.Sinks.MQTT = &MQTTConfig{}
		}
		c.Sinks.MQTT.Broker = v
	}
	if c.Sinks.MQTT != nil && c.Sinks.MQTT.ClientID == "" {
		c.Sinks.MQTT.ClientID = c.DroneID
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		if c.Sinks.Kafka == nil {
			c.Sinks.Kafka = &KafkaConfig{}
		}
		c.Sinks.Kafka.Brokers = splitList(v)
	}
	if c.Sinks.Kafka != nil {
		if v := os.Getenv("KAFKA_TOPIC"); v != "" {
			c.Sinks.Kafka.Topic = v
		}
		if c.Sinks.Kafka.Topic == "" {
			c.Sinks.Kafka.Topic = "aerosense-events"
		}
	}
	return nil
}

// Validate checks cross-field rules the schema cannot express.
func (c *Config) Validate() error {
	ids := make(map[int64]bool, len(c.Sites))
	for _, s := range c.Sites {
		if s.ID <= 0 {
			return fmt.Errorf("site %q: id must be positive", s.Name)
		}
		if ids[s.ID] {
			return fmt.Errorf("duplicate site id %d", s.ID)
		}
		ids[s.ID] = true
	}
	cats := make(map[string]bool, len(c.Thresholds))
	for _, t := range c.Thresholds {
		if cats[t.Category] {
			return fmt.Errorf("duplicate thresholds for category %q", t.Category)
		}
		cats[t.Category] = true
	}
	switch c.Feed.Overflow {
	case "drop_newest", "drop_oldest":
	default:
		return fmt.Errorf("unknown feed overflow policy %q", c.Feed.Overflow)
	}
	if k := c.Sinks.Kafka; k != nil && len(k.Brokers) == 0 {
		return errors.New("kafka sink needs at least one broker")
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
