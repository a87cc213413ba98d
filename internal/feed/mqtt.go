package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"aerosense-sim/internal/logging"
	"aerosense-sim/internal/telemetry"
)

// MQTTConfig locates a broker and the topic prefix events are published under.
type MQTTConfig struct {
	Broker      string // e.g. tcp://localhost:1883
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
	MaxRetries  int
}

// MQTTPublisher publishes each event to <prefix>/<event>/<site id>.
type MQTTPublisher struct {
	client  mqtt.Client
	prefix  string
	qos     byte
	timeout time.Duration
}

// NewMQTTClient connects to the broker, retrying with exponential backoff.
func NewMQTTClient(ctx context.Context, cfg MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second

	log := logging.FromContext(ctx)
	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			log.Warn("mqtt connect failed", "broker", cfg.Broker, "err", token.Error())
			return token.Error()
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(maxRetries-1)), ctx))
	if err != nil {
		return nil, fmt.Errorf("could not establish MQTT connection after retries: %w", err)
	}
	log.Info("connected to MQTT broker", "broker", cfg.Broker)
	return client, nil
}

// NewMQTTPublisher wraps a connected client.
func NewMQTTPublisher(client mqtt.Client, cfg MQTTConfig) *MQTTPublisher {
	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = "aerosense"
	}
	return &MQTTPublisher{client: client, prefix: prefix, qos: cfg.QoS, timeout: 5 * time.Second}
}

func (p *MQTTPublisher) Name() string { return "mqtt" }

// Topic returns the topic an event is published to.
func (p *MQTTPublisher) Topic(ev telemetry.Event) string {
	return fmt.Sprintf("%s/%s/%d", p.prefix, ev.Kind, ev.SiteID())
}

// Send publishes ev and waits for the broker to acknowledge it.
func (p *MQTTPublisher) Send(ctx context.Context, ev telemetry.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	token := p.client.Publish(p.Topic(ev), p.qos, false, data)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.timeout):
		return fmt.Errorf("mqtt publish timed out after %s", p.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (p *MQTTPublisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
