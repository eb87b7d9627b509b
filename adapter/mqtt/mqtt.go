// Package mqtt mirrors pipeline events to an MQTT broker.
//
// Events are published as JSON under <topic>/<type>, so subscribers can
// filter status and order events separately. The client reconnects on its
// own; a publish during an outage fails and is not queued.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/edgeorder/labelreader/adapter"
)

// DefaultTopic is the default topic prefix.
const DefaultTopic = "labelreader/events"

// DefaultTimeout bounds connect and publish acknowledgements.
const DefaultTimeout = 5 * time.Second

// DefaultQoS delivers at least once.
const DefaultQoS byte = 1

// Config configures the MQTT adapter.
type Config struct {
	// Broker is the broker URL, e.g. tcp://localhost:1883 (required).
	Broker string
	// Topic is the topic prefix (default labelreader/events).
	Topic    string
	ClientID string
	Username string
	Password string
	// QoS is 0, 1 or 2 (default 1).
	QoS     *byte
	Timeout time.Duration
}

// Adapter publishes events to an MQTT broker.
type Adapter struct {
	config Config
	qos    byte
	client paho.Client
}

// New connects to the broker. The initial connection must succeed within
// Timeout; later outages are handled by paho's auto-reconnect.
func New(cfg Config) (*Adapter, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt adapter requires a broker URL")
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	qos := DefaultQoS
	if cfg.QoS != nil {
		qos = *cfg.QoS
	}
	if qos > 2 {
		return nil, fmt.Errorf("qos must be 0, 1 or 2, got %d", qos)
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetConnectTimeout(cfg.Timeout).
		SetWriteTimeout(cfg.Timeout).
		SetCleanSession(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	return newWithClient(cfg, qos, paho.NewClient(opts))
}

func newWithClient(cfg Config, qos byte, client paho.Client) (*Adapter, error) {
	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("mqtt: connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect to %s: %w", cfg.Broker, err)
	}
	return &Adapter{config: cfg, qos: qos, client: client}, nil
}

// Topic returns the topic an event type is published on.
func (a *Adapter) Topic(eventType string) string {
	return a.config.Topic + "/" + eventType
}

// Publish sends the event and waits for the broker acknowledgement, the
// adapter timeout, or ctx, whichever comes first.
func (a *Adapter) Publish(ctx context.Context, event *adapter.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("mqtt: marshal event: %w", err)
	}
	if !a.client.IsConnectionOpen() {
		return errors.New("mqtt: not connected")
	}

	token := a.client.Publish(a.Topic(event.Type), a.qos, false, body)

	timer := time.NewTimer(a.config.Timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt: publish: %w", err)
		}
		return nil
	case <-timer.C:
		return errors.New("mqtt: publish timed out")
	case <-ctx.Done():
		return fmt.Errorf("mqtt: context canceled: %w", ctx.Err())
	}
}

// Close disconnects, allowing in-flight publishes a short grace period.
func (a *Adapter) Close() error {
	a.client.Disconnect(250)
	return nil
}

var _ adapter.Adapter = (*Adapter)(nil)
