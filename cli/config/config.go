package config

import (
	"errors"
	"fmt"
	"time"
)

// Identity strategies accepted by extraction.identity_strategy.
const (
	IdentitySet          = "set"
	IdentityCustomerName = "customer_name"
)

// Config represents a labelreader.yaml configuration file.
// Zero values are replaced by ApplyDefaults; Validate reports the rest.
type Config struct {
	Device      DeviceConfig      `yaml:"device"`
	Camera      CameraConfig      `yaml:"camera"`
	Producer    ProducerConfig    `yaml:"producer"`
	Mailbox     MailboxConfig     `yaml:"mailbox"`
	Detection   DetectionConfig   `yaml:"detection"`
	Extraction  ExtractionConfig  `yaml:"extraction"`
	Narration   NarrationConfig   `yaml:"narration"`
	Dedup       DedupConfig       `yaml:"dedup"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Storage     StorageConfig     `yaml:"storage"`
	Hub         HubConfig         `yaml:"hub"`
	Channel     ChannelConfig     `yaml:"channel"`
	Bus         BusConfig         `yaml:"bus"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// DeviceConfig identifies the edge device.
type DeviceConfig struct {
	DeviceID string `yaml:"device_id"`
	StoreID  string `yaml:"store_id"`
}

// CameraConfig describes the frame source.
type CameraConfig struct {
	Source    string  `yaml:"source"`
	FrameRate float64 `yaml:"frame_rate"`
	Loop      *bool   `yaml:"loop,omitempty"`
}

// ProducerConfig holds the producer sampling rates.
type ProducerConfig struct {
	QueueFPS float64 `yaml:"queue_fps"`
	UIFPS    float64 `yaml:"ui_fps"`
}

// MailboxConfig holds mailbox lock settings.
type MailboxConfig struct {
	LockTimeout Duration `yaml:"lock_timeout"`
}

// DetectionConfig configures the detector client and the frame gate.
type DetectionConfig struct {
	Endpoint         string   `yaml:"endpoint"`
	Timeout          Duration `yaml:"timeout"`
	ThresholdLow     int      `yaml:"threshold_low"`
	ThresholdLabel   int      `yaml:"threshold_label"`
	FeatureSkipFrame bool     `yaml:"feature_skip_frame"`
	SkipFrameCount   int      `yaml:"skip_frame_count"`
}

// ExtractionConfig configures the field extractor and validation.
type ExtractionConfig struct {
	Provider            string  `yaml:"provider"`
	Project             string  `yaml:"project"`
	Region              string  `yaml:"region"`
	Model               string  `yaml:"model"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	IdentityStrategy    string  `yaml:"identity_strategy"`
}

// NarrationConfig configures the narrator.
type NarrationConfig struct {
	Provider string   `yaml:"provider"`
	Endpoint string   `yaml:"endpoint"`
	APIKey   string   `yaml:"api_key"`
	Model    string   `yaml:"model"`
	Voice    string   `yaml:"voice"`
	Language string   `yaml:"language"`
	Style    string   `yaml:"style"`
	Rate     string   `yaml:"rate"`
	Pitch    string   `yaml:"pitch"`
	Template string   `yaml:"template"`
	Timeout  Duration `yaml:"timeout"`
}

// DedupConfig bounds the duplicate-order cache.
type DedupConfig struct {
	TTL      Duration `yaml:"ttl"`
	Capacity int      `yaml:"capacity"`
}

// DiagnosticsConfig rate-limits diagnostic frame uploads.
type DiagnosticsConfig struct {
	UploadsPerHour int `yaml:"uploads_per_hour"`
}

// StorageConfig selects the cold storage backend.
type StorageConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Bucket      string `yaml:"bucket"`
	Prefix      string `yaml:"prefix"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// HubConfig configures the relay hub and how clients reach it.
type HubConfig struct {
	Listen      string `yaml:"listen"`
	URL         string `yaml:"url"`
	Compression bool   `yaml:"compression"`
}

// ChannelConfig configures duplex channel reconnection.
type ChannelConfig struct {
	ReconnectInterval Duration `yaml:"reconnect_interval"`
	LockTimeout       Duration `yaml:"lock_timeout"`
}

// BusConfig lists optional event mirrors. Empty sections are disabled.
type BusConfig struct {
	Redis   RedisBusConfig   `yaml:"redis"`
	MQTT    MQTTBusConfig    `yaml:"mqtt"`
	Webhook WebhookBusConfig `yaml:"webhook"`
}

// RedisBusConfig configures the redis pub/sub mirror.
type RedisBusConfig struct {
	URL     string   `yaml:"url"`
	Channel string   `yaml:"channel"`
	Timeout Duration `yaml:"timeout,omitempty"`
	Retries *int     `yaml:"retries,omitempty"`
	PerType bool     `yaml:"per_type,omitempty"`
}

// MQTTBusConfig configures the MQTT mirror.
type MQTTBusConfig struct {
	Broker   string   `yaml:"broker"`
	Topic    string   `yaml:"topic"`
	ClientID string   `yaml:"client_id"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	QoS      *byte    `yaml:"qos,omitempty"`
	Timeout  Duration `yaml:"timeout,omitempty"`
}

// WebhookBusConfig configures the CloudEvents HTTP mirror.
type WebhookBusConfig struct {
	URL     string            `yaml:"url"`
	Source  string            `yaml:"source"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint. Empty Listen disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// ApplyDefaults fills unset values.
func (c *Config) ApplyDefaults() {
	if c.Camera.FrameRate == 0 {
		c.Camera.FrameRate = 30
	}
	if c.Camera.Loop == nil {
		loop := true
		c.Camera.Loop = &loop
	}
	if c.Producer.QueueFPS == 0 {
		c.Producer.QueueFPS = 5
	}
	if c.Producer.UIFPS == 0 {
		c.Producer.UIFPS = 10
	}
	if c.Mailbox.LockTimeout.Duration == 0 {
		c.Mailbox.LockTimeout.Duration = time.Second
	}
	if c.Detection.Timeout.Duration == 0 {
		c.Detection.Timeout.Duration = 5 * time.Second
	}
	if c.Detection.SkipFrameCount == 0 {
		c.Detection.SkipFrameCount = 2
	}
	if c.Extraction.Provider == "" {
		c.Extraction.Provider = "gemini"
	}
	if c.Extraction.Model == "" {
		c.Extraction.Model = "gemini-1.5-flash"
	}
	if c.Extraction.ConfidenceThreshold == 0 {
		c.Extraction.ConfidenceThreshold = 0.5
	}
	if c.Extraction.IdentityStrategy == "" {
		c.Extraction.IdentityStrategy = IdentitySet
	}
	if c.Narration.Provider == "" {
		c.Narration.Provider = "ssml"
	}
	if c.Narration.Timeout.Duration == 0 {
		c.Narration.Timeout.Duration = 10 * time.Second
	}
	if c.Dedup.TTL.Duration == 0 {
		c.Dedup.TTL.Duration = time.Hour
	}
	if c.Dedup.Capacity == 0 {
		c.Dedup.Capacity = 100
	}
	if c.Diagnostics.UploadsPerHour == 0 {
		c.Diagnostics.UploadsPerHour = 10
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "fs"
	}
	if c.Storage.Path == "" && c.Storage.Backend == "fs" {
		c.Storage.Path = "./frames"
	}
	if c.Hub.Listen == "" {
		c.Hub.Listen = ":7001"
	}
	if c.Hub.URL == "" {
		c.Hub.URL = "ws://127.0.0.1:7001"
	}
	if c.Channel.ReconnectInterval.Duration == 0 {
		c.Channel.ReconnectInterval.Duration = 3 * time.Second
	}
	if c.Channel.LockTimeout.Duration == 0 {
		c.Channel.LockTimeout.Duration = 3 * time.Second
	}
}

// Validate checks the configuration for values no component can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Device.DeviceID == "" {
		errs = append(errs, errors.New("device.device_id is required"))
	}
	if c.Device.StoreID == "" {
		errs = append(errs, errors.New("device.store_id is required"))
	}
	if c.Detection.ThresholdLow < 0 || c.Detection.ThresholdLabel < 0 {
		errs = append(errs, errors.New("detection thresholds must be non-negative"))
	}
	if c.Detection.ThresholdLow > c.Detection.ThresholdLabel {
		errs = append(errs, fmt.Errorf("detection.threshold_low (%d) exceeds threshold_label (%d)",
			c.Detection.ThresholdLow, c.Detection.ThresholdLabel))
	}
	if c.Producer.QueueFPS <= 0 || c.Producer.UIFPS <= 0 || c.Camera.FrameRate <= 0 {
		errs = append(errs, errors.New("frame rates must be positive"))
	}
	switch c.Extraction.IdentityStrategy {
	case IdentitySet, IdentityCustomerName:
	default:
		errs = append(errs, fmt.Errorf("unknown extraction.identity_strategy %q", c.Extraction.IdentityStrategy))
	}
	switch c.Storage.Backend {
	case "fs", "memory":
	case "s3", "gcs":
		if c.Storage.Bucket == "" {
			errs = append(errs, fmt.Errorf("storage.bucket is required for backend %q", c.Storage.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}
	return errors.Join(errs...)
}
