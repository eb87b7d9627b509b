package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_FullConfig(t *testing.T) {
	yaml := `device:
  device_id: dev-1
  store_id: store-42

camera:
  source: /var/lib/labelreader/frames
  frame_rate: 15
  loop: false

producer:
  queue_fps: 4
  ui_fps: 8

detection:
  endpoint: http://127.0.0.1:8500/detect
  threshold_low: 1
  threshold_label: 3
  feature_skip_frame: true
  skip_frame_count: 4

extraction:
  project: edge-project
  region: us-central1
  confidence_threshold: 0.7
  identity_strategy: customer_name

narration:
  provider: openai
  voice: alloy

dedup:
  ttl: 30m
  capacity: 50

storage:
  backend: s3
  bucket: diagnostics
  prefix: frames
  region: us-east-1
  s3_path_style: true

hub:
  url: ws://hub.local:7001
  compression: true

bus:
  redis:
    url: redis://localhost:6379/0
    channel: labelreader:events
    timeout: 2s
    retries: 5
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	assertEqual(t, "device.device_id", cfg.Device.DeviceID, "dev-1")
	assertEqual(t, "device.store_id", cfg.Device.StoreID, "store-42")
	assertEqual(t, "camera.source", cfg.Camera.Source, "/var/lib/labelreader/frames")
	if cfg.Camera.Loop == nil || *cfg.Camera.Loop {
		t.Error("expected camera.loop=false")
	}
	if cfg.Producer.QueueFPS != 4 || cfg.Producer.UIFPS != 8 {
		t.Errorf("unexpected producer rates %+v", cfg.Producer)
	}
	if cfg.Detection.ThresholdLow != 1 || cfg.Detection.ThresholdLabel != 3 {
		t.Errorf("unexpected thresholds %+v", cfg.Detection)
	}
	if !cfg.Detection.FeatureSkipFrame || cfg.Detection.SkipFrameCount != 4 {
		t.Errorf("unexpected skip frame settings %+v", cfg.Detection)
	}
	assertEqual(t, "extraction.identity_strategy", cfg.Extraction.IdentityStrategy, IdentityCustomerName)
	if cfg.Extraction.ConfidenceThreshold != 0.7 {
		t.Errorf("expected confidence_threshold=0.7, got %v", cfg.Extraction.ConfidenceThreshold)
	}
	assertEqual(t, "narration.provider", cfg.Narration.Provider, "openai")
	if cfg.Dedup.TTL.Duration != 30*time.Minute {
		t.Errorf("expected dedup.ttl=30m, got %v", cfg.Dedup.TTL.Duration)
	}
	if cfg.Dedup.Capacity != 50 {
		t.Errorf("expected dedup.capacity=50, got %d", cfg.Dedup.Capacity)
	}
	assertEqual(t, "storage.backend", cfg.Storage.Backend, "s3")
	assertEqual(t, "storage.bucket", cfg.Storage.Bucket, "diagnostics")
	if !cfg.Storage.S3PathStyle {
		t.Error("expected storage.s3_path_style=true")
	}
	if !cfg.Hub.Compression {
		t.Error("expected hub.compression=true")
	}
	assertEqual(t, "bus.redis.channel", cfg.Bus.Redis.Channel, "labelreader:events")
	if cfg.Bus.Redis.Timeout.Duration != 2*time.Second {
		t.Errorf("expected bus.redis.timeout=2s, got %v", cfg.Bus.Redis.Timeout.Duration)
	}
	if cfg.Bus.Redis.Retries == nil || *cfg.Bus.Redis.Retries != 5 {
		t.Error("expected bus.redis.retries=5")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeTemp(t, "device:\n  device_id: d\n  store_id: s\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Producer.QueueFPS != 5 {
		t.Errorf("expected queue_fps=5, got %v", cfg.Producer.QueueFPS)
	}
	if cfg.Mailbox.LockTimeout.Duration != time.Second {
		t.Errorf("expected mailbox lock_timeout=1s, got %v", cfg.Mailbox.LockTimeout.Duration)
	}
	if cfg.Channel.ReconnectInterval.Duration != 3*time.Second {
		t.Errorf("expected reconnect_interval=3s, got %v", cfg.Channel.ReconnectInterval.Duration)
	}
	if cfg.Channel.LockTimeout.Duration != 3*time.Second {
		t.Errorf("expected channel lock_timeout=3s, got %v", cfg.Channel.LockTimeout.Duration)
	}
	if cfg.Dedup.TTL.Duration != time.Hour || cfg.Dedup.Capacity != 100 {
		t.Errorf("unexpected dedup defaults %+v", cfg.Dedup)
	}
	if cfg.Diagnostics.UploadsPerHour != 10 {
		t.Errorf("expected uploads_per_hour=10, got %d", cfg.Diagnostics.UploadsPerHour)
	}
	assertEqual(t, "hub.listen", cfg.Hub.Listen, ":7001")
	assertEqual(t, "extraction.identity_strategy", cfg.Extraction.IdentityStrategy, IdentitySet)
	assertEqual(t, "storage.backend", cfg.Storage.Backend, "fs")
	if cfg.Camera.Loop == nil || !*cfg.Camera.Loop {
		t.Error("expected camera.loop default true")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected defaults to validate, got %v", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/labelreader.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTemp(t, "{{invalid yaml")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeTemp(t, "dedup:\n  ttl: forever\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("expected invalid duration error, got %v", err)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("LR_DEVICE_ID", "expanded-device")

	path := writeTemp(t, "device:\n  device_id: ${LR_DEVICE_ID}\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "device.device_id", cfg.Device.DeviceID, "expanded-device")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("LR_DOTENV_STORE=store-from-dotenv\n"), 0o644); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("LR_DOTENV_STORE") })

	if err := LoadDotEnv(envPath); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}

	path := writeTemp(t, "device:\n  store_id: ${LR_DOTENV_STORE}\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "device.store_id", cfg.Device.StoreID, "store-from-dotenv")
}

func TestLoadDotEnv_MissingFile(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("expected missing env file to be ignored, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{Device: DeviceConfig{DeviceID: "d", StoreID: "s"}}
		cfg.ApplyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing device", func(c *Config) { c.Device.DeviceID = "" }, "device_id"},
		{"missing store", func(c *Config) { c.Device.StoreID = "" }, "store_id"},
		{"inverted thresholds", func(c *Config) { c.Detection.ThresholdLow = 4; c.Detection.ThresholdLabel = 2 }, "threshold_low"},
		{"negative fps", func(c *Config) { c.Producer.UIFPS = -1 }, "frame rates"},
		{"unknown strategy", func(c *Config) { c.Extraction.IdentityStrategy = "md5" }, "identity_strategy"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "ftp" }, "storage.backend"},
		{"s3 without bucket", func(c *Config) { c.Storage.Backend = "s3" }, "storage.bucket"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "labelreader.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func assertEqual(t *testing.T, field, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %q, want %q", field, got, want)
	}
}
