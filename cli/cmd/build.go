package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/edgeorder/labelreader/adapter"
	"github.com/edgeorder/labelreader/adapter/mqtt"
	"github.com/edgeorder/labelreader/adapter/redis"
	"github.com/edgeorder/labelreader/adapter/webhook"
	"github.com/edgeorder/labelreader/channel"
	"github.com/edgeorder/labelreader/cli/config"
	"github.com/edgeorder/labelreader/extractor"
	"github.com/edgeorder/labelreader/hub"
	"github.com/edgeorder/labelreader/log"
	"github.com/edgeorder/labelreader/narrator"
	"github.com/edgeorder/labelreader/pipeline"
	"github.com/edgeorder/labelreader/storage"
)

// newLogger builds the process logger for component.
func newLogger(cfg *config.Config, component string) *log.Logger {
	return log.NewLogger(log.Context{
		Component: component,
		DeviceID:  cfg.Device.DeviceID,
		StoreID:   cfg.Device.StoreID,
	})
}

// openArchive opens the configured cold storage backend.
func openArchive(ctx context.Context, cfg config.StorageConfig) (storage.Archive, error) {
	return storage.Open(ctx, storage.Options{
		Backend:      cfg.Backend,
		Path:         cfg.Path,
		Bucket:       cfg.Bucket,
		Prefix:       cfg.Prefix,
		Region:       cfg.Region,
		Endpoint:     cfg.Endpoint,
		UsePathStyle: cfg.S3PathStyle,
	})
}

func retriesOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// buildBus creates the configured event mirrors. It returns nil when no bus
// is configured.
func buildBus(cfg config.BusConfig) (adapter.Adapter, error) {
	var fan adapter.Fanout

	if cfg.Redis.URL != "" {
		a, err := redis.New(redis.Config{
			URL:     cfg.Redis.URL,
			Channel: cfg.Redis.Channel,
			Timeout: cfg.Redis.Timeout.Duration,
			Retries: retriesOr(cfg.Redis.Retries, redis.DefaultRetries),
			PerType: cfg.Redis.PerType,
		})
		if err != nil {
			return nil, err
		}
		fan = append(fan, a)
	}

	if cfg.MQTT.Broker != "" {
		a, err := mqtt.New(mqtt.Config{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			QoS:      cfg.MQTT.QoS,
			Timeout:  cfg.MQTT.Timeout.Duration,
		})
		if err != nil {
			_ = fan.Close()
			return nil, err
		}
		fan = append(fan, a)
	}

	if cfg.Webhook.URL != "" {
		a, err := webhook.New(webhook.Config{
			URL:     cfg.Webhook.URL,
			Source:  cfg.Webhook.Source,
			Headers: cfg.Webhook.Headers,
			Timeout: cfg.Webhook.Timeout.Duration,
			Retries: retriesOr(cfg.Webhook.Retries, webhook.DefaultRetries),
		})
		if err != nil {
			_ = fan.Close()
			return nil, err
		}
		fan = append(fan, a)
	}

	if len(fan) == 0 {
		return nil, nil
	}
	return fan, nil
}

// buildExtractor creates the configured field extractor.
func buildExtractor(ctx context.Context, cfg config.ExtractionConfig) (*extractor.Gemini, error) {
	switch cfg.Provider {
	case "gemini":
		return extractor.NewGemini(ctx, extractor.Config{
			Project: cfg.Project,
			Region:  cfg.Region,
			Model:   cfg.Model,
		})
	default:
		return nil, fmt.Errorf("unknown extraction provider %q", cfg.Provider)
	}
}

// buildNarrator creates the configured narrator.
func buildNarrator(cfg config.NarrationConfig) (pipeline.Narrator, error) {
	script, err := narrator.LoadScript(cfg.Template)
	if err != nil {
		return nil, err
	}
	switch cfg.Provider {
	case "ssml":
		return narrator.NewSSML(narrator.SSMLConfig{
			Endpoint: cfg.Endpoint,
			APIKey:   cfg.APIKey,
			Voice: narrator.Voice{
				Name:     cfg.Voice,
				Language: cfg.Language,
				Style:    cfg.Style,
				Rate:     cfg.Rate,
				Pitch:    cfg.Pitch,
			},
			Timeout: cfg.Timeout.Duration,
		}, script)
	case "openai":
		return narrator.NewOpenAI(narrator.OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.Endpoint,
			Model:   cfg.Model,
			Voice:   cfg.Voice,
			Timeout: cfg.Timeout.Duration,
		}, script)
	default:
		return nil, fmt.Errorf("unknown narration provider %q", cfg.Provider)
	}
}

// dialHub creates a channel to the hub endpoint for topic on the device side.
func dialHub(cfg *config.Config, topic hub.Topic, logger *log.Logger) *channel.Duplex {
	return channel.New(channel.Config{
		URL:               strings.TrimSuffix(cfg.Hub.URL, "/") + hub.Path(topic, hub.RoleInternal),
		ReconnectInterval: cfg.Channel.ReconnectInterval.Duration,
		LockTimeout:       cfg.Channel.LockTimeout.Duration,
		EnableCompression: cfg.Hub.Compression,
	}, logger.Named(string(topic)))
}

// serveHTTP runs srv until ctx is cancelled, then shuts it down.
func serveHTTP(ctx context.Context, srv *http.Server, logger *log.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", map[string]any{"addr": srv.Addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server %s: %w", srv.Addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}
