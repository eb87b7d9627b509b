// Package webhook mirrors pipeline events to an HTTP endpoint as CloudEvents.
//
// Each event is sent in binary content mode: the envelope fields travel as
// ce-* headers and the body is the JSON payload relayed on the hub.
// Network errors and 5xx responses are retried with exponential backoff.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"
	"github.com/google/uuid"

	"github.com/edgeorder/labelreader/adapter"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 10 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// DefaultSource is the CloudEvents source used when none is configured.
const DefaultSource = "labelreader"

// TypePrefix prefixes every CloudEvents type.
const TypePrefix = "com.edgeorder.labelreader."

// Extension attribute names.
const (
	ExtDeviceID = "deviceid"
	ExtStoreID  = "storeid"
)

// Config configures the webhook adapter.
type Config struct {
	// URL is the HTTP endpoint to POST to (required).
	URL string
	// Source is the CloudEvents source attribute.
	Source string
	// Headers are custom HTTP headers added to each request.
	Headers map[string]string
	// Timeout is the per-request timeout (default 10s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure.
	Retries int
}

// Adapter publishes events as CloudEvents over HTTP.
type Adapter struct {
	config Config
	client cloudevents.Client
	http   *http.Client
}

// New creates a webhook adapter from the given config.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook adapter requires a URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Source == "" {
		cfg.Source = DefaultSource
	}

	httpClient := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: http.DefaultTransport.(*http.Transport).Clone(),
	}
	opts := []cehttp.Option{
		cloudevents.WithTarget(cfg.URL),
		cehttp.WithClient(*httpClient),
	}
	for k, v := range cfg.Headers {
		opts = append(opts, cehttp.WithHeader(k, v))
	}

	protocol, err := cloudevents.NewHTTP(opts...)
	if err != nil {
		return nil, fmt.Errorf("webhook: create protocol: %w", err)
	}
	client, err := cloudevents.NewClient(protocol, cloudevents.WithTimeNow())
	if err != nil {
		return nil, fmt.Errorf("webhook: create client: %w", err)
	}

	return &Adapter{config: cfg, client: client, http: httpClient}, nil
}

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Publish sends the event. 4xx responses fail immediately.
func (a *Adapter) Publish(ctx context.Context, event *adapter.Event) error {
	ce, err := a.toCloudEvent(event)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}

	err = adapter.Retry(ctx, a.config.Retries, func(ctx context.Context) error {
		return a.send(ctx, ce)
	}, isClientError)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

func (a *Adapter) toCloudEvent(event *adapter.Event) (cloudevents.Event, error) {
	ce := cloudevents.NewEvent()
	ce.SetID(uuid.NewString())
	ce.SetSource(a.config.Source)
	ce.SetType(TypePrefix + event.Type)
	ce.SetSubject(event.CorrelationID)
	if t, err := time.Parse(time.RFC3339Nano, event.Timestamp); err == nil {
		ce.SetTime(t)
	}
	if event.DeviceID != "" {
		ce.SetExtension(ExtDeviceID, event.DeviceID)
	}
	if event.StoreID != "" {
		ce.SetExtension(ExtStoreID, event.StoreID)
	}
	if err := ce.SetData(cloudevents.ApplicationJSON, []byte(event.Payload)); err != nil {
		return ce, fmt.Errorf("set data: %w", err)
	}
	return ce, nil
}

func (a *Adapter) send(ctx context.Context, ce cloudevents.Event) error {
	result := a.client.Send(ctx, ce)
	if cloudevents.IsACK(result) {
		return nil
	}
	var httpResult *cehttp.Result
	if cloudevents.ResultAs(result, &httpResult) && httpResult.StatusCode != 0 {
		return &StatusError{Code: httpResult.StatusCode}
	}
	return fmt.Errorf("request failed: %w", result)
}

func isClientError(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Code >= 400 && statusErr.Code < 500
}

// Close releases idle connections.
func (a *Adapter) Close() error {
	a.http.CloseIdleConnections()
	return nil
}

var _ adapter.Adapter = (*Adapter)(nil)
