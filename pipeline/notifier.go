package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/edgeorder/labelreader/adapter"
	"github.com/edgeorder/labelreader/log"
	"github.com/edgeorder/labelreader/metrics"
	"github.com/edgeorder/labelreader/types"
)

// mirrorTimeout bounds a single bus mirror publish.
const mirrorTimeout = 5 * time.Second

// Sender delivers one message on a duplex channel. channel.Duplex
// satisfies it.
type Sender interface {
	Send(payload []byte, binary bool) bool
}

// publisher sends JSON payloads on a channel and mirrors them to the bus.
type publisher struct {
	sender    Sender
	mirror    adapter.Adapter
	eventType string
	deviceID  string
	storeID   string
	logger    *log.Logger
	now       func() time.Time
}

func (p *publisher) publish(ctx context.Context, correlationID string, v any) bool {
	payload, err := json.Marshal(v)
	if err != nil {
		p.logger.Error("failed to encode notification", map[string]any{
			"type":           p.eventType,
			"correlation_id": correlationID,
			"error":          err.Error(),
		})
		return false
	}

	sent := p.sender != nil && p.sender.Send(payload, false)
	if !sent {
		p.logger.Warn("notification not delivered", map[string]any{
			"type":           p.eventType,
			"correlation_id": correlationID,
		})
	}

	if p.mirror != nil {
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mirrorTimeout)
		defer cancel()
		event := &adapter.Event{
			Type:          p.eventType,
			CorrelationID: correlationID,
			DeviceID:      p.deviceID,
			StoreID:       p.storeID,
			Timestamp:     p.now().UTC().Format(time.RFC3339Nano),
			Payload:       payload,
		}
		if err := p.mirror.Publish(mctx, event); err != nil {
			p.logger.Warn("bus mirror failed", map[string]any{
				"type":           p.eventType,
				"correlation_id": correlationID,
				"error":          err.Error(),
			})
		}
	}
	return sent
}

// NotifierConfig holds what both notifiers need.
type NotifierConfig struct {
	DeviceID  string
	StoreID   string
	Mirror    adapter.Adapter
	Collector *metrics.Collector
	Logger    *log.Logger
	Now       func() time.Time
}

func (c NotifierConfig) publisher(sender Sender, eventType string) publisher {
	logger := c.Logger
	if logger == nil {
		logger = log.Nop()
	}
	now := c.Now
	if now == nil {
		now = time.Now
	}
	return publisher{
		sender:    sender,
		mirror:    c.Mirror,
		eventType: eventType,
		deviceID:  c.DeviceID,
		storeID:   c.StoreID,
		logger:    logger,
		now:       now,
	}
}

// StatusNotifier decides which pipeline failures reach the UI and sends
// them on the status topic.
type StatusNotifier struct {
	pub       publisher
	collector *metrics.Collector
}

// NewStatusNotifier creates a status notifier sending on sender.
func NewStatusNotifier(sender Sender, config NotifierConfig) *StatusNotifier {
	return &StatusNotifier{
		pub:       config.publisher(sender, adapter.EventTypeStatus),
		collector: config.Collector,
	}
}

// NotifyDetection relays LOW_BB detections. Every other detection outcome
// stays local. It reports whether an event was sent.
func (n *StatusNotifier) NotifyDetection(ctx context.Context, result types.DetectionResult, correlationID string) bool {
	if result.Valid || result.ErrorCode != types.ErrorCodeLowBB {
		return false
	}
	return n.send(ctx, result.ErrorCode, types.StatusCodeLabelExtraction, correlationID)
}

// NotifyExtraction relays every invalid extraction.
func (n *StatusNotifier) NotifyExtraction(ctx context.Context, result *types.ExtractionResult, correlationID string) bool {
	if result == nil || result.Valid {
		return false
	}
	return n.send(ctx, result.ErrorCode, types.StatusCodeLabelExtraction, correlationID)
}

// NotifySystem relays a stage failure.
func (n *StatusNotifier) NotifySystem(ctx context.Context, code types.ErrorCode, correlationID string) bool {
	return n.send(ctx, code, types.StatusCodeSystem, correlationID)
}

func (n *StatusNotifier) send(ctx context.Context, sub types.ErrorCode, code types.StatusCode, correlationID string) bool {
	event := types.NewStatusEvent(sub, code, correlationID)
	event.Timestamp = n.pub.now().UnixMilli()
	n.collector.IncStatusEvent(string(sub))
	return n.pub.publish(ctx, correlationID, event)
}

// OrderNotifier sends narrated orders on the order_info topic.
type OrderNotifier struct {
	pub       publisher
	collector *metrics.Collector
}

// NewOrderNotifier creates an order notifier sending on sender.
func NewOrderNotifier(sender Sender, config NotifierConfig) *OrderNotifier {
	return &OrderNotifier{
		pub:       config.publisher(sender, adapter.EventTypeOrder),
		collector: config.Collector,
	}
}

// Notify sends the order and reports whether the channel accepted it.
func (n *OrderNotifier) Notify(ctx context.Context, frame types.Frame, audio []byte, transformed map[string]string) bool {
	order := types.OrderNotification{
		AudioByte:         base64.StdEncoding.EncodeToString(audio),
		CapturedFrame:     "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(frame.Image),
		CorrelationID:     frame.CorrelationID,
		StoreID:           n.pub.storeID,
		DeviceID:          n.pub.deviceID,
		TransformedFields: transformed,
	}
	if !n.pub.publish(ctx, frame.CorrelationID, order) {
		return false
	}
	n.collector.IncOrderSent()
	return true
}
