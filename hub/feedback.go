package hub

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/edgeorder/labelreader/storage"
	"github.com/edgeorder/labelreader/types"
)

const archiveTimeout = 30 * time.Second

// ErrIncompleteFeedback is returned for feedback missing a required field.
var ErrIncompleteFeedback = errors.New("feedback message has empty required fields")

var feedbackAck = mustMarshal(types.FeedbackReceived)

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// handleFeedback acknowledges a feedback message and archives it.
func (h *Hub) handleFeedback(c *Conn, data []byte) {
	if err := c.Write(websocket.TextMessage, feedbackAck); err != nil {
		h.logger.Warn("failed to acknowledge feedback", map[string]any{"conn_id": c.ID, "error": err.Error()})
	}
	h.collector.IncFeedback()

	if h.archive == nil {
		h.logger.Warn("feedback archive not configured, frame not stored", nil)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if _, err := h.ArchiveFeedback(ctx, data); err != nil {
		h.logger.Error("user feedback could not be archived", map[string]any{"error": err.Error()})
	}
}

// ArchiveFeedback validates a feedback message, stores its frame under the
// userfeedback category and records its metadata. It returns the frame path.
func (h *Hub) ArchiveFeedback(ctx context.Context, data []byte) (string, error) {
	var fb types.Feedback
	if err := json.Unmarshal(data, &fb); err != nil {
		return "", fmt.Errorf("invalid feedback message: %w", err)
	}
	if fb.CorrelationID == "" || fb.DeviceID == "" || fb.StoreID == "" || fb.CapturedFrame == "" {
		return "", fmt.Errorf("%w: correlation_id=%d device_id=%d store_id=%d captured_frame=%d", ErrIncompleteFeedback,
			len(fb.CorrelationID), len(fb.DeviceID), len(fb.StoreID), len(fb.CapturedFrame))
	}

	image, err := decodeFrame(fb.CapturedFrame)
	if err != nil {
		return "", fmt.Errorf("invalid captured_frame: %w", err)
	}

	now := h.now()
	path, err := storage.FramePath(fb.StoreID, fb.DeviceID, storage.CategoryUserFeedback, now, fb.CorrelationID)
	if err != nil {
		return "", err
	}
	if err := h.archive.PutFrame(ctx, path, image); err != nil {
		return "", err
	}

	record := map[string]any{
		"store_id":        fb.StoreID,
		"device_id":       fb.DeviceID,
		"correlation_id":  fb.CorrelationID,
		"order_type":      fb.OrderType,
		"order_number":    fb.OrderNumber,
		"evaluation_type": "user",
		"frame_blob_id":   path,
	}
	if err := h.archive.WriteRecord(ctx, storage.CategoryUserFeedback, now, record); err != nil {
		return path, err
	}
	h.logger.Info("user feedback captured", record)
	return path, nil
}

// decodeFrame decodes a base64 frame, with or without a data URI prefix.
func decodeFrame(s string) ([]byte, error) {
	if i := strings.Index(s, "base64,"); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+len("base64,"):]
	}
	return base64.StdEncoding.DecodeString(s)
}
