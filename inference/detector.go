// Package inference talks to the local object-detection sidecar.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/edgeorder/labelreader/iox"
	"github.com/edgeorder/labelreader/types"
)

// DefaultTimeout bounds one detection request.
const DefaultTimeout = 5 * time.Second

// maxResponseSize caps the sidecar response body.
const maxResponseSize = 1 << 20

// detectResponse is the sidecar reply: one [x1, y1, x2, y2] per box.
type detectResponse struct {
	Boxes [][4]float64 `json:"boxes"`
}

// HTTPDetector posts JPEG frames to a detection endpoint.
type HTTPDetector struct {
	endpoint string
	client   *http.Client
}

// NewHTTPDetector creates a detector for endpoint.
func NewHTTPDetector(endpoint string, timeout time.Duration) (*HTTPDetector, error) {
	if endpoint == "" {
		return nil, errors.New("detector endpoint is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPDetector{endpoint: endpoint, client: &http.Client{Timeout: timeout}}, nil
}

// Detect returns the boxes found in jpeg. A successful call is always
// valid; box-count thresholds are applied by the caller.
func (d *HTTPDetector) Detect(ctx context.Context, jpeg []byte) (types.DetectionResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(jpeg))
	if err != nil {
		return types.DetectionResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := d.client.Do(req)
	if err != nil {
		return types.DetectionResult{}, fmt.Errorf("detect: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return types.DetectionResult{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return types.DetectionResult{}, fmt.Errorf("detect: unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var decoded detectResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return types.DetectionResult{}, fmt.Errorf("decode response: %w", err)
	}

	result := types.DetectionResult{Valid: true, Boxes: make([]types.Box, 0, len(decoded.Boxes))}
	for _, b := range decoded.Boxes {
		result.Boxes = append(result.Boxes, types.Box{X1: b[0], Y1: b[1], X2: b[2], Y2: b[3]})
	}
	return result, nil
}
