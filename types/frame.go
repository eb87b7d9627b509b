//nolint:revive // types is a common Go package naming convention
package types

import "time"

// Frame is one captured camera image plus its correlation metadata.
// Image holds JPEG bytes. A Frame is never mutated after capture.
type Frame struct {
	Image         []byte    `msgpack:"image"`
	CapturedAt    time.Time `msgpack:"captured_at"`
	CorrelationID string    `msgpack:"correlation_id"`
}

// VideoFrame is the binary payload streamed to the video topic.
type VideoFrame struct {
	RawFrame      []byte `msgpack:"raw_frame"`
	CorrelationID string `msgpack:"correlation_id"`
}
