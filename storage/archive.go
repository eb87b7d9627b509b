// Package storage archives frames and their metadata records in cold
// storage. Diagnostic frames from failed extractions and frames attached to
// user feedback land under
//
//	<store_id>/<device_id>/<category>/<YYYY-MM-DD>/<correlation_id>.jpg
//
// with metadata records written to a day-partitioned JSONL dataset.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Frame categories.
const (
	CategoryOCRErrors    = "ocrerrors"
	CategoryUserFeedback = "userfeedback"
)

// DatasetID is the dataset name metadata records are written under.
const DatasetID = "labelreader"

// ErrMissingID is returned when a frame path cannot be built because an
// identifier is empty.
var ErrMissingID = errors.New("store_id, device_id and correlation_id are required")

// Archive stores frames and metadata records.
type Archive interface {
	// PutFrame writes a JPEG frame at path.
	PutFrame(ctx context.Context, path string, jpeg []byte) error
	// WriteRecord appends one metadata record. The record's "kind" and
	// "day" keys are set from kind and at.
	WriteRecord(ctx context.Context, kind string, at time.Time, record map[string]any) error
	// Close releases backend resources.
	Close() error
}

// FramePath builds the archive path for a frame.
func FramePath(storeID, deviceID, category string, at time.Time, correlationID string) (string, error) {
	if storeID == "" || deviceID == "" || correlationID == "" {
		return "", ErrMissingID
	}
	for _, part := range []string{storeID, deviceID, category, correlationID} {
		if strings.Contains(part, "/") || strings.Contains(part, "..") {
			return "", fmt.Errorf("invalid path segment %q", part)
		}
	}
	return fmt.Sprintf("%s/%s/%s/%s/%s.jpg", storeID, deviceID, category, Day(at), correlationID), nil
}

// Day formats t as the partition day.
func Day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Options selects and configures a backend.
type Options struct {
	// Backend is one of fs, memory, s3, gcs.
	Backend string
	// Path is the root directory for the fs backend.
	Path string
	// Bucket and Prefix address the s3 and gcs backends.
	Bucket string
	Prefix string
	// Region, Endpoint and UsePathStyle configure the s3 backend.
	Region       string
	Endpoint     string
	UsePathStyle bool
}

// Open creates the archive described by opts.
func Open(ctx context.Context, opts Options) (Archive, error) {
	switch opts.Backend {
	case "", "fs":
		return NewFS(opts.Path)
	case "memory":
		return NewMemory()
	case "s3":
		return NewS3(ctx, S3Config{
			Bucket:       opts.Bucket,
			Prefix:       opts.Prefix,
			Region:       opts.Region,
			Endpoint:     opts.Endpoint,
			UsePathStyle: opts.UsePathStyle,
		})
	case "gcs":
		return NewGCS(ctx, GCSConfig{Bucket: opts.Bucket, Prefix: opts.Prefix})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}
