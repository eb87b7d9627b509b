package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/googleapi"
)

// GCSConfig holds configuration for the Cloud Storage backend.
type GCSConfig struct {
	Bucket string
	Prefix string
}

// GCSArchive stores frames and records as Cloud Storage objects. Writes
// are create-only; an object that already exists is left untouched.
type GCSArchive struct {
	client *gcs.Client
	bucket *gcs.BucketHandle
	prefix string
}

// NewGCS creates a Cloud Storage archive using application default
// credentials.
func NewGCS(ctx context.Context, cfg GCSConfig) (*GCSArchive, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("GCS bucket is required")
	}
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, WrapInitError(fmt.Errorf("failed to create GCS client: %w", err), cfg.Bucket)
	}
	return &GCSArchive{client: client, bucket: client.Bucket(cfg.Bucket), prefix: cfg.Prefix}, nil
}

// PutFrame writes jpeg at path under the configured prefix.
func (a *GCSArchive) PutFrame(ctx context.Context, name string, jpeg []byte) error {
	return a.put(ctx, path.Join(a.prefix, name), "image/jpeg", jpeg)
}

// WriteRecord writes record as one JSON object under
// records/kind=<kind>/day=<day>/.
func (a *GCSArchive) WriteRecord(ctx context.Context, kind string, at time.Time, record map[string]any) error {
	row := make(map[string]any, len(record)+2)
	for k, v := range record {
		row[k] = v
	}
	row["kind"] = kind
	row["day"] = Day(at)

	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to encode %s record: %w", kind, err)
	}
	name := path.Join(a.prefix, "records", "kind="+kind, "day="+Day(at),
		fmt.Sprintf("%d-%s.json", at.UnixMilli(), uuid.NewString()))
	return a.put(ctx, name, "application/json", data)
}

func (a *GCSArchive) put(ctx context.Context, name, contentType string, data []byte) error {
	writer := a.bucket.Object(name).If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = contentType

	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		_ = writer.Close()
		return WrapWriteError(err, name)
	}
	if err := writer.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			return nil
		}
		return WrapWriteError(err, name)
	}
	return nil
}

// Close closes the Cloud Storage client.
func (a *GCSArchive) Close() error {
	return a.client.Close()
}

var _ Archive = (*GCSArchive)(nil)
