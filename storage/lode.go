package storage

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"
)

// LodeArchive stores frames as raw objects in a Lode store and records in
// a Hive-partitioned JSONL dataset (kind/day) over the same store.
type LodeArchive struct {
	store   lode.Store
	dataset lode.Dataset

	mu sync.Mutex // serializes dataset writes
}

// NewFS creates a filesystem-backed archive rooted at root.
func NewFS(root string) (*LodeArchive, error) {
	if root == "" {
		return nil, fmt.Errorf("storage path is required for the fs backend")
	}
	return NewLodeArchive(lode.NewFSFactory(root))
}

// NewMemory creates an in-memory archive.
func NewMemory() (*LodeArchive, error) {
	return NewLodeArchive(lode.NewMemoryFactory())
}

// NewLodeArchive creates an archive over the store produced by factory.
// The factory is invoked once; frames and records share the store.
func NewLodeArchive(factory lode.StoreFactory) (*LodeArchive, error) {
	store, err := factory()
	if err != nil {
		return nil, WrapInitError(err, DatasetID)
	}
	shared := func() (lode.Store, error) { return store, nil }

	ds, err := lode.NewDataset(
		lode.DatasetID(DatasetID),
		shared,
		lode.WithHiveLayout("kind", "day"),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, WrapInitError(err, DatasetID)
	}
	return &LodeArchive{store: store, dataset: ds}, nil
}

// PutFrame writes jpeg at path.
func (a *LodeArchive) PutFrame(ctx context.Context, path string, jpeg []byte) error {
	if err := a.store.Put(ctx, path, bytes.NewReader(jpeg)); err != nil {
		return WrapWriteError(err, path)
	}
	return nil
}

// WriteRecord appends record to the kind/day partition.
func (a *LodeArchive) WriteRecord(ctx context.Context, kind string, at time.Time, record map[string]any) error {
	row := make(map[string]any, len(record)+2)
	for k, v := range record {
		row[k] = v
	}
	row["kind"] = kind
	row["day"] = Day(at)

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.dataset.Write(ctx, []any{row}, lode.Metadata{}); err != nil {
		return WrapWriteError(err, fmt.Sprintf("%s/kind=%s/day=%s", DatasetID, kind, Day(at)))
	}
	return nil
}

// Store exposes the underlying store for readers.
func (a *LodeArchive) Store() lode.Store {
	return a.store
}

// Dataset exposes the record dataset for readers.
func (a *LodeArchive) Dataset() lode.Dataset {
	return a.dataset
}

// Close releases archive resources. Lode stores need no explicit close.
func (a *LodeArchive) Close() error {
	return nil
}

var _ Archive = (*LodeArchive)(nil)
