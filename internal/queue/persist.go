package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"portalpilot/internal/fileutil"
)

// Persister stores and loads the whole queue snapshot.
type Persister interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
	Describe() string
	Close() error
}

// FilePersister keeps the snapshot in a single JSON document on disk.
type FilePersister struct {
	path string
}

// NewFilePersister returns a persister writing to path.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

// Load reads the snapshot. A missing file yields an empty snapshot.
func (p *FilePersister) Load(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Snapshot{}, nil
		}
		return Snapshot{}, fmt.Errorf("read queue file: %w", err)
	}
	return decodeSnapshot(data)
}

// Save atomically replaces the snapshot file.
func (p *FilePersister) Save(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	if err := fileutil.WriteFileAtomic(p.path, data); err != nil {
		return fmt.Errorf("write queue file: %w", err)
	}
	return nil
}

// Describe identifies the persister in logs.
func (p *FilePersister) Describe() string { return "json:" + p.path }

// Close is a no-op for the file persister.
func (p *FilePersister) Close() error { return nil }

func encodeSnapshot(snap Snapshot) ([]byte, error) {
	if snap.Queue == nil {
		snap.Queue = []Item{}
	}
	if snap.FailedItems == nil {
		snap.FailedItems = []Item{}
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

func decodeSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	if len(data) == 0 {
		return snap, nil
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}
