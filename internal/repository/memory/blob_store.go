package memory

import (
	"context"
	"fmt"
	"io"
	"sync"

	"merchant-verification/internal/model"
)

type BlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[string][]byte)}
}

func (b *BlobStore) Put(_ context.Context, path string, upload *model.Upload) (string, error) {
	data, err := io.ReadAll(upload.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	b.mu.Lock()
	b.blobs[path] = data
	b.mu.Unlock()
	return "memory://" + path, nil
}

func (b *BlobStore) Get(path string) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.blobs[path]
	return data, ok
}

func (b *BlobStore) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.blobs)
}
