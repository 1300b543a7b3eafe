package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// MemGateway is the in-memory Gateway used by tests. Objects live in a
// map and "uploading" means calling Write directly.
type MemGateway struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemGateway() *MemGateway {
	return &MemGateway{
		objects: make(map[string][]byte),
	}
}

// Write places object bytes under key, standing in for the direct
// client-to-storage transfer.
func (g *MemGateway) Write(key string, body []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.objects[key] = body
}

func (g *MemGateway) IssueUploadAuthorization(_ context.Context, key, contentType string, maxBytes int64) (*UploadAuthorization, error) {
	if maxBytes <= 0 {
		return nil, ErrQuotaExceeded
	}

	if contentType == "" {
		return nil, ErrInvalidContentType
	}

	return &UploadAuthorization{
		URL:       "mem://" + key,
		Method:    "PUT",
		ExpiresAt: time.Now().Add(uploadAuthTTL),
	}, nil
}

func (g *MemGateway) StatObject(_ context.Context, key string) (*ObjectStat, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	body, ok := g.objects[key]
	if !ok {
		return nil, ErrNotFound
	}

	sum := md5.Sum(body)

	return &ObjectStat{
		Exists:   true,
		Size:     int64(len(body)),
		Checksum: hex.EncodeToString(sum[:]),
	}, nil
}

func (g *MemGateway) DeleteObject(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.objects, key)
	return nil
}

func (g *MemGateway) Put(_ context.Context, key, _ string, body []byte) error {
	g.Write(key, body)
	return nil
}

func (g *MemGateway) ResolveURL(key string) string {
	return fmt.Sprintf("mem://%s", key)
}

// Has reports whether key currently exists. Test helper.
func (g *MemGateway) Has(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, ok := g.objects[key]
	return ok
}
