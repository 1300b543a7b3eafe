// Package storage abstracts the object-storage backend behind a small
// gateway interface. Bytes never flow through the application tier, the
// gateway only mints upload authorizations and verifies what the storage
// backend actually holds.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrQuotaExceeded      = errors.New("declared size exceeds the configured ceiling")
	ErrInvalidContentType = errors.New("unsupported content type")
	ErrNotFound           = errors.New("object not found")
)

// UploadAuthorization is a write-capable, time-boxed destination the
// client uses to transfer bytes directly to storage. It grants a single
// PUT to a single key, nothing else.
type UploadAuthorization struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// ObjectStat is the authoritative answer on whether and what was
// actually written. Client self-reports are never trusted over this.
type ObjectStat struct {
	Exists   bool
	Size     int64
	Checksum string
}

type Gateway interface {
	// IssueUploadAuthorization mints a presigned destination for key.
	// Fails with ErrQuotaExceeded or ErrInvalidContentType before
	// touching the backend.
	IssueUploadAuthorization(ctx context.Context, key, contentType string, maxBytes int64) (*UploadAuthorization, error)

	// StatObject reports existence, byte size and checksum of key.
	// Returns ErrNotFound if the object was never written.
	StatObject(ctx context.Context, key string) (*ObjectStat, error)

	// DeleteObject is idempotent, deleting a missing key is not an error.
	DeleteObject(ctx context.Context, key string) error

	// Put writes a derived object (thumbnails). The original upload
	// never goes through here.
	Put(ctx context.Context, key, contentType string, body []byte) error

	// ResolveURL returns a URL the object can be fetched from directly.
	// Says nothing about processing state.
	ResolveURL(key string) string
}
