package objectstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrUnavailable simulates a transient storage outage in the in-memory
// gateway.
var ErrUnavailable = errors.New("object storage unavailable")

// MemoryGateway is an in-memory Gateway for tests and standalone runs.
// Objects are "uploaded" by calling Put directly, standing in for the
// client's direct PUT against the presigned URL.
type MemoryGateway struct {
	mu      sync.Mutex
	objects map[string][]byte

	// Unavailable makes every call fail with ErrUnavailable while set.
	Unavailable bool
}

// NewMemoryGateway constructs an empty MemoryGateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{objects: make(map[string][]byte)}
}

// Put stores object bytes, simulating a completed client upload.
func (g *MemoryGateway) Put(path string, data []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.objects[path] = append([]byte(nil), data...)
}

// PresignUpload returns a synthetic URL; nothing validates it, since the
// in-memory gateway has no HTTP surface.
func (g *MemoryGateway) PresignUpload(_ context.Context, path string, expiry time.Duration) (string, map[string]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Unavailable {
		return "", nil, ErrUnavailable
	}
	u := fmt.Sprintf("memory://upload/%s?expires=%d", path, time.Now().Add(expiry).Unix())
	return u, map[string]string{"Content-Type": "application/octet-stream"}, nil
}

// ObjectExists reports whether Put has been called for path.
func (g *MemoryGateway) ObjectExists(_ context.Context, path string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Unavailable {
		return false, ErrUnavailable
	}
	_, ok := g.objects[path]
	return ok, nil
}

// FetchObject returns the stored bytes for path.
func (g *MemoryGateway) FetchObject(_ context.Context, path string) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Unavailable {
		return nil, ErrUnavailable
	}
	data, ok := g.objects[path]
	if !ok {
		return nil, fmt.Errorf("object %s not found", path)
	}
	return append([]byte(nil), data...), nil
}
