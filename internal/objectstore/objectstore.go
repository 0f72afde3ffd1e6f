// Package objectstore wraps the external object storage service. The pipeline
// never proxies file bytes; clients write directly to storage through
// pre-signed URLs and this package only presigns, probes, and re-fetches for
// integrity checks.
package objectstore

import (
	"context"
	"time"
)

// Gateway is the capability surface the pipeline consumes from object storage.
type Gateway interface {
	// PresignUpload issues a time-boxed write-capable URL for path, plus any
	// headers the client must send with the PUT.
	PresignUpload(ctx context.Context, path string, expiry time.Duration) (string, map[string]string, error)
	// ObjectExists probes whether an object has actually landed at path.
	ObjectExists(ctx context.Context, path string) (bool, error)
	// FetchObject reads the full object back for integrity verification.
	FetchObject(ctx context.Context, path string) ([]byte, error)
}
