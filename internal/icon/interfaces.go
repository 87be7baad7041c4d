package icon

import (
	"context"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Resolver produces a Result for a request.
type Resolver interface {
	Resolve(ctx context.Context, request Request) (Result, error)
}

// ResolutionSink receives fresh successful resolutions. Implementations must not block
// the caller on slow backends for longer than the supplied context allows.
type ResolutionSink interface {
	Record(ctx context.Context, resolution Resolution)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// ResolutionStore persists resolution rows.
type ResolutionStore interface {
	InsertResolution(ctx context.Context, record ResolutionRecord) error
	Close()
}

// Publisher pushes resolution events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests used for ETags and archive paths.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
