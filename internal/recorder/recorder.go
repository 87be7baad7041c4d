// Package recorder archives fresh resolutions: the winning icon goes to blob storage, a
// row goes to Postgres and an event goes to Pub/Sub. Every backend is optional and a
// failing backend never affects the others or the caller.
package recorder

import (
	"context"
	"path"

	"go.uber.org/zap"

	"github.com/snapbooks-app/geticon/internal/icon"
	"github.com/snapbooks-app/geticon/internal/metrics"
)

// Config tunes archive layout and event routing.
type Config struct {
	Prefix string
	Topic  string
}

// Recorder implements icon.ResolutionSink.
type Recorder struct {
	blobs     icon.BlobStore
	store     icon.ResolutionStore
	publisher icon.Publisher
	ids       icon.IDGenerator
	prefix    string
	topic     string
	logger    *zap.Logger
}

// New builds a Recorder. blobs, store and publisher may each be nil.
func New(
	cfg Config,
	blobs icon.BlobStore,
	store icon.ResolutionStore,
	publisher icon.Publisher,
	ids icon.IDGenerator,
	logger *zap.Logger,
) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		blobs:     blobs,
		store:     store,
		publisher: publisher,
		ids:       ids,
		prefix:    cfg.Prefix,
		topic:     cfg.Topic,
		logger:    logger,
	}
}

// Enabled reports whether any backend is configured.
func (r *Recorder) Enabled() bool {
	return r.blobs != nil || r.store != nil || r.publisher != nil
}

// ObjectPath is the content-addressed archive path of an icon.
func ObjectPath(prefix string, site icon.SiteReference, contentHash string, format icon.Format) string {
	return path.Join(prefix, site.Host(), contentHash+"."+format.Extension())
}

// Record archives one resolution. Failures are logged at Warn and counted.
func (r *Recorder) Record(ctx context.Context, resolution icon.Resolution) {
	best := resolution.Result.Best
	if best == nil || !r.Enabled() {
		return
	}
	logger := r.logger.With(
		zap.String("key", resolution.Key),
		zap.String("url", best.URL),
	)

	id, err := r.ids.NewID()
	if err != nil {
		r.fail(logger, "id", err)
		return
	}

	var blobURI string
	if r.blobs != nil {
		objectPath := ObjectPath(r.prefix, resolution.Result.Site, resolution.ContentHash, best.Format)
		blobURI, err = r.blobs.PutObject(ctx, objectPath, best.Format.ContentType(), best.Data)
		if err != nil {
			r.fail(logger, "blob", err)
			blobURI = ""
		}
	}

	if r.store != nil {
		record := icon.ResolutionRecord{
			ID:             id,
			ResolvedAt:     resolution.ResolvedAt,
			SiteURL:        resolution.Result.Site.String(),
			RequestedSize:  best.RequestedSize,
			IconURL:        best.URL,
			IconKind:       best.Kind,
			IconFormat:     best.Format,
			IconBytes:      best.Bytes,
			ContentHash:    resolution.ContentHash,
			BlobURI:        blobURI,
			CandidateCount: resolution.Result.Candidates,
		}
		if err := r.store.InsertResolution(ctx, record); err != nil {
			r.fail(logger, "database", err)
		}
	}

	if r.publisher != nil {
		event := icon.ResolutionEvent{
			ID:            id,
			ResolvedAt:    resolution.ResolvedAt,
			SiteURL:       resolution.Result.Site.String(),
			RequestedSize: best.RequestedSize,
			IconURL:       best.URL,
			IconKind:      best.Kind,
			IconFormat:    best.Format,
			ContentHash:   resolution.ContentHash,
			BlobURI:       blobURI,
		}
		if _, err := r.publisher.Publish(ctx, r.topic, event); err != nil {
			r.fail(logger, "pubsub", err)
		}
	}

	logger.Debug("resolution recorded", zap.String("id", id), zap.String("blob_uri", blobURI))
}

func (r *Recorder) fail(logger *zap.Logger, sink string, err error) {
	metrics.ObserveRecorderFailure(sink)
	logger.Warn("recording sink failed", zap.String("sink", sink), zap.Error(err))
}
