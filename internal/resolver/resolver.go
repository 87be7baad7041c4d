// Package resolver owns the end-to-end resolution: discovery, ranking and the ordered
// fallback over candidates until one validates.
package resolver

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/snapbooks-app/geticon/internal/icon"
	"github.com/snapbooks-app/geticon/internal/metrics"
	"github.com/snapbooks-app/geticon/internal/score"
)

const tracerName = "github.com/snapbooks-app/geticon/internal/resolver"

// Discoverer enumerates candidates for a site.
type Discoverer interface {
	Discover(ctx context.Context, site icon.SiteReference, headers http.Header) []icon.Candidate
}

// Validator confirms fetched candidate bytes.
type Validator interface {
	Validate(c icon.Candidate, body []byte) (icon.ValidatedIcon, error)
}

// Config tunes the fallback walk.
type Config struct {
	// ValidateParallelism is how many ranked candidates are fetched at once. One means
	// strictly sequential: no more fetches than needed to find a winner.
	ValidateParallelism int
	Retry               RetryPolicy
}

// Resolver implements icon.Resolver.
type Resolver struct {
	discoverer  Discoverer
	fetcher     icon.Fetcher
	validator   Validator
	scorer      score.Scorer
	retry       RetryPolicy
	parallelism int
	logger      *zap.Logger
	tracer      trace.Tracer
}

// walkResult is what the fallback walk learned: the winner's rank index (or -1), the
// icons that validated and the URLs that were tried and dropped.
type walkResult struct {
	winner    int
	validated map[string]icon.ValidatedIcon
	failed    map[string]bool
	attempts  int
}

type outcome struct {
	validated icon.ValidatedIcon
	attempts  int
	err       error
}

// New wires a Resolver.
func New(discoverer Discoverer, fetcher icon.Fetcher, validator Validator, cfg Config, logger *zap.Logger) *Resolver {
	if cfg.ValidateParallelism <= 0 {
		cfg.ValidateParallelism = 1
	}
	if cfg.Retry == nil {
		cfg.Retry = NewExponentialRetryPolicy(2)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		discoverer:  discoverer,
		fetcher:     fetcher,
		validator:   validator,
		scorer:      score.New(),
		retry:       cfg.Retry,
		parallelism: cfg.ValidateParallelism,
		logger:      logger,
		tracer:      otel.Tracer(tracerName),
	}
}

// Resolve runs Discovering -> Validating -> Scored -> Succeeded, or ends in Exhausted.
// Exhaustion is a normal Result with a nil Best and a nil error; only malformed input or
// internal state produce an error.
func (r *Resolver) Resolve(ctx context.Context, request icon.Request) (icon.Result, error) {
	if request.Site.IsZero() {
		return icon.Result{}, fmt.Errorf("%w: resolve called without a normalized site", icon.ErrInternal)
	}
	if request.Size < 0 {
		return icon.Result{}, fmt.Errorf("%w: negative requested size %d", icon.ErrInternal, request.Size)
	}

	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "resolver.Resolve", trace.WithAttributes(
		attribute.String("site", request.Site.String()),
		attribute.Int("size", request.Size),
	))
	defer span.End()
	logger := r.logger.With(zap.String("site", request.Site.String()), zap.Int("size", request.Size))

	result := icon.Result{Site: request.Site, State: icon.StateDiscovering}
	logger.Debug("resolution state", zap.String("state", string(result.State)))

	candidates := r.discoverer.Discover(ctx, request.Site, request.Headers)
	ranked := r.scorer.RankCandidates(candidates, request.Size)
	result.Candidates = len(ranked)
	span.SetAttributes(attribute.Int("candidates", len(ranked)))

	w := r.walk(ctx, logger, request, ranked)
	result.Attempts = w.attempts

	if w.winner < 0 {
		result.State = icon.StateExhausted
		result.Icons = buildIcons(ranked, w, "", request.Size)
		logger.Info("no usable icon",
			zap.Int("candidates", len(ranked)),
			zap.Int("attempts", w.attempts),
		)
		metrics.ObserveResolution(string(result.State), time.Since(start))
		span.SetAttributes(attribute.String("state", string(result.State)))
		return result, nil
	}

	best := w.validated[ranked[w.winner].URL]
	if best.Bytes == 0 || best.Bytes != len(best.Data) {
		err := fmt.Errorf("%w: validated icon %s has %d bytes recorded for %d bytes of data",
			icon.ErrInternal, best.URL, best.Bytes, len(best.Data))
		span.RecordError(err)
		span.SetStatus(codes.Error, "internal inconsistency")
		return icon.Result{}, err
	}

	result.State = icon.StateScored
	scored := r.scorer.ScoreValidated(best, request.Size)
	logger.Debug("resolution state",
		zap.String("state", string(result.State)),
		zap.String("url", scored.URL),
		zap.Int("score", scored.Score),
	)

	result.Best = &scored
	result.State = icon.StateSucceeded
	result.Icons = buildIcons(ranked, w, scored.URL, request.Size)
	logger.Info("icon resolved",
		zap.String("url", scored.URL),
		zap.String("kind", string(scored.Kind)),
		zap.String("format", string(scored.Format)),
		zap.Int("score", scored.Score),
		zap.Int("attempts", w.attempts),
		zap.Duration("duration", time.Since(start)),
	)
	metrics.ObserveResolution(string(result.State), time.Since(start))
	span.SetAttributes(
		attribute.String("state", string(result.State)),
		attribute.String("icon.url", scored.URL),
	)
	return result, nil
}

// walk validates ranked candidates window by window. Fetches inside a window run
// concurrently, but the winner is the first success in rank order, so completion order
// never changes the outcome.
func (r *Resolver) walk(
	ctx context.Context,
	logger *zap.Logger,
	request icon.Request,
	ranked []icon.Candidate,
) walkResult {
	w := walkResult{
		winner:    -1,
		validated: make(map[string]icon.ValidatedIcon),
		failed:    make(map[string]bool),
	}
	for lo := 0; lo < len(ranked); lo += r.parallelism {
		window := ranked[lo:min(lo+r.parallelism, len(ranked))]
		outcomes := make([]outcome, len(window))

		var g errgroup.Group
		for i, c := range window {
			logger.Debug("resolution state",
				zap.String("state", string(icon.StateValidating)),
				zap.String("url", c.URL),
				zap.String("kind", string(c.Kind)),
			)
			g.Go(func() error {
				outcomes[i] = r.tryCandidate(ctx, request, c)
				return nil
			})
		}
		_ = g.Wait()

		for i, o := range outcomes {
			w.attempts += o.attempts
			c := window[i]
			if o.err != nil {
				w.failed[c.URL] = true
				reason := icon.FailureReason(o.err)
				metrics.ObserveCandidateFailure(string(c.Kind), reason)
				logger.Debug("candidate dropped",
					zap.String("url", c.URL),
					zap.String("kind", string(c.Kind)),
					zap.String("reason", reason),
					zap.Error(o.err),
				)
				continue
			}
			w.validated[c.URL] = o.validated
			if w.winner < 0 {
				w.winner = lo + i
			}
		}
		if w.winner >= 0 {
			break
		}
	}
	return w
}

func (r *Resolver) tryCandidate(ctx context.Context, request icon.Request, c icon.Candidate) outcome {
	ctx, span := r.tracer.Start(ctx, "resolver.candidate", trace.WithAttributes(
		attribute.String("icon.url", c.URL),
		attribute.String("icon.kind", string(c.Kind)),
	))
	defer span.End()

	var out outcome
	for {
		out.attempts++
		resp, err := r.fetcher.Fetch(ctx, icon.FetchRequest{
			URL:     c.URL,
			Type:    icon.RequestImage,
			Kind:    c.Kind,
			Purpose: c.Purpose,
			Headers: request.Headers,
		})
		if err == nil {
			out.validated, out.err = r.validator.Validate(c, resp.Body)
			break
		}
		if !r.retry.ShouldRetry(err, out.attempts) {
			out.err = err
			break
		}
		select {
		case <-ctx.Done():
			out.err = fmt.Errorf("candidate retry canceled: %w", ctx.Err())
			return out
		case <-time.After(r.retry.Backoff(out.attempts)):
		}
	}
	if out.err != nil {
		span.SetStatus(codes.Error, icon.FailureReason(out.err))
	}
	return out
}

// buildIcons lists the winner first, then other validated icons in score order, then
// the untried candidates in rank order as metadata-only alternates.
func buildIcons(ranked []icon.Candidate, w walkResult, winnerURL string, requested int) []icon.IconMeta {
	s := score.New()
	var others []icon.ScoredIcon
	for _, v := range w.validated {
		if v.URL != winnerURL {
			others = append(others, s.ScoreValidated(v, requested))
		}
	}
	slices.SortFunc(others, score.Compare)

	out := make([]icon.IconMeta, 0, len(ranked))
	if v, ok := w.validated[winnerURL]; ok {
		out = append(out, validatedMeta(v))
	}
	for _, v := range others {
		out = append(out, validatedMeta(v.ValidatedIcon))
	}
	for _, c := range ranked {
		if _, ok := w.validated[c.URL]; ok || w.failed[c.URL] {
			continue
		}
		out = append(out, icon.IconMeta{
			Kind:   c.Kind,
			URL:    c.URL,
			Size:   c.Size.String(),
			Format: hintFormat(c.Format),
		})
	}
	return out
}

func validatedMeta(v icon.ValidatedIcon) icon.IconMeta {
	return icon.IconMeta{
		Kind:      v.Kind,
		URL:       v.URL,
		Size:      v.EffectiveSize().String(),
		Format:    v.Format,
		Validated: true,
	}
}

func hintFormat(f icon.Format) icon.Format {
	if f == icon.FormatUnknown {
		return ""
	}
	return f
}
