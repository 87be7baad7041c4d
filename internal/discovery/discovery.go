// Package discovery enumerates every icon a site declares, from independent sources that
// may each fail without failing the whole.
package discovery

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/snapbooks-app/geticon/internal/icon"
	"github.com/snapbooks-app/geticon/internal/metrics"
)

var (
	implicitFavicons = []string{"/favicon.ico"}
	implicitTouch    = []string{"/apple-touch-icon.png", "/apple-touch-icon-precomposed.png"}
	defaultManifests = []string{"/manifest.json", "/site.webmanifest"}

	// Apple documents 180x180 as the size it requests for the implicit touch icons.
	implicitTouchSize = icon.Size{Width: 180, Height: 180}

	errEmptySource = errors.New("source declared no icons")
)

// sourceResult is the tagged outcome of one discovery source.
type sourceResult struct {
	source     icon.Source
	target     string
	candidates []icon.Candidate
	err        error
}

// Discoverer produces the deduplicated candidate set for a site.
type Discoverer struct {
	fetcher icon.Fetcher
	logger  *zap.Logger
}

// New builds a Discoverer.
func New(fetcher icon.Fetcher, logger *zap.Logger) *Discoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{fetcher: fetcher, logger: logger}
}

// Discover never fails: source errors are recorded as soft misses and an empty slice is a
// legitimate answer. Candidate URLs resolve against the page URL after redirects.
func (d *Discoverer) Discover(ctx context.Context, site icon.SiteReference, headers http.Header) []icon.Candidate {
	root := site.URL()
	results := make([]sourceResult, 0, 6)

	page, err := d.fetchPage(ctx, root, headers)
	if err != nil {
		results = append(results, sourceResult{source: icon.SourceHTML, target: root.String(), err: err})
	} else {
		root = page.final
		results = append(results, sourceResult{source: icon.SourceHTML, target: page.final.String(), candidates: page.candidates})
	}
	results = append(results, implicitCandidates(root))

	manifests := defaultManifests
	browserConfig := "/browserconfig.xml"
	if page != nil {
		if len(page.manifests) > 0 {
			manifests = page.manifests
		}
		if page.browserConfigSet {
			browserConfig = page.browserConfig
		}
	}

	results = append(results, d.fetchLinked(ctx, root, manifests, browserConfig, headers)...)

	for _, r := range results {
		if r.err == nil && len(r.candidates) == 0 {
			r.err = errEmptySource
		}
		if r.err != nil {
			metrics.ObserveSoftMiss(string(r.source))
			d.logger.Debug("discovery soft miss",
				zap.String("site", site.String()),
				zap.String("source", string(r.source)),
				zap.String("target", r.target),
				zap.Error(r.err),
			)
		}
	}

	candidates := merge(results)
	d.logger.Debug("discovery completed",
		zap.String("site", site.String()),
		zap.String("final_url", root.String()),
		zap.Int("candidates", len(candidates)),
	)
	return candidates
}

// fetchLinked fetches manifests and the browserconfig concurrently. Each goroutine owns
// one slot of the result slice.
func (d *Discoverer) fetchLinked(
	ctx context.Context,
	root *url.URL,
	manifests []string,
	browserConfig string,
	headers http.Header,
) []sourceResult {
	targets := make([]string, 0, len(manifests))
	for _, href := range manifests {
		if resolved, ok := icon.ResolveReference(root, href); ok {
			targets = append(targets, resolved)
		}
	}
	configURL := ""
	if browserConfig != "" {
		configURL, _ = icon.ResolveReference(root, browserConfig)
	}

	results := make([]sourceResult, len(targets)+1)
	g, gctx := errgroup.WithContext(ctx)
	for i, target := range targets {
		g.Go(func() error {
			results[i] = d.fetchManifest(gctx, target, headers)
			return nil
		})
	}
	if configURL != "" {
		g.Go(func() error {
			results[len(targets)] = d.fetchBrowserConfig(gctx, configURL, headers)
			return nil
		})
	} else {
		results[len(targets)] = sourceResult{
			source: icon.SourceBrowserConfig,
			err:    errors.New("browserconfig disabled by page"),
		}
	}
	_ = g.Wait()
	return results
}

func implicitCandidates(root *url.URL) sourceResult {
	result := sourceResult{source: icon.SourceImplicit, target: root.String()}
	for _, p := range implicitFavicons {
		if u, ok := icon.ResolveReference(root, p); ok {
			result.candidates = append(result.candidates, icon.Candidate{
				URL:    u,
				Kind:   icon.KindFaviconFile,
				Format: icon.FormatICO,
				Source: icon.SourceImplicit,
			})
		}
	}
	for _, p := range implicitTouch {
		if u, ok := icon.ResolveReference(root, p); ok {
			result.candidates = append(result.candidates, icon.Candidate{
				URL:    u,
				Kind:   icon.KindAppleTouch,
				Size:   implicitTouchSize,
				Format: icon.FormatPNG,
				Source: icon.SourceImplicit,
			})
		}
	}
	return result
}

// merge flattens source results in order and collapses duplicate URLs. The surviving
// entry carries the highest-priority kind and inherits hints the others declared.
func merge(results []sourceResult) []icon.Candidate {
	index := make(map[string]int)
	var out []icon.Candidate
	for _, r := range results {
		for _, c := range r.candidates {
			i, seen := index[c.URL]
			if !seen {
				index[c.URL] = len(out)
				out = append(out, c)
				continue
			}
			out[i] = combine(out[i], c)
		}
	}
	return out
}

func combine(existing, incoming icon.Candidate) icon.Candidate {
	winner, other := existing, incoming
	if incoming.Kind.Priority() > existing.Kind.Priority() {
		winner, other = incoming, existing
	}
	if !winner.Size.Known() {
		winner.Size, winner.Sizes = other.Size, other.Sizes
	}
	if winner.Format == "" || winner.Format == icon.FormatUnknown {
		winner.Format = other.Format
	}
	if winner.Purpose == "" {
		winner.Purpose = other.Purpose
	}
	return winner
}
