// Package collyfetcher implements icon.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/textproto"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/snapbooks-app/geticon/internal/icon"
	"github.com/snapbooks-app/geticon/internal/metrics"
)

// Defaults applied when Config leaves a field unset.
const (
	DefaultTimeout      = 10 * time.Second
	DefaultMaxRedirects = 5
	DefaultMaxBodyBytes = 5 << 20
)

// DefaultForwardHeaders lists the incoming headers copied onto outbound requests.
var DefaultForwardHeaders = []string{"Accept-Language", "Sec-Ch-Ua", "Sec-Ch-Ua-Mobile", "Sec-Ch-Ua-Platform"}

var errTooManyRedirects = errors.New("too many redirects")

// Waiter blocks until an outbound request to the URL may proceed.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Config controls collector behavior.
type Config struct {
	Timeout      time.Duration
	MaxRedirects int
	MaxBodyBytes int
	// InsecureSkipVerify disables certificate verification so sites with broken chains
	// still resolve. It weakens transport trust for every outbound request.
	InsecureSkipVerify bool
	ForwardHeaders     []string
	Limiter            Waiter
}

// Fetcher implements icon.Fetcher using a fresh Colly collector per request.
type Fetcher struct {
	cfg       Config
	forward   []string
	transport http.RoundTripper
	logger    *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = DefaultMaxRedirects
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.ForwardHeaders == nil {
		cfg.ForwardHeaders = DefaultForwardHeaders
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	forward := make([]string, 0, len(cfg.ForwardHeaders))
	for _, h := range cfg.ForwardHeaders {
		canonical := textproto.CanonicalMIMEHeaderKey(h)
		if canonical == "User-Agent" || canonical == "Accept" || canonical == "" {
			continue
		}
		forward = append(forward, canonical)
	}
	return &Fetcher{
		cfg:       cfg,
		forward:   forward,
		transport: newHTTPTransport(cfg.InsecureSkipVerify),
		logger:    logger,
	}
}

// Fetch executes a single HTTP GET using Colly. Non-2xx statuses come back as
// *icon.FetchHTTPError; transport failures wrap icon.ErrFetchTimeout or icon.ErrFetchNetwork.
func (f *Fetcher) Fetch(ctx context.Context, request icon.FetchRequest) (icon.FetchResponse, error) {
	if f.cfg.Limiter != nil {
		if err := f.cfg.Limiter.Wait(ctx, request.URL); err != nil {
			return icon.FetchResponse{}, classifyError(err)
		}
	}

	var (
		result   icon.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(ctx, request, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		metrics.ObserveFetch(string(request.Type), 0, 0)
		classified := classifyError(err)
		f.logger.Debug("fetch failed",
			zap.String("url", request.URL),
			zap.String("type", string(request.Type)),
			zap.Error(classified),
		)
		return icon.FetchResponse{}, classified
	}

	metrics.ObserveFetch(string(request.Type), result.StatusCode, len(result.Body))
	if result.StatusCode < http.StatusOK || result.StatusCode >= http.StatusMultipleChoices {
		return result, &icon.FetchHTTPError{URL: request.URL, Status: result.StatusCode}
	}
	f.logger.Debug("fetch completed",
		zap.String("url", request.URL),
		zap.String("final_url", result.URL),
		zap.Int("status", result.StatusCode),
		zap.Int("bytes", len(result.Body)),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

func (f *Fetcher) buildCollector(
	ctx context.Context,
	request icon.FetchRequest,
	start time.Time,
	result *icon.FetchResponse,
	fetchErr *error,
) *colly.Collector {
	profile := ProfileFor(request)
	collector := colly.NewCollector(
		colly.UserAgent(profile.UserAgent),
		colly.AllowURLRevisit(),
		colly.MaxBodySize(f.cfg.MaxBodyBytes),
		colly.ParseHTTPErrorResponse(),
		colly.StdlibContext(ctx),
	)
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.WithTransport(f.transport)
	collector.SetRedirectHandler(f.checkRedirect)

	f.configureCollectorHooks(collector, request, profile, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request icon.FetchRequest,
	profile Profile,
	start time.Time,
	result *icon.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", profile.UserAgent)
		r.Headers.Set("Accept", profile.AcceptFor(request.Type))
		f.copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = icon.FetchResponse{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Headers:     r.Headers.Clone(),
			Body:        append([]byte(nil), r.Body...),
			Duration:    time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

// copyHeaders forwards allow-listed incoming headers onto the outbound request.
func (f *Fetcher) copyHeaders(request icon.FetchRequest, r *colly.Request) {
	if request.Headers == nil {
		return
	}
	for _, key := range f.forward {
		values := request.Headers.Values(key)
		if len(values) == 0 {
			continue
		}
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func (f *Fetcher) checkRedirect(_ *http.Request, via []*http.Request) error {
	if len(via) > f.cfg.MaxRedirects {
		return errTooManyRedirects
	}
	return nil
}

func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", icon.ErrFetchTimeout, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %w", icon.ErrFetchTimeout, err)
	default:
		return fmt.Errorf("%w: %w", icon.ErrFetchNetwork, err)
	}
}

func newHTTPTransport(insecureSkipVerify bool) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: insecureSkipVerify, //nolint:gosec // configurable compatibility trade-off
			MinVersion:         tls.VersionTLS12,
		},
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}
