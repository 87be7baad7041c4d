package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/snapbooks-app/geticon/internal/hash/sha256"
	"github.com/snapbooks-app/geticon/internal/icon"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeResolver struct {
	calls   atomic.Int32
	gate    chan struct{}
	started chan struct{}
	found   bool
	err     error
}

func (f *fakeResolver) Resolve(ctx context.Context, request icon.Request) (icon.Result, error) {
	f.calls.Add(1)
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.gate != nil {
		<-f.gate
	}
	if ctx.Err() != nil {
		return icon.Result{}, ctx.Err()
	}
	if f.err != nil {
		return icon.Result{}, f.err
	}
	result := icon.Result{Site: request.Site, State: icon.StateExhausted}
	if f.found {
		data := []byte("icon bytes for " + request.CacheKey())
		result.State = icon.StateSucceeded
		result.Best = &icon.ScoredIcon{
			ValidatedIcon: icon.ValidatedIcon{
				Candidate: icon.Candidate{URL: "https://" + request.Site.Host() + "/favicon.ico", Kind: icon.KindFaviconFile},
				Data:      data,
				Format:    icon.FormatICO,
				Bytes:     len(data),
			},
			Score:         60,
			RequestedSize: request.Size,
		}
	}
	return result, nil
}

type recordingSink struct {
	mu          sync.Mutex
	resolutions []icon.Resolution
}

func (s *recordingSink) Record(_ context.Context, resolution icon.Resolution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolutions = append(s.resolutions, resolution)
}

func (s *recordingSink) all() []icon.Resolution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]icon.Resolution(nil), s.resolutions...)
}

func request(t *testing.T, raw string, size int) icon.Request {
	t.Helper()
	site, err := icon.Normalize(raw)
	require.NoError(t, err)
	return icon.Request{Site: site, Size: size}
}

func newCache(t *testing.T, resolver icon.Resolver, clock icon.Clock, cfg Config, sink icon.ResolutionSink) *Cache {
	t.Helper()
	c, err := New(resolver, clock, sha256.New(), cfg, sink, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestResolveHitReturnsStoredEntry(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{found: true}
	c := newCache(t, resolver, newFakeClock(), Config{}, nil)

	first, err := c.Resolve(context.Background(), request(t, "example.com", 0))
	require.NoError(t, err)
	require.True(t, first.Found())
	require.Len(t, first.ContentHash, 64)
	require.Equal(t, `"`+first.ContentHash+`"`, first.ETag())

	second, err := c.Resolve(context.Background(), request(t, "https://example.com/", 0))
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.EqualValues(t, 1, resolver.calls.Load())

	stats := c.Stats()
	require.Equal(t, 1, stats.Entries)
	require.EqualValues(t, 1, stats.Hits)
	require.EqualValues(t, 1, stats.Misses)
	require.Equal(t, DefaultTTL, stats.TTL)
}

func TestResolveSizeIsPartOfKey(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{found: true}
	c := newCache(t, resolver, newFakeClock(), Config{}, nil)

	a, err := c.Resolve(context.Background(), request(t, "example.com", 0))
	require.NoError(t, err)
	b, err := c.Resolve(context.Background(), request(t, "example.com", 64))
	require.NoError(t, err)
	require.NotEqual(t, a.Key, b.Key)
	require.EqualValues(t, 2, resolver.calls.Load())
}

func TestResolveExpiresAfterTTL(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	resolver := &fakeResolver{found: true}
	c := newCache(t, resolver, clock, Config{TTL: time.Minute}, nil)
	req := request(t, "example.com", 0)

	first, err := c.Resolve(context.Background(), req)
	require.NoError(t, err)

	clock.Advance(59 * time.Second)
	_, err = c.Resolve(context.Background(), req)
	require.NoError(t, err)
	require.EqualValues(t, 1, resolver.calls.Load())

	clock.Advance(time.Second)
	again, err := c.Resolve(context.Background(), req)
	require.NoError(t, err)
	require.EqualValues(t, 2, resolver.calls.Load())
	require.True(t, again.CreatedAt.After(first.CreatedAt))
}

func TestResolveDoesNotStoreMissesOrErrors(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{}
	c := newCache(t, resolver, newFakeClock(), Config{}, nil)
	req := request(t, "example.com", 0)

	for range 2 {
		entry, err := c.Resolve(context.Background(), req)
		require.NoError(t, err)
		require.False(t, entry.Found())
		require.Empty(t, entry.ETag())
	}
	require.EqualValues(t, 2, resolver.calls.Load())

	failing := &fakeResolver{err: errors.New("boom")}
	c = newCache(t, failing, newFakeClock(), Config{}, nil)
	for range 2 {
		_, err := c.Resolve(context.Background(), req)
		require.Error(t, err)
	}
	require.EqualValues(t, 2, failing.calls.Load())
	require.Zero(t, c.Stats().Entries)
}

func TestResolveCollapsesConcurrentMisses(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{found: true, gate: make(chan struct{}), started: make(chan struct{}, 1)}
	c := newCache(t, resolver, newFakeClock(), Config{}, nil)
	req := request(t, "example.com", 32)

	const callers = 8
	var wg sync.WaitGroup
	entries := make([]Entry, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entries[i], errs[i] = c.Resolve(context.Background(), req)
		}()
	}

	<-resolver.started
	time.Sleep(20 * time.Millisecond)
	close(resolver.gate)
	wg.Wait()

	require.EqualValues(t, 1, resolver.calls.Load())
	for i := range callers {
		require.NoError(t, errs[i])
		require.Equal(t, entries[0], entries[i])
	}
}

func TestResolveCanceledCallerDoesNotCancelResolution(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{found: true, gate: make(chan struct{}), started: make(chan struct{}, 1)}
	c := newCache(t, resolver, newFakeClock(), Config{}, nil)
	req := request(t, "example.com", 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Resolve(ctx, req)
		done <- err
	}()
	<-resolver.started
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	close(resolver.gate)
	entry, err := c.Resolve(context.Background(), req)
	require.NoError(t, err)
	require.True(t, entry.Found())
	require.EqualValues(t, 1, resolver.calls.Load())
}

func TestStoreEvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	resolver := &fakeResolver{found: true}
	c := newCache(t, resolver, clock, Config{MaxEntries: 2}, nil)
	resolve := func(site string) {
		t.Helper()
		_, err := c.Resolve(context.Background(), request(t, site, 0))
		require.NoError(t, err)
	}

	resolve("a.example")
	clock.Advance(time.Second)
	resolve("b.example")
	clock.Advance(time.Second)
	// a is the oldest entry but was just used, so b goes when c arrives.
	resolve("a.example")
	resolve("c.example")
	require.Equal(t, 2, c.Stats().Entries)
	require.EqualValues(t, 3, resolver.calls.Load())

	resolve("a.example")
	resolve("c.example")
	require.EqualValues(t, 3, resolver.calls.Load())

	resolve("b.example")
	require.EqualValues(t, 4, resolver.calls.Load())
}

func TestResolveNotifiesSinkOnFreshSuccess(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	c := newCache(t, &fakeResolver{found: true}, newFakeClock(), Config{}, sink)
	req := request(t, "example.com", 0)

	entry, err := c.Resolve(context.Background(), req)
	require.NoError(t, err)
	_, err = c.Resolve(context.Background(), req)
	require.NoError(t, err)
	c.Close()

	got := sink.all()
	require.Len(t, got, 1)
	require.Equal(t, entry.Key, got[0].Key)
	require.Equal(t, entry.ContentHash, got[0].ContentHash)
	require.Equal(t, entry.CreatedAt, got[0].ResolvedAt)
	require.Equal(t, entry.Result.Best.URL, got[0].Result.Best.URL)
}

func TestCloseWaitsForInFlightResolution(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	resolver := &fakeResolver{found: true, gate: make(chan struct{}), started: make(chan struct{}, 1)}
	c := newCache(t, resolver, newFakeClock(), Config{}, sink)
	req := request(t, "example.com", 0)

	done := make(chan error, 1)
	go func() {
		_, err := c.Resolve(context.Background(), req)
		done <- err
	}()
	<-resolver.started

	closed := make(chan struct{})
	go func() {
		c.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("Close returned before the resolution finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(resolver.gate)
	require.NoError(t, <-done)
	<-closed
	require.Len(t, sink.all(), 1)

	entry, err := c.Resolve(context.Background(), request(t, "other.example", 0))
	require.NoError(t, err)
	require.True(t, entry.Found())
	require.Len(t, sink.all(), 1)
}
