package score

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/snapbooks-app/geticon/internal/icon"
)

func square(n int) icon.Size {
	return icon.Size{Width: n, Height: n}
}

func TestSizeFitMonotonicAboveRequest(t *testing.T) {
	t.Parallel()

	const requested = 64
	prev := SizeFit(square(requested), requested)
	require.Equal(t, 40, prev)
	for s := requested + 1; s <= 1024; s++ {
		cur := SizeFit(square(s), requested)
		require.LessOrEqual(t, cur, prev, "size %d", s)
		require.GreaterOrEqual(t, cur, 25, "size %d", s)
		prev = cur
	}
}

func TestSizeFitUndersizedAlwaysLoses(t *testing.T) {
	t.Parallel()

	for _, requested := range []int{16, 32, 64, 192, 512} {
		worstAbove := SizeFit(square(requested*20), requested)
		for s := 1; s < requested; s++ {
			require.Less(t, SizeFit(square(s), requested), worstAbove, "size %d req %d", s, requested)
		}
	}
}

func TestSizeFitUnknownIsNeutral(t *testing.T) {
	t.Parallel()

	require.Equal(t, 20, SizeFit(icon.Size{}, 128))
	require.Equal(t, 40, SizeFit(icon.Size{Scalable: true}, 128))
	require.Equal(t, 12, SizeFit(icon.Size{}, 0))
	require.Equal(t, 30, SizeFit(icon.Size{Scalable: true}, 0))
	require.Equal(t, 30, SizeFit(square(512), 0))
	require.Equal(t, 20, SizeFit(square(192), 0))
	require.Equal(t, 5, SizeFit(square(32), 0))
	require.Equal(t, 2, SizeFit(square(16), 0))
}

func TestScorePrefersIconsOverOpenGraph(t *testing.T) {
	t.Parallel()

	s := New()
	favicon := s.Score(icon.FormatICO, square(32), icon.KindFaviconFile, "", 0)
	og := s.Score(icon.FormatPNG, square(1200), icon.KindOpenGraph, "", 0)
	require.Greater(t, favicon, og)

	link := s.Score(icon.FormatPNG, square(32), icon.KindLinkTag, "", 0)
	ogSame := s.Score(icon.FormatPNG, square(32), icon.KindOpenGraph, "", 0)
	require.Greater(t, link, ogSame)
}

func TestScorePurpose(t *testing.T) {
	t.Parallel()

	s := New()
	plain := s.Score(icon.FormatPNG, square(192), icon.KindManifestEntry, "any", 192)
	mixed := s.Score(icon.FormatPNG, square(192), icon.KindManifestEntry, "any maskable", 192)
	maskable := s.Score(icon.FormatPNG, square(192), icon.KindManifestEntry, "maskable", 192)
	mono := s.Score(icon.FormatSVG, icon.Size{Scalable: true}, icon.KindLinkTag, "monochrome", 192)

	require.Equal(t, plain, mixed)
	require.Equal(t, plain-5, maskable)
	require.Equal(t, 50+40+10-30, mono)
}

func TestRequestedSizePrefersLargeManifestOverSmallFavicon(t *testing.T) {
	t.Parallel()

	s := New()
	favicon := s.ScoreValidated(icon.ValidatedIcon{
		Candidate: icon.Candidate{URL: "https://m.test/favicon.ico", Kind: icon.KindFaviconFile},
		Format:    icon.FormatICO,
		Bytes:     5000,
		Inferred:  square(48),
	}, 192)
	manifest := s.ScoreValidated(icon.ValidatedIcon{
		Candidate: icon.Candidate{URL: "https://m.test/icon-192.png", Kind: icon.KindManifestEntry, Size: square(192)},
		Format:    icon.FormatPNG,
		Bytes:     900,
	}, 192)

	best := slices.MinFunc([]icon.ScoredIcon{favicon, manifest}, Compare)
	require.Equal(t, "https://m.test/icon-192.png", best.URL)
	require.Equal(t, 192, best.RequestedSize)
}

func TestMultiSizeIconScoresItsClosestVariant(t *testing.T) {
	t.Parallel()

	attr := "16x16 32x32 192x192 512x512"
	multi := icon.Candidate{
		URL:    "https://m.test/favicon.png",
		Kind:   icon.KindLinkTag,
		Size:   icon.ParseSizes(attr),
		Sizes:  icon.ParseSizeList(attr),
		Format: icon.FormatPNG,
	}
	single := icon.Candidate{URL: "https://m.test/icon-256.png", Kind: icon.KindLinkTag, Size: square(256), Format: icon.FormatPNG}

	s := New()
	ranked := s.RankCandidates([]icon.Candidate{single, multi}, 192)
	require.Equal(t, multi.URL, ranked[0].URL)

	multiScored := s.ScoreValidated(icon.ValidatedIcon{Candidate: multi, Format: icon.FormatPNG, Bytes: 100}, 192)
	singleScored := s.ScoreValidated(icon.ValidatedIcon{Candidate: single, Format: icon.FormatPNG, Bytes: 100}, 192)
	require.Greater(t, multiScored.Score, singleScored.Score)
	require.Equal(t, sizeFitCeiling, SizeFit(multiScored.EffectiveSizeFor(192), 192))
}

func TestCompareTieBreaks(t *testing.T) {
	t.Parallel()

	base := icon.ScoredIcon{Score: 50}
	a := base
	a.Kind = icon.KindFaviconFile
	b := base
	b.Kind = icon.KindLinkTag
	require.Negative(t, Compare(a, b))

	c := base
	c.Kind = icon.KindLinkTag
	c.Bytes = 10
	d := c
	d.Bytes = 20
	require.Positive(t, Compare(c, d))

	e := d
	e.URL = "https://a.test/x"
	f := d
	f.URL = "https://b.test/x"
	require.Negative(t, Compare(e, f))
	require.Zero(t, Compare(e, e))
}

func TestCompareIsOrderIndependent(t *testing.T) {
	t.Parallel()

	icons := []icon.ScoredIcon{
		{Score: 70, ValidatedIcon: icon.ValidatedIcon{Candidate: icon.Candidate{URL: "https://x.test/b.png", Kind: icon.KindLinkTag}, Bytes: 10}},
		{Score: 70, ValidatedIcon: icon.ValidatedIcon{Candidate: icon.Candidate{URL: "https://x.test/a.png", Kind: icon.KindLinkTag}, Bytes: 10}},
		{Score: 65, ValidatedIcon: icon.ValidatedIcon{Candidate: icon.Candidate{URL: "https://x.test/c.png", Kind: icon.KindFaviconFile}, Bytes: 99}},
	}
	reversed := []icon.ScoredIcon{icons[2], icons[1], icons[0]}

	slices.SortFunc(icons, Compare)
	slices.SortFunc(reversed, Compare)
	require.Equal(t, icons, reversed)
	require.Equal(t, "https://x.test/a.png", icons[0].URL)
}

func TestRankCandidates(t *testing.T) {
	t.Parallel()

	candidates := []icon.Candidate{
		{URL: "https://x.test/og.jpg", Kind: icon.KindOpenGraph, Format: icon.FormatJPEG},
		{URL: "https://x.test/favicon.ico", Kind: icon.KindFaviconFile, Format: icon.FormatICO},
		{URL: "https://x.test/icon.svg", Kind: icon.KindLinkTag, Format: icon.FormatSVG, Size: icon.Size{Scalable: true}},
	}
	ranked := New().RankCandidates(candidates, 0)

	require.Equal(t, "https://x.test/icon.svg", ranked[0].URL)
	require.Equal(t, "https://x.test/favicon.ico", ranked[1].URL)
	require.Equal(t, "https://x.test/og.jpg", ranked[2].URL)
	require.Equal(t, "https://x.test/og.jpg", candidates[0].URL)
}
