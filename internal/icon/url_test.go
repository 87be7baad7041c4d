package icon

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"bare host", "example.com", "https://example.com"},
		{"mixed case host", "Example.COM", "https://example.com"},
		{"host and port", "example.com:8080", "https://example.com:8080"},
		{"default https port", "https://example.com:443/", "https://example.com"},
		{"default http port", "HTTP://Example.com:80", "http://example.com"},
		{"trailing slashes", "https://example.com/app//", "https://example.com/app"},
		{"fragment stripped", "https://example.com/#top", "https://example.com"},
		{"query kept for full url", "https://example.com/?lang=en", "https://example.com?lang=en"},
		{"query dropped for bare host", "example.com?lang=en", "https://example.com"},
		{"protocol relative", "//example.com/", "https://example.com"},
		{"surrounding space", "  example.com  ", "https://example.com"},
		{"scheme inside bare query", "example.com/go?to=https://other.org", "https://example.com/go"},
		{"scheme separator inside bare path", "example.com/a://b", "https://example.com/a://b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ref, err := Normalize(tt.input)
			require.NoError(t, err)
			require.Equal(t, tt.expected, ref.String())
			require.NotEmpty(t, ref.Scheme())
			require.NotEmpty(t, ref.Host())
		})
	}
}

func TestNormalizeRejects(t *testing.T) {
	t.Parallel()

	for _, input := range []string{
		"",
		"   ",
		"ftp://example.com",
		"https://",
		"https://exa mple.com",
		"https://example..com",
		"https://example.com:99999",
	} {
		_, err := Normalize(input)
		require.ErrorIs(t, err, ErrInvalidURL, input)
	}
}

func TestCacheKeyCollapsesHostCase(t *testing.T) {
	t.Parallel()

	a, err := Normalize("Example.com")
	require.NoError(t, err)
	b, err := Normalize("https://example.com/")
	require.NoError(t, err)

	require.Equal(t, a.CacheKey(0), b.CacheKey(0))
	require.Equal(t, "https://example.com:192", a.CacheKey(192))
	require.NotEqual(t, a.CacheKey(0), a.CacheKey(32))
}

func TestSiteReferenceURLIsCopy(t *testing.T) {
	t.Parallel()

	ref, err := Normalize("example.com")
	require.NoError(t, err)

	u := ref.URL()
	u.Host = "other.test"
	require.Equal(t, "https://example.com", ref.String())
}

func TestResolveReference(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://www.example.com/docs/index.html")
	require.NoError(t, err)

	got, ok := ResolveReference(base, "../img/icon.png#x")
	require.True(t, ok)
	require.Equal(t, "https://www.example.com/img/icon.png", got)

	got, ok = ResolveReference(base, "//CDN.example.com:443/f.ico")
	require.True(t, ok)
	require.Equal(t, "https://cdn.example.com/f.ico", got)

	_, ok = ResolveReference(base, "data:image/png;base64,AAAA")
	require.False(t, ok)

	_, ok = ResolveReference(base, "   ")
	require.False(t, ok)
}
