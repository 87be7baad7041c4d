package collyfetcher

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/snapbooks-app/geticon/internal/icon"
)

func TestProfileFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		request  icon.FetchRequest
		expected ProfileName
	}{
		{"root document", icon.FetchRequest{Type: icon.RequestDocument}, ProfileDesktopChrome},
		{"manifest document", icon.FetchRequest{Type: icon.RequestManifest}, ProfileAndroid},
		{"browserconfig", icon.FetchRequest{Type: icon.RequestBrowserConfig}, ProfileWindowsEdge},
		{"apple touch", icon.FetchRequest{Type: icon.RequestImage, Kind: icon.KindAppleTouch}, ProfileIOSSafari},
		{"manifest icon", icon.FetchRequest{Type: icon.RequestImage, Kind: icon.KindManifestEntry}, ProfileAndroid},
		{"maskable link", icon.FetchRequest{Type: icon.RequestImage, Kind: icon.KindLinkTag, Purpose: "maskable"}, ProfileAndroid},
		{"ms tile", icon.FetchRequest{Type: icon.RequestImage, Kind: icon.KindMSTile}, ProfileWindowsEdge},
		{"favicon", icon.FetchRequest{Type: icon.RequestImage, Kind: icon.KindFaviconFile}, ProfileDesktopChrome},
		{"open graph", icon.FetchRequest{Type: icon.RequestImage, Kind: icon.KindOpenGraph}, ProfileDesktopChrome},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := ProfileFor(tt.request)
			require.Equal(t, tt.expected, p.Name)
			require.NotEmpty(t, p.UserAgent)
			require.NotEqual(t, "*/*", p.AcceptFor(tt.request.Type))
		})
	}
}

func TestProfilesAreDistinct(t *testing.T) {
	t.Parallel()

	seen := map[string]ProfileName{}
	for name, p := range profiles {
		require.Equal(t, name, p.Name)
		prev, dup := seen[p.UserAgent]
		require.False(t, dup, "%s shares a user agent with %s", name, prev)
		seen[p.UserAgent] = name
	}
	require.Equal(t, "*/*", profiles[ProfileAndroid].AcceptFor(icon.RequestType("other")))
}
