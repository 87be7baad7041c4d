package collyfetcher

import (
	"strings"

	"github.com/snapbooks-app/geticon/internal/icon"
)

// ProfileName identifies a client fingerprint presented to upstream sites.
type ProfileName string

// Client profiles. Several sites gate icon assets on the client they believe is asking.
const (
	ProfileDesktopChrome ProfileName = "windows-chrome"
	ProfileIOSSafari     ProfileName = "ios-safari"
	ProfileAndroid       ProfileName = "android-chrome"
	ProfileWindowsEdge   ProfileName = "windows-edge"
)

// Profile is the fixed header set used for one client fingerprint.
type Profile struct {
	Name      ProfileName
	UserAgent string
	Accept    map[icon.RequestType]string
}

const (
	acceptDocument = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	acceptManifest = "application/manifest+json,application/json;q=0.9,*/*;q=0.8"
	acceptXML      = "application/xml,text/xml;q=0.9,*/*;q=0.8"
	acceptImage    = "image/avif,image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8"
	acceptSafari   = "image/webp,image/avif,image/png,image/svg+xml,image/*;q=0.8,*/*;q=0.5"
)

var profiles = map[ProfileName]Profile{
	ProfileDesktopChrome: {
		Name: ProfileDesktopChrome,
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
			"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		Accept: map[icon.RequestType]string{
			icon.RequestDocument:      acceptDocument,
			icon.RequestManifest:      acceptManifest,
			icon.RequestBrowserConfig: acceptXML,
			icon.RequestImage:         acceptImage,
		},
	},
	ProfileIOSSafari: {
		Name: ProfileIOSSafari,
		UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 " +
			"(KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
		Accept: map[icon.RequestType]string{
			icon.RequestDocument:      acceptDocument,
			icon.RequestManifest:      acceptManifest,
			icon.RequestBrowserConfig: acceptXML,
			icon.RequestImage:         acceptSafari,
		},
	},
	ProfileAndroid: {
		Name: ProfileAndroid,
		UserAgent: "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 " +
			"(KHTML, like Gecko) Chrome/124.0.0.0 Mobile Safari/537.36",
		Accept: map[icon.RequestType]string{
			icon.RequestDocument:      acceptDocument,
			icon.RequestManifest:      acceptManifest,
			icon.RequestBrowserConfig: acceptXML,
			icon.RequestImage:         acceptImage,
		},
	},
	ProfileWindowsEdge: {
		Name: ProfileWindowsEdge,
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
			"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.2478.51",
		Accept: map[icon.RequestType]string{
			icon.RequestDocument:      acceptDocument,
			icon.RequestManifest:      acceptManifest,
			icon.RequestBrowserConfig: acceptXML,
			icon.RequestImage:         acceptImage,
		},
	},
}

// ProfileFor maps a request to its client profile. It is a pure function of the
// request type, candidate kind and purpose.
func ProfileFor(request icon.FetchRequest) Profile {
	return profiles[profileName(request)]
}

func profileName(request icon.FetchRequest) ProfileName {
	switch request.Type {
	case icon.RequestManifest:
		return ProfileAndroid
	case icon.RequestBrowserConfig:
		return ProfileWindowsEdge
	case icon.RequestDocument:
		return ProfileDesktopChrome
	}

	switch request.Kind {
	case icon.KindAppleTouch:
		return ProfileIOSSafari
	case icon.KindManifestEntry:
		return ProfileAndroid
	case icon.KindMSTile:
		return ProfileWindowsEdge
	}
	if strings.Contains(strings.ToLower(request.Purpose), "maskable") {
		return ProfileAndroid
	}
	return ProfileDesktopChrome
}

// AcceptFor returns the Accept header the profile sends for a request type.
func (p Profile) AcceptFor(t icon.RequestType) string {
	if accept, ok := p.Accept[t]; ok {
		return accept
	}
	return "*/*"
}
