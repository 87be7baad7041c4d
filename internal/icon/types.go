// Package icon holds the domain types shared by every stage of icon resolution.
package icon

import (
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"
)

// Kind identifies where a candidate icon was declared.
type Kind string

// Known candidate kinds.
const (
	KindFaviconFile   Kind = "favicon-file"
	KindLinkTag       Kind = "link-tag"
	KindAppleTouch    Kind = "apple-touch"
	KindManifestEntry Kind = "manifest-entry"
	KindMSTile        Kind = "ms-tile"
	KindOpenGraph     Kind = "open-graph-fallback"
)

// Priority returns the fixed rank of the kind; higher wins ties and deduplication.
func (k Kind) Priority() int {
	switch k {
	case KindFaviconFile:
		return 6
	case KindLinkTag:
		return 5
	case KindAppleTouch:
		return 4
	case KindManifestEntry:
		return 3
	case KindMSTile:
		return 2
	case KindOpenGraph:
		return 1
	default:
		return 0
	}
}

// Format is an image encoding as confirmed by content sniffing.
type Format string

// Supported formats.
const (
	FormatICO     Format = "ico"
	FormatPNG     Format = "png"
	FormatJPEG    Format = "jpeg"
	FormatGIF     Format = "gif"
	FormatWebP    Format = "webp"
	FormatSVG     Format = "svg"
	FormatUnknown Format = "unknown"
)

// ContentType maps the format to the MIME type used for image responses.
func (f Format) ContentType() string {
	switch f {
	case FormatICO:
		return "image/x-icon"
	case FormatPNG:
		return "image/png"
	case FormatJPEG:
		return "image/jpeg"
	case FormatGIF:
		return "image/gif"
	case FormatWebP:
		return "image/webp"
	case FormatSVG:
		return "image/svg+xml"
	default:
		return "application/octet-stream"
	}
}

// Extension returns the file extension (without dot) used when archiving the format.
func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return "jpg"
	case FormatUnknown, "":
		return "bin"
	default:
		return string(f)
	}
}

// FormatFromHint guesses a format from a declared MIME type or, failing that, a URL path.
// Hints are never trusted for the final format; they only feed pre-validation ranking.
func FormatFromHint(mimeType, rawURL string) Format {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	switch mimeType {
	case "image/svg+xml":
		return FormatSVG
	case "image/png":
		return FormatPNG
	case "image/webp":
		return FormatWebP
	case "image/jpeg", "image/jpg":
		return FormatJPEG
	case "image/gif":
		return FormatGIF
	case "image/x-icon", "image/vnd.microsoft.icon", "image/ico":
		return FormatICO
	}

	p := rawURL
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".svg":
		return FormatSVG
	case ".png":
		return FormatPNG
	case ".webp":
		return FormatWebP
	case ".jpg", ".jpeg":
		return FormatJPEG
	case ".gif":
		return FormatGIF
	case ".ico":
		return FormatICO
	default:
		return FormatUnknown
	}
}

// Size is a pixel size. The zero value means unknown.
type Size struct {
	Width    int  `json:"width,omitempty"`
	Height   int  `json:"height,omitempty"`
	Scalable bool `json:"scalable,omitempty"`
}

// Known reports whether the size carries any information.
func (s Size) Known() bool {
	return s.Scalable || (s.Width > 0 && s.Height > 0)
}

// Max returns the larger edge.
func (s Size) Max() int {
	return max(s.Width, s.Height)
}

// String renders the size the way the sizes attribute does ("192x192", "any").
func (s Size) String() string {
	switch {
	case s.Scalable:
		return "any"
	case s.Width > 0 && s.Height > 0:
		return strconv.Itoa(s.Width) + "x" + strconv.Itoa(s.Height)
	default:
		return ""
	}
}

// ParseSizes parses a sizes attribute. The largest listed size wins and "any" marks a
// scalable icon. Malformed tokens are skipped.
func ParseSizes(attr string) Size {
	var best Size
	for _, size := range ParseSizeList(attr) {
		if size.Scalable {
			return size
		}
		if size.Max() > best.Max() {
			best = size
		}
	}
	return best
}

// ParseSizeList returns every well-formed size in a sizes attribute in document order.
// "any" collapses the list to a single scalable size.
func ParseSizeList(attr string) []Size {
	var sizes []Size
	for _, token := range strings.Fields(strings.ToLower(attr)) {
		if token == "any" {
			return []Size{{Scalable: true}}
		}
		w, h, ok := strings.Cut(token, "x")
		if !ok {
			continue
		}
		width, errW := strconv.Atoi(w)
		height, errH := strconv.Atoi(h)
		if errW != nil || errH != nil || width <= 0 || height <= 0 {
			continue
		}
		sizes = append(sizes, Size{Width: width, Height: height})
	}
	return sizes
}

// Source names the discovery source that produced a candidate.
type Source string

// Discovery sources.
const (
	SourceImplicit      Source = "implicit"
	SourceHTML          Source = "html"
	SourceManifest      Source = "manifest"
	SourceBrowserConfig Source = "browserconfig"
)

// Candidate is a discovered, not yet validated reference to a possible icon. Size is the
// largest declared size; Sizes keeps every declared variant of a multi-size file.
type Candidate struct {
	URL     string
	Kind    Kind
	Size    Size
	Sizes   []Size
	Format  Format
	Purpose string
	Source  Source
}

// SizeFor picks the declared variant that best serves requested: the smallest one at or
// above it, else the largest. Without a request or variants it returns Size.
func (c Candidate) SizeFor(requested int) Size {
	if requested <= 0 || len(c.Sizes) < 2 {
		return c.Size
	}
	var fit Size
	for _, size := range c.Sizes {
		if size.Scalable {
			return size
		}
		if size.Max() >= requested && (!fit.Known() || size.Max() < fit.Max()) {
			fit = size
		}
	}
	if fit.Known() {
		return fit
	}
	return c.Size
}

// ValidatedIcon is a candidate whose bytes were fetched and confirmed to decode.
type ValidatedIcon struct {
	Candidate
	Data     []byte
	Format   Format
	Bytes    int
	Inferred Size
}

// EffectiveSize prefers the declared size and falls back to the inferred one.
func (v ValidatedIcon) EffectiveSize() Size {
	return v.EffectiveSizeFor(0)
}

// EffectiveSizeFor is EffectiveSize with the declared variant chosen for requested.
func (v ValidatedIcon) EffectiveSizeFor(requested int) Size {
	if v.Candidate.Size.Known() {
		return v.Candidate.SizeFor(requested)
	}
	return v.Inferred
}

// ScoredIcon is a validated icon with its score against a requested size.
type ScoredIcon struct {
	ValidatedIcon
	Score         int
	RequestedSize int
}

// State is a stage of the resolution state machine.
type State string

// Resolution states.
const (
	StateDiscovering State = "discovering"
	StateValidating  State = "validating"
	StateScored      State = "scored"
	StateSucceeded   State = "succeeded"
	StateExhausted   State = "exhausted"
)

// IconMeta is the metadata exposed for every icon considered by a resolution.
type IconMeta struct {
	Kind      Kind   `json:"kind"`
	URL       string `json:"url"`
	Size      string `json:"size,omitempty"`
	Format    Format `json:"format,omitempty"`
	Validated bool   `json:"validated"`
}

// Request asks for the best icon of a site.
type Request struct {
	Site    SiteReference
	Size    int
	Headers http.Header
}

// CacheKey returns the memoization key of the request.
func (r Request) CacheKey() string {
	return r.Site.CacheKey(r.Size)
}

// Result is the outcome of one resolution.
type Result struct {
	Site       SiteReference
	Icons      []IconMeta
	Best       *ScoredIcon
	State      State
	Attempts   int
	Candidates int
}

// Found reports whether a usable icon was resolved.
func (r Result) Found() bool {
	return r.Best != nil && r.State == StateSucceeded
}

// RequestType selects the Accept header and UA profile of an outbound fetch.
type RequestType string

// Outbound request types.
const (
	RequestDocument      RequestType = "document"
	RequestManifest      RequestType = "manifest"
	RequestBrowserConfig RequestType = "browserconfig"
	RequestImage         RequestType = "image"
)

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Type    RequestType
	Kind    Kind
	Purpose string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL         string
	StatusCode  int
	ContentType string
	Headers     http.Header
	Body        []byte
	Duration    time.Duration
}

// Resolution is handed to sinks after a fresh successful resolution.
type Resolution struct {
	Key         string
	Result      Result
	ContentHash string
	ResolvedAt  time.Time
}

// ResolutionRecord is the row written for each archived resolution.
type ResolutionRecord struct {
	ID             string
	ResolvedAt     time.Time
	SiteURL        string
	RequestedSize  int
	IconURL        string
	IconKind       Kind
	IconFormat     Format
	IconBytes      int
	ContentHash    string
	BlobURI        string
	CandidateCount int
}

// ResolutionEvent is published for each archived resolution.
type ResolutionEvent struct {
	ID            string    `json:"id"`
	ResolvedAt    time.Time `json:"resolved_at"`
	SiteURL       string    `json:"site_url"`
	RequestedSize int       `json:"requested_size,omitempty"`
	IconURL       string    `json:"icon_url"`
	IconKind      Kind      `json:"icon_kind"`
	IconFormat    Format    `json:"icon_format"`
	ContentHash   string    `json:"content_hash"`
	BlobURI       string    `json:"blob_uri,omitempty"`
}
