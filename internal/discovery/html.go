package discovery

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"github.com/snapbooks-app/geticon/internal/icon"
)

// msTileSizes maps Microsoft tile meta names and browserconfig elements to pixel sizes.
var msTileSizes = map[string]icon.Size{
	"msapplication-tileimage":         {Width: 144, Height: 144},
	"msapplication-square70x70logo":   {Width: 70, Height: 70},
	"msapplication-square150x150logo": {Width: 150, Height: 150},
	"msapplication-wide310x150logo":   {Width: 310, Height: 150},
	"msapplication-square310x310logo": {Width: 310, Height: 310},
	"tileimage":                       {Width: 144, Height: 144},
	"square70x70logo":                 {Width: 70, Height: 70},
	"square150x150logo":               {Width: 150, Height: 150},
	"wide310x150logo":                 {Width: 310, Height: 150},
	"square310x310logo":               {Width: 310, Height: 310},
}

// page is what the root document contributes.
type page struct {
	final            *url.URL
	candidates       []icon.Candidate
	manifests        []string
	browserConfig    string
	browserConfigSet bool
}

func (d *Discoverer) fetchPage(ctx context.Context, root *url.URL, headers http.Header) (*page, error) {
	resp, err := d.fetcher.Fetch(ctx, icon.FetchRequest{
		URL:     root.String(),
		Type:    icon.RequestDocument,
		Headers: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch root page: %w", err)
	}
	final, err := url.Parse(resp.URL)
	if err != nil || final.Host == "" {
		final = root
	}
	return parsePage(final, resp.Body, resp.ContentType)
}

// parsePage extracts link and meta icon declarations. Relative references resolve against
// <base href> when present, otherwise against the final page URL.
func parsePage(final *url.URL, body []byte, contentType string) (*page, error) {
	reader, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return nil, fmt.Errorf("decode root page: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return nil, fmt.Errorf("parse root page: %w", err)
	}

	p := &page{final: final}
	base := final
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved, err := final.Parse(strings.TrimSpace(href)); err == nil {
			base = resolved
		}
	}

	doc.Find("link[rel][href]").Each(func(_ int, s *goquery.Selection) {
		rel := strings.Fields(strings.ToLower(s.AttrOr("rel", "")))
		href := s.AttrOr("href", "")
		if slices.Contains(rel, "manifest") {
			if resolved, ok := icon.ResolveReference(base, href); ok {
				p.manifests = append(p.manifests, resolved)
			}
			return
		}
		c, ok := linkCandidate(base, rel, s)
		if ok {
			p.candidates = append(p.candidates, c)
		}
	})

	doc.Find("meta[content]").Each(func(_ int, s *goquery.Selection) {
		name := strings.ToLower(strings.TrimSpace(s.AttrOr("name", s.AttrOr("property", ""))))
		content := strings.TrimSpace(s.AttrOr("content", ""))
		switch {
		case name == "msapplication-config":
			p.browserConfigSet = true
			if !strings.EqualFold(content, "none") {
				p.browserConfig, _ = icon.ResolveReference(base, content)
			}
		case name == "og:image" || name == "og:image:url" || name == "og:image:secure_url":
			if u, ok := icon.ResolveReference(base, content); ok {
				p.candidates = append(p.candidates, icon.Candidate{
					URL:    u,
					Kind:   icon.KindOpenGraph,
					Format: icon.FormatFromHint("", u),
					Source: icon.SourceHTML,
				})
			}
		default:
			size, isTile := msTileSizes[name]
			if !isTile || !strings.HasPrefix(name, "msapplication-") {
				return
			}
			if u, ok := icon.ResolveReference(base, content); ok {
				p.candidates = append(p.candidates, icon.Candidate{
					URL:    u,
					Kind:   icon.KindMSTile,
					Size:   size,
					Format: icon.FormatFromHint("", u),
					Source: icon.SourceHTML,
				})
			}
		}
	})

	return p, nil
}

func linkCandidate(base *url.URL, rel []string, s *goquery.Selection) (icon.Candidate, bool) {
	var (
		kind    icon.Kind
		purpose string
	)
	switch {
	case slices.Contains(rel, "apple-touch-icon"), slices.Contains(rel, "apple-touch-icon-precomposed"):
		kind = icon.KindAppleTouch
	case slices.Contains(rel, "mask-icon"):
		kind = icon.KindLinkTag
		purpose = "monochrome"
	case slices.Contains(rel, "icon"):
		kind = icon.KindLinkTag
	default:
		return icon.Candidate{}, false
	}

	u, ok := icon.ResolveReference(base, s.AttrOr("href", ""))
	if !ok {
		return icon.Candidate{}, false
	}
	sizes := s.AttrOr("sizes", "")
	return icon.Candidate{
		URL:     u,
		Kind:    kind,
		Size:    icon.ParseSizes(sizes),
		Sizes:   icon.ParseSizeList(sizes),
		Format:  icon.FormatFromHint(s.AttrOr("type", ""), u),
		Purpose: purpose,
		Source:  icon.SourceHTML,
	}, true
}
