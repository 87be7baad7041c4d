package discovery

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/snapbooks-app/geticon/internal/icon"
)

func (d *Discoverer) fetchBrowserConfig(ctx context.Context, target string, headers http.Header) sourceResult {
	result := sourceResult{source: icon.SourceBrowserConfig, target: target}
	resp, err := d.fetcher.Fetch(ctx, icon.FetchRequest{
		URL:     target,
		Type:    icon.RequestBrowserConfig,
		Headers: headers,
	})
	if err != nil {
		result.err = fmt.Errorf("fetch browserconfig: %w", err)
		return result
	}
	base, err := url.Parse(resp.URL)
	if err != nil || base.Host == "" {
		base, _ = url.Parse(target)
	}
	result.candidates, result.err = parseBrowserConfig(base, resp.Body)
	return result
}

// parseBrowserConfig reads msapplication/tile/*/@src entries.
func parseBrowserConfig(base *url.URL, body []byte) ([]icon.Candidate, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse browserconfig: %w", err)
	}
	var candidates []icon.Candidate
	for _, node := range xmlquery.Find(doc, "//tile/*[@src]") {
		u, ok := icon.ResolveReference(base, node.SelectAttr("src"))
		if !ok {
			continue
		}
		candidates = append(candidates, icon.Candidate{
			URL:    u,
			Kind:   icon.KindMSTile,
			Size:   msTileSizes[strings.ToLower(node.Data)],
			Format: icon.FormatFromHint("", u),
			Source: icon.SourceBrowserConfig,
		})
	}
	return candidates, nil
}
