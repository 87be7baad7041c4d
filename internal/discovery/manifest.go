package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/snapbooks-app/geticon/internal/icon"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type webManifest struct {
	Icons []manifestIcon `json:"icons"`
}

type manifestIcon struct {
	Src     string `json:"src"`
	Sizes   string `json:"sizes"`
	Type    string `json:"type"`
	Purpose string `json:"purpose"`
}

func (d *Discoverer) fetchManifest(ctx context.Context, target string, headers http.Header) sourceResult {
	result := sourceResult{source: icon.SourceManifest, target: target}
	resp, err := d.fetcher.Fetch(ctx, icon.FetchRequest{
		URL:     target,
		Type:    icon.RequestManifest,
		Headers: headers,
	})
	if err != nil {
		result.err = fmt.Errorf("fetch manifest: %w", err)
		return result
	}
	base, err := url.Parse(resp.URL)
	if err != nil || base.Host == "" {
		base, _ = url.Parse(target)
	}
	result.candidates, result.err = parseManifest(base, resp.Body)
	return result
}

// parseManifest reads icons[] of a Web App Manifest; src resolves against the manifest URL.
func parseManifest(base *url.URL, body []byte) ([]icon.Candidate, error) {
	var m webManifest
	if err := json.Unmarshal(bytes.TrimPrefix(body, utf8BOM), &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	candidates := make([]icon.Candidate, 0, len(m.Icons))
	for _, entry := range m.Icons {
		u, ok := icon.ResolveReference(base, entry.Src)
		if !ok {
			continue
		}
		candidates = append(candidates, icon.Candidate{
			URL:     u,
			Kind:    icon.KindManifestEntry,
			Size:    icon.ParseSizes(entry.Sizes),
			Sizes:   icon.ParseSizeList(entry.Sizes),
			Format:  icon.FormatFromHint(entry.Type, u),
			Purpose: entry.Purpose,
			Source:  icon.SourceManifest,
		})
	}
	return candidates, nil
}
