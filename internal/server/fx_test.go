package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/snapbooks-app/geticon/internal/config"
)

func encodePNG(t *testing.T, size int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for x := range size {
		img.Set(x, x, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newSite(t *testing.T, iconBody []byte) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<!doctype html><html><head>
<link rel="icon" href="/static/icon-64.png" sizes="64x64" type="image/png">
<meta property="og:image" content="/og.jpg">
</head><body>hello</body></html>`))
	})
	mux.HandleFunc("/static/icon-64.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(iconBody)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Fetch.TimeoutSeconds = 5
	cfg.Fetch.MaxAttempts = 1
	return cfg
}

func TestAppResolvesIconEndToEnd(t *testing.T) {
	iconBody := encodePNG(t, 64)
	site := newSite(t, iconBody)

	app, err := BuildWithLogger(context.Background(), testConfig(t), "test", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	target := "/img?url=" + url.QueryEscape(site.URL)
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	require.Equal(t, iconBody, rec.Body.Bytes())
	require.Equal(t, site.URL+"/static/icon-64.png", rec.Header().Get("X-Icon-Source"))
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/json?url="+url.QueryEscape(site.URL), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		URL      string `json:"url"`
		BestIcon struct {
			URL    string `json:"url"`
			Format string `json:"format"`
			Bytes  int    `json:"bytes"`
		} `json:"best_icon"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, site.URL, body.URL)
	require.Equal(t, site.URL+"/static/icon-64.png", body.BestIcon.URL)
	require.Equal(t, "png", body.BestIcon.Format)
	require.Equal(t, len(iconBody), body.BestIcon.Bytes)

	stats := app.Icons().Stats()
	require.Equal(t, 1, stats.Entries)
	require.EqualValues(t, 1, stats.Hits)
	require.EqualValues(t, 1, stats.Misses)

	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotModified, rec.Code)
}

func TestAppArchivesToLocalStorage(t *testing.T) {
	iconBody := encodePNG(t, 64)
	site := newSite(t, iconBody)

	cfg := testConfig(t)
	cfg.Storage.Backend = config.StorageLocal
	cfg.Storage.Local.BaseDir = t.TempDir()
	cfg.Storage.Prefix = "icons"
	cfg.PubSub.TopicName = "icon-resolutions"

	app, err := BuildWithLogger(context.Background(), cfg, "test", zap.NewNop())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/img?url="+url.QueryEscape(site.URL), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, app.Close(context.Background()))

	var archived []string
	root := filepath.Join(cfg.Storage.Local.BaseDir, "icons", "127.0.0.1")
	require.NoError(t, filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".png") {
			archived = append(archived, path)
		}
		return nil
	}))
	require.Len(t, archived, 1)
	data, err := os.ReadFile(archived[0])
	require.NoError(t, err)
	require.Equal(t, iconBody, data)
	require.Equal(t, strings.Trim(rec.Header().Get("ETag"), `"`)+".png", filepath.Base(archived[0]))
}

func TestAppReportsNoIconForBareSite(t *testing.T) {
	site := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(site.Close)

	app, err := BuildWithLogger(context.Background(), testConfig(t), "test", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/img?url="+url.QueryEscape(site.URL), nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Zero(t, app.Icons().Stats().Entries)
}

func TestBuildFailsOnUnusableStorage(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	cfg := testConfig(t)
	cfg.Storage.Backend = config.StorageLocal
	cfg.Storage.Local.BaseDir = file

	_, err := BuildWithLogger(context.Background(), cfg, "test", zap.NewNop())
	require.ErrorContains(t, err, "local blob store init failed")
}
