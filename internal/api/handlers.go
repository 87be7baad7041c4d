package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/snapbooks-app/geticon/internal/cache"
	"github.com/snapbooks-app/geticon/internal/icon"
)

const (
	cacheControl = "public, max-age=3600"
	maxIconSize  = 4096
)

type iconsResponse struct {
	URL      string          `json:"url"`
	Icons    []icon.IconMeta `json:"icons"`
	BestIcon *bestIcon       `json:"best_icon"`
}

type bestIcon struct {
	icon.IconMeta
	Score       int    `json:"score"`
	ContentType string `json:"content_type"`
	Bytes       int    `json:"bytes"`
}

// parseRequest reads url and size. The original request headers ride along so the
// fetcher can forward its allow-list.
func parseRequest(r *http.Request) (icon.Request, error) {
	q := r.URL.Query()
	site, err := icon.Normalize(q.Get("url"))
	if err != nil {
		return icon.Request{}, err
	}
	size := 0
	if raw := strings.TrimSpace(q.Get("size")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxIconSize {
			return icon.Request{}, errInvalidSize
		}
		size = n
	}
	return icon.Request{Site: site, Size: size, Headers: r.Header.Clone()}, nil
}

var errInvalidSize = errors.New("size must be a positive integer")

// resolve runs a request and writes the error response itself when it fails.
func (s *Server) resolve(w http.ResponseWriter, r *http.Request) (icon.Request, cache.Entry, bool) {
	req, err := parseRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return icon.Request{}, cache.Entry{}, false
	}
	entry, err := s.icons.Resolve(r.Context(), req)
	if err != nil {
		s.writeResolveError(w, r, req, err)
		return icon.Request{}, cache.Entry{}, false
	}
	return req, entry, true
}

func (s *Server) writeResolveError(w http.ResponseWriter, r *http.Request, req icon.Request, err error) {
	fields := []zap.Field{
		zap.String("site", req.Site.String()),
		zap.String("request_id", RequestIDFromContext(r.Context())),
		zap.Error(err),
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn("resolution timed out", fields...)
		writeError(w, http.StatusGatewayTimeout, "resolution timed out")
	case errors.Is(err, context.Canceled):
		s.logger.Debug("client went away", fields...)
	default:
		s.logger.Error("resolution failed", fields...)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) iconImage(w http.ResponseWriter, r *http.Request) {
	_, entry, ok := s.resolve(w, r)
	if !ok {
		return
	}
	if !entry.Found() {
		writeError(w, http.StatusNotFound, "no usable icon found")
		return
	}

	etag := entry.ETag()
	h := w.Header()
	h.Set("ETag", etag)
	h.Set("Cache-Control", cacheControl)
	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	best := entry.Result.Best
	h.Set("Content-Type", best.Format.ContentType())
	h.Set("Content-Length", strconv.Itoa(len(best.Data)))
	h.Set("X-Icon-Source", best.URL)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(best.Data); err != nil {
		s.logger.Debug("write icon failed", zap.Error(err))
	}
}

func (s *Server) iconsJSON(w http.ResponseWriter, r *http.Request) {
	req, entry, ok := s.resolve(w, r)
	if !ok {
		return
	}
	payload := iconsResponse{
		URL:   req.Site.String(),
		Icons: entry.Result.Icons,
	}
	if payload.Icons == nil {
		payload.Icons = []icon.IconMeta{}
	}
	if best := entry.Result.Best; best != nil {
		payload.BestIcon = &bestIcon{
			IconMeta: icon.IconMeta{
				Kind:      best.Kind,
				URL:       best.URL,
				Size:      best.EffectiveSize().String(),
				Format:    best.Format,
				Validated: true,
			},
			Score:       best.Score,
			ContentType: best.Format.ContentType(),
			Bytes:       best.Bytes,
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("encode icons response", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	body = append(body, '\n')

	h := w.Header()
	h.Set("Content-Type", "application/json")
	if !entry.Found() {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write(body)
		return
	}

	digest, err := s.hasher.Hash(body)
	if err != nil {
		s.logger.Error("hash icons response", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	etag := `"` + digest + `"`
	h.Set("ETag", etag)
	h.Set("Cache-Control", cacheControl)
	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		h.Del("Content-Type")
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		s.logger.Debug("write json failed", zap.Error(err))
	}
}

// legacyRedirect maps /url/<site> onto /img?url=<site>.
func (s *Server) legacyRedirect(w http.ResponseWriter, r *http.Request) {
	site := chi.URLParam(r, "*")
	if unescaped, err := url.PathUnescape(site); err == nil {
		site = unescaped
	}
	if strings.TrimSpace(site) == "" {
		writeError(w, http.StatusBadRequest, "site is required")
		return
	}
	target := "/img?url=" + url.QueryEscape(site)
	if size := r.URL.Query().Get("size"); size != "" {
		target += "&size=" + url.QueryEscape(size)
	}
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}

// etagMatches implements the weak comparison If-None-Match uses.
func etagMatches(header, etag string) bool {
	if header == "" || etag == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		if strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}
