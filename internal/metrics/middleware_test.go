package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddleware(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/img", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/json", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	ok := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200"))
	missing := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404"))

	for _, path := range []string{"/img", "/json"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.InDelta(t, ok+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")), 0.001)
	require.InDelta(t, missing+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404")), 0.001)
	require.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}
