package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	require.NotNil(t, resolutionsTotal)
	require.NotNil(t, cacheEventsTotal)
	require.NotNil(t, httpRequestsTotal)
	require.NotNil(t, internalErrorsTotal)
}

func TestObserveHelpers(t *testing.T) {
	Init()

	before := testutil.ToFloat64(cacheEventsTotal.WithLabelValues("hit"))
	ObserveCacheEvent("hit")
	require.InDelta(t, before+1, testutil.ToFloat64(cacheEventsTotal.WithLabelValues("hit")), 0.001)

	before = testutil.ToFloat64(resolutionsTotal.WithLabelValues("succeeded"))
	ObserveResolution("succeeded", 20*time.Millisecond)
	require.InDelta(t, before+1, testutil.ToFloat64(resolutionsTotal.WithLabelValues("succeeded")), 0.001)

	before = testutil.ToFloat64(fetchesTotal.WithLabelValues("image", "2xx"))
	ObserveFetch("image", 200, 512)
	require.InDelta(t, before+1, testutil.ToFloat64(fetchesTotal.WithLabelValues("image", "2xx")), 0.001)

	before = testutil.ToFloat64(internalErrorsTotal)
	IncInternalErrors()
	require.InDelta(t, before+1, testutil.ToFloat64(internalErrorsTotal), 0.001)

	SetCacheEntries(7)
	require.InDelta(t, 7, testutil.ToFloat64(cacheEntries), 0.001)
}

func TestStatusClass(t *testing.T) {
	t.Parallel()

	require.Equal(t, "2xx", statusClass(204))
	require.Equal(t, "4xx", statusClass(404))
	require.Equal(t, "error", statusClass(0))
}
