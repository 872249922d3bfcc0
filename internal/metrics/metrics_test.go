package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/historykit/internal/history"
	pebblestore "github.com/rzbill/historykit/internal/storage/pebble"
	"github.com/rzbill/historykit/pkg/kit"
)

var (
	_ kit.Metrics             = (*Collector)(nil)
	_ pebblestore.MetricsHook = (*Collector)(nil)
	_ history.TrimHook        = (*Collector)(nil)
)

func TestCollectorCounts(t *testing.T) {
	c := New()
	c.ObserveCycle(3, 10*time.Millisecond)
	c.ObserveCycle(0, time.Millisecond)
	c.ObserveClean(2)
	c.ObserveError(kit.StageFetch)
	c.ObserveError(kit.StageFetch)
	c.ObserveError(kit.StageMerge)
	c.ObserveWatermark(time.Unix(1700000000, 0))
	c.EmitTrimRange("notes", time.Time{}, time.Time{}, 5)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.cycles))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.fetched))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.cleaned))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.errors.WithLabelValues(kit.StageFetch)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.errors.WithLabelValues(kit.StageMerge)))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(c.watermark))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.trimmed.WithLabelValues("notes")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.errors))
}

func TestHandlerExposesRegistry(t *testing.T) {
	c := New()
	c.ObserveBatchCommit(time.Millisecond, 4, 128)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "historykit_pebble_commit_ops_count 1"), body)
	assert.True(t, strings.Contains(body, "go_goroutines"))
}

func TestCollectorsAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.ObserveClean(1)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.cleaned))
}
