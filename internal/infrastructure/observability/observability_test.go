package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"codex-backend/internal/config"
)

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector

	assert.NotPanics(t, func() {
		c.RecordRegistryOperation("upsert_node", nil)
		c.RecordDurableWrite("store_node", "success")
		c.SetDurablePending(3)
		c.IncDurableDropped()
		c.RecordStorageOperation("memory", "store_node", time.Millisecond, nil)
		c.SetMirrorSize(1, 2, 3)
		c.IncIntegrityFailure()
		c.RecordEventsPublished(2, nil)
		c.RecordHTTPRequest("GET", "/health", 200, time.Millisecond)
	})
	assert.Nil(t, c.Registry())
}

func TestCollectorRecords(t *testing.T) {
	c := NewCollector("test")

	c.RecordRegistryOperation("upsert_node", nil)
	c.RecordRegistryOperation("upsert_node", errors.New("boom"))
	c.RecordDurableWrite("store_edge", "retry")
	c.SetDurablePending(7)
	c.IncDurableDropped()
	c.SetMirrorSize(10, 20, 5)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.RegistryOperations.WithLabelValues("upsert_node", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.RegistryOperations.WithLabelValues("upsert_node", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.DurableWrites.WithLabelValues("store_edge", "retry")))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.DurablePending))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.DurableDropped))
	assert.Equal(t, 20.0, testutil.ToFloat64(c.MirrorEdges))
}

func TestCollectorsAreIndependent(t *testing.T) {
	a := NewCollector("test")
	b := NewCollector("test")

	a.IncDurableDropped()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.DurableDropped))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.DurableDropped))
}

func TestCollectorHandler(t *testing.T) {
	c := NewCollector("codex")
	c.IncIntegrityFailure()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "codex_content_integrity_failures_total 1")
}

func TestNewLogger(t *testing.T) {
	logger, level, err := NewLogger(config.Logging{Level: "warn", Format: "json"})
	require.NoError(t, err)
	defer logger.Sync()

	assert.Equal(t, zapcore.WarnLevel, level.Level())

	require.NoError(t, SetLevel(level, "debug"))
	assert.Equal(t, zapcore.DebugLevel, level.Level())

	assert.Error(t, SetLevel(level, "loud"))
	assert.Equal(t, zapcore.DebugLevel, level.Level())

	_, _, err = NewLogger(config.Logging{Level: "loud"})
	assert.Error(t, err)
}

func TestInitTracingDisabled(t *testing.T) {
	tp, err := InitTracing(context.Background(), config.Tracing{}, config.Development)
	require.NoError(t, err)

	_, span := tp.Tracer().Start(context.Background(), "noop")
	span.End()
	assert.NoError(t, tp.Shutdown(context.Background()))
}
