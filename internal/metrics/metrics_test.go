package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	m := New()

	m.RecordIndexed("transfer")
	m.RecordIndexed("transfer")
	m.RecordFailed(3)
	m.RecordFailed(0)
	m.RecordBulk("partial", 20*time.Millisecond)
	m.RecordQuery("account_history", "ok", time.Millisecond, 2)
	m.SetNextOperation(501)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.DocumentsIndexed.WithLabelValues("transfer")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.DocumentsFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BulkRequests.WithLabelValues("partial")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.QueryWarnings))
	assert.Equal(t, 501.0, testutil.ToFloat64(m.NextOperation))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordIndexed("transfer")
		m.RecordFailed(1)
		m.RecordBulk("error", time.Second)
		m.RecordSideDataError("fill_order")
		m.RecordQuery("operation", "error", time.Second, 0)
		m.SetNextOperation(1)
		m.SetChainState(2, 1)
		m.SetBuffered(4)
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordIndexed("fill_order")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `op_history_documents_indexed_total{kind="fill_order"} 1`)
}
