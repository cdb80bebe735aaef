package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAdvance(t *testing.T) {
	m.init()
	before := testutil.ToFloat64(m.unverifiedCitation)
	UnverifiedCitations(2)
	UnverifiedCitations(0)
	assert.Equal(t, before+2, testutil.ToFloat64(m.unverifiedCitation))

	chunks := testutil.ToFloat64(m.chunksIndexed)
	BatchUpserted(10)
	assert.Equal(t, chunks+10, testutil.ToFloat64(m.chunksIndexed))

	JobFinished("completed", time.Second)
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.jobsFinished.WithLabelValues("completed")), 1.0)
}

func TestHandlerExposesCollectors(t *testing.T) {
	RerankDegraded()
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "repoqa_rerank_degraded_total")
}
