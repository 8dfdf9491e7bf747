package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegistered(t *testing.T) {
	RequestsTotal.WithLabelValues("publish", OutcomeOK).Inc()
	NotificationsTotal.WithLabelValues(OutcomeDelivered).Add(2)
	Nodes.Set(3)

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["nodestream_requests_total"])
	assert.True(t, names["nodestream_notifications_total"])
	assert.True(t, names["nodestream_nodes"])

	assert.Equal(t, float64(3), testutil.ToFloat64(Nodes))
	assert.GreaterOrEqual(t, testutil.ToFloat64(NotificationsTotal.WithLabelValues(OutcomeDelivered)), float64(2))
}

func TestHandler(t *testing.T) {
	Nodes.Set(1)
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "nodestream_nodes")
}
