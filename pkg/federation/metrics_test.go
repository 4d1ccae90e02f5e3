package federation

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCreation(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	assert.NotNil(t, metrics.Requests)
	assert.NotNil(t, metrics.RequestLatency)
	assert.NotNil(t, metrics.MemberFailures)
	assert.NotNil(t, metrics.AsOfRetries)
	assert.NotNil(t, metrics.Members)
	assert.NotNil(t, metrics.PeerProbes)
	assert.NotNil(t, metrics.PeerStatus)
	assert.NotNil(t, metrics.LastProbeTime)
}

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.request("FindEntities", strategyParallel)
		m.asOfRetry()
		m.members(3)
		m.probe("success")
		m.peerStatus("peer", PeerAlive)
	})
}

func TestEnterpriseRecordsMetrics(t *testing.T) {
	ctx := context.Background()
	metrics := NewMetrics(prometheus.NewRegistry())
	ec := NewEnterpriseCollection("enterprise", WithMetrics(metrics))

	ec.SetLocalConnector("cohort-a", newMember(t, "cohort-a"))
	ec.AddRemoteConnector("cohort-b", newMember(t, "cohort-b"))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.Members))

	_, err := ec.FindEntities(ctx, user, assetQuery)
	require.NoError(t, err)
	_, err = ec.FindEntities(ctx, user, assetQuery)
	require.NoError(t, err)
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.Requests.WithLabelValues("FindEntities", strategyParallel)))

	_ = ec.AddTypeDef(ctx, user, nil)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Requests.WithLabelValues("AddTypeDef", strategyNone)))

	ec.RemoveRemoteConnector("cohort-b")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Members))
	ec.DisconnectAllConnectors()
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.Members))
}

func TestRegisterHandlers(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	metrics.asOfRetry()

	mux := http.NewServeMux()
	RegisterHandlers(mux, registry)
	server := httptest.NewServer(mux)
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "metacohort_asof_retries_total 1"))

	live, err := http.Get(server.URL + "/health/live")
	require.NoError(t, err)
	defer live.Body.Close()
	assert.Equal(t, http.StatusOK, live.StatusCode)
}
