package status

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/ledger-sampler/internal/model"
)

func sampleSet() model.ScalarMetricSet {
	return model.ScalarMetricSet{
		WalletCount:           10,
		TotalSupplyOnHands:    "1.50",
		TotalStaked:           "0.25",
		ProposalCount:         2,
		GovernanceWalletCount: 4,
	}
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	NewRouter(NewTracker()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "OK", body["status"])
}

func TestStatus_ReflectsEvents(t *testing.T) {
	tr := NewTracker()
	tr.StateChanged("connecting")
	tr.ConnectAttempt(1, errors.New("refused"))
	tr.ConnectAttempt(2, nil)
	tr.StateChanged("scheduled")
	tr.TickFinished(model.OutcomeSuccess, 2*time.Second, sampleSet(), nil)
	tr.TickFinished(model.OutcomeCollectError, time.Second, model.ScalarMetricSet{}, errors.New("ledger query ListAccountBalances: timeout"))

	rec := httptest.NewRecorder()
	NewRouter(tr).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "scheduled", snap.State)
	assert.Equal(t, int64(2), snap.ConnAttempts)
	assert.Equal(t, map[string]int64{model.OutcomeSuccess: 1, model.OutcomeCollectError: 1}, snap.Ticks)
	assert.Equal(t, model.OutcomeCollectError, snap.LastOutcome)
	assert.Contains(t, snap.LastError, "timeout")
	assert.NotNil(t, snap.LastTickAt)
}

func TestMetrics_Exposed(t *testing.T) {
	tr := NewTracker()
	tr.ConnectAttempt(1, errors.New("refused"))
	tr.TickFinished(model.OutcomeSuccess, time.Second, sampleSet(), nil)
	tr.TickFinished(model.OutcomeSkipped, 0, model.ScalarMetricSet{}, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(tr.metrics.ticks.WithLabelValues(model.OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(tr.metrics.ticks.WithLabelValues(model.OutcomeSkipped)))
	assert.Equal(t, 1.0, testutil.ToFloat64(tr.metrics.connectAttempts.WithLabelValues("failure")))
	assert.Equal(t, 10.0, testutil.ToFloat64(tr.metrics.metric.WithLabelValues(model.MetricWalletCount)))
	assert.Equal(t, 1.5, testutil.ToFloat64(tr.metrics.metric.WithLabelValues(model.MetricTotalSupplyOnHands)))

	rec := httptest.NewRecorder()
	NewRouter(tr).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `ledger_sampler_ticks_total{status="success"} 1`))
	assert.Contains(t, body, "ledger_sampler_last_success_timestamp_seconds")
}

func TestSnapshot_IsACopy(t *testing.T) {
	tr := NewTracker()
	tr.TickFinished(model.OutcomeSuccess, time.Second, sampleSet(), nil)

	snap := tr.Snapshot()
	snap.Ticks["success"] = 99
	assert.Equal(t, int64(1), tr.Snapshot().Ticks["success"])
}

func TestRouter_RejectsOtherMethods(t *testing.T) {
	rec := httptest.NewRecorder()
	NewRouter(NewTracker()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
