package metrics_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/CZERTAINLY/Herald/internal/metrics"
	"github.com/CZERTAINLY/Herald/internal/model"
)

func TestMetrics(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.TestFinished(model.TestPassed)
	m.TestFinished(model.TestPassed)
	m.TestFinished(model.TestFailed)
	m.Malformed()
	m.WatchdogFired()
	m.RunFinished(model.StateTimedOut, 3*time.Second)
	m.RunFinished(model.StateCompleted, time.Second)

	expected := `
# HELP herald_tests_total Count of finished tests by status
# TYPE herald_tests_total counter
herald_tests_total{status="failed"} 1
herald_tests_total{status="passed"} 2
# HELP herald_runs_total Count of finished runs by terminal state
# TYPE herald_runs_total counter
herald_runs_total{state="completed"} 1
herald_runs_total{state="timed_out"} 1
# HELP herald_malformed_reports_total Count of structured lines which could not be decoded
# TYPE herald_malformed_reports_total counter
herald_malformed_reports_total 1
# HELP herald_watchdog_fires_total Count of runs killed for being idle
# TYPE herald_watchdog_fires_total counter
herald_watchdog_fires_total 1
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"herald_tests_total",
		"herald_runs_total",
		"herald_malformed_reports_total",
		"herald_watchdog_fires_total",
	)
	require.NoError(t, err)
	n, err := testutil.GatherAndCount(reg, "herald_run_duration_seconds")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestHandler(t *testing.T) {
	t.Parallel()
	m := metrics.New(prometheus.NewRegistry())
	m.Malformed()

	srv := httptest.NewServer(m.Handler())
	t.Cleanup(srv.Close)

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "herald_malformed_reports_total 1")
}
