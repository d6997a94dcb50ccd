package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestEscrowMetrics(t *testing.T) {
	m := Escrow()
	require.Same(t, m, Escrow())

	before := testutil.ToFloat64(m.events.WithLabelValues("deposit", "applied"))
	m.RecordEvent("deposit", "applied")
	require.Equal(t, before+1, testutil.ToFloat64(m.events.WithLabelValues("deposit", "applied")))

	m.ObserveScan("supra", time.Second, 420, nil)
	require.Equal(t, float64(420), testutil.ToFloat64(m.cursor.WithLabelValues("supra")))

	m.ObserveScan("supra", time.Second, 999, errors.New("boom"))
	require.Equal(t, float64(420), testutil.ToFloat64(m.cursor.WithLabelValues("supra")))

	m.RecordAction("apply_action", "")
	require.GreaterOrEqual(t, testutil.ToFloat64(m.actions.WithLabelValues("apply_action", "ok")), float64(1))

	var nilMetrics *EscrowMetrics
	nilMetrics.RecordEvent("claim", "stale")
}

func TestHTTPMetrics(t *testing.T) {
	m := HTTP()
	m.Observe("/api/v1/trades", "GET", 0, time.Millisecond)
	require.GreaterOrEqual(t, testutil.ToFloat64(m.requests.WithLabelValues("/api/v1/trades", "GET", "200")), float64(1))
}
