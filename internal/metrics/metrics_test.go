package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeRegistersMetrics(t *testing.T) {
	srv := Serve(":0")
	defer srv.Close()

	ObserveCycle("ok", 1500*time.Millisecond)
	CandidatesTotal.WithLabelValues("swing_quant_h1").Inc()

	mfs, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	assert.True(t, names["signal_cycles_total"])
	assert.True(t, names["signal_candidates_total"])
	assert.Equal(t, 1.5, testutil.ToFloat64(CycleDuration))
}
