package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollectorsAreRegistered(t *testing.T) {
	before := testutil.ToFloat64(RecordsSkipped)
	RecordsSkipped.Inc()
	require.Equal(t, before+1, testutil.ToFloat64(RecordsSkipped))

	DeadLettered.WithLabelValues("memory").Inc()

	count, err := testutil.GatherAndCount(prometheus.DefaultGatherer,
		"peanut_catalog_records_skipped_total",
		"peanut_population_dead_lettered_total",
	)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}
