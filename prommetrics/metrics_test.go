package prommetrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velmie/analytics"
)

func TestMetricsRecordsValues(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.AddSubmitted(5)
	m.AddSucceeded(3)
	m.AddFailed(2)
	m.AddRetries(4)
	m.SetQueueDepth(7)
	m.ObserveBatchDuration(250 * time.Millisecond)
	m.ObserveBatchSize(5, 1024)

	assert.InDelta(t, 5, testutil.ToFloat64(m.submitted), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.succeeded), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.failed), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(m.retries), 0)
	assert.InDelta(t, 7, testutil.ToFloat64(m.queueDepth), 0)

	count, err := testutil.GatherAndCount(reg, "analytics_client_batch_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetricsDuplicateRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	require.Error(t, err)

	_, err = New(reg, WithSubsystem("replay"))
	require.NoError(t, err)
}

func TestMetricsWiredIntoClient(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNew(reg, WithConstLabels(prometheus.Labels{"source": "test"}))

	client, err := analytics.NewClient("key",
		analytics.WithMetrics(m),
		analytics.WithTransport(analytics.TransportFunc(func(context.Context, *analytics.Batch) error { return nil })),
	)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	for i := 0; i < 3; i++ {
		require.NoError(t, client.Track("user", "event", nil, nil))
	}
	require.NoError(t, client.Flush(context.Background()))

	assert.InDelta(t, 3, testutil.ToFloat64(m.submitted), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.succeeded), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.queueDepth), 0)
}
