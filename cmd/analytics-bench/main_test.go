package main

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunAgainstLocalSink(t *testing.T) {
	res, err := run(context.Background(), benchConfig{
		records:        250,
		producers:      3,
		workers:        2,
		batchCount:     20,
		payloadBytes:   32,
		payloadSeed:    1,
		enqueueTimeout: time.Second,
		drainTimeout:   10 * time.Second,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(250), res.Submitted)
	assert.Equal(t, int64(250), res.Succeeded)
	assert.Equal(t, int64(0), res.Failed)
	assert.Equal(t, int64(250), res.SinkActions)
	assert.GreaterOrEqual(t, res.SinkBatches, int64(13))
	assert.Positive(t, res.MeanBatchBytes)
}

func TestRunValidation(t *testing.T) {
	_, err := run(context.Background(), benchConfig{records: 0, producers: 1})
	assert.ErrorIs(t, err, errRecordsInvalid)

	_, err = run(context.Background(), benchConfig{records: 1, producers: 0})
	assert.ErrorIs(t, err, errProducersInvalid)
}

func TestPercentile(t *testing.T) {
	samples := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	tests := []struct {
		p    float64
		want time.Duration
	}{
		{p: 0, want: 1},
		{p: percentileP50, want: 5},
		{p: percentileP95, want: 10},
		{p: 1, want: 10},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, percentile(samples, test.p), "p=%v", test.p)
	}
	assert.Zero(t, percentile(nil, percentileP50))
	assert.Equal(t, time.Duration(5), meanDuration([]time.Duration{4, 6}))
}

func TestBuildProperties(t *testing.T) {
	props := buildProperties(16, false, nil)
	assert.Equal(t, "aaaaaaaaaaaaaaaa", props["data"])

	random := buildProperties(16, true, rand.New(rand.NewSource(7)))
	again := buildProperties(16, true, rand.New(rand.NewSource(7)))
	assert.Len(t, random["data"], 16)
	assert.Equal(t, random, again)
}
