package cache

import (
	"context"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpup/locationbar/server/internal/metrics"
)

func TestCache_SetGet(t *testing.T) {
	c := NewCache()

	require.NoError(t, c.Set("key", map[string]int{"a": 1}, time.Minute, "test"))

	var got map[string]int
	found, err := c.Get("key", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, got["a"])

	found, err = c.Get("missing", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCache_Expiry(t *testing.T) {
	mock := clock.NewMock()
	c := NewCacheWithClock(mock)

	require.NoError(t, c.Set("key", "value", time.Minute, "test"))
	assert.Equal(t, 1, c.Stats().FreshEntries)

	mock.Add(2 * time.Minute)

	var got string
	found, err := c.Get("key", &got)
	require.NoError(t, err)
	assert.False(t, found, "Expired entries are not returned")

	stats := c.Stats()
	assert.Equal(t, 1, stats.TotalEntries)
	assert.Equal(t, 1, stats.StaleEntries)
	assert.Equal(t, 0, stats.FreshEntries)
	assert.Equal(t, mock.Now().Add(-2*time.Minute), stats.OldestEntry)

	assert.Equal(t, 1, c.CleanupStale())
	assert.Equal(t, 0, c.Stats().TotalEntries)
}

func TestCache_UnmarshalError(t *testing.T) {
	c := NewCache()
	require.NoError(t, c.Set("key", "not a number", time.Minute, "test"))

	var got float64
	found, err := c.Get("key", &got)
	assert.Error(t, err)
	assert.False(t, found)
}

func TestCache_Samples(t *testing.T) {
	c := NewCache()

	require.NoError(t, c.SetSample(151.2093, -33.8688, 58.25, time.Hour))

	height, found, err := c.GetSample(151.2093, -33.8688)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 58.25, height)

	// Sub-meter pointer jitter shares the same key
	height, found, err = c.GetSample(151.209301, -33.868799)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 58.25, height)

	_, found, err = c.GetSample(151.21, -33.8688)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSampleKey(t *testing.T) {
	assert.Equal(t, "terrain_sample:151.20930:-33.86880", SampleKey(151.2093, -33.8688))
	assert.Equal(t, SampleKey(1.000001, 2), SampleKey(1.000004, 2))
	assert.NotEqual(t, SampleKey(1.00001, 2), SampleKey(1.00002, 2))
}

func TestCache_PeriodicCleanup(t *testing.T) {
	mock := clock.NewMock()
	c := NewCacheWithClock(mock)

	// No logger on the context: cleanup must still log safely
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	evictions := testutil.ToFloat64(metrics.CacheEvictions)

	require.NoError(t, c.Set("short", 1, time.Second, "test"))
	require.NoError(t, c.Set("long", 2, 24*time.Hour, "test"))
	c.StartPeriodicCleanup(ctx, time.Minute)

	require.Eventually(t, func() bool {
		mock.Add(time.Minute)
		return c.Stats().TotalEntries == 1 &&
			testutil.ToFloat64(metrics.CacheEvictions)-evictions == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheEntries.WithLabelValues(metrics.CacheFresh)))
	assert.Positive(t, testutil.ToFloat64(metrics.CacheOldestEntryAge))

	var got int
	found, err := c.Get("long", &got)
	require.NoError(t, err)
	assert.True(t, found)
}
