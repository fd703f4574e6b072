package position

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/facebookgo/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpup/locationbar/server/internal/lib/coords"
	"github.com/dpup/locationbar/server/internal/lib/geo"
	"github.com/dpup/locationbar/server/internal/lib/projection"
	"github.com/dpup/locationbar/server/internal/lib/refine"
	"github.com/dpup/locationbar/server/internal/metrics"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
	delay   = 100 * time.Millisecond
)

type result struct {
	height float64
	err    error
}

// gatedSampler blocks every sample until the test releases a result
type gatedSampler struct {
	mu      sync.Mutex
	calls   []geo.Position
	release chan result
}

func newGatedSampler() *gatedSampler {
	return &gatedSampler{release: make(chan result)}
}

func (s *gatedSampler) SampleHeight(ctx context.Context, pos geo.Position) (float64, error) {
	s.mu.Lock()
	s.calls = append(s.calls, pos)
	s.mu.Unlock()

	select {
	case r := <-s.release:
		return r.height, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (s *gatedSampler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// flatGeoid has a constant undulation and zero bounds
type flatGeoid float64

func (g flatGeoid) Undulation(ctx context.Context, longitude, latitude float64) (float64, error) {
	return float64(g), nil
}
func (g flatGeoid) MinimumHeight() float64 { return 0 }
func (g flatGeoid) MaximumHeight() float64 { return 0 }

func triangle(w geo.Weights) *geo.Triangle {
	v0 := geo.NewPosition(150, -34).WithHeight(10)
	v1 := geo.NewPosition(150.01, -34).WithHeight(20)
	v2 := geo.NewPosition(150, -33.99).WithHeight(30)
	return &geo.Triangle{
		Intersection: geo.NewPosition(
			w[0]*v0.Longitude+w[1]*v1.Longitude+w[2]*v2.Longitude,
			w[0]*v0.Latitude+w[1]*v1.Latitude+w[2]*v2.Latitude,
		),
		Vertices: [3]geo.Position{v0, v1, v2},
		Tile:     geo.Tile{Level: 15, MinimumHeight: -1000, MaximumHeight: 1000, GeometricError: 5},
	}
}

var (
	pickA = geo.Weights{0.2, 0.3, 0.5}
	pickB = geo.Weights{0.6, 0.2, 0.2}
)

func newController(t *testing.T, opts Options) (*Controller, *gatedSampler, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	sampler := newGatedSampler()
	if opts.Geoid == nil {
		opts.Geoid = flatGeoid(10)
	}
	opts.Sampler = sampler
	opts.Clock = mock
	opts.Delay = delay
	c := New(logging.With(context.Background(), logging.NewDevLogger()), opts)
	t.Cleanup(c.Close)
	return c, sampler, mock
}

func TestController_PickPublishesEstimate(t *testing.T) {
	c, sampler, _ := newController(t, Options{})

	d := c.HandlePick(triangle(pickA))
	assert.Equal(t, "23±5m", d.Elevation)
	assert.Equal(t, "33.995°S", d.Latitude)
	assert.Equal(t, "150.003°E", d.Longitude)
	assert.False(t, d.Refined)
	require.NotNil(t, d.ErrorBound)
	assert.InDelta(t, 5.0, *d.ErrorBound, 1e-9)
	assert.Equal(t, d, c.Display())

	pos, ok := c.Position()
	require.True(t, ok)
	assert.InDelta(t, 23.0, *pos.Height, 1e-9)

	assert.Equal(t, refine.Scheduled, c.RefinerState())
	assert.Equal(t, 0, sampler.count(), "Sampling waits for the pointer to settle")
}

func TestController_AppliesRefinement(t *testing.T) {
	c, sampler, mock := newController(t, Options{})

	c.HandlePick(triangle(pickA))
	mock.Add(delay)
	require.Eventually(t, func() bool { return sampler.count() == 1 }, waitFor, tick)

	sampler.release <- result{height: 40}
	c.Wait()

	d := c.Display()
	assert.True(t, d.Refined)
	assert.Equal(t, "30m", d.Elevation, "Sampled height less the geoid undulation")
	assert.Nil(t, d.ErrorBound)

	pos, ok := c.Position()
	require.True(t, ok)
	assert.Equal(t, 30.0, *pos.Height)
}

func TestController_StaleRefinementIsDiscarded(t *testing.T) {
	c, sampler, mock := newController(t, Options{})

	c.HandlePick(triangle(pickA))
	mock.Add(delay)
	require.Eventually(t, func() bool { return sampler.count() == 1 }, waitFor, tick)

	// Pointer moves while the sample for A is outstanding
	moved := c.HandlePick(triangle(pickB))

	sampler.release <- result{height: 1000}
	require.Eventually(t, func() bool { return c.RefinerState() == refine.Scheduled }, waitFor, tick)
	assert.Equal(t, moved, c.Display(), "Result for A never reaches the display")

	mock.Add(delay)
	require.Eventually(t, func() bool { return sampler.count() == 2 }, waitFor, tick)
	sampler.release <- result{height: 60}
	c.Wait()

	d := c.Display()
	assert.True(t, d.Refined)
	assert.Equal(t, "50m", d.Elevation)
}

func TestController_PointerBurstWithoutContextLogger(t *testing.T) {
	mock := clock.NewMock()
	sampler := newGatedSampler()
	c := New(context.Background(), Options{
		Geoid:   flatGeoid(10),
		Sampler: sampler,
		Clock:   mock,
		Delay:   delay,
	})
	t.Cleanup(c.Close)

	c.HandlePick(triangle(pickA))
	mock.Add(delay)
	require.Eventually(t, func() bool { return sampler.count() == 1 }, waitFor, tick)

	for i := 0; i < 200; i++ {
		w := float64(i%10) / 100
		c.HandlePick(triangle(geo.Weights{0.3 + w, 0.3, 0.4 - w}))
	}
	c.HandlePick(triangle(pickB))

	sampler.release <- result{height: 1000}
	require.Eventually(t, func() bool { return c.RefinerState() == refine.Scheduled }, waitFor, tick)
	assert.False(t, c.Display().Refined)

	mock.Add(delay)
	require.Eventually(t, func() bool { return sampler.count() == 2 }, waitFor, tick)
	sampler.release <- result{height: 60}
	c.Wait()

	assert.Equal(t, "50m", c.Display().Elevation)

	// A result delivered for an outdated position logs and is dropped
	other := geo.NewPosition(1, 2).WithHeight(3)
	refineHandler{c}.Refined(other, other.WithHeight(99))
	assert.Equal(t, "50m", c.Display().Elevation)
}

func TestController_RefinementRecheckedUnderLock(t *testing.T) {
	c, _, _ := newController(t, Options{})

	c.HandlePick(triangle(pickB))
	before := c.Display()

	other := geo.NewPosition(1, 2).WithHeight(3)
	refineHandler{c}.Refined(other, other.WithHeight(99))

	assert.Equal(t, before, c.Display())
}

func TestController_FailedRefinementKeepsEstimate(t *testing.T) {
	c, sampler, mock := newController(t, Options{})

	estimate := c.HandlePick(triangle(pickA))
	mock.Add(delay)
	require.Eventually(t, func() bool { return sampler.count() == 1 }, waitFor, tick)

	sampler.release <- result{err: errors.New("terrain unavailable")}
	c.Wait()

	assert.Equal(t, estimate, c.Display())
	assert.Equal(t, refine.Idle, c.RefinerState())
}

func TestController_NoIntersectionClearsEverything(t *testing.T) {
	c, sampler, mock := newController(t, Options{UseProjection: true,
		Formatter: coords.NewFormatter(projection.NewUTM(projection.GRS80))})
	missesBefore := testutil.ToFloat64(metrics.Picks.WithLabelValues(metrics.PickMiss))

	d := c.HandlePick(triangle(pickA))
	require.NotEmpty(t, d.UTMZone)

	d = c.HandlePick(nil)
	assert.True(t, d.IsEmpty())
	assert.Equal(t, coords.Display{}, c.Display())
	_, ok := c.Position()
	assert.False(t, ok)
	assert.Equal(t, refine.Idle, c.RefinerState(), "Pending target is dropped")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Picks.WithLabelValues(metrics.PickMiss))-missesBefore)

	mock.Add(10 * delay)
	assert.Never(t, func() bool { return sampler.count() > 0 }, 50*time.Millisecond, tick)
}

func TestController_ClearDuringFlightIgnoresResult(t *testing.T) {
	c, sampler, mock := newController(t, Options{})

	c.HandlePick(triangle(pickA))
	mock.Add(delay)
	require.Eventually(t, func() bool { return sampler.count() == 1 }, waitFor, tick)

	c.HandlePick(nil)
	sampler.release <- result{height: 40}
	c.Wait()

	assert.True(t, c.Display().IsEmpty())
}

func TestController_EllipsoidTerrain(t *testing.T) {
	c, sampler, mock := newController(t, Options{Ellipsoid: true})

	d := c.HandlePick(triangle(pickA))
	assert.NotEmpty(t, d.Latitude)
	assert.Empty(t, d.Elevation)
	assert.Nil(t, d.ErrorBound)

	mock.Add(10 * delay)
	assert.Never(t, func() bool { return sampler.count() > 0 }, 50*time.Millisecond, tick)
}

func TestController_OutsideTriangleHasNoHeight(t *testing.T) {
	c, sampler, mock := newController(t, Options{})

	tri := triangle(pickA)
	tri.Intersection = geo.NewPosition(151, -35)
	d := c.HandlePick(tri)
	assert.Equal(t, "35.000°S", d.Latitude)
	assert.Empty(t, d.Elevation)

	mock.Add(10 * delay)
	assert.Never(t, func() bool { return sampler.count() > 0 }, 50*time.Millisecond, tick)
}

func TestController_FlatPosition(t *testing.T) {
	c, sampler, mock := newController(t, Options{})

	d := c.HandleFlatPosition(-93.265, 44.978)
	assert.Equal(t, "44.978°N", d.Latitude)
	assert.Equal(t, "93.265°W", d.Longitude)
	assert.Empty(t, d.Elevation)

	mock.Add(10 * delay)
	assert.Never(t, func() bool { return sampler.count() > 0 }, 50*time.Millisecond, tick)
}

func TestController_ToggleProjection(t *testing.T) {
	c, _, _ := newController(t, Options{Formatter: coords.NewFormatter(projection.NewUTM(projection.GRS80))})

	c.HandlePick(triangle(pickA))
	assert.Empty(t, c.Display().UTMZone)

	assert.True(t, c.ToggleProjection())
	d := c.Display()
	assert.Equal(t, "56S", d.UTMZone)
	assert.NotEmpty(t, d.North)
	assert.NotEmpty(t, d.East)
	assert.Equal(t, "23±5m", d.Elevation)

	assert.False(t, c.ToggleProjection())
	assert.Empty(t, c.Display().UTMZone)

	c.SetProjection(true)
	assert.True(t, c.UseProjection())
	assert.Equal(t, "56S", c.Display().UTMZone)
}

func TestController_Subscribe(t *testing.T) {
	c, _, _ := newController(t, Options{})

	updates, cancel := c.Subscribe(1)
	c.HandlePick(triangle(pickA))
	latest := c.HandlePick(triangle(pickB))

	select {
	case d := <-updates:
		assert.Equal(t, latest, d, "Slow subscriber sees the latest display")
	default:
		t.Fatal("expected an update")
	}

	cancel()
	_, open := <-updates
	assert.False(t, open)
	cancel()
}

func TestController_FlushRefinement(t *testing.T) {
	c, sampler, _ := newController(t, Options{})

	c.HandlePick(triangle(pickA))
	c.FlushRefinement()
	require.Eventually(t, func() bool { return sampler.count() == 1 }, waitFor, tick)

	sampler.release <- result{height: 33}
	c.Wait()
	assert.Equal(t, "23m", c.Display().Elevation)
}

func TestController_Close(t *testing.T) {
	c, sampler, mock := newController(t, Options{})
	updates, _ := c.Subscribe(4)

	c.HandlePick(triangle(pickA))
	mock.Add(delay)
	require.Eventually(t, func() bool { return sampler.count() == 1 }, waitFor, tick)

	c.Close()
	sampler.release <- result{height: 40}
	c.Wait()

	assert.False(t, c.Display().Refined, "In-flight result is ignored after close")
	assert.Equal(t, coords.Display{}, c.HandlePick(triangle(pickB)))

	for range updates {
	}
	late, _ := c.Subscribe(1)
	_, open := <-late
	assert.False(t, open)
}

func TestController_WithoutSampler(t *testing.T) {
	c := New(context.Background(), Options{Geoid: flatGeoid(0)})
	defer c.Close()

	d := c.HandlePick(triangle(pickA))
	assert.Equal(t, "23±5m", d.Elevation)
	assert.Equal(t, refine.Idle, c.RefinerState())
	c.FlushRefinement()
	c.Wait()
}
