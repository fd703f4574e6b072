// Package position resolves pointer picks into the live coordinate
// display, starting from a fast local estimate and swapping in an
// accurate terrain sample once the pointer settles.
package position

import (
	"context"
	"sync"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/facebookgo/clock"

	"github.com/dpup/locationbar/server/internal/lib/coords"
	"github.com/dpup/locationbar/server/internal/lib/geo"
	"github.com/dpup/locationbar/server/internal/lib/geoid"
	"github.com/dpup/locationbar/server/internal/lib/height"
	"github.com/dpup/locationbar/server/internal/lib/refine"
	"github.com/dpup/locationbar/server/internal/metrics"
)

// Options configure a Controller
type Options struct {
	Geoid     geoid.Model
	Sampler   refine.Sampler // nil disables refinement
	Formatter *coords.Formatter

	// Ellipsoid marks terrain without elevation data. Picks on it carry no
	// height and are never refined.
	Ellipsoid     bool
	UseProjection bool

	Delay   time.Duration
	Timeout time.Duration
	Clock   clock.Clock
}

// Controller owns the authoritative pointer position and the display
// derived from it.
type Controller struct {
	ctx       context.Context
	estimator *height.Estimator
	formatter *coords.Formatter
	refiner   *refine.Refiner
	ellipsoid bool

	mu            sync.Mutex
	current       *geo.Position // authoritative position from the latest pick
	shown         *geo.Position // position behind the display, refined or not
	errorBound    *float64
	refined       bool
	display       coords.Display
	useProjection bool
	closed        bool
	subscribers   map[int]chan coords.Display
	nextID        int
}

// New creates a Controller. ctx scopes the controller's logging; a
// context without a logger gets a development logger.
func New(ctx context.Context, opts Options) *Controller {
	ctx = logging.EnsureLogger(ctx)

	formatter := opts.Formatter
	if formatter == nil {
		formatter = coords.NewFormatter(nil)
	}
	c := &Controller{
		ctx:           ctx,
		estimator:     height.NewEstimator(opts.Geoid, opts.Ellipsoid),
		formatter:     formatter,
		ellipsoid:     opts.Ellipsoid,
		useProjection: opts.UseProjection,
		subscribers:   map[int]chan coords.Display{},
	}
	if opts.Sampler != nil {
		c.refiner = refine.New(opts.Sampler, opts.Geoid, refineHandler{c}, refine.Options{
			Context: ctx,
			Delay:   opts.Delay,
			Timeout: opts.Timeout,
			Clock:   opts.Clock,
		})
	}
	return c
}

// HandlePick updates the position from a terrain pick. A nil triangle
// means the pointer is not over the surface and clears every field.
func (c *Controller) HandlePick(tri *geo.Triangle) coords.Display {
	if tri == nil {
		return c.clear()
	}

	est := c.estimator.Estimate(*tri)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return coords.Display{}
	}
	c.setLocked(est.Position, est.ErrorBound)
	display := c.display
	c.mu.Unlock()

	metrics.Picks.WithLabelValues(metrics.PickHit).Inc()
	if c.refiner == nil {
		return display
	}
	if c.ellipsoid || !est.HasHeight() {
		c.refiner.Clear()
		return display
	}
	c.refiner.Trigger(est.Position)
	return display
}

// HandleFlatPosition updates the position from a 2D map, where no height
// is available and nothing is refined.
func (c *Controller) HandleFlatPosition(longitude, latitude float64) coords.Display {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return coords.Display{}
	}
	c.setLocked(geo.NewPosition(longitude, latitude), nil)
	display := c.display
	c.mu.Unlock()

	metrics.Picks.WithLabelValues(metrics.PickFlat).Inc()
	if c.refiner != nil {
		c.refiner.Clear()
	}
	return display
}

func (c *Controller) clear() coords.Display {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return coords.Display{}
	}
	c.current = nil
	c.shown = nil
	c.errorBound = nil
	c.refined = false
	c.display = coords.Display{}
	c.publishLocked()
	c.mu.Unlock()

	metrics.Picks.WithLabelValues(metrics.PickMiss).Inc()
	if c.refiner != nil {
		c.refiner.Clear()
	}
	return coords.Display{}
}

func (c *Controller) setLocked(pos geo.Position, errorBound *float64) {
	c.current = &pos
	c.shown = &pos
	c.errorBound = errorBound
	c.refined = false
	c.renderLocked()
}

func (c *Controller) renderLocked() {
	if c.shown == nil {
		c.display = coords.Display{}
	} else {
		c.display = c.formatter.Format(*c.shown, c.errorBound, c.useProjection)
		c.display.Refined = c.refined
	}
	c.publishLocked()
}

// ToggleProjection flips projected coordinates on or off and returns the
// new setting.
func (c *Controller) ToggleProjection() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.useProjection = !c.useProjection
	c.renderLocked()
	return c.useProjection
}

// SetProjection turns projected coordinates on or off
func (c *Controller) SetProjection(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.useProjection == on {
		return
	}
	c.useProjection = on
	c.renderLocked()
}

// UseProjection reports whether projected coordinates are shown
func (c *Controller) UseProjection() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.useProjection
}

// Display returns the current display
func (c *Controller) Display() coords.Display {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.display
}

// Position returns the displayed position, refined when a refinement has
// been applied. ok is false while the pointer is off the surface.
func (c *Controller) Position() (pos geo.Position, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shown == nil {
		return geo.Position{}, false
	}
	return *c.shown, true
}

// RefinerState returns the state of the accurate sampler
func (c *Controller) RefinerState() refine.State {
	if c.refiner == nil {
		return refine.Idle
	}
	return c.refiner.State()
}

// Subscribe returns a channel receiving every display update. Slow
// readers only see the most recent values that fit in the buffer. cancel
// stops delivery and closes the channel.
func (c *Controller) Subscribe(buffer int) (<-chan coords.Display, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan coords.Display, buffer)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextID
	c.nextID++
	c.subscribers[id] = ch

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subscribers[id]; ok {
			delete(c.subscribers, id)
			close(sub)
		}
	}
}

func (c *Controller) publishLocked() {
	for _, ch := range c.subscribers {
		offer(ch, c.display)
	}
}

// offer sends d, dropping the oldest buffered value when ch is full
func offer(ch chan coords.Display, d coords.Display) {
	for {
		select {
		case ch <- d:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// FlushRefinement issues a scheduled accurate sample without waiting for
// the pointer to settle.
func (c *Controller) FlushRefinement() {
	if c.refiner != nil {
		c.refiner.Flush()
	}
}

// Wait blocks until an in-flight accurate sample has completed
func (c *Controller) Wait() {
	if c.refiner != nil {
		c.refiner.Wait()
	}
}

// Close stops refinement and closes all subscriptions. Results of a
// sample still in flight are ignored.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for id, ch := range c.subscribers {
		delete(c.subscribers, id)
		close(ch)
	}
	c.mu.Unlock()

	if c.refiner != nil {
		c.refiner.Close()
	}
}

func (c *Controller) authoritative() (geo.Position, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.current == nil {
		return geo.Position{}, false
	}
	return *c.current, true
}

func (c *Controller) applyRefinement(requested, corrected geo.Position) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// The pointer may have moved between the refiner's check and now
	if c.closed || c.current == nil || !c.current.Equal(requested) {
		logging.Debugw(c.ctx, "Dropping refinement for a position that is no longer current",
			"lon", requested.Longitude, "lat", requested.Latitude)
		return
	}
	c.shown = &corrected
	c.errorBound = nil
	c.refined = true
	c.renderLocked()
}

// refineHandler connects the refiner to the controller without exposing
// the callbacks on the controller's API.
type refineHandler struct {
	c *Controller
}

func (h refineHandler) Authoritative() (geo.Position, bool) {
	return h.c.authoritative()
}

func (h refineHandler) Refined(requested, corrected geo.Position) {
	h.c.applyRefinement(requested, corrected)
}
