// Package refine schedules accurate terrain height samples once pointer
// motion settles, keeping at most one sample in flight and discarding
// results that no longer match the pointer.
package refine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dpup/prefab/errors"
	"github.com/dpup/prefab/logging"
	"github.com/facebookgo/clock"
	"golang.org/x/sync/errgroup"

	"github.com/dpup/locationbar/server/internal/lib/debounce"
	"github.com/dpup/locationbar/server/internal/lib/geo"
	"github.com/dpup/locationbar/server/internal/lib/geoid"
	"github.com/dpup/locationbar/server/internal/metrics"
)

// Defaults for Options
const (
	DefaultDelay   = 250 * time.Millisecond
	DefaultTimeout = 10 * time.Second
)

// State of the refiner
type State int

const (
	Idle State = iota
	Scheduled
	Requesting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scheduled:
		return "scheduled"
	case Requesting:
		return "requesting"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Sampler samples the most detailed terrain height, in meters above the
// ellipsoid, at a position.
type Sampler interface {
	SampleHeight(ctx context.Context, pos geo.Position) (float64, error)
}

// Handler owns the authoritative pointer position and receives results
type Handler interface {
	// Authoritative returns the position the pointer currently resolves to
	Authoritative() (geo.Position, bool)
	// Refined receives the geoid-corrected position for a request whose
	// position still matched at completion
	Refined(requested, corrected geo.Position)
}

// Options configure a Refiner
type Options struct {
	// Context scopes sample logging. Its cancellation is not passed on to
	// samples, which are bounded by Timeout instead.
	Context context.Context

	Delay   time.Duration // quiescence interval before sampling
	Timeout time.Duration // upper bound on a single sample
	Clock   clock.Clock
}

// Refiner is the debounced accurate-sampling state machine
type Refiner struct {
	ctx     context.Context
	clock   clock.Clock
	sampler Sampler
	geoid   geoid.Model
	handler Handler
	timer   *debounce.Timer
	timeout time.Duration

	mu        sync.Mutex
	pending   *geo.Position
	requested *geo.Position
	inFlight  bool
	closed    bool
	samples   sync.WaitGroup
}

// New creates a Refiner. model may be nil.
func New(sampler Sampler, model geoid.Model, handler Handler, opts Options) *Refiner {
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Refiner{
		ctx:     logging.EnsureLogger(context.WithoutCancel(opts.Context)),
		clock:   opts.Clock,
		sampler: sampler,
		geoid:   model,
		handler: handler,
		timer:   debounce.New(opts.Clock, opts.Delay),
		timeout: opts.Timeout,
	}
}

// Trigger records pos as the sample target, replacing any pending target,
// and restarts the quiescence interval.
func (r *Refiner) Trigger(pos geo.Position) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.pending = &pos
	r.mu.Unlock()

	r.timer.Schedule(r.fire)
}

// Clear drops the pending target without touching an in-flight sample
func (r *Refiner) Clear() {
	r.mu.Lock()
	r.pending = nil
	r.mu.Unlock()

	r.timer.Cancel()
}

// Flush issues the pending sample immediately instead of waiting for the
// quiescence interval.
func (r *Refiner) Flush() {
	r.timer.Flush()
}

// Close cancels the pending sample. A sample already in flight runs to
// completion and its result is ignored.
func (r *Refiner) Close() {
	r.mu.Lock()
	r.closed = true
	r.pending = nil
	r.mu.Unlock()

	r.timer.Cancel()
}

// Wait blocks until no sample is in flight
func (r *Refiner) Wait() {
	r.samples.Wait()
}

// State returns the current state of the refiner
func (r *Refiner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.inFlight:
		return Requesting
	case r.pending != nil:
		return Scheduled
	default:
		return Idle
	}
}

// Requested returns the position of the in-flight sample
func (r *Refiner) Requested() (geo.Position, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.requested == nil {
		return geo.Position{}, false
	}
	return *r.requested, true
}

// fire runs when the quiescence interval elapses
func (r *Refiner) fire() {
	r.mu.Lock()
	if r.closed || r.pending == nil {
		r.mu.Unlock()
		return
	}
	if r.inFlight {
		// Keep the pending target, completion re-arms the timer
		r.mu.Unlock()
		return
	}

	target := *r.pending
	r.pending = nil
	r.requested = &target
	r.inFlight = true
	r.samples.Add(1)
	r.mu.Unlock()

	metrics.RefineRequests.Inc()
	metrics.RefineInFlight.Inc()
	go r.sample(target)
}

// sample resolves the target within the sample timeout
func (r *Refiner) sample(target geo.Position) {
	defer r.samples.Done()

	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()
	start := r.clock.Now()

	height, err := Resolve(ctx, r.sampler, r.geoid, target)

	metrics.RefineDuration.Observe(r.clock.Now().Sub(start).Seconds())
	r.complete(ctx, target, height, err)
}

// Resolve samples the terrain at pos and returns its height above the
// geoid. The terrain sample and the geoid lookup run concurrently. A
// failed geoid lookup applies no correction; a failed terrain sample is
// returned as an error.
func Resolve(ctx context.Context, sampler Sampler, model geoid.Model, pos geo.Position) (float64, error) {
	ctx = logging.EnsureLogger(ctx)

	var sampled, undulation float64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(recovered(gctx, func() error {
		h, err := sampler.SampleHeight(gctx, pos)
		if err != nil {
			return fmt.Errorf("failed to sample terrain: %w", err)
		}
		sampled = h
		return nil
	}))
	g.Go(recovered(gctx, func() error {
		n, err := geoid.SafeUndulation(gctx, model, pos.Longitude, pos.Latitude)
		if err != nil {
			logging.Warnw(gctx, "Geoid lookup failed, using zero correction",
				"lon", pos.Longitude, "lat", pos.Latitude, "error", err)
		}
		undulation = n
		return nil
	}))
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return sampled - undulation, nil
}

// complete clears the in-flight slot and delivers a result when it still
// matches the authoritative position.
func (r *Refiner) complete(ctx context.Context, target geo.Position, height float64, err error) {
	r.mu.Lock()
	r.inFlight = false
	r.requested = nil
	closed := r.closed
	rearm := !closed && r.pending != nil
	r.mu.Unlock()

	metrics.RefineInFlight.Dec()
	if rearm {
		r.timer.Schedule(r.fire)
	}

	switch {
	case closed:
		metrics.RefineOutcomes.WithLabelValues(metrics.OutcomeClosed).Inc()
		return
	case err != nil:
		metrics.RefineOutcomes.WithLabelValues(metrics.OutcomeFailed).Inc()
		logging.Warnw(ctx, "Accurate height sample failed",
			"lon", target.Longitude, "lat", target.Latitude, "error", err)
		return
	}

	current, ok := r.handler.Authoritative()
	if !ok || !current.Equal(target) {
		metrics.RefineOutcomes.WithLabelValues(metrics.OutcomeStale).Inc()
		logging.Debugw(ctx, "Pointer moved since sample was requested, discarding result",
			"lon", target.Longitude, "lat", target.Latitude)
		return
	}

	metrics.RefineOutcomes.WithLabelValues(metrics.OutcomeApplied).Inc()
	r.handler.Refined(target, target.WithHeight(height))
}

// recovered converts a panic in fn into an error
func recovered(ctx context.Context, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				stack, _ := errors.ParseStack(debug.Stack())
				skipFrames := 3
				numFrames := 5
				logging.Errorw(ctx, "Refiner: recovered from panic while sampling",
					"error", rec, "error.stack_trace", stack.MinimalStack(skipFrames, numFrames))
				err = fmt.Errorf("panic while sampling: %v", rec)
			}
		}()
		return fn()
	}
}
