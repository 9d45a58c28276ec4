// Package gauge owns the needle gauge shown during a test run: its value,
// its scale, and the idle sweep animation. Rendering is behind a small
// interface so the presenter stays independent of any drawing code.
package gauge

import (
	"sync"
	"time"
)

type State int

const (
	// StateIdle: needle at 0, no animation.
	StateIdle State = iota
	// StateSweeping: needle oscillates near zero to signal "test starting,
	// no data yet".
	StateSweeping
	// StateLive: needle tracks real sample values.
	StateLive
)

func (s State) String() string {
	switch s {
	case StateSweeping:
		return "sweeping"
	case StateLive:
		return "live"
	default:
		return "idle"
	}
}

type Options struct {
	// SweepInterval is the tick period of the sweep animation.
	SweepInterval time.Duration
	// SweepFraction is the upper bound of the sweep as a fraction of the
	// scale maximum.
	SweepFraction float64
	// SweepAutoStop returns the gauge to Idle if no real sample arrives
	// within this window, so the needle never animates forever over nothing.
	SweepAutoStop time.Duration
	// InitialMax is the starting scale maximum.
	InitialMax float64
}

func DefaultOptions() Options {
	return Options{
		SweepInterval: 120 * time.Millisecond,
		SweepFraction: 0.15,
		SweepAutoStop: 20 * time.Second,
		InitialMax:    100,
	}
}

// Snapshot is an immutable view handed to renderers.
type Snapshot struct {
	State State
	// Value is the needle position.
	Value float64
	// Readout is the displayed number: 0 while sweeping so an animated
	// needle is never mistaken for a measurement.
	Readout float64
	Max     float64
	Labels  []float64
}

type Renderer interface {
	Render(Snapshot)
}

// Presenter is safe for concurrent use; sweep timers run on their own
// goroutine and funnel through the same mutex as callers.
type Presenter struct {
	mu        sync.Mutex
	opts      Options
	state     State
	value     float64
	max       float64
	sweepUp   bool
	renderer  Renderer
	sweepStop chan struct{}
	autoStop  *time.Timer
}

func New(opts Options, renderer Renderer) *Presenter {
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultOptions().SweepInterval
	}
	if opts.SweepFraction <= 0 || opts.SweepFraction > 1 {
		opts.SweepFraction = DefaultOptions().SweepFraction
	}
	if opts.SweepAutoStop <= 0 {
		opts.SweepAutoStop = DefaultOptions().SweepAutoStop
	}
	if opts.InitialMax <= 0 {
		opts.InitialMax = DefaultOptions().InitialMax
	}
	return &Presenter{
		opts:     opts,
		state:    StateIdle,
		max:      opts.InitialMax,
		renderer: renderer,
	}
}

// StartSweep enters the Sweeping state and arms the auto-stop safety timer.
// A no-op while Live.
func (p *Presenter) StartSweep() {
	p.mu.Lock()
	if p.state == StateLive || p.state == StateSweeping {
		p.mu.Unlock()
		return
	}
	p.state = StateSweeping
	p.value = 0
	p.sweepUp = true
	stop := make(chan struct{})
	p.sweepStop = stop
	p.autoStop = time.AfterFunc(p.opts.SweepAutoStop, p.sweepTimedOut)
	interval := p.opts.SweepInterval
	p.mu.Unlock()

	go p.sweepLoop(stop, interval)
	p.render()
}

func (p *Presenter) sweepLoop(stop chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.sweepTick()
		}
	}
}

func (p *Presenter) sweepTick() {
	p.mu.Lock()
	if p.state != StateSweeping {
		p.mu.Unlock()
		return
	}
	bound := p.opts.SweepFraction * p.max
	step := bound / 4
	if p.sweepUp {
		p.value += step
		if p.value >= bound {
			p.value = bound
			p.sweepUp = false
		}
	} else {
		p.value -= step
		if p.value <= 0 {
			p.value = 0
			p.sweepUp = true
		}
	}
	p.mu.Unlock()
	p.render()
}

func (p *Presenter) sweepTimedOut() {
	p.mu.Lock()
	if p.state != StateSweeping {
		p.mu.Unlock()
		return
	}
	p.stopSweepLocked()
	p.state = StateIdle
	p.value = 0
	p.mu.Unlock()
	p.render()
}

// SetValue feeds one real sample: transitions to Live (cancelling any sweep)
// and expands the scale when the value crosses 80% of the current maximum.
// The scale never shrinks within a session.
func (p *Presenter) SetValue(v float64) {
	p.mu.Lock()
	p.stopSweepLocked()
	p.state = StateLive
	if v < 0 {
		v = 0
	}
	p.value = v
	if v > 0.8*p.max {
		if next := NiceScale(v); next > p.max {
			p.max = next
		}
	}
	p.mu.Unlock()
	p.render()
}

// StopSweep ends a sweep without touching a live value: a gauge that never
// received data settles back to Idle at 0, while a Live gauge keeps its last
// sample on display.
func (p *Presenter) StopSweep() {
	p.mu.Lock()
	if p.state != StateSweeping {
		p.mu.Unlock()
		return
	}
	p.stopSweepLocked()
	p.state = StateIdle
	p.value = 0
	p.mu.Unlock()
	p.render()
}

// Reset returns the gauge to Idle with the needle at 0 and the scale back at
// its initial maximum. Used when a run is fully torn down.
func (p *Presenter) Reset() {
	p.mu.Lock()
	p.stopSweepLocked()
	p.state = StateIdle
	p.value = 0
	p.max = p.opts.InitialMax
	p.mu.Unlock()
	p.render()
}

func (p *Presenter) stopSweepLocked() {
	if p.sweepStop != nil {
		close(p.sweepStop)
		p.sweepStop = nil
	}
	if p.autoStop != nil {
		p.autoStop.Stop()
		p.autoStop = nil
	}
}

func (p *Presenter) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Presenter) snapshotLocked() Snapshot {
	readout := p.value
	if p.state != StateLive {
		readout = 0
	}
	return Snapshot{
		State:   p.state,
		Value:   p.value,
		Readout: readout,
		Max:     p.max,
		Labels:  ScaleLabels(p.max),
	}
}

func (p *Presenter) render() {
	if p.renderer == nil {
		return
	}
	p.mu.Lock()
	snap := p.snapshotLocked()
	p.mu.Unlock()
	p.renderer.Render(snap)
}
