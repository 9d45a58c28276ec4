// Package session drives one bandwidth test from the client side: it opens
// the event stream, starts the run, classifies incoming events, feeds the
// gauge and aggregates, and settles on a final outcome.
package session

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/netpanel/linkpanel/internal/gauge"
	"github.com/netpanel/linkpanel/internal/logging"
	"github.com/netpanel/linkpanel/internal/metrics"
	"github.com/netpanel/linkpanel/pkg/client"
	"github.com/netpanel/linkpanel/pkg/errors"
	"github.com/netpanel/linkpanel/pkg/parse"
	"github.com/netpanel/linkpanel/pkg/types"
)

// Phase is the observable state of a test session.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseConnecting Phase = "connecting"
	PhaseWaiting    Phase = "waiting"
	PhaseRunning    Phase = "running"
	PhaseComplete   Phase = "complete"
	PhaseBusy       Phase = "busy"
	PhaseFailed     Phase = "failed"
)

// Observer receives session progress. All callbacks run on the session's
// goroutine; implementations must not block for long.
type Observer interface {
	PhaseChanged(phase Phase)
	LogLine(line string)
	GaugeUpdated(snapshot gauge.Snapshot)
}

// Summary is the settled outcome of one session.
type Summary struct {
	CID     string
	Phase   Phase
	Avg     float64
	Max     float64
	Samples int
	Err     error
}

// Options tunes session behavior. The inactivity window is re-armed on every
// incoming event; download runs get a longer window because the reversed
// direction spends more time in connection setup before the first interval.
type Options struct {
	InactivityTimeout         time.Duration
	DownloadInactivityTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		InactivityTimeout:         20 * time.Second,
		DownloadInactivityTimeout: 40 * time.Second,
	}
}

// Controller runs sessions one at a time against a panel server. It owns the
// gauge and the sample aggregates; both are reset when a new session starts.
type Controller struct {
	api      *client.Client
	gauge    *gauge.Presenter
	samples  *metrics.SampleStats
	observer Observer
	opts     Options
	logger   *logging.Logger
}

func NewController(api *client.Client, g *gauge.Presenter, observer Observer, opts Options) *Controller {
	if opts.InactivityTimeout <= 0 {
		opts.InactivityTimeout = DefaultOptions().InactivityTimeout
	}
	if opts.DownloadInactivityTimeout <= 0 {
		opts.DownloadInactivityTimeout = DefaultOptions().DownloadInactivityTimeout
	}
	return &Controller{
		api:      api,
		gauge:    g,
		samples:  &metrics.SampleStats{},
		observer: observer,
		opts:     opts,
		logger:   logging.NewLogger("session"),
	}
}

// Run executes one bandwidth test to completion. The event stream is opened
// before the start request so no early events are lost; the run itself is
// only posted once the stream reports it is connected.
func (c *Controller) Run(ctx context.Context, runOpts client.RunOptions) (*Summary, error) {
	if runOpts.CID == "" {
		runOpts.CID = uuid.New().String()
	}
	unit := types.NormalizeUnit(runOpts.Unit)
	runOpts.Unit = string(unit)

	window := c.opts.InactivityTimeout
	if runOpts.Direction == string(types.DirectionDownload) {
		window = c.opts.DownloadInactivityTimeout
	}

	c.samples.Reset()
	c.gauge.Reset()
	c.setPhase(PhaseConnecting)
	c.gauge.StartSweep()
	c.notifyGauge()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream := c.api.OpenStream(ctx, runOpts.CID)
	defer stream.Close()

	startResult := make(chan error, 1)
	started := false

	timer := time.NewTimer(window)
	defer timer.Stop()

	s := &session{
		controller: c,
		cid:        runOpts.CID,
		unit:       unit,
	}

	for {
		// Re-arm the watchdog before handling anything else; a stalled
		// stream is the one failure the server cannot report.
		select {
		case <-ctx.Done():
			return s.fail(ctx.Err()), ctx.Err()

		case err := <-startResult:
			if err != nil {
				c.logger.Warn("start request failed",
					logging.Field{Key: "cid", Value: runOpts.CID},
					logging.Field{Key: "error", Value: err})
				return s.fail(err), err
			}
			c.setPhase(PhaseWaiting)

		case <-timer.C:
			msg := "no events within inactivity window"
			if s.cmd != "" {
				msg += "; last command: " + s.cmd
			}
			err := errors.ErrTimeout(msg, runOpts.CID)
			return s.fail(err), err

		case line, open := <-stream.Events():
			if !open {
				err := stream.Err()
				if err == nil {
					err = errors.ErrConnectionFailed("event stream closed", nil)
				}
				return s.fail(err), err
			}
			resetTimer(timer, window)

			if line == "stream_connected" && !started {
				started = true
				go func() {
					_, err := c.api.StartRun(ctx, runOpts)
					startResult <- err
				}()
				continue
			}

			outcome := s.handle(line)
			switch outcome {
			case outcomeComplete:
				return s.finish(PhaseComplete), nil
			case outcomeBusy:
				return s.finish(PhaseBusy), nil
			case outcomeFailed:
				return s.finish(PhaseFailed), s.err
			}
		}
	}
}

type outcome int

const (
	outcomeContinue outcome = iota
	outcomeComplete
	outcomeBusy
	outcomeFailed
)

// session is the per-run classification state. cmd remembers the invoked
// command line so a later timeout can report what was running.
type session struct {
	controller *Controller
	cid        string
	unit       types.Unit
	cmd        string
	err        error
}

// handle classifies one event payload.
func (s *session) handle(line string) outcome {
	c := s.controller
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || trimmed == "ping" {
		return outcomeContinue
	}

	if parse.IsEndOfStream(trimmed) {
		return outcomeComplete
	}

	if trimmed == "server is busy" {
		c.log("server is busy")
		return outcomeBusy
	}

	// Invocation metadata goes to the session log verbatim.
	if strings.HasPrefix(trimmed, "CMD:") {
		s.cmd = strings.TrimSpace(strings.TrimPrefix(trimmed, "CMD:"))
		c.log(trimmed)
		return outcomeContinue
	}
	if strings.HasPrefix(trimmed, "LOGFILE:") || strings.HasPrefix(trimmed, "WORKER:") {
		c.log(trimmed)
		return outcomeContinue
	}

	low := strings.ToLower(trimmed)
	if strings.HasPrefix(low, "error:") {
		c.log(trimmed)
		s.err = errors.ErrConnectionFailed(strings.TrimSpace(trimmed[len("error:"):]), nil)
		return outcomeFailed
	}

	if v := parse.Throughput(trimmed, s.unit); !math.IsNaN(v) {
		if v < 0 {
			return outcomeContinue
		}
		if c.samples.Count() == 0 {
			c.setPhase(PhaseRunning)
		}
		c.samples.Add(v)
		c.gauge.SetValue(v)
		c.notifyGauge()
		return outcomeContinue
	}

	// Anything else is informational output.
	c.log(trimmed)
	return outcomeContinue
}

// finish settles the session. A completed run keeps the gauge on its last
// value; busy means another client owns the tester, so everything resets for
// a clean retry.
func (s *session) finish(phase Phase) *Summary {
	c := s.controller
	if phase == PhaseBusy {
		c.samples.Reset()
		c.gauge.Reset()
		c.notifyGauge()
	} else {
		c.gauge.StopSweep()
		c.notifyGauge()
	}
	c.setPhase(phase)

	summary := &Summary{
		CID:     s.cid,
		Phase:   phase,
		Avg:     c.samples.Avg(),
		Max:     c.samples.Max(),
		Samples: int(c.samples.Count()),
		Err:     s.err,
	}
	c.logger.Info("session settled",
		logging.Field{Key: "cid", Value: s.cid},
		logging.Field{Key: "phase", Value: string(phase)},
		logging.Field{Key: "samples", Value: summary.Samples},
		logging.Field{Key: "avg", Value: summary.Avg},
		logging.Field{Key: "max", Value: summary.Max})
	return summary
}

func (s *session) fail(err error) *Summary {
	s.err = err
	return s.finish(PhaseFailed)
}

func (c *Controller) setPhase(phase Phase) {
	if c.observer != nil {
		c.observer.PhaseChanged(phase)
	}
}

func (c *Controller) log(line string) {
	if c.observer != nil {
		c.observer.LogLine(line)
	}
}

func (c *Controller) notifyGauge() {
	if c.observer != nil {
		c.observer.GaugeUpdated(c.gauge.Snapshot())
	}
}

// resetTimer safely re-arms a timer that may have fired.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
