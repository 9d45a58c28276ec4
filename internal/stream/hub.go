// Package stream owns the live test-session plumbing on the server: the run
// hub (one active run, keyed by correlation id) and the SSE endpoint that
// relays run output to the panel.
package stream

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/netpanel/linkpanel/internal/iperf"
	"github.com/netpanel/linkpanel/internal/logging"
	"github.com/netpanel/linkpanel/internal/metrics"
	"github.com/netpanel/linkpanel/internal/netstat"
	"github.com/netpanel/linkpanel/pkg/errors"
	"github.com/netpanel/linkpanel/pkg/types"
)

// Run is one live or retained test run. Events carries the line protocol the
// SSE layer relays; it is closed when the run is over.
type Run struct {
	State  *types.RunState
	Events chan string

	mu       sync.Mutex
	baseline types.CounterSnapshot
	dist     *metrics.Distribution
	stopped  bool
}

func (r *Run) Baseline() types.CounterSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.baseline.Clone()
}

func (r *Run) setBaseline(c types.CounterSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.baseline = c
}

// markStopped records that the run's process is being terminated on purpose,
// so the nonzero exit is finalized as cancelled rather than completed.
func (r *Run) markStopped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
}

func (r *Run) wasStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// Percentile exposes the run's throughput distribution for the results store.
func (r *Run) Percentile(p float64) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dist.Percentile(p)
}

// FinishedFunc is called once per run after its process exits, with the final
// snapshot. Used to persist run history.
type FinishedFunc func(run *Run, snapshot types.RunSnapshot)

type Hub struct {
	runner     *iperf.Runner
	collector  *netstat.Collector
	queueSize  int
	retention  time.Duration
	onFinished FinishedFunc
	logger     *logging.Logger

	mu     sync.RWMutex
	runs   map[string]*Run
	active string

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewHub(runner *iperf.Runner, collector *netstat.Collector, queueSize int, retention time.Duration) *Hub {
	if queueSize <= 0 {
		queueSize = 256
	}
	if retention <= 0 {
		retention = time.Hour
	}
	return &Hub{
		runner:    runner,
		collector: collector,
		queueSize: queueSize,
		retention: retention,
		logger:    logging.NewLogger("hub"),
		runs:      make(map[string]*Run),
		stopCh:    make(chan struct{}),
	}
}

func (h *Hub) SetFinishedFunc(fn FinishedFunc) { h.onFinished = fn }

func (h *Hub) Start() {
	h.wg.Add(1)
	go h.cleanupLoop()
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
	h.runner.Stop()
	h.wg.Wait()
}

// StartRun launches a new iperf3 run. Any prior run's process is stopped
// first; at most one run is active at a time. The returned run's Cmd and
// Logfile are already populated for the start response.
func (h *Hub) StartRun(cfg types.RunConfig) (*Run, error) {
	if cfg.CID == "" {
		cfg.CID = uuid.New().String()
	}
	cfg.StartTime = time.Now()

	h.mu.Lock()
	if _, exists := h.runs[cfg.CID]; exists {
		h.mu.Unlock()
		return nil, errors.ErrRunActive(cfg.CID)
	}
	h.mu.Unlock()

	// Tear down whatever was running; its worker closes its own queue.
	if prev := h.ActiveRun(); prev != nil {
		prev.markStopped()
	}
	h.runner.Stop()

	cmdStr, logfile, err := h.runner.Prepare(cfg)
	if err != nil {
		return nil, err
	}

	state := &types.RunState{
		Config:    cfg,
		Status:    types.RunStatusStarting,
		StartTime: cfg.StartTime,
	}
	state.SetInvocation(cmdStr, logfile)

	run := &Run{
		State:  state,
		Events: make(chan string, h.queueSize),
		dist:   metrics.NewDistribution(distributionWidth(cfg.Unit), 4096),
	}

	h.mu.Lock()
	h.runs[cfg.CID] = run
	h.active = cfg.CID
	h.mu.Unlock()

	raw := make(chan string)
	h.wg.Add(1)
	go h.pump(run, raw, cmdStr, logfile)

	h.runner.Start(cfg, logfile, raw, func() {
		h.captureBaseline(run, cfg.Iface)
	})

	h.logger.Info("run started",
		logging.Field{Key: "cid", Value: cfg.CID},
		logging.Field{Key: "target", Value: cfg.Target},
		logging.Field{Key: "protocol", Value: string(cfg.Protocol)},
		logging.Field{Key: "mode", Value: string(cfg.Direction)},
		logging.Field{Key: "streams", Value: cfg.Streams})

	return run, nil
}

// captureBaseline reads the counter baseline inside the worker callback so
// the start handler never blocks on a slow ethtool read.
func (h *Hub) captureBaseline(run *Run, iface string) {
	if iface == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	counters, err := h.collector.Counters(ctx, iface)
	if err != nil {
		h.logger.Warn("baseline counters failed",
			logging.Field{Key: "iface", Value: iface},
			logging.Field{Key: "error", Value: err})
		return
	}
	run.setBaseline(counters)
}

// pump drains the worker's raw output, keeps the run state current, and
// relays each line onto the buffered event queue. When no consumer keeps up
// the oldest semantics are preserved by dropping the new line; a 10 second
// test emits a handful of lines, so drops only happen with no panel attached.
func (h *Hub) pump(run *Run, raw <-chan string, cmdStr, logfile string) {
	defer h.wg.Done()

	run.Events <- "CMD: " + cmdStr
	run.Events <- "LOGFILE: " + logfile

	failed := false
	for line := range raw {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if v, err := strconv.ParseFloat(trimmed, 64); err == nil && v >= 0 {
			run.State.RecordSample(v)
			run.mu.Lock()
			run.dist.Record(v)
			run.mu.Unlock()
		} else if strings.HasPrefix(strings.ToLower(trimmed), "error:") {
			failed = true
			run.State.SetError(errors.ErrSpawnFailed(strings.TrimSpace(trimmed[len("error:"):]), nil))
		}

		select {
		case run.Events <- trimmed:
		default:
			h.logger.Debug("event queue full, dropping line",
				logging.Field{Key: "cid", Value: run.State.Config.CID})
		}
	}

	switch {
	case run.wasStopped():
		run.State.UpdateStatus(types.RunStatusCancelled)
	case failed:
		run.State.UpdateStatus(types.RunStatusFailed)
	default:
		run.State.UpdateStatus(types.RunStatusCompleted)
	}
	close(run.Events)

	h.mu.Lock()
	if h.active == run.State.Config.CID {
		h.active = ""
	}
	h.mu.Unlock()

	snapshot := run.State.Snapshot()
	h.logger.Info("run finished",
		logging.Field{Key: "cid", Value: snapshot.Config.CID},
		logging.Field{Key: "status", Value: string(snapshot.Status)},
		logging.Field{Key: "samples", Value: snapshot.Samples},
		logging.Field{Key: "avg", Value: snapshot.SampleAvg()},
		logging.Field{Key: "max", Value: snapshot.SampleMax})

	if h.onFinished != nil {
		h.onFinished(run, snapshot)
	}
}

// distributionWidth gives the throughput histogram 1 Mbps resolution in the
// run's display unit, so Gbits runs do not collapse into the first bucket.
func distributionWidth(u types.Unit) float64 {
	w := u.FromMbps(1)
	if w <= 0 {
		return 1
	}
	return w
}

func (h *Hub) GetRun(cid string) (*Run, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	run, exists := h.runs[cid]
	if !exists {
		return nil, errors.ErrRunNotFound(cid)
	}
	return run, nil
}

// ActiveRun returns the currently running test, or nil.
func (h *Hub) ActiveRun() *Run {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.active == "" {
		return nil
	}
	return h.runs[h.active]
}

// StopActive terminates the active run's process, if any. The run is marked
// so its exit finalizes as cancelled.
func (h *Hub) StopActive() {
	if run := h.ActiveRun(); run != nil {
		run.markStopped()
	}
	h.runner.Stop()
}

func (h *Hub) cleanupLoop() {
	defer h.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.cleanup()
		}
	}
}

// cleanup drops finished runs past the retention period.
func (h *Hub) cleanup() {
	now := time.Now()
	h.mu.Lock()
	defer h.mu.Unlock()
	for cid, run := range h.runs {
		snapshot := run.State.Snapshot()
		switch snapshot.Status {
		case types.RunStatusCompleted, types.RunStatusFailed, types.RunStatusCancelled:
			if !snapshot.EndTime.IsZero() && now.Sub(snapshot.EndTime) > h.retention {
				delete(h.runs, cid)
			}
		}
	}
}
