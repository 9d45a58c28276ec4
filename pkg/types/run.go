package types

import (
	"sync"
	"time"
)

type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
)

type Direction string

const (
	DirectionDownload Direction = "download"
	DirectionUpload   Direction = "upload"
)

type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusStarting  RunStatus = "starting"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusBusy      RunStatus = "busy"
	RunStatusCancelled RunStatus = "cancelled"
)

// RunConfig is the full configuration for one iperf3 run, built once per run
// and passed by value. CID is the client-generated correlation id tying the
// start request to its event stream.
type RunConfig struct {
	CID              string    `json:"cid"`
	Protocol         Protocol  `json:"protocol"`
	Direction        Direction `json:"mode"`
	Streams          int       `json:"streams"`
	Target           string    `json:"target"`
	Port             int       `json:"port"`
	Bandwidth        string    `json:"bandwidth,omitempty"`
	Unit             Unit      `json:"units"`
	Iface            string    `json:"iface,omitempty"`
	DurationSec      int       `json:"duration,omitempty"`
	IntervalSec      int       `json:"interval,omitempty"`
	ConnectTimeoutMS int       `json:"connect_timeout_ms,omitempty"`
	StartTime        time.Time `json:"-"`
}

// RunState is the hub-side mutable state of one run. All mutation goes
// through methods; readers take a Snapshot.
type RunState struct {
	Config    RunConfig
	Status    RunStatus
	Cmd       string
	Logfile   string
	Samples   int64
	SampleSum float64
	SampleMax float64
	StartTime time.Time
	EndTime   time.Time
	Err       error
	mu        sync.RWMutex
}

type RunSnapshot struct {
	Config    RunConfig
	Status    RunStatus
	Cmd       string
	Logfile   string
	Samples   int64
	SampleSum float64
	SampleMax float64
	StartTime time.Time
	EndTime   time.Time
	Err       error
}

// SampleAvg is the arithmetic mean of observed samples, 0 when none arrived.
func (rs *RunSnapshot) SampleAvg() float64 {
	if rs.Samples == 0 {
		return 0
	}
	return rs.SampleSum / float64(rs.Samples)
}

func (rs *RunState) UpdateStatus(status RunStatus) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.Status = status
	if status == RunStatusRunning && rs.StartTime.IsZero() {
		rs.StartTime = time.Now()
	}
	if status == RunStatusCompleted || status == RunStatusFailed || status == RunStatusCancelled {
		rs.EndTime = time.Now()
	}
}

func (rs *RunState) SetInvocation(cmd, logfile string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.Cmd = cmd
	rs.Logfile = logfile
}

func (rs *RunState) SetError(err error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.Err = err
}

// RecordSample folds one parsed throughput value into the running aggregates.
func (rs *RunState) RecordSample(v float64) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.Samples++
	rs.SampleSum += v
	if v > rs.SampleMax {
		rs.SampleMax = v
	}
	if rs.Status == RunStatusStarting || rs.Status == RunStatusPending {
		rs.Status = RunStatusRunning
	}
}

func (rs *RunState) Snapshot() RunSnapshot {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return RunSnapshot{
		Config:    rs.Config,
		Status:    rs.Status,
		Cmd:       rs.Cmd,
		Logfile:   rs.Logfile,
		Samples:   rs.Samples,
		SampleSum: rs.SampleSum,
		SampleMax: rs.SampleMax,
		StartTime: rs.StartTime,
		EndTime:   rs.EndTime,
		Err:       rs.Err,
	}
}
