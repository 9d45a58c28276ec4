package iperf

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/netpanel/linkpanel/internal/logging"
	"github.com/netpanel/linkpanel/pkg/errors"
	"github.com/netpanel/linkpanel/pkg/types"
)

const stopGrace = 500 * time.Millisecond

// Runner supervises at most one iperf3 process at a time. Output is
// translated line-wise onto the run's event queue; the queue is closed when
// the process exits, which the stream layer turns into the -1 end-of-stream
// sentinel.
type Runner struct {
	iperfPath string
	logDir    string
	logger    *logging.Logger

	mu  sync.Mutex
	cmd *exec.Cmd
}

func NewRunner(iperfPath, logDir string) *Runner {
	return &Runner{
		iperfPath: iperfPath,
		logDir:    logDir,
		logger:    logging.NewLogger("iperf"),
	}
}

// Prepare builds the invocation and creates the per-run logfile. Returned
// before spawn so the start response can already carry cmd and logfile.
func (r *Runner) Prepare(cfg types.RunConfig) (cmdStr, logfile string, err error) {
	if err := os.MkdirAll(r.logDir, 0o755); err != nil {
		return "", "", errors.ErrSpawnFailed("create log directory", err)
	}
	args := BuildArgs(cfg)
	cmdStr = CommandString(r.iperfPath, args)
	logfile = filepath.Join(r.logDir, fmt.Sprintf("iperf_%s.log", time.Now().Format("20060102_150405")))
	return cmdStr, logfile, nil
}

// Start spawns iperf3 and streams its translated output into out. It runs
// until the process exits, then closes out. onStarted is invoked once the
// worker is up, before the process is spawned (the hub captures baseline
// counters there so the HTTP handler never blocks on counter reads).
func (r *Runner) Start(cfg types.RunConfig, logfile string, out chan<- string, onStarted func()) {
	go r.work(cfg, logfile, out, onStarted)
}

func (r *Runner) work(cfg types.RunConfig, logfile string, out chan<- string, onStarted func()) {
	defer close(out)

	out <- "WORKER: started"
	if onStarted != nil {
		onStarted()
	}

	logFP, err := os.OpenFile(logfile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		r.logger.Warn("open run logfile failed",
			logging.Field{Key: "path", Value: logfile},
			logging.Field{Key: "error", Value: err})
	} else {
		defer logFP.Close()
	}
	logLine := func(s string) {
		if logFP != nil {
			fmt.Fprintln(logFP, s)
		}
	}

	args := BuildArgs(cfg)
	logLine("=== NEW RUN ===")
	logLine("time: " + time.Now().Format(time.RFC3339))
	logLine("cmd: " + CommandString(r.iperfPath, args))
	logLine("iface: " + cfg.Iface)
	logLine("unit: " + string(cfg.Unit))

	cmd := exec.Command(r.iperfPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		out <- "ERROR: " + err.Error()
		return
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		out <- "ERROR: " + err.Error()
		logLine("spawn failed: " + err.Error())
		return
	}

	r.mu.Lock()
	r.cmd = cmd
	r.mu.Unlock()

	out <- fmt.Sprintf("WORKER: iperf pid=%d", cmd.Process.Pid)
	logLine(fmt.Sprintf("pid: %d", cmd.Process.Pid))

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		logLine("OUT: " + line)
		for _, translated := range translateLine(line, cfg.Unit) {
			out <- translated
		}
	}
	if err := scanner.Err(); err != nil {
		logLine("read error: " + err.Error())
	}

	err = cmd.Wait()
	r.mu.Lock()
	if r.cmd == cmd {
		r.cmd = nil
	}
	r.mu.Unlock()

	if exitErr, ok := err.(*exec.ExitError); ok {
		code := exitErr.ExitCode()
		logLine(fmt.Sprintf("returncode: %d", code))
		out <- fmt.Sprintf("iperf3 exited with code %d", code)
		return
	}
	if err != nil {
		logLine("wait error: " + err.Error())
		out <- "ERROR: " + err.Error()
		return
	}
	logLine("returncode: 0")
}

// Stop terminates the current process if any: SIGTERM, short grace, SIGKILL.
func (r *Runner) Stop() {
	r.mu.Lock()
	cmd := r.cmd
	r.cmd = nil
	r.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}
	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		_ = cmd.Process.Kill()
		return
	}
	// The worker goroutine owns Wait; escalate to SIGKILL after the grace
	// period without blocking the caller. Kill on an exited process is a
	// harmless no-op.
	go func() {
		time.Sleep(stopGrace)
		_ = cmd.Process.Kill()
	}()
}
