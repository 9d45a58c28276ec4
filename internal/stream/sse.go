package stream

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/netpanel/linkpanel/internal/logging"
	"github.com/netpanel/linkpanel/pkg/parse"
	"github.com/netpanel/linkpanel/pkg/types"
)

// iperfFailureTexts are substrings of iperf3 output that mean the run cannot
// produce data and the stream should end.
var iperfFailureTexts = []string{
	"unable to connect",
	"connection refused",
	"timed out",
	"failed",
	"no route",
}

// SSEHandler serves GET /stream_iperf. The panel opens the stream with a
// fresh cid before it posts the start request, so the handler heartbeats
// until the run shows up in the hub, then relays and classifies its event
// queue until the queue closes or the client goes away.
type SSEHandler struct {
	hub       *Hub
	heartbeat time.Duration
	logger    *logging.Logger
}

func NewSSEHandler(hub *Hub, heartbeat time.Duration) *SSEHandler {
	if heartbeat <= 0 {
		heartbeat = time.Second
	}
	return &SSEHandler{
		hub:       hub,
		heartbeat: heartbeat,
		logger:    logging.NewLogger("sse"),
	}
}

func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	// Disable proxy buffering so interval frames arrive as they happen.
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprint(w, ": stream\n\n")
	fmt.Fprint(w, "retry: 1000\n\n")
	h.frame(w, "stream_connected")
	flusher.Flush()

	cid := r.URL.Query().Get("cid")
	h.logger.Debug("stream connected", logging.Field{Key: "cid", Value: cid})

	ctx := r.Context()
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	run := h.lookup(cid)
	for run == nil {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.frame(w, "ping")
			flusher.Flush()
			run = h.lookup(cid)
		}
	}

	st := relayState{unit: run.State.Config.Unit, streams: run.State.Config.Streams}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.frame(w, "ping")
			flusher.Flush()
		case line, open := <-run.Events:
			if !open {
				h.frame(w, "-1")
				flusher.Flush()
				return
			}
			done := h.relay(w, &st, line)
			flusher.Flush()
			if done {
				return
			}
		}
	}
}

// lookup resolves the run for a stream: by cid when given, the active run
// otherwise (the stats page attaches without one).
func (h *SSEHandler) lookup(cid string) *Run {
	if cid == "" {
		return h.hub.ActiveRun()
	}
	run, err := h.hub.GetRun(cid)
	if err != nil {
		return nil
	}
	return run
}

// relayState carries the per-stream parsing context: the run's display unit,
// its stream count, and the last numeric value seen. Multi-stream
// human-readable per-stream lines are replaced by the last value so the gauge
// never jumps to a single stream's share.
type relayState struct {
	unit    types.Unit
	streams int
	lastVal float64
}

// relay classifies one queue line and writes the resulting frames. It returns
// true when the stream is over and the handler should return.
func (h *SSEHandler) relay(w http.ResponseWriter, st *relayState, line string) bool {
	s := strings.TrimSpace(line)
	if s == "" {
		return false
	}
	low := strings.ToLower(s)

	// Invocation metadata goes to the panel log verbatim.
	if strings.HasPrefix(s, "CMD:") || strings.HasPrefix(s, "LOGFILE:") || strings.HasPrefix(s, "WORKER:") {
		h.frame(w, s)
		return false
	}

	// Worker-level error: forward, then end the stream.
	if strings.HasPrefix(low, "error:") {
		h.frame(w, s)
		h.frame(w, "-1")
		return true
	}

	// A busy server is not fatal; the panel resets and lets the user retry.
	// Checked before the failure texts because busy lines carry the iperf3:
	// prefix too.
	if strings.Contains(low, "server is busy") || strings.Contains(low, "unable to send control message") {
		h.frame(w, "server is busy")
		return false
	}

	// Known iperf3 failure texts are fatal.
	if strings.HasPrefix(low, "iperf3:") || containsAny(low, iperfFailureTexts) {
		h.frame(w, "ERROR: "+s)
		h.frame(w, "-1")
		return true
	}

	// Bare number from the json-stream translator.
	if parse.IsNumber(s) {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			st.lastVal = v
		}
		h.frame(w, s)
		return false
	}

	// Human-readable "... Mbits/sec" fallback for plain-text iperf output.
	if v := parse.Throughput(s, st.unit); !math.IsNaN(v) {
		switch {
		case strings.Contains(s, "[SUM]") && !strings.Contains(low, "sender"):
			st.lastVal = v
			h.frame(w, formatValue(v))
		case st.streams == 1:
			st.lastVal = v
			h.frame(w, formatValue(v))
		default:
			h.frame(w, formatValue(st.lastVal))
		}
		return false
	}

	// Anything else is debug output for the panel log.
	h.frame(w, s)
	return false
}

func (h *SSEHandler) frame(w http.ResponseWriter, data string) {
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
