package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/netpanel/linkpanel/internal/metrics"
	"github.com/netpanel/linkpanel/pkg/types"
)

// dataFrames extracts the payload of every "data:" frame in an SSE body.
func dataFrames(body string) []string {
	var out []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			out = append(out, strings.TrimPrefix(line, "data: "))
		}
	}
	return out
}

func relayOne(t *testing.T, st *relayState, line string) ([]string, bool) {
	t.Helper()
	h := NewSSEHandler(nil, time.Second)
	rec := httptest.NewRecorder()
	done := h.relay(rec, st, line)
	return dataFrames(rec.Body.String()), done
}

func TestRelayMetadataForwarded(t *testing.T) {
	for _, line := range []string{
		"CMD: iperf3 -c 10.0.0.2",
		"LOGFILE: /tmp/iperf_abc.log",
		"WORKER: started",
	} {
		frames, done := relayOne(t, &relayState{}, line)
		if done {
			t.Errorf("%q ended the stream", line)
		}
		if len(frames) != 1 || frames[0] != line {
			t.Errorf("relay(%q) = %v", line, frames)
		}
	}
}

func TestRelayWorkerErrorIsTerminal(t *testing.T) {
	frames, done := relayOne(t, &relayState{}, "ERROR: spawn failed")
	if !done {
		t.Fatal("error line should end the stream")
	}
	if len(frames) != 2 || frames[0] != "ERROR: spawn failed" || frames[1] != "-1" {
		t.Fatalf("frames = %v", frames)
	}
}

func TestRelayIperfFailureIsTerminal(t *testing.T) {
	tests := []string{
		"iperf3: error - the server is not responding",
		"unable to connect to server: Connection refused",
		"connect failed: No route to host",
	}
	for _, line := range tests {
		frames, done := relayOne(t, &relayState{}, line)
		if !done {
			t.Errorf("%q should end the stream", line)
			continue
		}
		if len(frames) != 2 || frames[0] != "ERROR: "+line || frames[1] != "-1" {
			t.Errorf("relay(%q) = %v", line, frames)
		}
	}
}

func TestRelayBusyServerIsNotFatal(t *testing.T) {
	for _, line := range []string{
		"iperf3: error - the server is busy running a test. try again later",
		"iperf3: error - unable to send control message: Bad file descriptor",
	} {
		// Busy texts match before the generic failure classifier would.
		frames, done := relayOne(t, &relayState{}, line)
		if done {
			t.Errorf("%q should not end the stream", line)
		}
		if len(frames) != 1 || frames[0] != "server is busy" {
			t.Errorf("relay(%q) = %v", line, frames)
		}
	}
}

func TestRelayBareNumberUpdatesLastValue(t *testing.T) {
	st := &relayState{}
	frames, done := relayOne(t, st, "941.5")
	if done {
		t.Fatal("number ended the stream")
	}
	if len(frames) != 1 || frames[0] != "941.5" {
		t.Fatalf("frames = %v", frames)
	}
	if st.lastVal != 941.5 {
		t.Fatalf("lastVal = %v, want 941.5", st.lastVal)
	}
}

func TestRelayHumanReadableFallback(t *testing.T) {
	sum := "[SUM]   0.00-1.00   sec   112 MBytes   941 Mbits/sec"
	perStream := "[  5]   0.00-1.00   sec  28.0 MBytes   235 Mbits/sec"
	sender := "[SUM]   0.00-10.00  sec  1.10 GBytes   940 Mbits/sec  sender"

	t.Run("sum line updates value", func(t *testing.T) {
		st := &relayState{unit: types.UnitMbits, streams: 4}
		frames, _ := relayOne(t, st, sum)
		if len(frames) != 1 || frames[0] != "941" {
			t.Fatalf("frames = %v", frames)
		}
		if st.lastVal != 941 {
			t.Fatalf("lastVal = %v", st.lastVal)
		}
	})

	t.Run("per-stream line repeats last value", func(t *testing.T) {
		st := &relayState{unit: types.UnitMbits, streams: 4, lastVal: 941}
		frames, _ := relayOne(t, st, perStream)
		if len(frames) != 1 || frames[0] != "941" {
			t.Fatalf("frames = %v, want the previous sum, not the stream share", frames)
		}
	})

	t.Run("single stream forwards directly", func(t *testing.T) {
		st := &relayState{unit: types.UnitMbits, streams: 1}
		frames, _ := relayOne(t, st, perStream)
		if len(frames) != 1 || frames[0] != "235" {
			t.Fatalf("frames = %v", frames)
		}
	})

	t.Run("sender summary repeats last value", func(t *testing.T) {
		st := &relayState{unit: types.UnitMbits, streams: 4, lastVal: 941}
		frames, _ := relayOne(t, st, sender)
		if len(frames) != 1 || frames[0] != "941" {
			t.Fatalf("frames = %v", frames)
		}
	})
}

func TestRelayBlankLineIgnored(t *testing.T) {
	frames, done := relayOne(t, &relayState{}, "   ")
	if done || frames != nil {
		t.Fatalf("blank line produced frames=%v done=%v", frames, done)
	}
}

func newTestRun(cid string, streams int) *Run {
	return &Run{
		State: &types.RunState{
			Config: types.RunConfig{CID: cid, Unit: types.UnitMbits, Streams: streams},
			Status: types.RunStatusStarting,
		},
		Events: make(chan string, 16),
		dist:   metrics.NewDistribution(1, 4096),
	}
}

func TestServeHTTPRelaysRunEvents(t *testing.T) {
	hub := NewHub(nil, nil, 16, time.Hour)
	run := newTestRun("cid-1", 1)
	hub.mu.Lock()
	hub.runs["cid-1"] = run
	hub.active = "cid-1"
	hub.mu.Unlock()

	run.Events <- "CMD: iperf3 -c 10.0.0.2"
	run.Events <- "941"
	run.Events <- "945"
	close(run.Events)

	h := NewSSEHandler(hub, 50*time.Millisecond)
	req := httptest.NewRequest(http.MethodGet, "/stream_iperf?cid=cid-1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	body := rec.Body.String()
	if rec.Header().Get("Content-Type") != "text/event-stream" {
		t.Fatalf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
	if !strings.HasPrefix(body, ": stream\n\n") {
		t.Fatalf("missing comment preamble: %q", body)
	}
	if !strings.Contains(body, "retry: 1000\n\n") {
		t.Fatal("missing retry directive")
	}

	frames := dataFrames(body)
	want := []string{"stream_connected", "CMD: iperf3 -c 10.0.0.2", "941", "945", "-1"}
	if len(frames) != len(want) {
		t.Fatalf("frames = %v, want %v", frames, want)
	}
	for i := range want {
		if frames[i] != want[i] {
			t.Fatalf("frame[%d] = %q, want %q", i, frames[i], want[i])
		}
	}
}

func TestServeHTTPHeartbeatsUntilCancelled(t *testing.T) {
	hub := NewHub(nil, nil, 16, time.Hour)
	h := NewSSEHandler(hub, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/stream_iperf?cid=nope", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	frames := dataFrames(rec.Body.String())
	if len(frames) < 2 || frames[0] != "stream_connected" {
		t.Fatalf("frames = %v, want stream_connected plus pings", frames)
	}
	for _, f := range frames[1:] {
		if f != "ping" {
			t.Fatalf("unexpected frame %q while waiting for run", f)
		}
	}
}
