package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestStartRunRequiresTarget(t *testing.T) {
	c := New("http://localhost:1")
	if _, err := c.StartRun(context.Background(), RunOptions{}); err == nil {
		t.Fatal("StartRun accepted an empty target")
	}
}

func TestStartRunPostsConfig(t *testing.T) {
	var got RunOptions
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/run_iperf" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		fmt.Fprint(w, `{"status":"iperf3 started","cid":"abc","cmd":"iperf3 -c h","logfile":"/tmp/x.log"}`)
	}))
	defer srv.Close()

	c := New(srv.URL)
	resp, err := c.StartRun(context.Background(), RunOptions{
		CID:       "abc",
		Target:    "10.0.0.2",
		Direction: "download",
		Streams:   4,
		Unit:      "Gbits",
	})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if resp.CID != "abc" || resp.Status != "iperf3 started" {
		t.Fatalf("resp = %+v", resp)
	}
	if got.Target != "10.0.0.2" || got.Direction != "download" || got.Streams != 4 || got.Unit != "Gbits" {
		t.Fatalf("posted config = %+v", got)
	}
}

func TestErrorBodyUnwrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"error":"a test run is already active"}`)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.StartRun(context.Background(), RunOptions{Target: "h"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "a test run is already active") {
		t.Fatalf("err = %v, want the server's error message", err)
	}
}

func TestErrorStatusWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Interfaces(context.Background())
	if err == nil || !strings.Contains(err.Error(), "status 502") {
		t.Fatalf("err = %v, want status 502", err)
	}
}

func TestStatsQueryAndDecode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/stats" || r.URL.Query().Get("iface") != "eth0" {
			t.Errorf("request = %s", r.URL.String())
		}
		fmt.Fprint(w, `{
			"iface": "eth0",
			"running": true,
			"unit": "Mbits",
			"streams": 4,
			"started_at": 1756100000.5,
			"link": {"ok": true, "link": "yes", "speed": "1000Mb/s", "duplex": "Full"},
			"counters": {"rx_errors": 2},
			"delta": {"rx_errors": 1},
			"summary": {"link": "1000Mb/s, Full, link: yes", "errors": 1, "crc_seen": true, "verdict": "ok"}
		}`)
	}))
	defer srv.Close()

	c := New(srv.URL)
	resp, err := c.Stats(context.Background(), "eth0")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if !resp.Running || resp.Unit != "Mbits" || resp.Streams != 4 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.StartedAt != 1756100000.5 {
		t.Fatalf("StartedAt = %v", resp.StartedAt)
	}
	if !resp.Link.OK || resp.Link.Speed != "1000Mb/s" {
		t.Fatalf("Link = %+v", resp.Link)
	}
	if resp.Delta["rx_errors"] != 1 || resp.Summary.Verdict != "ok" || !resp.Summary.CRCSeen {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestRecentLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/results" || r.URL.Query().Get("limit") != "5" {
			t.Errorf("request = %s", r.URL.String())
		}
		fmt.Fprint(w, `{"runs":[{"id":"r1","target":"h","avg":941},{"id":"r2","target":"h","avg":850}]}`)
	}))
	defer srv.Close()

	c := New(srv.URL)
	runs, err := c.Recent(context.Background(), 5)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "r1" || runs[1].Avg != 850 {
		t.Fatalf("runs = %+v", runs)
	}
}

func TestHealthy(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.WriteHeader(status)
	}))
	defer srv.Close()

	c := New(srv.URL)
	if err := c.Healthy(context.Background()); err != nil {
		t.Fatalf("Healthy: %v", err)
	}

	status = http.StatusServiceUnavailable
	if err := c.Healthy(context.Background()); err == nil {
		t.Fatal("Healthy accepted a 503")
	}
}

func TestEventStreamDelivery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("cid") != "cid-9" {
			t.Errorf("cid = %q", r.URL.Query().Get("cid"))
		}
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)

		fmt.Fprint(w, ": stream\n\n")
		fmt.Fprint(w, "retry: 1000\n\n")
		fmt.Fprint(w, "data: stream_connected\n\n")
		fmt.Fprint(w, "data: 941\n\n")
		fmt.Fprint(w, "data: -1\n\n")
		flusher.Flush()

		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := New(srv.URL)
	stream := c.OpenStream(ctx, "cid-9")
	defer stream.Close()

	want := []string{"stream_connected", "941", "-1"}
	for _, w := range want {
		select {
		case got, open := <-stream.Events():
			if !open {
				t.Fatalf("stream closed before %q", w)
			}
			if got != w {
				t.Fatalf("event = %q, want %q", got, w)
			}
		case <-ctx.Done():
			t.Fatalf("timed out waiting for %q", w)
		}
	}
}

func TestEventStreamCloseIsIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := New(srv.URL)
	stream := c.OpenStream(context.Background(), "x")
	stream.Close()
	stream.Close()

	select {
	case _, open := <-stream.Events():
		if open {
			t.Fatal("expected closed events channel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("events channel not closed after Close")
	}
}

func TestEventStreamGivesUpAfterRepeatedRejections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := New(srv.URL)
	stream := c.openStream(context.Background(), "x", time.Millisecond, 3)
	defer stream.Close()

	select {
	case _, open := <-stream.Events():
		if open {
			t.Fatal("got an event from a rejecting server")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("events channel not closed after repeated rejections")
	}
	if err := stream.Err(); err == nil || !strings.Contains(err.Error(), "rejected") {
		t.Fatalf("Err = %v, want the rejection recorded", err)
	}
}

func TestEventStreamReconnects(t *testing.T) {
	var connects atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := connects.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "data: hello-%d\n\n", n)
		w.(http.Flusher).Flush()
		if n > 1 {
			<-r.Context().Done()
		}
		// First connection ends cleanly; the stream should dial again.
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c := New(srv.URL)
	stream := c.OpenStream(ctx, "")
	defer stream.Close()

	var got []string
	for len(got) < 2 {
		select {
		case line, open := <-stream.Events():
			if !open {
				t.Fatalf("stream closed early, got %v", got)
			}
			got = append(got, line)
		case <-ctx.Done():
			t.Fatalf("timed out, got %v", got)
		}
	}
	if got[0] != "hello-1" || got[1] != "hello-2" {
		t.Fatalf("events = %v", got)
	}
}
