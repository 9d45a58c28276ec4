// loadtest hammers a linkpanel server's HTTP surface: stats polling, SSE
// event streams and the websocket stats push. It reports request and event
// rates so capacity limits and rate-limit settings can be verified.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

type config struct {
	serverURL   string
	mode        string
	iface       string
	duration    time.Duration
	concurrency int
}

func main() {
	cfg := parseFlags()
	if err := validateConfig(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "loadtest: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.duration)
	defer cancel()

	var requests, events, failures int64

	var wg sync.WaitGroup
	wg.Add(cfg.concurrency)
	for i := 0; i < cfg.concurrency; i++ {
		go func() {
			defer wg.Done()
			switch cfg.mode {
			case "stats":
				n, errs := runStats(ctx, cfg)
				atomic.AddInt64(&requests, n)
				atomic.AddInt64(&failures, errs)
			case "sse":
				n, err := runSSE(ctx, cfg)
				atomic.AddInt64(&events, n)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
			case "ws":
				n, err := runWS(ctx, cfg)
				atomic.AddInt64(&events, n)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}()
	}
	wg.Wait()

	seconds := cfg.duration.Seconds()
	if seconds <= 0 {
		seconds = 1
	}
	fmt.Printf("mode=%s concurrency=%d duration=%s requests=%d events=%d failures=%d req_per_sec=%.1f events_per_sec=%.1f\n",
		cfg.mode,
		cfg.concurrency,
		cfg.duration,
		requests,
		events,
		failures,
		float64(requests)/seconds,
		float64(events)/seconds,
	)
}

func parseFlags() *config {
	cfg := &config{}
	flag.StringVar(&cfg.serverURL, "server-url", "http://localhost:5000", "panel server URL")
	flag.StringVar(&cfg.mode, "mode", "stats", "load mode: stats, sse or ws")
	flag.StringVar(&cfg.iface, "iface", "", "interface query parameter for stats")
	flag.DurationVar(&cfg.duration, "duration", 30*time.Second, "test duration")
	flag.IntVar(&cfg.concurrency, "concurrency", 10, "concurrent workers")
	flag.Parse()
	return cfg
}

func validateConfig(cfg *config) error {
	u, err := url.Parse(cfg.serverURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid server URL: %q", cfg.serverURL)
	}
	switch cfg.mode {
	case "stats", "sse", "ws":
	default:
		return fmt.Errorf("invalid mode: %q (must be stats, sse or ws)", cfg.mode)
	}
	if cfg.duration <= 0 {
		return errors.New("duration must be positive")
	}
	if cfg.concurrency < 1 || cfg.concurrency > 1000 {
		return errors.New("concurrency must be 1-1000")
	}
	return nil
}

// runStats polls GET /api/stats in a tight loop.
func runStats(ctx context.Context, cfg *config) (requests, failures int64) {
	client := &http.Client{Timeout: 10 * time.Second}
	path := cfg.serverURL + "/api/stats"
	if cfg.iface != "" {
		path += "?iface=" + url.QueryEscape(cfg.iface)
	}
	for ctx.Err() == nil {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
		if err != nil {
			return requests, failures + 1
		}
		resp, err := client.Do(req)
		requests++
		if err != nil {
			if ctx.Err() != nil {
				return requests, failures
			}
			failures++
			continue
		}
		if resp.StatusCode != http.StatusOK {
			failures++
		}
		resp.Body.Close()
	}
	return requests, failures
}

// runSSE holds one event-stream connection open and counts frames.
func runSSE(ctx context.Context, cfg *config) (events int64, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.serverURL+"/stream_iperf", nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("stream status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "data:") {
			events++
		}
	}
	if ctx.Err() != nil {
		return events, nil
	}
	return events, scanner.Err()
}

// runWS holds one stats websocket open and counts pushed messages.
func runWS(ctx context.Context, cfg *config) (events int64, err error) {
	wsURL := strings.Replace(cfg.serverURL, "http", "ws", 1) + "/ws/stats"
	if cfg.iface != "" {
		wsURL += "?iface=" + url.QueryEscape(cfg.iface)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return 0, err
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if ctx.Err() != nil {
				return events, nil
			}
			return events, err
		}
		events++
	}
}
