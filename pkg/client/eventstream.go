package client

import (
	"bufio"
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 10 * time.Second
	maxConnectFailures = 5
)

// EventStream is a live SSE subscription to GET /stream_iperf. Data frames
// arrive on Events as bare payload strings (comments and retry hints are
// swallowed). The stream reconnects on transport errors with backoff; after
// maxConnectFailures consecutive failures it gives up, recording the last
// error via Err and closing Events, so a dead server surfaces as a transport
// failure rather than a silent stall. The "-1" end-of-test sentinel is
// delivered like any other payload; interpreting it is the consumer's job.
type EventStream struct {
	client *Client
	cid    string

	events      chan string
	cancel      context.CancelFunc
	baseDelay   time.Duration
	maxFailures int

	mu        sync.Mutex
	err       error
	closeOnce sync.Once
}

// OpenStream subscribes to the event stream for the given correlation id.
// Open the stream before starting the run so no early events are missed.
func (c *Client) OpenStream(ctx context.Context, cid string) *EventStream {
	return c.openStream(ctx, cid, reconnectBaseDelay, maxConnectFailures)
}

func (c *Client) openStream(ctx context.Context, cid string, baseDelay time.Duration, maxFailures int) *EventStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &EventStream{
		client:      c,
		cid:         cid,
		events:      make(chan string, 64),
		cancel:      cancel,
		baseDelay:   baseDelay,
		maxFailures: maxFailures,
	}
	go s.run(ctx)
	return s
}

// Events returns the payload channel. It is closed when the stream ends;
// check Err afterwards to distinguish a clean close from a failure.
func (s *EventStream) Events() <-chan string {
	return s.events
}

// Err returns the terminal error, if any, once Events is closed.
func (s *EventStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close tears the stream down. Safe to call multiple times and after the
// stream has already ended.
func (s *EventStream) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
	})
}

func (s *EventStream) run(ctx context.Context) {
	defer close(s.events)

	failures := 0
	delay := s.baseDelay
	for {
		err := s.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.setErr(err)
			failures++
			if failures >= s.maxFailures {
				return
			}
		} else {
			// Server closed the response cleanly; reconnect promptly and
			// forget earlier hiccups.
			s.setErr(nil)
			failures = 0
			delay = s.baseDelay
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

// consume holds one SSE connection open and forwards its data frames.
func (s *EventStream) consume(ctx context.Context) error {
	streamURL := s.client.serverURL + "/stream_iperf"
	if s.cid != "" {
		streamURL += "?cid=" + url.QueryEscape(s.cid)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	// The default client timeout would kill a healthy long-lived stream.
	httpClient := &http.Client{Transport: s.client.httpClient.Transport}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &streamStatusError{status: resp.StatusCode}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 16*1024), 256*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			// Comments, retry hints and frame separators.
			continue
		}
		payload := strings.TrimPrefix(line, "data:")
		payload = strings.TrimPrefix(payload, " ")

		select {
		case s.events <- payload:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return scanner.Err()
}

func (s *EventStream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

type streamStatusError struct {
	status int
}

func (e *streamStatusError) Error() string {
	return "event stream rejected: status " + http.StatusText(e.status)
}
