// Package client provides a Go SDK for the linkpanel server. Agents and
// applications can import this package instead of shelling out to the CLI.
//
// Usage:
//
//	c := client.New("http://panel.example.com:5000")
//	resp, err := c.StartRun(ctx, client.RunOptions{Target: "10.0.0.2"})
//	stream := c.OpenStream(ctx, resp.CID)
//	for line := range stream.Events() { ... }
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/netpanel/linkpanel/pkg/types"
)

// Client targets a single linkpanel server.
type Client struct {
	serverURL  string
	httpClient *http.Client
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a new client targeting the given server URL.
func New(serverURL string, opts ...Option) *Client {
	c := &Client{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunOptions configures a bandwidth test run.
type RunOptions struct {
	CID       string `json:"cid,omitempty"`
	Target    string `json:"target"`
	Port      int    `json:"port,omitempty"`
	Protocol  string `json:"protocol,omitempty"`
	Direction string `json:"mode,omitempty"`
	Streams   int    `json:"streams,omitempty"`
	Duration  int    `json:"duration,omitempty"`
	Bandwidth string `json:"bandwidth,omitempty"`
	Unit      string `json:"units,omitempty"`
	Iface     string `json:"iface,omitempty"`
}

// StartRunResponse mirrors the server's POST /run_iperf reply.
type StartRunResponse struct {
	Status  string `json:"status"`
	CID     string `json:"cid"`
	Cmd     string `json:"cmd"`
	Logfile string `json:"logfile"`
}

// StatsSummary is the server's health verdict for an interface.
type StatsSummary struct {
	Link    string `json:"link"`
	Errors  int64  `json:"errors"`
	Drops   int64  `json:"drops"`
	CRC     int64  `json:"crc"`
	CRCSeen bool   `json:"crc_seen"`
	Verdict string `json:"verdict"`
}

// StatsResponse mirrors GET /api/stats.
type StatsResponse struct {
	Iface     string                `json:"iface"`
	Running   bool                  `json:"running"`
	Unit      string                `json:"unit,omitempty"`
	Streams   int                   `json:"streams,omitempty"`
	StartedAt float64               `json:"started_at"`
	Link      types.LinkInfo        `json:"link"`
	Counters  types.CounterSnapshot `json:"counters"`
	Delta     types.CounterSnapshot `json:"delta,omitempty"`
	Summary   StatsSummary          `json:"summary"`
}

// RunRecord mirrors a stored run from GET /api/results.
type RunRecord struct {
	ID        string    `json:"id"`
	Target    string    `json:"target"`
	Protocol  string    `json:"protocol"`
	Direction string    `json:"mode"`
	Streams   int       `json:"streams"`
	Unit      string    `json:"units"`
	Avg       float64   `json:"avg"`
	Max       float64   `json:"max"`
	P50       float64   `json:"p50"`
	P95       float64   `json:"p95"`
	Samples   int       `json:"samples"`
	Status    string    `json:"status"`
	Cmd       string    `json:"cmd"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// StartRun starts a bandwidth test on the server.
func (c *Client) StartRun(ctx context.Context, opts RunOptions) (*StartRunResponse, error) {
	if strings.TrimSpace(opts.Target) == "" {
		return nil, fmt.Errorf("target is required")
	}
	var resp StartRunResponse
	if err := c.postJSON(ctx, "/run_iperf", opts, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StopRun stops the active run, if any.
func (c *Client) StopRun(ctx context.Context) error {
	return c.postJSON(ctx, "/stop_iperf", struct{}{}, nil)
}

// Interfaces lists the server's non-loopback network interfaces.
func (c *Client) Interfaces(ctx context.Context) ([]string, error) {
	var resp struct {
		Interfaces []string `json:"interfaces"`
	}
	if err := c.getJSON(ctx, "/api/interfaces", &resp); err != nil {
		return nil, err
	}
	return resp.Interfaces, nil
}

// Stats fetches link state and counters for one interface.
func (c *Client) Stats(ctx context.Context, iface string) (*StatsResponse, error) {
	path := "/api/stats"
	if iface != "" {
		path += "?iface=" + url.QueryEscape(iface)
	}
	var resp StatsResponse
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// IperfVersion returns the server-side iperf3 version line.
func (c *Client) IperfVersion(ctx context.Context) (string, error) {
	var resp struct {
		Version string `json:"version"`
	}
	if err := c.getJSON(ctx, "/iperf_version", &resp); err != nil {
		return "", err
	}
	return resp.Version, nil
}

// Version returns the server build version.
func (c *Client) Version(ctx context.Context) (string, error) {
	var resp struct {
		Version string `json:"version"`
	}
	if err := c.getJSON(ctx, "/api/version", &resp); err != nil {
		return "", err
	}
	return resp.Version, nil
}

// Result fetches one stored run by id.
func (c *Client) Result(ctx context.Context, id string) (*RunRecord, error) {
	var record RunRecord
	if err := c.getJSON(ctx, "/api/results/"+url.PathEscape(id), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Recent fetches stored runs, newest first.
func (c *Client) Recent(ctx context.Context, limit int) ([]RunRecord, error) {
	path := "/api/results"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Runs []RunRecord `json:"runs"`
	}
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// Healthy returns nil if the server is reachable and healthy.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// --- Internal helpers ---

func (c *Client) getJSON(ctx context.Context, path string, dst interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+path, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, dst)
}

func (c *Client) postJSON(ctx context.Context, path string, payload, dst interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doJSON(req, dst)
}

func (c *Client) doJSON(req *http.Request, dst interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s", req.Method, req.URL.Path, apiErr.Error)
		}
		return fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}

	if dst == nil {
		return nil
	}
	return json.Unmarshal(data, dst)
}
