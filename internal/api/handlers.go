// Package api exposes the panel's HTTP surface: interface stats, run
// start/stop, the SSE relay route and run history.
package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/netpanel/linkpanel/internal/config"
	"github.com/netpanel/linkpanel/internal/iperf"
	"github.com/netpanel/linkpanel/internal/logging"
	"github.com/netpanel/linkpanel/internal/netstat"
	"github.com/netpanel/linkpanel/internal/stats"
	"github.com/netpanel/linkpanel/internal/stream"
	"github.com/netpanel/linkpanel/pkg/errors"
	"github.com/netpanel/linkpanel/pkg/types"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	hub              *stream.Hub
	collector        *netstat.Collector
	config           *config.Config
	clientIPResolver *ClientIPResolver
	version          string
}

func NewHandler(hub *stream.Hub, collector *netstat.Collector) *Handler {
	return &Handler{
		hub:       hub,
		collector: collector,
	}
}

func (h *Handler) SetConfig(cfg *config.Config) {
	h.config = cfg
	h.clientIPResolver = NewClientIPResolver(cfg)
}

func (h *Handler) SetVersion(version string) {
	if version == "" {
		version = "dev"
	}
	h.version = version
}

type VersionResponse struct {
	Version string `json:"version"`
}

type InterfacesResponse struct {
	Interfaces []string `json:"interfaces"`
}

type StartRunResponse struct {
	Status  string `json:"status"`
	CID     string `json:"cid"`
	Cmd     string `json:"cmd"`
	Logfile string `json:"logfile"`
}

// GetInterfaces serves GET /api/interfaces.
func (h *Handler) GetInterfaces(w http.ResponseWriter, r *http.Request) {
	names, err := h.collector.Interfaces()
	if err != nil {
		logging.Warn("interface listing failed", logging.Field{Key: "error", Value: err})
		respondJSON(w, map[string]string{"error": "interface listing failed"}, http.StatusInternalServerError)
		return
	}
	respondJSON(w, InterfacesResponse{Interfaces: names}, http.StatusOK)
}

type statsResponse struct {
	*types.StatsReport
	Summary stats.Report `json:"summary"`
}

// GetStats serves GET /api/stats. The iface query parameter selects the
// interface; the configured default applies when absent.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	iface := r.URL.Query().Get("iface")
	if iface == "" && h.config != nil {
		iface = h.config.DefaultIface
	}
	if iface == "" {
		respondJSON(w, map[string]string{"error": "iface required"}, http.StatusBadRequest)
		return
	}

	report, err := h.StatsReport(r.Context(), iface)
	if err != nil {
		respondError(w, err, http.StatusInternalServerError)
		return
	}

	respondJSON(w, statsResponse{
		StatsReport: report,
		Summary:     stats.Summarize(report.Link, report.Delta),
	}, http.StatusOK)
}

// StatsReport assembles the current stats for one interface: link state,
// raw counters and the delta against the active run's baseline. Also wired
// as the WebSocket push provider.
func (h *Handler) StatsReport(ctx context.Context, iface string) (*types.StatsReport, error) {
	link := h.collector.LinkInfo(ctx, iface)

	counters, err := h.collector.Counters(ctx, iface)
	if err != nil {
		return nil, err
	}

	report := &types.StatsReport{
		Iface:    iface,
		Link:     link,
		Counters: counters,
	}

	if run := h.hub.ActiveRun(); run != nil {
		snapshot := run.State.Snapshot()
		if snapshot.Config.Iface == iface {
			report.Running = snapshot.Status == types.RunStatusRunning || snapshot.Status == types.RunStatusStarting
			report.Unit = snapshot.Config.Unit
			report.Streams = snapshot.Config.Streams
			report.StartedAt = float64(snapshot.StartTime.UnixNano()) / 1e9
			report.Delta = counters.Delta(run.Baseline())
		}
	}
	return report, nil
}

// StartRun serves POST /run_iperf.
func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	if !isJSONContentType(r) {
		respondJSON(w, map[string]string{"error": "Content-Type must be application/json"}, http.StatusUnsupportedMediaType)
		return
	}

	var req types.RunConfig
	if err := decodeJSONBody(w, r, &req, maxJSONBodyBytes); err != nil {
		respondJSONBodyError(w, err)
		return
	}

	cfg, err := h.validateRunConfig(req)
	if err != nil {
		respondError(w, err, http.StatusBadRequest)
		return
	}

	run, err := h.hub.StartRun(cfg)
	if err != nil {
		var runErr *errors.RunError
		if stdErrors.As(err, &runErr) && runErr.Code == errors.ErrCodeRunActive {
			respondError(w, err, http.StatusConflict)
			return
		}
		respondError(w, err, http.StatusInternalServerError)
		return
	}

	snapshot := run.State.Snapshot()
	respondJSON(w, StartRunResponse{
		Status:  "iperf3 started",
		CID:     snapshot.Config.CID,
		Cmd:     snapshot.Cmd,
		Logfile: snapshot.Logfile,
	}, http.StatusOK)
}

// StopRun serves POST /stop_iperf.
func (h *Handler) StopRun(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		io.Copy(io.Discard, r.Body)
		r.Body.Close()
	}
	h.hub.StopActive()
	respondJSON(w, map[string]string{"status": "stopped"}, http.StatusOK)
}

// GetRunStatus serves GET /api/run/{cid}.
func (h *Handler) GetRunStatus(w http.ResponseWriter, r *http.Request, cid string) {
	run, err := h.hub.GetRun(cid)
	if err != nil {
		respondError(w, err, http.StatusNotFound)
		return
	}
	snapshot := run.State.Snapshot()
	respondJSON(w, map[string]interface{}{
		"cid":     snapshot.Config.CID,
		"status":  string(snapshot.Status),
		"samples": snapshot.Samples,
		"avg":     snapshot.SampleAvg(),
		"max":     snapshot.SampleMax,
		"cmd":     snapshot.Cmd,
		"logfile": snapshot.Logfile,
	}, http.StatusOK)
}

// GetIperfVersion serves GET /iperf_version.
func (h *Handler) GetIperfVersion(w http.ResponseWriter, r *http.Request) {
	path := "iperf3"
	timeout := 6 * time.Second
	if h.config != nil {
		path = h.config.IperfPath
		if h.config.CmdTimeout > 0 {
			timeout = h.config.CmdTimeout
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	version, err := iperf.Version(ctx, path)
	if err != nil {
		respondJSON(w, map[string]string{"error": "iperf3 not available: " + err.Error()}, http.StatusServiceUnavailable)
		return
	}
	respondJSON(w, map[string]string{"version": version}, http.StatusOK)
}

// GetVersion serves GET /api/version.
func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	version := h.version
	if version == "" {
		version = "dev"
	}
	respondJSON(w, VersionResponse{Version: version}, http.StatusOK)
}

func (h *Handler) validateRunConfig(req types.RunConfig) (types.RunConfig, error) {
	if strings.TrimSpace(req.Target) == "" {
		return types.RunConfig{}, errors.ErrInvalidConfig("target is required", nil)
	}

	switch req.Protocol {
	case "":
		req.Protocol = types.ProtocolTCP
	case types.ProtocolTCP, types.ProtocolUDP:
	default:
		return types.RunConfig{}, errors.ErrInvalidConfig("protocol must be 'tcp' or 'udp'", nil)
	}

	switch req.Direction {
	case "":
		req.Direction = types.DirectionUpload
	case types.DirectionUpload, types.DirectionDownload:
	default:
		return types.RunConfig{}, errors.ErrInvalidConfig("mode must be 'upload' or 'download'", nil)
	}

	req.Unit = types.NormalizeUnit(string(req.Unit))

	maxStreams := 32
	if h.config != nil && h.config.MaxStreams > 0 {
		maxStreams = h.config.MaxStreams
	}
	if req.Streams == 0 {
		req.Streams = 1
	}
	if req.Streams < 1 || req.Streams > maxStreams {
		return types.RunConfig{}, errors.ErrInvalidConfig(
			fmt.Sprintf("streams must be 1-%d", maxStreams), nil)
	}

	maxDurationSec := 300
	if h.config != nil && h.config.MaxTestDuration > 0 {
		maxDurationSec = int(h.config.MaxTestDuration.Seconds())
	}
	if req.DurationSec == 0 {
		req.DurationSec = 10
	}
	if req.DurationSec < 1 || req.DurationSec > maxDurationSec {
		return types.RunConfig{}, errors.ErrInvalidConfig(
			fmt.Sprintf("duration must be 1-%d seconds", maxDurationSec), nil)
	}

	if req.Port == 0 && h.config != nil {
		req.Port = h.config.IperfPort
	}
	if req.Port < 1 || req.Port > 65535 {
		return types.RunConfig{}, errors.ErrInvalidConfig("port must be 1-65535", nil)
	}

	if req.ConnectTimeoutMS == 0 && h.config != nil {
		req.ConnectTimeoutMS = h.config.ConnectTimeoutMS
	}
	if req.Iface == "" && h.config != nil {
		req.Iface = h.config.DefaultIface
	}
	return req, nil
}

func (h *Handler) resolveClientIP(r *http.Request) string {
	if h.clientIPResolver == nil {
		return ipString(parseRemoteIP(r.RemoteAddr))
	}
	return h.clientIPResolver.FromRequest(r)
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}, limit int64) error {
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dst); err != nil {
		io.Copy(io.Discard, r.Body)
		return err
	}
	if err := decoder.Decode(&struct{}{}); !stdErrors.Is(err, io.EOF) {
		io.Copy(io.Discard, r.Body)
		return stdErrors.New("request body must contain a single JSON object")
	}
	return nil
}

func isJSONContentType(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return ct == "" || strings.HasPrefix(ct, "application/json")
}

func respondJSONBodyError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	if stdErrors.As(err, &maxErr) {
		respondJSON(w, map[string]string{"error": "request body too large"}, http.StatusRequestEntityTooLarge)
		return
	}
	respondJSON(w, map[string]string{"error": "invalid request body"}, http.StatusBadRequest)
}

func respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Warn("JSON response encode failed",
			logging.Field{Key: "error", Value: err})
	}
}

func respondError(w http.ResponseWriter, err error, statusCode int) {
	var msg string
	var runErr *errors.RunError
	if stdErrors.As(err, &runErr) {
		msg = runErr.Message
	} else {
		msg = err.Error()
	}
	respondJSON(w, map[string]string{
		"error": msg,
	}, statusCode)
}
