package client

import (
	"context"
	goerrors "errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/netpanel/linkpanel/internal/gauge"
	"github.com/netpanel/linkpanel/internal/session"
	"github.com/netpanel/linkpanel/internal/stats"
	api "github.com/netpanel/linkpanel/pkg/client"
	"github.com/netpanel/linkpanel/pkg/diagnostic"
	"github.com/netpanel/linkpanel/pkg/types"
)

// Run is the client entrypoint. It returns the process exit code.
func Run(args []string, version string) int {
	configFile, err := loadConfigFile()
	if err != nil {
		fmt.Fprintf(os.Stderr, "linkpanel client: warning: %v\n", err)
	}

	flagConfig, flagsSet, code, err := parseFlags(args, version)
	if err != nil {
		if goerrors.Is(err, flag.ErrHelp) {
			return exitSuccess
		}
		return code
	}

	config := mergeConfig(flagConfig, configFile, flagsSet)

	// Pipes get line-oriented output automatically.
	if !config.JSON && !config.Plain && !term.IsTerminal(int(os.Stdout.Fd())) {
		config.Plain = true
	}

	if err := validateConfig(config); err != nil {
		fmt.Fprintf(os.Stderr, "linkpanel client: error: %v\n", err)
		return exitUsage
	}

	unit := types.NormalizeUnit(config.Units)
	formatter := createFormatter(config, unit)
	panel := api.New(config.ServerURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case config.History > 0:
		return runHistory(ctx, panel, config, formatter)
	case config.Watch:
		return runWatch(ctx, panel, config, formatter)
	default:
		return runTest(ctx, panel, config, unit, formatter)
	}
}

func runTest(ctx context.Context, panel *api.Client, config *Config, unit types.Unit, formatter OutputFormatter) int {
	var renderer gauge.Renderer
	if r, ok := formatter.(gauge.Renderer); ok {
		renderer = r
	}
	g := gauge.New(gauge.DefaultOptions(), renderer)
	controller := session.NewController(panel, g, formatter, session.DefaultOptions())

	timeout := config.Timeout
	if timeout <= 0 {
		// The run itself plus connection setup, stream warmup and the
		// server-side teardown.
		timeout = config.Duration + 60
	}
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	summary, err := controller.Run(runCtx, api.RunOptions{
		Target:    config.Target,
		Port:      config.Port,
		Protocol:  config.Protocol,
		Direction: config.Direction,
		Streams:   config.Streams,
		Duration:  config.Duration,
		Bandwidth: config.Bandwidth,
		Unit:      string(unit),
		Iface:     config.Iface,
	})

	if ctx.Err() != nil {
		// Interrupted: tell the server to tear the run down before leaving.
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 3*time.Second)
		panel.StopRun(stopCtx)
		stopCancel()
		formatter.FormatSummary(summary, nil)
		return exitInterrupt
	}

	interp := interpretRun(panel, config, unit, summary)
	formatter.FormatSummary(summary, interp)

	if err != nil {
		return exitFailure
	}
	if summary.Phase != session.PhaseComplete {
		return exitFailure
	}
	return exitSuccess
}

// interpretRun grades a completed run. Link-layer context comes from a final
// stats fetch; when that fails the grade falls back to throughput alone.
func interpretRun(panel *api.Client, config *Config, unit types.Unit, summary *session.Summary) *diagnostic.Interpretation {
	if summary == nil || summary.Phase != session.PhaseComplete || summary.Samples == 0 {
		return nil
	}

	toMbps := unit.BitsPerSecond() / 1e6
	params := diagnostic.Params{
		AvgMbps: summary.Avg * toMbps,
		MaxMbps: summary.Max * toMbps,
		LinkUp:  true,
		Samples: summary.Samples,
	}

	statsCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if resp, err := panel.Stats(statsCtx, config.Iface); err == nil {
		params.LinkUp = resp.Summary.Verdict != stats.VerdictBadLink
		params.Errors = resp.Summary.Errors
		params.Drops = resp.Summary.Drops
		params.CRC = resp.Summary.CRC
		params.CRCSeen = resp.Summary.CRCSeen
		params.LinkSpeedMbps = resp.Link.SpeedMbps()
	}

	return diagnostic.Interpret(params)
}

// panelSource adapts the SDK to the stats poller.
type panelSource struct {
	panel *api.Client
}

func (s panelSource) Stats(ctx context.Context, iface string) (*types.StatsReport, error) {
	resp, err := s.panel.Stats(ctx, iface)
	if err != nil {
		return nil, err
	}
	return &types.StatsReport{
		Iface:     resp.Iface,
		Running:   resp.Running,
		Unit:      types.Unit(resp.Unit),
		Streams:   resp.Streams,
		StartedAt: resp.StartedAt,
		Link:      resp.Link,
		Counters:  resp.Counters,
		Delta:     resp.Delta,
	}, nil
}

func runWatch(ctx context.Context, panel *api.Client, config *Config, formatter OutputFormatter) int {
	sink := func(report *types.StatsReport, summary stats.Report) {
		formatter.FormatStats(&api.StatsResponse{
			Iface:     report.Iface,
			Running:   report.Running,
			Unit:      string(report.Unit),
			Streams:   report.Streams,
			StartedAt: report.StartedAt,
			Link:      report.Link,
			Counters:  report.Counters,
			Delta:     report.Delta,
			Summary: api.StatsSummary{
				Link:    summary.Link,
				Errors:  summary.Errors,
				Drops:   summary.Drops,
				CRC:     summary.CRC,
				CRCSeen: summary.CRCSeen,
				Verdict: summary.Verdict,
			},
		})
	}

	poller := stats.NewPoller(panelSource{panel}, config.Iface, time.Duration(config.Interval)*time.Second, sink)
	poller.Run(ctx)

	if f, ok := formatter.(*InteractiveFormatter); ok {
		f.endBar()
	}
	return exitSuccess
}

func runHistory(ctx context.Context, panel *api.Client, config *Config, formatter OutputFormatter) int {
	runs, err := panel.Recent(ctx, config.History)
	if err != nil {
		formatter.FormatError(err)
		return exitFailure
	}
	formatter.FormatHistory(runs)
	return exitSuccess
}
