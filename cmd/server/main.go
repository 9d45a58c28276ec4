// Package server is the linkpanel server entrypoint: it wires the run hub,
// the stats collector, the HTTP surface and the run-history store.
package server

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/netpanel/linkpanel/internal/api"
	"github.com/netpanel/linkpanel/internal/config"
	"github.com/netpanel/linkpanel/internal/iperf"
	"github.com/netpanel/linkpanel/internal/logging"
	"github.com/netpanel/linkpanel/internal/netstat"
	"github.com/netpanel/linkpanel/internal/results"
	"github.com/netpanel/linkpanel/internal/stream"
	"github.com/netpanel/linkpanel/internal/wsstats"
	"github.com/netpanel/linkpanel/pkg/types"
)

func Run(args []string, version string) int {
	logging.Init(logging.ParseLevel(os.Getenv("LOG_LEVEL")))

	cfg := config.DefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		logging.Error("Failed to load config", logging.Field{Key: "error", Value: err})
		return 1
	}

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.StringVar(&cfg.Port, "port", cfg.Port, "HTTP listen port")
	fs.StringVar(&cfg.BindAddress, "bind", cfg.BindAddress, "HTTP bind address")
	fs.StringVar(&cfg.IperfPath, "iperf", cfg.IperfPath, "path to the iperf3 binary")
	fs.StringVar(&cfg.DefaultIface, "iface", cfg.DefaultIface, "default interface for stats")
	fs.StringVar(&cfg.DefaultTarget, "target", cfg.DefaultTarget, "default iperf3 target host")
	fs.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "directory for per-run logfiles")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for the run-history database")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if err := cfg.Validate(); err != nil {
		logging.Error("Invalid configuration", logging.Field{Key: "error", Value: err})
		return 1
	}

	pprofServer := startPprofServer(cfg)
	startRuntimeStatsLogger(cfg)

	collector := netstat.New(cfg.CmdTimeout)
	runner := iperf.NewRunner(cfg.IperfPath, cfg.LogDir)

	hub := stream.NewHub(runner, collector, cfg.EventQueueSize, cfg.RunRetention)
	hub.Start()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logging.Error("Failed to create data directory", logging.Field{Key: "error", Value: err})
		return 1
	}
	store, err := results.New(filepath.Join(cfg.DataDir, "runs.db"), cfg.MaxStoredResults)
	if err != nil {
		logging.Error("Failed to open run-history store", logging.Field{Key: "error", Value: err})
		return 1
	}
	hub.SetFinishedFunc(func(run *stream.Run, snapshot types.RunSnapshot) {
		record := results.RunRecord{
			ID:        snapshot.Config.CID,
			Target:    snapshot.Config.Target,
			Protocol:  string(snapshot.Config.Protocol),
			Direction: string(snapshot.Config.Direction),
			Streams:   snapshot.Config.Streams,
			Unit:      string(snapshot.Config.Unit),
			Avg:       snapshot.SampleAvg(),
			Max:       snapshot.SampleMax,
			P50:       run.Percentile(0.50),
			P95:       run.Percentile(0.95),
			Samples:   int(snapshot.Samples),
			Status:    string(snapshot.Status),
			Cmd:       snapshot.Cmd,
			StartedAt: snapshot.StartTime,
			EndedAt:   snapshot.EndTime,
		}
		if err := store.Save(record); err != nil {
			logging.Warn("run-history save failed",
				logging.Field{Key: "cid", Value: record.ID},
				logging.Field{Key: "error", Value: err})
		}
	})

	apiHandler := api.NewHandler(hub, collector)
	apiHandler.SetConfig(cfg)
	apiHandler.SetVersion(version)

	sseHandler := stream.NewSSEHandler(hub, cfg.HeartbeatInterval)

	wsServer := wsstats.NewServer(apiHandler.StatsReport, cfg.DefaultIface, cfg.StatsPushInterval)
	wsServer.SetAllowedOrigins(cfg.AllowedOrigins)
	wsServer.Start()

	router := api.NewRouter(apiHandler)
	router.SetRateLimiter(cfg)
	router.SetClientIPResolver(api.NewClientIPResolver(cfg))
	router.SetAllowedOrigins(cfg.AllowedOrigins)
	router.SetStreamHandler(sseHandler)
	router.SetStatsWSHandler(wsServer.HandleStats)
	router.SetResultsHandler(results.NewHandler(store))

	srv := &http.Server{
		Addr:              cfg.ListenAddress(),
		Handler:           router.SetupRoutes(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Server starting",
			logging.Field{Key: "address", Value: cfg.ListenAddress()},
			logging.Field{Key: "iperf", Value: cfg.IperfPath},
			logging.Field{Key: "version", Value: version})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	exitCode := 0
	select {
	case sig := <-quit:
		logging.Info("Shutting down server...", logging.Field{Key: "signal", Value: sig.String()})
	case err := <-errCh:
		logging.Error("Server failed", logging.Field{Key: "error", Value: err})
		fmt.Fprintf(os.Stderr, "server failed: %v\n", err)
		exitCode = 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.Error("Server shutdown error", logging.Field{Key: "error", Value: err})
	}

	shutdownPprofServer(pprofServer, 5*time.Second)

	wsServer.Close()
	hub.Stop()
	store.Close()

	logging.Info("Server stopped")
	return exitCode
}
