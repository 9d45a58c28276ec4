// Package mcp implements the `linkpanel mcp` subcommand, an MCP (Model
// Context Protocol) server over stdio transport. Agents can spawn this
// process and drive bandwidth tests through a panel server directly.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/netpanel/linkpanel/internal/gauge"
	"github.com/netpanel/linkpanel/internal/session"
	api "github.com/netpanel/linkpanel/pkg/client"
	"github.com/netpanel/linkpanel/pkg/diagnostic"
	"github.com/netpanel/linkpanel/pkg/types"
)

const defaultServerURL = "http://localhost:5000"

// Run starts the MCP stdio server. Blocks until stdin closes or signal received.
func Run(version string) int {
	s := server.NewMCPServer(
		"linkpanel",
		version,
		server.WithToolCapabilities(true),
	)

	runTool := mcp.NewTool("run_bandwidth_test",
		mcp.WithDescription("Run an iperf3 bandwidth test through a linkpanel server against a target host. Returns average/peak throughput, sample count, and a diagnostic grade (A-F). Takes roughly the test duration plus a few seconds."),
		mcp.WithString("server_url",
			mcp.Description("Panel server URL (default: http://localhost:5000)"),
		),
		mcp.WithString("target",
			mcp.Required(),
			mcp.Description("iperf3 server host to test against"),
		),
		mcp.WithString("protocol",
			mcp.Description("tcp or udp (default: tcp)"),
		),
		mcp.WithString("direction",
			mcp.Description("upload or download (default: upload)"),
		),
		mcp.WithNumber("duration",
			mcp.Description("Test duration in seconds, 1-60 (default: 10)"),
		),
		mcp.WithNumber("streams",
			mcp.Description("Parallel streams, 1-32 (default: 1)"),
		),
		mcp.WithString("units",
			mcp.Description("Display units: Kbits, Mbits or Gbits (default: Mbits)"),
		),
		mcp.WithString("iface",
			mcp.Description("Interface to sample counters from (default: server default)"),
		),
	)
	s.AddTool(runTool, handleRunBandwidthTest)

	ifacesTool := mcp.NewTool("list_interfaces",
		mcp.WithDescription("List the panel server's non-loopback network interfaces."),
		mcp.WithString("server_url",
			mcp.Description("Panel server URL (default: http://localhost:5000)"),
		),
	)
	s.AddTool(ifacesTool, handleListInterfaces)

	statsTool := mcp.NewTool("interface_stats",
		mcp.WithDescription("Fetch link state and error/drop/CRC counters for one interface on the panel server, with a health verdict."),
		mcp.WithString("server_url",
			mcp.Description("Panel server URL (default: http://localhost:5000)"),
		),
		mcp.WithString("iface",
			mcp.Description("Interface name (default: server default)"),
		),
	)
	s.AddTool(statsTool, handleInterfaceStats)

	recentTool := mcp.NewTool("recent_runs",
		mcp.WithDescription("Fetch the most recent stored bandwidth test runs from the panel server, newest first."),
		mcp.WithString("server_url",
			mcp.Description("Panel server URL (default: http://localhost:5000)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of runs to return (default: 10)"),
		),
	)
	s.AddTool(recentTool, handleRecentRuns)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "linkpanel mcp: error: %v\n", err)
		return 1
	}
	return 0
}

// --- Tool Handlers ---

type testResult struct {
	CID        string                     `json:"cid"`
	Phase      string                     `json:"phase"`
	Avg        float64                    `json:"avg"`
	Max        float64                    `json:"max"`
	Samples    int                        `json:"samples"`
	Units      string                     `json:"units"`
	Error      string                     `json:"error,omitempty"`
	Diagnostic *diagnostic.Interpretation `json:"diagnostic,omitempty"`
}

func handleRunBandwidthTest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	serverURL := req.GetString("server_url", defaultServerURL)
	target := req.GetString("target", "")
	protocol := req.GetString("protocol", "tcp")
	direction := req.GetString("direction", "upload")
	duration := req.GetInt("duration", 10)
	streams := req.GetInt("streams", 1)
	units := req.GetString("units", "Mbits")
	iface := req.GetString("iface", "")

	if target == "" {
		return mcp.NewToolResultError("target is required"), nil
	}
	if duration < 1 {
		duration = 1
	}
	if duration > 60 {
		duration = 60
	}
	if streams < 1 {
		streams = 1
	}
	if streams > 32 {
		streams = 32
	}
	if protocol != "tcp" && protocol != "udp" {
		protocol = "tcp"
	}
	if direction != "upload" && direction != "download" {
		direction = "upload"
	}
	unit := types.NormalizeUnit(units)

	testCtx, cancel := context.WithTimeout(ctx, time.Duration(duration+60)*time.Second)
	defer cancel()

	panel := api.New(serverURL)
	controller := session.NewController(panel,
		gauge.New(gauge.DefaultOptions(), nil), nil, session.DefaultOptions())

	summary, err := controller.Run(testCtx, api.RunOptions{
		Target:    target,
		Protocol:  protocol,
		Direction: direction,
		Duration:  duration,
		Streams:   streams,
		Unit:      string(unit),
		Iface:     iface,
	})
	if summary == nil {
		return mcp.NewToolResultError(fmt.Sprintf("Bandwidth test failed: %v", err)), nil
	}

	result := testResult{
		CID:     summary.CID,
		Phase:   string(summary.Phase),
		Avg:     summary.Avg,
		Max:     summary.Max,
		Samples: summary.Samples,
		Units:   string(unit),
	}
	if summary.Err != nil {
		result.Error = summary.Err.Error()
	}
	if summary.Phase == session.PhaseComplete && summary.Samples > 0 {
		toMbps := unit.BitsPerSecond() / 1e6
		result.Diagnostic = diagnostic.Interpret(diagnostic.Params{
			AvgMbps: summary.Avg * toMbps,
			MaxMbps: summary.Max * toMbps,
			LinkUp:  true,
			Samples: summary.Samples,
		})
	}
	return marshalResult(result)
}

func handleListInterfaces(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	serverURL := req.GetString("server_url", defaultServerURL)

	listCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	ifaces, err := api.New(serverURL).Interfaces(listCtx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Interface listing failed: %v", err)), nil
	}
	return marshalResult(map[string][]string{"interfaces": ifaces})
}

func handleInterfaceStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	serverURL := req.GetString("server_url", defaultServerURL)
	iface := req.GetString("iface", "")

	statsCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	stats, err := api.New(serverURL).Stats(statsCtx, iface)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Stats fetch failed: %v", err)), nil
	}
	return marshalResult(stats)
}

func handleRecentRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	serverURL := req.GetString("server_url", defaultServerURL)
	limit := req.GetInt("limit", 10)

	listCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	runs, err := api.New(serverURL).Recent(listCtx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("History fetch failed: %v", err)), nil
	}
	return marshalResult(map[string]interface{}{"runs": runs, "count": len(runs)})
}

func marshalResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("JSON encoding failed: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
