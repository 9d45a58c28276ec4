// Package check implements the `linkpanel check` subcommand: a quick
// preflight that verifies the panel server, its iperf3 binary and the
// monitored interface are all ready for a test.
package check

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"time"

	api "github.com/netpanel/linkpanel/pkg/client"
)

const (
	exitSuccess = 0
	exitFailure = 1
	exitUsage   = 2
)

const (
	minTimeoutSeconds = 1
	maxTimeoutSeconds = 60
)

// CheckItem is one preflight probe.
type CheckItem struct {
	Name   string `json:"name"`
	Status string `json:"status"` // ok | failed | warn
	Detail string `json:"detail,omitempty"`
}

// CheckResult is the structured output of linkpanel check.
type CheckResult struct {
	SchemaVersion string      `json:"schema_version"`
	Status        string      `json:"status"` // ok | degraded
	ServerURL     string      `json:"server_url"`
	ServerVersion string      `json:"server_version,omitempty"`
	IperfVersion  string      `json:"iperf_version,omitempty"`
	Interfaces    []string    `json:"interfaces"`
	Checks        []CheckItem `json:"checks"`
	DurationMs    int64       `json:"duration_ms"`
}

func Run(args []string, version string) int {
	flagSet := flag.NewFlagSet("linkpanel check", flag.ContinueOnError)
	flagSet.SetOutput(os.Stdout)

	var (
		serverURL string
		iface     string
		jsonOut   bool
		timeout   int
	)
	flagSet.StringVar(&serverURL, "server-url", "http://localhost:5000", "Server URL")
	flagSet.StringVar(&serverURL, "S", "http://localhost:5000", "Server URL (short)")
	flagSet.StringVar(&iface, "iface", "", "Interface to probe")
	flagSet.BoolVar(&jsonOut, "json", false, "Output as JSON")
	flagSet.IntVar(&timeout, "timeout", 10, "Overall timeout in seconds")
	help := flagSet.Bool("help", false, "Show help")
	flagSet.BoolVar(help, "h", false, "Show help (short)")

	if err := flagSet.Parse(args); err != nil {
		return exitUsage
	}

	if *help {
		printUsage()
		return exitSuccess
	}

	if timeout < minTimeoutSeconds || timeout > maxTimeoutSeconds {
		fmt.Fprintf(os.Stderr, "linkpanel check: timeout must be between %d and %d seconds\n", minTimeoutSeconds, maxTimeoutSeconds)
		return exitUsage
	}

	// Positional arg = server URL
	rest := flagSet.Args()
	if len(rest) > 1 {
		fmt.Fprintln(os.Stderr, "linkpanel check: too many positional arguments")
		return exitUsage
	}
	if len(rest) > 0 {
		arg := rest[0]
		if !isValidServerURL(arg) {
			fmt.Fprintf(os.Stderr, "linkpanel check: invalid server URL: %q\n", arg)
			return exitUsage
		}
		serverURL = arg
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()

	start := time.Now()
	result := runCheck(ctx, serverURL, iface)
	result.DurationMs = time.Since(start).Milliseconds()

	if jsonOut {
		if err := json.NewEncoder(os.Stdout).Encode(result); err != nil {
			fmt.Fprintf(os.Stderr, "linkpanel check: json encode error: %v\n", err)
			return exitFailure
		}
	} else {
		printHuman(result)
	}

	if result.Status != "ok" {
		return exitFailure
	}
	return exitSuccess
}

func runCheck(ctx context.Context, serverURL, iface string) *CheckResult {
	result := &CheckResult{
		SchemaVersion: "1.0",
		Status:        "ok",
		ServerURL:     serverURL,
		Interfaces:    []string{},
	}
	panel := api.New(serverURL)

	add := func(item CheckItem) {
		result.Checks = append(result.Checks, item)
		if item.Status == "failed" {
			result.Status = "degraded"
		}
	}

	if err := panel.Healthy(ctx); err != nil {
		add(CheckItem{Name: "server", Status: "failed", Detail: err.Error()})
		// Nothing else is reachable without the server.
		return result
	}
	add(CheckItem{Name: "server", Status: "ok"})

	if v, err := panel.Version(ctx); err == nil {
		result.ServerVersion = v
	}

	if v, err := panel.IperfVersion(ctx); err != nil {
		add(CheckItem{Name: "iperf3", Status: "failed", Detail: err.Error()})
	} else {
		result.IperfVersion = v
		add(CheckItem{Name: "iperf3", Status: "ok", Detail: v})
	}

	if ifaces, err := panel.Interfaces(ctx); err != nil {
		add(CheckItem{Name: "interfaces", Status: "failed", Detail: err.Error()})
	} else if len(ifaces) == 0 {
		add(CheckItem{Name: "interfaces", Status: "failed", Detail: "no usable interfaces"})
	} else {
		result.Interfaces = ifaces
		add(CheckItem{Name: "interfaces", Status: "ok", Detail: fmt.Sprintf("%d found", len(ifaces))})
	}

	if stats, err := panel.Stats(ctx, iface); err != nil {
		add(CheckItem{Name: "link", Status: "warn", Detail: err.Error()})
	} else {
		status := "ok"
		if stats.Summary.Verdict != "ok" {
			status = "warn"
		}
		add(CheckItem{
			Name:   "link",
			Status: status,
			Detail: fmt.Sprintf("%s: %s (%s)", stats.Iface, stats.Summary.Link, stats.Summary.Verdict),
		})
	}

	return result
}

func printHuman(r *CheckResult) {
	fmt.Printf("Server: %s", r.ServerURL)
	if r.ServerVersion != "" {
		fmt.Printf(" (version %s)", r.ServerVersion)
	}
	fmt.Println()
	for _, item := range r.Checks {
		mark := "ok"
		switch item.Status {
		case "failed":
			mark = "FAIL"
		case "warn":
			mark = "warn"
		}
		if item.Detail != "" {
			fmt.Printf("  [%s] %-10s %s\n", mark, item.Name, item.Detail)
		} else {
			fmt.Printf("  [%s] %s\n", mark, item.Name)
		}
	}
	fmt.Printf("Status: %s (%dms)\n", r.Status, r.DurationMs)
}

func printUsage() {
	fmt.Fprintf(os.Stdout, `Usage: linkpanel check [flags] [server-url]

Preflight check: verifies the panel server, its iperf3 binary and the
monitored interface are ready for a bandwidth test.

Flags:
  -h, --help              Show help
  -S, --server-url string Server URL (default: http://localhost:5000)
  --iface string          Interface to probe (default: server default)
  --json                  Output as JSON
  --timeout int           Overall timeout in seconds (default: 10)

Exit codes:
  0   Ready
  1   Degraded or unreachable

Examples:
  linkpanel check                          # Check the local panel
  linkpanel check http://panel.lan:5000    # Check a remote panel
  linkpanel check --json                   # JSON output for agents
`)
}

func isValidServerURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u == nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}
