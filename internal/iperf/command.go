// Package iperf spawns and supervises the external iperf3 process and turns
// its --json-stream output into the panel's line-oriented event protocol.
package iperf

import (
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/netpanel/linkpanel/pkg/types"
)

// BuildArgs assembles the iperf3 argument list for one run. --json-stream
// gives one JSON object per line; --forceflush keeps output unbuffered so
// interval events arrive as they happen.
func BuildArgs(cfg types.RunConfig) []string {
	duration := cfg.DurationSec
	if duration <= 0 {
		duration = 10
	}
	interval := cfg.IntervalSec
	if interval <= 0 {
		interval = 1
	}
	connectTimeout := cfg.ConnectTimeoutMS
	if connectTimeout <= 0 {
		connectTimeout = 3000
	}

	args := []string{
		"-c", cfg.Target,
		"-p", strconv.Itoa(cfg.Port),
		"-P", strconv.Itoa(cfg.Streams),
		"-i", strconv.Itoa(interval),
		"-t", strconv.Itoa(duration),
		"--json-stream",
		"--forceflush",
		"--connect-timeout", strconv.Itoa(connectTimeout),
	}

	if cfg.Protocol == types.ProtocolUDP {
		bandwidth := cfg.Bandwidth
		if bandwidth == "" {
			bandwidth = "0"
		}
		args = append(args, "-u", "-b", bandwidth)
	}
	if cfg.Direction == types.DirectionDownload {
		// Reversed roles: the remote end sends.
		args = append(args, "-R")
	}
	return args
}

// CommandString renders the invocation for display and logging.
func CommandString(path string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, shellQuote(path))
	for _, arg := range args {
		parts = append(parts, shellQuote(arg))
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, needsQuoting) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func needsQuoting(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	switch r {
	case '-', '_', '.', '/', ':', '=', '@', '+', ',':
		return false
	}
	return true
}

// Version returns the first line of `iperf3 -v` output.
func Version(ctx context.Context, path string) (string, error) {
	out, err := exec.CommandContext(ctx, path, "-v").CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil && text == "" {
		return "", err
	}
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	if text == "" {
		text = "unknown"
	}
	return text, nil
}
