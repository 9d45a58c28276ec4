// Package netstat collects interface link state and error counters. On Linux
// the primary source is ethtool (the only place CRC/FCS counters are exposed);
// gopsutil provides enumeration and a cross-platform fallback.
package netstat

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	psnet "github.com/shirou/gopsutil/v3/net"

	"github.com/netpanel/linkpanel/pkg/types"
)

// CommandRunner executes an external command and returns its combined output.
// Injectable so tests can fake ethtool.
type CommandRunner func(ctx context.Context, name string, args ...string) (string, error)

type Collector struct {
	cmdTimeout time.Duration
	run        CommandRunner
	goos       string
}

func New(cmdTimeout time.Duration) *Collector {
	if cmdTimeout <= 0 {
		cmdTimeout = 6 * time.Second
	}
	return &Collector{
		cmdTimeout: cmdTimeout,
		run:        runCommand,
		goos:       runtime.GOOS,
	}
}

// SetCommandRunner overrides external command execution (tests).
func (c *Collector) SetCommandRunner(run CommandRunner) { c.run = run }

// SetGOOS overrides platform detection (tests).
func (c *Collector) SetGOOS(goos string) { c.goos = goos }

// Interfaces lists interface names, loopback excluded.
func (c *Collector) Interfaces() ([]string, error) {
	ifaces, err := psnet.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	names := make([]string, 0, len(ifaces))
	for _, iface := range ifaces {
		if iface.Name == "" || isLoopback(iface) {
			continue
		}
		names = append(names, iface.Name)
	}
	return names, nil
}

func isLoopback(iface psnet.InterfaceStat) bool {
	if iface.Name == "lo" {
		return true
	}
	for _, flag := range iface.Flags {
		if strings.EqualFold(flag, "loopback") {
			return true
		}
	}
	return false
}

// LinkInfo reports link state for one interface. Linux uses ethtool; other
// platforms fall back to the adapter up/down flag.
func (c *Collector) LinkInfo(ctx context.Context, iface string) types.LinkInfo {
	if iface == "" {
		return types.LinkInfo{OK: false, Error: "no iface"}
	}
	if c.goos == "linux" {
		if info, ok := c.ethtoolLinkInfo(ctx, iface); ok {
			return info
		}
	}
	return c.flagLinkInfo(iface)
}

func (c *Collector) flagLinkInfo(iface string) types.LinkInfo {
	ifaces, err := psnet.Interfaces()
	if err != nil {
		return types.LinkInfo{OK: false, Error: err.Error()}
	}
	for _, candidate := range ifaces {
		if candidate.Name != iface {
			continue
		}
		link := "no"
		for _, flag := range candidate.Flags {
			if strings.EqualFold(flag, "up") {
				link = "yes"
			}
		}
		return types.LinkInfo{OK: true, Link: link}
	}
	return types.LinkInfo{OK: false, Error: "interface not found: " + iface}
}

// Counters returns the current counter snapshot for one interface, using
// whichever counter family the platform exposes.
func (c *Collector) Counters(ctx context.Context, iface string) (types.CounterSnapshot, error) {
	if iface == "" {
		return nil, fmt.Errorf("no iface")
	}
	if c.goos == "linux" {
		if counters, ok := c.ethtoolCounters(ctx, iface); ok {
			return counters, nil
		}
	}
	return c.ioCounters(iface)
}

// ioCounters maps gopsutil per-NIC counters onto the platform's counter
// family names.
func (c *Collector) ioCounters(iface string) (types.CounterSnapshot, error) {
	stats, err := psnet.IOCounters(true)
	if err != nil {
		return nil, fmt.Errorf("io counters: %w", err)
	}
	for _, stat := range stats {
		if stat.Name != iface {
			continue
		}
		if c.goos == "windows" {
			return types.CounterSnapshot{
				"ReceivedErrors":    int64(stat.Errin),
				"OutboundErrors":    int64(stat.Errout),
				"ReceivedDiscarded": int64(stat.Dropin),
				"OutboundDiscarded": int64(stat.Dropout),
			}, nil
		}
		return types.CounterSnapshot{
			"rx_errors":  int64(stat.Errin),
			"tx_errors":  int64(stat.Errout),
			"rx_dropped": int64(stat.Dropin),
			"tx_dropped": int64(stat.Dropout),
		}, nil
	}
	return nil, fmt.Errorf("interface not found: %s", iface)
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), err
	}
	return strings.TrimSpace(string(out)), nil
}
