package netstat

import (
	"context"
	"strconv"
	"strings"

	"github.com/netpanel/linkpanel/pkg/types"
)

// linuxCounterKeys is the useful superset of ethtool -S counter names.
// Drivers expose different subsets; absent keys simply stay absent.
var linuxCounterKeys = map[string]bool{
	"rx_crc_errors":    true,
	"rx_fcs_errors":    true,
	"rx_errors":        true,
	"tx_errors":        true,
	"rx_dropped":       true,
	"tx_dropped":       true,
	"rx_missed_errors": true,
	"rx_length_errors": true,
	"rx_over_errors":   true,
	"rx_frame_errors":  true,
	"rx_fifo_errors":   true,
}

func (c *Collector) ethtoolLinkInfo(ctx context.Context, iface string) (types.LinkInfo, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.cmdTimeout)
	defer cancel()

	out, err := c.run(ctx, "ethtool", iface)
	if err != nil {
		return types.LinkInfo{OK: false, Error: out}, false
	}
	return parseEthtoolLink(out), true
}

func (c *Collector) ethtoolCounters(ctx context.Context, iface string) (types.CounterSnapshot, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.cmdTimeout)
	defer cancel()

	out, err := c.run(ctx, "ethtool", "-S", iface)
	if err != nil {
		return nil, false
	}
	counters := parseEthtoolStats(out)
	if len(counters) == 0 {
		return nil, false
	}
	return counters, true
}

// parseEthtoolLink extracts link fields from plain `ethtool <iface>` output.
func parseEthtoolLink(out string) types.LinkInfo {
	info := types.LinkInfo{OK: true}
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := splitField(line)
		if !ok {
			continue
		}
		switch key {
		case "Speed":
			info.Speed = value
		case "Duplex":
			info.Duplex = value
		case "Link detected":
			info.Link = value
		case "Auto-negotiation":
			info.Auto = value
		}
	}
	return info
}

// parseEthtoolStats extracts the useful counter subset from `ethtool -S`.
func parseEthtoolStats(out string) types.CounterSnapshot {
	counters := make(types.CounterSnapshot)
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := splitField(line)
		if !ok || !linuxCounterKeys[key] {
			continue
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		counters[key] = n
	}
	return counters
}

func splitField(line string) (key, value string, ok bool) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), true
}
