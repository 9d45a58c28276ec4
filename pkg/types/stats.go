package types

import (
	"strconv"
	"strings"
)

// LinkInfo is the normalized link-layer state of one interface, as reported
// by ethtool on Linux or the adapter flags elsewhere.
type LinkInfo struct {
	OK     bool   `json:"ok"`
	Link   string `json:"link"`
	Speed  string `json:"speed"`
	Duplex string `json:"duplex"`
	Auto   string `json:"auto,omitempty"`
	Error  string `json:"error,omitempty"`
}

// SpeedMbps parses the negotiated link speed into Mbps. Returns 0 when the
// speed is unknown or unparseable (ethtool reports "Unknown!" on some NICs).
func (l LinkInfo) SpeedMbps() float64 {
	s := strings.TrimSpace(l.Speed)
	if s == "" {
		return 0
	}
	s = strings.TrimSuffix(s, "b/s")
	scale := 1.0
	switch {
	case strings.HasSuffix(s, "G"):
		scale = 1e3
		s = strings.TrimSuffix(s, "G")
	case strings.HasSuffix(s, "M"):
		s = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "K"):
		scale = 1e-3
		s = strings.TrimSuffix(s, "K")
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < 0 {
		return 0
	}
	return v * scale
}

// CounterSnapshot maps a driver counter name to its value. Key families are
// platform-specific: a small Windows-style set (ReceivedErrors,
// OutboundErrors, ReceivedDiscarded, OutboundDiscarded) or the larger Linux
// ethtool set (rx_errors, rx_crc_errors, ...).
type CounterSnapshot map[string]int64

// Delta subtracts a baseline from this snapshot. Keys missing from the
// baseline are treated as baseline-equal (delta 0), matching a baseline
// captured at run start.
func (c CounterSnapshot) Delta(baseline CounterSnapshot) CounterSnapshot {
	delta := make(CounterSnapshot, len(c))
	for k, v := range c {
		base, ok := baseline[k]
		if !ok {
			base = v
		}
		delta[k] = v - base
	}
	return delta
}

// Clone returns an independent copy of the snapshot.
func (c CounterSnapshot) Clone() CounterSnapshot {
	out := make(CounterSnapshot, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// StatsReport is the body of GET /api/stats and of the websocket stats push.
type StatsReport struct {
	Iface     string          `json:"iface"`
	Running   bool            `json:"running"`
	Unit      Unit            `json:"unit"`
	Streams   int             `json:"streams"`
	StartedAt float64         `json:"started_at"`
	Link      LinkInfo        `json:"link"`
	Counters  CounterSnapshot `json:"counters"`
	Delta     CounterSnapshot `json:"delta"`
}
