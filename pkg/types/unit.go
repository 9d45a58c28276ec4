package types

import "strings"

// Unit is the display unit for throughput figures. The wire format uses the
// iperf-style names (Kbits/Mbits/Gbits); the UI-facing aliases Kbps/Mbps/Gbps
// are accepted and normalized.
type Unit string

const (
	UnitKbits Unit = "Kbits"
	UnitMbits Unit = "Mbits"
	UnitGbits Unit = "Gbits"
)

// NormalizeUnit maps any accepted spelling to a canonical Unit. Unknown or
// empty input falls back to Mbits.
func NormalizeUnit(s string) Unit {
	switch strings.TrimSpace(s) {
	case "Kbits", "Kbps", "kbps", "kbits":
		return UnitKbits
	case "Gbits", "Gbps", "gbps", "gbits":
		return UnitGbits
	case "Mbits", "Mbps", "mbps", "mbits":
		return UnitMbits
	default:
		return UnitMbits
	}
}

// BitsPerSecond returns the scale of one displayed unit in bits/sec.
func (u Unit) BitsPerSecond() float64 {
	switch u {
	case UnitKbits:
		return 1e3
	case UnitGbits:
		return 1e9
	default:
		return 1e6
	}
}

// FromMbps converts a value expressed in Mbps into this unit.
func (u Unit) FromMbps(v float64) float64 {
	return v * 1e6 / u.BitsPerSecond()
}

// Label is the human-facing suffix, e.g. "Mbit/s".
func (u Unit) Label() string {
	switch u {
	case UnitKbits:
		return "Kbit/s"
	case UnitGbits:
		return "Gbit/s"
	default:
		return "Mbit/s"
	}
}
