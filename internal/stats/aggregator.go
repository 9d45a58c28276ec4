// Package stats normalizes per-interval counter deltas into the categories
// the panel displays and grades link quality.
package stats

import (
	"strings"

	"github.com/netpanel/linkpanel/pkg/types"
)

// Counter families. Windows exposes a small fixed set via adapter
// statistics; Linux drivers expose an ethtool superset.
var (
	windowsErrorKeys = []string{"ReceivedErrors", "OutboundErrors"}
	windowsDropKeys  = []string{"ReceivedDiscarded", "OutboundDiscarded"}

	linuxErrorKeys = []string{
		"rx_errors", "tx_errors",
		"rx_missed_errors", "rx_length_errors",
		"rx_over_errors", "rx_frame_errors", "rx_fifo_errors",
	}
	linuxDropKeys = []string{"rx_dropped", "tx_dropped"}
	crcKeys       = []string{"rx_crc_errors", "rx_fcs_errors"}
)

// Verdict labels, ordered by severity of their trigger.
const (
	VerdictOK      = "ok"
	VerdictWarn    = "warn"
	VerdictBad     = "bad"
	VerdictBadLink = "bad (link)"
	VerdictBadCRC  = "bad (CRC)"
)

// Report is the aggregated view of one counter delta.
type Report struct {
	Link    string `json:"link"`
	Errors  int64  `json:"errors"`
	Drops   int64  `json:"drops"`
	CRC     int64  `json:"crc"`
	CRCSeen bool   `json:"crc_seen"`
	Verdict string `json:"verdict"`
}

// Summarize combines a per-interval counter delta with link state into a
// normalized report. The delta's keys decide which counter family applies;
// when both families carry values, the Windows-style family is preferred
// (preserved tie-break from the source behavior).
func Summarize(link types.LinkInfo, delta types.CounterSnapshot) Report {
	report := Report{Link: linkDescription(link)}

	winErrors := sumKeys(delta, windowsErrorKeys)
	winDrops := sumKeys(delta, windowsDropKeys)
	if winErrors+winDrops > 0 {
		report.Errors = winErrors
		report.Drops = winDrops
	} else {
		report.Errors = sumKeys(delta, linuxErrorKeys)
		report.Drops = sumKeys(delta, linuxDropKeys)
	}

	// Report the literal CRC sum whenever any CRC/FCS key exists, even if
	// zero: "observed but zero" is distinct from "not supported".
	for _, key := range crcKeys {
		if v, ok := delta[key]; ok {
			report.CRCSeen = true
			report.CRC += v
		}
	}

	report.Verdict = verdict(link, report)
	return report
}

// verdict grades quality. Link failures and physical-layer corruption always
// dominate a mere elevated error count.
func verdict(link types.LinkInfo, r Report) string {
	if linkDown(link) {
		return VerdictBadLink
	}
	if r.CRC > 0 {
		return VerdictBadCRC
	}
	score := r.Errors + r.Drops
	switch {
	case score == 0:
		return VerdictOK
	case score <= 5:
		return VerdictWarn
	default:
		return VerdictBad
	}
}

func linkDown(link types.LinkInfo) bool {
	if !link.OK {
		return true
	}
	state := strings.ToLower(strings.TrimSpace(link.Link))
	switch state {
	case "no", "down", "disconnected":
		return true
	}
	return false
}

func linkDescription(link types.LinkInfo) string {
	if !link.OK {
		if link.Error != "" {
			return "unknown (" + link.Error + ")"
		}
		return "unknown"
	}
	parts := make([]string, 0, 3)
	if link.Speed != "" {
		parts = append(parts, link.Speed)
	}
	if link.Duplex != "" {
		parts = append(parts, link.Duplex)
	}
	if link.Link != "" {
		parts = append(parts, "link: "+link.Link)
	}
	if len(parts) == 0 {
		return "link: ?"
	}
	return strings.Join(parts, ", ")
}

func sumKeys(delta types.CounterSnapshot, keys []string) int64 {
	var sum int64
	for _, key := range keys {
		sum += delta[key] // absent keys default to zero
	}
	return sum
}
