// Package parse extracts throughput readings from iperf3 output lines.
package parse

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/netpanel/linkpanel/pkg/types"
)

// bwRE matches "<number>[K|M|G]bits/sec" (prefix optional, case-insensitive).
// Lines may restate earlier context, so callers take the last match.
var bwRE = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*([KMG]?)bits?/sec`)

// numberRE matches a line that is exactly one signed decimal number. Such
// lines are pre-normalized values (or the -1 end-of-stream sentinel) and are
// returned unconverted.
var numberRE = regexp.MustCompile(`^-?\d+(?:\.\d+)?$`)

// Throughput extracts a throughput value from one line of process output,
// converted to the requested display unit. It returns NaN when the line
// carries no value; callers must treat that as a non-numeric status line,
// not an error.
func Throughput(line string, unit types.Unit) float64 {
	s := strings.TrimSpace(line)
	if s == "" {
		return math.NaN()
	}

	if numberRE.MatchString(s) {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		return v
	}

	matches := bwRE.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return math.NaN()
	}
	last := matches[len(matches)-1]

	v, err := strconv.ParseFloat(last[1], 64)
	if err != nil {
		return math.NaN()
	}

	mbps := v * prefixToMbps(last[2])
	return unit.FromMbps(mbps)
}

// IsNumber reports whether the line is exactly one signed decimal number.
func IsNumber(line string) bool {
	return numberRE.MatchString(strings.TrimSpace(line))
}

// IsEndOfStream reports whether the line is the "-1" end-of-test sentinel.
func IsEndOfStream(line string) bool {
	return strings.TrimSpace(line) == "-1"
}

func prefixToMbps(prefix string) float64 {
	switch strings.ToUpper(prefix) {
	case "K":
		return 1e-3
	case "G":
		return 1e3
	default:
		return 1
	}
}
