// Package diagnostic interprets a finished bandwidth run into human/agent-readable
// grades, ratings, and concerns.
package diagnostic

import "fmt"

// Interpretation holds the semantic interpretation of a run.
type Interpretation struct {
	Grade             string   `json:"grade"`
	Summary           string   `json:"summary"`
	ThroughputRating  string   `json:"throughput_rating"`
	UtilizationRating string   `json:"utilization_rating"`
	CleanlinessRating string   `json:"cleanliness_rating"`
	Concerns          []string `json:"concerns"`
}

// Params are the raw run metrics to interpret. Throughput figures are in
// Mbps; LinkSpeedMbps is 0 when the link speed is unknown. CRCSeen reports
// whether the interface exposes CRC counters at all.
type Params struct {
	AvgMbps       float64
	MaxMbps       float64
	LinkSpeedMbps float64
	LinkUp        bool
	Errors        int64
	Drops         int64
	CRC           int64
	CRCSeen       bool
	Samples       int
}

// Interpret produces a diagnostic Interpretation from raw run metrics.
func Interpret(p Params) *Interpretation {
	interp := &Interpretation{
		Concerns: []string{},
	}

	interp.ThroughputRating = rateThroughput(p.AvgMbps)
	interp.UtilizationRating = rateUtilization(p.AvgMbps, p.LinkSpeedMbps)
	interp.CleanlinessRating = rateCleanliness(p)

	interp.Concerns = concerns(p)

	interp.Grade = computeGrade(interp.ThroughputRating, interp.UtilizationRating, interp.CleanlinessRating)
	interp.Summary = buildSummary(interp.Grade, p)

	return interp
}

func rateThroughput(avgMbps float64) string {
	switch {
	case avgMbps <= 0:
		return "unknown"
	case avgMbps >= 1000:
		return "fast"
	case avgMbps >= 100:
		return "good"
	case avgMbps >= 10:
		return "moderate"
	default:
		return "slow"
	}
}

// rateUtilization compares the achieved average against the negotiated link
// speed. A gigabit link carrying 300 Mbps is a finding even though 300 Mbps
// is a respectable number on its own.
func rateUtilization(avgMbps, linkSpeedMbps float64) string {
	if avgMbps <= 0 || linkSpeedMbps <= 0 {
		return "unknown"
	}
	ratio := avgMbps / linkSpeedMbps
	switch {
	case ratio >= 0.9:
		return "excellent"
	case ratio >= 0.7:
		return "good"
	case ratio >= 0.4:
		return "fair"
	default:
		return "poor"
	}
}

func rateCleanliness(p Params) string {
	if !p.LinkUp {
		return "unstable"
	}
	if p.CRC > 0 {
		return "unstable"
	}
	score := p.Errors + p.Drops
	switch {
	case score == 0:
		return "clean"
	case score <= 5:
		return "fair"
	default:
		return "dirty"
	}
}

func concerns(p Params) []string {
	c := []string{}

	if !p.LinkUp {
		c = append(c, "link_down")
	}
	if p.CRC > 0 {
		c = append(c, "crc_errors")
	}
	if p.Errors > 0 {
		c = append(c, "interface_errors")
	}
	if p.Drops > 0 {
		c = append(c, "packet_drops")
	}
	if p.LinkSpeedMbps > 0 && p.AvgMbps > 0 && p.AvgMbps < p.LinkSpeedMbps*0.4 {
		c = append(c, "low_utilization")
	}
	if p.Samples > 0 && p.MaxMbps > 0 && p.AvgMbps < p.MaxMbps*0.5 {
		c = append(c, "unsteady_throughput")
	}
	if !p.CRCSeen {
		c = append(c, "crc_counters_unavailable")
	}

	return c
}

var ratingScore = map[string]int{
	"excellent": 4,
	"fast":      4,
	"clean":     4,
	"good":      3,
	"fair":      2,
	"moderate":  2,
	"dirty":     1,
	"poor":      0,
	"slow":      0,
	"unstable":  0,
	"unknown":   2, // neutral default
}

func computeGrade(throughput, utilization, cleanliness string) string {
	score := ratingScore[throughput] + ratingScore[utilization] + ratingScore[cleanliness]
	// Max score = 12 (4+4+4)
	switch {
	case score >= 11:
		return "A"
	case score >= 9:
		return "B"
	case score >= 6:
		return "C"
	case score >= 3:
		return "D"
	default:
		return "F"
	}
}

func buildSummary(grade string, p Params) string {
	gradeDesc := map[string]string{
		"A": "Excellent",
		"B": "Good",
		"C": "Fair",
		"D": "Poor",
		"F": "Very poor",
	}

	desc := gradeDesc[grade]

	parts := []string{}
	if p.AvgMbps > 0 {
		parts = append(parts, fmt.Sprintf("%.0f Mbps average", p.AvgMbps))
	}
	if p.MaxMbps > 0 {
		parts = append(parts, fmt.Sprintf("%.0f Mbps peak", p.MaxMbps))
	}
	if p.LinkSpeedMbps > 0 {
		parts = append(parts, fmt.Sprintf("%.0f Mbps link", p.LinkSpeedMbps))
	}
	if p.CRC > 0 {
		parts = append(parts, fmt.Sprintf("%d CRC errors", p.CRC))
	}

	summary := desc + " run"
	if len(parts) > 0 {
		summary += ": "
		for i, part := range parts {
			if i > 0 {
				summary += ", "
			}
			summary += part
		}
	}

	return summary
}
