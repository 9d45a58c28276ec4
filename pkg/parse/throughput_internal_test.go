package parse

import (
	"math"
	"testing"

	"github.com/netpanel/linkpanel/pkg/types"
)

func TestThroughputConversions(t *testing.T) {
	line := "[  5]   1.00-2.00   sec   112 MBytes   941 Mbits/sec"

	tests := []struct {
		name string
		unit types.Unit
		want float64
	}{
		{"mbits", types.UnitMbits, 941},
		{"gbits", types.UnitGbits, 0.941},
		{"kbits", types.UnitKbits, 941000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Throughput(line, tt.unit)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("Throughput(%q, %s) = %v, want %v", line, tt.unit, got, tt.want)
			}
		})
	}
}

func TestThroughputPrefixes(t *testing.T) {
	tests := []struct {
		name string
		line string
		want float64
	}{
		{"gbits scales up", "[SUM]   0.00-10.00  sec  1.10 GBytes  1.05 Gbits/sec", 1050},
		{"kbits scales down", "[  5]   3.00-4.00   sec   64.0 KBytes   512 Kbits/sec", 0.512},
		{"no prefix is mbits", "[  5]   0.00-1.00   sec   11.8 MBytes  98.7 Mbits/sec", 98.7},
		{"bit singular accepted", "rate 250 Mbit/sec sustained", 250},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Throughput(tt.line, types.UnitMbits)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("Throughput(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}

func TestThroughputLastMatchWins(t *testing.T) {
	line := "retrans at 100 Mbits/sec, now 200 Mbits/sec"
	if got := Throughput(line, types.UnitMbits); got != 200 {
		t.Fatalf("Throughput(%q) = %v, want 200", line, got)
	}
}

func TestThroughputBareNumberUnconverted(t *testing.T) {
	// Pre-normalized values pass through regardless of the requested unit.
	for _, unit := range []types.Unit{types.UnitKbits, types.UnitMbits, types.UnitGbits} {
		if got := Throughput("237.5", unit); got != 237.5 {
			t.Fatalf("Throughput(%q, %s) = %v, want 237.5", "237.5", unit, got)
		}
	}
	if got := Throughput("-1", types.UnitMbits); got != -1 {
		t.Fatalf("Throughput(-1) = %v, want -1", got)
	}
}

func TestThroughputNoValue(t *testing.T) {
	lines := []string{
		"",
		"   ",
		"Connecting to host 10.0.0.2, port 5201",
		"iperf Done.",
		"12 monkeys",
	}
	for _, line := range lines {
		if got := Throughput(line, types.UnitMbits); !math.IsNaN(got) {
			t.Fatalf("Throughput(%q) = %v, want NaN", line, got)
		}
	}
}

func TestIsNumber(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"941", true},
		{"  941.5  ", true},
		{"-1", true},
		{"941 Mbits/sec", false},
		{"CMD: iperf3", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsNumber(tt.line); got != tt.want {
			t.Fatalf("IsNumber(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestIsEndOfStream(t *testing.T) {
	if !IsEndOfStream("-1") || !IsEndOfStream("  -1  ") {
		t.Fatal("IsEndOfStream should accept the -1 sentinel with whitespace")
	}
	if IsEndOfStream("-1.0") || IsEndOfStream("1") || IsEndOfStream("") {
		t.Fatal("IsEndOfStream should only accept the exact -1 sentinel")
	}
}
