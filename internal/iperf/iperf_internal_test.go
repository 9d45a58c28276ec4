package iperf

import (
	"reflect"
	"strings"
	"testing"

	"github.com/netpanel/linkpanel/pkg/types"
)

func TestBuildArgsTCPUpload(t *testing.T) {
	args := BuildArgs(types.RunConfig{
		Target:    "10.0.0.2",
		Port:      5201,
		Protocol:  types.ProtocolTCP,
		Direction: types.DirectionUpload,
		Streams:   4,
	})

	want := []string{
		"-c", "10.0.0.2",
		"-p", "5201",
		"-P", "4",
		"-i", "1",
		"-t", "10",
		"--json-stream",
		"--forceflush",
		"--connect-timeout", "3000",
	}
	if !reflect.DeepEqual(args, want) {
		t.Fatalf("args = %v, want %v", args, want)
	}
}

func TestBuildArgsUDPDownload(t *testing.T) {
	args := BuildArgs(types.RunConfig{
		Target:           "host.example",
		Port:             5202,
		Protocol:         types.ProtocolUDP,
		Direction:        types.DirectionDownload,
		Streams:          1,
		Bandwidth:        "100M",
		DurationSec:      30,
		ConnectTimeoutMS: 5000,
	})

	joined := strings.Join(args, " ")
	for _, want := range []string{"-u -b 100M", "-R", "-t 30", "--connect-timeout 5000"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args %q missing %q", joined, want)
		}
	}
}

func TestBuildArgsUDPDefaultBandwidth(t *testing.T) {
	args := BuildArgs(types.RunConfig{
		Target:   "h",
		Port:     5201,
		Protocol: types.ProtocolUDP,
		Streams:  1,
	})
	joined := strings.Join(args, " ")
	// Unlimited UDP unless the caller caps it.
	if !strings.Contains(joined, "-u -b 0") {
		t.Fatalf("args %q missing default -b 0", joined)
	}
}

func TestCommandString(t *testing.T) {
	got := CommandString("/usr/bin/iperf3", []string{"-c", "10.0.0.2", "-t", "10"})
	if got != "/usr/bin/iperf3 -c 10.0.0.2 -t 10" {
		t.Fatalf("CommandString = %q", got)
	}

	got = CommandString("iperf3", []string{"-c", "host name"})
	if got != "iperf3 -c 'host name'" {
		t.Fatalf("CommandString with space = %q", got)
	}

	got = CommandString("iperf3", []string{"it's"})
	if got != `iperf3 'it'"'"'s'` {
		t.Fatalf("CommandString with quote = %q", got)
	}
}

func TestTranslateLineInterval(t *testing.T) {
	line := `{"event":"interval","data":{"sum":{"bits_per_second":941000000.0}}}`
	got := translateLine(line, types.UnitMbits)
	if len(got) != 1 || got[0] != "941" {
		t.Fatalf("translateLine(interval) = %v, want [941]", got)
	}

	got = translateLine(line, types.UnitGbits)
	if len(got) != 1 || got[0] != "0.941" {
		t.Fatalf("translateLine(interval, Gbits) = %v, want [0.941]", got)
	}
}

func TestTranslateLineEndPrefersSumReceived(t *testing.T) {
	line := `{"event":"end","data":{"sum_sent":{"bits_per_second":950000000},"sum_received":{"bits_per_second":940000000}}}`
	got := translateLine(line, types.UnitMbits)
	if len(got) != 1 || got[0] != "940" {
		t.Fatalf("translateLine(end) = %v, want [940]", got)
	}
}

func TestTranslateLinePerStreamTotal(t *testing.T) {
	line := `{"event":"interval","data":{"streams":[{"bits_per_second":100000000},{"bits_per_second":200000000}]}}`
	got := translateLine(line, types.UnitMbits)
	if len(got) != 1 || got[0] != "300" {
		t.Fatalf("translateLine(streams) = %v, want [300]", got)
	}
}

func TestTranslateLineError(t *testing.T) {
	line := `{"event":"error","data":"unable to connect to server: Connection refused"}`
	got := translateLine(line, types.UnitMbits)
	if len(got) != 1 || got[0] != "ERROR: unable to connect to server: Connection refused" {
		t.Fatalf("translateLine(error) = %v", got)
	}
}

func TestTranslateLineServerOutput(t *testing.T) {
	line := `{"event":"server_output_text","data":"  Server listening on 5201  "}`
	got := translateLine(line, types.UnitMbits)
	if len(got) != 1 || got[0] != "Server listening on 5201" {
		t.Fatalf("translateLine(server_output_text) = %v", got)
	}

	if got := translateLine(`{"event":"server_output_text","data":""}`, types.UnitMbits); got != nil {
		t.Fatalf("empty server output should produce no lines, got %v", got)
	}
}

func TestTranslateLineNonJSONPassesThrough(t *testing.T) {
	got := translateLine("iperf3: error - unable to connect", types.UnitMbits)
	if len(got) != 1 || got[0] != "iperf3: error - unable to connect" {
		t.Fatalf("translateLine(plain) = %v", got)
	}
}

func TestTranslateLineStartEventDropped(t *testing.T) {
	if got := translateLine(`{"event":"start","data":{}}`, types.UnitMbits); got != nil {
		t.Fatalf("start event should produce no lines, got %v", got)
	}
}
