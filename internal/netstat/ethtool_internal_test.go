package netstat

import (
	"context"
	"fmt"
	"testing"
	"time"
)

const sampleEthtoolLink = `Settings for eth0:
	Supported ports: [ TP ]
	Speed: 1000Mb/s
	Duplex: Full
	Auto-negotiation: on
	Link detected: yes
`

const sampleEthtoolStats = `NIC statistics:
     rx_packets: 123456
     tx_packets: 654321
     rx_errors: 2
     tx_errors: 0
     rx_dropped: 1
     rx_crc_errors: 3
     some_vendor_counter: 99
     rx_length_errors: bogus
`

func TestParseEthtoolLink(t *testing.T) {
	info := parseEthtoolLink(sampleEthtoolLink)
	if !info.OK {
		t.Fatal("OK = false")
	}
	if info.Speed != "1000Mb/s" || info.Duplex != "Full" || info.Link != "yes" || info.Auto != "on" {
		t.Fatalf("parsed link = %+v", info)
	}
}

func TestParseEthtoolStats(t *testing.T) {
	counters := parseEthtoolStats(sampleEthtoolStats)

	want := map[string]int64{
		"rx_errors":     2,
		"tx_errors":     0,
		"rx_dropped":    1,
		"rx_crc_errors": 3,
	}
	if len(counters) != len(want) {
		t.Fatalf("got %d counters %v, want %d", len(counters), counters, len(want))
	}
	for key, value := range want {
		if counters[key] != value {
			t.Errorf("%s = %d, want %d", key, counters[key], value)
		}
	}
	if _, ok := counters["rx_packets"]; ok {
		t.Error("rx_packets should be filtered out")
	}
	if _, ok := counters["some_vendor_counter"]; ok {
		t.Error("unknown vendor counters should be filtered out")
	}
}

func TestLinkInfoUsesEthtoolOnLinux(t *testing.T) {
	c := New(time.Second)
	c.SetGOOS("linux")
	c.SetCommandRunner(func(ctx context.Context, name string, args ...string) (string, error) {
		if name != "ethtool" || len(args) != 1 || args[0] != "eth0" {
			t.Fatalf("unexpected command: %s %v", name, args)
		}
		return sampleEthtoolLink, nil
	})

	info := c.LinkInfo(context.Background(), "eth0")
	if !info.OK || info.Link != "yes" || info.Speed != "1000Mb/s" {
		t.Fatalf("LinkInfo = %+v", info)
	}
}

func TestCountersUsesEthtoolOnLinux(t *testing.T) {
	c := New(time.Second)
	c.SetGOOS("linux")
	c.SetCommandRunner(func(ctx context.Context, name string, args ...string) (string, error) {
		if name != "ethtool" || len(args) != 2 || args[0] != "-S" {
			t.Fatalf("unexpected command: %s %v", name, args)
		}
		return sampleEthtoolStats, nil
	})

	counters, err := c.Counters(context.Background(), "eth0")
	if err != nil {
		t.Fatalf("Counters: %v", err)
	}
	if counters["rx_crc_errors"] != 3 {
		t.Fatalf("rx_crc_errors = %d, want 3", counters["rx_crc_errors"])
	}
}

func TestCountersEmptyIface(t *testing.T) {
	c := New(time.Second)
	if _, err := c.Counters(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty iface")
	}
}

func TestLinkInfoEthtoolFailureFallsBack(t *testing.T) {
	c := New(time.Second)
	c.SetGOOS("linux")
	c.SetCommandRunner(func(ctx context.Context, name string, args ...string) (string, error) {
		return "", fmt.Errorf("ethtool: not found")
	})

	// Fallback goes through gopsutil; the interface will not exist, so the
	// probe reports a not-OK link rather than an ethtool crash.
	info := c.LinkInfo(context.Background(), "does-not-exist-0")
	if info.OK {
		t.Fatalf("LinkInfo = %+v, want OK=false for unknown interface", info)
	}
}
