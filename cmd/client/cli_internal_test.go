package client

import (
	"errors"
	"flag"
	"testing"
)

func TestParseFlagsLongAndShort(t *testing.T) {
	long, flagsSet, code, err := parseFlags([]string{
		"--server-url", "http://panel:5000",
		"--protocol", "udp",
		"--direction", "download",
		"--duration", "30",
		"--streams", "4",
		"--units", "Gbits",
		"10.0.0.2",
	}, "test")
	if err != nil || code != exitSuccess {
		t.Fatalf("parseFlags: %v (code %d)", err, code)
	}

	short, shortSet, code, err := parseFlags([]string{
		"-S", "http://panel:5000",
		"-p", "udp",
		"-d", "download",
		"-t", "30",
		"-s", "4",
		"-U", "Gbits",
		"10.0.0.2",
	}, "test")
	if err != nil || code != exitSuccess {
		t.Fatalf("parseFlags shorthand: %v (code %d)", err, code)
	}

	if *long != *short {
		t.Fatalf("long = %+v\nshort = %+v", long, short)
	}
	for _, name := range []string{"server-url", "protocol", "direction", "duration", "streams", "units", "target"} {
		if !flagsSet[name] || !shortSet[name] {
			t.Errorf("flag %q not recorded as set (long %v, short %v)", name, flagsSet[name], shortSet[name])
		}
	}
}

func TestParseFlagsUDPShorthand(t *testing.T) {
	config, flagsSet, _, err := parseFlags([]string{"-u", "10.0.0.2"}, "test")
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if config.Protocol != "udp" {
		t.Fatalf("Protocol = %q, want udp", config.Protocol)
	}
	if !flagsSet["protocol"] {
		t.Fatal("-u did not mark protocol as set")
	}
}

func TestParseFlagsPositionalTarget(t *testing.T) {
	config, flagsSet, _, err := parseFlags([]string{"speedtest.example.com"}, "test")
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if config.Target != "speedtest.example.com" || !flagsSet["target"] {
		t.Fatalf("Target = %q, set = %v", config.Target, flagsSet["target"])
	}
}

func TestParseFlagsExtraPositionalRejected(t *testing.T) {
	_, _, code, err := parseFlags([]string{"host1", "host2"}, "test")
	if err == nil || code != exitUsage {
		t.Fatalf("err = %v, code = %d, want usage error", err, code)
	}
}

func TestParseFlagsHelp(t *testing.T) {
	_, _, code, err := parseFlags([]string{"--help"}, "test")
	if !errors.Is(err, flag.ErrHelp) || code != exitSuccess {
		t.Fatalf("err = %v, code = %d", err, code)
	}
}

func TestMergeConfigPrecedence(t *testing.T) {
	configFile := &ConfigFile{
		ServerURL: "http://fromfile:5000",
		Target:    "file-target",
		Protocol:  "udp",
		Duration:  60,
	}

	t.Run("file over defaults", func(t *testing.T) {
		merged := mergeConfig(&Config{}, configFile, map[string]bool{})
		if merged.ServerURL != "http://fromfile:5000" || merged.Target != "file-target" {
			t.Fatalf("merged = %+v", merged)
		}
		if merged.Protocol != "udp" || merged.Duration != 60 {
			t.Fatalf("merged = %+v", merged)
		}
		// Untouched fields keep their defaults.
		if merged.Streams != defaultStreams || merged.Units != defaultUnits {
			t.Fatalf("merged = %+v", merged)
		}
	})

	t.Run("env over file", func(t *testing.T) {
		t.Setenv("LINKPANEL_SERVER_URL", "http://fromenv:5000")
		t.Setenv("LINKPANEL_TARGET", "env-target")
		merged := mergeConfig(&Config{}, configFile, map[string]bool{})
		if merged.ServerURL != "http://fromenv:5000" || merged.Target != "env-target" {
			t.Fatalf("merged = %+v", merged)
		}
	})

	t.Run("flags over env", func(t *testing.T) {
		t.Setenv("LINKPANEL_TARGET", "env-target")
		merged := mergeConfig(
			&Config{Target: "flag-target", Duration: 5},
			configFile,
			map[string]bool{"target": true, "duration": true},
		)
		if merged.Target != "flag-target" || merged.Duration != 5 {
			t.Fatalf("merged = %+v", merged)
		}
	})

	t.Run("no config file", func(t *testing.T) {
		merged := mergeConfig(&Config{}, nil, map[string]bool{})
		if merged.ServerURL != defaultServerURL || merged.Protocol != defaultProtocol {
			t.Fatalf("merged = %+v", merged)
		}
	})
}

func TestMergeConfigResolvesServerAlias(t *testing.T) {
	configFile := &ConfigFile{
		DefaultServer: "home",
		Servers: map[string]ServerConfig{
			"home": {URL: "http://home:5000"},
			"lab":  {URL: "http://lab:5000"},
		},
	}

	merged := mergeConfig(&Config{}, configFile, map[string]bool{})
	if merged.ServerURL != "http://home:5000" {
		t.Fatalf("ServerURL = %q, want the default_server alias", merged.ServerURL)
	}

	merged = mergeConfig(
		&Config{ServerURL: "lab"},
		configFile,
		map[string]bool{"server-url": true},
	)
	if merged.ServerURL != "http://lab:5000" {
		t.Fatalf("ServerURL = %q, want the lab alias resolved", merged.ServerURL)
	}

	merged = mergeConfig(
		&Config{ServerURL: "http://literal:5000"},
		configFile,
		map[string]bool{"server-url": true},
	)
	if merged.ServerURL != "http://literal:5000" {
		t.Fatalf("ServerURL = %q, want the literal URL kept", merged.ServerURL)
	}
}

func TestValidateConfig(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Target:    "10.0.0.2",
			Protocol:  "tcp",
			Direction: "upload",
			Duration:  10,
			Streams:   1,
		}
	}

	if err := validateConfig(valid()); err != nil {
		t.Fatalf("validateConfig rejected a valid config: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no target", func(c *Config) { c.Target = "" }},
		{"bad protocol", func(c *Config) { c.Protocol = "sctp" }},
		{"bad direction", func(c *Config) { c.Direction = "both" }},
		{"duration too long", func(c *Config) { c.Duration = 301 }},
		{"zero duration", func(c *Config) { c.Duration = 0 }},
		{"too many streams", func(c *Config) { c.Streams = 65 }},
		{"bad port", func(c *Config) { c.Port = 70000 }},
		{"bandwidth without udp", func(c *Config) { c.Bandwidth = "100M" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid()
			tt.mutate(config)
			if err := validateConfig(config); err == nil {
				t.Fatal("validateConfig accepted invalid config")
			}
		})
	}
}

func TestValidateConfigSkipsTargetForWatchAndHistory(t *testing.T) {
	if err := validateConfig(&Config{Watch: true}); err != nil {
		t.Fatalf("watch mode should not need a target: %v", err)
	}
	if err := validateConfig(&Config{History: 5}); err != nil {
		t.Fatalf("history mode should not need a target: %v", err)
	}
}

func TestValidateConfigFile(t *testing.T) {
	tests := []struct {
		name string
		file ConfigFile
		ok   bool
	}{
		{"empty", ConfigFile{}, true},
		{"valid", ConfigFile{Protocol: "udp", Duration: 30, Streams: 4}, true},
		{"bad protocol", ConfigFile{Protocol: "sctp"}, false},
		{"bad duration", ConfigFile{Duration: 500}, false},
		{"server without url", ConfigFile{Servers: map[string]ServerConfig{"lab": {}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConfigFile(&tt.file)
			if tt.ok && err != nil {
				t.Fatalf("validateConfigFile: %v", err)
			}
			if !tt.ok && err == nil {
				t.Fatal("validateConfigFile accepted invalid file")
			}
		})
	}
}
