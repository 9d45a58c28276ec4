package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        string
	BindAddress string

	// iperf3 invocation
	IperfPath        string
	IperfPort        int
	DefaultTarget    string
	DefaultIface     string
	MaxTestDuration  time.Duration
	MaxStreams       int
	ConnectTimeoutMS int

	// stream / hub
	HeartbeatInterval time.Duration
	EventQueueSize    int
	RunRetention      time.Duration

	// stats
	StatsPushInterval time.Duration
	CmdTimeout        time.Duration

	// storage
	LogDir           string
	DataDir          string
	MaxStoredResults int

	// HTTP hardening
	RateLimitPerIP    int
	GlobalRateLimit   int
	TrustProxyHeaders bool
	TrustedProxyCIDRs []string
	AllowedOrigins    []string

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration

	// performance introspection
	PprofEnabled      bool
	PprofAddress      string
	PerfStatsInterval time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		Port:              "5000",
		BindAddress:       "0.0.0.0",
		IperfPath:         "iperf3",
		IperfPort:         5201,
		DefaultTarget:     "",
		DefaultIface:      "",
		MaxTestDuration:   300 * time.Second,
		MaxStreams:        32,
		ConnectTimeoutMS:  3000,
		HeartbeatInterval: 1 * time.Second,
		EventQueueSize:    256,
		RunRetention:      1 * time.Hour,
		StatsPushInterval: 2 * time.Second,
		CmdTimeout:        6 * time.Second,
		LogDir:            "./logs",
		DataDir:           "./data",
		MaxStoredResults:  10000,
		RateLimitPerIP:    100,
		GlobalRateLimit:   1000,
		TrustProxyHeaders: false,
		TrustedProxyCIDRs: nil,
		AllowedOrigins:    []string{"*"},
		ReadHeaderTimeout: 15 * time.Second, // protects against slowloris
		IdleTimeout:       60 * time.Second,
		PprofEnabled:      false,
		PprofAddress:      "127.0.0.1:6060",
		PerfStatsInterval: 0,
	}
}

func (c *Config) LoadFromEnv() error {
	if port := os.Getenv("PORT"); port != "" {
		if _, err := strconv.Atoi(port); err != nil {
			return fmt.Errorf("invalid PORT %q: must be a number", port)
		}
		c.Port = port
	}
	if addr := os.Getenv("BIND_ADDRESS"); addr != "" {
		c.BindAddress = addr
	}

	if path := os.Getenv("IPERF_PATH"); path != "" {
		c.IperfPath = path
	}
	if port := os.Getenv("IPERF_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid IPERF_PORT %q: %w", port, err)
		}
		c.IperfPort = p
	}
	if target := os.Getenv("DEFAULT_TARGET"); target != "" {
		c.DefaultTarget = target
	}
	if iface := os.Getenv("DEFAULT_IFACE"); iface != "" {
		c.DefaultIface = iface
	}
	if dur := os.Getenv("MAX_TEST_DURATION"); dur != "" {
		d, err := time.ParseDuration(dur)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid MAX_TEST_DURATION %q: must be a positive duration (e.g. 300s)", dur)
		}
		c.MaxTestDuration = d
	}
	if max := os.Getenv("MAX_STREAMS"); max != "" {
		m, err := strconv.Atoi(max)
		if err != nil || m <= 0 || m > 64 {
			return fmt.Errorf("invalid MAX_STREAMS %q: must be 1-64", max)
		}
		c.MaxStreams = m
	}
	if ms := os.Getenv("CONNECT_TIMEOUT_MS"); ms != "" {
		m, err := strconv.Atoi(ms)
		if err != nil || m <= 0 {
			return fmt.Errorf("invalid CONNECT_TIMEOUT_MS %q: must be a positive integer", ms)
		}
		c.ConnectTimeoutMS = m
	}

	if interval := os.Getenv("HEARTBEAT_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid HEARTBEAT_INTERVAL %q: must be a positive duration (e.g. 1s)", interval)
		}
		c.HeartbeatInterval = d
	}
	if size := os.Getenv("EVENT_QUEUE_SIZE"); size != "" {
		n, err := strconv.Atoi(size)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid EVENT_QUEUE_SIZE %q: must be a positive integer", size)
		}
		c.EventQueueSize = n
	}
	if retention := os.Getenv("RUN_RETENTION"); retention != "" {
		d, err := time.ParseDuration(retention)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid RUN_RETENTION %q: must be a positive duration (e.g. 1h)", retention)
		}
		c.RunRetention = d
	}
	if interval := os.Getenv("STATS_PUSH_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid STATS_PUSH_INTERVAL %q: must be a positive duration (e.g. 2s)", interval)
		}
		c.StatsPushInterval = d
	}
	if timeout := os.Getenv("CMD_TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid CMD_TIMEOUT %q: must be a positive duration (e.g. 6s)", timeout)
		}
		c.CmdTimeout = d
	}

	if dir := os.Getenv("LOG_DIR"); dir != "" {
		c.LogDir = dir
	}
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		c.DataDir = dir
	}
	if max := os.Getenv("MAX_STORED_RESULTS"); max != "" {
		m, err := strconv.Atoi(max)
		if err != nil || m <= 0 {
			return fmt.Errorf("invalid MAX_STORED_RESULTS %q: must be a positive integer", max)
		}
		c.MaxStoredResults = m
	}

	if limit := os.Getenv("RATE_LIMIT_PER_IP"); limit != "" {
		l, err := strconv.Atoi(limit)
		if err != nil || l <= 0 {
			return fmt.Errorf("invalid RATE_LIMIT_PER_IP %q: must be a positive integer", limit)
		}
		c.RateLimitPerIP = l
	}
	if limit := os.Getenv("GLOBAL_RATE_LIMIT"); limit != "" {
		l, err := strconv.Atoi(limit)
		if err != nil || l <= 0 {
			return fmt.Errorf("invalid GLOBAL_RATE_LIMIT %q: must be a positive integer", limit)
		}
		c.GlobalRateLimit = l
	}
	if trust := os.Getenv("TRUST_PROXY_HEADERS"); trust == "true" || trust == "1" {
		c.TrustProxyHeaders = true
	}
	if cidrs := os.Getenv("TRUSTED_PROXY_CIDRS"); cidrs != "" {
		c.TrustedProxyCIDRs = splitCSV(cidrs)
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.AllowedOrigins = splitCSV(origins)
	}

	if enabled := os.Getenv("PPROF_ENABLED"); enabled == "true" || enabled == "1" {
		c.PprofEnabled = true
	}
	if addr := os.Getenv("PPROF_ADDRESS"); addr != "" {
		c.PprofAddress = addr
	}
	if interval := os.Getenv("PERF_STATS_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil || d < 0 {
			return fmt.Errorf("invalid PERF_STATS_INTERVAL %q: must be a duration (e.g. 60s)", interval)
		}
		c.PerfStatsInterval = d
	}

	return nil
}

func splitCSV(s string) []string {
	entries := strings.Split(s, ",")
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		value := strings.TrimSpace(entry)
		if value != "" {
			out = append(out, value)
		}
	}
	return out
}

func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if p, err := strconv.Atoi(c.Port); err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid port %q: must be 1-65535", c.Port)
	}
	if c.IperfPort <= 0 || c.IperfPort > 65535 {
		return fmt.Errorf("invalid iperf port: %d", c.IperfPort)
	}
	if c.IperfPath == "" {
		return fmt.Errorf("iperf path cannot be empty")
	}
	if c.MaxTestDuration <= 0 {
		return fmt.Errorf("max test duration must be > 0")
	}
	if c.MaxStreams <= 0 || c.MaxStreams > 64 {
		return fmt.Errorf("max streams must be 1-64")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be > 0")
	}
	if c.EventQueueSize <= 0 {
		return fmt.Errorf("event queue size must be > 0")
	}
	if c.LogDir == "" {
		return fmt.Errorf("log directory cannot be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}
	if c.MaxStoredResults <= 0 {
		return fmt.Errorf("max stored results must be > 0")
	}
	if c.RateLimitPerIP <= 0 {
		return fmt.Errorf("rate limit per IP must be > 0")
	}
	if c.GlobalRateLimit <= 0 {
		return fmt.Errorf("global rate limit must be > 0")
	}
	if c.GlobalRateLimit < c.RateLimitPerIP {
		return fmt.Errorf("global rate limit must be >= rate limit per IP")
	}
	if c.TrustProxyHeaders && len(c.TrustedProxyCIDRs) > 0 {
		for _, entry := range c.TrustedProxyCIDRs {
			if _, _, err := net.ParseCIDR(entry); err != nil {
				return fmt.Errorf("invalid trusted proxy CIDR: %s", entry)
			}
		}
	}
	return nil
}

func (c *Config) ListenAddress() string {
	return c.BindAddress + ":" + c.Port
}
