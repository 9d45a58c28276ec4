package client

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ServerConfig is one named panel server in the config file.
type ServerConfig struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name,omitempty"`
}

// ConfigFile is the on-disk client configuration at
// ~/.config/linkpanel/config.yaml.
type ConfigFile struct {
	DefaultServer string                  `yaml:"default_server,omitempty"`
	Servers       map[string]ServerConfig `yaml:"servers,omitempty"`

	ServerURL string `yaml:"server_url,omitempty"`
	Target    string `yaml:"default_target,omitempty"`
	Port      int    `yaml:"port,omitempty"`
	Protocol  string `yaml:"protocol,omitempty"`
	Direction string `yaml:"direction,omitempty"`
	Duration  int    `yaml:"duration,omitempty"`
	Streams   int    `yaml:"streams,omitempty"`
	Units     string `yaml:"units,omitempty"`
	Iface     string `yaml:"iface,omitempty"`
	Interval  int    `yaml:"interval,omitempty"`
	JSON      bool   `yaml:"json,omitempty"`
	Plain     bool   `yaml:"plain,omitempty"`
	Verbose   bool   `yaml:"verbose,omitempty"`
	Quiet     bool   `yaml:"quiet,omitempty"`
	NoColor   bool   `yaml:"no_color,omitempty"`
}

func getConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "linkpanel", "config.yaml")
}

func loadConfigFile() (*ConfigFile, error) {
	configPath := getConfigPath()
	if configPath == "" {
		return nil, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := validateConfigFile(&config); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}

	return &config, nil
}

// resolveServerURL maps a server alias to its URL through the config file.
// An empty alias falls back to default_server, then to the flat server_url.
func resolveServerURL(configFile *ConfigFile, alias string) string {
	if configFile == nil {
		return ""
	}
	if alias == "" {
		alias = configFile.DefaultServer
	}
	if alias != "" && configFile.Servers != nil {
		if server, ok := configFile.Servers[alias]; ok {
			return server.URL
		}
	}
	return configFile.ServerURL
}

func mergeConfig(flagConfig *Config, configFile *ConfigFile, flagsSet map[string]bool) *Config {
	result := &Config{}

	result.ServerURL = defaultServerURL
	result.Protocol = defaultProtocol
	result.Direction = defaultDirection
	result.Duration = defaultDuration
	result.Streams = defaultStreams
	result.Units = defaultUnits
	result.Interval = defaultInterval
	result.Timeout = defaultTimeout

	if configFile != nil {
		if url := resolveServerURL(configFile, ""); url != "" {
			result.ServerURL = url
		}
		if configFile.Target != "" {
			result.Target = configFile.Target
		}
		if configFile.Port > 0 {
			result.Port = configFile.Port
		}
		if configFile.Protocol != "" {
			result.Protocol = configFile.Protocol
		}
		if configFile.Direction != "" {
			result.Direction = configFile.Direction
		}
		if configFile.Duration > 0 {
			result.Duration = configFile.Duration
		}
		if configFile.Streams > 0 {
			result.Streams = configFile.Streams
		}
		if configFile.Units != "" {
			result.Units = configFile.Units
		}
		if configFile.Iface != "" {
			result.Iface = configFile.Iface
		}
		if configFile.Interval > 0 {
			result.Interval = configFile.Interval
		}
		result.JSON = configFile.JSON
		result.Plain = configFile.Plain
		result.Verbose = configFile.Verbose
		result.Quiet = configFile.Quiet
		result.NoColor = configFile.NoColor
	}

	if val := os.Getenv("LINKPANEL_SERVER_URL"); val != "" {
		result.ServerURL = val
	}
	if val := os.Getenv("LINKPANEL_TARGET"); val != "" {
		result.Target = val
	}
	if val := os.Getenv("LINKPANEL_IFACE"); val != "" {
		result.Iface = val
	}
	if val := os.Getenv("LINKPANEL_UNITS"); val != "" {
		result.Units = val
	}
	if os.Getenv("NO_COLOR") != "" {
		result.NoColor = true
	}

	if flagsSet["server-url"] && flagConfig.ServerURL != "" {
		// An alias from the config file wins over a literal URL so short
		// names keep working: linkpanel client -S lab 10.0.0.2
		if url := resolveServerURL(configFile, flagConfig.ServerURL); url != "" {
			result.ServerURL = url
		} else {
			result.ServerURL = flagConfig.ServerURL
		}
	}
	if flagsSet["target"] && flagConfig.Target != "" {
		result.Target = flagConfig.Target
	}
	if flagsSet["port"] && flagConfig.Port > 0 {
		result.Port = flagConfig.Port
	}
	if flagsSet["protocol"] && flagConfig.Protocol != "" {
		result.Protocol = flagConfig.Protocol
	}
	if flagsSet["direction"] && flagConfig.Direction != "" {
		result.Direction = flagConfig.Direction
	}
	if flagsSet["duration"] && flagConfig.Duration > 0 {
		result.Duration = flagConfig.Duration
	}
	if flagsSet["streams"] && flagConfig.Streams > 0 {
		result.Streams = flagConfig.Streams
	}
	if flagsSet["bandwidth"] && flagConfig.Bandwidth != "" {
		result.Bandwidth = flagConfig.Bandwidth
	}
	if flagsSet["units"] && flagConfig.Units != "" {
		result.Units = flagConfig.Units
	}
	if flagsSet["iface"] && flagConfig.Iface != "" {
		result.Iface = flagConfig.Iface
	}
	if flagsSet["watch"] {
		result.Watch = flagConfig.Watch
	}
	if flagsSet["interval"] && flagConfig.Interval > 0 {
		result.Interval = flagConfig.Interval
	}
	if flagsSet["history"] && flagConfig.History > 0 {
		result.History = flagConfig.History
	}
	if flagsSet["timeout"] && flagConfig.Timeout > 0 {
		result.Timeout = flagConfig.Timeout
	}
	if flagsSet["json"] {
		result.JSON = flagConfig.JSON
	}
	if flagsSet["plain"] {
		result.Plain = flagConfig.Plain
	}
	if flagsSet["verbose"] {
		result.Verbose = flagConfig.Verbose
	}
	if flagsSet["quiet"] {
		result.Quiet = flagConfig.Quiet
	}
	if flagsSet["no-color"] {
		result.NoColor = flagConfig.NoColor
	}

	return result
}

func validateConfigFile(config *ConfigFile) error {
	if config.Protocol != "" && config.Protocol != "tcp" && config.Protocol != "udp" {
		return fmt.Errorf("invalid protocol: %s (must be tcp or udp)", config.Protocol)
	}
	if config.Direction != "" && config.Direction != "upload" && config.Direction != "download" {
		return fmt.Errorf("invalid direction: %s (must be upload or download)", config.Direction)
	}
	if config.Duration != 0 && (config.Duration < 1 || config.Duration > 300) {
		return fmt.Errorf("invalid duration: %d (must be 1-300 seconds)", config.Duration)
	}
	if config.Streams != 0 && (config.Streams < 1 || config.Streams > 64) {
		return fmt.Errorf("invalid streams: %d (must be 1-64)", config.Streams)
	}
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("invalid port: %d", config.Port)
	}
	if config.Interval < 0 {
		return fmt.Errorf("invalid interval: %d (must be positive)", config.Interval)
	}
	for alias, server := range config.Servers {
		if server.URL == "" {
			return fmt.Errorf("server %q has no url", alias)
		}
	}
	return nil
}
