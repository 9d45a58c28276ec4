// Package client implements the linkpanel terminal client: it drives a
// bandwidth test against a panel server and renders the gauge in the
// terminal, or watches live interface statistics.
package client

import (
	"flag"
	"fmt"
	"io"
	"os"
)

const (
	exitSuccess   = 0
	exitFailure   = 1
	exitUsage     = 2
	exitInterrupt = 130
)

const (
	defaultServerURL = "http://localhost:5000"
	defaultProtocol  = "tcp"
	defaultDirection = "upload"
	defaultDuration  = 10
	defaultStreams   = 1
	defaultUnits     = "Mbits"
	defaultInterval  = 2
	defaultTimeout   = 0
)

// Config is the merged client configuration: defaults, then config file,
// then environment, then flags, in increasing precedence.
type Config struct {
	Server    string
	ServerURL string

	Target    string
	Port      int
	Protocol  string
	Direction string
	Duration  int
	Streams   int
	Bandwidth string
	Units     string
	Iface     string

	Watch    bool
	Interval int
	History  int

	Timeout int
	JSON    bool
	Plain   bool
	Verbose bool
	Quiet   bool
	NoColor bool
}

func parseFlags(args []string, version string) (*Config, map[string]bool, int, error) {
	config := &Config{}
	var showVersion, showHelp, udp bool

	flagSet := flag.NewFlagSet("client", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	flagSet.StringVar(&config.ServerURL, "server-url", "", "panel server URL")
	flagSet.StringVar(&config.ServerURL, "S", "", "panel server URL (shorthand)")

	flagSet.StringVar(&config.Target, "target", "", "iperf3 target host")
	flagSet.IntVar(&config.Port, "port", 0, "iperf3 target port")
	flagSet.StringVar(&config.Protocol, "protocol", "", "protocol: tcp or udp")
	flagSet.StringVar(&config.Protocol, "p", "", "protocol (shorthand)")
	flagSet.BoolVar(&udp, "u", false, "use UDP (shorthand for --protocol udp)")
	flagSet.StringVar(&config.Direction, "direction", "", "direction: upload or download")
	flagSet.StringVar(&config.Direction, "d", "", "direction (shorthand)")
	flagSet.IntVar(&config.Duration, "duration", 0, "test duration in seconds")
	flagSet.IntVar(&config.Duration, "t", 0, "test duration (shorthand)")
	flagSet.IntVar(&config.Streams, "streams", 0, "parallel streams")
	flagSet.IntVar(&config.Streams, "s", 0, "parallel streams (shorthand)")
	flagSet.StringVar(&config.Bandwidth, "bandwidth", "", "UDP target bandwidth, e.g. 100M")
	flagSet.StringVar(&config.Bandwidth, "b", "", "UDP target bandwidth (shorthand)")
	flagSet.StringVar(&config.Units, "units", "", "display units: Kbits, Mbits or Gbits")
	flagSet.StringVar(&config.Units, "U", "", "display units (shorthand)")
	flagSet.StringVar(&config.Iface, "iface", "", "interface to sample counters from")
	flagSet.StringVar(&config.Iface, "i", "", "interface (shorthand)")

	flagSet.BoolVar(&config.Watch, "watch", false, "watch live interface statistics instead of running a test")
	flagSet.BoolVar(&config.Watch, "w", false, "watch mode (shorthand)")
	flagSet.IntVar(&config.Interval, "interval", 0, "watch poll interval in seconds")
	flagSet.IntVar(&config.History, "history", 0, "print the last N stored runs and exit")

	flagSet.IntVar(&config.Timeout, "timeout", 0, "overall timeout in seconds (0 = duration + grace)")
	flagSet.BoolVar(&config.JSON, "json", false, "JSON output")
	flagSet.BoolVar(&config.Plain, "plain", false, "plain line-oriented output")
	flagSet.BoolVar(&config.Verbose, "verbose", false, "verbose output")
	flagSet.BoolVar(&config.Verbose, "v", false, "verbose output (shorthand)")
	flagSet.BoolVar(&config.Quiet, "quiet", false, "suppress everything except the result")
	flagSet.BoolVar(&config.Quiet, "q", false, "quiet (shorthand)")
	flagSet.BoolVar(&config.NoColor, "no-color", false, "disable colored output")

	flagSet.BoolVar(&showVersion, "version", false, "print version and exit")
	flagSet.BoolVar(&showHelp, "help", false, "print usage and exit")
	flagSet.BoolVar(&showHelp, "h", false, "print usage (shorthand)")

	if err := flagSet.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "linkpanel client: %v\n", err)
		printUsage(os.Stderr)
		return nil, nil, exitUsage, err
	}

	if showHelp {
		printUsage(os.Stdout)
		return nil, nil, exitSuccess, flag.ErrHelp
	}
	if showVersion {
		fmt.Printf("linkpanel client %s\n", version)
		return nil, nil, exitSuccess, flag.ErrHelp
	}

	if udp {
		config.Protocol = "udp"
	}

	flagsSet := make(map[string]bool)
	flagSet.Visit(func(f *flag.Flag) {
		flagsSet[f.Name] = true
	})
	// Map shorthands to their long names so mergeConfig only checks one.
	shorts := map[string]string{
		"S": "server-url", "p": "protocol", "d": "direction",
		"t": "duration", "s": "streams", "b": "bandwidth",
		"U": "units", "i": "iface", "w": "watch",
		"v": "verbose", "q": "quiet",
	}
	for short, long := range shorts {
		if flagsSet[short] {
			flagsSet[long] = true
		}
	}
	if udp {
		flagsSet["protocol"] = true
	}

	// Positional argument: the target host, or a server alias when it
	// matches an entry in the config file (resolved during merge).
	if flagSet.NArg() > 0 {
		positional := flagSet.Arg(0)
		if config.Target == "" {
			config.Target = positional
			flagsSet["target"] = true
		}
		if flagSet.NArg() > 1 {
			err := fmt.Errorf("unexpected argument: %s", flagSet.Arg(1))
			fmt.Fprintf(os.Stderr, "linkpanel client: %v\n", err)
			printUsage(os.Stderr)
			return nil, nil, exitUsage, err
		}
	}

	return config, flagsSet, exitSuccess, nil
}

func validateConfig(config *Config) error {
	if config.Watch || config.History > 0 {
		return nil
	}
	if config.Target == "" {
		return fmt.Errorf("no target host\n\n" +
			"Specify the iperf3 server to test against:\n" +
			"  linkpanel client 10.0.0.2\n" +
			"  linkpanel client --target speedtest.example.com\n" +
			"or set default_target in the config file")
	}
	if config.Protocol != "tcp" && config.Protocol != "udp" {
		return fmt.Errorf("invalid protocol: %s (must be tcp or udp)", config.Protocol)
	}
	if config.Direction != "upload" && config.Direction != "download" {
		return fmt.Errorf("invalid direction: %s (must be upload or download)", config.Direction)
	}
	if config.Duration < 1 || config.Duration > 300 {
		return fmt.Errorf("invalid duration: %d (must be 1-300 seconds)", config.Duration)
	}
	if config.Streams < 1 || config.Streams > 64 {
		return fmt.Errorf("invalid streams: %d (must be 1-64)", config.Streams)
	}
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("invalid port: %d", config.Port)
	}
	if config.Bandwidth != "" && config.Protocol != "udp" {
		return fmt.Errorf("--bandwidth only applies to UDP tests")
	}
	return nil
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Usage: linkpanel client [options] [target]

Run a bandwidth test through a linkpanel server, or watch live
interface statistics.

Test options:
      [target]             iperf3 server host (positional)
      --target HOST        iperf3 server host
      --port N             iperf3 server port (default 5201)
  -p, --protocol PROTO     tcp or udp (default tcp)
  -u                       shorthand for --protocol udp
  -d, --direction DIR      upload or download (default upload)
  -t, --duration SEC       test duration (default 10)
  -s, --streams N          parallel streams (default 1)
  -b, --bandwidth RATE     UDP target bandwidth, e.g. 100M
  -U, --units UNIT         Kbits, Mbits or Gbits (default Mbits)
  -i, --iface IFACE        interface for counter sampling

Modes:
  -w, --watch              watch live interface statistics
      --interval SEC       watch poll interval (default 2)
      --history N          print the last N stored runs and exit

Connection:
  -S, --server-url URL     panel server (default http://localhost:5000)
      --timeout SEC        overall timeout (default: duration + grace)

Output:
      --json               JSON output
      --plain              plain line-oriented output
  -v, --verbose            verbose output
  -q, --quiet              result only
      --no-color           disable colors

      --version            print version and exit
  -h, --help               print this help

Configuration file: ~/.config/linkpanel/config.yaml
Environment: LINKPANEL_SERVER_URL, LINKPANEL_TARGET, LINKPANEL_IFACE,
             LINKPANEL_UNITS, NO_COLOR
`)
}
