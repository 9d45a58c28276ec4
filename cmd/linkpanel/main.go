package main

import (
	"fmt"
	"os"
	"strings"

	check "github.com/netpanel/linkpanel/cmd/check"
	client "github.com/netpanel/linkpanel/cmd/client"
	mcpcmd "github.com/netpanel/linkpanel/cmd/mcp"
	server "github.com/netpanel/linkpanel/cmd/server"
)

var version = "dev"

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		os.Exit(server.Run(nil, version))
	}

	switch args[0] {
	case "server":
		os.Exit(server.Run(args[1:], version))
	case "client":
		os.Exit(client.Run(args[1:], version))
	case "check":
		os.Exit(check.Run(args[1:], version))
	case "mcp":
		os.Exit(mcpcmd.Run(version))
	case "help", "-h", "--help":
		printUsage()
		return
	case "version", "--version":
		fmt.Printf("linkpanel %s\n", version)
		return
	default:
		if strings.HasPrefix(args[0], "-") {
			os.Exit(server.Run(args, version))
		}
		fmt.Fprintf(os.Stderr, "linkpanel: unknown command %q\n\n", args[0])
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stdout, `Usage: linkpanel <command> [args]

Commands:
  server    Run the bandwidth panel server (default when no command provided)
  client    Run a bandwidth test from the terminal
  check     Preflight check of a panel server (~2-3 seconds)
  mcp       Run as MCP server (stdio transport, for AI agents)

Examples:
  linkpanel server
  linkpanel client -p tcp -d download -t 30 10.0.0.2
  linkpanel check --json http://panel.lan:5000
  linkpanel mcp
`)
}
