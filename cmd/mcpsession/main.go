// Command mcpsession runs a demonstration MCP server or inspects a running
// one.
//
//	mcpsession serve [-config file] [-transport stdio|socket|websocket] [-addr A] [-dir D]
//	mcpsession inspect [-addr A | -url U | -- command args...]
package main

import (
	"fmt"
	"io"
	"os"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

var version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printHelp(stderr)
		return exitUsage
	}

	command, cmdArgs := args[0], args[1:]
	switch command {
	case "serve":
		return runServe(cmdArgs, stderr)
	case "inspect":
		return runInspect(cmdArgs, stdout, stderr)
	case "help", "-h", "--help":
		printHelp(stdout)
		return exitOK
	case "version", "-v", "--version":
		fmt.Fprintf(stdout, "mcpsession %s\n", version)
		return exitOK
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", command)
		printHelp(stderr)
		return exitUsage
	}
}

func printHelp(w io.Writer) {
	fmt.Fprint(w, `mcpsession - MCP session server and inspector

Usage: mcpsession <command> [options]

Commands:
  serve     Run the demo server
  inspect   Connect to a server and print what it offers
  version   Print the version

Serve options:
  -config     TOML configuration file (MCP_* variables override it)
  -transport  stdio, socket or websocket
  -addr       Listen address for socket and websocket
  -dir        Serve the files under this directory as resources
  -watch      Follow changes under -dir

Inspect options:
  -addr       Connect to a socket server
  -url        Connect to a websocket server (ws://host/mcp)
  -- cmd ...  Spawn a server and talk to it over stdio

Examples:
  mcpsession serve -transport websocket -addr 127.0.0.1:7400 -dir ./docs
  mcpsession inspect -url ws://127.0.0.1:7400/mcp
  mcpsession inspect -- mcpsession serve
`)
}
