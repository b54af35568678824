// Command nodeflow serves, validates and runs agent workflow graphs.
package main

import (
	"fmt"
	"os"
)

const usage = `Usage: nodeflow <command> [flags]

Commands:
  serve      start the HTTP server
  mcp        serve MCP tools over stdio
  validate   validate a workflow file
  run        run a workflow file, streaming events to stdout
  diagram    render a workflow file as ascii, mermaid or png
  rotate-key re-encrypt stored secrets under a new ENCRYPTION_KEY
  version    print the version
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	args := os.Args[2:]
	var code int
	switch os.Args[1] {
	case "serve":
		code = runServe(args)
	case "mcp":
		code = runMCP(args)
	case "validate":
		code = runValidate(args, os.Stdout)
	case "run":
		code = runWorkflow(args, os.Stdout)
	case "diagram":
		code = runDiagram(args, os.Stdout)
	case "rotate-key":
		code = runRotateKey(args, os.Stdout)
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		code = 2
	}
	os.Exit(code)
}
