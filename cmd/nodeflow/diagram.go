package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/rendis/nodeflow/internal/diagram"
	"github.com/rendis/nodeflow/internal/validation"
)

// runDiagram renders a workflow file as ASCII, Mermaid or PNG.
func runDiagram(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("diagram", flag.ExitOnError)
	format := fs.String("format", "ascii", "output format: ascii, mermaid or png")
	outPath := fs.String("o", "", "write to this file instead of stdout (required for png)")
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: nodeflow diagram [--format ascii|mermaid|png] [-o file] <workflow.json>")
		return 2
	}
	raw, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	def, err := validation.DecodeDefinition(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	model, err := diagram.Build(def, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build error: %v\n", err)
		return 1
	}

	var data []byte
	switch *format {
	case "ascii":
		data = []byte(diagram.RenderASCII(model))
	case "mermaid":
		data = []byte(diagram.RenderMermaid(model))
	case "png":
		if *outPath == "" {
			fmt.Fprintln(os.Stderr, "Error: png output needs -o")
			return 2
		}
		data, err = diagram.RenderImage(context.Background(), model)
		if err != nil {
			fmt.Fprintf(os.Stderr, "image error: %v\n", err)
			return 1
		}
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown format %q\n", *format)
		return 2
	}

	if *outPath != "" {
		if err := os.WriteFile(*outPath, data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(out, "Written: %s (%d bytes)\n", *outPath, len(data))
		return 0
	}
	_, _ = out.Write(data)
	return 0
}
