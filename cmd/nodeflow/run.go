package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/internal/validation"
	"github.com/rendis/nodeflow/internal/xjson"
	"github.com/rendis/nodeflow/pkg/schema"
)

// inputFlags collects repeated --input name=value flags. Values that parse
// as JSON keep their type; anything else is a string.
type inputFlags map[string]any

func (f inputFlags) String() string {
	parts := make([]string, 0, len(f))
	for k, v := range f {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, ",")
}

func (f inputFlags) Set(s string) error {
	name, raw, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return fmt.Errorf("input %q must be name=value", s)
	}
	var v any
	if xjson.Valid([]byte(raw)) && xjson.Unmarshal([]byte(raw), &v) == nil {
		f[name] = v
		return nil
	}
	f[name] = raw
	return nil
}

func runValidate(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: nodeflow validate <workflow.json>")
		return 2
	}
	raw, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ev, err := expressions.NewEvaluator()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	wv, err := validation.NewWorkflowValidator(ev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return printValidation(out, wv, raw)
}

func printValidation(out io.Writer, wv *validation.WorkflowValidator, raw []byte) int {
	_, result := wv.ValidateDocument(raw)
	if result.Valid() {
		if result.Graph != nil {
			fmt.Fprintf(out, "valid: %d nodes, %d edges\n", result.Graph.NodeCount, result.Graph.EdgeCount)
		} else {
			fmt.Fprintln(out, "valid")
		}
		return 0
	}
	fmt.Fprintln(out, "invalid:")
	for _, msg := range result.Errors() {
		fmt.Fprintf(out, "  - %s\n", msg)
	}
	return 1
}

func runWorkflow(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	inputs := inputFlags{}
	fs.Var(inputs, "input", "input variable as name=value (repeatable)")
	sse := fs.Bool("sse", false, "print raw Server-Sent Events frames")
	memory := fs.Bool("memory", false, "use an in-memory store instead of the database")
	envFile := fs.String("env-file", ".env", "dotenv file loaded before the environment is read")
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: nodeflow run [--input name=value ...] [--sse] <workflow.json>")
		return 2
	}
	raw, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	cfg := loadConfig(*envFile)
	if *memory {
		cfg.DBPath = ":memory:"
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()

	def, result := a.validator.ValidateDocument(raw)
	if def == nil || !result.Config.Valid() {
		return printValidation(out, a.validator, raw)
	}

	sessionID := uuid.NewString()
	var deliver streaming.DeliverFunc = newConsolePrinter(out).deliver
	if *sse {
		deliver = sseTo(out)
	}
	sink := streaming.NewEventSink(def.ID, sessionID, deliver)

	res, err := a.service.Execute(ctx, def.ID, def, inputs, sink, engine.WithSessionID(sessionID))
	if err != nil {
		a.logger.Debug("run ended with error", "error", err)
	}
	if !*sse {
		fmt.Fprintf(out, "\nstatus: %s (%s)\n", res.Status, res.Duration.Round(time.Millisecond))
	}
	if res.Status != schema.RunStatusCompleted {
		return 1
	}
	return 0
}

func sseTo(out io.Writer) streaming.DeliverFunc {
	var mu sync.Mutex
	return func(_ context.Context, ev streaming.StreamEvent) error {
		frame, err := streaming.EncodeSSE(ev)
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		_, err = out.Write(frame)
		return err
	}
}

// consolePrinter renders events for a terminal: blocks as labelled lines,
// streams inline as they arrive.
type consolePrinter struct {
	mu     sync.Mutex
	out    io.Writer
	stream string
}

func newConsolePrinter(out io.Writer) *consolePrinter {
	return &consolePrinter{out: out}
}

func (p *consolePrinter) deliver(_ context.Context, ev streaming.StreamEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Kind {
	case schema.KindTextChunk:
		if p.stream != ev.StreamID {
			p.stream = ev.StreamID
			fmt.Fprintf(p.out, "[%s] ", ev.TaggedName())
		}
		_, err := io.WriteString(p.out, ev.Content)
		return err
	case schema.KindTextEnd:
		if p.stream == ev.StreamID {
			p.stream = ""
			fmt.Fprintln(p.out)
		}
	case schema.KindTextBlock:
		fmt.Fprintf(p.out, "[%s] %s\n", ev.TaggedName(), ev.Content)
	case schema.KindJSON:
		data, err := xjson.MarshalIndent(ev.Data, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintf(p.out, "[%s]\n%s\n", ev.TaggedName(), data)
	case schema.KindError:
		fmt.Fprintf(p.out, "[%s] error %d: %s\n", ev.TaggedName(), ev.Code, ev.Content)
	}
	return nil
}
