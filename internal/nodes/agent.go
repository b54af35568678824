package nodes

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rendis/nodeflow/internal/execution"
	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/internal/llm"
	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/secrets"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/pkg/schema"
)

// promptFallbacks are consulted in order when the user prompt renders empty
// or still holds a placeholder.
var promptFallbacks = []string{
	"agent_response",
	"input_as_text",
	"user_input",
	"input",
	"query",
	"message",
	"prompt",
}

// AgentExecutor streams one completion from an LLM provider and stores the
// answer in a variable.
type AgentExecutor struct {
	completer llm.Completer
	creds     secrets.CredentialLookup
	logger    *slog.Logger
}

// NewAgentExecutor creates an AgentExecutor.
func NewAgentExecutor(completer llm.Completer, creds secrets.CredentialLookup, logger *slog.Logger) *AgentExecutor {
	return &AgentExecutor{completer: completer, creds: creds, logger: logger}
}

func (e *AgentExecutor) Execute(ctx context.Context, nodeID string, cfg schema.NodeConfig, ec *execution.Context, sink streaming.Sink) *schema.ExecutionResult {
	out := newOutput(sink, e.logger, nodeID)
	return run(ctx, out, "Agent", func() error {
		c, ok := cfg.(schema.AgentConfig)
		if !ok {
			return wrongConfig(schema.NodeTypeAgent, cfg)
		}
		if e.completer == nil {
			return schema.NewError(schema.ErrCodeProvider, "no completion service configured")
		}
		name := label(c.Name, nodeID)
		log := logging.LogWith(ctx, out.log).With("provider", c.Provider, "model", c.Model)

		out.block(ctx, schema.EventNodeStart, fmt.Sprintf("Agent node '%s' starting", name))

		apiKey, err := e.apiKey(ctx, c.Provider)
		if err != nil {
			return err
		}

		vars := ec.Variables()
		system := expressions.Render(c.SystemPrompt, vars)
		user, resolved := expressions.RenderResolved(c.UserPrompt, vars)
		source := "user prompt"
		if strings.TrimSpace(user) == "" || !resolved {
			if v, from, ok := fallbackPrompt(vars); ok {
				user, source = v, "variable '"+from+"'"
				log.DebugContext(ctx, "agent prompt fell back to variable", "variable", from)
			}
		}

		var messages []llm.Message
		if strings.TrimSpace(system) != "" {
			messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: system})
		}
		if strings.TrimSpace(user) != "" {
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: user})
		}

		out.trace(ctx, fmt.Sprintf("Agent '%s' calling %s/%s (reasoning effort %s)\nPrompt source: %s\nPrompt: %s",
			name, c.Provider, c.Model, c.ReasoningEffort, source, preview(user)))

		answer, err := e.stream(ctx, out, llm.Request{
			Provider:        c.Provider,
			Model:           c.Model,
			APIKey:          apiKey,
			Messages:        messages,
			ReasoningEffort: c.ReasoningEffort,
		})
		if err != nil {
			return err
		}

		ec.SetVariable(c.OutputVariable, answer)
		log.InfoContext(ctx, "agent completed", "output", c.OutputVariable, "chars", len(answer))
		out.trace(ctx, fmt.Sprintf("Agent '%s' stored %d characters in '%s': %s",
			name, len([]rune(answer)), c.OutputVariable, preview(answer)))
		out.block(ctx, schema.EventNodeComplete, fmt.Sprintf("Agent node '%s' completed", name))
		return nil
	})
}

func (e *AgentExecutor) apiKey(ctx context.Context, provider string) (string, error) {
	if e.creds == nil {
		return "", schema.NewErrorf(schema.ErrCodeProvider, "no credentials configured for provider %q", provider)
	}
	key, ok, err := e.creds.ActiveCredential(ctx, provider)
	if err != nil {
		return "", err
	}
	if !ok || key == "" {
		return "", schema.NewErrorf(schema.ErrCodeProvider, "no active connection for provider %q", provider)
	}
	return key, nil
}

// stream forwards reasoning and answer deltas to their text streams and
// returns the full answer. Both streams are completed on every path.
func (e *AgentExecutor) stream(ctx context.Context, out *output, req llm.Request) (string, error) {
	thinking := out.stream(ctx, schema.EventAgentThinking)
	response := out.stream(ctx, schema.EventAgentResponse)
	defer func() {
		thinking.complete(ctx)
		response.complete(ctx)
	}()

	var answer strings.Builder
	for chunk, err := range e.completer.Stream(ctx, req) {
		if err != nil {
			return "", err
		}
		if cerr := ctx.Err(); cerr != nil {
			return "", schema.NewError(schema.ErrCodeCancelled, "agent cancelled").WithCause(cerr)
		}
		switch chunk.Kind {
		case llm.ChunkReasoning:
			thinking.emit(ctx, chunk.Text)
		default:
			answer.WriteString(chunk.Text)
			response.emit(ctx, chunk.Text)
		}
	}
	if err := ctx.Err(); err != nil {
		return "", schema.NewError(schema.ErrCodeCancelled, "agent cancelled").WithCause(err)
	}
	return answer.String(), nil
}

func fallbackPrompt(vars map[string]any) (string, string, bool) {
	for _, name := range promptFallbacks {
		v, ok := vars[name]
		if !ok || v == nil {
			continue
		}
		if s := expressions.Stringify(v); strings.TrimSpace(s) != "" {
			return s, name, true
		}
	}
	return "", "", false
}
