package nodes

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/internal/llm"
	"github.com/rendis/nodeflow/internal/secrets"
	"github.com/rendis/nodeflow/pkg/schema"
)

var testCreds = secrets.StaticCredentials{"openai": "sk-test", "anthropic": "sk-ant"}

func agentNode(data map[string]any) *schema.Node {
	return node("a1", schema.NodeTypeAgent, data)
}

func TestAgent_StreamsAndStoresAnswer(t *testing.T) {
	rec := newRecorder()
	fc := &fakeCompleter{chunks: []llm.Chunk{
		{Kind: llm.ChunkReasoning, Text: "thinking..."},
		{Kind: llm.ChunkContent, Text: "Hello, "},
		{Kind: llm.ChunkContent, Text: "Ada"},
	}}
	ec := newContext(map[string]any{"who": "Ada"})
	n := agentNode(map[string]any{
		"name":         "Greeter",
		"systemPrompt": "You greet people.",
		"userPrompt":   "Say hi to ${who}",
		"model":        "gpt-5-mini",
	})

	res := NewAgentExecutor(fc, testCreds, nil).Execute(context.Background(), "a1", decode(t, n), ec, rec)
	require.True(t, res.Success, res.Error)

	answerVar, _ := ec.GetVariable(schema.DefaultAgentOutput)
	assert.Equal(t, "Hello, Ada", answerVar)
	assert.Equal(t, "Hello, Ada", rec.Text(schema.EventAgentResponse))
	assert.Equal(t, "thinking...", rec.Text(schema.EventAgentThinking))

	assert.Equal(t, llm.Request{
		Provider: "openai",
		Model:    "gpt-5-mini",
		APIKey:   "sk-test",
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You greet people."},
			{Role: llm.RoleUser, Content: "Say hi to Ada"},
		},
		ReasoningEffort: schema.DefaultReasoningEffort,
	}, fc.last)

	require.Len(t, rec.Named(schema.EventNodeStart), 1)
	assert.Equal(t, "Agent node 'Greeter' starting", rec.Named(schema.EventNodeStart)[0].Content)
	require.Len(t, rec.Named(schema.EventNodeComplete), 1)
	assert.Len(t, rec.Named(schema.EventTransparency), 2)
}

func TestAgent_PromptFallback(t *testing.T) {
	tests := []struct {
		name   string
		prompt string
		vars   map[string]any
		want   string
	}{
		{"unresolved placeholder uses earlier answer", "${missing}", map[string]any{"agent_response": "prior", "input": "x"}, "prior"},
		{"bare unresolved placeholder", "tell me about $missing", map[string]any{"query": "q"}, "q"},
		{"escaped dollar is not a placeholder", "price $$amount", map[string]any{"query": "q"}, "price $amount"},
		{"empty prompt uses input", "", map[string]any{"input": "question"}, "question"},
		{"skips blank fallbacks", "", map[string]any{"agent_response": "  ", "query": "q"}, "q"},
		{"no fallback keeps prompt", "${missing}", nil, "${missing}"},
		{"resolved prompt wins", "about ${topic}", map[string]any{"topic": "go", "input": "x"}, "about go"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := answer("ok")
			n := agentNode(map[string]any{"userPrompt": tt.prompt})
			res := NewAgentExecutor(fc, testCreds, nil).Execute(context.Background(), "a1", decode(t, n), newContext(tt.vars), newRecorder())
			require.True(t, res.Success, res.Error)
			require.Len(t, fc.last.Messages, 1)
			assert.Equal(t, tt.want, fc.last.Messages[0].Content)
		})
	}
}

func TestAgent_CustomOutputAndEffort(t *testing.T) {
	fc := answer("42")
	ec := newContext(map[string]any{"input": "q"})
	n := agentNode(map[string]any{
		"provider":        "anthropic",
		"outputVariable":  "answer",
		"reasoningEffort": "extreme",
	})

	res := NewAgentExecutor(fc, testCreds, nil).Execute(context.Background(), "a1", decode(t, n), ec, newRecorder())
	require.True(t, res.Success, res.Error)

	v, _ := ec.GetVariable("answer")
	assert.Equal(t, "42", v)
	assert.Equal(t, "sk-ant", fc.last.APIKey)
	assert.Equal(t, "medium", fc.last.ReasoningEffort)
}

func TestAgent_MissingCredential(t *testing.T) {
	rec := newRecorder()
	fc := answer("never")
	res := NewAgentExecutor(fc, secrets.StaticCredentials{}, nil).Execute(context.Background(), "a1",
		decode(t, agentNode(nil)), newContext(nil), rec)

	require.False(t, res.Success)
	assert.Contains(t, res.Error, `no active connection for provider "openai"`)
	assert.Zero(t, fc.calls)
	require.Len(t, rec.Errors(), 1)
	assert.Equal(t, 500, rec.Errors()[0].Code)
}

func TestAgent_StreamError(t *testing.T) {
	rec := newRecorder()
	fc := answer("partial")
	fc.err = errors.New("connection reset")
	ec := newContext(nil)

	res := NewAgentExecutor(fc, testCreds, nil).Execute(context.Background(), "a1", decode(t, agentNode(nil)), ec, rec)

	require.False(t, res.Success)
	assert.Equal(t, "connection reset", res.Error)
	assert.False(t, ec.HasVariable(schema.DefaultAgentOutput))
	assert.Equal(t, "Agent node error: connection reset", rec.Errors()[0].Content)
}

func TestAgent_CancelledMidStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fc := llm.CompleterFunc(func(_ context.Context, _ llm.Request) iter.Seq2[llm.Chunk, error] {
		return func(yield func(llm.Chunk, error) bool) {
			if !yield(llm.Chunk{Kind: llm.ChunkContent, Text: "a"}, nil) {
				return
			}
			cancel()
			yield(llm.Chunk{Kind: llm.ChunkContent, Text: "b"}, nil)
		}
	})
	ec := newContext(nil)

	res := NewAgentExecutor(fc, testCreds, nil).Execute(ctx, "a1", decode(t, agentNode(nil)), ec, newRecorder())

	require.False(t, res.Success)
	assert.Equal(t, "agent cancelled", res.Error)
	assert.False(t, ec.HasVariable(schema.DefaultAgentOutput))
}

func TestAgent_NoCompleter(t *testing.T) {
	res := NewAgentExecutor(nil, testCreds, nil).Execute(context.Background(), "a1", decode(t, agentNode(nil)), newContext(nil), newRecorder())
	require.False(t, res.Success)
	assert.Equal(t, "no completion service configured", res.Error)
}
