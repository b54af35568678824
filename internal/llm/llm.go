// Package llm streams chat completions from OpenAI-compatible providers,
// separating reasoning deltas from answer deltas.
package llm

import (
	"context"
	"iter"
)

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the prompt.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request describes one streamed completion.
type Request struct {
	Provider        string
	Model           string
	APIKey          string
	Messages        []Message
	ReasoningEffort string
}

// ChunkKind separates the reasoning channel from the answer channel.
type ChunkKind string

const (
	ChunkReasoning ChunkKind = "reasoning"
	ChunkContent   ChunkKind = "content"
)

// Chunk is one delta of a streamed completion.
type Chunk struct {
	Kind ChunkKind
	Text string
}

// Completer streams a completion. The sequence ends after the last chunk or
// after yielding a non-nil error. Callers may stop early by breaking out of
// the range loop; the underlying connection is released either way.
type Completer interface {
	Stream(ctx context.Context, req Request) iter.Seq2[Chunk, error]
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, req Request) iter.Seq2[Chunk, error]

func (f CompleterFunc) Stream(ctx context.Context, req Request) iter.Seq2[Chunk, error] {
	return f(ctx, req)
}

// Collect drains a stream and returns the concatenated reasoning and answer.
func Collect(seq iter.Seq2[Chunk, error]) (reasoning, content string, err error) {
	var r, c []byte
	for chunk, err := range seq {
		if err != nil {
			return string(r), string(c), err
		}
		switch chunk.Kind {
		case ChunkReasoning:
			r = append(r, chunk.Text...)
		case ChunkContent:
			c = append(c, chunk.Text...)
		}
	}
	return string(r), string(c), nil
}

// Fail returns a sequence that yields err and stops.
func Fail(err error) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		yield(Chunk{}, err)
	}
}
