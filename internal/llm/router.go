package llm

import (
	"context"
	"iter"
	"sort"

	"github.com/rendis/nodeflow/pkg/schema"
)

// DefaultBaseURLs are the OpenAI-compatible endpoints of each provider.
var DefaultBaseURLs = map[string]string{
	"openai":    "https://api.openai.com/v1",
	"anthropic": "https://api.anthropic.com/v1",
	"gemini":    "https://generativelanguage.googleapis.com/v1beta/openai",
	"grok":      "https://api.x.ai/v1",
}

// Router dispatches each request to the Completer registered for its
// provider.
type Router struct {
	completers map[string]Completer
}

// NewRouter returns an empty Router.
func NewRouter() *Router {
	return &Router{completers: make(map[string]Completer)}
}

// NewDefaultRouter registers an OpenAIClient for every provider in
// DefaultBaseURLs. overrides replaces individual base URLs; all clients
// share one circuit breaker registry.
func NewDefaultRouter(overrides map[string]string, opts ...Option) *Router {
	r := NewRouter()
	breakers := NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig())
	opts = append([]Option{WithCircuitBreakers(breakers)}, opts...)
	for provider, url := range DefaultBaseURLs {
		if o, ok := overrides[provider]; ok && o != "" {
			url = o
		}
		r.Register(provider, NewOpenAIClient(provider, url, opts...))
	}
	return r
}

// Register sets the completer for provider.
func (r *Router) Register(provider string, c Completer) {
	r.completers[provider] = c
}

// Providers returns the registered provider names, sorted.
func (r *Router) Providers() []string {
	out := make([]string, 0, len(r.completers))
	for p := range r.completers {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (r *Router) Stream(ctx context.Context, req Request) iter.Seq2[Chunk, error] {
	c, ok := r.completers[req.Provider]
	if !ok {
		return Fail(schema.NewErrorf(schema.ErrCodeProvider, "unsupported provider %q", req.Provider))
	}
	return c.Stream(ctx, req)
}
