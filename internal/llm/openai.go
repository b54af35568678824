package llm

import (
	"bytes"
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/xjson"
	"github.com/rendis/nodeflow/pkg/schema"
)

const chatCompletionsEndpoint = "/chat/completions"

// maxErrorBodySize caps how much of a failed response body is read.
const maxErrorBodySize int64 = 64 * 1024

// OpenAIClient speaks the OpenAI chat-completions streaming protocol. Every
// supported provider exposes an endpoint compatible with it.
type OpenAIClient struct {
	provider string
	baseURL  string
	client   *http.Client
	retry    RetryPolicy
	breakers *CircuitBreakerRegistry
	logger   *slog.Logger
}

// Option configures an OpenAIClient.
type Option func(*OpenAIClient)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *OpenAIClient) { o.client = c }
}

// WithRetryPolicy sets the policy for opening a stream.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *OpenAIClient) { o.retry = p }
}

// WithCircuitBreakers shares a breaker registry between clients.
func WithCircuitBreakers(r *CircuitBreakerRegistry) Option {
	return func(o *OpenAIClient) { o.breakers = r }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *OpenAIClient) { o.logger = l }
}

// NewOpenAIClient creates a client for provider rooted at baseURL
// (e.g. "https://api.openai.com/v1").
func NewOpenAIClient(provider, baseURL string, opts ...Option) *OpenAIClient {
	c := &OpenAIClient{
		provider: provider,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   http.DefaultClient,
		retry:    DefaultRetryPolicy(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breakers == nil {
		c.breakers = NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig())
	}
	return c
}

type chatRequest struct {
	Model           string    `json:"model"`
	Messages        []Message `json:"messages"`
	Stream          bool      `json:"stream"`
	ReasoningEffort string    `json:"reasoning_effort,omitempty"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content          *string `json:"content"`
			Reasoning        *string `json:"reasoning"`
			ReasoningContent *string `json:"reasoning_content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Stream opens the completion (with retries and the provider's circuit
// breaker) and yields reasoning and content deltas in arrival order.
func (c *OpenAIClient) Stream(ctx context.Context, req Request) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		if req.APIKey == "" {
			yield(Chunk{}, schema.NewErrorf(schema.ErrCodeProvider, "no API key configured for provider %q", c.provider))
			return
		}

		resp, err := c.open(ctx, req)
		if err != nil {
			yield(Chunk{}, err)
			return
		}
		defer resp.Body.Close()

		sc := newSSEScanner(resp.Body)
		for {
			if err := ctx.Err(); err != nil {
				yield(Chunk{}, err)
				return
			}
			payload, err := sc.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(Chunk{}, c.providerError("stream read failed", err))
				return
			}

			var chunk streamChunk
			if err := xjson.Unmarshal([]byte(payload), &chunk); err != nil {
				yield(Chunk{}, c.providerError("malformed stream chunk", err))
				return
			}
			if chunk.Error != nil {
				yield(Chunk{}, schema.NewErrorf(schema.ErrCodeProvider, "%s: %s", c.provider, chunk.Error.Message))
				return
			}
			for _, ch := range chunk.Choices {
				d := ch.Delta
				for _, r := range []*string{d.Reasoning, d.ReasoningContent} {
					if r != nil && *r != "" {
						if !yield(Chunk{Kind: ChunkReasoning, Text: *r}, nil) {
							return
						}
					}
				}
				if d.Content != nil && *d.Content != "" {
					if !yield(Chunk{Kind: ChunkContent, Text: *d.Content}, nil) {
						return
					}
				}
			}
		}
	}
}

// open posts the request, retrying retryable failures. The returned
// response has a 2xx status and an unread body.
func (c *OpenAIClient) open(ctx context.Context, req Request) (*http.Response, error) {
	body, err := xjson.Marshal(chatRequest{
		Model:           req.Model,
		Messages:        req.Messages,
		Stream:          true,
		ReasoningEffort: req.ReasoningEffort,
	})
	if err != nil {
		return nil, c.providerError("encode request", err)
	}

	maxAttempts := max(c.retry.MaxAttempts, 1)
	log := logging.LogWith(ctx, c.logger)

	for attempt := 0; ; attempt++ {
		if err := c.breakers.AllowRequest(c.provider); err != nil {
			return nil, err
		}

		resp, err := c.post(ctx, body, req.APIKey)
		if err == nil {
			c.breakers.RecordSuccess(c.provider)
			return resp, nil
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		c.breakers.RecordFailure(c.provider)

		if !IsRetryableError(err) {
			return nil, c.providerError("request failed", err)
		}
		if attempt+1 >= maxAttempts {
			return nil, schema.NewErrorf(schema.ErrCodeRetryExhausted,
				"%s: request failed after %d attempts: %v", c.provider, attempt+1, err).
				WithCause(err).
				WithDetails(map[string]any{"provider": c.provider, "attempts": attempt + 1})
		}

		delay := ComputeBackoff(c.retry, attempt)
		log.WarnContext(ctx, "completion request failed, retrying",
			"provider", c.provider, "attempt", attempt+1, "delay", delay, "error", err)
		if err := WaitForBackoff(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (c *OpenAIClient) post(ctx context.Context, body []byte, apiKey string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatCompletionsEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	return resp, nil
}

func (c *OpenAIClient) providerError(msg string, err error) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeProvider, "%s: %s: %v", c.provider, msg, err).
		WithCause(err).
		WithDetails(map[string]any{"provider": c.provider})
}
