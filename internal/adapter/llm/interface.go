// Package llm provides an abstraction over streaming chat completion providers.
package llm

import "context"

// Client defines the interface for streaming chat completions.
type Client interface {
	// CreateChatCompletionStream sends a streaming chat completion request.
	// The callback is called for each chunk received, in arrival order. A
	// callback error aborts the stream and is returned unchanged.
	CreateChatCompletionStream(ctx context.Context, req *ChatCompletionRequest, callback StreamCallback) (*Usage, error)
}

// StreamCallback is called for each chunk in a streaming response.
type StreamCallback func(chunk *StreamChunk) error

// Ensure every provider implements Client.
var (
	_ Client = (*CompatClient)(nil)
	_ Client = (*OpenAIClient)(nil)
	_ Client = (*AnthropicClient)(nil)
	_ Client = (*MockClient)(nil)
)
