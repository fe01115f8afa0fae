package llm

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// DefaultAnthropicMaxTokens caps completions when no max_tokens is configured.
// The Messages API rejects requests without one.
const DefaultAnthropicMaxTokens = 1024

// MessageStreamer captures the subset of the Anthropic SDK used by
// AnthropicClient. It is satisfied by *sdk.MessageService.
type MessageStreamer interface {
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// AnthropicClient streams completions from the Anthropic Messages API and
// presents them as OpenAI-style chunks.
type AnthropicClient struct {
	messages  MessageStreamer
	maxTokens int
}

// NewAnthropicClient creates a client backed by anthropic-sdk-go with SDK
// retries disabled.
func NewAnthropicClient(apiKey, baseURL string, maxTokens int) *AnthropicClient {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := sdk.NewClient(opts...)
	return NewAnthropicClientWith(&client.Messages, maxTokens)
}

// NewAnthropicClientWith wraps an existing Messages service.
func NewAnthropicClientWith(messages MessageStreamer, maxTokens int) *AnthropicClient {
	if maxTokens <= 0 {
		maxTokens = DefaultAnthropicMaxTokens
	}
	return &AnthropicClient{messages: messages, maxTokens: maxTokens}
}

// CreateChatCompletionStream sends a streaming Messages request.
func (c *AnthropicClient) CreateChatCompletionStream(ctx context.Context, req *ChatCompletionRequest, callback StreamCallback) (*Usage, error) {
	msgs, system := encodeAnthropicMessages(req.Messages)
	if len(msgs) == 0 {
		return nil, errors.New("anthropic: at least one user or assistant message is required")
	}

	maxTokens := c.maxTokens
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = *req.MaxTokens
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	stream := c.messages.NewStreaming(ctx, params)
	defer stream.Close()

	var (
		id    string
		model = req.Model
		usage Usage
	)
	for stream.Next() {
		switch ev := stream.Current().AsAny().(type) {
		case sdk.MessageStartEvent:
			id = ev.Message.ID
			if ev.Message.Model != "" {
				model = string(ev.Message.Model)
			}
			usage.PromptTokens = int(ev.Message.Usage.InputTokens)
		case sdk.ContentBlockDeltaEvent:
			text, ok := ev.Delta.AsAny().(sdk.TextDelta)
			if !ok {
				continue
			}
			if err := callback(anthropicChunk(id, model, text.Text, "")); err != nil {
				return &usage, err
			}
		case sdk.MessageDeltaEvent:
			usage.CompletionTokens = int(ev.Usage.OutputTokens)
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
			if ev.Delta.StopReason != "" {
				if err := callback(anthropicChunk(id, model, "", string(ev.Delta.StopReason))); err != nil {
					return &usage, err
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return &usage, fmt.Errorf("anthropic stream: %w", err)
	}
	return &usage, nil
}

func anthropicChunk(id, model, text, finishReason string) *StreamChunk {
	return &StreamChunk{
		ID:     id,
		Object: "chat.completion.chunk",
		Model:  model,
		Choices: []Choice{{
			Delta:        &ChatMessage{Role: "assistant", Content: text},
			FinishReason: finishReason,
		}},
	}
}

// encodeAnthropicMessages lifts system messages into the system prompt. Empty
// turns are dropped because the Messages API rejects empty text blocks.
func encodeAnthropicMessages(msgs []ChatMessage) ([]sdk.MessageParam, []sdk.TextBlockParam) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	var system []sdk.TextBlockParam

	for _, m := range msgs {
		if m.Content == "" {
			continue
		}
		switch m.Role {
		case "system":
			system = append(system, sdk.TextBlockParam{Text: m.Content})
		case "assistant":
			conversation = append(conversation, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}
	return conversation, system
}
