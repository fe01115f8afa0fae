package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

// ChatCompletionStreamer captures the subset of the openai-go chat completion
// service used by OpenAIClient. It is satisfied by *openai.ChatCompletionService.
type ChatCompletionStreamer interface {
	NewStreaming(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk]
}

// OpenAIClient streams completions from the OpenAI Chat Completions API.
type OpenAIClient struct {
	completions ChatCompletionStreamer
}

// NewOpenAIClient creates a client backed by openai-go. SDK retries are
// disabled: a failed completion is reported once and never replayed.
func NewOpenAIClient(apiKey, baseURL string) *OpenAIClient {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return NewOpenAIClientWith(&client.Chat.Completions)
}

// NewOpenAIClientWith wraps an existing chat completion service.
func NewOpenAIClientWith(completions ChatCompletionStreamer) *OpenAIClient {
	return &OpenAIClient{completions: completions}
}

// CreateChatCompletionStream sends a streaming chat completion request.
func (c *OpenAIClient) CreateChatCompletionStream(ctx context.Context, req *ChatCompletionRequest, callback StreamCallback) (*Usage, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: encodeOpenAIMessages(req.Messages),
	}
	if req.MaxTokens != nil {
		params.MaxCompletionTokens = openai.Int(int64(*req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	stream := c.completions.NewStreaming(ctx, params)
	defer stream.Close()

	var usage *Usage
	for stream.Next() {
		chunk := stream.Current()

		out := &StreamChunk{
			ID:      chunk.ID,
			Object:  "chat.completion.chunk",
			Created: chunk.Created,
			Model:   chunk.Model,
			Choices: make([]Choice, 0, len(chunk.Choices)),
		}
		for _, choice := range chunk.Choices {
			out.Choices = append(out.Choices, Choice{
				Index: int(choice.Index),
				Delta: &ChatMessage{
					Role:    string(choice.Delta.Role),
					Content: choice.Delta.Content,
				},
				FinishReason: string(choice.FinishReason),
			})
		}
		if chunk.Usage.TotalTokens > 0 {
			usage = &Usage{
				PromptTokens:     int(chunk.Usage.PromptTokens),
				CompletionTokens: int(chunk.Usage.CompletionTokens),
				TotalTokens:      int(chunk.Usage.TotalTokens),
			}
			out.Usage = usage
		}

		if err := callback(out); err != nil {
			return usage, err
		}
	}
	if err := stream.Err(); err != nil {
		return usage, fmt.Errorf("openai stream: %w", err)
	}
	return usage, nil
}

func encodeOpenAIMessages(msgs []ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
