package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// CompatClient talks to any OpenAI-compatible endpoint (LiteLLM, Ollama, vLLM)
// over plain HTTP and parses the SSE stream itself.
type CompatClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewCompatClient creates a new OpenAI-compatible client. A zero timeout means
// the HTTP client never times out on its own.
func NewCompatClient(baseURL, apiKey string, timeout time.Duration) *CompatClient {
	return &CompatClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// CreateChatCompletionStream sends a streaming chat completion request.
func (c *CompatClient) CreateChatCompletionStream(ctx context.Context, req *ChatCompletionRequest, callback StreamCallback) (*Usage, error) {
	req.Stream = true

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		var errResp ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != nil {
			return nil, fmt.Errorf("LLM API error [%d]: %s (type: %s)", resp.StatusCode, errResp.Error.Message, errResp.Error.Type)
		}
		return nil, fmt.Errorf("LLM API error [%d]: %s", resp.StatusCode, string(respBody))
	}

	reader := bufio.NewReader(resp.Body)
	var usage *Usage

	for {
		select {
		case <-ctx.Done():
			return usage, ctx.Err()
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return usage, fmt.Errorf("failed to read stream: %w", err)
		}
		eof := err == io.EOF

		line = strings.TrimSpace(line)
		if data, ok := strings.CutPrefix(line, "data:"); ok {
			data = strings.TrimSpace(data)
			if data == "[DONE]" {
				return usage, nil
			}

			var frame streamFrame
			if err := json.Unmarshal([]byte(data), &frame); err != nil {
				return usage, fmt.Errorf("malformed stream chunk: %w", err)
			}
			if frame.Error != nil {
				return usage, fmt.Errorf("LLM stream error: %s (type: %s)", frame.Error.Message, frame.Error.Type)
			}
			chunk := frame.StreamChunk
			if chunk.Usage != nil {
				usage = chunk.Usage
			}
			if err := callback(&chunk); err != nil {
				return usage, err
			}
		}

		if eof {
			return usage, nil
		}
	}
}

// streamFrame is a data frame that may carry an error body instead of a chunk.
type streamFrame struct {
	StreamChunk
	Error *APIError `json:"error"`
}

// setHeaders sets common request headers.
func (c *CompatClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
