package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

type timeoutClient struct {
	next    Client
	timeout time.Duration
}

// WithTimeout bounds every completion call, including reading the stream, by d.
func WithTimeout(next Client, d time.Duration) Client {
	return &timeoutClient{next: next, timeout: d}
}

func (c *timeoutClient) CreateChatCompletionStream(ctx context.Context, req *ChatCompletionRequest, callback StreamCallback) (*Usage, error) {
	ctx, cancel := context.WithTimeoutCause(ctx, c.timeout, fmt.Errorf("completion exceeded timeout of %s", c.timeout))
	defer cancel()

	usage, err := c.next.CreateChatCompletionStream(ctx, req, callback)
	if err != nil && ctx.Err() != nil {
		if cause := context.Cause(ctx); cause != nil && cause != ctx.Err() {
			return usage, fmt.Errorf("%w: %w", cause, err)
		}
	}
	return usage, err
}

type rateLimitedClient struct {
	next    Client
	limiter *rate.Limiter
}

// WithRateLimit admits at most rps completion calls per second with the given
// burst. Callers block until a token is available or ctx ends.
func WithRateLimit(next Client, rps float64, burst int) Client {
	if burst < 1 {
		burst = 1
	}
	return &rateLimitedClient{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (c *rateLimitedClient) CreateChatCompletionStream(ctx context.Context, req *ChatCompletionRequest, callback StreamCallback) (*Usage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return c.next.CreateChatCompletionStream(ctx, req, callback)
}
