// Package policy admits or rejects chat requests with an OPA rego policy.
package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"

	"github.com/xiaot623/gogo/chatrelay/internal/domain"
)

// Decisions a policy may return.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// DeniedError is returned by Admit when the policy rejects a request.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	if e.Reason == "" {
		return "request denied by policy"
	}
	return "request denied by policy: " + e.Reason
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content. The
// module must declare package chat_policy.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.chat_policy"),
		rego.Module("chat_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// NewEngineFromFile loads the policy at path, or DefaultPolicy when path is empty.
func NewEngineFromFile(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return NewEngine(ctx, string(content))
}

// Evaluate runs the policy against input.
// Returns: decision (allow, deny), reason (optional), error
func (e *Engine) Evaluate(ctx context.Context, input any) (string, string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionAllow, "default", nil
	}

	doc, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return "", "", fmt.Errorf("unexpected policy document %T", results[0].Expressions[0].Value)
	}

	decision, _ := doc["decision"].(string)
	reason, _ := doc["reason"].(string)
	switch decision {
	case "":
		return DecisionAllow, "default", nil
	case DecisionAllow, DecisionDeny:
		return decision, reason, nil
	}
	return "", "", fmt.Errorf("unexpected policy decision %q", decision)
}

// Admit evaluates the policy for a chat request and returns a *DeniedError
// when it is rejected.
func (e *Engine) Admit(ctx context.Context, in *domain.RunInput) error {
	decision, reason, err := e.Evaluate(ctx, Input(in))
	if err != nil {
		return err
	}
	if decision == DecisionDeny {
		return &DeniedError{Reason: reason}
	}
	return nil
}

// Input builds the policy input document. Message contents are reduced to
// their length.
func Input(in *domain.RunInput) map[string]any {
	messages := make([]any, 0, len(in.Messages))
	for _, m := range in.Messages {
		messages = append(messages, map[string]any{
			"role":           string(m.Role),
			"content_length": len(m.Text()),
		})
	}
	return map[string]any{
		"thread_id":     in.ThreadID,
		"run_id":        in.RunID,
		"message_count": len(in.Messages),
		"messages":      messages,
	}
}

// DefaultPolicy admits every request.
const DefaultPolicy = `
package chat_policy

default decision = "allow"

# Example: reject oversized conversations
# decision = "deny" {
# 	input.message_count > 200
# }
# reason = "conversation too long" {
# 	input.message_count > 200
# }
`
