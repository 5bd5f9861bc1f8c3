// Package llmclient sends chat-style completion requests to the LM
// providers named in spec.md §2 ("OpenAI-compatible and
// Anthropic-compatible providers") and returns text plus token counts,
// the single collaborator the Agent Loop depends on for step 3 of
// spec.md §4.2.
package llmclient

import "context"

// Request is one completion call: a system message plus a single user
// message, matching the prompt shape internal/agentloop composes.
type Request struct {
	Model    string
	System   string
	User     string
	MaxTokens int
}

// Response is the LM Client's contract with the Agent Loop: text plus
// the token counts the Pricing Table needs (spec.md §4.5).
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
	Model        string
}

// Client is the provider-agnostic interface the Agent Loop calls
// through, mirroring the "assumed to expose complete(messages, model)"
// collaborator boundary of spec.md §1.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
