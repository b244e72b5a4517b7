// Package llmclient defines the Provider abstraction over a single LLM
// backend, independent of the quota, rotation, and retry policy that
// internal/quota layers on top of it.
//
// A Provider wraps exactly one (API key, model) pair. internal/quota holds
// one Provider per configured key and decides, per call, which Provider to
// route to. Implementors must be safe for concurrent use.
package llmclient

import "context"

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// CompletionRequest carries everything the LLM needs to produce a response.
type CompletionRequest struct {
	// Messages is the ordered conversation history.
	Messages []Message

	// SystemPrompt is an optional high-priority instruction injected before
	// the conversation history.
	SystemPrompt string

	// Temperature controls output randomness in the range [0.0, 2.0].
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int

	// JSONSchema, when non-nil, asks the provider to constrain its output to
	// a JSON object matching this JSON Schema. Providers that cannot enforce
	// this natively still receive the schema folded into the prompt by the
	// caller; this field is advisory for providers with native JSON modes.
	JSONSchema map[string]any
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage

	// Truncated is true when the provider reports the response was cut off
	// by the output token limit (finish_reason == "length" or equivalent).
	// internal/quota's transcription continuation loop does not read it; it
	// decides whether to issue another call from transcript coverage.
	Truncated bool
}

// Provider is the abstraction over a single LLM backend/key pair.
//
// Implementations must be safe for concurrent use. Each method should
// propagate context cancellation promptly.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the number of tokens that the given message list
	// would consume in the model's context window. Implementations may
	// approximate; the result must not undercount significantly, since
	// internal/quota uses it to charge daily token budgets conservatively.
	CountTokens(messages []Message) (int, error)

	// Capabilities returns static metadata describing the underlying model.
	Capabilities() ModelCapabilities
}
