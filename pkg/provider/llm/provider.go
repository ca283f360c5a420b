// Package llm defines the Provider interface for text-completion backends.
//
// The coaching features (reply suggestions, pronunciation feedback, session
// summaries) run over an ordinary chat-completion API rather than the live
// audio channel. An llm.Provider wraps one remote or local model API (OpenAI,
// Anthropic, Gemini, Ollama, ...) behind a uniform interface.
//
// Implementors must be safe for concurrent use.
package llm

import "context"

// Message is one turn of a chat conversation.
type Message struct {
	// Role is "system", "user" or "assistant".
	Role string

	// Content is the message text.
	Content string
}

// Usage holds token accounting information returned by the backend. Counts
// are in the model's native token unit and may differ between providers for
// the same textual content.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []Message

	// SystemPrompt is an optional high-priority instruction injected before
	// the conversation history. Providers without a dedicated system slot
	// prepend it as a "system"-role message.
	SystemPrompt string

	// Temperature controls output randomness in [0.0, 2.0]. Zero means use
	// the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may
	// generate. Zero means use the provider default.
	MaxTokens int
}

// CompletionResponse is the model's full reply.
type CompletionResponse struct {
	// Content is the text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Capabilities describes static properties of a provider's model.
type Capabilities struct {
	ContextWindow   int
	MaxOutputTokens int
	SupportsVision  bool
}

// Provider is the abstraction over any chat-completion backend.
//
// Complete must propagate context cancellation promptly.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata about the underlying model. The
	// result is assumed constant for the lifetime of the Provider.
	Capabilities() Capabilities
}
