// Package providers defines the LLM interface the negotiation engine
// talks through, plus the OpenAI-compatible chat-completions client.
package providers

import (
	"context"
	"errors"
)

// Message is one turn of a conversation sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ErrOverloaded marks rate-limit and capacity failures (HTTP 429/503).
// Callers propagate these to the transport instead of answering with a
// canned fallback, so clients know to retry.
var ErrOverloaded = errors.New("model provider overloaded")

// Provider completes a conversation and returns the assistant reply.
type Provider interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}
