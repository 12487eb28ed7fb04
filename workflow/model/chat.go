// Package model provides the chat-client contract agent-backed executors
// call through, plus provider adapters.
package model

import (
	"context"

	"github.com/agentflow/agentflow-go/workflow"
)

// ChatClient is the provider-neutral chat contract: a conversation in,
// a response (or a stream of updates) out.
//
// Implementations translate to and from the provider's wire format, respect
// context cancellation, and ignore options the provider cannot express.
type ChatClient interface {
	// GetResponse sends the conversation and returns the complete response.
	GetResponse(ctx context.Context, messages []workflow.ChatMessage, opts *ChatOptions) (*ChatResponse, error)

	// GetStreamingResponse sends the conversation, delivering incremental
	// updates to onUpdate before returning the aggregated response.
	// Providers without native streaming deliver one update per reply
	// message followed by an update carrying only the finish reason.
	GetStreamingResponse(ctx context.Context, messages []workflow.ChatMessage, opts *ChatOptions, onUpdate func(*ChatResponseUpdate) error) (*ChatResponse, error)
}

// ChatOptions tunes one chat request. Nil pointer fields mean provider
// defaults; options a provider does not support are ignored.
type ChatOptions struct {
	// ModelID selects the model. Empty uses the client's default.
	ModelID string

	// Temperature controls sampling randomness.
	Temperature *float64

	// TopP controls nucleus sampling.
	TopP *float64

	// MaxTokens caps the response length.
	MaxTokens *int

	// Stop lists sequences that end generation.
	Stop []string

	// Tools the model may call.
	Tools []ToolSpec

	// ToolChoice forces a specific tool ("auto", "none", or a tool name).
	ToolChoice string

	// ResponseFormat requests a structured output format (e.g. "json").
	ResponseFormat string

	// FrequencyPenalty discourages token repetition by frequency.
	FrequencyPenalty *float64

	// PresencePenalty discourages token repetition by presence.
	PresencePenalty *float64

	// AllowMultipleToolCalls permits several tool calls in one turn.
	AllowMultipleToolCalls *bool

	// Extra carries provider-specific extensions, passed through untouched
	// where the adapter supports them.
	Extra map[string]any
}

// ToolSpec describes a tool the model may call. Schema is JSON Schema for
// the tool's parameters.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ChatResponse is the complete outcome of one chat request.
type ChatResponse struct {
	// Messages are the reply messages, usually one assistant turn.
	Messages []workflow.ChatMessage

	// ResponseID is the provider's id for this response.
	ResponseID string

	// ModelID is the model that produced the response.
	ModelID string
}

// Text concatenates the text of the response messages.
func (r *ChatResponse) Text() string {
	var out string
	for _, m := range r.Messages {
		out += m.Text()
	}
	return out
}

// ChatResponseUpdate is one streamed chunk of a chat response.
type ChatResponseUpdate struct {
	// Contents is the incremental content.
	Contents []workflow.Content

	// ResponseID groups updates of one response.
	ResponseID string

	// AuthorName optionally names the author.
	AuthorName string

	// FinishReason is non-empty on the final update.
	FinishReason string
}
