// Package model defines the provider-agnostic contract for LLM clients used
// by the agent runtime. It abstracts over chat completion APIs (Bedrock,
// Anthropic) so the invoke loop can stream model output and dispatch tool
// calls without coupling to specific SDKs. Implementations translate these
// normalized types into provider-specific formats.
package model

import (
	"context"
	"errors"

	"github.com/petclinic/nutrition-agent/agent/tools"
)

type (
	// Client is the contract the runtime uses to invoke LLM calls.
	// Implementations wrap provider SDKs and translate Request/Response to
	// provider-specific formats. Clients must be safe for concurrent use and
	// reusable across invocations.
	Client interface {
		// Complete sends a chat completion request and returns the generated
		// response. Returns an error if the model is unavailable, quota is
		// exceeded, or the request is malformed.
		Complete(ctx context.Context, req *Request) (*Response, error)

		// Stream sends a chat completion request and returns a Streamer that
		// yields incremental chunks (text, tool calls, usage deltas). The
		// returned Streamer must be closed by callers.
		Stream(ctx context.Context, req *Request) (Streamer, error)
	}

	// Streamer delivers incremental model output. Successive calls to Recv
	// return Chunk values until io.EOF. Implementations must be safe to call
	// from a single goroutine and release underlying resources on Close.
	Streamer interface {
		// Recv returns the next chunk from the stream.
		Recv() (Chunk, error)
		// Close closes the stream.
		Close() error
		// Metadata returns provider-specific metadata for the stream, such as
		// token usage. Contents are optional and provider-defined.
		Metadata() map[string]any
	}

	// Request captures the normalized parameters for a model invocation.
	Request struct {
		// Model identifies the target model using the provider-specific
		// identifier (e.g., "us.anthropic.claude-3-5-haiku-20241022-v1:0").
		// Empty means use the client's configured default.
		Model string

		// Messages is the ordered chat transcript: system instruction, user
		// input, prior assistant turns and tool results.
		Messages []*Message

		// Temperature controls sampling temperature. Zero means use the
		// client default.
		Temperature float32

		// MaxTokens caps the number of completion tokens. Zero means use the
		// client default.
		MaxTokens int

		// Tools describes the tool schemas exposed to the model for function
		// calling. Empty if the model should not invoke tools.
		Tools []*ToolDefinition
	}

	// Response wraps the generated content and any tool call requests from
	// the provider.
	Response struct {
		// Content contains the assistant messages returned by the model.
		// Empty if the model only requested tool calls.
		Content []Message

		// ToolCalls lists the tool invocations requested by the model. Empty
		// when the model produced a final text response.
		ToolCalls []ToolCall

		// Usage reports token usage when the provider makes it available.
		Usage TokenUsage

		// StopReason explains why the model stopped generating. Values are
		// provider-specific ("end_turn", "tool_use", "max_tokens", ...).
		StopReason string
	}

	// Message is a chat message composed of typed parts.
	Message struct {
		// Role is one of the ConversationRole constants.
		Role string

		// Parts holds the ordered content blocks of the message.
		Parts []Part

		// Meta carries provider-specific metadata. The runtime ignores it; it
		// is preserved for debugging.
		Meta map[string]any
	}

	// Part is a content block within a message.
	Part interface{ isPart() }

	// TextPart is plain text content.
	TextPart struct {
		Text string
	}

	// ToolUsePart records a tool invocation declared by the assistant.
	ToolUsePart struct {
		// ID correlates the invocation with a later ToolResultPart.
		ID string
		// Name is the canonical tool identifier.
		Name string
		// Input is the decoded JSON arguments requested by the model.
		Input any
	}

	// ToolResultPart carries a tool execution result back to the model.
	// Providers expect it in user messages, correlated to a prior tool_use.
	ToolResultPart struct {
		// ToolUseID matches the ID of the originating ToolUsePart.
		ToolUseID string
		// Content is the result payload, typically a plain string.
		Content any
		// IsError marks the result as a tool failure.
		IsError bool
	}

	// ToolDefinition describes a tool schema passed to providers for function
	// calling.
	ToolDefinition struct {
		// Name is the canonical identifier presented to the model.
		Name string
		// Description documents the tool for prompting purposes. Required.
		Description string
		// InputSchema is the JSON Schema describing the tool's input, as a
		// map[string]any or json.RawMessage.
		InputSchema any
	}

	// ToolCall captures a tool invocation requested by the model.
	ToolCall struct {
		// ID is the provider-assigned tool use identifier.
		ID string
		// Name identifies which tool should be invoked.
		Name tools.Ident
		// Payload carries the decoded JSON arguments.
		Payload any
	}

	// Chunk represents a streaming event emitted by the model. Type indicates
	// which payload fields are populated.
	Chunk struct {
		// Type is one of the ChunkType constants.
		Type string
		// Message contains the assistant message when Type == "text".
		Message *Message
		// ToolCall carries the requested invocation when Type == "tool_call".
		ToolCall *ToolCall
		// UsageDelta reports incremental token usage when Type == "usage".
		UsageDelta *TokenUsage
		// StopReason explains termination when Type == "stop".
		StopReason string
	}

	// TokenUsage records prompt/completion token counts when reported by the
	// provider. All fields are zero when usage is unavailable.
	TokenUsage struct {
		// InputTokens counts tokens consumed by the prompt and transcript.
		InputTokens int
		// OutputTokens counts tokens produced in this completion.
		OutputTokens int
		// TotalTokens is the aggregate as reported by the provider.
		TotalTokens int
	}
)

func (TextPart) isPart()       {}
func (ToolUsePart) isPart()    {}
func (ToolResultPart) isPart() {}

// Conversation role constants used in Message.Role.
const (
	ConversationRoleSystem    = "system"
	ConversationRoleUser      = "user"
	ConversationRoleAssistant = "assistant"
)

// Chunk type constants are the well-known streaming event kinds produced by
// model providers. These values populate Chunk.Type.
const (
	ChunkTypeText     = "text"
	ChunkTypeToolCall = "tool_call"
	ChunkTypeUsage    = "usage"
	ChunkTypeStop     = "stop"
)

// ErrRateLimited indicates the provider is throttling requests. Provider
// adapters wrap throttling failures so middleware can match with errors.Is.
var ErrRateLimited = errors.New("model: rate limited")

// NewTextMessage builds a single-part text message with the given role.
func NewTextMessage(role, text string) *Message {
	return &Message{Role: role, Parts: []Part{TextPart{Text: text}}}
}

// Text concatenates the text parts of the message in order.
func (m *Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if t, ok := p.(TextPart); ok {
			out += t.Text
		}
	}
	return out
}
