package tools

import (
	"context"
	"encoding/json"
)

type (
	// Handler executes a tool call. The payload is the raw JSON arguments
	// produced by the model, already validated against the tool's schema.
	// The returned string is handed back to the model verbatim; handlers
	// degrade internal failures into explanatory text rather than errors
	// whenever the model should still be able to respond conversationally.
	Handler func(ctx context.Context, payload json.RawMessage) (string, error)

	// Spec describes a registered tool: its identity, the prompt-facing
	// description, the JSON Schema for its arguments, and the handler that
	// executes it.
	Spec struct {
		// Name is the tool identifier presented to the model.
		Name Ident
		// Description documents the tool for prompting purposes. Required;
		// the model uses it to decide when to invoke the tool.
		Description string
		// InputSchema is the JSON Schema for the tool's arguments.
		InputSchema json.RawMessage
		// Handler executes the tool.
		Handler Handler
	}

	// Result is the outcome of a tool execution. Content is always plain
	// text; the model consuming it parses it as natural language.
	Result struct {
		// Name is the tool that produced the result.
		Name Ident
		// ToolUseID correlates the result with the originating tool call.
		ToolUseID string
		// Content is the text handed back to the model.
		Content string
		// IsError marks results produced from dispatch failures (unknown
		// tool, invalid payload, handler error).
		IsError bool
	}
)
