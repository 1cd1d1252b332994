// Package bedrock provides a model.Client implementation backed by the AWS
// Bedrock Converse API. It splits system vs. conversational messages, encodes
// tool schemas into Bedrock's ToolConfiguration, and translates Converse
// responses (text + tool_use blocks) back into runtime-friendly structures.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/petclinic/nutrition-agent/agent/model"
	"github.com/petclinic/nutrition-agent/agent/telemetry"
	"github.com/petclinic/nutrition-agent/agent/tools"
)

const bedrockProviderName = "bedrock"

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client required
// by the adapter. It matches *bedrockruntime.Client so callers can pass
// either the real client or a mock in tests.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Options configures the Bedrock client adapter.
type Options struct {
	// DefaultModel is the model identifier used when a request does not set
	// one. Required.
	DefaultModel string

	// MaxTokens sets the default completion cap when a request does not
	// specify MaxTokens. When zero or negative, the client omits MaxTokens
	// so Bedrock uses its own default.
	MaxTokens int

	// Temperature is used when a request does not specify Temperature.
	Temperature float32

	// Logger is used for non-fatal diagnostics inside the adapter. When nil,
	// defaults to a no-op logger.
	Logger telemetry.Logger
}

// Client implements model.Client on top of AWS Bedrock Converse.
type Client struct {
	runtime      RuntimeClient
	defaultModel string
	maxTok       int
	temp         float32
	logger       telemetry.Logger
}

type requestParts struct {
	modelID    string
	messages   []brtypes.Message
	system     []brtypes.SystemContentBlock
	toolConfig *brtypes.ToolConfiguration
	sanToCanon map[string]string
}

// New initializes a Bedrock-powered model client configured for chat
// completion and streaming requests.
func New(runtime RuntimeClient, opts Options) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Client{
		runtime:      runtime,
		defaultModel: opts.DefaultModel,
		maxTok:       opts.MaxTokens,
		temp:         opts.Temperature,
		logger:       logger,
	}, nil
}

// Complete issues a single Converse request and translates the response into
// runtime-friendly structures (assistant messages + tool calls).
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	parts, err := c.prepareRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(parts.modelID),
		Messages: parts.messages,
	}
	if len(parts.system) > 0 {
		input.System = parts.system
	}
	if parts.toolConfig != nil {
		input.ToolConfig = parts.toolConfig
	}
	if cfg := c.inferenceConfig(req.MaxTokens, req.Temperature); cfg != nil {
		input.InferenceConfig = cfg
	}
	output, err := c.runtime.Converse(ctx, input)
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, wrapBedrockError("converse", err)
	}
	return translateResponse(output, parts.sanToCanon)
}

// Stream invokes the Bedrock ConverseStream API and adapts incremental
// events into model.Chunks.
func (c *Client) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	parts, err := c.prepareRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(parts.modelID),
		Messages: parts.messages,
	}
	if len(parts.system) > 0 {
		input.System = parts.system
	}
	if parts.toolConfig != nil {
		input.ToolConfig = parts.toolConfig
	}
	if cfg := c.inferenceConfig(req.MaxTokens, req.Temperature); cfg != nil {
		input.InferenceConfig = cfg
	}
	out, err := c.runtime.ConverseStream(ctx, input)
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, wrapBedrockError("converse_stream", err)
	}
	stream := out.GetStream()
	if stream == nil {
		return nil, errors.New("bedrock: stream output missing event stream")
	}
	return newBedrockStreamer(ctx, stream, parts.sanToCanon, c.logger), nil
}

func (c *Client) prepareRequest(ctx context.Context, req *model.Request) (*requestParts, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, errors.New("bedrock: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	// Build the tool configuration and name maps before encoding messages so
	// tool_use blocks reuse the exact sanitized identifiers.
	toolConfig, canonToSan, sanToCanon, err := encodeTools(ctx, req.Tools, c.logger)
	if err != nil {
		return nil, err
	}
	// Bedrock requires toolConfig when messages contain tool_use or
	// tool_result blocks. Fail fast with a clear error rather than letting
	// Bedrock reject the request with a generic validation error.
	if toolConfig == nil && messagesHaveToolBlocks(req.Messages) {
		return nil, errors.New(
			"bedrock: messages contain tool_use/tool_result but no tools provided in request",
		)
	}
	messages, system, err := encodeMessages(ctx, req.Messages, canonToSan, c.logger)
	if err != nil {
		return nil, err
	}
	return &requestParts{
		modelID:    modelID,
		messages:   messages,
		system:     system,
		toolConfig: toolConfig,
		sanToCanon: sanToCanon,
	}, nil
}

func (c *Client) inferenceConfig(maxTokens int, temp float32) *brtypes.InferenceConfiguration {
	var cfg brtypes.InferenceConfiguration
	tokens := maxTokens
	if tokens <= 0 {
		tokens = c.maxTok
	}
	if tokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(tokens)) //nolint:gosec // bounded by config validation
	}
	t := temp
	if t <= 0 {
		t = c.temp
	}
	if t > 0 {
		cfg.Temperature = aws.Float32(t)
	}
	if cfg.MaxTokens == nil && cfg.Temperature == nil {
		return nil
	}
	return &cfg
}

// isRateLimited reports whether err represents a provider rate limiting
// condition. It treats both HTTP 429 responses and provider error codes like
// ThrottlingException as rate-limited signals.
func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, model.ErrRateLimited) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusTooManyRequests {
		return true
	}
	return false
}

func wrapBedrockError(operation string, err error) error {
	var (
		status int
		code   string
		msg    string
	)
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code = apiErr.ErrorCode()
		msg = apiErr.ErrorMessage()
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}

	kind := model.ProviderErrorKindUnknown
	retryable := false
	switch {
	case status == http.StatusBadRequest:
		kind = model.ProviderErrorKindInvalidRequest
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = model.ProviderErrorKindAuth
	case status == http.StatusTooManyRequests:
		kind = model.ProviderErrorKindRateLimited
		retryable = true
	case status >= http.StatusInternalServerError:
		kind = model.ProviderErrorKindUnavailable
		retryable = true
	}
	return model.NewProviderError(bedrockProviderName, operation, status, kind, code, msg, retryable, err)
}

func encodeMessages(ctx context.Context, msgs []*model.Message, nameMap map[string]string, logger telemetry.Logger) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	// toolUseIDMap tracks a per-request mapping from runtime tool_use IDs
	// (which may contain characters Bedrock rejects) to provider-safe IDs
	// matching [a-zA-Z0-9_-]+ with length <= 64.
	toolUseIDMap := make(map[string]string)
	nextToolUseID := 0

	conversation := make([]brtypes.Message, 0, len(msgs))
	var system []brtypes.SystemContentBlock
	for _, m := range msgs {
		if m == nil {
			continue
		}
		if m.Role == model.ConversationRoleSystem {
			for _, p := range m.Parts {
				if v, ok := p.(model.TextPart); ok && v.Text != "" {
					system = append(system, &brtypes.SystemContentBlockMemberText{Value: v.Text})
				}
			}
			continue
		}
		blocks := make([]brtypes.ContentBlock, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case model.TextPart:
				if v.Text != "" {
					blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: v.Text})
				}
			case model.ToolUsePart:
				// tool_use names must match tool definitions in the current
				// request; an unknown name indicates the caller dropped a
				// tool definition between turns.
				tb := brtypes.ToolUseBlock{}
				if v.Name != "" {
					sanitized, ok := nameMap[v.Name]
					if !ok || sanitized == "" {
						return nil, nil, fmt.Errorf(
							"bedrock: tool_use references %q which is not in the current tool configuration",
							v.Name,
						)
					}
					tb.Name = aws.String(sanitized)
				}
				if id := toolUseIDFor(v.ID, toolUseIDMap, &nextToolUseID); id != "" {
					tb.ToolUseId = aws.String(id)
				}
				tb.Input = toDocument(ctx, v.Input, logger)
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{Value: tb})
			case model.ToolResultPart:
				// Bedrock expects tool_result blocks in user messages,
				// correlated to a prior tool_use. String content is encoded
				// as text, anything else as a JSON document.
				tr := brtypes.ToolResultBlock{}
				if id := toolUseIDFor(v.ToolUseID, toolUseIDMap, &nextToolUseID); id != "" {
					tr.ToolUseId = aws.String(id)
				}
				if s, ok := v.Content.(string); ok {
					tr.Content = []brtypes.ToolResultContentBlock{
						&brtypes.ToolResultContentBlockMemberText{Value: s},
					}
				} else {
					tr.Content = []brtypes.ToolResultContentBlock{
						&brtypes.ToolResultContentBlockMemberJson{Value: toDocument(ctx, v.Content, logger)},
					}
				}
				if v.IsError {
					tr.Status = brtypes.ToolResultStatusError
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolResult{Value: tr})
			}
		}
		if len(blocks) == 0 {
			continue
		}
		role := brtypes.ConversationRoleAssistant
		if m.Role == model.ConversationRoleUser {
			role = brtypes.ConversationRoleUser
		}
		conversation = append(conversation, brtypes.Message{
			Role:    role,
			Content: blocks,
		})
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("bedrock: at least one user or assistant message is required")
	}
	return conversation, system, nil
}

func encodeTools(ctx context.Context, defs []*model.ToolDefinition, logger telemetry.Logger) (*brtypes.ToolConfiguration, map[string]string, map[string]string, error) {
	if len(defs) == 0 {
		return nil, nil, nil, nil
	}
	toolList := make([]brtypes.Tool, 0, len(defs))
	// canonToSan maps canonical tool names to provider-visible sanitized
	// names; sanToCanon is the reverse map used when decoding responses.
	canonToSan := make(map[string]string, len(defs))
	sanToCanon := make(map[string]string, len(defs))
	for _, def := range defs {
		if def == nil || def.Name == "" {
			continue
		}
		canonical := def.Name
		sanitized := SanitizeToolName(canonical)
		if prev, ok := sanToCanon[sanitized]; ok && prev != canonical {
			return nil, nil, nil, fmt.Errorf(
				"bedrock: tool name %q sanitizes to %q which collides with %q",
				canonical, sanitized, prev,
			)
		}
		sanToCanon[sanitized] = canonical
		canonToSan[canonical] = sanitized
		if def.Description == "" {
			return nil, nil, nil, fmt.Errorf("bedrock: tool %q is missing a description", canonical)
		}
		spec := brtypes.ToolSpecification{
			Name:        aws.String(sanitized),
			Description: aws.String(def.Description),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: toDocument(ctx, def.InputSchema, logger)},
		}
		toolList = append(toolList, &brtypes.ToolMemberToolSpec{Value: spec})
	}
	if len(toolList) == 0 {
		return nil, nil, nil, nil
	}
	return &brtypes.ToolConfiguration{Tools: toolList}, canonToSan, sanToCanon, nil
}

func messagesHaveToolBlocks(msgs []*model.Message) bool {
	for _, m := range msgs {
		if m == nil {
			continue
		}
		for _, p := range m.Parts {
			switch p.(type) {
			case model.ToolUsePart, model.ToolResultPart:
				return true
			}
		}
	}
	return false
}

func toolUseIDFor(canonical string, toolUseIDMap map[string]string, nextToolUseID *int) string {
	if canonical == "" {
		return ""
	}
	if isProviderSafeToolUseID(canonical) {
		return canonical
	}
	if id, ok := toolUseIDMap[canonical]; ok {
		return id
	}
	*nextToolUseID++
	id := fmt.Sprintf("t%d", *nextToolUseID)
	toolUseIDMap[canonical] = id
	return id
}

// isProviderSafeToolUseID reports whether id conforms to Bedrock's documented
// toolUseId constraints: pattern [a-zA-Z0-9_-]+ and length <= 64.
func isProviderSafeToolUseID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

func toDocument(ctx context.Context, v any, logger telemetry.Logger) document.Interface {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	switch val := v.(type) {
	case nil:
		return document.NewLazyDocument(map[string]any{"type": "object"})
	case document.Interface:
		return val
	case json.RawMessage:
		if len(val) == 0 {
			return document.NewLazyDocument(map[string]any{})
		}
		var decoded any
		if err := json.Unmarshal(val, &decoded); err != nil {
			logger.Error(ctx, "bedrock: failed to decode JSON document", "err", err)
			return document.NewLazyDocument(map[string]any{})
		}
		return document.NewLazyDocument(decoded)
	default:
		return document.NewLazyDocument(val)
	}
}

func translateResponse(output *bedrockruntime.ConverseOutput, sanToCanon map[string]string) (*model.Response, error) {
	if output == nil {
		return nil, errors.New("bedrock: response is nil")
	}
	resp := &model.Response{}
	if msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			switch v := block.(type) {
			case *brtypes.ContentBlockMemberText:
				if v.Value == "" {
					continue
				}
				resp.Content = append(resp.Content, model.Message{
					Role:  model.ConversationRoleAssistant,
					Parts: []model.Part{model.TextPart{Text: v.Value}},
				})
			case *brtypes.ContentBlockMemberToolUse:
				call := model.ToolCall{}
				if v.Value.ToolUseId != nil {
					call.ID = *v.Value.ToolUseId
				}
				if v.Value.Name != nil {
					call.Name = tools.Ident(canonicalToolName(*v.Value.Name, sanToCanon))
				}
				if v.Value.Input != nil {
					var payload any
					if err := v.Value.Input.UnmarshalSmithyDocument(&payload); err == nil {
						call.Payload = payload
					}
				}
				resp.ToolCalls = append(resp.ToolCalls, call)
			}
		}
	}
	if u := output.Usage; u != nil {
		usage := model.TokenUsage{}
		if t := u.InputTokens; t != nil {
			usage.InputTokens = int(*t)
		}
		if t := u.OutputTokens; t != nil {
			usage.OutputTokens = int(*t)
		}
		if t := u.TotalTokens; t != nil {
			usage.TotalTokens = int(*t)
		}
		resp.Usage = usage
	}
	resp.StopReason = string(output.StopReason)
	return resp, nil
}
