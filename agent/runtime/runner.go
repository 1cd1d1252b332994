// Package runtime drives a single agent invocation: it streams model output,
// executes the tool calls the model requests, feeds results back into the
// transcript and resumes, until the model produces a final response. Text
// fragments are concatenated in arrival order.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/petclinic/nutrition-agent/agent/model"
	"github.com/petclinic/nutrition-agent/agent/telemetry"
	"github.com/petclinic/nutrition-agent/agent/tools"
)

// defaultMaxToolRounds caps plan/execute/resume cycles per invocation so a
// looping model cannot hang a request.
const defaultMaxToolRounds = 8

type (
	// Options configures a Runner.
	Options struct {
		// Client is the model provider. Required.
		Client model.Client

		// Registry holds the tools advertised to the model. Required.
		Registry *tools.Registry

		// SystemPrompt is the fixed instruction prepended to the transcript.
		SystemPrompt string

		// Model overrides the provider's default model identifier.
		Model string

		// MaxTokens caps completion tokens per model call. Zero uses the
		// provider default.
		MaxTokens int

		// Temperature is the sampling temperature. Zero uses the provider
		// default.
		Temperature float32

		// MaxToolRounds caps tool execution cycles. Zero means the default.
		MaxToolRounds int

		// OnText, when set, receives each text fragment as it arrives, in
		// order, before concatenation.
		OnText func(string)

		// Logger defaults to a no-op logger when nil.
		Logger telemetry.Logger

		// Tracer defaults to a no-op tracer when nil.
		Tracer telemetry.Tracer

		// Metrics defaults to a no-op recorder when nil.
		Metrics telemetry.Metrics
	}

	// Runner executes one invocation at a time. Construct a fresh Runner per
	// request; it carries no state across invocations beyond its
	// configuration.
	Runner struct {
		client    model.Client
		registry  *tools.Registry
		system    string
		modelID   string
		maxTokens int
		temp      float32
		maxRounds int
		onText    func(string)
		logger    telemetry.Logger
		tracer    telemetry.Tracer
		metrics   telemetry.Metrics
	}
)

// NewRunner validates options and builds a Runner.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Client == nil {
		return nil, errors.New("runtime: model client is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("runtime: tool registry is required")
	}
	maxRounds := opts.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = defaultMaxToolRounds
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Runner{
		client:    opts.Client,
		registry:  opts.Registry,
		system:    opts.SystemPrompt,
		modelID:   opts.Model,
		maxTokens: opts.MaxTokens,
		temp:      opts.Temperature,
		maxRounds: maxRounds,
		onText:    opts.OnText,
		logger:    logger,
		tracer:    tracer,
		metrics:   metrics,
	}, nil
}

// Invoke runs the agent on the given prompt and returns the concatenated
// model response.
func (r *Runner) Invoke(ctx context.Context, prompt string) (string, error) {
	runID := uuid.NewString()
	ctx, span := r.tracer.Start(ctx, "agent_invoke")
	defer span.End()
	span.SetAttributes("run.id", runID, "prompt.length", len(prompt))
	start := time.Now()
	defer func() { r.metrics.RecordTimer("agent.invoke.duration", time.Since(start)) }()

	msgs := make([]*model.Message, 0, 2)
	if r.system != "" {
		msgs = append(msgs, model.NewTextMessage(model.ConversationRoleSystem, r.system))
	}
	msgs = append(msgs, model.NewTextMessage(model.ConversationRoleUser, prompt))
	defs := r.definitions()

	var out strings.Builder
	for round := 0; round < r.maxRounds; round++ {
		req := &model.Request{
			Model:       r.modelID,
			Messages:    msgs,
			Temperature: r.temp,
			MaxTokens:   r.maxTokens,
			Tools:       defs,
		}
		roundText, calls, err := r.streamTurn(ctx, req, &out)
		if err != nil {
			span.RecordError(err)
			r.metrics.IncCounter("agent.invoke.errors", 1)
			return "", err
		}
		if len(calls) == 0 {
			span.SetAttributes("response.length", out.Len(), "tool.rounds", round)
			r.metrics.IncCounter("agent.invocations", 1)
			return out.String(), nil
		}
		assistant, results := r.executeCalls(ctx, runID, round, roundText, calls)
		msgs = append(msgs, assistant, results)
	}
	err := fmt.Errorf("runtime: tool round cap (%d) exceeded for run %s", r.maxRounds, runID)
	span.RecordError(err)
	r.metrics.IncCounter("agent.invoke.errors", 1)
	return "", err
}

// streamTurn consumes one model stream. Text fragments are appended to out
// (and forwarded to OnText) in arrival order; tool calls are collected for
// execution after the stream completes.
func (r *Runner) streamTurn(ctx context.Context, req *model.Request, out *strings.Builder) (string, []model.ToolCall, error) {
	st, err := r.client.Stream(ctx, req)
	if err != nil {
		return "", nil, err
	}
	defer func() { _ = st.Close() }()

	var turn strings.Builder
	var calls []model.ToolCall
	for {
		chunk, err := st.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", nil, err
		}
		switch chunk.Type {
		case model.ChunkTypeText:
			if chunk.Message == nil {
				continue
			}
			text := chunk.Message.Text()
			if text == "" {
				continue
			}
			turn.WriteString(text)
			out.WriteString(text)
			if r.onText != nil {
				r.onText(text)
			}
		case model.ChunkTypeToolCall:
			if chunk.ToolCall == nil {
				continue
			}
			calls = append(calls, *chunk.ToolCall)
		case model.ChunkTypeStop, model.ChunkTypeUsage:
			// Terminal bookkeeping only; nothing to accumulate.
		}
	}
	return turn.String(), calls, nil
}

// executeCalls runs the requested tools in order and builds the assistant
// tool_use message and the user tool_result message appended to the
// transcript before the next model turn.
func (r *Runner) executeCalls(ctx context.Context, runID string, round int, turnText string, calls []model.ToolCall) (*model.Message, *model.Message) {
	assistantParts := make([]model.Part, 0, len(calls)+1)
	if turnText != "" {
		assistantParts = append(assistantParts, model.TextPart{Text: turnText})
	}
	resultParts := make([]model.Part, 0, len(calls))
	for i, call := range calls {
		id := call.ID
		if id == "" {
			id = toolCallID(runID, round, i)
		}
		assistantParts = append(assistantParts, model.ToolUsePart{
			ID:    id,
			Name:  call.Name.String(),
			Input: call.Payload,
		})
		res := r.registry.Execute(ctx, call.Name, id, call.Payload)
		if res.IsError {
			r.logger.Warn(ctx, "tool call failed", "run_id", runID, "tool", call.Name.String(), "result", res.Content)
			r.metrics.IncCounter("agent.tool.errors", 1, "tool", call.Name.String())
		} else {
			r.logger.Debug(ctx, "tool call completed", "run_id", runID, "tool", call.Name.String(), "result_length", len(res.Content))
			r.metrics.IncCounter("agent.tool.calls", 1, "tool", call.Name.String())
		}
		resultParts = append(resultParts, model.ToolResultPart{
			ToolUseID: id,
			Content:   res.Content,
			IsError:   res.IsError,
		})
	}
	assistant := &model.Message{Role: model.ConversationRoleAssistant, Parts: assistantParts}
	results := &model.Message{Role: model.ConversationRoleUser, Parts: resultParts}
	return assistant, results
}

// definitions renders the registry specs as provider tool definitions.
func (r *Runner) definitions() []*model.ToolDefinition {
	specs := r.registry.Specs()
	defs := make([]*model.ToolDefinition, 0, len(specs))
	for _, spec := range specs {
		defs = append(defs, &model.ToolDefinition{
			Name:        spec.Name.String(),
			Description: spec.Description,
			InputSchema: spec.InputSchema,
		})
	}
	return defs
}

// toolCallID assigns a deterministic identifier to tool calls the provider
// surfaced without one, so tool_use and tool_result blocks stay correlated.
func toolCallID(runID string, round, index int) string {
	return fmt.Sprintf("%s-r%d-t%d", runID, round, index)
}
