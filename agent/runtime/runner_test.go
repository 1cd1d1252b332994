package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/petclinic/nutrition-agent/agent/model"
	"github.com/petclinic/nutrition-agent/agent/tools"
)

// scriptedClient replays one scripted chunk sequence per Stream call and
// records the requests it receives.
type scriptedClient struct {
	turns    [][]model.Chunk
	requests []*model.Request
}

func (c *scriptedClient) Complete(context.Context, *model.Request) (*model.Response, error) {
	return nil, errors.New("not implemented")
}

func (c *scriptedClient) Stream(_ context.Context, req *model.Request) (model.Streamer, error) {
	c.requests = append(c.requests, req)
	if len(c.turns) == 0 {
		return nil, errors.New("no scripted turns left")
	}
	turn := c.turns[0]
	c.turns = c.turns[1:]
	return &scriptedStreamer{chunks: turn}, nil
}

type scriptedStreamer struct {
	chunks []model.Chunk
	pos    int
}

func (s *scriptedStreamer) Recv() (model.Chunk, error) {
	if s.pos >= len(s.chunks) {
		return model.Chunk{}, io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *scriptedStreamer) Close() error { return nil }

func (s *scriptedStreamer) Metadata() map[string]any { return nil }

func textChunk(text string) model.Chunk {
	return model.Chunk{Type: model.ChunkTypeText, Message: model.NewTextMessage(model.ConversationRoleAssistant, text)}
}

func toolChunk(id string, name tools.Ident, payload any) model.Chunk {
	return model.Chunk{Type: model.ChunkTypeToolCall, ToolCall: &model.ToolCall{ID: id, Name: name, Payload: payload}}
}

func stopChunk(reason string) model.Chunk {
	return model.Chunk{Type: model.ChunkTypeStop, StopReason: reason}
}

func testRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	reg, err := tools.NewRegistry(&tools.Spec{
		Name:        "lookup",
		Description: "Look up a thing",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}},"required":["q"]}`),
		Handler: func(_ context.Context, payload json.RawMessage) (string, error) {
			var p struct {
				Q string `json:"q"`
			}
			if err := json.Unmarshal(payload, &p); err != nil {
				return "", err
			}
			return "result for " + p.Q, nil
		},
	})
	require.NoError(t, err)
	return reg
}

func TestInvoke_TextOnly(t *testing.T) {
	client := &scriptedClient{turns: [][]model.Chunk{
		{textChunk("Hello"), textChunk(", world"), stopChunk("end_turn")},
	}}
	r, err := NewRunner(Options{Client: client, Registry: testRegistry(t), SystemPrompt: "be nice"})
	require.NoError(t, err)

	out, err := r.Invoke(context.Background(), "hi")
	require.NoError(t, err)
	require.Equal(t, "Hello, world", out)

	// One request: system + user messages and the tool definitions.
	require.Len(t, client.requests, 1)
	req := client.requests[0]
	require.Len(t, req.Messages, 2)
	require.Equal(t, model.ConversationRoleSystem, req.Messages[0].Role)
	require.Equal(t, "be nice", req.Messages[0].Text())
	require.Equal(t, model.ConversationRoleUser, req.Messages[1].Role)
	require.Equal(t, "hi", req.Messages[1].Text())
	require.Len(t, req.Tools, 1)
	require.Equal(t, "lookup", req.Tools[0].Name)
}

func TestInvoke_ToolRoundTrip(t *testing.T) {
	client := &scriptedClient{turns: [][]model.Chunk{
		{
			textChunk("Let me check. "),
			toolChunk("call-1", "lookup", map[string]any{"q": "dogs"}),
			stopChunk("tool_use"),
		},
		{textChunk("Dogs are great."), stopChunk("end_turn")},
	}}
	r, err := NewRunner(Options{Client: client, Registry: testRegistry(t)})
	require.NoError(t, err)

	out, err := r.Invoke(context.Background(), "tell me about dogs")
	require.NoError(t, err)
	require.Equal(t, "Let me check. Dogs are great.", out, "text concatenated in arrival order across rounds")

	require.Len(t, client.requests, 2)
	second := client.requests[1]
	// user prompt + assistant tool_use + user tool_result
	require.Len(t, second.Messages, 3)

	assistant := second.Messages[1]
	require.Equal(t, model.ConversationRoleAssistant, assistant.Role)
	require.Len(t, assistant.Parts, 2)
	require.Equal(t, model.TextPart{Text: "Let me check. "}, assistant.Parts[0])
	use, ok := assistant.Parts[1].(model.ToolUsePart)
	require.True(t, ok)
	require.Equal(t, "call-1", use.ID)
	require.Equal(t, "lookup", use.Name)

	results := second.Messages[2]
	require.Equal(t, model.ConversationRoleUser, results.Role)
	require.Len(t, results.Parts, 1)
	res, ok := results.Parts[0].(model.ToolResultPart)
	require.True(t, ok)
	require.Equal(t, "call-1", res.ToolUseID)
	require.Equal(t, "result for dogs", res.Content)
	require.False(t, res.IsError)
}

func TestInvoke_ToolErrorResultResumes(t *testing.T) {
	client := &scriptedClient{turns: [][]model.Chunk{
		{toolChunk("call-1", "nope", nil), stopChunk("tool_use")},
		{textChunk("Sorry, I cannot do that."), stopChunk("end_turn")},
	}}
	r, err := NewRunner(Options{Client: client, Registry: testRegistry(t)})
	require.NoError(t, err)

	out, err := r.Invoke(context.Background(), "do the thing")
	require.NoError(t, err)
	require.Equal(t, "Sorry, I cannot do that.", out)

	results := client.requests[1].Messages[2]
	res, ok := results.Parts[0].(model.ToolResultPart)
	require.True(t, ok)
	require.True(t, res.IsError)
	require.Contains(t, res.Content, "not available")
}

func TestInvoke_AssignsIDWhenProviderOmitsIt(t *testing.T) {
	client := &scriptedClient{turns: [][]model.Chunk{
		{toolChunk("", "lookup", map[string]any{"q": "x"}), stopChunk("tool_use")},
		{textChunk("done"), stopChunk("end_turn")},
	}}
	r, err := NewRunner(Options{Client: client, Registry: testRegistry(t)})
	require.NoError(t, err)

	_, err = r.Invoke(context.Background(), "go")
	require.NoError(t, err)

	assistant := client.requests[1].Messages[1]
	use, ok := assistant.Parts[1].(model.ToolUsePart)
	require.True(t, ok)
	require.NotEmpty(t, use.ID)

	results := client.requests[1].Messages[2]
	res, ok := results.Parts[0].(model.ToolResultPart)
	require.True(t, ok)
	require.Equal(t, use.ID, res.ToolUseID, "tool_use and tool_result stay correlated")
}

func TestInvoke_OnTextReceivesFragmentsInOrder(t *testing.T) {
	client := &scriptedClient{turns: [][]model.Chunk{
		{textChunk("a"), textChunk("b"), textChunk("c"), stopChunk("end_turn")},
	}}
	var got []string
	r, err := NewRunner(Options{
		Client:   client,
		Registry: testRegistry(t),
		OnText:   func(s string) { got = append(got, s) },
	})
	require.NoError(t, err)

	out, err := r.Invoke(context.Background(), "go")
	require.NoError(t, err)
	require.Equal(t, "abc", out)
	require.Equal(t, []string{"a", "b", "c"}, got)
}

func TestInvoke_RoundCap(t *testing.T) {
	// The model keeps requesting tools forever.
	turns := make([][]model.Chunk, 0, 3)
	for i := 0; i < 3; i++ {
		turns = append(turns, []model.Chunk{
			toolChunk(fmt.Sprintf("call-%d", i), "lookup", map[string]any{"q": "x"}),
			stopChunk("tool_use"),
		})
	}
	client := &scriptedClient{turns: turns}
	r, err := NewRunner(Options{Client: client, Registry: testRegistry(t), MaxToolRounds: 3})
	require.NoError(t, err)

	_, err = r.Invoke(context.Background(), "loop")
	require.Error(t, err)
	require.Contains(t, err.Error(), "tool round cap")
}

func TestInvoke_StreamError(t *testing.T) {
	client := &scriptedClient{}
	r, err := NewRunner(Options{Client: client, Registry: testRegistry(t)})
	require.NoError(t, err)

	_, err = r.Invoke(context.Background(), "hi")
	require.Error(t, err)
}

func TestNewRunner_Validation(t *testing.T) {
	_, err := NewRunner(Options{Registry: testRegistry(t)})
	require.Error(t, err)

	_, err = NewRunner(Options{Client: &scriptedClient{}})
	require.Error(t, err)
}
