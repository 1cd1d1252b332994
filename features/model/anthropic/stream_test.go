package anthropic

import (
	"encoding/json"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/require"

	"github.com/petclinic/nutrition-agent/agent/model"
	"github.com/petclinic/nutrition-agent/agent/tools"
)

// collectChunks feeds raw SSE event payloads through a chunk processor and
// returns the emitted chunks and recorded usage.
func collectChunks(t *testing.T, sanToCanon map[string]string, rawEvents ...string) ([]model.Chunk, []model.TokenUsage) {
	t.Helper()
	var (
		chunks []model.Chunk
		usages []model.TokenUsage
	)
	processor := newAnthropicChunkProcessor(
		func(c model.Chunk) error {
			chunks = append(chunks, c)
			return nil
		},
		func(u model.TokenUsage) { usages = append(usages, u) },
		sanToCanon,
	)
	for _, raw := range rawEvents {
		var event sdk.MessageStreamEventUnion
		require.NoError(t, json.Unmarshal([]byte(raw), &event))
		require.NoError(t, processor.Handle(event))
	}
	return chunks, usages
}

func TestChunkProcessor_TextAndStop(t *testing.T) {
	chunks, _ := collectChunks(t, nil,
		`{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","content":[],"usage":{"input_tokens":0,"output_tokens":0}}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Dogs "}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"need protein."}}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"input_tokens":12,"output_tokens":4}}`,
		`{"type":"message_stop"}`,
	)

	require.Len(t, chunks, 4)
	require.Equal(t, model.ChunkTypeText, chunks[0].Type)
	require.Equal(t, "Dogs ", chunks[0].Message.Text())
	require.Equal(t, model.ChunkTypeText, chunks[1].Type)
	require.Equal(t, "need protein.", chunks[1].Message.Text())
	require.Equal(t, model.ChunkTypeUsage, chunks[2].Type)
	require.Equal(t, model.ChunkTypeStop, chunks[3].Type)
	require.Equal(t, "end_turn", chunks[3].StopReason)
}

func TestChunkProcessor_BuffersToolInputFragments(t *testing.T) {
	sanToCanon := map[string]string{"get_feeding_guidelines": "get_feeding_guidelines"}
	chunks, _ := collectChunks(t, sanToCanon,
		`{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_1","name":"get_feeding_guidelines","input":{}}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"pet_ty"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"pe\":\"dog\"}"}}`,
		`{"type":"content_block_stop","index":0}`,
	)

	require.Len(t, chunks, 1)
	require.Equal(t, model.ChunkTypeToolCall, chunks[0].Type)
	call := chunks[0].ToolCall
	require.NotNil(t, call)
	require.Equal(t, "toolu_1", call.ID)
	require.Equal(t, tools.Ident("get_feeding_guidelines"), call.Name)
	require.Equal(t, map[string]any{"pet_type": "dog"}, call.Payload)
}

func TestChunkProcessor_EmptyToolInputBecomesEmptyObject(t *testing.T) {
	chunks, _ := collectChunks(t, nil,
		`{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_1","name":"get_dietary_restrictions","input":{}}}`,
		`{"type":"content_block_stop","index":0}`,
	)

	require.Len(t, chunks, 1)
	require.Equal(t, map[string]any{}, chunks[0].ToolCall.Payload)
}

func TestChunkProcessor_Usage(t *testing.T) {
	_, usages := collectChunks(t, nil,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"input_tokens":20,"output_tokens":30}}`,
	)

	require.Len(t, usages, 1)
	require.Equal(t, 20, usages[0].InputTokens)
	require.Equal(t, 30, usages[0].OutputTokens)
	require.Equal(t, 50, usages[0].TotalTokens)
}

func TestChunkProcessor_TextOnlyBlockEmitsNoToolCall(t *testing.T) {
	chunks, _ := collectChunks(t, nil,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi"}}`,
		`{"type":"content_block_stop","index":0}`,
	)

	require.Len(t, chunks, 1)
	require.Equal(t, model.ChunkTypeText, chunks[0].Type)
}
