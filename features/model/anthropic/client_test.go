package anthropic

import (
	"encoding/json"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/require"

	"github.com/petclinic/nutrition-agent/agent/model"
	"github.com/petclinic/nutrition-agent/agent/tools"
)

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, Options{DefaultModel: "claude-3-5-haiku"})
	require.Error(t, err)

	_, err = NewFromAPIKey("", Options{DefaultModel: "claude-3-5-haiku"})
	require.Error(t, err)
}

func TestEncodeTools(t *testing.T) {
	defs := []*model.ToolDefinition{
		{
			Name:        "get_feeding_guidelines",
			Description: "Get feeding guidelines",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"pet_type":{"type":"string"}}}`),
		},
		{
			Name:        "lookup restrictions",
			Description: "Look up restrictions",
		},
	}
	toolList, canonToSan, sanToCanon, err := encodeTools(defs)
	require.NoError(t, err)
	require.Len(t, toolList, 2)
	require.Equal(t, "get_feeding_guidelines", canonToSan["get_feeding_guidelines"])
	require.Equal(t, "lookup_restrictions", canonToSan["lookup restrictions"])
	require.Equal(t, "lookup restrictions", sanToCanon["lookup_restrictions"])

	require.NotNil(t, toolList[0].OfTool)
	require.Equal(t, "get_feeding_guidelines", toolList[0].OfTool.Name)
	require.Equal(t, "Get feeding guidelines", toolList[0].OfTool.Description.Value)
}

func TestEncodeTools_MissingDescription(t *testing.T) {
	_, _, _, err := encodeTools([]*model.ToolDefinition{{Name: "bare"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing a description")
}

func TestEncodeTools_SanitizationCollision(t *testing.T) {
	_, _, _, err := encodeTools([]*model.ToolDefinition{
		{Name: "a b", Description: "first"},
		{Name: "a.b", Description: "second"},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "collides")
}

func TestEncodeMessages(t *testing.T) {
	nameMap := map[string]string{"get_feeding_guidelines": "get_feeding_guidelines"}
	msgs := []*model.Message{
		model.NewTextMessage(model.ConversationRoleSystem, "You are a pet nutrition expert."),
		model.NewTextMessage(model.ConversationRoleUser, "What should my dog eat?"),
		{
			Role: model.ConversationRoleAssistant,
			Parts: []model.Part{
				model.TextPart{Text: "Let me check."},
				model.ToolUsePart{ID: "toolu_1", Name: "get_feeding_guidelines", Input: map[string]any{"pet_type": "dog"}},
			},
		},
		{
			Role: model.ConversationRoleUser,
			Parts: []model.Part{
				model.ToolResultPart{ToolUseID: "toolu_1", Content: "Nutrition info for dog: kibble"},
			},
		},
	}
	conversation, system, err := encodeMessages(msgs, nameMap)
	require.NoError(t, err)
	require.Len(t, system, 1)
	require.Equal(t, "You are a pet nutrition expert.", system[0].Text)
	require.Len(t, conversation, 3)
	require.Equal(t, "user", string(conversation[0].Role))
	require.Equal(t, "assistant", string(conversation[1].Role))
	require.Equal(t, "user", string(conversation[2].Role))
}

func TestEncodeMessages_UnknownToolUseName(t *testing.T) {
	msgs := []*model.Message{
		{
			Role: model.ConversationRoleAssistant,
			Parts: []model.Part{
				model.ToolUsePart{ID: "toolu_1", Name: "not_advertised", Input: map[string]any{}},
			},
		},
	}
	_, _, err := encodeMessages(msgs, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not in the current tool configuration")
}

func TestEncodeMessages_Empty(t *testing.T) {
	_, _, err := encodeMessages(nil, nil)
	require.Error(t, err)
}

func TestTranslateResponse(t *testing.T) {
	var msg sdk.Message
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": "msg_1",
		"type": "message",
		"role": "assistant",
		"content": [
			{"type": "text", "text": "Checking availability."},
			{"type": "tool_use", "id": "toolu_1", "name": "create_order", "input": {"pet_type": "dog", "product_name": "BarkBite"}}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 10, "output_tokens": 5}
	}`), &msg))

	resp, err := translateResponse(&msg, map[string]string{"create_order": "create_order"})
	require.NoError(t, err)
	require.Len(t, resp.Content, 1)
	require.Equal(t, "Checking availability.", resp.Content[0].Text())
	require.Len(t, resp.ToolCalls, 1)
	require.Equal(t, "toolu_1", resp.ToolCalls[0].ID)
	require.Equal(t, tools.Ident("create_order"), resp.ToolCalls[0].Name)

	payload, err := json.Marshal(resp.ToolCalls[0].Payload)
	require.NoError(t, err)
	require.JSONEq(t, `{"pet_type":"dog","product_name":"BarkBite"}`, string(payload))

	require.Equal(t, "tool_use", resp.StopReason)
	require.Equal(t, 10, resp.Usage.InputTokens)
	require.Equal(t, 5, resp.Usage.OutputTokens)
	require.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestTranslateResponse_HallucinatedToolNamePassesThrough(t *testing.T) {
	var msg sdk.Message
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": "msg_1",
		"type": "message",
		"role": "assistant",
		"content": [
			{"type": "tool_use", "id": "toolu_1", "name": "made_up_tool", "input": {}}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 1, "output_tokens": 1}
	}`), &msg))

	resp, err := translateResponse(&msg, map[string]string{"create_order": "create_order"})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	require.Equal(t, tools.Ident("made_up_tool"), resp.ToolCalls[0].Name)
}

func TestSanitizeToolName(t *testing.T) {
	require.Equal(t, "get_feeding_guidelines", sanitizeToolName("get_feeding_guidelines"))
	require.Equal(t, "a_b_c", sanitizeToolName("a b.c"))
}
