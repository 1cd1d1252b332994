package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func echoSpec(name Ident) *Spec {
	return &Spec{
		Name:        name,
		Description: "Echo the input",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"msg": {"type": "string"}},
			"required": ["msg"],
			"additionalProperties": false
		}`),
		Handler: func(_ context.Context, payload json.RawMessage) (string, error) {
			var p struct {
				Msg string `json:"msg"`
			}
			if err := json.Unmarshal(payload, &p); err != nil {
				return "", err
			}
			return p.Msg, nil
		},
	}
}

func TestNewRegistry_Validation(t *testing.T) {
	_, err := NewRegistry()
	require.Error(t, err)

	_, err = NewRegistry(&Spec{Name: "x", Handler: echoSpec("x").Handler})
	require.Error(t, err, "missing description")

	_, err = NewRegistry(&Spec{Name: "x", Description: "d"})
	require.Error(t, err, "missing handler")

	_, err = NewRegistry(echoSpec("x"), echoSpec("x"))
	require.Error(t, err, "duplicate registration")
}

func TestRegistry_SpecsPreserveOrder(t *testing.T) {
	r, err := NewRegistry(echoSpec("b"), echoSpec("a"), echoSpec("c"))
	require.NoError(t, err)

	specs := r.Specs()
	require.Len(t, specs, 3)
	require.Equal(t, Ident("b"), specs[0].Name)
	require.Equal(t, Ident("a"), specs[1].Name)
	require.Equal(t, Ident("c"), specs[2].Name)
}

func TestExecute_OK(t *testing.T) {
	r, err := NewRegistry(echoSpec("echo"))
	require.NoError(t, err)

	res := r.Execute(context.Background(), "echo", "t1", map[string]any{"msg": "hello"})
	require.False(t, res.IsError)
	require.Equal(t, "hello", res.Content)
	require.Equal(t, Ident("echo"), res.Name)
	require.Equal(t, "t1", res.ToolUseID)
}

func TestExecute_UnknownTool(t *testing.T) {
	r, err := NewRegistry(echoSpec("echo"))
	require.NoError(t, err)

	res := r.Execute(context.Background(), "missing", "t1", nil)
	require.True(t, res.IsError)
	require.Equal(t, `Error: tool "missing" is not available.`, res.Content)
}

func TestExecute_SchemaViolation(t *testing.T) {
	r, err := NewRegistry(echoSpec("echo"))
	require.NoError(t, err)

	// msg is required.
	res := r.Execute(context.Background(), "echo", "t1", map[string]any{})
	require.True(t, res.IsError)
	require.Contains(t, res.Content, "invalid arguments")

	// additionalProperties is false.
	res = r.Execute(context.Background(), "echo", "t2", map[string]any{"msg": "ok", "extra": 1})
	require.True(t, res.IsError)
}

func TestExecute_HandlerError(t *testing.T) {
	boom := &Spec{
		Name:        "boom",
		Description: "Always fails",
		Handler: func(context.Context, json.RawMessage) (string, error) {
			return "", errors.New("kaput")
		},
	}
	r, err := NewRegistry(boom)
	require.NoError(t, err)

	res := r.Execute(context.Background(), "boom", "t1", nil)
	require.True(t, res.IsError)
	require.Equal(t, `Error: tool "boom" failed: kaput`, res.Content)
}

func TestExecute_PayloadNormalization(t *testing.T) {
	optional := &Spec{
		Name:        "optional",
		Description: "No required arguments",
		Handler: func(_ context.Context, payload json.RawMessage) (string, error) {
			return string(payload), nil
		},
	}
	r, err := NewRegistry(optional)
	require.NoError(t, err)

	for _, payload := range []any{nil, json.RawMessage(nil), []byte(nil)} {
		res := r.Execute(context.Background(), "optional", "t1", payload)
		require.False(t, res.IsError)
		require.JSONEq(t, `{}`, res.Content)
	}

	res := r.Execute(context.Background(), "optional", "t2", json.RawMessage(`{"a":1}`))
	require.False(t, res.IsError)
	require.JSONEq(t, `{"a":1}`, res.Content)
}
