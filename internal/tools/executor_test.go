package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngoclaw/chatcore/internal/apperrors"
	"github.com/ngoclaw/chatcore/internal/domain/entity"
)

type echoTool struct{ fail bool }

func (e *echoTool) Name() string                  { return "echo" }
func (e *echoTool) Description() string           { return "echoes back its args" }
func (e *echoTool) Kind() Kind                     { return KindRead }
func (e *echoTool) Schema() map[string]interface{} { return nil }
func (e *echoTool) Execute(_ context.Context, args map[string]interface{}) (*Result, error) {
	if e.fail {
		return &Result{Success: false, Error: "boom"}, nil
	}
	return &Result{Output: "ok", Success: true}, nil
}

func newExecutorWithEcho(t *testing.T, fail bool) (*Executor, *entity.ToolCall) {
	t.Helper()
	reg := NewInMemoryRegistry()
	require.NoError(t, reg.Register(&echoTool{fail: fail}))
	call := entity.NewToolCall("tc_1", "echo", map[string]interface{}{"x": 1})
	return NewExecutor(reg, &Policy{}), call
}

func TestExecutor_RunMarksCallComplete(t *testing.T) {
	exec, call := newExecutorWithEcho(t, false)
	require.NoError(t, exec.Run(context.Background(), call))
	assert.Equal(t, entity.ToolCallComplete, call.Status)
	assert.Equal(t, "ok", call.Result)
}

func TestExecutor_RunMarksCallFailedOnToolFailure(t *testing.T) {
	exec, call := newExecutorWithEcho(t, true)
	err := exec.Run(context.Background(), call)
	require.Error(t, err)
	assert.Equal(t, entity.ToolCallFailed, call.Status)
}

func TestExecutor_RunFailsForUnknownTool(t *testing.T) {
	reg := NewInMemoryRegistry()
	exec := NewExecutor(reg, &Policy{})
	call := entity.NewToolCall("tc_1", "missing", nil)

	err := exec.Run(context.Background(), call)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
	assert.Equal(t, entity.ToolCallFailed, call.Status)
}

func TestExecutor_RunDeniedByPolicy(t *testing.T) {
	reg := NewInMemoryRegistry()
	require.NoError(t, reg.Register(&echoTool{}))
	exec := NewExecutor(reg, &Policy{DenyList: []string{"echo"}})
	call := entity.NewToolCall("tc_1", "echo", nil)

	err := exec.Run(context.Background(), call)
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidInput(err))
}

func TestExecutor_NeedsConfirmationReflectsToolKind(t *testing.T) {
	reg := NewInMemoryRegistry()
	require.NoError(t, reg.Register(&echoTool{}))
	exec := NewExecutor(reg, &Policy{AskMode: true})
	call := entity.NewToolCall("tc_1", "echo", nil)
	assert.False(t, exec.NeedsConfirmation(call)) // KindRead is safe
}
