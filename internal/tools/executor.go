package tools

import (
	"context"
	"fmt"

	"github.com/ngoclaw/chatcore/internal/apperrors"
	"github.com/ngoclaw/chatcore/internal/domain/entity"
)

// Executor is the ToolExecutor external interface A dispatches tool calls
// through: run(tool_call) -> {result | error}. It resolves the named tool
// from a Registry, applies Policy, and marks the call's terminal state on
// entity.ToolCall directly so the agent loop has a single source of truth.
type Executor struct {
	registry Registry
	policy   *Policy
}

func NewExecutor(registry Registry, policy *Policy) *Executor {
	if policy == nil {
		policy = &Policy{}
	}
	return &Executor{registry: registry, policy: policy}
}

// Run executes one tool call and mutates its Status/Result/Err in place.
// It never panics on an unknown or denied tool — it marks the call failed
// and returns a typed error so A can fold the failure into a tool_result
// message instead of aborting the turn.
func (e *Executor) Run(ctx context.Context, call *entity.ToolCall) error {
	call.MarkRunning()

	if !e.policy.IsAllowed(call.Name) {
		err := apperrors.NewInvalidInputError(fmt.Sprintf("tool %s is not permitted by policy", call.Name))
		call.MarkFailed(err.Error())
		return err
	}

	tool, ok := e.registry.Get(call.Name)
	if !ok {
		err := apperrors.NewNotFoundError(fmt.Sprintf("tool %s is not registered", call.Name))
		call.MarkFailed(err.Error())
		return err
	}

	result, err := tool.Execute(ctx, call.Arguments)
	if err != nil {
		wrapped := apperrors.NewInternalErrorWithCause("tool execution failed", err)
		call.MarkFailed(wrapped.Error())
		return wrapped
	}
	if !result.Success {
		call.MarkFailed(result.Error)
		return apperrors.NewInternalError(result.Error)
	}

	call.MarkComplete(result.DisplayOrOutput())
	return nil
}

// NeedsConfirmation reports whether call must be confirmed before Run, per
// the registered tool's Kind and the executor's Policy.
func (e *Executor) NeedsConfirmation(call *entity.ToolCall) bool {
	tool, ok := e.registry.Get(call.Name)
	if !ok {
		return false
	}
	return e.policy.NeedsConfirmation(tool.Kind())
}

// ListTools returns the tool definitions A sends to the provider as part of
// a request body.
func (e *Executor) ListTools() []Definition {
	return e.registry.List()
}
