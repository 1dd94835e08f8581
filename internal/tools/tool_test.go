package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTool struct {
	name string
	kind Kind
}

func (s *stubTool) Name() string                            { return s.name }
func (s *stubTool) Description() string                     { return "stub" }
func (s *stubTool) Kind() Kind                               { return s.kind }
func (s *stubTool) Schema() map[string]interface{}           { return map[string]interface{}{} }
func (s *stubTool) Execute(_ context.Context, args map[string]interface{}) (*Result, error) {
	return &Result{Output: "ok", Success: true}, nil
}

func TestInMemoryRegistry_RegisterAndGet(t *testing.T) {
	r := NewInMemoryRegistry()
	require.NoError(t, r.Register(&stubTool{name: "read_file", kind: KindRead}))

	tool, ok := r.Get("read_file")
	require.True(t, ok)
	assert.Equal(t, KindRead, tool.Kind())
	assert.True(t, r.Has("read_file"))
}

func TestInMemoryRegistry_RegisterDuplicateFails(t *testing.T) {
	r := NewInMemoryRegistry()
	require.NoError(t, r.Register(&stubTool{name: "read_file", kind: KindRead}))
	assert.Error(t, r.Register(&stubTool{name: "read_file", kind: KindRead}))
}

func TestInMemoryRegistry_UnregisterRemoves(t *testing.T) {
	r := NewInMemoryRegistry()
	require.NoError(t, r.Register(&stubTool{name: "x", kind: KindFetch}))
	require.NoError(t, r.Unregister("x"))
	assert.False(t, r.Has("x"))
	assert.Error(t, r.Unregister("x"))
}

func TestInMemoryRegistry_ListReturnsAllDefinitions(t *testing.T) {
	r := NewInMemoryRegistry()
	require.NoError(t, r.Register(&stubTool{name: "a", kind: KindRead}))
	require.NoError(t, r.Register(&stubTool{name: "b", kind: KindEdit}))
	defs := r.List()
	assert.Len(t, defs, 2)
}

func TestPolicy_IsAllowed(t *testing.T) {
	p := &Policy{AllowList: []string{"read_file"}}
	assert.True(t, p.IsAllowed("read_file"))
	assert.False(t, p.IsAllowed("delete_file"))
}

func TestPolicy_DenyListOverridesAllowList(t *testing.T) {
	p := &Policy{AllowList: []string{"x"}, DenyList: []string{"x"}}
	assert.False(t, p.IsAllowed("x"))
}

func TestPolicy_EmptyAllowListMeansAllowAllExceptDenied(t *testing.T) {
	p := &Policy{DenyList: []string{"rm"}}
	assert.True(t, p.IsAllowed("anything"))
	assert.False(t, p.IsAllowed("rm"))
}

func TestPolicy_NeedsConfirmation(t *testing.T) {
	p := &Policy{AskMode: true}
	assert.True(t, p.NeedsConfirmation(KindEdit))
	assert.True(t, p.NeedsConfirmation(KindDelete))
	assert.False(t, p.NeedsConfirmation(KindRead))
	assert.False(t, p.NeedsConfirmation(KindThink))
}

func TestPolicy_NeedsConfirmationFalseWhenAskModeOff(t *testing.T) {
	p := &Policy{AskMode: false}
	assert.False(t, p.NeedsConfirmation(KindEdit))
}
