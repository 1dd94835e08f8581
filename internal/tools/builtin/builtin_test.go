package builtin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ngoclaw/chatcore/internal/sandbox"
	"github.com/ngoclaw/chatcore/internal/tools"
)

func newTestSandbox(t *testing.T) *sandbox.ProcessSandbox {
	t.Helper()
	cfg := sandbox.DefaultConfig()
	cfg.WorkDir = t.TempDir()
	cfg.TempDir = t.TempDir()
	sb, err := sandbox.NewProcessSandbox(cfg, zap.NewNop())
	require.NoError(t, err)
	return sb
}

func TestBashTool_ExecuteReturnsStdout(t *testing.T) {
	sb := newTestSandbox(t)
	tool := NewBashTool(sb, zap.NewNop())

	result, err := tool.Execute(context.Background(), map[string]interface{}{"command": "echo hello"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.Output, "hello")
}

func TestBashTool_RequiresCommand(t *testing.T) {
	sb := newTestSandbox(t)
	tool := NewBashTool(sb, zap.NewNop())

	result, err := tool.Execute(context.Background(), map[string]interface{}{})
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestWriteThenReadFileTool_RoundTrips(t *testing.T) {
	sb := newTestSandbox(t)
	writer := NewWriteFileTool(sb, zap.NewNop())
	reader := NewReadFileTool(sb, zap.NewNop())

	path := filepath.Join(sb.GetWorkDir(), "note.txt")
	wr, err := writer.Execute(context.Background(), map[string]interface{}{"path": path, "content": "line one\nline two"})
	require.NoError(t, err)
	require.True(t, wr.Success)

	rr, err := reader.Execute(context.Background(), map[string]interface{}{"path": path})
	require.NoError(t, err)
	require.True(t, rr.Success)
	assert.Contains(t, rr.Output, "line one")
	assert.Contains(t, rr.Output, "line two")
}

func TestReadFileTool_LineRange(t *testing.T) {
	sb := newTestSandbox(t)
	path := filepath.Join(sb.GetWorkDir(), "lines.txt")
	require.NoError(t, os.WriteFile(path, []byte("a\nb\nc\nd\n"), 0644))

	reader := NewReadFileTool(sb, zap.NewNop())
	rr, err := reader.Execute(context.Background(), map[string]interface{}{"path": path, "start_line": float64(2), "end_line": float64(3)})
	require.NoError(t, err)
	require.True(t, rr.Success)
	assert.Equal(t, "b\nc\n", rr.Output)
}

func TestListDirTool_ListsWrittenFile(t *testing.T) {
	sb := newTestSandbox(t)
	path := filepath.Join(sb.GetWorkDir(), "entry.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	tool := NewListDirTool(sb, zap.NewNop())
	rr, err := tool.Execute(context.Background(), map[string]interface{}{"path": sb.GetWorkDir()})
	require.NoError(t, err)
	require.True(t, rr.Success)
	assert.Contains(t, rr.Output, "entry.txt")
}

func TestSearchTool_FindsPattern(t *testing.T) {
	sb := newTestSandbox(t)
	path := filepath.Join(sb.GetWorkDir(), "haystack.txt")
	require.NoError(t, os.WriteFile(path, []byte("alpha\nneedle here\nbeta\n"), 0644))

	tool := NewSearchTool(sb, zap.NewNop())
	rr, err := tool.Execute(context.Background(), map[string]interface{}{"pattern": "needle", "path": path})
	require.NoError(t, err)
	require.True(t, rr.Success)
	assert.Contains(t, rr.Output, "needle here")
}

func TestSearchTool_NoMatchesIsStillSuccess(t *testing.T) {
	sb := newTestSandbox(t)
	path := filepath.Join(sb.GetWorkDir(), "haystack.txt")
	require.NoError(t, os.WriteFile(path, []byte("alpha\nbeta\n"), 0644))

	tool := NewSearchTool(sb, zap.NewNop())
	rr, err := tool.Execute(context.Background(), map[string]interface{}{"pattern": "needle", "path": path})
	require.NoError(t, err)
	require.True(t, rr.Success)
	assert.Equal(t, "no matches found", rr.Output)
}

func TestRegister_AddsAllBuiltinTools(t *testing.T) {
	sb := newTestSandbox(t)
	reg := tools.NewInMemoryRegistry()
	require.NoError(t, Register(reg, sb, zap.NewNop()))

	for _, name := range []string{"bash", "read_file", "write_file", "list_dir", "grep_search"} {
		assert.True(t, reg.Has(name), name)
	}
}
