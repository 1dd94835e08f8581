// Package builtin provides the default tool set offered to the model: a
// sandboxed shell, and file/search helpers layered on top of it. Grounded on
// the teacher's internal/infrastructure/tool/builtin_tools.go, re-expressed
// against this module's tools.Tool interface and tools.Result shape (which
// already matches the teacher's domaintool.Result field-for-field).
package builtin

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ngoclaw/chatcore/internal/sandbox"
	"github.com/ngoclaw/chatcore/internal/tools"
)

// Register adds the full builtin tool set to reg.
func Register(reg tools.Registry, sb *sandbox.ProcessSandbox, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, t := range []tools.Tool{
		NewBashTool(sb, logger),
		NewReadFileTool(sb, logger),
		NewWriteFileTool(sb, logger),
		NewListDirTool(sb, logger),
		NewSearchTool(sb, logger),
	} {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// BashTool runs an arbitrary shell command inside the sandbox.
type BashTool struct {
	sandbox *sandbox.ProcessSandbox
	logger  *zap.Logger
}

func NewBashTool(sb *sandbox.ProcessSandbox, logger *zap.Logger) *BashTool {
	return &BashTool{sandbox: sb, logger: logger}
}

func (t *BashTool) Name() string        { return "bash" }
func (t *BashTool) Kind() tools.Kind     { return tools.KindExecute }
func (t *BashTool) Description() string {
	return `Execute bash commands in a sandboxed environment.
Constraints:
- Commands run with a timeout; a timed-out command reports exit code -1 and an error.
- For network commands, always add an explicit connect/overall timeout.
- If a command fails twice with the same error, stop retrying and report it.
- Avoid interactive or long-running commands (top, watch, tail -f).
- Prefer simple, targeted commands over complex pipelines.`
}

func (t *BashTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command":  map[string]interface{}{"type": "string", "description": "The bash command to execute"},
			"work_dir": map[string]interface{}{"type": "string", "description": "Optional working directory; it stays in effect for later commands"},
		},
		"required": []string{"command"},
	}
}

func (t *BashTool) Execute(ctx context.Context, args map[string]interface{}) (*tools.Result, error) {
	command, ok := args["command"].(string)
	if !ok || command == "" {
		return &tools.Result{Success: false, Error: "command is required"}, nil
	}

	if workDir, ok := args["work_dir"].(string); ok && workDir != "" {
		if err := t.sandbox.SetWorkDir(workDir); err != nil {
			return &tools.Result{Success: false, Error: err.Error()}, nil
		}
	}

	t.logger.Info("executing bash tool call", zap.String("command", command))

	result, err := t.sandbox.ExecuteShell(ctx, command)
	if err != nil {
		res := &tools.Result{Success: false, Error: err.Error()}
		if result != nil {
			res.Output = result.Stderr
			res.Metadata = map[string]interface{}{
				"exit_code": result.ExitCode,
				"duration":  result.Duration.String(),
				"killed":    result.Killed,
			}
		}
		return res, nil
	}

	output := result.Stdout
	if result.Stderr != "" {
		output += "\n[stderr]\n" + result.Stderr
	}

	return &tools.Result{
		Output:  output,
		Display: summarizeShellOutput(command, output, result),
		Success: result.ExitCode == 0,
		Metadata: map[string]interface{}{
			"exit_code": result.ExitCode,
			"duration":  result.Duration.String(),
		},
	}, nil
}

// summarizeShellOutput renders a concise display string for long output,
// showing head and tail instead of the full body.
func summarizeShellOutput(command, output string, result *sandbox.Result) string {
	const threshold = 2000
	if len(output) <= threshold {
		return ""
	}
	lines := strings.Split(output, "\n")
	lineCount := len(lines)
	charCount := len(output)

	headLines, tailLines := 5, 5
	if headLines+tailLines >= lineCount {
		headLines = lineCount / 2
		tailLines = lineCount - headLines
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("`%s`\n", truncateCmd(command, 60)))
	if result.ExitCode == 0 {
		sb.WriteString(fmt.Sprintf("exit=0 | %d lines | %d chars | %s\n", lineCount, charCount, result.Duration))
	} else {
		sb.WriteString(fmt.Sprintf("exit=%d | %d lines | %s\n", result.ExitCode, lineCount, result.Duration))
	}
	sb.WriteString("```\n")
	for i := 0; i < headLines && i < lineCount; i++ {
		sb.WriteString(truncateLine(lines[i], 120) + "\n")
	}
	if headLines+tailLines < lineCount {
		sb.WriteString(fmt.Sprintf("... (%d lines omitted) ...\n", lineCount-headLines-tailLines))
	}
	for i := lineCount - tailLines; i < lineCount; i++ {
		if i >= headLines {
			sb.WriteString(truncateLine(lines[i], 120) + "\n")
		}
	}
	sb.WriteString("```")
	return sb.String()
}

func truncateCmd(cmd string, maxLen int) string {
	cmd = strings.TrimSpace(cmd)
	if len(cmd) <= maxLen {
		return cmd
	}
	return cmd[:maxLen-3] + "..."
}

func truncateLine(line string, maxLen int) string {
	if len(line) <= maxLen {
		return line
	}
	return line[:maxLen-3] + "..."
}

// ReadFileTool reads a file, or a line range of one.
type ReadFileTool struct {
	sandbox *sandbox.ProcessSandbox
	logger  *zap.Logger
}

func NewReadFileTool(sb *sandbox.ProcessSandbox, logger *zap.Logger) *ReadFileTool {
	return &ReadFileTool{sandbox: sb, logger: logger}
}

func (t *ReadFileTool) Name() string    { return "read_file" }
func (t *ReadFileTool) Kind() tools.Kind { return tools.KindRead }
func (t *ReadFileTool) Description() string {
	return "Read the contents of a file. Supports text files. Use this to examine source code, configuration files, and other text content."
}

func (t *ReadFileTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":       map[string]interface{}{"type": "string", "description": "The path to the file to read"},
			"start_line": map[string]interface{}{"type": "integer", "description": "Optional starting line number (1-indexed)"},
			"end_line":   map[string]interface{}{"type": "integer", "description": "Optional ending line number (1-indexed)"},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}) (*tools.Result, error) {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return &tools.Result{Success: false, Error: "path is required"}, nil
	}

	var cmd string
	startLine, hasStart := args["start_line"].(float64)
	endLine, hasEnd := args["end_line"].(float64)
	switch {
	case hasStart && hasEnd:
		cmd = fmt.Sprintf("sed -n '%d,%dp' '%s'", int(startLine), int(endLine), path)
	case hasStart:
		cmd = fmt.Sprintf("tail -n +%d '%s'", int(startLine), path)
	default:
		cmd = fmt.Sprintf("cat '%s'", path)
	}

	result, err := t.sandbox.ExecuteShell(ctx, cmd)
	if err != nil {
		errMsg := err.Error()
		if result != nil {
			errMsg = result.Stderr
		}
		return &tools.Result{Success: false, Error: errMsg}, nil
	}

	return &tools.Result{
		Output:   result.Stdout,
		Success:  true,
		Metadata: map[string]interface{}{"path": path},
	}, nil
}

// WriteFileTool creates or overwrites a file with given content.
type WriteFileTool struct {
	sandbox *sandbox.ProcessSandbox
	logger  *zap.Logger
}

func NewWriteFileTool(sb *sandbox.ProcessSandbox, logger *zap.Logger) *WriteFileTool {
	return &WriteFileTool{sandbox: sb, logger: logger}
}

func (t *WriteFileTool) Name() string    { return "write_file" }
func (t *WriteFileTool) Kind() tools.Kind { return tools.KindEdit }
func (t *WriteFileTool) Description() string {
	return "Write content to a file. Creates the file if it doesn't exist, or overwrites it if it does."
}

func (t *WriteFileTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":    map[string]interface{}{"type": "string", "description": "The path to the file to write"},
			"content": map[string]interface{}{"type": "string", "description": "The content to write to the file"},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]interface{}) (*tools.Result, error) {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return &tools.Result{Success: false, Error: "path is required"}, nil
	}
	content, ok := args["content"].(string)
	if !ok {
		return &tools.Result{Success: false, Error: "content is required"}, nil
	}

	cmd := fmt.Sprintf("cat > '%s' << 'CHATCORE_EOF'\n%s\nCHATCORE_EOF", path, content)

	result, err := t.sandbox.ExecuteShell(ctx, cmd)
	if err != nil {
		errMsg := err.Error()
		if result != nil {
			errMsg = result.Stderr
		}
		return &tools.Result{Success: false, Error: errMsg}, nil
	}

	return &tools.Result{
		Output:  fmt.Sprintf("wrote %d bytes to %s", len(content), path),
		Success: true,
		Metadata: map[string]interface{}{
			"path":          path,
			"bytes_written": len(content),
		},
	}, nil
}

// ListDirTool lists a directory's contents, optionally recursively.
type ListDirTool struct {
	sandbox *sandbox.ProcessSandbox
	logger  *zap.Logger
}

func NewListDirTool(sb *sandbox.ProcessSandbox, logger *zap.Logger) *ListDirTool {
	return &ListDirTool{sandbox: sb, logger: logger}
}

func (t *ListDirTool) Name() string    { return "list_dir" }
func (t *ListDirTool) Kind() tools.Kind { return tools.KindRead }
func (t *ListDirTool) Description() string {
	return "List contents of a directory. Shows files and subdirectories with their sizes and types; a recursive listing shows paths only."
}

func (t *ListDirTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":      map[string]interface{}{"type": "string", "description": "The directory path to list"},
			"recursive": map[string]interface{}{"type": "boolean", "description": "Whether to list recursively"},
		},
		"required": []string{"path"},
	}
}

func (t *ListDirTool) Execute(ctx context.Context, args map[string]interface{}) (*tools.Result, error) {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		path = "."
	}
	recursive, _ := args["recursive"].(bool)

	var cmd string
	if recursive {
		cmd = fmt.Sprintf("find '%s' -maxdepth 3 -type f -o -type d | head -100", path)
	} else {
		cmd = fmt.Sprintf("ls -la '%s'", path)
	}

	result, err := t.sandbox.ExecuteShell(ctx, cmd)
	if err != nil {
		errMsg := err.Error()
		if result != nil {
			errMsg = result.Stderr
		}
		return &tools.Result{Success: false, Error: errMsg}, nil
	}

	return &tools.Result{
		Output:   result.Stdout,
		Success:  true,
		Metadata: map[string]interface{}{"path": path},
	}, nil
}

// SearchTool greps for a pattern within a file or directory.
type SearchTool struct {
	sandbox *sandbox.ProcessSandbox
	logger  *zap.Logger
}

func NewSearchTool(sb *sandbox.ProcessSandbox, logger *zap.Logger) *SearchTool {
	return &SearchTool{sandbox: sb, logger: logger}
}

func (t *SearchTool) Name() string    { return "grep_search" }
func (t *SearchTool) Kind() tools.Kind { return tools.KindSearch }
func (t *SearchTool) Description() string {
	return "Search for patterns in files using grep. Supports regular expressions."
}

func (t *SearchTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern":   map[string]interface{}{"type": "string", "description": "The pattern to search for"},
			"path":      map[string]interface{}{"type": "string", "description": "The file or directory to search in"},
			"recursive": map[string]interface{}{"type": "boolean", "description": "Search recursively in directories"},
		},
		"required": []string{"pattern", "path"},
	}
}

func (t *SearchTool) Execute(ctx context.Context, args map[string]interface{}) (*tools.Result, error) {
	pattern, ok := args["pattern"].(string)
	if !ok || pattern == "" {
		return &tools.Result{Success: false, Error: "pattern is required"}, nil
	}
	path, ok := args["path"].(string)
	if !ok || path == "" {
		path = "."
	}
	recursive, _ := args["recursive"].(bool)

	var cmd string
	if recursive {
		cmd = fmt.Sprintf("grep -rn '%s' '%s' | head -50", pattern, path)
	} else {
		cmd = fmt.Sprintf("grep -n '%s' '%s' | head -50", pattern, path)
	}

	result, err := t.sandbox.ExecuteShell(ctx, cmd)
	if err != nil && (result == nil || result.ExitCode != 1) {
		errMsg := err.Error()
		if result != nil {
			errMsg = result.Stderr
		}
		return &tools.Result{Success: false, Error: errMsg}, nil
	}
	if result == nil {
		return &tools.Result{Success: false, Error: "no result from sandbox"}, nil
	}

	output := result.Stdout
	if output == "" {
		output = "no matches found"
	}

	return &tools.Result{
		Output:  output,
		Success: true,
		Metadata: map[string]interface{}{
			"pattern": pattern,
			"path":    path,
		},
	}, nil
}
