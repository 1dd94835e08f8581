package tui

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSlashCommand_RecognizesSlash(t *testing.T) {
	cmd := ParseSlashCommand("/status extra")
	require.NotNil(t, cmd)
	assert.Equal(t, "status", cmd.Name)
	assert.Equal(t, []string{"extra"}, cmd.Args)
}

func TestParseSlashCommand_NonSlashReturnsNil(t *testing.T) {
	assert.Nil(t, ParseSlashCommand("hello"))
}

func TestExecuteCommand_ExitSetsIsQuit(t *testing.T) {
	result := ExecuteCommand(&SlashCommand{Name: "exit"}, Status{})
	assert.True(t, result.IsQuit)
}

func TestExecuteCommand_UnknownReportsError(t *testing.T) {
	result := ExecuteCommand(&SlashCommand{Name: "bogus"}, Status{})
	assert.Contains(t, result.Output, "unknown command")
}

func TestExecuteCommand_StatusRendersModel(t *testing.T) {
	result := ExecuteCommand(&SlashCommand{Name: "status"}, Status{Model: "test-model", ToolCount: 3, CostUSD: 1.5, RequestCount: 4})
	assert.Contains(t, result.Output, "test-model")
}
