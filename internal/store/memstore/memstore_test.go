package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngoclaw/chatcore/internal/domain/entity"
)

func mustMessage(t *testing.T, id string, role entity.Role, content string) *entity.Message {
	t.Helper()
	msg, err := entity.NewMessage(id, "turn_1", role, content)
	require.NoError(t, err)
	return msg
}

func TestStore_AppendAndListPreservesOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.AppendMessage(ctx, mustMessage(t, "m1", entity.RoleUser, "hi")))
	require.NoError(t, s.AppendMessage(ctx, mustMessage(t, "m2", entity.RoleAssistant, "hello")))

	msgs, err := s.ListMessages(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID())
	assert.Equal(t, "m2", msgs[1].ID())
}

func TestStore_UpdateMessageChangesContent(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.AppendMessage(ctx, mustMessage(t, "m1", entity.RoleAssistant, "partial")))
	require.NoError(t, s.UpdateMessage(ctx, "m1", "complete"))

	msgs, _ := s.ListMessages(ctx)
	assert.Equal(t, "complete", msgs[0].Content())
}

func TestStore_UpdateMessageFailsForUnknownID(t *testing.T) {
	s := New()
	assert.Error(t, s.UpdateMessage(context.Background(), "missing", "x"))
}

func TestStore_DeleteEphemeralRemovesOnlyFlagged(t *testing.T) {
	s := New()
	ctx := context.Background()
	keep := mustMessage(t, "m1", entity.RoleUser, "keep me")
	drop := mustMessage(t, "m2", entity.RoleSystem, "demo notice")
	drop.MarkEphemeral()
	require.NoError(t, s.AppendMessage(ctx, keep))
	require.NoError(t, s.AppendMessage(ctx, drop))

	require.NoError(t, s.DeleteEphemeral(ctx))

	msgs, _ := s.ListMessages(ctx)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID())
}
