// Package store defines the transcript store external interface from
// spec.md §6 and supplies a gorm-backed implementation in its gormstore
// subpackage.
package store

import (
	"context"

	"github.com/ngoclaw/chatcore/internal/domain/entity"
)

// Store is the transcript store A reads/writes through. Implementations do
// their own locking; the run controller wraps no mutex around it.
// Durability is required only to the point of process crash; no fsync per
// message is required.
type Store interface {
	AppendMessage(ctx context.Context, msg *entity.Message) error
	UpdateMessage(ctx context.Context, id, newContent string) error
	UpdateMessageToolCalls(ctx context.Context, id string, calls []*entity.ToolCall) error
	ListMessages(ctx context.Context) ([]*entity.Message, error)
	DeleteEphemeral(ctx context.Context) error
	Close() error
}
