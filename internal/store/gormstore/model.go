// Package gormstore implements internal/store.Store with gorm, grounded on
// the teacher's internal/infrastructure/persistence (db.go dialector
// selection, gorm_message_repository.go entity<->model conversion).
package gormstore

import "time"

// messageModel is the transcript row shape, trimmed from the teacher's
// MessageModel (ConversationID/SenderID/SenderName/SenderType dropped along
// with the conversation/sender value objects spec.md's flatter transcript
// Message does not carry; TurnID/ToolCallID/Ephemeral added for A).
// ToolCallsJSON stores an assistant message's emitted tool calls so a
// tool_use turn round-trips through restart and can be replayed as
// tool_use content blocks in a later request.
type messageModel struct {
	ID            string `gorm:"primaryKey;size:64"`
	TurnID        string `gorm:"index;size:64"`
	Role          string `gorm:"size:32;not null"`
	Content       string `gorm:"type:text;not null"`
	ToolCallID    string `gorm:"size:64"`
	ToolCallsJSON string `gorm:"type:text"`
	Ephemeral     bool   `gorm:"index"`
	CreatedAt     time.Time
}

func (messageModel) TableName() string { return "messages" }
