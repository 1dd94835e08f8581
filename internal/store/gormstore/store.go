package gormstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ngoclaw/chatcore/internal/apperrors"
	"github.com/ngoclaw/chatcore/internal/domain/entity"
)

// Dialect selects the gorm driver, mirroring the teacher's cfg.Type switch.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Store is the gorm-backed implementation of store.Store.
type Store struct {
	db *gorm.DB
}

// Open connects and auto-migrates, following the teacher's NewDBConnection.
func Open(dialect Dialect, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch dialect {
	case DialectSQLite:
		dialector = sqlite.Open(dsn)
	case DialectPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, apperrors.NewFatalError(fmt.Sprintf("unsupported database dialect: %s", dialect), nil)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, apperrors.NewFatalError("failed to open transcript store", err)
	}

	if err := db.AutoMigrate(&messageModel{}); err != nil {
		return nil, apperrors.NewFatalError("failed to migrate transcript store", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) AppendMessage(ctx context.Context, msg *entity.Message) error {
	model := toModel(msg)
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return apperrors.NewPersistenceError("failed to append message", err)
	}
	return nil
}

func (s *Store) UpdateMessage(ctx context.Context, id, newContent string) error {
	result := s.db.WithContext(ctx).Model(&messageModel{}).Where("id = ?", id).Update("content", newContent)
	if result.Error != nil {
		return apperrors.NewPersistenceError("failed to update message", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.NewNotFoundError("message not found: " + id)
	}
	return nil
}

func (s *Store) UpdateMessageToolCalls(ctx context.Context, id string, calls []*entity.ToolCall) error {
	data, err := json.Marshal(calls)
	if err != nil {
		return apperrors.NewPersistenceError("failed to marshal tool calls", err)
	}
	result := s.db.WithContext(ctx).Model(&messageModel{}).Where("id = ?", id).Update("tool_calls_json", string(data))
	if result.Error != nil {
		return apperrors.NewPersistenceError("failed to update message tool calls", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.NewNotFoundError("message not found: " + id)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context) ([]*entity.Message, error) {
	var rows []messageModel
	if err := s.db.WithContext(ctx).Order("created_at asc").Find(&rows).Error; err != nil {
		return nil, apperrors.NewPersistenceError("failed to list messages", err)
	}
	out := make([]*entity.Message, 0, len(rows))
	for _, row := range rows {
		out = append(out, toEntity(&row))
	}
	return out, nil
}

func (s *Store) DeleteEphemeral(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Where("ephemeral = ?", true).Delete(&messageModel{}).Error; err != nil {
		return apperrors.NewPersistenceError("failed to delete ephemeral messages", err)
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return apperrors.NewFatalError("failed to access underlying db handle", err)
	}
	if err := sqlDB.Close(); err != nil {
		return apperrors.NewFatalError("failed to close transcript store", err)
	}
	return nil
}

func toModel(m *entity.Message) *messageModel {
	var toolCallsJSON string
	if calls := m.ToolCalls(); len(calls) > 0 {
		if data, err := json.Marshal(calls); err == nil {
			toolCallsJSON = string(data)
		}
	}
	return &messageModel{
		ID:            m.ID(),
		TurnID:        m.TurnID(),
		Role:          string(m.Role()),
		Content:       m.Content(),
		ToolCallID:    m.ToolCallID(),
		ToolCallsJSON: toolCallsJSON,
		Ephemeral:     m.Ephemeral(),
		CreatedAt:     m.CreatedAt(),
	}
}

func toEntity(row *messageModel) *entity.Message {
	var toolCalls []*entity.ToolCall
	if row.ToolCallsJSON != "" {
		_ = json.Unmarshal([]byte(row.ToolCallsJSON), &toolCalls)
	}
	return entity.ReconstructMessage(row.ID, row.TurnID, entity.Role(row.Role), row.Content, row.ToolCallID, toolCalls, row.Ephemeral, row.CreatedAt)
}
