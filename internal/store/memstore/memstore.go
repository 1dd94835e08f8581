// Package memstore is an in-process Store used by tests and, when db_path is
// ":memory:", by the binary,
// avoiding a gorm/sqlite dependency in unit tests that don't exercise
// persistence itself.
package memstore

import (
	"context"
	"sync"

	"github.com/ngoclaw/chatcore/internal/apperrors"
	"github.com/ngoclaw/chatcore/internal/domain/entity"
)

type Store struct {
	mu       sync.Mutex
	order    []string
	messages map[string]*entity.Message
	closed   bool
}

func New() *Store {
	return &Store{messages: make(map[string]*entity.Message)}
}

func (s *Store) AppendMessage(_ context.Context, msg *entity.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return apperrors.NewPersistenceError("store is closed", nil)
	}
	if _, exists := s.messages[msg.ID()]; !exists {
		s.order = append(s.order, msg.ID())
	}
	s.messages[msg.ID()] = msg
	return nil
}

func (s *Store) UpdateMessage(_ context.Context, id, newContent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return apperrors.NewPersistenceError("store is closed", nil)
	}
	msg, exists := s.messages[id]
	if !exists {
		return apperrors.NewNotFoundError("message not found: " + id)
	}
	msg.SetContent(newContent)
	return nil
}

func (s *Store) UpdateMessageToolCalls(_ context.Context, id string, calls []*entity.ToolCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return apperrors.NewPersistenceError("store is closed", nil)
	}
	msg, exists := s.messages[id]
	if !exists {
		return apperrors.NewNotFoundError("message not found: " + id)
	}
	msg.SetToolCalls(calls)
	return nil
}

func (s *Store) ListMessages(_ context.Context) ([]*entity.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, apperrors.NewPersistenceError("store is closed", nil)
	}
	out := make([]*entity.Message, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.messages[id])
	}
	return out, nil
}

func (s *Store) DeleteEphemeral(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return apperrors.NewPersistenceError("store is closed", nil)
	}
	kept := s.order[:0]
	for _, id := range s.order {
		if s.messages[id].Ephemeral() {
			delete(s.messages, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
