package sidebar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"SmargeChat/internal/transcript"
)

// ErrUnknownConversation is returned when a reference matches no entry
var ErrUnknownConversation = errors.New("unknown conversation")

// Store lists and deletes conversations
type Store interface {
	ListConversations(ctx context.Context) ([]transcript.ConversationSummary, error)
	DeleteConversation(ctx context.Context, id string) error
}

// Conversations is the part of the chat controller the sidebar drives
type Conversations interface {
	LoadConversation(ctx context.Context, id string) error
	StartNewConversation()
	ConversationID() string
}

// Sidebar keeps the conversation list next to the chat panel
type Sidebar struct {
	mu     sync.Mutex
	store  Store
	chat   Conversations
	logger *slog.Logger
	items  []transcript.ConversationSummary
	loaded bool
}

// New creates a sidebar over store driving chat
func New(store Store, chat Conversations, logger *slog.Logger) *Sidebar {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sidebar{store: store, chat: chat, logger: logger}
}

// Refresh reloads the list. On failure the previous list is kept.
func (s *Sidebar) Refresh(ctx context.Context) error {
	items, err := s.store.ListConversations(ctx)
	if err != nil {
		s.logger.Warn("failed to fetch conversations", "error", err)
		return fmt.Errorf("refresh conversations: %w", err)
	}

	s.mu.Lock()
	s.items = items
	s.loaded = true
	s.mu.Unlock()

	s.logger.Debug("conversations refreshed", "count", len(items))
	return nil
}

// Items returns a copy of the current list
func (s *Sidebar) Items() []transcript.ConversationSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transcript.ConversationSummary(nil), s.items...)
}

// Loaded reports whether at least one refresh has succeeded
func (s *Sidebar) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Resolve maps a 1-based list position or a conversation id to an id
func (s *Sidebar) Resolve(ref string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(s.items) {
			return "", fmt.Errorf("%w: #%d", ErrUnknownConversation, n)
		}
		return s.items[n-1].ID, nil
	}
	for _, item := range s.items {
		if item.ID == ref {
			return item.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownConversation, ref)
}

// Select opens a conversation in the chat panel
func (s *Sidebar) Select(ctx context.Context, id string) error {
	return s.chat.LoadConversation(ctx, id)
}

// Delete removes a conversation. If it is the one on screen, the chat
// panel starts a new conversation.
func (s *Sidebar) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteConversation(ctx, id); err != nil {
		s.logger.Warn("failed to delete conversation", "conversation_id", id, "error", err)
		return fmt.Errorf("delete conversation: %w", err)
	}

	s.mu.Lock()
	kept := s.items[:0:0]
	for _, item := range s.items {
		if item.ID != id {
			kept = append(kept, item)
		}
	}
	s.items = kept
	s.mu.Unlock()

	if s.chat.ConversationID() == id {
		s.chat.StartNewConversation()
	}
	s.logger.Info("deleted conversation", "conversation_id", id)
	return nil
}

// NewChat clears the chat panel and refreshes the list
func (s *Sidebar) NewChat(ctx context.Context) error {
	s.chat.StartNewConversation()
	return s.Refresh(ctx)
}
