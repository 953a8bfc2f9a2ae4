package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/eternisai/search-chat/internal/logger"
)

// Service is the conversation store used by the finalizer and the HTTP API. It applies the
// anonymous owner rules before any backend call.
type Service struct {
	backend Backend
	cache   SharedCache
	logger  *logger.Logger
	now     func() time.Time
}

// NewService creates a store over backend. cache may be nil.
func NewService(backend Backend, cache SharedCache, logger *logger.Logger) *Service {
	return &Service{
		backend: backend,
		cache:   cache,
		logger:  logger.WithComponent("chat-store"),
		now:     time.Now,
	}
}

// List returns every conversation of the owner, newest first, without messages.
func (s *Service) List(ctx context.Context, ownerID string) ([]*Conversation, error) {
	if ownerID == AnonymousOwner {
		observe("list", resultAnonymous)
		return []*Conversation{}, nil
	}

	list, err := s.backend.List(ctx, ownerID, 0, 0)
	if err != nil {
		observe("list", resultError)
		s.logger.LogError(ctx, err, "failed to list conversations")
		return nil, err
	}

	observe("list", resultOK)
	return decorate(list), nil
}

// ListPage returns up to limit conversations starting at offset, newest first.
func (s *Service) ListPage(ctx context.Context, ownerID string, limit, offset int) (*Page, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if offset < 0 {
		offset = 0
	}

	if ownerID == AnonymousOwner {
		observe("list_page", resultAnonymous)
		return &Page{Conversations: []*Conversation{}}, nil
	}

	list, err := s.backend.List(ctx, ownerID, limit, offset)
	if err != nil {
		observe("list_page", resultError)
		s.logger.LogError(ctx, err, "failed to list conversation page",
			slog.Int("limit", limit),
			slog.Int("offset", offset))
		return nil, err
	}

	page := &Page{Conversations: decorate(list)}
	if len(list) == limit {
		next := offset + limit
		page.NextOffset = &next
	}

	observe("list_page", resultOK)
	return page, nil
}

// Get returns the owner's conversation with its messages, or nil if there is none.
func (s *Service) Get(ctx context.Context, id, ownerID string) (*Conversation, error) {
	if ownerID == AnonymousOwner {
		observe("get", resultAnonymous)
		return nil, nil
	}

	conv, err := s.backend.Get(ctx, id, ownerID)
	if err != nil {
		observe("get", resultError)
		s.logger.LogError(ctx, err, "failed to get conversation", slog.String("chat_id", id))
		return nil, err
	}
	if conv == nil {
		observe("get", resultNotFound)
		return nil, nil
	}

	observe("get", resultOK)
	return decorateOne(conv), nil
}

// GetShared returns a published conversation to any caller, or nil.
func (s *Service) GetShared(ctx context.Context, id string) (*Conversation, error) {
	if s.cache != nil {
		if conv, ok := s.cache.Get(ctx, id); ok {
			observe("get_shared", resultCacheHit)
			return conv, nil
		}
	}

	conv, err := s.backend.GetShared(ctx, id)
	if err != nil {
		observe("get_shared", resultError)
		s.logger.LogError(ctx, err, "failed to get shared conversation", slog.String("chat_id", id))
		return nil, err
	}
	if conv == nil {
		observe("get_shared", resultNotFound)
		return nil, nil
	}

	conv = decorateOne(conv)
	if s.cache != nil {
		s.cache.Set(ctx, conv)
	}

	observe("get_shared", resultOK)
	return conv, nil
}

// Save upserts conv for ownerID. A zero CreatedAt is stamped with the current time; an
// existing record keeps its creation time and non-empty title.
func (s *Service) Save(ctx context.Context, conv *Conversation, ownerID string) error {
	if ownerID == AnonymousOwner {
		observe("save", resultAnonymous)
		return ErrAnonymousOwner
	}
	if conv.ID == "" {
		observe("save", resultError)
		return ErrMissingID
	}

	now := s.now()
	conv.OwnerID = ownerID
	conv.UpdatedAt = now
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}

	if err := s.backend.Save(ctx, conv); err != nil {
		observe("save", resultError)
		s.logger.LogError(ctx, err, "failed to save conversation",
			slog.String("chat_id", conv.ID),
			slog.Int("message_count", len(conv.Messages)))
		return err
	}

	s.invalidate(ctx, conv.ID)

	observe("save", resultOK)
	s.logger.WithContext(ctx).Debug("conversation saved",
		slog.String("chat_id", conv.ID),
		slog.Int("message_count", len(conv.Messages)))
	return nil
}

// Clear deletes all conversations of the owner.
func (s *Service) Clear(ctx context.Context, ownerID string) error {
	if ownerID == AnonymousOwner {
		observe("clear", resultAnonymous)
		return ErrAnonymousOwner
	}

	var ids []string
	if s.cache != nil {
		list, err := s.backend.List(ctx, ownerID, 0, 0)
		if err != nil {
			observe("clear", resultError)
			s.logger.LogError(ctx, err, "failed to list conversations before clear")
			return err
		}
		for _, conv := range list {
			if conv.Shared() {
				ids = append(ids, conv.ID)
			}
		}
	}

	if err := s.backend.Clear(ctx, ownerID); err != nil {
		observe("clear", resultError)
		s.logger.LogError(ctx, err, "failed to clear conversations")
		return err
	}

	s.invalidate(ctx, ids...)

	observe("clear", resultOK)
	s.logger.WithContext(ctx).Info("conversations cleared")
	return nil
}

// Delete deletes the owner's conversation. Deleting a missing conversation succeeds.
func (s *Service) Delete(ctx context.Context, id, ownerID string) error {
	if ownerID == AnonymousOwner {
		observe("delete", resultAnonymous)
		return ErrAnonymousOwner
	}

	if err := s.backend.Delete(ctx, id, ownerID); err != nil {
		observe("delete", resultError)
		s.logger.LogError(ctx, err, "failed to delete conversation", slog.String("chat_id", id))
		return err
	}

	s.invalidate(ctx, id)

	observe("delete", resultOK)
	return nil
}

// Publish makes the owner's conversation readable through GetShared at SharePath(id).
// Returns nil without writing when the owner is anonymous or nothing matches.
func (s *Service) Publish(ctx context.Context, id, ownerID string) (*Conversation, error) {
	if ownerID == AnonymousOwner {
		observe("publish", resultAnonymous)
		return nil, nil
	}

	conv, err := s.backend.Publish(ctx, id, ownerID, SharePath(id), s.now())
	if err != nil {
		observe("publish", resultError)
		s.logger.LogError(ctx, err, "failed to publish conversation", slog.String("chat_id", id))
		return nil, err
	}
	if conv == nil {
		observe("publish", resultNotFound)
		return nil, nil
	}

	s.invalidate(ctx, id)

	observe("publish", resultOK)
	s.logger.WithContext(ctx).Info("conversation published", slog.String("chat_id", id))
	return decorateOne(conv), nil
}

// IsRejected reports whether err is an ownership rejection rather than a storage failure.
func IsRejected(err error) bool {
	return errors.Is(err, ErrAnonymousOwner) || errors.Is(err, ErrNotOwned)
}

func (s *Service) invalidate(ctx context.Context, ids ...string) {
	if s.cache != nil && len(ids) > 0 {
		s.cache.Invalidate(ctx, ids...)
	}
}

func decorateOne(conv *Conversation) *Conversation {
	conv.Path = ChatPath(conv.ID)
	return conv
}

func decorate(list []*Conversation) []*Conversation {
	for _, conv := range list {
		decorateOne(conv)
	}
	return list
}
