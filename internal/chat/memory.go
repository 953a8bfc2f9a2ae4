package chat

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryBackend keeps conversations in process memory. Used for development and tests.
type MemoryBackend struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		conversations: make(map[string]*Conversation),
	}
}

func (b *MemoryBackend) List(_ context.Context, ownerID string, limit, offset int) ([]*Conversation, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	owned := make([]*Conversation, 0)
	for _, conv := range b.conversations {
		if conv.OwnerID == ownerID {
			owned = append(owned, conv)
		}
	}

	sort.Slice(owned, func(i, j int) bool {
		if owned[i].CreatedAt.Equal(owned[j].CreatedAt) {
			return owned[i].ID > owned[j].ID
		}
		return owned[i].CreatedAt.After(owned[j].CreatedAt)
	})

	if offset > len(owned) {
		offset = len(owned)
	}
	owned = owned[offset:]
	if limit > 0 && len(owned) > limit {
		owned = owned[:limit]
	}

	result := make([]*Conversation, 0, len(owned))
	for _, conv := range owned {
		result = append(result, cloneConversation(conv, false))
	}
	return result, nil
}

func (b *MemoryBackend) Get(_ context.Context, id, ownerID string) (*Conversation, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	conv, ok := b.conversations[id]
	if !ok || conv.OwnerID != ownerID {
		return nil, nil
	}
	return cloneConversation(conv, true), nil
}

func (b *MemoryBackend) GetShared(_ context.Context, id string) (*Conversation, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	conv, ok := b.conversations[id]
	if !ok || conv.SharePath == nil {
		return nil, nil
	}
	return cloneConversation(conv, true), nil
}

func (b *MemoryBackend) Save(_ context.Context, conv *Conversation) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	stored, ok := b.conversations[conv.ID]
	if !ok {
		stored = &Conversation{
			ID:        conv.ID,
			OwnerID:   conv.OwnerID,
			Title:     conv.Title,
			CreatedAt: conv.CreatedAt,
		}
		b.conversations[conv.ID] = stored
	} else if stored.OwnerID != conv.OwnerID {
		return ErrNotOwned
	}

	if stored.Title == "" {
		stored.Title = conv.Title
	}
	stored.UpdatedAt = conv.UpdatedAt
	conv.Title = stored.Title

	// Positions already stored are keyed duplicates.
	if len(conv.Messages) > len(stored.Messages) {
		stored.Messages = append(stored.Messages, conv.Messages[len(stored.Messages):]...)
	}
	return nil
}

func (b *MemoryBackend) Clear(_ context.Context, ownerID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, conv := range b.conversations {
		if conv.OwnerID == ownerID {
			delete(b.conversations, id)
		}
	}
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, id, ownerID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if conv, ok := b.conversations[id]; ok && conv.OwnerID == ownerID {
		delete(b.conversations, id)
	}
	return nil
}

func (b *MemoryBackend) Publish(_ context.Context, id, ownerID, sharePath string, now time.Time) (*Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	conv, ok := b.conversations[id]
	if !ok || conv.OwnerID != ownerID {
		return nil, nil
	}

	conv.SharePath = &sharePath
	conv.UpdatedAt = now
	return cloneConversation(conv, false), nil
}

func cloneConversation(conv *Conversation, withMessages bool) *Conversation {
	clone := *conv
	if conv.SharePath != nil {
		sharePath := *conv.SharePath
		clone.SharePath = &sharePath
	}
	clone.Messages = nil
	if withMessages {
		clone.Messages = slices.Clone(conv.Messages)
		if clone.Messages == nil {
			clone.Messages = []Message{}
		}
	}
	return &clone
}
