package chat

import (
	"context"
	"time"
)

// Backend is the persistence layer behind Service. Implementations scope every mutation by
// (id, ownerID) and never see the anonymous owner.
type Backend interface {
	// List returns the owner's conversations without messages, newest first. A non-positive
	// limit returns all of them.
	List(ctx context.Context, ownerID string, limit, offset int) ([]*Conversation, error)

	// Get returns the conversation with its messages, or nil if no conversation matches
	// both id and owner.
	Get(ctx context.Context, id, ownerID string) (*Conversation, error)

	// GetShared returns a published conversation with its messages, or nil.
	GetShared(ctx context.Context, id string) (*Conversation, error)

	// Save upserts the conversation in one conditional write: an existing record keeps a
	// non-empty title and its creation time, then messages are appended by MessageKey so
	// repeated saves do not duplicate them. conv.Title is set to the stored title.
	// Returns ErrNotOwned if the id belongs to another owner.
	Save(ctx context.Context, conv *Conversation) error

	// Clear deletes every conversation of the owner.
	Clear(ctx context.Context, ownerID string) error

	// Delete deletes the conversation matching id and owner. No match is not an error.
	Delete(ctx context.Context, id, ownerID string) error

	// Publish sets the share path of the owned conversation and returns it without
	// messages, or nil if nothing matched.
	Publish(ctx context.Context, id, ownerID, sharePath string, now time.Time) (*Conversation, error)
}
