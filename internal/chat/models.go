package chat

import (
	"errors"
	"strconv"
	"time"
)

// AnonymousOwner is the owner ID of unauthenticated requests. Conversations are never
// stored, listed, shared, or deleted for it.
const AnonymousOwner = "anonymous"

// DefaultTitle is used when a new conversation has no user message to title it from.
const DefaultTitle = "New Chat"

// DefaultPageSize is applied when ListPage is called without a positive limit.
const DefaultPageSize = 20

var (
	ErrAnonymousOwner = errors.New("operation not permitted for anonymous owner")
	ErrNotOwned       = errors.New("conversation belongs to another owner")
	ErrMissingID      = errors.New("conversation id is required")
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
	RoleData      Role = "data"
)

// Valid reports whether r is one of the persisted roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool, RoleData:
		return true
	}
	return false
}

// Message is one persisted entry of a conversation. Structured content is stored as JSON text.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Conversation struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"userId"`
	Title     string    `json:"title"`
	Path      string    `json:"path"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	SharePath *string   `json:"sharePath,omitempty"`
}

// Shared reports whether the conversation has been published.
func (c *Conversation) Shared() bool {
	return c.SharePath != nil
}

// Page is one page of an owner's conversations, newest first. NextOffset is nil when the
// page was not full.
type Page struct {
	Conversations []*Conversation `json:"chats"`
	NextOffset    *int            `json:"nextOffset"`
}

// ChatPath is the client route of a conversation.
func ChatPath(id string) string {
	return "/search/" + id
}

// SharePath is the public route of a published conversation.
func SharePath(id string) string {
	return "/share/" + id
}

// MessageKey is the idempotency key of the message at position in a conversation.
func MessageKey(conversationID string, position int) string {
	return conversationID + ":" + strconv.Itoa(position)
}
