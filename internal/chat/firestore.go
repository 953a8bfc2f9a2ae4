package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	conversationsCollection = "conversations"
	messagesCollection      = "messages"
)

type firestoreConversation struct {
	UserID    string    `firestore:"user_id"`
	Title     string    `firestore:"title"`
	SharePath *string   `firestore:"share_path"`
	CreatedAt time.Time `firestore:"created_at"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

type firestoreMessage struct {
	Position  int       `firestore:"position"`
	Role      string    `firestore:"role"`
	Content   string    `firestore:"content"`
	CreatedAt time.Time `firestore:"created_at"`
}

// FirestoreBackend stores conversations as documents under /conversations/{id} with
// messages in the /conversations/{id}/messages subcollection keyed by MessageKey.
type FirestoreBackend struct {
	client *firestore.Client
}

func NewFirestoreBackend(client *firestore.Client) *FirestoreBackend {
	return &FirestoreBackend{client: client}
}

func (b *FirestoreBackend) conversationRef(id string) *firestore.DocumentRef {
	return b.client.Collection(conversationsCollection).Doc(id)
}

func toConversation(snap *firestore.DocumentSnapshot) (*Conversation, error) {
	var doc firestoreConversation
	if err := snap.DataTo(&doc); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to parse conversation %s: %v", snap.Ref.ID, err)
	}
	return &Conversation{
		ID:        snap.Ref.ID,
		OwnerID:   doc.UserID,
		Title:     doc.Title,
		SharePath: doc.SharePath,
		CreatedAt: doc.CreatedAt.UTC(),
		UpdatedAt: doc.UpdatedAt.UTC(),
	}, nil
}

func (b *FirestoreBackend) List(ctx context.Context, ownerID string, limit, offset int) ([]*Conversation, error) {
	query := b.client.Collection(conversationsCollection).
		Where("user_id", "==", ownerID).
		OrderBy("created_at", firestore.Desc)
	if limit > 0 {
		query = query.Offset(offset).Limit(limit)
	}

	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to list conversations for owner %s: %v", ownerID, err)
	}

	list := make([]*Conversation, 0, len(docs))
	for _, snap := range docs {
		conv, err := toConversation(snap)
		if err != nil {
			return nil, err
		}
		list = append(list, conv)
	}
	return list, nil
}

func (b *FirestoreBackend) Get(ctx context.Context, id, ownerID string) (*Conversation, error) {
	conv, err := b.getWithMessages(ctx, id)
	if err != nil || conv == nil {
		return nil, err
	}
	if conv.OwnerID != ownerID {
		return nil, nil
	}
	return conv, nil
}

func (b *FirestoreBackend) GetShared(ctx context.Context, id string) (*Conversation, error) {
	conv, err := b.getWithMessages(ctx, id)
	if err != nil || conv == nil {
		return nil, err
	}
	if conv.SharePath == nil {
		return nil, nil
	}
	return conv, nil
}

func (b *FirestoreBackend) getWithMessages(ctx context.Context, id string) (*Conversation, error) {
	ref := b.conversationRef(id)

	snap, err := ref.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, status.Errorf(codes.Internal, "failed to get conversation %s: %v", id, err)
	}

	conv, err := toConversation(snap)
	if err != nil {
		return nil, err
	}

	docs, err := ref.Collection(messagesCollection).OrderBy("position", firestore.Asc).Documents(ctx).GetAll()
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to list messages of conversation %s: %v", id, err)
	}

	conv.Messages = make([]Message, 0, len(docs))
	for _, doc := range docs {
		var msg firestoreMessage
		if err := doc.DataTo(&msg); err != nil {
			return nil, status.Errorf(codes.Internal, "failed to parse message %s: %v", doc.Ref.ID, err)
		}
		conv.Messages = append(conv.Messages, Message{Role: Role(msg.Role), Content: msg.Content})
	}

	return conv, nil
}

func (b *FirestoreBackend) Save(ctx context.Context, conv *Conversation) error {
	ref := b.conversationRef(conv.ID)

	var title string
	err := b.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) != codes.NotFound {
				return err
			}
			title = conv.Title
			return tx.Create(ref, firestoreConversation{
				UserID:    conv.OwnerID,
				Title:     conv.Title,
				CreatedAt: conv.CreatedAt,
				UpdatedAt: conv.UpdatedAt,
			})
		}

		stored, err := toConversation(snap)
		if err != nil {
			return err
		}
		if stored.OwnerID != conv.OwnerID {
			return ErrNotOwned
		}

		updates := []firestore.Update{{Path: "updated_at", Value: conv.UpdatedAt}}
		title = stored.Title
		if title == "" {
			title = conv.Title
			updates = append(updates, firestore.Update{Path: "title", Value: title})
		}
		return tx.Update(ref, updates)
	})
	if err != nil {
		if errors.Is(err, ErrNotOwned) {
			return ErrNotOwned
		}
		return fmt.Errorf("failed to upsert conversation %s: %w", conv.ID, err)
	}

	messages := ref.Collection(messagesCollection)
	for position, msg := range conv.Messages {
		// Create for idempotency: AlreadyExists means the position is already stored.
		_, err := messages.Doc(MessageKey(conv.ID, position)).Create(ctx, firestoreMessage{
			Position:  position,
			Role:      string(msg.Role),
			Content:   msg.Content,
			CreatedAt: conv.UpdatedAt,
		})
		if err != nil && status.Code(err) != codes.AlreadyExists {
			return status.Errorf(codes.Internal, "failed to save message conversation=%s position=%d: %v", conv.ID, position, err)
		}
	}

	conv.Title = title
	return nil
}

func (b *FirestoreBackend) Clear(ctx context.Context, ownerID string) error {
	docs, err := b.client.Collection(conversationsCollection).
		Where("user_id", "==", ownerID).
		Documents(ctx).GetAll()
	if err != nil {
		return status.Errorf(codes.Internal, "failed to list conversations for owner %s: %v", ownerID, err)
	}

	refs := make([]*firestore.DocumentRef, 0, len(docs))
	for _, snap := range docs {
		refs = append(refs, snap.Ref)
	}
	return b.deleteConversations(ctx, refs)
}

func (b *FirestoreBackend) Delete(ctx context.Context, id, ownerID string) error {
	ref := b.conversationRef(id)

	snap, err := ref.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return status.Errorf(codes.Internal, "failed to get conversation %s: %v", id, err)
	}

	conv, err := toConversation(snap)
	if err != nil {
		return err
	}
	if conv.OwnerID != ownerID {
		return nil
	}

	return b.deleteConversations(ctx, []*firestore.DocumentRef{ref})
}

// deleteConversations removes the documents and their message subcollections.
func (b *FirestoreBackend) deleteConversations(ctx context.Context, refs []*firestore.DocumentRef) error {
	if len(refs) == 0 {
		return nil
	}

	bw := b.client.BulkWriter(ctx)
	var jobs []*firestore.BulkWriterJob

	enqueue := func(ref *firestore.DocumentRef) error {
		job, err := bw.Delete(ref)
		if err != nil {
			return err
		}
		jobs = append(jobs, job)
		return nil
	}

	for _, ref := range refs {
		messages, err := ref.Collection(messagesCollection).Documents(ctx).GetAll()
		if err != nil {
			bw.End()
			return status.Errorf(codes.Internal, "failed to list messages of conversation %s: %v", ref.ID, err)
		}
		for _, msg := range messages {
			if err := enqueue(msg.Ref); err != nil {
				bw.End()
				return fmt.Errorf("failed to enqueue message delete: %w", err)
			}
		}
		if err := enqueue(ref); err != nil {
			bw.End()
			return fmt.Errorf("failed to enqueue conversation delete: %w", err)
		}
	}

	bw.End()

	for _, job := range jobs {
		if _, err := job.Results(); err != nil && status.Code(err) != codes.NotFound {
			return status.Errorf(codes.Internal, "failed to delete conversation documents: %v", err)
		}
	}
	return nil
}

func (b *FirestoreBackend) Publish(ctx context.Context, id, ownerID, sharePath string, now time.Time) (*Conversation, error) {
	ref := b.conversationRef(id)

	var published *Conversation
	err := b.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		published = nil

		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return nil
			}
			return err
		}

		conv, err := toConversation(snap)
		if err != nil {
			return err
		}
		if conv.OwnerID != ownerID {
			return nil
		}

		conv.SharePath = &sharePath
		conv.UpdatedAt = now
		published = conv

		return tx.Update(ref, []firestore.Update{
			{Path: "share_path", Value: sharePath},
			{Path: "updated_at", Value: now},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to publish conversation %s: %w", id, err)
	}
	return published, nil
}
