package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/eternisai/search-chat/internal/logger"
	"github.com/nats-io/nats.go"
)

// annotationSubjectPrefix prefixes the NATS subject of each chat's annotations.
const annotationSubjectPrefix = "chat.annotations."

// AnnotationSubject returns the NATS subject annotations of chatID are published on.
func AnnotationSubject(chatID string) string {
	return annotationSubjectPrefix + chatID
}

// AnnotationEvent is the NATS message published for every annotation write.
type AnnotationEvent struct {
	ChatID     string          `json:"chat_id"`
	OwnerID    string          `json:"owner_id"`
	Annotation json.RawMessage `json:"annotation"`
	InstanceID string          `json:"instance_id"`
}

// NATSRelay publishes annotations to NATS so that clients following a chat from another
// instance receive them too.
//
// In a multi-instance deployment the finish request for a turn lands on one instance,
// while a client following the chat through GET /chats/:id/annotations may be served by
// another:
//
//	Instance A (finalizes turn)            Instance B (client following)
//	───────────────────────────            ─────────────────────────────
//	ForOwner(owner).WriteAnnotation
//	  └─► Publish chat.annotations.<id> ─► Subscribe handler
//	                                         └─► ForwardAnnotations to client
type NATSRelay struct {
	nc         *nats.Conn
	logger     *logger.Logger
	instanceID string
}

// NewNATSRelay creates a relay. Returns nil if the NATS connection is not available.
func NewNATSRelay(nc *nats.Conn, logger *logger.Logger, instanceID string) *NATSRelay {
	if nc == nil {
		return nil
	}

	return &NATSRelay{
		nc:         nc,
		logger:     logger.WithComponent("annotation-relay"),
		instanceID: instanceID,
	}
}

// ForOwner returns an AnnotationWriter that publishes events tagged with ownerID.
// Followers only receive events of their own chats.
func (r *NATSRelay) ForOwner(ownerID string) AnnotationWriter {
	return ownerRelay{relay: r, ownerID: ownerID}
}

type ownerRelay struct {
	relay   *NATSRelay
	ownerID string
}

func (o ownerRelay) WriteAnnotation(ctx context.Context, chatID string, annotation any) error {
	return o.relay.publish(ctx, chatID, o.ownerID, annotation)
}

func (r *NATSRelay) publish(ctx context.Context, chatID, ownerID string, annotation any) error {
	payload, err := json.Marshal(annotation)
	if err != nil {
		return fmt.Errorf("failed to marshal annotation: %w", err)
	}

	data, err := json.Marshal(AnnotationEvent{
		ChatID:     chatID,
		OwnerID:    ownerID,
		Annotation: payload,
		InstanceID: r.instanceID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal annotation event: %w", err)
	}

	if err := r.nc.Publish(AnnotationSubject(chatID), data); err != nil {
		return fmt.Errorf("failed to publish annotation: %w", err)
	}

	r.logger.WithContext(ctx).Debug("annotation relayed",
		slog.String("chat_id", chatID),
		slog.Int("bytes", len(data)))

	return nil
}

// Subscribe delivers the annotation events of chatID to handler until the subscription is
// drained or unsubscribed. Malformed messages are logged and skipped.
func (r *NATSRelay) Subscribe(chatID string, handler func(AnnotationEvent)) (*nats.Subscription, error) {
	subject := AnnotationSubject(chatID)

	sub, err := r.nc.Subscribe(subject, func(msg *nats.Msg) {
		var event AnnotationEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			r.logger.Warn("received invalid annotation event",
				slog.String("subject", msg.Subject),
				slog.String("error", err.Error()))
			return
		}
		handler(event)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	return sub, nil
}

// ForwardAnnotations writes the events of ownerID received on events to w until ctx is
// done, events is closed or a write fails. Events of other owners are dropped.
func ForwardAnnotations(ctx context.Context, events <-chan AnnotationEvent, ownerID string, w AnnotationWriter) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if event.OwnerID != ownerID {
				continue
			}
			if err := w.WriteAnnotation(ctx, event.ChatID, event.Annotation); err != nil {
				return err
			}
		}
	}
}
