package finalizer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/eternisai/search-chat/internal/chat"
	"github.com/eternisai/search-chat/internal/logger"
	"github.com/eternisai/search-chat/internal/related"
	"github.com/eternisai/search-chat/internal/streaming"
)

// Store is the part of the conversation store used to persist a finished turn.
type Store interface {
	Get(ctx context.Context, id, ownerID string) (*chat.Conversation, error)
	Save(ctx context.Context, conv *chat.Conversation, ownerID string) error
}

// TitleGenerator produces a title for a new conversation. It never fails.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, seed, modelID string) string
}

// RelatedGenerator suggests follow-up questions for a model response.
type RelatedGenerator interface {
	Generate(ctx context.Context, messages []chat.ClientMessage, modelID string) (*related.Questions, error)
}

// Turn is one completed exchange ready to be finalized.
type Turn struct {
	ChatID  string
	OwnerID string
	Model   string

	// OriginalMessages is the client history the turn was generated from, including the
	// latest user message.
	OriginalMessages []chat.ClientMessage

	// ResponseMessages are the messages produced by the model during the turn.
	ResponseMessages []chat.ClientMessage

	// Annotations were emitted while streaming and are stored before the final response.
	Annotations []chat.Message

	SkipRelatedQuestions bool
}

type Options struct {
	// SaveHistory enables persistence. When false Finalize stops after assembling messages.
	SaveHistory bool
}

// Finalizer runs the post-stream steps of a turn: related questions, message assembly,
// title generation and persistence.
type Finalizer struct {
	store   Store
	titles  TitleGenerator
	related RelatedGenerator
	options Options
	logger  *logger.Logger
	now     func() time.Time
}

func New(store Store, titles TitleGenerator, questions RelatedGenerator, options Options, logger *logger.Logger) *Finalizer {
	return &Finalizer{
		store:   store,
		titles:  titles,
		related: questions,
		options: options,
		logger:  logger.WithComponent("finalizer"),
		now:     time.Now,
	}
}

// Finalize completes a turn. Annotations are written to w as they are produced.
//
// A failure to generate related questions never fails the turn. A failure to persist the
// conversation is returned as *SaveError; other errors are returned unchanged.
func (f *Finalizer) Finalize(ctx context.Context, turn Turn, w streaming.AnnotationWriter) (err error) {
	ctx = logger.WithChatID(logger.WithOwnerID(ctx, turn.OwnerID), turn.ChatID)
	log := f.logger.WithContext(ctx)

	start := time.Now()
	result := resultOK
	defer func() {
		if err != nil && result == resultOK {
			result = resultError
		}
		finalizeDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	}()

	history := chat.ConvertToExtendedMessages(turn.OriginalMessages)

	annotations := append([]chat.Message(nil), turn.Annotations...)
	if n := len(turn.ResponseMessages); n > 0 {
		annotations = append(annotations, chat.NewDataMessages(turn.ResponseMessages[n-1].Annotations)...)
	}
	if !turn.SkipRelatedQuestions {
		if annotation, ok := f.relatedQuestions(ctx, turn, w); ok {
			annotations = append(annotations, annotation)
		}
	} else {
		relatedQuestionsTotal.WithLabelValues(resultSkipped).Inc()
	}

	messages := assemble(history, turn.ResponseMessages, annotations)

	if !f.options.SaveHistory {
		result = resultDisabled
		log.Debug("chat history disabled, skipping save",
			slog.Int("message_count", len(messages)))
		return nil
	}

	if turn.OwnerID == chat.AnonymousOwner {
		result = resultSkipped
		log.Debug("anonymous turn, skipping save",
			slog.Int("message_count", len(messages)))
		return nil
	}

	existing, err := f.store.Get(ctx, turn.ChatID, turn.OwnerID)
	if err != nil {
		f.logger.LogError(ctx, err, "failed to read conversation before save")
		return err
	}

	conv := &chat.Conversation{
		ID:       turn.ChatID,
		OwnerID:  turn.OwnerID,
		Messages: messages,
	}

	if existing != nil {
		conv.Title = existing.Title
		conv.CreatedAt = existing.CreatedAt
	} else {
		conv.Title = f.title(ctx, turn)
		conv.CreatedAt = f.now()
	}

	if err := f.store.Save(ctx, conv, turn.OwnerID); err != nil {
		result = resultSaveFail
		f.logger.LogError(ctx, err, "failed to save chat history",
			slog.Int("message_count", len(messages)))
		return &SaveError{Err: err}
	}

	log.Info("turn finalized",
		slog.String("title", conv.Title),
		slog.Bool("new_conversation", existing == nil),
		slog.Int("message_count", len(messages)),
		slog.Int("annotation_count", len(annotations)))

	return nil
}

// relatedQuestions streams a placeholder, asks the generator for follow-up questions and
// streams the resolved annotation. Every failure, panics included, yields ok == false.
func (f *Finalizer) relatedQuestions(ctx context.Context, turn Turn, w streaming.AnnotationWriter) (annotation chat.Message, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			relatedQuestionsTotal.WithLabelValues(resultPanic).Inc()
			f.logger.WithContext(ctx).Error("related questions panicked",
				slog.String("panic", fmt.Sprint(r)))
			annotation, ok = chat.Message{}, false
		}
	}()

	placeholder := chat.Annotation{
		Type: chat.AnnotationTypeRelatedQuestions,
		Data: related.Questions{Items: []related.Item{}},
	}
	f.write(ctx, turn.ChatID, w, placeholder)

	questions, err := f.related.Generate(ctx, turn.ResponseMessages, turn.Model)
	if err != nil {
		relatedQuestionsTotal.WithLabelValues(resultError).Inc()
		f.logger.LogError(ctx, err, "failed to generate related questions")
		return chat.Message{}, false
	}
	if questions == nil {
		questions = &related.Questions{Items: []related.Item{}}
	}

	resolved := chat.Annotation{
		Type: chat.AnnotationTypeRelatedQuestions,
		Data: questions,
	}
	f.write(ctx, turn.ChatID, w, resolved)

	// Empty results are dropped from echoed history, like the placeholder.
	if len(questions.Items) == 0 {
		relatedQuestionsTotal.WithLabelValues(resultEmpty).Inc()
		return chat.Message{}, false
	}

	annotation, err = chat.NewAnnotationMessage(resolved)
	if err != nil {
		relatedQuestionsTotal.WithLabelValues(resultError).Inc()
		f.logger.LogError(ctx, err, "failed to encode related questions annotation")
		return chat.Message{}, false
	}

	relatedQuestionsTotal.WithLabelValues(resultOK).Inc()
	return annotation, true
}

// write forwards an annotation to the client. A closed or failing stream must not stop
// the turn from being saved.
func (f *Finalizer) write(ctx context.Context, chatID string, w streaming.AnnotationWriter, annotation chat.Annotation) {
	if w == nil {
		return
	}
	if err := w.WriteAnnotation(ctx, chatID, annotation); err != nil {
		f.logger.WithContext(ctx).Warn("failed to write annotation",
			slog.String("type", annotation.Type),
			slog.String("error", err.Error()))
	}
}

func (f *Finalizer) title(ctx context.Context, turn Turn) string {
	first, ok := chat.FirstUserMessage(turn.OriginalMessages)
	if !ok {
		return chat.DefaultTitle
	}
	return f.titles.GenerateTitle(ctx, first.Text(), turn.Model)
}

// assemble orders a turn for storage: history, all responses but the last, the turn's
// annotations, then the final response. Responses are expanded the way client history is,
// so the next turn's echoed history lines up with the stored positions.
func assemble(history []chat.Message, responses []chat.ClientMessage, annotations []chat.Message) []chat.Message {
	messages := make([]chat.Message, 0, len(history)+2*len(responses)+len(annotations))
	messages = append(messages, history...)

	if len(responses) == 0 {
		return append(messages, annotations...)
	}

	last := len(responses) - 1
	messages = append(messages, chat.ConvertToExtendedMessages(responses[:last])...)
	messages = append(messages, annotations...)

	// The final response's own annotations are already part of annotations.
	final := responses[last]
	final.Annotations = nil
	return append(messages, chat.ConvertToExtendedMessages([]chat.ClientMessage{final})...)
}
