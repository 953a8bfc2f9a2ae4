package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// AnnotationWriter is the write side of the live annotation channel of a turn.
//
// The finalizer writes at most two annotations per turn: a related-questions placeholder
// and its resolved payload. Writers must be safe for concurrent use and must preserve the
// order of writes for a given chat.
type AnnotationWriter interface {
	WriteAnnotation(ctx context.Context, chatID string, annotation any) error
}

// Data stream part codes.
const (
	errorPrefix             = "3:"
	messageAnnotationPrefix = "8:"
)

// DataStreamWriter writes message annotations in the data stream protocol understood by
// AI SDK clients: one line per part, "8:" followed by a JSON array of annotations.
//
// If the underlying writer implements http.Flusher each part is flushed immediately so
// clients observe the placeholder before the model call for the resolved payload starts.
type DataStreamWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewDataStreamWriter wraps w, typically a gin.ResponseWriter.
func NewDataStreamWriter(w io.Writer) *DataStreamWriter {
	return &DataStreamWriter{w: w}
}

// WriteAnnotation implements AnnotationWriter.
func (d *DataStreamWriter) WriteAnnotation(_ context.Context, _ string, annotation any) error {
	return d.writePart(messageAnnotationPrefix, []any{annotation})
}

func (d *DataStreamWriter) writePart(prefix string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal stream part: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := fmt.Fprintf(d.w, "%s%s\n", prefix, data); err != nil {
		return fmt.Errorf("failed to write stream part: %w", err)
	}

	if flusher, ok := d.w.(http.Flusher); ok {
		flusher.Flush()
	}

	return nil
}

// WriteError writes an error part carrying a user-facing message.
func (d *DataStreamWriter) WriteError(message string) error {
	return d.writePart(errorPrefix, message)
}

// MultiWriter fans annotations out to several writers. Every writer is attempted; the
// returned error joins the individual failures.
type MultiWriter []AnnotationWriter

// NewMultiWriter skips nil writers.
func NewMultiWriter(writers ...AnnotationWriter) MultiWriter {
	multi := make(MultiWriter, 0, len(writers))
	for _, w := range writers {
		if w != nil {
			multi = append(multi, w)
		}
	}
	return multi
}

// WriteAnnotation implements AnnotationWriter.
func (m MultiWriter) WriteAnnotation(ctx context.Context, chatID string, annotation any) error {
	var errs []error
	for _, w := range m {
		if err := w.WriteAnnotation(ctx, chatID, annotation); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordedAnnotation is one write captured by a Recorder.
type RecordedAnnotation struct {
	ChatID     string
	Annotation any
}

// Recorder is an AnnotationWriter that keeps every write in memory. It serves as the
// annotation channel of turns finalized without a live client.
type Recorder struct {
	mu          sync.Mutex
	annotations []RecordedAnnotation
}

// WriteAnnotation implements AnnotationWriter.
func (r *Recorder) WriteAnnotation(_ context.Context, chatID string, annotation any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.annotations = append(r.annotations, RecordedAnnotation{ChatID: chatID, Annotation: annotation})
	return nil
}

// Annotations returns a copy of the recorded writes in order.
func (r *Recorder) Annotations() []RecordedAnnotation {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]RecordedAnnotation(nil), r.annotations...)
}
