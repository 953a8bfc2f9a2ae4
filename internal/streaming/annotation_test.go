package streaming

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/eternisai/search-chat/internal/logger"
	"github.com/nats-io/nats.go"
)

type relatedQuestions struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func TestDataStreamWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewDataStreamWriter(rec)

	err := w.WriteAnnotation(context.Background(), "chat-1", relatedQuestions{
		Type: "related-questions",
		Data: map[string]any{"items": []any{}},
	})
	if err != nil {
		t.Fatalf("WriteAnnotation() error = %v", err)
	}

	want := "8:[{\"type\":\"related-questions\",\"data\":{\"items\":[]}}]\n"
	if got := rec.Body.String(); got != want {
		t.Errorf("body = %q, want %q", got, want)
	}
	if !rec.Flushed {
		t.Error("expected the response to be flushed")
	}
}

func TestDataStreamWriterMarshalError(t *testing.T) {
	var buf bytes.Buffer
	w := NewDataStreamWriter(&buf)

	if err := w.WriteAnnotation(context.Background(), "chat-1", make(chan int)); err == nil {
		t.Fatal("expected an error for an unmarshalable annotation")
	}
	if buf.Len() != 0 {
		t.Errorf("nothing should be written, got %q", buf.String())
	}
}

type failingWriter struct{}

func (failingWriter) WriteAnnotation(context.Context, string, any) error {
	return errors.New("closed")
}

func TestMultiWriter(t *testing.T) {
	first, second := &Recorder{}, &Recorder{}
	multi := NewMultiWriter(first, nil, failingWriter{}, second)

	if len(multi) != 3 {
		t.Fatalf("len(multi) = %d, want 3", len(multi))
	}

	err := multi.WriteAnnotation(context.Background(), "chat-1", "a")
	if err == nil {
		t.Fatal("expected the failing writer's error")
	}

	for _, r := range []*Recorder{first, second} {
		got := r.Annotations()
		if len(got) != 1 || got[0].ChatID != "chat-1" || got[0].Annotation != "a" {
			t.Errorf("Annotations() = %+v", got)
		}
	}
}

func TestNewNATSRelayNilConn(t *testing.T) {
	if relay := NewNATSRelay(nil, logger.NewDiscard(), "i"); relay != nil {
		t.Error("expected nil relay without a connection")
	}
}

func TestNATSRelay(t *testing.T) {
	url := os.Getenv("NATS_TEST_URL")
	if url == "" {
		t.Skip("NATS_TEST_URL not set")
	}

	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(nc.Close)

	relay := NewNATSRelay(nc, logger.NewDiscard(), "instance-a")

	events := make(chan AnnotationEvent, 1)
	sub, err := relay.Subscribe("chat-1", func(e AnnotationEvent) { events <- e })
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	if err := nc.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if err := relay.ForOwner("user-1").WriteAnnotation(context.Background(), "chat-1", map[string]string{"type": "x"}); err != nil {
		t.Fatalf("WriteAnnotation() error = %v", err)
	}

	select {
	case e := <-events:
		if e.ChatID != "chat-1" || e.OwnerID != "user-1" || e.InstanceID != "instance-a" || string(e.Annotation) != `{"type":"x"}` {
			t.Errorf("event = %+v", e)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the annotation event")
	}
}

func TestForwardAnnotations(t *testing.T) {
	events := make(chan AnnotationEvent, 3)
	events <- AnnotationEvent{ChatID: "chat-1", OwnerID: "user-2", Annotation: []byte(`{"type":"other"}`)}
	events <- AnnotationEvent{ChatID: "chat-1", OwnerID: "user-1", Annotation: []byte(`{"type":"related-questions","data":{"items":[]}}`)}
	close(events)

	rec := httptest.NewRecorder()
	if err := ForwardAnnotations(context.Background(), events, "user-1", NewDataStreamWriter(rec)); err != nil {
		t.Fatalf("ForwardAnnotations() error = %v", err)
	}

	want := "8:[{\"type\":\"related-questions\",\"data\":{\"items\":[]}}]\n"
	if got := rec.Body.String(); got != want {
		t.Errorf("body = %q, want %q", got, want)
	}
}

func TestForwardAnnotationsStopsOnWriteError(t *testing.T) {
	events := make(chan AnnotationEvent, 1)
	events <- AnnotationEvent{ChatID: "chat-1", OwnerID: "user-1", Annotation: []byte(`{}`)}

	if err := ForwardAnnotations(context.Background(), events, "user-1", failingWriter{}); err == nil {
		t.Fatal("expected the write error")
	}
}

func TestForwardAnnotationsStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := ForwardAnnotations(ctx, make(chan AnnotationEvent), "user-1", &Recorder{}); err != nil {
		t.Fatalf("ForwardAnnotations() error = %v", err)
	}
}
