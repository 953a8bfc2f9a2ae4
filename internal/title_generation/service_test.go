package title_generation

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eternisai/search-chat/internal/logger"
	"github.com/eternisai/search-chat/internal/routing"
)

const seed = "How do northern lights form?"

type staticRouter struct {
	provider *routing.ProviderConfig
}

func (r staticRouter) RouteModel(modelID string) (*routing.ProviderConfig, error) {
	if r.provider == nil {
		return nil, errors.New("no route for " + modelID)
	}
	p := *r.provider
	p.Model = modelID
	return &p, nil
}

type completionServer struct {
	*httptest.Server
	calls  atomic.Int32
	models chan string
}

// newCompletionServer answers with the given status codes in order; once they run out it
// returns content.
func newCompletionServer(t *testing.T, content string, statuses ...int) *completionServer {
	t.Helper()
	s := &completionServer{models: make(chan string, 10)}

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(s.calls.Add(1))

		var req struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		s.models <- req.Model

		if n <= len(statuses) {
			w.WriteHeader(statuses[n-1])
			_, _ = w.Write([]byte(`{"error":{"message":"upstream failure","type":"server_error"}}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		})
	}))
	t.Cleanup(s.Close)

	return s
}

func newTestService(server *completionServer, model string) *Service {
	generator := NewGenerator("You are a title generator.")
	generator.backoff = func(int) time.Duration { return time.Millisecond }

	router := staticRouter{}
	if server != nil {
		router.provider = &routing.ProviderConfig{Name: "test", BaseURL: server.URL + "/v1", APIKey: "key"}
	}
	return NewService(generator, router, model, logger.NewDiscard())
}

func TestGenerateTitle(t *testing.T) {
	server := newCompletionServer(t, `  "northern lights formation explained simply for everyone"  `)
	svc := newTestService(server, "")

	got := svc.GenerateTitle(t.Context(), seed, "llama3.1")

	if want := "Northern Lights Formation Explained Simply For"; got != want {
		t.Errorf("GenerateTitle() = %q, want %q", got, want)
	}
	if model := <-server.models; model != "llama3.1" {
		t.Errorf("request model = %q, want llama3.1", model)
	}
}

func TestGenerateTitleConfiguredModel(t *testing.T) {
	server := newCompletionServer(t, "Aurora Basics")
	svc := newTestService(server, "gpt-4o-mini")

	if got := svc.GenerateTitle(t.Context(), seed, "llama3.1"); got != "Aurora Basics" {
		t.Errorf("GenerateTitle() = %q, want %q", got, "Aurora Basics")
	}
	if model := <-server.models; model != "gpt-4o-mini" {
		t.Errorf("request model = %q, want gpt-4o-mini", model)
	}
}

func TestGenerateTitleRetriesTransientErrors(t *testing.T) {
	server := newCompletionServer(t, "Aurora Formation", http.StatusServiceUnavailable, http.StatusTooManyRequests)
	svc := newTestService(server, "")

	if got := svc.GenerateTitle(t.Context(), seed, "m"); got != "Aurora Formation" {
		t.Errorf("GenerateTitle() = %q, want %q", got, "Aurora Formation")
	}
	if calls := server.calls.Load(); calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestGenerateTitleFallbacks(t *testing.T) {
	long := strings.Repeat("ñ", 150)

	tests := []struct {
		name      string
		server    func(t *testing.T) *completionServer
		seed      string
		want      string
		wantCalls int32
	}{
		{
			name:      "client error is not retried",
			server:    func(t *testing.T) *completionServer { return newCompletionServer(t, "x", http.StatusBadRequest) },
			seed:      seed,
			want:      seed,
			wantCalls: 1,
		},
		{
			name: "persistent server error",
			server: func(t *testing.T) *completionServer {
				return newCompletionServer(t, "x", http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable)
			},
			seed:      long,
			want:      strings.Repeat("ñ", 100),
			wantCalls: 3,
		},
		{
			name:      "empty title",
			server:    func(t *testing.T) *completionServer { return newCompletionServer(t, ` "" `) },
			seed:      seed,
			want:      seed,
			wantCalls: 1,
		},
		{
			name:   "unroutable model",
			server: func(t *testing.T) *completionServer { return nil },
			seed:   long,
			want:   strings.Repeat("ñ", 100),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := tt.server(t)
			svc := newTestService(server, "")

			if got := svc.GenerateTitle(t.Context(), tt.seed, "m"); got != tt.want {
				t.Errorf("GenerateTitle() = %q, want %q", got, tt.want)
			}
			if server != nil && server.calls.Load() != tt.wantCalls {
				t.Errorf("calls = %d, want %d", server.calls.Load(), tt.wantCalls)
			}
		})
	}
}

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{raw: `"Aurora Borealis"`, want: "Aurora Borealis"},
		{raw: "  the science of auroras  ", want: "The Science Of Auroras"},
		{raw: "one two three four five six seven", want: "One Two Three Four Five Six"},
		{raw: "iPhone camera tips", want: "IPhone Camera Tips"},
		{raw: `''`, want: ""},
	}

	for _, tt := range tests {
		if got := NormalizeTitle(tt.raw); got != tt.want {
			t.Errorf("NormalizeTitle(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestFallback(t *testing.T) {
	if got := Fallback("short"); got != "short" {
		t.Errorf("Fallback() = %q", got)
	}
	if got := Fallback(strings.Repeat("a", 101)); got != strings.Repeat("a", 100) {
		t.Errorf("Fallback() length = %d, want 100", len(got))
	}
}
