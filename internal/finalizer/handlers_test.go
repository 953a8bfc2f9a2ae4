package finalizer

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/eternisai/search-chat/internal/auth"
	"github.com/eternisai/search-chat/internal/logger"
	"github.com/eternisai/search-chat/internal/streaming"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const finishBody = `{
	"model": "gpt-4o",
	"messages": [{"role": "user", "content": "How do northern lights form?"}],
	"responseMessages": [{"role": "assistant", "content": "Auroras form when charged particles hit the atmosphere."}]
}`

func newFinishServer(t *testing.T, f *fixture) *gin.Engine {
	t.Helper()
	return newRelayServer(t, f, nil)
}

func newRelayServer(t *testing.T, f *fixture, relay *streaming.NATSRelay) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	validator, err := auth.NewTokenValidator(t.Context(), "")
	require.NoError(t, err)

	router := gin.New()
	api := router.Group("/api")
	api.Use(auth.NewMiddleware(validator, logger.NewDiscard()).OptionalAuth())
	NewHandler(f.finalizer, relay, logger.NewDiscard()).RegisterRoutes(api)
	return router
}

func authorize(t *testing.T, req *http.Request, sub string) {
	t.Helper()
	if sub == "" {
		return
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.StandardClaims{Sub: sub}).SignedString([]byte("k"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
}

func postFinish(t *testing.T, router *gin.Engine, body, sub string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/chats/chat-aurora/finish", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	authorize(t, req, sub)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestFinishChatStreamsAnnotations(t *testing.T) {
	f := newFixture(t, true)
	router := newFinishServer(t, f)

	w := postFinish(t, router, finishBody, "user-1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "v1", w.Header().Get("X-Vercel-AI-Data-Stream"))

	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `8:[{"type":"related-questions","data":{"items":[]}}]`, lines[0])
	assert.True(t, strings.HasPrefix(lines[1], `8:[{"type":"related-questions","data":{"items":[{"query":`))

	conv, err := f.store.Service.Get(t.Context(), "chat-aurora", "user-1")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Len(t, conv.Messages, 3)
}

func TestFinishChatAnonymousIsNotSaved(t *testing.T) {
	f := newFixture(t, true)
	router := newFinishServer(t, f)

	w := postFinish(t, router, finishBody, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "3:")
	assert.Zero(t, f.store.saves.Load())
}

func TestFinishChatSaveFailure(t *testing.T) {
	f := newFixture(t, true)
	f.store.saveErr = errors.New("disk full")
	router := newFinishServer(t, f)

	w := postFinish(t, router, finishBody, "user-1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasSuffix(w.Body.String(), "3:\"Failed to save chat history\"\n"))
}

func TestFinishChatInvalidBody(t *testing.T) {
	f := newFixture(t, true)
	router := newFinishServer(t, f)

	for _, body := range []string{
		`not json`,
		`{"model": "gpt-4o", "responseMessages": []}`,
		`{"responseMessages": [{"role": "assistant", "content": "x"}]}`,
	} {
		w := postFinish(t, router, body, "user-1")
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	assert.Zero(t, f.store.saves.Load())
}

func getFollow(t *testing.T, router *gin.Engine, sub string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/api/chats/chat-aurora/annotations", nil)
	authorize(t, req, sub)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestFollowChatAnonymousIsForbidden(t *testing.T) {
	router := newFinishServer(t, newFixture(t, true))

	w := getFollow(t, router, "")
	require.Equal(t, http.StatusForbidden, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "anonymous_owner", body["reason"])
}

func TestFollowChatWithoutRelay(t *testing.T) {
	router := newFinishServer(t, newFixture(t, true))

	w := getFollow(t, router, "user-1")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestFollowChatReceivesAnnotationsOfOwnTurns(t *testing.T) {
	url := os.Getenv("NATS_TEST_URL")
	if url == "" {
		t.Skip("NATS_TEST_URL not set")
	}

	nc, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	f := newFixture(t, true)
	f.related.questions = nil
	f.related.err = errors.New("upstream 503")
	srv := httptest.NewServer(newRelayServer(t, f, streaming.NewNATSRelay(nc, logger.NewDiscard(), "instance-a")))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/chats/chat-aurora/annotations", nil)
	require.NoError(t, err)
	authorize(t, req, "user-1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "v1", resp.Header.Get("X-Vercel-AI-Data-Stream"))

	for _, sub := range []string{"user-2", "user-1"} {
		finish, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/api/chats/chat-aurora/finish", strings.NewReader(finishBody))
		require.NoError(t, err)
		finish.Header.Set("Content-Type", "application/json")
		authorize(t, finish, sub)
		finished, err := http.DefaultClient.Do(finish)
		require.NoError(t, err)
		finished.Body.Close()
	}

	// Only the owner's placeholder arrives; user-2's turn is filtered out.
	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "8:[{\"type\":\"related-questions\",\"data\":{\"items\":[]}}]\n", line)
}
