package chat

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/eternisai/search-chat/internal/auth"
	"github.com/eternisai/search-chat/internal/logger"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandlerTestServer(t *testing.T) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	validator, err := auth.NewTokenValidator(t.Context(), "")
	require.NoError(t, err)

	svc := NewService(NewMemoryBackend(), nil, logger.NewDiscard())

	router := gin.New()
	api := router.Group("/api")
	api.Use(auth.NewMiddleware(validator, logger.NewDiscard()).OptionalAuth())
	NewHandler(svc, logger.NewDiscard()).RegisterRoutes(api)

	return router, svc
}

func bearer(t *testing.T, sub string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.StandardClaims{Sub: sub}).SignedString([]byte("k"))
	require.NoError(t, err)
	return "Bearer " + token
}

func do(router *gin.Engine, method, path, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandlersAnonymous(t *testing.T) {
	router, _ := newHandlerTestServer(t)

	w := do(router, http.MethodGet, "/api/chats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"chats":[],"nextOffset":null}`, w.Body.String())

	w = do(router, http.MethodGet, "/api/chats/abc", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	for _, tc := range []struct{ method, path string }{
		{http.MethodDelete, "/api/chats/abc"},
		{http.MethodDelete, "/api/chats"},
		{http.MethodPost, "/api/chats/abc/share"},
	} {
		w = do(router, tc.method, tc.path, "")
		require.Equal(t, http.StatusForbidden, w.Code, tc.path)

		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "anonymous_owner", body["reason"])
	}
}

func TestHandlersOwnerFlow(t *testing.T) {
	router, svc := newHandlerTestServer(t)
	owner := bearer(t, "user-1")

	require.NoError(t, svc.Save(t.Context(), &Conversation{ID: "c1", Title: "Aurora", Messages: sampleMessages()}, "user-1"))

	w := do(router, http.MethodGet, "/api/chats?limit=1", owner)
	require.Equal(t, http.StatusOK, w.Code)
	var page Page
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Conversations, 1)
	require.NotNil(t, page.NextOffset)
	assert.Equal(t, 1, *page.NextOffset)

	w = do(router, http.MethodGet, "/api/chats/c1", owner)
	require.Equal(t, http.StatusOK, w.Code)
	var conv Conversation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conv))
	assert.Equal(t, "Aurora", conv.Title)
	assert.Equal(t, "/search/c1", conv.Path)
	assert.Len(t, conv.Messages, 3)

	w = do(router, http.MethodGet, "/api/chats/c1", bearer(t, "user-2"))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(router, http.MethodGet, "/api/share/c1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(router, http.MethodPost, "/api/chats/c1/share", bearer(t, "user-2"))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(router, http.MethodPost, "/api/chats/c1/share", owner)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conv))
	require.NotNil(t, conv.SharePath)
	assert.Equal(t, "/share/c1", *conv.SharePath)

	w = do(router, http.MethodGet, "/api/share/c1", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(router, http.MethodDelete, "/api/chats/c1", owner)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(router, http.MethodGet, "/api/chats/c1", owner)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlersRejectBadPaging(t *testing.T) {
	router, _ := newHandlerTestServer(t)

	w := do(router, http.MethodGet, "/api/chats?limit=ten", bearer(t, "user-1"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodGet, "/api/chats?offset=-", bearer(t, "user-1"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
