package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOriginChecker(t *testing.T) {
	withOrigin := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	assert.Nil(t, originChecker(nil), "empty list keeps the same-origin check")

	check := originChecker([]string{" https://app.nika.ai/ ", "https://nika.ai"})
	assert.True(t, check(withOrigin("https://app.nika.ai")))
	assert.True(t, check(withOrigin("HTTPS://NIKA.AI")))
	assert.False(t, check(withOrigin("https://evil.example")))
	assert.True(t, check(withOrigin("")), "native clients send no origin")

	wildcard := originChecker([]string{"https://nika.ai", "*"})
	assert.True(t, wildcard(withOrigin("https://evil.example")))
}

func TestWSHandler_RejectsForeignOrigin(t *testing.T) {
	h := NewWSHandler(context.Background(), nil, []string{"https://app.nika.ai"}, zap.NewNop())
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
