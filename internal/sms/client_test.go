package sms

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClient_Send(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "push_msg", q.Get("method"))
		assert.Equal(t, "key-1", q.Get("key"))
		assert.Equal(t, "89991234567", q.Get("phone"))
		assert.Equal(t, "123456", q.Get("text"))
		assert.Equal(t, "Nika", q.Get("sender_name"))
		_, _ = w.Write([]byte(`{"response":{"msg":{"err_code":"0","text":"OK","type":"message"}}}`))
	}))
	defer srv.Close()

	c := NewClient("key-1", "Nika", false, zap.NewNop())
	c.BaseURL = srv.URL
	require.NoError(t, c.Send(context.Background(), "89991234567", "123456"))
}

func TestClient_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":{"msg":{"err_code":703,"text":"no money","type":"error"}}}`))
	}))
	defer srv.Close()

	c := NewClient("key-1", "Nika", false, zap.NewNop())
	c.BaseURL = srv.URL
	err := c.Send(context.Background(), "89991234567", "123456")

	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 703, perr.Code)
	assert.Equal(t, "no money", perr.Text)
}

func TestClient_DryRunSkipsHTTP(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := NewClient("", "Nika", false, zap.NewNop())
	c.BaseURL = srv.URL
	assert.True(t, c.DryRun)
	require.NoError(t, c.Send(context.Background(), "89991234567", "123456"))
	assert.Zero(t, calls.Load())
}

func TestClient_RejectsBadInput(t *testing.T) {
	c := NewClient("", "Nika", true, zap.NewNop())
	assert.Error(t, c.Send(context.Background(), "899912345678", "1"))
	assert.Error(t, c.Send(context.Background(), "", "1"))
}
