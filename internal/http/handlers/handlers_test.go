package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nika/server/internal/apperr"
	"github.com/nika/server/internal/auth"
	"github.com/nika/server/internal/model"
	"github.com/nika/server/internal/payments"
	"github.com/nika/server/internal/repo/memrepo"
)

func TestHealthHandler(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	rec := httptest.NewRecorder()
	NewHealthHandler(map[string]Check{"db": ok}, zap.NewNop()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = httptest.NewRecorder()
	NewHealthHandler(map[string]Check{"db": down}, zap.NewNop()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRespondWithAppError(t *testing.T) {
	rec := httptest.NewRecorder()
	respondWithAppError(rec, apperr.Exhausted(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "quota_exhausted", body["kind"])
	assert.Equal(t, "2024-01-01T00:00:00Z", body["reset_at"])

	rec = httptest.NewRecorder()
	respondWithAppError(rec, errors.New("pq: connection reset"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "pq")
}

func TestHandleRefresh(t *testing.T) {
	users := memrepo.NewUsers()
	tokens := auth.NewTokenService(auth.NewJWTService("handlers-test-secret"), memrepo.NewTokens(), 0, 0)
	svc := auth.NewAuthService(
		auth.NewCodeStore(memrepo.NewCodes(), auth.NewCodeGenerator("otp-secret"), "salt"),
		auth.NewRateLimiter(memrepo.NewLimits()),
		tokens, users, nil, zap.NewNop(),
	)
	h := NewAuthHandler(svc, zap.NewNop())

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.HandleRefresh(rec, httptest.NewRequest(http.MethodPost, "/auth/refresh", strings.NewReader(`{}`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.HandleRefresh(rec, httptest.NewRequest(http.MethodPost, "/auth/refresh", strings.NewReader(`{"refresh_token":"nope"}`)))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		ctx := context.Background()
		user, _, err := users.CreateIfAbsent(ctx, model.User{Phone: "89990000000", Tariff: "free", Promocode: "zxcvbnmasd"})
		require.NoError(t, err)
		pair, err := tokens.Issue(ctx, user)
		require.NoError(t, err)

		// Tokens carry second precision; rotate in a later second.
		time.Sleep(1100 * time.Millisecond)

		rec := httptest.NewRecorder()
		body := `{"refresh_token":"` + pair.RefreshToken + `"}`
		h.HandleRefresh(rec, httptest.NewRequest(http.MethodPost, "/auth/refresh", strings.NewReader(body)))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var got map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.NotEqual(t, pair.RefreshToken, got["refresh_token"])
	})
}

func TestHandleNotify(t *testing.T) {
	users := memrepo.NewUsers()
	orders := memrepo.NewOrders(users)
	user, _, err := users.CreateIfAbsent(context.Background(), model.User{Phone: "89991112233", Tariff: "free", Promocode: "poiuytrewq"})
	require.NoError(t, err)
	orders.PutTariff(model.Tariff{Name: "month", Duration: 30 * 24 * time.Hour})
	order := model.Order{ID: uuid.New(), UserID: user.ID, Tariff: "month", Status: model.OrderNew}
	orders.PutOrder(order)

	h := NewPaymentsHandler(payments.NewService(orders, "pw", zap.NewNop()), zap.NewNop())

	post := func(params map[string]any) *httptest.ResponseRecorder {
		raw, err := json.Marshal(params)
		require.NoError(t, err)
		rec := httptest.NewRecorder()
		h.HandleNotify(rec, httptest.NewRequest(http.MethodPost, "/payments/notify", strings.NewReader(string(raw))))
		return rec
	}

	forged := map[string]any{"OrderId": order.ID.String(), "Status": "CONFIRMED", "Token": "bad"}
	rec := post(forged)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	got, err := orders.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderNew, got.Status)

	valid := map[string]any{"OrderId": order.ID.String(), "Status": "CONFIRMED", "Amount": 49900, "Success": true}
	valid["Token"] = payments.Token(map[string]any{
		"OrderId": order.ID.String(), "Status": "CONFIRMED", "Amount": json.Number("49900"), "Success": true,
	}, "pw")
	rec = post(valid)
	assert.Equal(t, "OK", rec.Body.String())

	got, err = orders.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderPaid, got.Status)

	rec = httptest.NewRecorder()
	h.HandleNotify(rec, httptest.NewRequest(http.MethodPost, "/payments/notify", strings.NewReader("not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
