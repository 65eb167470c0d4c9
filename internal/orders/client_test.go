package orders

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradedash/internal/apperr"
	"tradedash/internal/venue"
	"tradedash/models"
)

func TestSubmitPostsOrder(t *testing.T) {
	var (
		got     models.OrderRequest
		idSeen  string
		method  string
		urlPath string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		urlPath = r.URL.Path
		idSeen = r.Header.Get(clientOrderIDKey)
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"trade_id":1001,"symbol":"WINFUT","side":"BUY","quantity":1,"price":118500,"status":"FILLED","timestamp":"2024-01-02T10:00:00"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, venue.NewHTTPClient(time.Second, ""), 0, 0)
	c.newID = func() string { return "order-1" }

	receipt, err := c.Submit(context.Background(), models.OrderRequest{Symbol: "WINFUT", Side: models.SideBuy, Quantity: 1})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, venue.TradePath, urlPath)
	assert.Equal(t, "order-1", idSeen)
	assert.Equal(t, models.OrderRequest{Symbol: "WINFUT", Side: models.SideBuy, Quantity: 1}, got)
	assert.Equal(t, "order-1", receipt.ClientOrderID)

	exec, ok := receipt.Execution()
	require.True(t, ok)
	assert.EqualValues(t, 1001, exec.TradeID)
}

func TestSubmitOpaqueBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`queued`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, 0, 0)
	receipt, err := c.Submit(context.Background(), models.OrderRequest{Symbol: "PETR4", Side: models.SideSell, Quantity: 100})
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, receipt.StatusCode)
	assert.Empty(t, receipt.Raw)
	assert.NotEmpty(t, receipt.ClientOrderID)
}

func TestSubmitNon2xxIsFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "insufficient margin", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, 0, 0)
	_, err := c.Submit(context.Background(), models.OrderRequest{Symbol: "PETR4", Side: models.SideBuy, Quantity: 1})

	var fe *apperr.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusUnprocessableEntity, fe.StatusCode)
	assert.Contains(t, fe.Error(), "insufficient margin")
}

func TestSubmitValidatesBeforeSending(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ }))
	defer srv.Close()

	c := NewClient(srv.URL, nil, 0, 0)
	_, err := c.Submit(context.Background(), models.OrderRequest{Symbol: "PETR4", Side: "HOLD", Quantity: 1})
	assert.ErrorIs(t, err, models.ErrInvalidSide)
	assert.Zero(t, calls)
}

func TestSubmitRateLimiterHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, 0.001, 1)
	order := models.OrderRequest{Symbol: "VALE3", Side: models.SideBuy, Quantity: 1}
	_, err := c.Submit(context.Background(), order)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Submit(ctx, order)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrRateLimited)
	var fe *apperr.FetchError
	assert.False(t, errors.As(err, &fe), "limiter refusal is not a venue failure")
}
