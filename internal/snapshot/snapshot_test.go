package snapshot

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradedash/internal/apperr"
	"tradedash/internal/venue"
	"tradedash/logger"
	"tradedash/models"
)

type venueStub struct {
	positionsStatus int
	positionsBody   string
	accountStatus   int
	accountBody     string
	calls           atomic.Int32
}

func (v *venueStub) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(venue.PositionsPath, func(w http.ResponseWriter, r *http.Request) {
		v.calls.Add(1)
		w.WriteHeader(v.positionsStatus)
		_, _ = w.Write([]byte(v.positionsBody))
	})
	mux.HandleFunc(venue.AccountPath, func(w http.ResponseWriter, r *http.Request) {
		v.calls.Add(1)
		w.WriteHeader(v.accountStatus)
		_, _ = w.Write([]byte(v.accountBody))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newFetcher(url string) *HTTPFetcher {
	return NewHTTPFetcher(url, venue.NewHTTPClient(2*time.Second, ""), logger.Logger())
}

func TestRefreshCommitsBothHalves(t *testing.T) {
	stub := &venueStub{
		positionsStatus: http.StatusOK,
		positionsBody:   `[{"symbol":"WINFUT","quantity":2,"avg_price":118450,"current_price":118500,"pnl":100}]`,
		accountStatus:   http.StatusOK,
		accountBody:     `{"balance":50000,"equity":52500,"margin":5000,"free_margin":47500,"margin_level":1050}`,
	}
	srv := stub.server(t)
	cache := NewCache()

	snap, err := cache.Refresh(context.Background(), newFetcher(srv.URL))
	require.NoError(t, err)
	require.True(t, cache.Loaded())
	require.Len(t, snap.Positions, 1)
	assert.Equal(t, "WINFUT", snap.Positions[0].Symbol)
	require.NotNil(t, snap.Account.Equity)
	assert.Equal(t, 52500.0, *snap.Account.Equity)
	assert.EqualValues(t, 2, stub.calls.Load())
}

func TestRefreshPartialFailureLeavesEmptyCache(t *testing.T) {
	stub := &venueStub{
		positionsStatus: http.StatusOK,
		positionsBody:   `[]`,
		accountStatus:   http.StatusInternalServerError,
		accountBody:     `{"detail":"boom"}`,
	}
	srv := stub.server(t)
	cache := NewCache()

	_, err := cache.Refresh(context.Background(), newFetcher(srv.URL))
	var fe *apperr.FetchError
	require.True(t, errors.As(err, &fe), "expected FetchError, got %v", err)
	assert.Equal(t, venue.AccountPath, fe.Endpoint)
	assert.Equal(t, http.StatusInternalServerError, fe.StatusCode)

	assert.False(t, cache.Loaded())
	snap := cache.Snapshot()
	assert.Empty(t, snap.Positions)
	assert.True(t, snap.Account.IsZero())
}

func TestRefreshPartialFailureRetainsPriorValue(t *testing.T) {
	cache := NewCache()
	prior := Snapshot{
		Account:   models.Account{Balance: models.Float(1000)},
		Positions: []models.Position{{Symbol: "PETR4", Quantity: 10}},
	}
	cache.Apply(prior)

	stub := &venueStub{
		positionsStatus: http.StatusOK,
		positionsBody:   `[]`,
		accountStatus:   http.StatusOK,
		accountBody:     `{"balance":`,
	}
	srv := stub.server(t)

	_, err := cache.Refresh(context.Background(), newFetcher(srv.URL))
	var de *apperr.DecodeError
	require.True(t, errors.As(err, &de), "expected DecodeError inside FetchError, got %v", err)

	snap := cache.Snapshot()
	require.Len(t, snap.Positions, 1)
	assert.Equal(t, "PETR4", snap.Positions[0].Symbol)
	assert.Equal(t, 1000.0, *snap.Account.Balance)
}

func TestFetchNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newFetcher(url).Fetch(context.Background())
	var fe *apperr.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Zero(t, fe.StatusCode)
}

func TestApplyReplacesPositionsWholesale(t *testing.T) {
	cache := NewCache()
	cache.Apply(Snapshot{Positions: []models.Position{{Symbol: "A"}, {Symbol: "B"}}})
	cache.Apply(Snapshot{Positions: []models.Position{{Symbol: "C"}}})

	snap := cache.Snapshot()
	require.Len(t, snap.Positions, 1)
	assert.Equal(t, "C", snap.Positions[0].Symbol)

	snap.Positions[0].Symbol = "mutated"
	assert.Equal(t, "C", cache.Snapshot().Positions[0].Symbol)
}

func TestFetchHonoursContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newFetcher(srv.URL).Fetch(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
