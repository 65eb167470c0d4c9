package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"tradedash/internal/apperr"
	"tradedash/internal/venue"
	"tradedash/logger"
	"tradedash/models"
)

// maxBodyBytes bounds how much of a snapshot response is read.
const maxBodyBytes = 4 << 20

// Snapshot is the authoritative account and position state from one fetch.
type Snapshot struct {
	Account   models.Account    `json:"account"`
	Positions []models.Position `json:"positions"`
	FetchedAt time.Time         `json:"fetched_at"`
}

// Source produces a complete snapshot or an error. The cache only ever sees
// whole snapshots.
type Source interface {
	Fetch(ctx context.Context) (Snapshot, error)
}

// HTTPFetcher reads positions and account from the venue snapshot service.
type HTTPFetcher struct {
	baseURL string
	client  *http.Client
	log     *logger.Log
}

func NewHTTPFetcher(baseURL string, client *http.Client, log *logger.Log) *HTTPFetcher {
	if client == nil {
		client = venue.NewHTTPClient(10*time.Second, "")
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &HTTPFetcher{baseURL: baseURL, client: client, log: log}
}

// Fetch issues both reads concurrently and waits for both. Any failure yields
// a *apperr.FetchError and no snapshot.
func (f *HTTPFetcher) Fetch(ctx context.Context) (Snapshot, error) {
	start := time.Now()
	var (
		positions []models.Position
		account   models.Account
	)

	// A failure on one side does not cancel the other; both outcomes are
	// awaited before anything is returned.
	var g errgroup.Group
	g.Go(func() error {
		return f.get(ctx, venue.PositionsPath, &positions)
	})
	g.Go(func() error {
		return f.get(ctx, venue.AccountPath, &account)
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	if positions == nil {
		positions = []models.Position{}
	}

	logger.LogPerformanceEntry(f.log.WithComponent("snapshot_fetcher"), "snapshot_fetcher", "fetch_snapshot", time.Since(start), logger.Fields{
		"positions": len(positions),
	})

	return Snapshot{Account: account, Positions: positions, FetchedAt: time.Now().UTC()}, nil
}

func (f *HTTPFetcher) get(ctx context.Context, path string, out interface{}) error {
	endpoint := venue.Endpoint(f.baseURL, path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &apperr.FetchError{Endpoint: path, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return &apperr.FetchError{Endpoint: path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &apperr.FetchError{Endpoint: path, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &apperr.FetchError{
			Endpoint:   path,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &apperr.FetchError{
			Endpoint:   path,
			StatusCode: resp.StatusCode,
			Err:        &apperr.DecodeError{Source: path, Err: err},
		}
	}
	return nil
}
