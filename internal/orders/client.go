package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"tradedash/internal/apperr"
	"tradedash/internal/metrics"
	"tradedash/internal/venue"
	"tradedash/logger"
	"tradedash/models"
)

const (
	component        = "order_client"
	clientOrderIDKey = "X-Client-Order-ID"
	maxResponseBytes = 1 << 20
)

// Client posts orders to the venue trade endpoint.
type Client struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	log     *logger.Log
	newID   func() string
}

// NewClient builds an order client. A non-positive ratePerSecond disables
// client side throttling.
func NewClient(baseURL string, client *http.Client, ratePerSecond float64, burst int) *Client {
	if client == nil {
		client = venue.NewHTTPClient(10*time.Second, "")
	}
	var limiter *rate.Limiter
	if ratePerSecond > 0 {
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), burst)
	}
	return &Client{
		baseURL: baseURL,
		client:  client,
		limiter: limiter,
		log:     logger.GetLogger(),
		newID:   uuid.NewString,
	}
}

// Submit validates and posts req. Any 2xx is success and the body is kept
// as-is in the receipt. Transport failures and other statuses come back as
// *apperr.FetchError.
func (c *Client) Submit(ctx context.Context, req models.OrderRequest) (models.OrderReceipt, error) {
	if err := req.Validate(); err != nil {
		return models.OrderReceipt{}, err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return models.OrderReceipt{}, fmt.Errorf("%w: %w", apperr.ErrRateLimited, err)
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return models.OrderReceipt{}, err
	}

	id := c.newID()
	log := c.log.WithComponent(component).WithFields(logger.Fields{
		"client_order_id": id,
		"symbol":          req.Symbol,
		"side":            req.Side,
		"quantity":        req.Quantity,
	})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, venue.Endpoint(c.baseURL, venue.TradePath), bytes.NewReader(body))
	if err != nil {
		return models.OrderReceipt{}, &apperr.FetchError{Endpoint: venue.TradePath, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(clientOrderIDKey, id)

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		log.WithError(err).Warn("order request failed")
		return models.OrderReceipt{}, &apperr.FetchError{Endpoint: venue.TradePath, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return models.OrderReceipt{}, &apperr.FetchError{Endpoint: venue.TradePath, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := &apperr.FetchError{
			Endpoint:   venue.TradePath,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("order rejected: %s", bytes.TrimSpace(raw)),
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			metrics.EmitMetric(c.log, component, "rate_limit_exceeded", 1, "counter", logger.Fields{"symbol": req.Symbol})
		}
		log.WithError(err).Warn("order rejected by venue")
		return models.OrderReceipt{}, err
	}

	receipt := models.OrderReceipt{ClientOrderID: id, StatusCode: resp.StatusCode}
	if json.Valid(raw) {
		receipt.Raw = json.RawMessage(raw)
	}
	logger.LogPerformanceEntry(log, component, "submit_order", time.Since(start), logger.Fields{"status": resp.StatusCode})
	log.Info("order accepted")
	return receipt, nil
}
