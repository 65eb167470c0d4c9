package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	ErrMissingSymbol   = errors.New("symbol is required")
	ErrInvalidSide     = errors.New("side must be BUY or SELL")
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide accepts buy/sell in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSide, s)
	}
}

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderRequest is the body posted to the order service.
type OrderRequest struct {
	Symbol   string  `json:"symbol"`
	Side     Side    `json:"side"`
	Quantity float64 `json:"quantity"`
}

// Validate checks the request before it goes on the wire.
func (o OrderRequest) Validate() error {
	if strings.TrimSpace(o.Symbol) == "" {
		return ErrMissingSymbol
	}
	if !o.Side.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSide, string(o.Side))
	}
	if o.Quantity <= 0 || math.IsNaN(o.Quantity) || math.IsInf(o.Quantity, 0) {
		return ErrInvalidQuantity
	}
	return nil
}

// OrderReceipt records a successful submission. Raw is the untouched response body.
type OrderReceipt struct {
	ClientOrderID string          `json:"client_order_id"`
	StatusCode    int             `json:"status_code"`
	Raw           json.RawMessage `json:"raw,omitempty"`
}

// Execution decodes Raw as a trade execution when the venue returned one.
func (r OrderReceipt) Execution() (TradeExecution, bool) {
	if len(r.Raw) == 0 {
		return TradeExecution{}, false
	}
	var exec TradeExecution
	if err := json.Unmarshal(r.Raw, &exec); err != nil {
		return TradeExecution{}, false
	}
	return exec, exec.Symbol != ""
}
