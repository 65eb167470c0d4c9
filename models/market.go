package models

import (
	"encoding/json"
	"strings"
)

// Message types carried by the push channel envelope.
const (
	MessageTypeMarketData    = "market_data"
	MessageTypeTradeExecuted = "trade_executed"
)

// Envelope is the outer frame of every push channel message.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Tick is one price update for a single instrument. Symbol is the identity key.
type Tick struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Change    float64 `json:"change"`
	Volume    float64 `json:"volume"`
	Timestamp string  `json:"timestamp"`

	// Published by the venue simulator but not required.
	Bid           *float64 `json:"bid,omitempty"`
	Ask           *float64 `json:"ask,omitempty"`
	ChangePercent *float64 `json:"change_percent,omitempty"`
}

// DecodeTick parses the data section of a market_data envelope.
func DecodeTick(data json.RawMessage) (Tick, error) {
	var tick Tick
	if err := json.Unmarshal(data, &tick); err != nil {
		return Tick{}, err
	}
	tick.Symbol = strings.TrimSpace(tick.Symbol)
	if tick.Symbol == "" {
		return Tick{}, ErrMissingSymbol
	}
	return tick, nil
}

// TradeExecution is the payload of a trade_executed envelope and the usual
// body returned by the order service.
type TradeExecution struct {
	TradeID   int64   `json:"trade_id"`
	Symbol    string  `json:"symbol"`
	Side      Side    `json:"side"`
	Quantity  float64 `json:"quantity"`
	Price     float64 `json:"price"`
	Status    string  `json:"status"`
	Timestamp string  `json:"timestamp"`
}
