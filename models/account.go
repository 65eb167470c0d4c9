package models

// Position is one open position as reported by the snapshot service. Positions
// carry no identity key and are always replaced as a whole sequence.
type Position struct {
	Symbol       string  `json:"symbol"`
	Quantity     float64 `json:"quantity"`
	AvgPrice     float64 `json:"avg_price"`
	CurrentPrice float64 `json:"current_price"`
	PnL          float64 `json:"pnl"`
}

// Account holds the account equity figures. Every field is optional.
type Account struct {
	Balance     *float64 `json:"balance,omitempty"`
	Equity      *float64 `json:"equity,omitempty"`
	Margin      *float64 `json:"margin,omitempty"`
	FreeMargin  *float64 `json:"free_margin,omitempty"`
	MarginLevel *float64 `json:"margin_level,omitempty"`
}

// IsZero reports whether no account field is set.
func (a Account) IsZero() bool {
	return a.Balance == nil && a.Equity == nil && a.Margin == nil && a.FreeMargin == nil && a.MarginLevel == nil
}

// Clone returns a deep copy so callers can hand the value out without sharing pointers.
func (a Account) Clone() Account {
	return Account{
		Balance:     cloneFloat(a.Balance),
		Equity:      cloneFloat(a.Equity),
		Margin:      cloneFloat(a.Margin),
		FreeMargin:  cloneFloat(a.FreeMargin),
		MarginLevel: cloneFloat(a.MarginLevel),
	}
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// Float returns a pointer to v. Handy for building optional account fields.
func Float(v float64) *float64 {
	return &v
}
