package quotes

import (
	"tradedash/models"
)

// Merge returns a new sequence holding every tick of current except the one
// sharing incoming's symbol, followed by incoming. Untouched ticks keep their
// relative order and the updated symbol moves to the end. current is never
// modified, so slices handed out earlier stay valid.
func Merge(current []models.Tick, incoming models.Tick) []models.Tick {
	out := make([]models.Tick, 0, len(current)+1)
	for _, t := range current {
		if t.Symbol == incoming.Symbol {
			continue
		}
		out = append(out, t)
	}
	return append(out, incoming)
}

// Table holds the latest tick per symbol. It is not safe for concurrent use;
// the sync coordinator owns it from a single goroutine.
type Table struct {
	ticks []models.Tick
}

func NewTable() *Table {
	return &Table{}
}

// Apply merges t into the table.
func (tb *Table) Apply(t models.Tick) {
	tb.ticks = Merge(tb.ticks, t)
}

// Snapshot returns the current sequence. The backing array is replaced on
// every Apply, so the result is safe to share read-only.
func (tb *Table) Snapshot() []models.Tick {
	return tb.ticks
}

func (tb *Table) Len() int {
	return len(tb.ticks)
}

// Get looks up the latest tick for symbol.
func (tb *Table) Get(symbol string) (models.Tick, bool) {
	for _, t := range tb.ticks {
		if t.Symbol == symbol {
			return t, true
		}
	}
	return models.Tick{}, false
}
