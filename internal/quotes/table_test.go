package quotes

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradedash/models"
)

func TestMergeReplacesSameSymbol(t *testing.T) {
	tb := NewTable()
	tb.Apply(models.Tick{Symbol: "PETR4", Price: 30.5, Change: 1.2, Volume: 1000, Timestamp: "t1"})
	tb.Apply(models.Tick{Symbol: "PETR4", Price: 31.0, Change: 1.7, Volume: 1200, Timestamp: "t2"})

	require.Equal(t, 1, tb.Len())
	got, ok := tb.Get("PETR4")
	require.True(t, ok)
	assert.Equal(t, 31.0, got.Price)
	assert.Equal(t, "t2", got.Timestamp)
}

func TestMergeMovesUpdatedSymbolToEnd(t *testing.T) {
	current := []models.Tick{{Symbol: "WINFUT"}, {Symbol: "WDOFUT"}, {Symbol: "VALE3"}}
	out := Merge(current, models.Tick{Symbol: "WINFUT", Price: 2})

	symbols := make([]string, 0, len(out))
	for _, tk := range out {
		symbols = append(symbols, tk.Symbol)
	}
	assert.Equal(t, []string{"WDOFUT", "VALE3", "WINFUT"}, symbols)
}

func TestMergeDoesNotMutateInput(t *testing.T) {
	current := make([]models.Tick, 2, 8)
	current[0] = models.Tick{Symbol: "A", Price: 1}
	current[1] = models.Tick{Symbol: "B", Price: 2}

	out := Merge(current, models.Tick{Symbol: "A", Price: 3})
	assert.Equal(t, 1.0, current[0].Price)
	assert.Equal(t, "B", current[1].Symbol)
	assert.Len(t, current, 2)

	out[0].Price = 99
	assert.Equal(t, 1.0, current[0].Price)
	assert.Equal(t, 2.0, current[1].Price)
}

func TestMergeUniqueAndLastWins(t *testing.T) {
	symbols := []string{"WINFUT", "WDOFUT", "PETR4", "VALE3", "ITUB4"}
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 50; round++ {
		var seq []models.Tick
		last := map[string]models.Tick{}
		for i := 0; i < 200; i++ {
			tk := models.Tick{
				Symbol: symbols[rng.Intn(len(symbols))],
				Price:  rng.Float64() * 100,
				Volume: float64(rng.Intn(10000)),
			}
			seq = Merge(seq, tk)
			last[tk.Symbol] = tk
		}

		seen := map[string]bool{}
		for _, tk := range seq {
			require.False(t, seen[tk.Symbol], "duplicate symbol %s", tk.Symbol)
			seen[tk.Symbol] = true
			require.Equal(t, last[tk.Symbol], tk)
		}
		require.Len(t, seq, len(last))
	}
}
