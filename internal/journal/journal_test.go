package journal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryJournal(t *testing.T) {
	j := NewMemoryJournal()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	events := []Event{
		{Time: start, Type: "order", StrategyID: "s1", Description: "order_created"},
		{Time: start.Add(time.Hour), Type: "skip", StrategyID: "s2", Description: "insufficient_capital"},
		{Time: start.Add(2 * time.Hour), Type: "order", StrategyID: "s1", Description: "limit_fill"},
	}
	for _, e := range events {
		require.NoError(t, j.LogEvent(e))
	}

	t.Run("All preserves insertion order", func(t *testing.T) {
		all := j.All()
		require.Len(t, all, 3)
		assert.Equal(t, "order_created", all[0].Description)
		assert.Equal(t, "limit_fill", all[2].Description)
	})

	t.Run("Filter by type", func(t *testing.T) {
		got, err := j.GetEvents("order", time.Time{}, time.Time{})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("Filter by time window", func(t *testing.T) {
		got, err := j.GetEvents("", start.Add(30*time.Minute), start.Add(90*time.Minute))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "skip", got[0].Type)
	})
}
