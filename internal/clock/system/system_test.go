package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	before := time.Now().Add(-time.Second)
	got := New().Now()
	after := time.Now().Add(time.Second)

	require.Equal(t, time.UTC, got.Location())
	require.True(t, got.After(before) && got.Before(after), "got %v", got)
}

func TestClockNowNonDecreasing(t *testing.T) {
	t.Parallel()

	clk := New()
	first := clk.Now()
	require.False(t, clk.Now().Before(first))
}
