package window

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestObserveCountsWithinWindow(t *testing.T) {
	c := NewInMemoryCounter()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		n, err := c.Observe(ctx, "actor-1:delete", time.Minute)
		require.NoError(t, err)
		require.Equal(t, i, n)
	}

	n, err := c.Count(ctx, "actor-1:delete", time.Minute)
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestKeysAreIndependent(t *testing.T) {
	c := NewInMemoryCounter()
	ctx := context.Background()

	_, err := c.Observe(ctx, "actor-1:delete", time.Minute)
	require.NoError(t, err)

	n, err := c.Count(ctx, "actor-2:delete", time.Minute)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestObservationsExpireWithTheWindow(t *testing.T) {
	c := NewInMemoryCounter()
	ctx := context.Background()

	base := time.Now()
	c.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		_, err := c.Observe(ctx, "k", time.Minute)
		require.NoError(t, err)
	}

	c.now = func() time.Time { return base.Add(30 * time.Second) }
	n, err := c.Count(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	c.now = func() time.Time { return base.Add(61 * time.Second) }
	n, err = c.Count(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.Equal(t, 0, n, "observations slide out after the window passes")

	// A fresh observation after expiry starts a new window.
	n, err = c.Observe(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestSlidingBoundaryIsExclusive(t *testing.T) {
	c := NewInMemoryCounter()
	ctx := context.Background()

	base := time.Now()
	c.now = func() time.Time { return base }
	_, err := c.Observe(ctx, "k", time.Minute)
	require.NoError(t, err)

	// Exactly one window later the old observation no longer counts.
	c.now = func() time.Time { return base.Add(time.Minute) }
	n, err := c.Count(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}
