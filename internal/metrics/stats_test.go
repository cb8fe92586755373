package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWindowSnapshot(t *testing.T) {
	var w Window
	w.Record(64, 20*time.Millisecond, 10*time.Millisecond, 1.2, 0.5)
	w.Record(64, 10*time.Millisecond, 20*time.Millisecond, 0.8, 0.75)
	snap := w.Snapshot()

	require.InDelta(t, 2133.3333, snap.ImagesPerSec, 1)
	require.InDelta(t, 15.0, snap.AvgDataMS, 1e-9)
	require.InDelta(t, 1.0, snap.AvgLoss, 1e-12)
	require.InDelta(t, 0.625, snap.AvgAccuracy, 1e-12)
	require.Equal(t, 0.8, snap.LastLoss)
	require.Equal(t, 2, snap.Steps)

	require.Zero(t, w.samples)
	require.Zero(t, w.steps)
	require.Equal(t, Snapshot{}, w.Snapshot())
}
